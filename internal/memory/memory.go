// Package memory persists per-artwork palette overrides with bounded size,
// least-recently-used eviction and debounced writes.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/guidoenr/backdrop/internal/colors"
	"github.com/guidoenr/backdrop/internal/logger"
)

const (
	// DefaultCapacity bounds the number of remembered items.
	DefaultCapacity = 50
	// DefaultDelay is the debounce window for saves.
	DefaultDelay = time.Second
	// DefaultKey is the store key holding the record map.
	DefaultKey = "albumMemory"

	writeTimeout = 5 * time.Second
)

// Store is the asynchronous key-value collaborator.
type Store interface {
	Get(ctx context.Context, key string) (json.RawMessage, bool, error)
	Set(ctx context.Context, key string, value json.RawMessage) error
	Remove(ctx context.Context, key string) error
}

// Options configures a Memory.
type Options struct {
	Capacity  int
	Delay     time.Duration
	Key       string
	Scheduler Scheduler
	Now       func() time.Time
	Log       *logger.Logger
}

// Entry pairs a record with its identifier for listings.
type Entry struct {
	ID string `json:"id"`
	Record
}

type pendingSave struct {
	colors colors.Palette
	manual bool
	at     time.Time
}

// Memory owns the record map. All mutation goes through its methods.
type Memory struct {
	store    Store
	key      string
	capacity int
	now      func() time.Time
	log      *logger.Logger
	debounce *Debouncer

	// writeMu serializes store writes with Clear and Reset.
	writeMu sync.Mutex

	mu      sync.Mutex
	loaded  bool
	records map[string]Record
	pending map[string]pendingSave
}

// New creates a Memory backed by store.
func New(store Store, opts Options) *Memory {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.Delay <= 0 {
		opts.Delay = DefaultDelay
	}
	if opts.Key == "" {
		opts.Key = DefaultKey
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Memory{
		store:    store,
		key:      opts.Key,
		capacity: opts.Capacity,
		now:      opts.Now,
		log:      opts.Log,
		debounce: NewDebouncer(opts.Delay, opts.Scheduler),
		records:  make(map[string]Record),
		pending:  make(map[string]pendingSave),
	}
}

// Load returns the record for an artwork reference and marks it as accessed.
// Store failures are logged and reported as a miss.
func (m *Memory) Load(ctx context.Context, ref string) (Record, bool) {
	id := NormalizeID(ref)
	if id == "" {
		return Record{}, false
	}
	if err := m.ensureLoaded(ctx); err != nil {
		m.log.With("item", id).Error(err, "album memory load failed")
		return Record{}, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if p, queued := m.pending[id]; queued {
		rec = mergePending(rec, p)
		ok = true
	}
	if !ok {
		return Record{}, false
	}
	rec.LastAccessed = m.now()
	if stored, exists := m.records[id]; exists {
		stored.LastAccessed = rec.LastAccessed
		m.records[id] = stored
	}
	rec.Colors = rec.Colors.Clone()
	return rec, true
}

// Save queues an update for ref. Calls within the debounce window collapse
// into one write with the latest colors; a manual flag set by any of them sticks.
func (m *Memory) Save(ref string, palette colors.Palette, manual bool) {
	id := NormalizeID(ref)
	if id == "" || len(palette) == 0 {
		return
	}

	m.mu.Lock()
	p := m.pending[id]
	p.colors = palette.Clone()
	p.manual = p.manual || manual
	p.at = m.now()
	m.pending[id] = p
	m.mu.Unlock()

	m.debounce.Trigger(m.writeDeferred)
}

// Flush writes any queued saves immediately. It also waits for a deferred
// write that is already running.
func (m *Memory) Flush(ctx context.Context) error {
	m.debounce.Cancel()
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.mu.Lock()
	queued := len(m.pending)
	m.mu.Unlock()
	if queued == 0 {
		return nil
	}
	return m.writeLocked(ctx)
}

// Clear forgets every record, including hand-picked ones.
func (m *Memory) Clear(ctx context.Context) error {
	m.debounce.Cancel()
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.mu.Lock()
	m.records = make(map[string]Record)
	m.pending = make(map[string]pendingSave)
	m.loaded = true
	m.mu.Unlock()

	if err := m.store.Remove(ctx, m.key); err != nil {
		return fmt.Errorf("clear album memory: %w", err)
	}
	m.log.Info("album memory cleared")
	return nil
}

// Reset forgets one item so its manual flag no longer applies.
func (m *Memory) Reset(ctx context.Context, ref string) error {
	id := NormalizeID(ref)
	if err := m.ensureLoaded(ctx); err != nil {
		return err
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.mu.Lock()
	_, known := m.records[id]
	_, queued := m.pending[id]
	delete(m.records, id)
	delete(m.pending, id)
	m.mu.Unlock()
	if !known && !queued {
		return nil
	}
	return m.writeLocked(ctx)
}

// Entries lists records, most recently accessed first.
func (m *Memory) Entries(ctx context.Context) ([]Entry, error) {
	if err := m.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, 0, len(m.records))
	for id, rec := range m.records {
		out = append(out, Entry{ID: id, Record: rec})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastAccessed.Equal(out[j].LastAccessed) {
			return out[i].ID < out[j].ID
		}
		return out[i].LastAccessed.After(out[j].LastAccessed)
	})
	return out, nil
}

func (m *Memory) writeDeferred() {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := m.persist(ctx); err != nil {
		m.log.Error(err, "album memory save skipped")
	}
}

func (m *Memory) persist(ctx context.Context) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return m.writeLocked(ctx)
}

// writeLocked folds pending saves into the records and writes them. The
// caller holds writeMu.
func (m *Memory) writeLocked(ctx context.Context) error {
	if err := m.ensureLoaded(ctx); err != nil {
		m.mu.Lock()
		m.pending = make(map[string]pendingSave)
		m.mu.Unlock()
		return err
	}

	m.mu.Lock()
	for id, p := range m.pending {
		m.records[id] = mergePending(m.records[id], p)
	}
	m.pending = make(map[string]pendingSave)
	evicted := m.evictLocked()
	data, err := json.Marshal(m.records)
	count := len(m.records)
	m.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encode album memory: %w", err)
	}

	if err := m.store.Set(ctx, m.key, data); err != nil {
		return fmt.Errorf("write album memory: %w", err)
	}
	m.log.WithFields(map[string]any{"records": count, "evicted": evicted}).Debug("album memory written")
	return nil
}

func (m *Memory) ensureLoaded(ctx context.Context) error {
	m.mu.Lock()
	loaded := m.loaded
	m.mu.Unlock()
	if loaded {
		return nil
	}

	raw, ok, err := m.store.Get(ctx, m.key)
	if err != nil {
		return fmt.Errorf("read album memory: %w", err)
	}
	decoded := make(map[string]Record)
	if ok && len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			m.log.Error(err, "album memory corrupt, starting empty")
			decoded = make(map[string]Record)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.loaded {
		for id, rec := range decoded {
			if _, exists := m.records[id]; !exists {
				m.records[id] = rec
			}
		}
		m.loaded = true
	}
	return nil
}

func (m *Memory) evictLocked() []string {
	var evicted []string
	for len(m.records) > m.capacity {
		oldestID := ""
		var oldest time.Time
		for id, rec := range m.records {
			if oldestID == "" || rec.LastAccessed.Before(oldest) ||
				(rec.LastAccessed.Equal(oldest) && id < oldestID) {
				oldestID = id
				oldest = rec.LastAccessed
			}
		}
		delete(m.records, oldestID)
		evicted = append(evicted, oldestID)
	}
	return evicted
}

func mergePending(rec Record, p pendingSave) Record {
	rec.Colors = p.colors.Clone()
	rec.ManuallyModified = rec.ManuallyModified || p.manual
	rec.LastAccessed = p.at
	return rec
}
