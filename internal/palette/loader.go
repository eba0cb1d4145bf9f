package palette

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	_ "golang.org/x/image/webp"
)

const (
	defaultMaxBytes = 8 << 20
	defaultRetries  = 2
	defaultBackoff  = 250 * time.Millisecond
)

// HTTPLoader fetches artwork over HTTP(S) or from local paths and decodes
// JPEG, PNG, GIF and WebP.
type HTTPLoader struct {
	Client   *http.Client
	MaxBytes int64
	Retries  int
	Backoff  time.Duration
}

// NewHTTPLoader returns a loader with sane limits.
func NewHTTPLoader(client *http.Client) *HTTPLoader {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPLoader{
		Client:   client,
		MaxBytes: defaultMaxBytes,
		Retries:  defaultRetries,
		Backoff:  defaultBackoff,
	}
}

// Load implements Loader.
func (l *HTTPLoader) Load(ctx context.Context, ref string) (image.Image, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("parse artwork ref: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
		return l.fetch(ctx, ref)
	case "file":
		return decodeFile(u.Path)
	case "":
		return decodeFile(ref)
	default:
		return nil, fmt.Errorf("unsupported artwork scheme %q", u.Scheme)
	}
}

func (l *HTTPLoader) fetch(ctx context.Context, ref string) (image.Image, error) {
	var lastErr error
	for attempt := 0; attempt <= l.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(l.Backoff):
			}
		}
		img, retry, err := l.fetchOnce(ctx, ref)
		if err == nil {
			return img, nil
		}
		lastErr = err
		if !retry || ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

func (l *HTTPLoader) fetchOnce(ctx context.Context, ref string) (image.Image, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, false, err
	}
	resp, err := l.Client.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("fetch artwork: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("fetch artwork: status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("fetch artwork: status %d", resp.StatusCode)
	}

	img, _, err := image.Decode(io.LimitReader(resp.Body, l.MaxBytes))
	if err != nil {
		return nil, false, fmt.Errorf("decode artwork: %w", err)
	}
	return img, false, nil
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open artwork: %w", err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode artwork: %w", err)
	}
	return img, nil
}
