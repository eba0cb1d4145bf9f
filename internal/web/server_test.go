package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/guidoenr/backdrop/internal/colors"
	"github.com/guidoenr/backdrop/internal/engine"
	"github.com/guidoenr/backdrop/internal/settings"
	"github.com/guidoenr/backdrop/internal/surface"
)

type fakeController struct {
	mu       sync.Mutex
	state    engine.State
	track    engine.Track
	page     surface.Page
	visible  map[surface.Key]bool
	colors   colors.Palette
	resetAll *bool
	err      error
}

func newFakeController() *fakeController {
	return &fakeController{
		state:   engine.State{Settings: settings.Defaults(), Colors: colors.Palette{}},
		visible: make(map[surface.Key]bool),
	}
}

func (f *fakeController) State(context.Context) (engine.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state, f.err
}

func (f *fakeController) UpdateSettings(_ context.Context, mutate func(*settings.Settings) error) (settings.Settings, []string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return settings.Settings{}, nil, f.err
	}
	next := f.state.Settings
	if err := mutate(&next); err != nil {
		return settings.Settings{}, nil, err
	}
	clean, touched := next.Sanitize()
	f.state.Settings = clean
	return clean, touched, nil
}

func (f *fakeController) TrackChanged(_ context.Context, t engine.Track) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.track = t
	return f.err
}

func (f *fakeController) Navigate(_ context.Context, p surface.Page) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.page = p
	return f.err
}

func (f *fakeController) SetVisible(_ context.Context, k surface.Key, v bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.visible[k] = v
	return f.err
}

func (f *fakeController) SetColors(_ context.Context, p colors.Palette) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.colors = p
	return f.err
}

func (f *fakeController) ResetMemory(_ context.Context, all bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resetAll = &all
	return f.err
}

func (f *fakeController) locked(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn()
}

func setup(t *testing.T) (*Server, *fakeController, *httptest.Server) {
	t.Helper()
	ctrl := newFakeController()
	srv := NewServer(ctrl, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ctrl, ts
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestStateEndpoint(t *testing.T) {
	_, ctrl, ts := setup(t)
	ctrl.locked(func() { ctrl.state.Title = "Song" })

	resp, err := http.Get(ts.URL + "/api/state")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var st engine.State
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	require.Equal(t, "Song", st.Title)
	require.Equal(t, settings.Defaults(), st.Settings)

	resp2 := post(t, ts.URL+"/api/state", "{}")
	require.Equal(t, http.StatusMethodNotAllowed, resp2.StatusCode)
}

func TestSettingsMergeOverCurrent(t *testing.T) {
	_, ctrl, ts := setup(t)

	resp := post(t, ts.URL+"/api/settings", `{"variant":"warped-artwork","gradient":{"scale":50}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out SettingsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, settings.VariantWarpedArtwork, out.Settings.Variant)
	require.Equal(t, settings.Defaults().Gradient.Speed, out.Settings.Gradient.Speed)
	require.Less(t, out.Settings.Gradient.Scale, 50.0)
	require.NotEmpty(t, out.Clamped)
	ctrl.locked(func() { require.Equal(t, out.Settings, ctrl.state.Settings) })

	bad := post(t, ts.URL+"/api/settings", `{"variant":`)
	require.Equal(t, http.StatusBadRequest, bad.StatusCode)

	wrongType := post(t, ts.URL+"/api/settings", `{"enabled":"yes"}`)
	require.Equal(t, http.StatusBadRequest, wrongType.StatusCode)
}

func TestConcurrentSettingsPatchesCompose(t *testing.T) {
	_, ctrl, ts := setup(t)

	var wg sync.WaitGroup
	for _, body := range []string{`{"gradient":{"distortion":0.9}}`, `{"audio":{"beatThreshold":0.2}}`} {
		wg.Add(1)
		go func(body string) {
			defer wg.Done()
			resp, err := http.Post(ts.URL+"/api/settings", "application/json", strings.NewReader(body))
			if err == nil {
				resp.Body.Close()
			}
		}(body)
	}
	wg.Wait()

	ctrl.locked(func() {
		require.Equal(t, 0.9, ctrl.state.Settings.Gradient.Distortion)
		require.Equal(t, 0.2, ctrl.state.Settings.Audio.BeatThreshold)
	})
}

func TestEventEndpoints(t *testing.T) {
	_, ctrl, ts := setup(t)

	require.Equal(t, http.StatusOK, post(t, ts.URL+"/api/track", `{"artwork":"a.jpg","title":"T","author":"A"}`).StatusCode)
	ctrl.locked(func() { require.Equal(t, engine.Track{Artwork: "a.jpg", Title: "T", Author: "A"}, ctrl.track) })

	require.Equal(t, http.StatusOK, post(t, ts.URL+"/api/navigate", `{"page":"album"}`).StatusCode)
	ctrl.locked(func() { require.Equal(t, surface.PageAlbum, ctrl.page) })
	require.Equal(t, http.StatusBadRequest, post(t, ts.URL+"/api/navigate", `{}`).StatusCode)

	require.Equal(t, http.StatusOK, post(t, ts.URL+"/api/visibility", `{"surface":"browse-b","visible":false}`).StatusCode)
	ctrl.locked(func() {
		v, ok := ctrl.visible[surface.BrowseB]
		require.True(t, ok)
		require.False(t, v)
	})
	require.Equal(t, http.StatusBadRequest, post(t, ts.URL+"/api/visibility", `{"surface":"nope"}`).StatusCode)

	require.Equal(t, http.StatusOK, post(t, ts.URL+"/api/colors", `{"colors":["#ff0000","00ff00"]}`).StatusCode)
	ctrl.locked(func() { require.Equal(t, colors.Palette{colors.RGB(255, 0, 0), colors.RGB(0, 255, 0)}, ctrl.colors) })
	require.Equal(t, http.StatusBadRequest, post(t, ts.URL+"/api/colors", `{"colors":["nothex"]}`).StatusCode)
	require.Equal(t, http.StatusBadRequest, post(t, ts.URL+"/api/colors", `{"colors":[]}`).StatusCode)

	require.Equal(t, http.StatusOK, post(t, ts.URL+"/api/reset?all=true", "").StatusCode)
	ctrl.locked(func() {
		require.NotNil(t, ctrl.resetAll)
		require.True(t, *ctrl.resetAll)
	})
}

func TestStoppedControllerIsUnavailable(t *testing.T) {
	_, ctrl, ts := setup(t)
	ctrl.locked(func() { ctrl.err = engine.ErrNotRunning })

	resp, err := http.Get(ts.URL + "/api/state")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestWebSocketStateAndSettings(t *testing.T) {
	srv, ctrl, ts := setup(t)
	ctrl.locked(func() { ctrl.state.Title = "Hello" })
	conn := dial(t, ts)

	first := readMessage(t, conn)
	require.Equal(t, MessageState, first.Type)
	require.Equal(t, "Hello", first.State.Title)
	require.Eventually(t, func() bool { return srv.Clients() == 1 }, time.Second, 5*time.Millisecond)

	srv.Publish(engine.State{Title: "Broadcast"})
	pushed := readMessage(t, conn)
	require.Equal(t, "Broadcast", pushed.State.Title)

	require.NoError(t, conn.WriteJSON(Message{Type: MessageSettings, Settings: json.RawMessage(`{"enabled":false}`)}))
	ack := readMessage(t, conn)
	require.Equal(t, MessageSettingsAck, ack.Type)
	var applied settings.Settings
	require.NoError(t, json.Unmarshal(ack.Settings, &applied))
	require.False(t, applied.Enabled)

	require.NoError(t, conn.WriteJSON(Message{Type: MessageGetState}))
	st := readMessage(t, conn)
	require.Equal(t, MessageState, st.Type)
	require.False(t, st.State.Settings.Enabled)

	require.NoError(t, conn.WriteJSON(Message{Type: "dance"}))
	require.Equal(t, MessageError, readMessage(t, conn).Type)

	conn.Close()
	require.Eventually(t, func() bool { return srv.Clients() == 0 }, time.Second, 5*time.Millisecond)
}

func TestServeStopsOnCancel(t *testing.T) {
	srv := NewServer(newFakeController(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx, "127.0.0.1:0") }()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}
