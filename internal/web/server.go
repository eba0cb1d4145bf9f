// Package web is the settings channel: a small JSON API and a websocket feed
// the UI uses to push settings and receive the current state.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/guidoenr/backdrop/internal/colors"
	"github.com/guidoenr/backdrop/internal/engine"
	"github.com/guidoenr/backdrop/internal/logger"
	"github.com/guidoenr/backdrop/internal/settings"
	"github.com/guidoenr/backdrop/internal/surface"
)

const (
	requestTimeout  = 5 * time.Second
	shutdownTimeout = 3 * time.Second
	maxBody         = 1 << 20
)

// Controller is the orchestrator surface the channel drives.
type Controller interface {
	State(ctx context.Context) (engine.State, error)
	UpdateSettings(ctx context.Context, mutate func(*settings.Settings) error) (settings.Settings, []string, error)
	TrackChanged(ctx context.Context, track engine.Track) error
	Navigate(ctx context.Context, page surface.Page) error
	SetVisible(ctx context.Context, key surface.Key, visible bool) error
	SetColors(ctx context.Context, palette colors.Palette) error
	ResetMemory(ctx context.Context, all bool) error
}

// Message is the websocket envelope in both directions.
type Message struct {
	Type     string          `json:"type"`
	Settings json.RawMessage `json:"settings,omitempty"`
	State    *engine.State   `json:"state,omitempty"`
	Clamped  []string        `json:"clamped,omitempty"`
	Error    string          `json:"error,omitempty"`
}

const (
	MessageState       = "state"
	MessageGetState    = "getState"
	MessageSettings    = "settings"
	MessageSettingsAck = "settingsApplied"
	MessageError       = "error"
)

// SettingsResponse answers a settings update.
type SettingsResponse struct {
	Settings settings.Settings `json:"settings"`
	Clamped  []string          `json:"clamped,omitempty"`
}

type visibilityRequest struct {
	Surface surface.Key `json:"surface"`
	Visible bool        `json:"visible"`
}

type navigateRequest struct {
	Page surface.Page `json:"page"`
}

type colorsRequest struct {
	Colors []string `json:"colors"`
}

// Server serves the API on its own mux.
type Server struct {
	ctrl     Controller
	log      *logger.Logger
	hub      *hub
	upgrader websocket.Upgrader
	mux      *http.ServeMux
}

// NewServer creates a server for ctrl.
func NewServer(ctrl Controller, log *logger.Logger) *Server {
	s := &Server{
		ctrl: ctrl,
		log:  log,
		hub:  newHub(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		mux: http.NewServeMux(),
	}
	s.mux.HandleFunc("/api/state", s.handleState)
	s.mux.HandleFunc("/api/settings", s.handleSettings)
	s.mux.HandleFunc("/api/track", s.handleTrack)
	s.mux.HandleFunc("/api/navigate", s.handleNavigate)
	s.mux.HandleFunc("/api/visibility", s.handleVisibility)
	s.mux.HandleFunc("/api/colors", s.handleColors)
	s.mux.HandleFunc("/api/reset", s.handleReset)
	s.mux.HandleFunc("/ws", s.handleWebSocket)
	return s
}

// Handler exposes the mux.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Clients reports how many websocket clients are connected.
func (s *Server) Clients() int {
	return s.hub.len()
}

// Publish broadcasts st to every websocket client. It never blocks.
func (s *Server) Publish(st engine.State) {
	data, err := json.Marshal(Message{Type: MessageState, State: &st})
	if err != nil {
		s.log.Error(err, "state encode failed")
		return
	}
	s.hub.broadcast(data)
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: requestTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.log.With("addr", ln.Addr().String()).Info("settings channel listening")

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.hub.closeAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	st, err := s.ctrl.State(r.Context())
	if err != nil {
		s.fail(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		st, err := s.ctrl.State(r.Context())
		if err != nil {
			s.fail(w, http.StatusServiceUnavailable, err)
			return
		}
		writeJSON(w, http.StatusOK, st.Settings)
	case http.MethodPost, http.MethodPut:
		body, err := readBody(w, r)
		if err != nil {
			s.fail(w, http.StatusBadRequest, err)
			return
		}
		resp, err := s.applySettings(r.Context(), body)
		if err != nil {
			s.fail(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	default:
		methodNotAllowed(w)
	}
}

// applySettings merges a partial snapshot over the current settings. The
// merge runs inside the controller so concurrent patches compose.
func (s *Server) applySettings(ctx context.Context, body []byte) (SettingsResponse, error) {
	clean, clamped, err := s.ctrl.UpdateSettings(ctx, func(next *settings.Settings) error {
		if err := json.Unmarshal(body, next); err != nil {
			return badRequest{fmt.Errorf("decode settings: %w", err)}
		}
		return nil
	})
	if err != nil {
		return SettingsResponse{}, err
	}
	return SettingsResponse{Settings: clean, Clamped: clamped}, nil
}

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var track engine.Track
	if err := decode(w, r, &track); err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	s.respond(w, s.ctrl.TrackChanged(r.Context(), track))
}

func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req navigateRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	if req.Page == "" {
		s.fail(w, http.StatusBadRequest, errors.New("page is required"))
		return
	}
	s.respond(w, s.ctrl.Navigate(r.Context(), req.Page))
}

func (s *Server) handleVisibility(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req visibilityRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	if !req.Surface.Valid() {
		s.fail(w, http.StatusBadRequest, fmt.Errorf("unknown surface %q", req.Surface))
		return
	}
	s.respond(w, s.ctrl.SetVisible(r.Context(), req.Surface, req.Visible))
}

func (s *Server) handleColors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req colorsRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	palette, err := colors.ParsePalette(req.Colors)
	if err != nil || len(palette) == 0 {
		if err == nil {
			err = errors.New("colors are required")
		}
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	s.respond(w, s.ctrl.SetColors(r.Context(), palette))
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	all, _ := strconv.ParseBool(r.URL.Query().Get("all"))
	s.respond(w, s.ctrl.ResetMemory(r.Context(), all))
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error(err, "websocket upgrade failed")
		return
	}
	c := &client{hub: s.hub, conn: conn, send: make(chan []byte, sendBuffer)}
	s.hub.add(c)
	s.log.With("remote", r.RemoteAddr).Debug("websocket client connected")

	go c.writePump()
	go c.readPump(s.handleMessage)

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	if st, err := s.ctrl.State(ctx); err == nil {
		s.reply(c, Message{Type: MessageState, State: &st})
	}
}

func (s *Server) handleMessage(c *client, data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		s.reply(c, Message{Type: MessageError, Error: "invalid message"})
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	switch msg.Type {
	case MessageGetState:
		st, err := s.ctrl.State(ctx)
		if err != nil {
			s.reply(c, Message{Type: MessageError, Error: err.Error()})
			return
		}
		s.reply(c, Message{Type: MessageState, State: &st})
	case MessageSettings:
		resp, err := s.applySettings(ctx, msg.Settings)
		if err != nil {
			s.reply(c, Message{Type: MessageError, Error: err.Error()})
			return
		}
		raw, err := json.Marshal(resp.Settings)
		if err != nil {
			s.reply(c, Message{Type: MessageError, Error: err.Error()})
			return
		}
		s.reply(c, Message{Type: MessageSettingsAck, Settings: raw, Clamped: resp.Clamped})
	default:
		s.reply(c, Message{Type: MessageError, Error: fmt.Sprintf("unknown message type %q", msg.Type)})
	}
}

func (s *Server) reply(c *client, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.log.Error(err, "message encode failed")
		return
	}
	if !s.hub.sendTo(c, data) {
		s.log.Debug("websocket reply dropped")
	}
}

func (s *Server) respond(w http.ResponseWriter, err error) {
	if err != nil {
		s.fail(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) fail(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.log.Error(err, "request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

type badRequest struct{ error }

func (e badRequest) Unwrap() error { return e.error }

func statusFor(err error) int {
	var bad badRequest
	switch {
	case errors.As(err, &bad):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrNotRunning), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	var raw json.RawMessage
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	return raw, nil
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	body, err := readBody(w, r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
