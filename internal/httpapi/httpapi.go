// Package httpapi exposes the session controller over HTTP.
//
// Routes:
//
//	POST /api/session/start     start a session
//	POST /api/session/stop      stop the current session
//	GET  /api/session           current state as JSON
//	PUT  /api/session/language  select the language for the next session
//	GET  /api/languages         selectable languages
//	GET  /api/session/events    WebSocket stream of state updates
//
// Every response body is JSON. Errors are reported as {"error": "..."} with a
// status derived from the session error taxonomy.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/voxagent/internal/session"
)

// writeTimeout bounds a single WebSocket write.
const writeTimeout = 5 * time.Second

// Controller is the subset of [session.Controller] the API drives.
type Controller interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Snapshot() session.State
	Subscribe() (<-chan session.State, func())
	Languages() []session.Language
	Language() session.Language
	SetLanguage(code string) error
}

var _ Controller = (*session.Controller)(nil)

// Option configures a [Server].
type Option func(*Server)

// WithLogger sets the logger. The default is [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithOriginPatterns sets the host patterns allowed to open the events
// WebSocket from a browser on another origin.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.origins = patterns }
}

// Server serves the control API.
type Server struct {
	ctrl    Controller
	log     *slog.Logger
	origins []string
}

// New returns a Server driving ctrl.
func New(ctrl Controller, opts ...Option) *Server {
	s := &Server{ctrl: ctrl, log: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Register adds the API routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/session/start", s.handleStart)
	mux.HandleFunc("POST /api/session/stop", s.handleStop)
	mux.HandleFunc("GET /api/session", s.handleState)
	mux.HandleFunc("PUT /api/session/language", s.handleSetLanguage)
	mux.HandleFunc("GET /api/languages", s.handleLanguages)
	mux.HandleFunc("GET /api/session/events", s.handleEvents)
}

type errorBody struct {
	Error string         `json:"error"`
	State *session.State `json:"state,omitempty"`
}

type languageRequest struct {
	Code string `json:"code"`
}

type languagesBody struct {
	Languages []session.Language `json:"languages"`
	Selected  string             `json:"selected"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Start(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.ctrl.Snapshot())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Stop(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

func (s *Server) handleSetLanguage(w http.ResponseWriter, r *http.Request) {
	var req languageRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil || req.Code == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: `body must be {"code": "<language code>"}`})
		return
	}
	if err := s.ctrl.SetLanguage(req.Code); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

func (s *Server) handleLanguages(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, languagesBody{
		Languages: s.ctrl.Languages(),
		Selected:  s.ctrl.Language().Code,
	})
}

// handleEvents upgrades to a WebSocket and pushes every state change until
// the client goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		s.log.Debug("httpapi: websocket accept", "err", err)
		return
	}
	defer conn.CloseNow()

	// Clients never send; CloseRead cancels ctx when they disconnect.
	ctx := conn.CloseRead(r.Context())

	updates, cancel := s.ctrl.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-updates:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, conn, st)
			wcancel()
			if err != nil {
				s.log.Debug("httpapi: websocket write", "err", err)
				return
			}
		}
	}
}

// writeError maps a session error to an HTTP status and writes it together
// with the current state.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Warn("httpapi: request failed", "err", err)
	}
	st := s.ctrl.Snapshot()
	writeJSON(w, status, errorBody{Error: err.Error(), State: &st})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrStateConflict):
		return http.StatusConflict
	case errors.Is(err, session.ErrUnknownLanguage):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, session.ErrNotConfigured):
		return http.StatusServiceUnavailable
	case errors.Is(err, session.ErrConnectFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"encoding failed"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}
