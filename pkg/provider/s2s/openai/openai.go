// Package openai implements the s2s.Provider interface for OpenAI's Realtime API.
//
// It establishes a bidirectional WebSocket connection to the OpenAI Realtime
// endpoint and exchanges JSON events according to the Realtime API protocol.
// Audio is transmitted as base64-encoded 24 kHz PCM16 chunks; outbound frames
// in any other format are converted before sending. Server-side voice activity
// detection drives turn taking and barge-in.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxagent/pkg/audio"
	"github.com/MrWong99/voxagent/pkg/provider/s2s"
)

// Compile-time assertions that Provider and session satisfy the s2s interfaces.
var _ s2s.Provider = (*Provider)(nil)
var _ s2s.SessionHandle = (*session)(nil)

const (
	defaultModel              = "gpt-4o-realtime-preview"
	defaultBaseURL            = "wss://api.openai.com/v1/realtime"
	defaultTranscriptionModel = "whisper-1"

	// wireRate is the only PCM16 sample rate the Realtime API accepts.
	wireRate = 24000
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the OpenAI model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithTranscriptionModel sets the model used to transcribe the user's speech.
func WithTranscriptionModel(model string) Option {
	return func(p *Provider) { p.transcriptionModel = model }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements s2s.Provider for OpenAI's Realtime API.
type Provider struct {
	apiKey             string
	model              string
	baseURL            string
	transcriptionModel string
}

// New creates a new OpenAI Realtime Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:             apiKey,
		model:              defaultModel,
		baseURL:            defaultBaseURL,
		transcriptionModel: defaultTranscriptionModel,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Name returns "openai".
func (p *Provider) Name() string { return "openai" }

// Connect establishes a new OpenAI Realtime session and sends the initial
// session.update. The session reports readiness with an EventOpen once the
// server announces the session.
func (p *Provider) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	wsURL := fmt.Sprintf("%s?model=%s", p.baseURL, url.QueryEscape(p.model))

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + p.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai: dial: %w", err)
	}
	conn.SetReadLimit(16 << 20)

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:       conn,
		stream:     s2s.NewEventStream(),
		converter:  &audio.Converter{Target: audio.Format{SampleRate: wireRate, Channels: 1}},
		deltaItems: make(map[string]bool),
		ctx:        sessCtx,
		cancel:     sessCancel,
	}

	if err := sess.sendSessionUpdate(cfg, p.transcriptionModel); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "session update failed")
		return nil, fmt.Errorf("openai: session update: %w", err)
	}

	go sess.receiveLoop()

	return sess, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Modalities              []string             `json:"modalities"`
	Voice                   string               `json:"voice,omitempty"`
	Instructions            string               `json:"instructions,omitempty"`
	InputAudioFormat        string               `json:"input_audio_format"`
	OutputAudioFormat       string               `json:"output_audio_format"`
	InputAudioTranscription *transcriptionParams `json:"input_audio_transcription,omitempty"`
	TurnDetection           *turnDetectionParams `json:"turn_detection,omitempty"`
}

type transcriptionParams struct {
	Model string `json:"model"`
}

type turnDetectionParams struct {
	Type string `json:"type"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16
}

// serverErrorDetail represents the nested error object in an OpenAI Realtime
// error event: {"type":"error","error":{"type":"...","code":"...","message":"..."}}.
type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (e *serverErrorDetail) Error() string {
	msg := "unknown error"
	if e != nil && e.Message != "" {
		msg = e.Message
	}
	return "openai: " + msg
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverEvent struct {
	Type string `json:"type"`

	// response.audio.delta / response.audio_transcript.delta /
	// conversation.item.input_audio_transcription.delta
	Delta string `json:"delta,omitempty"`

	// conversation.item.input_audio_transcription.completed
	Transcript string `json:"transcript,omitempty"`
	ItemID     string `json:"item_id,omitempty"`

	// error event
	Error *serverErrorDetail `json:"error,omitempty"`
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn      *websocket.Conn
	stream    *s2s.EventStream
	converter *audio.Converter

	// deltaItems records input-transcription items for which incremental
	// deltas were received, so the completed event is not emitted twice.
	// Only touched by receiveLoop.
	deltaItems map[string]bool

	mu     sync.Mutex
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
}

// sendSessionUpdate sends a session.update event configuring voice,
// instructions, audio formats, transcription and server-side turn detection.
func (s *session) sendSessionUpdate(cfg s2s.SessionConfig, transcriptionModel string) error {
	params := sessionParams{
		Modalities:        []string{"audio", "text"},
		Voice:             cfg.Voice,
		Instructions:      cfg.Instructions,
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
		TurnDetection:     &turnDetectionParams{Type: "server_vad"},
	}
	if cfg.InputTranscription {
		params.InputAudioTranscription = &transcriptionParams{Model: transcriptionModel}
	}
	return s.writeJSON(sessionUpdateMessage{Type: "session.update", Session: params})
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("openai: marshal: %w", err)
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// receiveLoop reads events from the WebSocket and turns them into session
// events. It owns the event stream and finishes it when it exits.
func (s *session) receiveLoop() {
	var finalErr error
	defer func() { s.stream.Finish(finalErr) }()

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return
			}
			finalErr = fmt.Errorf("openai: read: %w", err)
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			slog.Debug("openai: skipping malformed event", "err", err)
			continue
		}

		if !s.handleServerEvent(&evt) {
			return
		}
	}
}

// handleServerEvent maps one Realtime event. It returns false when the
// session context ended while emitting.
func (s *session) handleServerEvent(evt *serverEvent) bool {
	switch evt.Type {
	case "session.created", "session.updated":
		s.stream.Open(s.ctx)

	case "response.audio.delta":
		data, err := base64.StdEncoding.DecodeString(evt.Delta)
		if err != nil || len(data) == 0 {
			return true
		}
		return s.stream.Message(s.ctx, &s2s.Message{Audio: [][]byte{data}})

	case "response.audio_transcript.delta":
		if evt.Delta == "" {
			return true
		}
		return s.stream.Message(s.ctx, &s2s.Message{OutputTranscript: evt.Delta})

	case "conversation.item.input_audio_transcription.delta":
		if evt.Delta == "" {
			return true
		}
		s.deltaItems[evt.ItemID] = true
		return s.stream.Message(s.ctx, &s2s.Message{InputTranscript: evt.Delta})

	case "conversation.item.input_audio_transcription.completed":
		if s.deltaItems[evt.ItemID] {
			delete(s.deltaItems, evt.ItemID)
			return true
		}
		if evt.Transcript == "" {
			return true
		}
		return s.stream.Message(s.ctx, &s2s.Message{InputTranscript: evt.Transcript})

	case "input_audio_buffer.speech_started":
		return s.stream.Message(s.ctx, &s2s.Message{Interrupted: true})

	case "response.done":
		return s.stream.Message(s.ctx, &s2s.Message{TurnComplete: true})

	case "error":
		detail := evt.Error
		if detail == nil {
			detail = &serverErrorDetail{}
		}
		return s.stream.Fail(s.ctx, detail)
	}
	return s.ctx.Err() == nil
}

// ── SessionHandle methods ──────────────────────────────────────────────────────

// SendAudio delivers one frame to the model, converting it to 24 kHz mono
// PCM16 first when necessary.
func (s *session) SendAudio(frame audio.AudioFrame) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("openai: session closed")
	}
	s.mu.Unlock()

	frame = s.converter.Convert(frame)
	if len(frame.Data) == 0 {
		return nil
	}
	return s.writeJSON(appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(frame.Data),
	})
}

// Events returns the channel on which session events arrive.
func (s *session) Events() <-chan s2s.Event { return s.stream.Events() }

// Err returns the first error that terminated or disrupted the session.
func (s *session) Err() error { return s.stream.Err() }

// Close terminates the session and releases all resources. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
