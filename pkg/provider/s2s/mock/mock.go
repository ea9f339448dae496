// Package mock provides test doubles for the s2s package interfaces.
//
// Use Provider to verify Connect calls and hand out controllable sessions.
// Use Session to script the inbound event stream (Open, Send, Fail, End) and
// inspect the frames the code under test sent.
//
// Example:
//
//	p := &mock.Provider{}
//	handle, _ := p.Connect(ctx, cfg)
//	sess := p.LastSession()
//	sess.Open()
//	sess.Send(&s2s.Message{OutputTranscript: "Hello"})
//	sess.End(nil)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxagent/pkg/audio"
	"github.com/MrWong99/voxagent/pkg/provider/s2s"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Cfg is the SessionConfig passed to Connect.
	Cfg s2s.SessionConfig
}

// Provider is a mock implementation of s2s.Provider.
type Provider struct {
	mu sync.Mutex

	// Session, if non-nil, is returned by every Connect. Otherwise each
	// Connect creates a fresh Session with NewSession.
	Session *Session

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// Gate, if non-nil, makes Connect block until a value is received or the
	// channel is closed. The context is deliberately ignored so tests can
	// model a connect that resolves after the caller gave up on it.
	Gate chan struct{}

	// ProviderName is returned by Name. Defaults to "mock".
	ProviderName string

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall

	sessions []*Session
}

// Connect records the call and returns a session or ConnectErr.
func (p *Provider) Connect(_ context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	p.mu.Lock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Cfg: cfg})
	gate := p.Gate
	p.mu.Unlock()

	if gate != nil {
		<-gate
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	sess := p.Session
	if sess == nil {
		sess = NewSession()
	}
	p.sessions = append(p.sessions, sess)
	return sess, nil
}

// Name returns ProviderName or "mock".
func (p *Provider) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ProviderName == "" {
		return "mock"
	}
	return p.ProviderName
}

// Calls returns the number of Connect invocations so far.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ConnectCalls)
}

// Sessions returns every session handed out by Connect, in order.
func (p *Provider) Sessions() []*Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Session, len(p.sessions))
	copy(out, p.sessions)
	return out
}

// LastSession returns the most recent session handed out, or nil.
func (p *Provider) LastSession() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.sessions) == 0 {
		return nil
	}
	return p.sessions[len(p.sessions)-1]
}

// Ensure Provider implements s2s.Provider at compile time.
var _ s2s.Provider = (*Provider)(nil)

// Session is a mock implementation of s2s.SessionHandle backed by a real
// [s2s.EventStream]. Close finishes the stream the way real providers do.
type Session struct {
	mu sync.Mutex

	stream *s2s.EventStream
	ctx    context.Context
	cancel context.CancelFunc

	// emitMu serialises producers so End never races a pending Send.
	emitMu sync.Mutex

	// SendAudioErr, if non-nil, is returned by SendAudio.
	SendAudioErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// CloseGate, if non-nil, makes Close block until a value is received or
	// the channel is closed. Set it before the session is handed out.
	CloseGate chan struct{}

	// SendAudioCalls records every frame passed to SendAudio.
	SendAudioCalls []audio.AudioFrame

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// NewSession returns a Session with an open event stream.
func NewSession() *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{stream: s2s.NewEventStream(), ctx: ctx, cancel: cancel}
}

// Open emits EventOpen.
func (s *Session) Open() bool {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	return s.stream.Open(s.ctx)
}

// Send emits an EventMessage carrying m.
func (s *Session) Send(m *s2s.Message) bool {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	return s.stream.Message(s.ctx, m)
}

// Fail emits an EventError without ending the session.
func (s *Session) Fail(err error) bool {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	return s.stream.Fail(s.ctx, err)
}

// End finishes the stream as if the remote side hung up: an EventError first
// when err is non-nil, then EventClose.
func (s *Session) End(err error) {
	s.cancel()
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	s.stream.Finish(err)
}

// SendAudio records the frame and returns SendAudioErr.
func (s *Session) SendAudio(frame audio.AudioFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SendAudioCalls = append(s.SendAudioCalls, frame)
	return s.SendAudioErr
}

// Frames returns a copy of the frames sent so far.
func (s *Session) Frames() []audio.AudioFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audio.AudioFrame, len(s.SendAudioCalls))
	copy(out, s.SendAudioCalls)
	return out
}

// Events returns the scripted event stream.
func (s *Session) Events() <-chan s2s.Event { return s.stream.Events() }

// Err returns the error recorded on the stream.
func (s *Session) Err() error { return s.stream.Err() }

// Close records the call, finishes the stream and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	s.CloseCallCount++
	err := s.CloseErr
	gate := s.CloseGate
	s.mu.Unlock()

	if gate != nil {
		<-gate
	}
	s.End(nil)
	return err
}

// Closes returns the number of Close calls so far.
func (s *Session) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCallCount
}

// Ensure Session implements s2s.SessionHandle at compile time.
var _ s2s.SessionHandle = (*Session)(nil)
