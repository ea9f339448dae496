// Package session drives one real-time voice conversation at a time.
//
// A [Controller] acquires the microphone and speaker, opens a channel to the
// remote agent and routes everything that comes back: agent audio goes to a
// [playback.Scheduler], transcript deltas to a [transcript.Aggregator], and
// lifecycle events into the [Status] state machine. It is the only surface the
// presentation layer talks to.
//
// Each Start creates a fresh sessionRun holding the devices, scheduler,
// encoder and channel handle of that session. Callbacks carry their run and
// are ignored once it has been torn down, so a late event from a previous
// session can never touch the current one.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/voxagent/internal/capture"
	"github.com/MrWong99/voxagent/internal/observe"
	"github.com/MrWong99/voxagent/internal/playback"
	"github.com/MrWong99/voxagent/internal/transcript"
	"github.com/MrWong99/voxagent/pkg/audio"
	"github.com/MrWong99/voxagent/pkg/provider/s2s"
)

// Sentinel errors. Returned errors wrap them; use [errors.Is].
var (
	// ErrPermissionDenied means the microphone could not be acquired.
	ErrPermissionDenied = errors.New("session: microphone permission denied")

	// ErrConnectFailure means the remote channel rejected the connection.
	ErrConnectFailure = errors.New("session: connect failed")

	// ErrRuntimeChannel means the remote channel reported an error after
	// the session started.
	ErrRuntimeChannel = errors.New("session: channel error")

	// ErrStateConflict is returned by Start while a session is active.
	ErrStateConflict = errors.New("session: a session is already active")

	// ErrUnknownLanguage is returned by SetLanguage for codes not on the list.
	ErrUnknownLanguage = errors.New("session: unknown language")

	// ErrNotConfigured is returned by Start when the controller has no usable
	// agent client, typically because no API key was provided.
	ErrNotConfigured = errors.New("session: agent client not initialized")
)

// CaptureSampleRate is the microphone rate announced to the remote agent.
const CaptureSampleRate = 16000

// subscriberBuffer is the per-subscriber state channel capacity. Slow
// subscribers lose intermediate states, never the latest one.
const subscriberBuffer = 16

// Option configures a [Controller].
type Option func(*Controller)

// WithLanguages replaces the selectable languages. An empty list is ignored.
func WithLanguages(langs []Language) Option {
	return func(c *Controller) {
		if len(langs) > 0 {
			c.languages = append([]Language(nil), langs...)
		}
	}
}

// WithLanguage selects the initial language by code.
func WithLanguage(code string) Option {
	return func(c *Controller) { c.language = code }
}

// WithInstructions sets the system instruction template. The
// [LanguagePlaceholder] is replaced by the selected language name.
func WithInstructions(tmpl string) Option {
	return func(c *Controller) {
		if tmpl != "" {
			c.instructions = tmpl
		}
	}
}

// WithVoice selects the agent's synthesis voice.
func WithVoice(voice string) Option {
	return func(c *Controller) { c.voice = voice }
}

// WithFrameSize sets the capture frame size in samples.
func WithFrameSize(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.frameSize = n
		}
	}
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// WithUnavailable puts the controller in the ERROR status with reason as the
// error message. Start then fails with [ErrNotConfigured].
func WithUnavailable(reason string) Option {
	return func(c *Controller) { c.unavailable = reason }
}

// Controller owns the session lifecycle and the status state machine.
// All methods are safe for concurrent use.
type Controller struct {
	backend   audio.Backend
	provider  s2s.Provider
	languages []Language
	voice     string
	frameSize int
	metrics   *observe.Metrics
	log       *slog.Logger

	transcript *transcript.Aggregator

	mu           sync.Mutex
	status       Status
	errMsg       string
	err          error
	language     string
	instructions string
	unavailable  string
	epoch        uint64
	run          *sessionRun
	subs         map[uint64]chan State
	nextSub      uint64
	closed       bool
}

// sessionRun is everything owned by one Start..teardown cycle. The device,
// scheduler, encoder and handle fields are written under Controller.mu and
// only while the run is live.
type sessionRun struct {
	epoch     uint64
	id        string
	ctx       context.Context
	cancel    context.CancelFunc
	log       *slog.Logger
	startedAt time.Time

	mic       audio.Microphone
	sink      audio.Sink
	scheduler *playback.Scheduler
	encoder   *capture.Encoder
	handle    s2s.SessionHandle
	closing   bool
	// done is closed once teardown has settled the status.
	done chan struct{}
}

// endReason describes a failure that ends a session.
type endReason struct {
	err     error
	kind    string
	message string
}

// New returns a Controller that opens devices from backend and connects
// through provider. A nil provider leaves the controller unavailable.
func New(backend audio.Backend, provider s2s.Provider, opts ...Option) *Controller {
	c := &Controller{
		backend:      backend,
		provider:     provider,
		languages:    append([]Language(nil), DefaultLanguages...),
		frameSize:    capture.DefaultFrameSize,
		instructions: DefaultInstructions,
		log:          slog.Default(),
		transcript:   transcript.NewAggregator(),
		subs:         make(map[uint64]chan State),
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	if l, ok := findLanguage(c.languages, c.language); ok {
		c.language = l.Code
	} else {
		if c.language != "" {
			c.log.Warn("session: unknown language, using default", "code", c.language, "default", c.languages[0].Code)
		}
		c.language = c.languages[0].Code
	}
	if c.provider == nil && c.unavailable == "" {
		c.unavailable = "no agent provider configured."
	}
	if c.unavailable != "" {
		c.status = StatusError
		c.errMsg = c.unavailable
		c.err = ErrNotConfigured
	}
	return c
}

// Start begins a session. It returns after the devices are acquired; the
// remote connection completes in the background and is observable through
// [Controller.Snapshot] and [Controller.Subscribe].
//
// Start fails with [ErrStateConflict] while a session is active, leaving it
// untouched, and with an error wrapping [ErrPermissionDenied] when the
// microphone cannot be opened.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.unavailable != "" {
		c.err = ErrNotConfigured
		c.errMsg = "AI client not initialized."
		c.setStatusLocked(ctx, StatusError)
		c.broadcastLocked()
		c.mu.Unlock()
		return ErrNotConfigured
	}
	if c.run != nil {
		id := c.run.id
		c.mu.Unlock()
		return fmt.Errorf("%w (id=%s)", ErrStateConflict, id)
	}

	c.epoch++
	id := ulid.Make().String()
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	run := &sessionRun{
		epoch:     c.epoch,
		id:        id,
		ctx:       runCtx,
		cancel:    cancel,
		log:       c.log.With(slog.String("session_id", id)),
		startedAt: time.Now().UTC(),
		done:      make(chan struct{}),
	}
	c.run = run
	c.err, c.errMsg = nil, ""
	c.transcript.Reset()
	c.setStatusLocked(ctx, StatusConnecting)
	lang, _ := findLanguage(c.languages, c.language)
	cfg := s2s.SessionConfig{
		Instructions:        BuildInstructions(c.instructions, lang.Name),
		Voice:               c.voice,
		InputFormat:         audio.Format{SampleRate: CaptureSampleRate, Channels: 1},
		OutputFormat:        audio.Format{SampleRate: playback.SampleRate, Channels: playback.Channels},
		InputTranscription:  true,
		OutputTranscription: true,
	}
	c.broadcastLocked()
	c.mu.Unlock()

	c.metrics.RecordSessionStarted(ctx, c.provider.Name())
	c.metrics.ActiveSessions.Add(ctx, 1)
	run.log.Info("session: starting", "provider", c.provider.Name(), "language", lang.Code, "epoch", run.epoch)

	mic, err := c.backend.OpenMicrophone(runCtx, cfg.InputFormat)
	if err != nil {
		wrapped := fmt.Errorf("%w: %w", ErrPermissionDenied, err)
		c.fail(run, endReason{err: wrapped, kind: "permission_denied", message: "Failed to start session: " + err.Error()})
		return wrapped
	}
	if !c.attach(run, func() { run.mic = mic }) {
		_ = mic.Close()
		return nil
	}

	sink, err := c.backend.OpenSink(runCtx, cfg.OutputFormat)
	if err != nil {
		wrapped := fmt.Errorf("session: open speaker: %w", err)
		c.fail(run, endReason{err: wrapped, kind: "device", message: "Failed to start session: " + err.Error()})
		return wrapped
	}
	sched := playback.New(sink,
		playback.WithOnActive(func(playback.Source) { c.onPlaybackActive(run) }),
		playback.WithOnDrained(func() { c.onPlaybackDrained(run) }),
		playback.WithLogger(run.log),
	)
	if !c.attach(run, func() { run.sink, run.scheduler = sink, sched }) {
		_ = sink.Close()
		return nil
	}

	go c.connect(run, cfg)
	return nil
}

// attach runs set under the lock if run is still live.
func (c *Controller) attach(run *sessionRun, set func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.liveLocked(run) {
		run.log.Debug("session: stopped while starting")
		return false
	}
	set()
	return true
}

// connect dials the remote agent and then dispatches its events until the
// channel closes. A connection that resolves after the run was torn down is
// closed immediately.
func (c *Controller) connect(run *sessionRun, cfg s2s.SessionConfig) {
	ctx, span := observe.StartSpan(run.ctx, "session.connect",
		trace.WithAttributes(
			attribute.String("session.id", run.id),
			attribute.String("provider", c.provider.Name()),
		),
	)
	log := observe.Logger(ctx, run.log)
	handle, err := c.provider.Connect(ctx, cfg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Warn("session: connect failed", "err", err)
	} else {
		log.Debug("session: channel connected")
	}
	span.End()

	c.mu.Lock()
	if !c.liveLocked(run) {
		c.mu.Unlock()
		if handle != nil {
			run.log.Info("session: closing channel of a stopped session")
			_ = handle.Close()
			audio.Drain(handle.Events())
		}
		return
	}
	if err != nil {
		c.mu.Unlock()
		c.fail(run, endReason{
			err:     fmt.Errorf("%w: %w", ErrConnectFailure, err),
			kind:    "connect_failure",
			message: "Failed to start session: " + err.Error(),
		})
		return
	}
	run.handle = handle
	run.encoder = capture.New(run.mic, handle,
		capture.WithFrameSize(c.frameSize),
		capture.WithMetrics(c.metrics),
		capture.WithLogger(run.log),
	)
	c.mu.Unlock()

	for ev := range handle.Events() {
		c.handleEvent(run, ev)
	}
}

// handleEvent is the single entry point for everything the remote channel
// reports. Events of a run that is no longer live are dropped.
func (c *Controller) handleEvent(run *sessionRun, ev s2s.Event) {
	if !c.live(run) {
		return
	}
	switch ev.Kind {
	case s2s.EventOpen:
		c.handleOpen(run)
	case s2s.EventMessage:
		if ev.Message != nil {
			c.handleMessage(run, ev.Message)
		}
	case s2s.EventError:
		err := ev.Err
		if err == nil {
			err = errors.New("unknown channel error")
		}
		run.log.Warn("session: channel error", "err", err)
		c.fail(run, endReason{
			err:     fmt.Errorf("%w: %w", ErrRuntimeChannel, err),
			kind:    "runtime_channel",
			message: "Session error: " + err.Error(),
		})
	case s2s.EventClose:
		run.log.Info("session: channel closed")
		_ = c.teardown(run, nil, false)
	}
}

func (c *Controller) handleOpen(run *sessionRun) {
	c.mu.Lock()
	if !c.liveLocked(run) || c.status != StatusConnecting {
		c.mu.Unlock()
		return
	}
	c.setStatusLocked(run.ctx, StatusListening)
	enc := run.encoder
	c.broadcastLocked()
	c.mu.Unlock()

	c.metrics.ConnectDuration.Record(run.ctx, time.Since(run.startedAt).Seconds())
	run.log.Info("session: connected", "latency", time.Since(run.startedAt))

	if err := enc.Start(run.ctx); err != nil && !errors.Is(err, capture.ErrStopped) {
		c.fail(run, endReason{
			err:     fmt.Errorf("%w: %w", ErrPermissionDenied, err),
			kind:    "permission_denied",
			message: "Failed to start session: " + err.Error(),
		})
	}
}

// handleMessage applies one server message: interruption first, then audio,
// then transcript deltas, then turn completion.
func (c *Controller) handleMessage(run *sessionRun, m *s2s.Message) {
	if m.Interrupted {
		n := run.scheduler.Interrupt()
		c.metrics.RecordInterruption(run.ctx, n)
		run.log.Debug("session: interrupted", "stopped", n)
		c.mu.Lock()
		if c.liveLocked(run) && c.status == StatusSpeaking {
			c.setStatusLocked(run.ctx, StatusListening)
			c.broadcastLocked()
		}
		c.mu.Unlock()
	}

	for _, chunk := range m.Audio {
		if _, err := run.scheduler.Enqueue(chunk); err != nil {
			run.log.Warn("session: dropping agent audio chunk", "bytes", len(chunk), "err", err)
			continue
		}
		c.metrics.ChunksScheduled.Add(run.ctx, 1)
	}

	if m.InputTranscript == "" && m.OutputTranscript == "" && !m.TurnComplete {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.liveLocked(run) {
		return
	}
	c.transcript.AppendDelta(transcript.SpeakerUser, m.InputTranscript)
	c.transcript.AppendDelta(transcript.SpeakerAgent, m.OutputTranscript)
	if m.TurnComplete {
		for _, e := range c.transcript.CompleteTurn() {
			c.metrics.RecordTranscriptFinal(run.ctx, e.Speaker.String())
		}
	}
	c.broadcastLocked()
}

func (c *Controller) onPlaybackActive(run *sessionRun) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.liveLocked(run) {
		return
	}
	switch c.status {
	case StatusListening, StatusThinking:
		c.setStatusLocked(run.ctx, StatusSpeaking)
		c.broadcastLocked()
	}
}

func (c *Controller) onPlaybackDrained(run *sessionRun) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.liveLocked(run) || c.status != StatusSpeaking {
		return
	}
	c.setStatusLocked(run.ctx, StatusListening)
	c.broadcastLocked()
}

// Stop ends the current session. It is idempotent and safe to call while a
// connect is still pending. A Stop that finds the session already tearing down
// waits until the status has settled or ctx is done. A failure to close the
// remote channel leaves the controller in the ERROR status and is returned.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	run := c.run
	if run == nil {
		if c.unavailable == "" {
			c.err, c.errMsg = nil, ""
			c.setStatusLocked(ctx, StatusIdle)
			c.broadcastLocked()
		}
		c.mu.Unlock()
		return nil
	}
	if run.closing {
		c.mu.Unlock()
		select {
		case <-run.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.err, c.errMsg = nil, ""
	c.mu.Unlock()

	run.log.Info("session: stop requested")
	return c.teardown(run, nil, true)
}

// fail ends run with reason.
func (c *Controller) fail(run *sessionRun, reason endReason) {
	_ = c.teardown(run, &reason, false)
}

// teardown releases everything run owns and settles the status: ERROR when
// reason is set or a requested stop failed to close the channel, IDLE
// otherwise. Only the first call for a run has any effect.
func (c *Controller) teardown(run *sessionRun, reason *endReason, requested bool) error {
	c.mu.Lock()
	if !c.liveLocked(run) {
		closing := c.run == run && run.closing
		c.mu.Unlock()
		if requested && closing {
			<-run.done
		}
		return nil
	}
	run.closing = true
	sched, enc, mic, sink, handle := run.scheduler, run.encoder, run.mic, run.sink, run.handle
	c.mu.Unlock()
	defer close(run.done)

	run.cancel()
	if sched != nil {
		sched.Reset()
	}
	if enc != nil {
		if err := enc.Stop(); err != nil {
			run.log.Debug("session: stop capture", "err", err)
		}
	}
	if mic != nil {
		if err := mic.Close(); err != nil {
			run.log.Debug("session: close microphone", "err", err)
		}
	}
	if sink != nil {
		if err := sink.Close(); err != nil {
			run.log.Debug("session: close speaker", "err", err)
		}
	}
	var closeErr error
	if handle != nil {
		closeErr = handle.Close()
	}
	c.transcript.ResetPending()

	ctx := context.WithoutCancel(run.ctx)
	var result error
	c.mu.Lock()
	c.run = nil
	switch {
	case reason != nil:
		c.err, c.errMsg = reason.err, reason.message
		c.setStatusLocked(ctx, StatusError)
	case closeErr != nil && requested:
		result = fmt.Errorf("session: close: %w", closeErr)
		c.err, c.errMsg = result, "Failed to close session: "+closeErr.Error()
		c.setStatusLocked(ctx, StatusError)
		reason = &endReason{err: result, kind: "close_failure"}
	default:
		c.setStatusLocked(ctx, StatusIdle)
	}
	c.broadcastLocked()
	c.mu.Unlock()

	c.metrics.ActiveSessions.Add(ctx, -1)
	c.metrics.SessionDuration.Record(ctx, time.Since(run.startedAt).Seconds())
	if reason != nil {
		c.metrics.RecordSessionError(ctx, reason.kind)
		run.log.Warn("session: ended with error", "kind", reason.kind, "err", reason.err)
	} else {
		run.log.Info("session: ended", "duration", time.Since(run.startedAt))
	}
	return result
}

// Close stops the current session and closes every subscription channel.
func (c *Controller) Close(ctx context.Context) error {
	err := c.Stop(ctx)
	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[uint64]chan State)
	c.closed = true
	c.mu.Unlock()
	for _, ch := range subs {
		close(ch)
	}
	return err
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

// Subscribe returns a channel that receives the current state immediately and
// every state change after it, and a func that ends the subscription.
func (c *Controller) Subscribe() (<-chan State, func()) {
	ch := make(chan State, subscriberBuffer)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	ch <- c.stateLocked()
	c.mu.Unlock()

	return ch, func() {
		c.mu.Lock()
		_, ok := c.subs[id]
		delete(c.subs, id)
		c.mu.Unlock()
		if ok {
			close(ch)
		}
	}
}

// Err returns the error behind the current ERROR status, or nil.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Languages returns the selectable languages.
func (c *Controller) Languages() []Language {
	return append([]Language(nil), c.languages...)
}

// Language returns the selected language.
func (c *Controller) Language() Language {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, _ := findLanguage(c.languages, c.language)
	return l
}

// SetLanguage selects the language used by the next session.
func (c *Controller) SetLanguage(code string) error {
	l, ok := findLanguage(c.languages, code)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownLanguage, code)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.language == l.Code {
		return nil
	}
	c.language = l.Code
	c.log.Info("session: language selected", "code", l.Code, "name", l.Name)
	c.broadcastLocked()
	return nil
}

// SetInstructions replaces the instruction template used by the next
// session. An empty template restores [DefaultInstructions].
func (c *Controller) SetInstructions(tmpl string) {
	if tmpl == "" {
		tmpl = DefaultInstructions
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.instructions = tmpl
}

// Instructions returns the current instruction template.
func (c *Controller) Instructions() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.instructions
}

func (c *Controller) live(run *sessionRun) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liveLocked(run)
}

func (c *Controller) liveLocked(run *sessionRun) bool {
	return c.run == run && !run.closing
}

func (c *Controller) setStatusLocked(ctx context.Context, to Status) {
	if c.status == to {
		return
	}
	from := c.status
	c.status = to
	c.metrics.RecordStatusTransition(ctx, from.String(), to.String())
	c.log.Debug("session: status changed", "from", from, "to", to)
}

func (c *Controller) stateLocked() State {
	st := State{
		Status:     c.status,
		Transcript: c.transcript.Entries(),
		Error:      c.errMsg,
		Language:   c.language,
	}
	if c.run != nil {
		st.SessionID = c.run.id
		st.Active = true
		st.StartedAt = c.run.startedAt
	}
	return st
}

// broadcastLocked pushes the current state to every subscriber. A full
// subscriber channel loses its oldest state.
func (c *Controller) broadcastLocked() {
	if len(c.subs) == 0 {
		return
	}
	st := c.stateLocked()
	for _, ch := range c.subs {
		select {
		case ch <- st:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- st:
		default:
		}
	}
}
