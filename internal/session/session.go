// Package session drives one live conversation: a state machine that owns
// the capture feed, the streaming transcription link, the turn detector, the
// reasoning round trip, and scheduled playback of the reply.
//
// All state transitions happen on the single goroutine running [Session.Run],
// which multiplexes capture frames, transcription events, the budget tick,
// the silence poll, and completion signals from worker goroutines over one
// ordered select loop. Worker goroutines (chat, playback, link rebuilds)
// never touch session state directly; they report back through a control
// channel.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/voxwire/voxwire/internal/observe"
	"github.com/voxwire/voxwire/internal/respond"
	"github.com/voxwire/voxwire/internal/turndetect"
	"github.com/voxwire/voxwire/pkg/audio"
	"github.com/voxwire/voxwire/pkg/transcribe"
)

// Sentinel errors for session establishment.
var (
	// ErrStart is returned when the reasoning boundary refuses to allocate
	// a session.
	ErrStart = errors.New("session: start failed")

	// ErrConnect is returned when the transcription link cannot be
	// established (or re-established) within its handshake budget, after
	// the single allowed retry.
	ErrConnect = errors.New("session: transcription link connect failed")
)

// defaultTickInterval is the budget countdown cadence.
const defaultTickInterval = time.Second

// Boundary is the reasoning/synthesis collaborator: it allocates sessions
// and answers finalized turns. Implemented by [respond.Orchestrator].
type Boundary interface {
	StartSession(ctx context.Context, req respond.StartRequest) (respond.StartResult, []audio.Frame, error)
	Respond(ctx context.Context, sessionID, text string) (respond.Reply, error)
}

// CaptureSource delivers microphone frames. The channel closing means the
// caller hung up.
type CaptureSource interface {
	Frames() <-chan audio.Frame
	Close() error
}

// PlaybackSink receives synthesized frames at their scheduled play time.
type PlaybackSink interface {
	Play(frame audio.Frame) error
	Close() error
}

// Config wires one session's collaborators.
type Config struct {
	// AgentID selects the conversation flow at the boundary.
	AgentID string

	// Language is the requested starting language. The boundary's answer
	// is authoritative.
	Language string

	// Contract, when non-empty, is the slot-extraction instruction block
	// forwarded to the boundary at session start.
	Contract string

	Boundary Boundary
	Dialer   transcribe.Dialer
	Capture  CaptureSource
	Sink     PlaybackSink

	// Publish, when set, taps call audio into the supervisory relay.
	// It must never block.
	Publish func(source byte, frame audio.Frame)

	// CaptureRate is the rate of inbound capture frames in Hz.
	CaptureRate int

	// RelayRate, when positive, is the rate published frames are resampled
	// to before reaching Publish.
	RelayRate int

	// Lookahead overrides the playback scheduler's drift bound.
	Lookahead time.Duration

	// SilenceThreshold and PollInterval tune the silence-timeout turn
	// strategy. Zero values use the turndetect defaults.
	SilenceThreshold time.Duration
	PollInterval     time.Duration

	// TickInterval overrides the budget countdown cadence. Tests shorten it.
	TickInterval time.Duration

	Logger  *slog.Logger
	Metrics *observe.Metrics

	// Clock replaces the wall clock for turn timing. Tests drive it.
	Clock func() time.Time

	// OnStarted, when set, is invoked once the boundary has allocated the
	// session, before any audio flows. The session's ID, Language, and
	// Remaining accessors are valid inside the callback.
	OnStarted func()
}

// Relay source markers, mirrored here so the session does not import relay.
const (
	sourceCaller byte = 0x01
	sourceAgent  byte = 0x02
)

type ctrlKind int

const (
	ctrlChatDone ctrlKind = iota
	ctrlPlaybackDone
	ctrlLinkReady
)

// ctrlMsg is a completion report from a worker goroutine.
type ctrlMsg struct {
	kind  ctrlKind
	reply respond.Reply
	err   error
	sw    *transcribe.Config
	link  transcribe.Link
}

// Session is one live conversation.
type Session struct {
	cfg   Config
	log   *slog.Logger
	met   *observe.Metrics
	now   func() time.Time
	sched *audio.Scheduler

	ctrl    chan ctrlMsg
	endCh   chan struct{}
	endOnce sync.Once
	cancel  context.CancelFunc

	// Mutable conversation state. Written only by the Run goroutine; the
	// mutex exists so accessors can read from other goroutines.
	mu         sync.Mutex
	id         string
	state      State
	language   string
	remaining  int
	muted      bool
	turns      int
	hardExpiry bool

	link    transcribe.Link
	linkCfg transcribe.Config

	detector turndetect.Detector
	welcome  []audio.Frame

	// Loop-goroutine state for playback that overlaps a link rebuild: playing
	// is true while a playback worker is in flight, pendingSwitch holds a
	// language switch whose turn was interrupted by a provider drop.
	playing       bool
	pendingSwitch *transcribe.Config

	err error
}

// New validates cfg and creates a Session in [StateIdle]. Run starts it.
func New(cfg Config) (*Session, error) {
	if cfg.Boundary == nil {
		return nil, errors.New("session: Boundary must be set")
	}
	if cfg.Dialer == nil {
		return nil, errors.New("session: Dialer must be set")
	}
	if cfg.Capture == nil {
		return nil, errors.New("session: Capture must be set")
	}
	if cfg.Sink == nil {
		return nil, errors.New("session: Sink must be set")
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}

	s := &Session{
		cfg:   cfg,
		log:   cfg.Logger,
		met:   cfg.Metrics,
		now:   cfg.Clock,
		ctrl:  make(chan ctrlMsg, 8),
		endCh: make(chan struct{}),
		state: StateIdle,
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.met == nil {
		s.met = observe.DefaultMetrics()
	}
	if s.now == nil {
		s.now = time.Now
	}

	var schedOpts []audio.SchedulerOption
	if cfg.Lookahead > 0 {
		schedOpts = append(schedOpts, audio.WithLookahead(cfg.Lookahead))
	}
	if cfg.Clock != nil {
		schedOpts = append(schedOpts, audio.WithClock(cfg.Clock))
	}
	s.sched = audio.NewScheduler(schedOpts...)
	return s, nil
}

// ID returns the boundary-assigned session id. Empty before Run allocates one.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Remaining returns the remaining time budget in seconds.
func (s *Session) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remaining
}

// Muted reports whether capture audio is currently withheld from the link.
func (s *Session) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

// Turns returns how many user turns were finalized so far.
func (s *Session) Turns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turns
}

// Expired reports whether the session was terminated by budget exhaustion or
// boundary-declared expiry, as opposed to the caller hanging up.
func (s *Session) Expired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hardExpiry
}

// Language returns the current conversation language.
func (s *Session) Language() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.language
}

// End requests a graceful teardown. Safe to call more than once and from any
// goroutine.
func (s *Session) End() {
	s.endOnce.Do(func() { close(s.endCh) })
}

// Run executes the session to completion: allocate, connect, converse, expire.
// It returns nil when the session ended normally (budget exhausted or End
// called) and an error when establishment failed. Establishment failure is
// terminal for the object: the session lands in its final state and cannot be
// rerun; callers start a fresh session instead.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	defer cancel()
	defer s.release()

	if err := s.start(ctx); err != nil {
		s.setState(StateExpired)
		return err
	}
	if s.cfg.OnStarted != nil {
		s.cfg.OnStarted()
	}
	if err := s.connect(ctx); err != nil {
		s.setState(StateExpired)
		return err
	}

	s.met.SessionsStarted.Add(ctx, 1)
	s.met.ActiveSessions.Add(ctx, 1)
	defer s.met.ActiveSessions.Add(context.WithoutCancel(ctx), -1)

	s.log.Info("session started",
		"session_id", s.id,
		"language", s.language,
		"remaining_s", s.remaining)

	if len(s.welcome) > 0 {
		s.beginSpeaking(ctx, s.welcome, nil)
		s.welcome = nil
	}

	s.loop(ctx)
	return s.err
}

// start allocates the session at the boundary and stores its identity,
// credential, and budget.
func (s *Session) start(ctx context.Context) error {
	s.setState(StateConnecting)

	res, welcome, err := s.cfg.Boundary.StartSession(ctx, respond.StartRequest{
		AgentID:  s.cfg.AgentID,
		Language: s.cfg.Language,
		Contract: s.cfg.Contract,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStart, err)
	}

	s.mu.Lock()
	s.id = res.SessionID
	s.language = res.Language
	s.remaining = res.BudgetSecs
	s.mu.Unlock()

	s.linkCfg = res.Transcribe
	if s.linkCfg.SampleRate == 0 {
		s.linkCfg.SampleRate = s.cfg.CaptureRate
	}
	s.welcome = welcome
	return nil
}

// connect establishes the transcription link and arms the turn detector.
func (s *Session) connect(ctx context.Context) error {
	link, err := s.dialLink(ctx, s.linkCfg)
	if err != nil {
		return err
	}
	s.link = link
	s.armDetector()
	s.setMuted(false)
	s.setState(StateListening)
	return nil
}

// dialLink dials the transcription link, retrying once on handshake timeout.
func (s *Session) dialLink(ctx context.Context, cfg transcribe.Config) (transcribe.Link, error) {
	start := time.Now()
	link, err := s.cfg.Dialer.Dial(ctx, cfg)
	if errors.Is(err, transcribe.ErrLinkTimeout) {
		s.log.Warn("link handshake timed out, retrying once", "session_id", s.id)
		s.met.LinkReconnects.Add(ctx, 1)
		link, err = s.cfg.Dialer.Dial(ctx, cfg)
	}
	s.met.LinkHandshakeDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnect, err)
	}
	return link, nil
}

// armDetector builds a fresh turn detector for the current link config.
func (s *Session) armDetector() {
	s.detector = turndetect.New(s.linkCfg.Boundary,
		turndetect.WithSilenceThreshold(s.cfg.SilenceThreshold),
		turndetect.WithPollInterval(s.cfg.PollInterval),
	)
}

// pollEvery returns the silence re-check cadence for the loop ticker.
func (s *Session) pollEvery() time.Duration {
	if s.cfg.PollInterval > 0 {
		return s.cfg.PollInterval
	}
	return turndetect.DefaultPollInterval
}

// loop is the session's event loop. It exits when the state reaches
// [StateExpired].
func (s *Session) loop(ctx context.Context) {
	tick := time.NewTicker(s.cfg.TickInterval)
	defer tick.Stop()
	poll := time.NewTicker(s.pollEvery())
	defer poll.Stop()

	for s.State() != StateExpired {
		var events <-chan transcribe.Event
		if s.link != nil {
			events = s.link.Events()
		}

		select {
		case <-ctx.Done():
			s.expire(ctx, "context cancelled")
		case <-s.endCh:
			s.expire(ctx, "ended by caller")
		case f, ok := <-s.cfg.Capture.Frames():
			if !ok {
				s.expire(ctx, "capture closed")
				continue
			}
			s.onCaptureFrame(f)
		case ev, ok := <-events:
			if !ok {
				s.onLinkClosed(ctx)
				continue
			}
			s.onTranscriptEvent(ctx, ev)
		case <-tick.C:
			s.onTick(ctx)
		case <-poll.C:
			s.onPoll(ctx)
		case m := <-s.ctrl:
			s.onCtrl(ctx, m)
		}
	}
}

// onCaptureFrame forwards one capture frame. The relay always hears the
// caller; the transcription link only while listening and unmuted.
func (s *Session) onCaptureFrame(f audio.Frame) {
	s.publish(sourceCaller, f)

	if s.State() != StateListening || s.Muted() || s.link == nil {
		return
	}
	out := f
	if s.linkCfg.SampleRate > 0 && s.linkCfg.SampleRate != f.SampleRate {
		out = audio.ConvertFrame(f, s.linkCfg.SampleRate, f.Channels)
	}
	if err := s.link.SendAudio(out.PCM); err != nil && !errors.Is(err, transcribe.ErrClosed) {
		s.log.Warn("send audio failed", "session_id", s.id, "error", err)
	}
}

// onTranscriptEvent feeds one transcription event to the turn detector.
// Events arriving outside Listening are dropped; the detector only
// accumulates what the user says while the session is actually listening.
func (s *Session) onTranscriptEvent(ctx context.Context, ev transcribe.Event) {
	if s.State() != StateListening {
		return
	}
	if text, done := s.detector.Observe(ev, s.now()); done {
		s.finalizeTurn(ctx, text)
	}
}

// onPoll re-evaluates the silence condition. A no-op for boundary-signaled
// detection and outside Listening.
func (s *Session) onPoll(ctx context.Context) {
	if s.State() != StateListening {
		return
	}
	if text, done := s.detector.Poll(s.now()); done {
		s.finalizeTurn(ctx, text)
	}
}

// onTick burns one second of budget. Expiry fires exactly once: the state
// guard inside expire makes later ticks no-ops, and the loop exits on the
// next iteration anyway.
func (s *Session) onTick(ctx context.Context) {
	s.mu.Lock()
	if !s.state.active() {
		s.mu.Unlock()
		return
	}
	s.remaining--
	expired := s.remaining <= 0
	s.mu.Unlock()

	if expired {
		s.mu.Lock()
		s.hardExpiry = true
		s.mu.Unlock()
		s.met.SessionsExpired.Add(ctx, 1)
		s.expire(ctx, "time budget exhausted")
	}
}

// finalizeTurn transitions Listening -> Processing and launches the chat
// round trip. Capture is muted for the rest of the turn.
func (s *Session) finalizeTurn(ctx context.Context, text string) {
	if s.State() != StateListening {
		return
	}
	s.setMuted(true)
	s.setState(StateProcessing)

	s.mu.Lock()
	s.turns++
	s.mu.Unlock()

	strategy := "silence"
	if s.linkCfg.Boundary {
		strategy = "boundary"
	}
	s.met.TurnsFinalized.Add(ctx, 1,
		metric.WithAttributes(attribute.String("strategy", strategy)))
	s.log.Info("turn finalized", "session_id", s.id, "strategy", strategy, "chars", len(text))

	go func() {
		start := time.Now()
		reply, err := s.cfg.Boundary.Respond(ctx, s.ID(), text)
		s.met.ChatDuration.Record(ctx, time.Since(start).Seconds())
		s.report(ctx, ctrlMsg{kind: ctrlChatDone, reply: reply, err: err})
	}()
}

// onCtrl applies a worker goroutine's completion report.
func (s *Session) onCtrl(ctx context.Context, m ctrlMsg) {
	switch m.kind {
	case ctrlChatDone:
		s.onChatDone(ctx, m)
	case ctrlPlaybackDone:
		s.playing = false
		switch s.State() {
		case StateSpeaking:
			s.finishTurn(ctx, m.sw)
		case StateConnecting:
			// A provider drop mid-reply forced a rebuild. Hold the switch
			// so the rebuild path applies it once the link is back.
			if m.sw != nil {
				s.pendingSwitch = m.sw
			}
		}
	case ctrlLinkReady:
		s.onLinkReady(ctx, m)
	}
}

// onChatDone applies the boundary's reply (or its failure).
func (s *Session) onChatDone(ctx context.Context, m ctrlMsg) {
	if s.State() != StateProcessing {
		return
	}
	if m.err != nil {
		if errors.Is(m.err, respond.ErrSessionExpired) {
			s.log.Info("boundary reported session expired", "session_id", s.id)
			s.mu.Lock()
			s.hardExpiry = true
			s.mu.Unlock()
			s.expire(ctx, "boundary expiry")
			return
		}
		// Recoverable: drop the turn, go back to listening. The caller can
		// simply repeat themselves.
		s.met.BoundaryErrors.Add(ctx, 1,
			metric.WithAttributes(attribute.String("kind", "chat")))
		s.log.Warn("boundary round trip failed", "session_id", s.id, "error", m.err)
		s.resumeListening()
		return
	}

	s.mu.Lock()
	if m.reply.RemainingSecs > 0 {
		s.remaining = m.reply.RemainingSecs
	}
	if m.reply.Language != "" {
		s.language = m.reply.Language
	}
	s.mu.Unlock()

	if len(m.reply.Frames) > 0 {
		s.beginSpeaking(ctx, m.reply.Frames, m.reply.Switch)
		return
	}
	s.finishTurn(ctx, m.reply.Switch)
}

// beginSpeaking transitions to Speaking and plays frames through the
// scheduler on a worker goroutine. sw, if non-nil, is the pending language
// switch applied strictly after playback completes.
func (s *Session) beginSpeaking(ctx context.Context, frames []audio.Frame, sw *transcribe.Config) {
	s.setMuted(true)
	s.setState(StateSpeaking)
	s.playing = true

	go func() {
		var total time.Duration
		for _, f := range frames {
			total += f.Duration()
			start := s.sched.Reserve(f.Duration())
			if wait := start.Sub(s.now()); wait > 0 {
				select {
				case <-time.After(wait):
				case <-ctx.Done():
					return
				}
			}
			if err := s.cfg.Sink.Play(f); err != nil {
				s.log.Warn("playback sink failed", "session_id", s.id, "error", err)
				break
			}
			s.publish(sourceAgent, f)
		}

		// Let the tail of the last frame finish before unmuting, so the
		// microphone cannot pick up the agent's own voice.
		for !s.sched.Flushed() {
			select {
			case <-time.After(s.sched.Pending()):
			case <-ctx.Done():
				return
			}
		}
		s.met.PlaybackDuration.Record(ctx, total.Seconds())
		s.report(ctx, ctrlMsg{kind: ctrlPlaybackDone, sw: sw})
	}()
}

// finishTurn completes the turn: either resume listening directly, or
// rebuild the transcription link first when a language switch is pending.
func (s *Session) finishTurn(ctx context.Context, sw *transcribe.Config) {
	if sw == nil {
		s.resumeListening()
		return
	}
	s.relink(ctx, *sw)
}

// resumeListening re-arms the detector and unmutes capture.
func (s *Session) resumeListening() {
	if s.State() == StateExpired {
		return
	}
	s.detector.Reset()
	s.setMuted(false)
	s.setState(StateListening)
}

// relink tears down the current link and dials a replacement with cfg on a
// worker goroutine. Capture stays muted until the new link is confirmed open.
func (s *Session) relink(ctx context.Context, cfg transcribe.Config) {
	s.setState(StateConnecting)
	s.met.LinkReconnects.Add(ctx, 1)
	s.log.Info("rebuilding transcription link",
		"session_id", s.id, "language", cfg.Language)

	old := s.link
	s.link = nil
	s.linkCfg = cfg

	go func() {
		if old != nil {
			if err := old.Close(); err != nil {
				s.log.Debug("close old link", "session_id", s.id, "error", err)
			}
		}
		link, err := s.dialLink(ctx, cfg)
		s.report(ctx, ctrlMsg{kind: ctrlLinkReady, link: link, err: err})
	}()
}

// onLinkReady installs a rebuilt link, or expires the session when the
// rebuild failed after its retry.
func (s *Session) onLinkReady(ctx context.Context, m ctrlMsg) {
	if s.State() != StateConnecting {
		if m.link != nil {
			m.link.Close()
		}
		return
	}
	if m.err != nil {
		s.log.Error("link rebuild failed", "session_id", s.id, "error", m.err)
		s.err = m.err
		s.expire(ctx, "link rebuild failed")
		return
	}
	s.link = m.link
	s.armDetector()
	if sw := s.pendingSwitch; sw != nil {
		s.pendingSwitch = nil
		s.relink(ctx, *sw)
		return
	}
	if s.playing {
		// The interrupted reply is still flushing through the scheduler;
		// stay muted until the playback worker reports done.
		s.setState(StateSpeaking)
		return
	}
	s.setMuted(false)
	s.setState(StateListening)
}

// onLinkClosed handles the provider dropping the link mid-call: rebuild it
// with the current config, keeping capture muted until it is back.
func (s *Session) onLinkClosed(ctx context.Context) {
	if s.State() == StateExpired || s.State() == StateConnecting {
		return
	}
	s.log.Warn("transcription link closed by provider", "session_id", s.id)
	s.setMuted(true)
	s.relink(ctx, s.linkCfg)
}

// expire is the single terminal transition. Idempotent.
func (s *Session) expire(ctx context.Context, reason string) {
	s.mu.Lock()
	if s.state == StateExpired {
		s.mu.Unlock()
		return
	}
	s.state = StateExpired
	s.muted = true
	turns := s.turns
	s.mu.Unlock()

	s.log.Info("session expired", "session_id", s.id, "reason", reason, "turns", turns)
	s.sched.Reset()
	if s.cancel != nil {
		s.cancel()
	}
}

// release frees every owned resource. Runs exactly once, from Run's defer.
func (s *Session) release() {
	if s.link != nil {
		s.link.Close()
		s.link = nil
	}
	s.cfg.Capture.Close()
	s.cfg.Sink.Close()
}

// publish taps one frame into the supervisory relay, resampled to the relay
// rate. Never blocks; relay failures cannot reach the call.
func (s *Session) publish(source byte, f audio.Frame) {
	if s.cfg.Publish == nil {
		return
	}
	if s.cfg.RelayRate > 0 && f.SampleRate != s.cfg.RelayRate {
		f = audio.ConvertFrame(f, s.cfg.RelayRate, 1)
	}
	s.cfg.Publish(source, f)
}

// report delivers a worker completion to the loop, giving up when the
// session is tearing down.
func (s *Session) report(ctx context.Context, m ctrlMsg) {
	select {
	case s.ctrl <- m:
	case <-ctx.Done():
	}
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) setMuted(v bool) {
	s.mu.Lock()
	s.muted = v
	s.mu.Unlock()
}
