package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxwire/voxwire/internal/config"
	"github.com/voxwire/voxwire/internal/flow"
	"github.com/voxwire/voxwire/internal/flow/postgres"
	"github.com/voxwire/voxwire/internal/observe"
	"github.com/voxwire/voxwire/internal/relay"
	"github.com/voxwire/voxwire/internal/session"
	"github.com/voxwire/voxwire/pkg/audio"
	"github.com/voxwire/voxwire/pkg/transcribe"
)

// ErrNoCall is returned when operating on a call id the manager does not know.
var ErrNoCall = errors.New("app: no such call")

// FlowStore persists compiled flows and session audit rows. Implemented by
// [postgres.Store]; nil disables persistence.
type FlowStore interface {
	ReplaceFlow(ctx context.Context, agentID, script string, steps []flow.Step) error
	LoadFlow(ctx context.Context, agentID string) ([]flow.Step, error)
	RecordSessionStart(ctx context.Context, rec postgres.SessionRecord) error
	RecordSessionEnd(ctx context.Context, sessionID string, endedAt time.Time, turns int, expired bool) error
}

// CallInfo is a snapshot of one live call for the listing endpoint.
type CallInfo struct {
	CallID    string    `json:"call_id"`
	SessionID string    `json:"session_id"`
	AgentID   string    `json:"agent_id"`
	Language  string    `json:"language"`
	State     string    `json:"state"`
	Remaining int       `json:"remaining_seconds"`
	StartedAt time.Time `json:"started_at"`
}

// call is one live conversation tracked by the manager.
type call struct {
	id        string
	agentID   string
	startedAt time.Time
	sess      *session.Session
}

// ManagerConfig wires a [Manager]'s collaborators.
type ManagerConfig struct {
	Boundary session.Boundary
	Dialer   transcribe.Dialer
	Hub      *relay.Hub

	// Store, when non-nil, receives session audit rows.
	Store FlowStore

	Audio config.AudioConfig
	Turn  config.TurnConfig

	Logger  *slog.Logger
	Metrics *observe.Metrics
}

// Manager owns the set of live calls. Each call runs its session on a
// dedicated goroutine; the manager registers it with the relay hub for the
// call's lifetime and writes the audit record at teardown. All exported
// methods are safe for concurrent use.
type Manager struct {
	cfg ManagerConfig
	log *slog.Logger

	mu    sync.Mutex
	calls map[string]*call
	wg    sync.WaitGroup
}

// NewManager validates cfg and creates an empty Manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Boundary == nil {
		return nil, errors.New("app: Boundary must be set")
	}
	if cfg.Dialer == nil {
		return nil, errors.New("app: Dialer must be set")
	}
	if cfg.Hub == nil {
		return nil, errors.New("app: Hub must be set")
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		cfg:   cfg,
		log:   log,
		calls: make(map[string]*call),
	}, nil
}

// Start launches a new call for agentID using the given audio device. The
// session runs on its own goroutine under ctx, which must outlive the
// originating HTTP request. Returns the call id.
func (m *Manager) Start(ctx context.Context, agentID, language string, mic session.CaptureSource, sink session.PlaybackSink) (string, error) {
	callID := uuid.NewString()

	sess, err := session.New(session.Config{
		AgentID:  agentID,
		Language: language,
		Contract: m.flowContract(ctx, agentID),
		Boundary: m.cfg.Boundary,
		Dialer:   m.cfg.Dialer,
		Capture:  mic,
		Sink:     sink,
		Publish: func(source byte, frame audio.Frame) {
			m.cfg.Hub.Publish(callID, source, frame)
		},
		CaptureRate:      m.cfg.Audio.CaptureRate,
		RelayRate:        m.cfg.Audio.RelayRate,
		Lookahead:        m.cfg.Audio.Lookahead,
		SilenceThreshold: m.cfg.Turn.SilenceThreshold,
		PollInterval:     m.cfg.Turn.PollInterval,
		Logger:           m.log,
		Metrics:          m.cfg.Metrics,
	})
	if err != nil {
		return "", fmt.Errorf("app: create session: %w", err)
	}

	c := &call{
		id:        callID,
		agentID:   agentID,
		startedAt: time.Now().UTC(),
		sess:      sess,
	}

	m.mu.Lock()
	m.calls[callID] = c
	m.mu.Unlock()
	m.cfg.Hub.Register(callID)

	m.wg.Add(1)
	go m.run(ctx, c)
	return callID, nil
}

// flowContract renders the agent's stored extraction contracts into the
// instruction block sent to the boundary at session start. Best effort: no
// store or no compiled flow yields an empty block.
func (m *Manager) flowContract(ctx context.Context, agentID string) string {
	if m.cfg.Store == nil {
		return ""
	}
	steps, err := m.cfg.Store.LoadFlow(ctx, agentID)
	if err != nil {
		m.log.Warn("load flow for contract failed", "agent_id", agentID, "error", err)
		return ""
	}
	var blocks []string
	for _, st := range steps {
		blocks = append(blocks, flow.BuildContract(st.Slots).Render())
	}
	return strings.Join(blocks, "\n")
}

// run executes one call's session to completion and tears down its tracking.
func (m *Manager) run(ctx context.Context, c *call) {
	defer m.wg.Done()
	defer func() {
		m.cfg.Hub.Unregister(c.id)
		m.mu.Lock()
		delete(m.calls, c.id)
		m.mu.Unlock()
	}()

	err := c.sess.Run(ctx)
	if err != nil {
		m.log.Error("call ended with error", "call_id", c.id, "agent_id", c.agentID, "error", err)
	}
	m.audit(c)
}

// audit writes the call's session record. Best effort: persistence failures
// are logged, never surfaced to the call path.
func (m *Manager) audit(c *call) {
	if m.cfg.Store == nil || c.sess.ID() == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rec := postgres.SessionRecord{
		SessionID: c.sess.ID(),
		AgentID:   c.agentID,
		Language:  c.sess.Language(),
		StartedAt: c.startedAt,
	}
	if err := m.cfg.Store.RecordSessionStart(ctx, rec); err != nil {
		m.log.Warn("record session start failed", "session_id", rec.SessionID, "error", err)
		return
	}
	if err := m.cfg.Store.RecordSessionEnd(ctx, rec.SessionID, time.Now().UTC(), c.sess.Turns(), c.sess.Expired()); err != nil {
		m.log.Warn("record session end failed", "session_id", rec.SessionID, "error", err)
	}
}

// End requests a graceful stop of one call.
func (m *Manager) End(callID string) error {
	m.mu.Lock()
	c := m.calls[callID]
	m.mu.Unlock()
	if c == nil {
		return ErrNoCall
	}
	c.sess.End()
	return nil
}

// List snapshots all live calls, newest first not guaranteed.
func (m *Manager) List() []CallInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	infos := make([]CallInfo, 0, len(m.calls))
	for _, c := range m.calls {
		infos = append(infos, CallInfo{
			CallID:    c.id,
			SessionID: c.sess.ID(),
			AgentID:   c.agentID,
			Language:  c.sess.Language(),
			State:     c.sess.State().String(),
			Remaining: c.sess.Remaining(),
			StartedAt: c.startedAt,
		})
	}
	return infos
}

// Active returns the number of live calls.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Shutdown ends every call and waits for their goroutines, honoring ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	for _, c := range m.calls {
		c.sess.End()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("app: shutdown: %w", ctx.Err())
	}
}
