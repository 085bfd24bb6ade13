package session

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/computesdk/sandbox-agent/internal/agent"
	"github.com/computesdk/sandbox-agent/internal/approval"
	"github.com/computesdk/sandbox-agent/internal/eventlog"
	"github.com/computesdk/sandbox-agent/internal/schema"
)

// Manager owns all sessions in the daemon. Session ids are client-chosen and
// unique for the process lifetime; sessions are never implicitly destroyed.
type Manager struct {
	registry *agent.Registry
	broker   *approval.Broker
	logger   *slog.Logger
	workDir  string

	mu       sync.Mutex
	sessions map[string]*Session
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Registry *agent.Registry

	// WorkDir is the directory agent processes run in.
	WorkDir string

	Logger *slog.Logger
}

// NewManager creates an empty session manager.
func NewManager(cfg ManagerConfig) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		registry: cfg.Registry,
		broker:   approval.NewBroker(),
		logger:   logger,
		workDir:  cfg.WorkDir,
		sessions: make(map[string]*Session),
	}
}

// Create allocates a session, instantiates the matching adapter and starts
// it. A duplicate id with identical parameters is idempotent and returns the
// existing session; a duplicate with different parameters is a Conflict.
func (m *Manager) Create(ctx context.Context, id string, params schema.CreateSessionParams) (schema.SessionInfo, error) {
	if id == "" {
		return schema.SessionInfo{}, schema.Validationf("session id required")
	}
	if params.Agent == "" {
		return schema.SessionInfo{}, schema.Validationf("agent required")
	}
	if !schema.ValidPermissionMode(params.PermissionMode) {
		return schema.SessionInfo{}, schema.Validationf("unknown permission mode %q", params.PermissionMode)
	}

	adapter, err := m.registry.NewAdapter(params.Agent)
	if err != nil {
		return schema.SessionInfo{}, err
	}

	s := &Session{
		id:        id,
		params:    params,
		createdAt: time.Now().UTC(),
		log:       eventlog.New(params.Agent),
		adapter:   adapter,
		broker:    m.broker,
		logger:    m.logger,
	}

	// Registry insertion is the only daemon-global exclusive section; the
	// slot is reserved before the (potentially slow) adapter start so a
	// concurrent create for the same id fails fast.
	m.mu.Lock()
	if existing, ok := m.sessions[id]; ok {
		m.mu.Unlock()
		if existing.params == params {
			return existing.Info(), nil
		}
		return schema.SessionInfo{}, schema.Conflictf("session %s already exists", id)
	}
	m.sessions[id] = s
	m.mu.Unlock()

	err = adapter.Start(ctx, agent.StartConfig{
		SessionID:      id,
		Mode:           params.AgentMode,
		PermissionMode: params.PermissionMode,
		Model:          params.Model,
		Variant:        params.Variant,
		WorkDir:        m.workDir,
		Logger:         m.logger.With("session", id, "agent", params.Agent),
	})
	if err != nil {
		m.mu.Lock()
		delete(m.sessions, id)
		m.mu.Unlock()
		if schema.KindOf(err) == schema.ErrUpstreamAgent {
			return schema.SessionInfo{}, err
		}
		return schema.SessionInfo{}, schema.UpstreamAgent("agent failed to start", err)
	}

	s.markReady()
	go s.pump()
	m.logger.Info("session created", "session", id, "agent", params.Agent)
	return s.Info(), nil
}

func (m *Manager) lookup(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, schema.NotFoundf("unknown session %q", id)
	}
	return s, nil
}

// Get returns one session's info.
func (m *Manager) Get(id string) (schema.SessionInfo, error) {
	s, err := m.lookup(id)
	if err != nil {
		return schema.SessionInfo{}, err
	}
	return s.Info(), nil
}

// List returns every session, ordered by id.
func (m *Manager) List() []schema.SessionInfo {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	out := make([]schema.SessionInfo, len(sessions))
	for i, s := range sessions {
		out[i] = s.Info()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// PostMessage begins a turn. It returns as soon as the adapter accepts the
// message; progress is observed through the event log.
func (m *Manager) PostMessage(ctx context.Context, id, text string) error {
	if text == "" {
		return schema.Validationf("message required")
	}
	s, err := m.lookup(id)
	if err != nil {
		return err
	}
	if err := s.beginTurn(); err != nil {
		return err
	}
	if err := s.adapter.SendMessage(ctx, text); err != nil {
		s.abortTurn()
		return err
	}
	return nil
}

// Events reads the session's log from offset, up to limit events.
func (m *Manager) Events(id string, offset uint64, limit int) (schema.EventPage, error) {
	s, err := m.lookup(id)
	if err != nil {
		return schema.EventPage{}, err
	}
	events, next := s.log.Read(offset, limit)
	if events == nil {
		events = []schema.Event{}
	}
	return schema.EventPage{Events: events, NextOffset: next}, nil
}

// Subscribe streams the session's log from offset until ctx is cancelled or
// the session ends.
func (m *Manager) Subscribe(ctx context.Context, id string, offset uint64) (<-chan schema.Event, error) {
	s, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	return s.log.Subscribe(ctx, offset), nil
}

// Pending returns the session's unresolved approval requests.
func (m *Manager) Pending(id string) (schema.PendingRequests, error) {
	if _, err := m.lookup(id); err != nil {
		return schema.PendingRequests{}, err
	}
	return m.broker.PendingFor(id), nil
}

// ReplyPermission resolves a pending permission request.
func (m *Manager) ReplyPermission(ctx context.Context, id, requestID string, decision schema.PermissionDecision) error {
	if _, err := m.lookup(id); err != nil {
		return err
	}
	return m.broker.ReplyPermission(ctx, id, requestID, decision)
}

// ReplyQuestion resolves a pending question request with answers.
func (m *Manager) ReplyQuestion(ctx context.Context, id, requestID string, answers [][]string) error {
	if _, err := m.lookup(id); err != nil {
		return err
	}
	return m.broker.ReplyQuestion(ctx, id, requestID, answers)
}

// RejectQuestion resolves a pending question request as rejected.
func (m *Manager) RejectQuestion(ctx context.Context, id, requestID string) error {
	if _, err := m.lookup(id); err != nil {
		return err
	}
	return m.broker.RejectQuestion(ctx, id, requestID)
}

// Close hard-stops every session's adapter. Used at daemon shutdown.
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		if err := s.adapter.Close(); err != nil {
			m.logger.Warn("adapter close failed", "session", s.id, "error", err)
		}
	}
}
