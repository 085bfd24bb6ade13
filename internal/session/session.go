// Package session owns the registry of live sessions. Each session binds one
// adapter instance to one event log; the manager enforces the
// one-active-turn-per-session invariant uniformly, so adapters that don't
// self-enforce it behave the same as ones that do.
package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/computesdk/sandbox-agent/internal/agent"
	"github.com/computesdk/sandbox-agent/internal/approval"
	"github.com/computesdk/sandbox-agent/internal/eventlog"
	"github.com/computesdk/sandbox-agent/internal/schema"
)

// Session is one live agent session. The adapter instance is exclusively
// owned by the session for its lifetime.
type Session struct {
	id        string
	params    schema.CreateSessionParams
	createdAt time.Time

	log     *eventlog.Log
	adapter agent.Adapter
	broker  *approval.Broker
	logger  *slog.Logger

	mu         sync.Mutex
	ready      bool
	turnActive bool
	ended      bool
}

// markReady opens the session for turns. The manager calls it once the
// adapter's Start has returned; before that, the adapter may not have a live
// process to write to.
func (s *Session) markReady() {
	s.mu.Lock()
	s.ready = true
	s.mu.Unlock()
}

// Info returns the client-visible snapshot.
func (s *Session) Info() schema.SessionInfo {
	s.mu.Lock()
	ended := s.ended
	s.mu.Unlock()

	mode := s.params.PermissionMode
	if mode == "" {
		mode = schema.PermissionModeDefault
	}
	return schema.SessionInfo{
		ID:             s.id,
		Agent:          s.params.Agent,
		AgentMode:      s.params.AgentMode,
		PermissionMode: mode,
		Model:          s.params.Model,
		Variant:        s.params.Variant,
		CreatedAt:      s.createdAt,
		EventCount:     s.log.Len(),
		Ended:          ended,
	}
}

// beginTurn claims the in-flight slot. Conflict if the session is still
// starting, has ended, or a turn is already running.
func (s *Session) beginTurn() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return schema.Conflictf("session %s is still starting", s.id)
	}
	if s.ended {
		return schema.Conflictf("session %s has ended", s.id)
	}
	if s.turnActive {
		return schema.Conflictf("a turn is already in flight for session %s", s.id)
	}
	s.turnActive = true
	return nil
}

func (s *Session) abortTurn() {
	s.mu.Lock()
	s.turnActive = false
	s.mu.Unlock()
}

// pump is the single consumer of the adapter's update channel. It appends
// events to the log in arrival order (the log's append lock makes this the
// session's serialization point), registers approval requests with the
// broker, and tracks turn/session lifecycle.
func (s *Session) pump() {
	for u := range s.adapter.Updates() {
		if u.Data != nil {
			if _, err := s.log.Append(*u.Data); err != nil {
				s.logger.Error("dropping event", "session", s.id, "error", err)
			} else {
				switch {
				case u.Data.PermissionAsked != nil:
					if err := s.broker.RegisterPermission(s.id, u.Data.PermissionAsked, s.adapter); err != nil {
						s.logger.Error("permission registration failed", "session", s.id, "error", err)
					}
				case u.Data.QuestionAsked != nil:
					if err := s.broker.RegisterQuestion(s.id, u.Data.QuestionAsked, s.adapter); err != nil {
						s.logger.Error("question registration failed", "session", s.id, "error", err)
					}
				}
			}
		}
		if u.TurnComplete {
			s.mu.Lock()
			s.turnActive = false
			s.mu.Unlock()
		}
		if u.Ended {
			s.end()
		}
	}
	// Channel closed without an explicit Ended marker still means the
	// adapter is gone.
	s.end()
}

// end transitions the session to its terminal state. Idempotent; ended is
// monotonic.
func (s *Session) end() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	s.turnActive = false
	s.mu.Unlock()

	s.log.Close()
	s.broker.DropSession(s.id)
	s.logger.Info("session ended", "session", s.id, "events", s.log.Len())
}
