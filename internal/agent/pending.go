package agent

import (
	"sync"

	"github.com/computesdk/sandbox-agent/internal/schema"
)

// pendingSet tracks the approval requests a single adapter has raised and not
// yet resolved. The universal request id maps back to whatever native token
// the agent protocol needs for the reply.
type pendingSet struct {
	mu      sync.Mutex
	entries map[string]*pendingEntry
}

type pendingEntry struct {
	native   string // native request/call id for the reply
	question *schema.QuestionRequest
	resolved bool
}

func newPendingSet() *pendingSet {
	return &pendingSet{entries: make(map[string]*pendingEntry)}
}

func (s *pendingSet) add(id, native string, q *schema.QuestionRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = &pendingEntry{native: native, question: q}
}

// resolve transitions an entry to resolved, returning it. NotFound for
// unknown ids, Conflict for double resolution.
func (s *pendingSet) resolve(id string) (*pendingEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, schema.NotFoundf("unknown request id %s", id)
	}
	if e.resolved {
		return nil, schema.Conflictf("request %s already resolved", id)
	}
	e.resolved = true
	return e, nil
}
