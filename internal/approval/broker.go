// Package approval tracks permission and question requests awaiting an
// external decision and routes replies back to the adapter that raised them.
//
// The broker is a live projection: a request appears in PendingFor the moment
// the adapter registers it and disappears the instant it resolves. The event
// that announced the request stays in the log untouched; resolution status
// lives only here.
package approval

import (
	"context"
	"sync"

	"github.com/computesdk/sandbox-agent/internal/schema"
)

// Resolver delivers decisions to the suspended adapter turn. The session's
// adapter satisfies this.
type Resolver interface {
	ResolvePermission(ctx context.Context, requestID string, decision schema.PermissionDecision) error
	ResolveQuestion(ctx context.Context, requestID string, answers [][]string) error
	RejectQuestion(ctx context.Context, requestID string) error
}

type requestKind int

const (
	kindPermission requestKind = iota
	kindQuestion
)

type entry struct {
	kind       requestKind
	permission *schema.PermissionRequest
	question   *schema.QuestionRequest
	resolver   Resolver
	resolved   bool
}

type key struct {
	session string
	request string
}

// Broker is the daemon-wide approval registry, keyed by (session, request).
type Broker struct {
	mu      sync.Mutex
	entries map[key]*entry
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{entries: make(map[key]*entry)}
}

// RegisterPermission records a pending permission request for a session.
func (b *Broker) RegisterPermission(sessionID string, req *schema.PermissionRequest, r Resolver) error {
	return b.register(key{sessionID, req.ID}, &entry{kind: kindPermission, permission: req, resolver: r})
}

// RegisterQuestion records a pending question request for a session.
func (b *Broker) RegisterQuestion(sessionID string, req *schema.QuestionRequest, r Resolver) error {
	return b.register(key{sessionID, req.ID}, &entry{kind: kindQuestion, question: req, resolver: r})
}

func (b *Broker) register(k key, e *entry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.entries[k]; ok {
		return schema.Conflictf("request %s already registered for session %s", k.request, k.session)
	}
	b.entries[k] = e
	return nil
}

// take transitions a pending entry to resolved and returns it. The transition
// happens under the lock so a request resolves at most once even under
// concurrent replies.
func (b *Broker) take(sessionID, requestID string, kind requestKind) (*entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[key{sessionID, requestID}]
	if !ok || e.kind != kind {
		return nil, schema.NotFoundf("no %s request %s in session %s", kindName(kind), requestID, sessionID)
	}
	if e.resolved {
		return nil, schema.Conflictf("request %s already resolved", requestID)
	}
	e.resolved = true
	return e, nil
}

func kindName(k requestKind) string {
	if k == kindPermission {
		return "permission"
	}
	return "question"
}

// ReplyPermission resolves a pending permission request and forwards the
// decision to the adapter. The first reply wins; later replies get Conflict.
func (b *Broker) ReplyPermission(ctx context.Context, sessionID, requestID string, decision schema.PermissionDecision) error {
	if !schema.ValidDecision(decision) {
		return schema.Validationf("unknown permission reply %q", decision)
	}
	e, err := b.take(sessionID, requestID, kindPermission)
	if err != nil {
		return err
	}
	return e.resolver.ResolvePermission(ctx, requestID, decision)
}

// ReplyQuestion validates answers against the stored request shape, resolves
// it, and forwards the answers to the adapter. Validation failures leave the
// request pending.
func (b *Broker) ReplyQuestion(ctx context.Context, sessionID, requestID string, answers [][]string) error {
	b.mu.Lock()
	e, ok := b.entries[key{sessionID, requestID}]
	if !ok || e.kind != kindQuestion {
		b.mu.Unlock()
		return schema.NotFoundf("no question request %s in session %s", requestID, sessionID)
	}
	if e.resolved {
		b.mu.Unlock()
		return schema.Conflictf("request %s already resolved", requestID)
	}
	if err := e.question.ValidateAnswers(answers); err != nil {
		b.mu.Unlock()
		return err
	}
	e.resolved = true
	b.mu.Unlock()

	return e.resolver.ResolveQuestion(ctx, requestID, answers)
}

// RejectQuestion resolves a pending question request as rejected.
func (b *Broker) RejectQuestion(ctx context.Context, sessionID, requestID string) error {
	e, err := b.take(sessionID, requestID, kindQuestion)
	if err != nil {
		return err
	}
	return e.resolver.RejectQuestion(ctx, requestID)
}

// PendingFor returns the unresolved requests for a session.
func (b *Broker) PendingFor(sessionID string) schema.PendingRequests {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out schema.PendingRequests
	for k, e := range b.entries {
		if k.session != sessionID || e.resolved {
			continue
		}
		switch e.kind {
		case kindPermission:
			out.Permissions = append(out.Permissions, *e.permission)
		case kindQuestion:
			out.Questions = append(out.Questions, *e.question)
		}
	}
	return out
}

// DropSession discards all entries for a session. Called when the underlying
// agent exits; pending requests can never be delivered after that.
func (b *Broker) DropSession(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k := range b.entries {
		if k.session == sessionID {
			delete(b.entries, k)
		}
	}
}
