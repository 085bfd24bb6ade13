package agent

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/computesdk/sandbox-agent/internal/schema"
)

// MockAdapter is an in-process agent used by tests and by the daemon's
// --with-mock-agent flag. It echoes messages as assistant replies, and
// recognizes two trigger prefixes so approval flows can be exercised without
// a real agent binary:
//
//	"permission:<name>"  raises a permission request; the turn resumes
//	                     with an assistant reply naming the decision,
//	                     or "action not executed" on reject.
//	"question:"          raises a two-part question (one single-select,
//	                     one multi-select); the turn resumes with the
//	                     selected labels, or is rejected.
type MockAdapter struct {
	mu      sync.Mutex
	updates chan Update
	pending *pendingSet
	waiters map[string]chan resolution
	started bool
	closed  bool
	reply   func(text string) string
}

type resolution struct {
	decision schema.PermissionDecision
	answers  [][]string
	rejected bool
}

// NewMockAdapter creates a mock agent. reply customizes the assistant text
// for plain messages; nil echoes "OK: <message>".
func NewMockAdapter(reply func(text string) string) *MockAdapter {
	if reply == nil {
		reply = func(text string) string { return "OK: " + text }
	}
	return &MockAdapter{
		updates: make(chan Update, 64),
		pending: newPendingSet(),
		waiters: make(map[string]chan resolution),
		reply:   reply,
	}
}

func (a *MockAdapter) Start(ctx context.Context, cfg StartConfig) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return schema.Conflictf("mock adapter already started")
	}
	a.started = true
	a.updates <- Update{Data: startedData("mock session started")}
	return nil
}

func (a *MockAdapter) SendMessage(ctx context.Context, text string) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return schema.UpstreamAgent("mock agent stopped", nil)
	}
	a.mu.Unlock()

	go a.runTurn(text)
	return nil
}

func (a *MockAdapter) runTurn(text string) {
	switch {
	case strings.HasPrefix(text, "permission:"):
		a.permissionTurn(strings.TrimPrefix(text, "permission:"))
	case strings.HasPrefix(text, "question:"):
		a.questionTurn()
	case strings.HasPrefix(text, "fail:"):
		a.emit(Update{Data: errorData("agent", strings.TrimPrefix(text, "fail:"))})
		a.emit(Update{TurnComplete: true})
	case text == "exit":
		a.emit(Update{Data: errorData("process", "mock agent exited")})
		a.shutdown()
	default:
		a.emit(Update{Data: textData("assistant", a.reply(text))})
		a.emit(Update{TurnComplete: true})
	}
}

func (a *MockAdapter) permissionTurn(spec string) {
	name := spec
	var patterns []string
	if i := strings.IndexByte(spec, '|'); i >= 0 {
		name = spec[:i]
		patterns = strings.Split(spec[i+1:], "|")
	}

	id := uuid.NewString()
	ch := a.addWaiter(id)
	a.pending.add(id, id, nil)
	a.emit(Update{Data: &schema.EventData{PermissionAsked: &schema.PermissionRequest{
		ID:         id,
		Permission: name,
		Patterns:   patterns,
	}}})

	res, ok := <-ch
	if !ok {
		return
	}
	if res.decision == schema.DecisionReject {
		a.emit(Update{Data: textData("assistant", "action not executed")})
	} else {
		a.emit(Update{Data: textData("assistant", "granted "+string(res.decision))})
	}
	a.emit(Update{TurnComplete: true})
}

func (a *MockAdapter) questionTurn() {
	id := uuid.NewString()
	req := &schema.QuestionRequest{
		ID: id,
		Questions: []schema.Question{
			{
				Header:   "Approach",
				Question: "Which approach should I take?",
				Options: []schema.QuestionOption{
					{Label: "fast"},
					{Label: "thorough"},
				},
			},
			{
				Header:      "Targets",
				Question:    "Which files may I touch?",
				Options:     []schema.QuestionOption{{Label: "src"}, {Label: "tests"}, {Label: "docs"}},
				MultiSelect: true,
			},
		},
	}
	ch := a.addWaiter(id)
	a.pending.add(id, id, req)
	a.emit(Update{Data: &schema.EventData{QuestionAsked: req}})

	res, ok := <-ch
	if !ok {
		return
	}
	if res.rejected {
		a.emit(Update{Data: textData("assistant", "question rejected")})
	} else {
		var flat []string
		for _, sel := range res.answers {
			flat = append(flat, sel...)
		}
		a.emit(Update{Data: textData("assistant", "chose "+strings.Join(flat, ","))})
	}
	a.emit(Update{TurnComplete: true})
}

func (a *MockAdapter) addWaiter(id string) chan resolution {
	ch := make(chan resolution, 1)
	a.mu.Lock()
	a.waiters[id] = ch
	a.mu.Unlock()
	return ch
}

func (a *MockAdapter) takeWaiter(id string) (chan resolution, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ch, ok := a.waiters[id]
	delete(a.waiters, id)
	return ch, ok
}

func (a *MockAdapter) emit(u Update) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.updates <- u
}

func (a *MockAdapter) shutdown() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.closed = true
	a.updates <- Update{Ended: true}
	close(a.updates)
	for id, ch := range a.waiters {
		close(ch)
		delete(a.waiters, id)
	}
}

func (a *MockAdapter) ResolvePermission(ctx context.Context, requestID string, decision schema.PermissionDecision) error {
	if _, err := a.pending.resolve(requestID); err != nil {
		return err
	}
	if ch, ok := a.takeWaiter(requestID); ok {
		ch <- resolution{decision: decision}
	}
	return nil
}

func (a *MockAdapter) ResolveQuestion(ctx context.Context, requestID string, answers [][]string) error {
	if _, err := a.pending.resolve(requestID); err != nil {
		return err
	}
	if ch, ok := a.takeWaiter(requestID); ok {
		ch <- resolution{answers: answers}
	}
	return nil
}

func (a *MockAdapter) RejectQuestion(ctx context.Context, requestID string) error {
	if _, err := a.pending.resolve(requestID); err != nil {
		return err
	}
	if ch, ok := a.takeWaiter(requestID); ok {
		ch <- resolution{rejected: true}
	}
	return nil
}

func (a *MockAdapter) Updates() <-chan Update { return a.updates }

func (a *MockAdapter) Close() error {
	a.shutdown()
	return nil
}
