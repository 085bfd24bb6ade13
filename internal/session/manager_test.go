package session

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/computesdk/sandbox-agent/internal/agent"
	"github.com/computesdk/sandbox-agent/internal/schema"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	registry := agent.NewRegistry(agent.RegistryConfig{
		WithMock: true,
		Logger:   slog.Default(),
	})
	m := NewManager(ManagerConfig{
		Registry: registry,
		WorkDir:  t.TempDir(),
		Logger:   slog.Default(),
	})
	t.Cleanup(m.Close)
	return m
}

func mockParams() schema.CreateSessionParams {
	return schema.CreateSessionParams{Agent: "mock"}
}

// waitEvents polls until the session log holds at least n events.
func waitEvents(t *testing.T, m *Manager, id string, n int) []schema.Event {
	t.Helper()
	var events []schema.Event
	require.Eventually(t, func() bool {
		page, err := m.Events(id, 0, 0)
		if err != nil {
			return false
		}
		events = page.Events
		return len(events) >= n
	}, 5*time.Second, 10*time.Millisecond, "expected %d events", n)
	return events
}

// waitPending polls until the session has exactly one pending request of
// either kind and returns its id.
func waitPendingID(t *testing.T, m *Manager, id string) string {
	t.Helper()
	var reqID string
	require.Eventually(t, func() bool {
		pending, err := m.Pending(id)
		if err != nil {
			return false
		}
		switch {
		case len(pending.Permissions) == 1:
			reqID = pending.Permissions[0].ID
			return true
		case len(pending.Questions) == 1:
			reqID = pending.Questions[0].ID
			return true
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
	return reqID
}

func TestCreateSession(t *testing.T) {
	m := newTestManager(t)

	info, err := m.Create(context.Background(), "s1", mockParams())
	require.NoError(t, err)
	assert.Equal(t, "s1", info.ID)
	assert.Equal(t, "mock", info.Agent)
	assert.Equal(t, schema.PermissionModeDefault, info.PermissionMode)
	assert.False(t, info.Ended)

	// The started event lands asynchronously.
	events := waitEvents(t, m, "s1", 1)
	assert.Equal(t, uint64(1), events[0].ID)
	assert.Equal(t, schema.KindStarted, events[0].Data.Kind())
}

func TestCreateValidation(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.Create(ctx, "", mockParams())
	assert.Equal(t, schema.ErrValidation, schema.KindOf(err))

	_, err = m.Create(ctx, "s1", schema.CreateSessionParams{})
	assert.Equal(t, schema.ErrValidation, schema.KindOf(err))

	_, err = m.Create(ctx, "s1", schema.CreateSessionParams{Agent: "nonesuch"})
	assert.Equal(t, schema.ErrValidation, schema.KindOf(err))

	_, err = m.Create(ctx, "s1", schema.CreateSessionParams{Agent: "mock", PermissionMode: "yolo"})
	assert.Equal(t, schema.ErrValidation, schema.KindOf(err))
}

func TestCreateDuplicate(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	first, err := m.Create(ctx, "s1", mockParams())
	require.NoError(t, err)

	// Identical parameters: idempotent.
	again, err := m.Create(ctx, "s1", mockParams())
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	// Different parameters: conflict.
	_, err = m.Create(ctx, "s1", schema.CreateSessionParams{Agent: "mock", Model: "other"})
	require.Error(t, err)
	assert.Equal(t, schema.ErrConflict, schema.KindOf(err))
}

func TestPostMessageAppendsReply(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	_, err := m.Create(ctx, "s1", mockParams())
	require.NoError(t, err)

	require.NoError(t, m.PostMessage(ctx, "s1", "hello"))

	events := waitEvents(t, m, "s1", 2)
	assert.Equal(t, schema.KindStarted, events[0].Data.Kind())
	assert.Equal(t, schema.KindMessage, events[1].Data.Kind())
	assert.Equal(t, "assistant", events[1].Data.Message.Role)
	assert.Equal(t, "OK: hello", events[1].Data.Message.Text())
}

func TestPostMessageValidation(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	_, err := m.Create(ctx, "s1", mockParams())
	require.NoError(t, err)

	err = m.PostMessage(ctx, "s1", "")
	assert.Equal(t, schema.ErrValidation, schema.KindOf(err))

	err = m.PostMessage(ctx, "nonesuch", "hi")
	assert.Equal(t, schema.ErrNotFound, schema.KindOf(err))
}

func TestBeginTurnWhileStarting(t *testing.T) {
	// Until the manager marks the session ready the adapter may not have a
	// live process yet, so turns must be refused rather than forwarded.
	s := &Session{id: "s1"}

	err := s.beginTurn()
	require.Error(t, err)
	assert.Equal(t, schema.ErrConflict, schema.KindOf(err))

	s.markReady()
	require.NoError(t, s.beginTurn())
}

func TestOneTurnAtATime(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	_, err := m.Create(ctx, "s1", mockParams())
	require.NoError(t, err)

	// A permission turn stays in flight until the request is resolved.
	require.NoError(t, m.PostMessage(ctx, "s1", "permission:shell.exec"))
	reqID := waitPendingID(t, m, "s1")

	err = m.PostMessage(ctx, "s1", "second")
	require.Error(t, err)
	assert.Equal(t, schema.ErrConflict, schema.KindOf(err))

	require.NoError(t, m.ReplyPermission(ctx, "s1", reqID, schema.DecisionOnce))
	waitEvents(t, m, "s1", 3)

	// Turn complete; the next message is accepted.
	require.Eventually(t, func() bool {
		return m.PostMessage(ctx, "s1", "third") == nil
	}, 5*time.Second, 10*time.Millisecond)
}

func TestPermissionRejectFlow(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	_, err := m.Create(ctx, "s1", mockParams())
	require.NoError(t, err)

	require.NoError(t, m.PostMessage(ctx, "s1", "permission:fs.write|src/**"))
	reqID := waitPendingID(t, m, "s1")

	require.NoError(t, m.ReplyPermission(ctx, "s1", reqID, schema.DecisionReject))

	events := waitEvents(t, m, "s1", 3)
	last := events[len(events)-1]
	assert.Equal(t, "action not executed", last.Data.Message.Text())

	// Resolved requests leave the pending projection.
	p, err := m.Pending("s1")
	require.NoError(t, err)
	assert.Empty(t, p.Permissions)

	// Second reply is a conflict.
	err = m.ReplyPermission(ctx, "s1", reqID, schema.DecisionOnce)
	assert.Equal(t, schema.ErrConflict, schema.KindOf(err))
}

func TestQuestionFlow(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	_, err := m.Create(ctx, "s1", mockParams())
	require.NoError(t, err)

	require.NoError(t, m.PostMessage(ctx, "s1", "question:"))
	reqID := waitPendingID(t, m, "s1")

	// Malformed answers leave the question pending.
	err = m.ReplyQuestion(ctx, "s1", reqID, [][]string{{"fast"}})
	assert.Equal(t, schema.ErrValidation, schema.KindOf(err))
	p, err := m.Pending("s1")
	require.NoError(t, err)
	require.Len(t, p.Questions, 1)

	require.NoError(t, m.ReplyQuestion(ctx, "s1", reqID, [][]string{{"fast"}, {"src", "tests"}}))

	events := waitEvents(t, m, "s1", 3)
	last := events[len(events)-1]
	assert.Equal(t, "chose fast,src,tests", last.Data.Message.Text())
}

func TestQuestionRejectFlow(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	_, err := m.Create(ctx, "s1", mockParams())
	require.NoError(t, err)

	require.NoError(t, m.PostMessage(ctx, "s1", "question:"))
	reqID := waitPendingID(t, m, "s1")

	require.NoError(t, m.RejectQuestion(ctx, "s1", reqID))

	events := waitEvents(t, m, "s1", 3)
	last := events[len(events)-1]
	assert.Equal(t, "question rejected", last.Data.Message.Text())
}

func TestSessionEnd(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	_, err := m.Create(ctx, "s1", mockParams())
	require.NoError(t, err)

	sub, err := m.Subscribe(ctx, "s1", 0)
	require.NoError(t, err)

	require.NoError(t, m.PostMessage(ctx, "s1", "exit"))

	require.Eventually(t, func() bool {
		info, err := m.Get("s1")
		return err == nil && info.Ended
	}, 5*time.Second, 10*time.Millisecond)

	// Subscribers drain and terminate once the session ends.
	deadline := time.After(5 * time.Second)
drain:
	for {
		select {
		case _, ok := <-sub:
			if !ok {
				break drain
			}
		case <-deadline:
			t.Fatal("subscriber did not terminate after session end")
		}
	}

	// The session stays queryable; new turns are conflicts.
	info, err := m.Get("s1")
	require.NoError(t, err)
	assert.True(t, info.Ended)

	err = m.PostMessage(ctx, "s1", "more")
	assert.Equal(t, schema.ErrConflict, schema.KindOf(err))
}

func TestListSessions(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	_, err := m.Create(ctx, "beta", mockParams())
	require.NoError(t, err)
	_, err = m.Create(ctx, "alpha", mockParams())
	require.NoError(t, err)

	list := m.List()
	require.Len(t, list, 2)
	assert.Equal(t, "alpha", list[0].ID)
	assert.Equal(t, "beta", list[1].ID)
}

func TestEventsPagination(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	_, err := m.Create(ctx, "s1", mockParams())
	require.NoError(t, err)

	require.NoError(t, m.PostMessage(ctx, "s1", "hello"))
	waitEvents(t, m, "s1", 2)

	page, err := m.Events("s1", 0, 1)
	require.NoError(t, err)
	require.Len(t, page.Events, 1)
	assert.Equal(t, uint64(1), page.NextOffset)

	page, err = m.Events("s1", page.NextOffset, 1)
	require.NoError(t, err)
	require.Len(t, page.Events, 1)
	assert.Equal(t, uint64(2), page.Events[0].ID)

	// Past the end: empty page, offset echoed.
	page, err = m.Events("s1", 50, 0)
	require.NoError(t, err)
	assert.Empty(t, page.Events)
	assert.Equal(t, uint64(50), page.NextOffset)
}
