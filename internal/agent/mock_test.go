package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/computesdk/sandbox-agent/internal/schema"
)

func startMock(t *testing.T) *MockAdapter {
	t.Helper()
	a := NewMockAdapter(nil)
	require.NoError(t, a.Start(context.Background(), StartConfig{SessionID: "s1"}))
	t.Cleanup(func() { _ = a.Close() })
	return a
}

// nextUpdate pulls one update with a deadline so a broken adapter fails the
// test instead of hanging it.
func nextUpdate(t *testing.T, a *MockAdapter) Update {
	t.Helper()
	select {
	case u, ok := <-a.Updates():
		require.True(t, ok, "updates channel closed early")
		return u
	case <-time.After(5 * time.Second):
		t.Fatal("no update")
		return Update{}
	}
}

func TestMockEchoTurn(t *testing.T) {
	a := startMock(t)

	u := nextUpdate(t, a)
	assert.Equal(t, schema.KindStarted, u.Data.Kind())

	require.NoError(t, a.SendMessage(context.Background(), "hello"))

	u = nextUpdate(t, a)
	assert.Equal(t, "OK: hello", u.Data.Message.Text())
	u = nextUpdate(t, a)
	assert.True(t, u.TurnComplete)
}

func TestMockPermissionTurn(t *testing.T) {
	a := startMock(t)
	nextUpdate(t, a) // started

	require.NoError(t, a.SendMessage(context.Background(), "permission:shell.exec|ls|pwd"))

	u := nextUpdate(t, a)
	require.NotNil(t, u.Data.PermissionAsked)
	req := u.Data.PermissionAsked
	assert.Equal(t, "shell.exec", req.Permission)
	assert.Equal(t, []string{"ls", "pwd"}, req.Patterns)

	require.NoError(t, a.ResolvePermission(context.Background(), req.ID, schema.DecisionAlways))

	u = nextUpdate(t, a)
	assert.Equal(t, "granted always", u.Data.Message.Text())
	u = nextUpdate(t, a)
	assert.True(t, u.TurnComplete)

	// Exactly once.
	err := a.ResolvePermission(context.Background(), req.ID, schema.DecisionOnce)
	assert.Equal(t, schema.ErrConflict, schema.KindOf(err))
}

func TestMockQuestionTurn(t *testing.T) {
	a := startMock(t)
	nextUpdate(t, a) // started

	require.NoError(t, a.SendMessage(context.Background(), "question:"))

	u := nextUpdate(t, a)
	require.NotNil(t, u.Data.QuestionAsked)
	req := u.Data.QuestionAsked
	require.Len(t, req.Questions, 2)
	assert.False(t, req.Questions[0].MultiSelect)
	assert.True(t, req.Questions[1].MultiSelect)

	require.NoError(t, a.ResolveQuestion(context.Background(), req.ID, [][]string{{"fast"}, {"docs"}}))

	u = nextUpdate(t, a)
	assert.Equal(t, "chose fast,docs", u.Data.Message.Text())
	u = nextUpdate(t, a)
	assert.True(t, u.TurnComplete)
}

func TestMockFailAndExit(t *testing.T) {
	a := startMock(t)
	nextUpdate(t, a) // started

	require.NoError(t, a.SendMessage(context.Background(), "fail:boom"))
	u := nextUpdate(t, a)
	require.NotNil(t, u.Data.Error)
	assert.Equal(t, "boom", u.Data.Error.Message)
	nextUpdate(t, a) // turn complete

	require.NoError(t, a.SendMessage(context.Background(), "exit"))
	u = nextUpdate(t, a)
	require.NotNil(t, u.Data.Error)

	// Ended marker, then channel close.
	u = nextUpdate(t, a)
	assert.True(t, u.Ended)
	_, ok := <-a.Updates()
	assert.False(t, ok)

	// Messages after exit are upstream errors.
	err := a.SendMessage(context.Background(), "more")
	assert.Equal(t, schema.ErrUpstreamAgent, schema.KindOf(err))
}

func TestMockCustomReply(t *testing.T) {
	a := NewMockAdapter(func(text string) string { return "echo " + text })
	require.NoError(t, a.Start(context.Background(), StartConfig{}))
	t.Cleanup(func() { _ = a.Close() })
	nextUpdate(t, a) // started

	require.NoError(t, a.SendMessage(context.Background(), "hi"))
	u := nextUpdate(t, a)
	assert.Equal(t, "echo hi", u.Data.Message.Text())
}
