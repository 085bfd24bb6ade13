package eventlog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/computesdk/sandbox-agent/internal/schema"
)

func textEvent(text string) schema.EventData {
	return schema.EventData{Message: schema.TextMessage("assistant", text)}
}

func TestAppendAssignsDenseIDs(t *testing.T) {
	l := New("mock")

	ev1, err := l.Append(textEvent("one"))
	require.NoError(t, err)
	ev2, err := l.Append(textEvent("two"))
	require.NoError(t, err)
	ev3, err := l.Append(textEvent("three"))
	require.NoError(t, err)

	assert.Equal(t, uint64(1), ev1.ID)
	assert.Equal(t, uint64(2), ev2.ID)
	assert.Equal(t, uint64(3), ev3.ID)
	assert.Equal(t, uint64(3), l.Len())
	assert.Equal(t, "mock", ev1.Agent)
	assert.False(t, ev1.Timestamp.IsZero())
}

func TestAppendRejectsInvalidPayload(t *testing.T) {
	l := New("mock")

	_, err := l.Append(schema.EventData{})
	require.Error(t, err)

	_, err = l.Append(schema.EventData{
		Message: schema.TextMessage("assistant", "hi"),
		Started: &schema.Started{},
	})
	require.Error(t, err)

	assert.Equal(t, uint64(0), l.Len())
}

func TestReadFromOffset(t *testing.T) {
	l := New("mock")
	for _, text := range []string{"a", "b", "c", "d"} {
		_, err := l.Append(textEvent(text))
		require.NoError(t, err)
	}

	events, next := l.Read(0, 0)
	require.Len(t, events, 4)
	assert.Equal(t, uint64(4), next)
	assert.Equal(t, "a", events[0].Data.Message.Text())

	events, next = l.Read(2, 0)
	require.Len(t, events, 2)
	assert.Equal(t, uint64(3), events[0].ID)
	assert.Equal(t, uint64(4), next)
}

func TestReadHonorsLimit(t *testing.T) {
	l := New("mock")
	for i := 0; i < 5; i++ {
		_, err := l.Append(textEvent("x"))
		require.NoError(t, err)
	}

	events, next := l.Read(0, 2)
	require.Len(t, events, 2)
	assert.Equal(t, uint64(2), next)

	events, next = l.Read(next, 2)
	require.Len(t, events, 2)
	assert.Equal(t, uint64(4), next)
}

func TestReadPastEndEchoesOffset(t *testing.T) {
	l := New("mock")
	_, err := l.Append(textEvent("only"))
	require.NoError(t, err)

	events, next := l.Read(1, 0)
	assert.Empty(t, events)
	assert.Equal(t, uint64(1), next)

	events, next = l.Read(99, 0)
	assert.Empty(t, events)
	assert.Equal(t, uint64(99), next)
}

func TestCloseStopsAppends(t *testing.T) {
	l := New("mock")
	_, err := l.Append(textEvent("before"))
	require.NoError(t, err)

	l.Close()
	l.Close() // idempotent

	assert.True(t, l.Closed())
	_, err = l.Append(textEvent("after"))
	require.Error(t, err)
	assert.Equal(t, schema.ErrConflict, schema.KindOf(err))
	assert.Equal(t, uint64(1), l.Len())
}

func TestSubscribeReplaysThenFollows(t *testing.T) {
	l := New("mock")
	_, err := l.Append(textEvent("history"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch := l.Subscribe(ctx, 0)

	ev := <-ch
	assert.Equal(t, uint64(1), ev.ID)
	assert.Equal(t, "history", ev.Data.Message.Text())

	_, err = l.Append(textEvent("live"))
	require.NoError(t, err)

	ev = <-ch
	assert.Equal(t, uint64(2), ev.ID)
	assert.Equal(t, "live", ev.Data.Message.Text())
}

func TestSubscribersAreIndependent(t *testing.T) {
	l := New("mock")
	for _, text := range []string{"a", "b", "c"} {
		_, err := l.Append(textEvent(text))
		require.NoError(t, err)
	}
	l.Close()

	ctx := context.Background()

	full := l.Subscribe(ctx, 0)
	partial := l.Subscribe(ctx, 2)

	var fullIDs, partialIDs []uint64
	for ev := range full {
		fullIDs = append(fullIDs, ev.ID)
	}
	for ev := range partial {
		partialIDs = append(partialIDs, ev.ID)
	}

	assert.Equal(t, []uint64{1, 2, 3}, fullIDs)
	assert.Equal(t, []uint64{3}, partialIDs)
}

func TestSubscribeClosesOnLogClose(t *testing.T) {
	l := New("mock")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch := l.Subscribe(ctx, 0)

	_, err := l.Append(textEvent("last"))
	require.NoError(t, err)
	ev := <-ch
	assert.Equal(t, uint64(1), ev.ID)

	l.Close()

	_, ok := <-ch
	assert.False(t, ok, "channel should close after the log closes and drains")
}

func TestSubscribeClosesOnContextCancel(t *testing.T) {
	l := New("mock")
	ctx, cancel := context.WithCancel(context.Background())

	ch := l.Subscribe(ctx, 0)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("subscriber did not terminate after cancel")
	}
}
