package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector[T any] struct {
	mu  sync.Mutex
	got []T
}

func (c *collector[T]) handle(_ context.Context, v T) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, v)
	return nil
}

func (c *collector[T]) snapshot() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]T(nil), c.got...)
}

func TestEmitDeliversInOrder(t *testing.T) {
	s := NewSubject()
	defer Complete(s)

	var c collector[ToolEvent]
	Subscribe(s, TopicTool, c.handle)

	for i := range 5 {
		require.NoError(t, Emit(s, TopicTool, ToolEvent{ToolType: "ahrefs", Windows: i}))
	}

	require.Eventually(t, func() bool { return len(c.snapshot()) == 5 }, time.Second, 5*time.Millisecond)
	for i, ev := range c.snapshot() {
		assert.Equal(t, i, ev.Windows)
	}
}

func TestTopicsAreIsolated(t *testing.T) {
	s := NewSubject()
	defer Complete(s)

	var notices collector[NoticeEvent]
	Subscribe(s, TopicNotice, notices.handle)

	require.NoError(t, Emit(s, TopicConnection, ConnectionEvent{Status: "connected"}))
	require.NoError(t, Emit(s, TopicNotice, NoticeEvent{Message: "hi"}))

	require.Eventually(t, func() bool { return len(notices.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "hi", notices.snapshot()[0].Message)
}

func TestWrongTypeIsSkipped(t *testing.T) {
	s := NewSubject()
	defer Complete(s)

	var c collector[VersionEvent]
	Subscribe(s, TopicVersion, c.handle)

	require.NoError(t, Emit(s, TopicVersion, "not a version event"))
	require.NoError(t, Emit(s, TopicVersion, VersionEvent{RequiredVersion: "2.0.0"}))

	require.Eventually(t, func() bool { return len(c.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestUnsubscribe(t *testing.T) {
	s := NewSubject()
	defer Complete(s)

	var c collector[ToolEvent]
	sub := Subscribe(s, TopicTool, c.handle)
	sub.Unsubscribe()
	sub.Unsubscribe()

	var marker collector[ToolEvent]
	Subscribe(s, TopicTool, marker.handle)
	require.NoError(t, Emit(s, TopicTool, ToolEvent{}))

	require.Eventually(t, func() bool { return len(marker.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, c.snapshot())
}

func TestReplay(t *testing.T) {
	s := NewSubject(WithReplay(2))
	defer Complete(s)

	var first collector[ConnectionEvent]
	Subscribe(s, TopicConnection, first.handle)
	for _, st := range []string{"connecting", "connected", "disconnected"} {
		require.NoError(t, Emit(s, TopicConnection, ConnectionEvent{Status: st}))
	}
	require.Eventually(t, func() bool { return len(first.snapshot()) == 3 }, time.Second, 5*time.Millisecond)

	var late collector[ConnectionEvent]
	Subscribe(s, TopicConnection, late.handle, true)
	got := late.snapshot()
	require.Len(t, got, 2)
	assert.Equal(t, "connected", got[0].Status)
	assert.Equal(t, "disconnected", got[1].Status)

	var noReplay collector[ConnectionEvent]
	Subscribe(s, TopicConnection, noReplay.handle)
	assert.Empty(t, noReplay.snapshot())
}

func TestEmitAfterComplete(t *testing.T) {
	s := NewSubject()
	Complete(s)
	Complete(s)
	assert.ErrorIs(t, Emit(s, TopicTool, ToolEvent{}), ErrClosed)
}
