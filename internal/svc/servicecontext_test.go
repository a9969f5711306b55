package svc

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muatool/dashboard/internal/events"
	"github.com/muatool/dashboard/internal/topology"
	"github.com/muatool/dashboard/internal/updater"
)

func shortQuitDelay(t *testing.T) {
	old := blockedQuitDelay
	blockedQuitDelay = 10 * time.Millisecond
	t.Cleanup(func() { blockedQuitDelay = old })
}

func TestSessionToken(t *testing.T) {
	s := &ServiceContext{}
	assert.Empty(t, s.Session().Token())
	s.Session().SetToken("tok")
	assert.Equal(t, "tok", s.Session().Token())
}

func TestQuitWithoutHook(t *testing.T) {
	s := &ServiceContext{}
	assert.NotPanics(t, s.Quit)

	var n atomic.Int32
	s.OnQuit(func() { n.Add(1) })
	s.Quit()
	assert.Equal(t, int32(1), n.Load())
}

func TestTokenBlockedQuitsForSignedInToken(t *testing.T) {
	shortQuitDelay(t)

	cases := []struct {
		name     string
		session  string
		blocked  string
		wantQuit bool
	}{
		{"matching token", "tok-a", "tok-a", true},
		{"global block", "tok-a", "", true},
		{"other token", "tok-a", "tok-b", false},
		{"signed out", "", "tok-a", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := &ServiceContext{}
			s.Session().SetToken(tc.session)
			var quit atomic.Bool
			s.OnQuit(func() { quit.Store(true) })

			s.tokenBlocked(tc.blocked)

			if tc.wantQuit {
				assert.Eventually(t, quit.Load, time.Second, 5*time.Millisecond)
			} else {
				time.Sleep(5 * blockedQuitDelay)
				assert.False(t, quit.Load())
			}
		})
	}
}

func TestToolChangedEmitsToolEvent(t *testing.T) {
	s := &ServiceContext{Events: events.NewSubject()}
	t.Cleanup(func() { events.Complete(s.Events) })

	got := make(chan events.ToolEvent, 1)
	events.Subscribe(s.Events, events.TopicTool, func(_ context.Context, ev events.ToolEvent) error {
		got <- ev
		return nil
	})

	s.toolChanged(topology.Change{Key: topology.Key{ToolType: "ahrefs", AccountID: "7"}, State: topology.Open, Windows: 2})

	select {
	case ev := <-got:
		assert.Equal(t, events.ToolEvent{ToolType: "ahrefs", AccountID: "7", State: "open", Windows: 2}, ev)
	case <-time.After(time.Second):
		t.Fatal("tool event not delivered")
	}
}

func TestVersionChangedEmitsVersionEvent(t *testing.T) {
	s := &ServiceContext{Events: events.NewSubject()}
	t.Cleanup(func() { events.Complete(s.Events) })

	got := make(chan events.VersionEvent, 1)
	events.Subscribe(s.Events, events.TopicVersion, func(_ context.Context, ev events.VersionEvent) error {
		got <- ev
		return nil
	})

	// AllowSkip keeps the decision from reaching the OS notifier.
	s.versionChanged(updater.Decision{
		Verdict:         updater.VerdictUpdateRequired,
		RequiredVersion: "2.5.0",
		Message:         "update",
		AllowSkip:       true,
	})

	select {
	case ev := <-got:
		assert.Equal(t, "2.5.0", ev.RequiredVersion)
		assert.True(t, ev.AllowSkip)
		assert.False(t, ev.Blocked)
	case <-time.After(time.Second):
		t.Fatal("version event not delivered")
	}
}

func TestEmitAfterCompleteIsQuiet(t *testing.T) {
	s := &ServiceContext{Events: events.NewSubject()}
	events.Complete(s.Events)
	require.NotPanics(t, func() {
		emit(s, events.TopicNotice, events.NoticeEvent{Title: "t"})
	})
}
