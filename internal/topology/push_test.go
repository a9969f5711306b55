package topology

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muatool/dashboard/internal/channel"
	"github.com/muatool/dashboard/internal/injection"
)

type fakeRegistrar struct {
	handlers map[string]channel.HandlerFunc
}

func (r *fakeRegistrar) On(event string, fn channel.HandlerFunc) {
	if r.handlers == nil {
		r.handlers = make(map[string]channel.HandlerFunc)
	}
	r.handlers[event] = fn
}

func (r *fakeRegistrar) push(event, payload string) {
	r.handlers[event](context.Background(), json.RawMessage(payload))
}

func TestSubscribeRegistersEveryPush(t *testing.T) {
	h := newHarness(t)
	r := &fakeRegistrar{}
	h.c.Subscribe(r)

	for _, ev := range []string{
		EventOpenToolTab, EventToolExpired, EventTokenBlocked,
		EventCheckTokenStatus, EventShowNotice, EventInjectionUpdate,
	} {
		assert.Contains(t, r.handlers, ev)
	}
}

func TestOpenToolTabPush(t *testing.T) {
	h := newHarness(t)
	r := &fakeRegistrar{}
	h.c.Subscribe(r)

	r.push(EventOpenToolTab, `{"tool_type":"ahrefs","id":7,"url":"https://ahrefs.com","token":"tok","cookies":"[]"}`)
	assert.Equal(t, []Key{{"ahrefs", "7"}}, h.c.Keys())

	// malformed payloads are dropped
	r.push(EventOpenToolTab, `{"tool_type":`)
	assert.Equal(t, 1, h.factory.created())
}

func TestTokenBlockedClosesEveryWindow(t *testing.T) {
	var blocked []string
	var mu sync.Mutex
	h := newHarness(t, WithBlockedHook(func(token string) {
		mu.Lock()
		defer mu.Unlock()
		blocked = append(blocked, token)
	}))
	r := &fakeRegistrar{}
	h.c.Subscribe(r)
	a, _ := h.open(t, "ahrefs", "7", "tok-a")
	b, _ := h.open(t, "semrush", "1", "tok-b")

	r.push(EventTokenBlocked, `{"token":"tok-a"}`)

	// entries go at once, the windows follow after their alert
	assert.Empty(t, h.c.Keys())
	assert.False(t, h.c.HasOpenTools())
	assert.Eventually(t, func() bool {
		return a.IsClosed() && b.IsClosed()
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{"tok-a"}, blocked)
	mu.Unlock()
}

func TestScopedTokenBlockClosesOnlyMatchingToken(t *testing.T) {
	h := newHarness(t, WithScopedTokenBlock())
	a, _ := h.open(t, "ahrefs", "7", "tok-a")
	b, _ := h.open(t, "semrush", "1", "tok-b")

	assert.Equal(t, 1, h.c.TokenBlocked("tok-a"))

	assert.Equal(t, []Key{{"semrush", "1"}}, h.c.Keys())
	assert.Eventually(t, a.IsClosed, time.Second, 5*time.Millisecond)
	assert.False(t, b.IsClosed())

	// no token in the payload still closes everything
	assert.Equal(t, 1, h.c.TokenBlocked(""))
	assert.Empty(t, h.c.Keys())
}

func TestTokenBlockedWithoutTokenClosesEverything(t *testing.T) {
	h := newHarness(t)
	a, _ := h.open(t, "ahrefs", "7", "tok-a")
	b, _ := h.open(t, "semrush", "1", "tok-b")
	child := h.factory.popup(a)
	require.NotNil(t, child)

	assert.Equal(t, 3, h.c.TokenBlocked(""))
	assert.Empty(t, h.c.Keys())
	assert.False(t, h.c.HasOpenTools())
	assert.Eventually(t, func() bool {
		return a.IsClosed() && b.IsClosed() && child.IsClosed()
	}, time.Second, 5*time.Millisecond)
}

func TestTokenBlockedPushAlertsBeforeClosing(t *testing.T) {
	h := newHarness(t)
	r := &fakeRegistrar{}
	h.c.Subscribe(r)
	a, _ := h.open(t, "ahrefs", "7", "tok-a")

	r.push(EventTokenBlocked, `{"token":"tok-a"}`)

	assert.Empty(t, h.c.Keys())
	assert.Eventually(t, a.IsClosed, time.Second, 5*time.Millisecond)
}

func TestCheckTokenStatusClosesConflictingToken(t *testing.T) {
	h := newHarness(t)
	r := &fakeRegistrar{}
	h.c.Subscribe(r)
	h.open(t, "ahrefs", "7", "tok-a")
	h.open(t, "semrush", "1", "tok-b")

	r.push(EventCheckTokenStatus, `{}`)
	assert.Len(t, h.c.Keys(), 2)

	r.push(EventCheckTokenStatus, `{"blockedToken":"tok-b"}`)
	assert.Equal(t, []Key{{"ahrefs", "7"}}, h.c.Keys())
}

func TestToolExpired(t *testing.T) {
	h := newHarness(t)
	r := &fakeRegistrar{}
	h.c.Subscribe(r)
	s, _ := h.open(t, "ahrefs", "7", "tok")

	assert.Equal(t, 0, h.c.ToolExpired(Key{"ahrefs", "8"}, ""))
	assert.Empty(t, h.notifier.all())

	r.push(EventToolExpired, `{"toolCode":"ahrefs","accountId":7}`)

	assert.True(t, s.IsClosed())
	assert.Empty(t, h.c.Keys())
	require.Len(t, h.notifier.all(), 1)
	assert.Contains(t, h.notifier.all()[0], msgToolExpired)
}

func TestShowNoticeNeedsOpenTool(t *testing.T) {
	h := newHarness(t)
	assert.False(t, h.c.ShowNotice("update", ""))
	assert.Empty(t, h.notifier.all())

	h.open(t, "ahrefs", "7", "tok")
	assert.True(t, h.c.ShowNotice("", "https://muatool.com/download"))

	msgs := h.notifier.all()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], msgUpdateNotice)
	assert.Contains(t, msgs[0], "https://muatool.com/download")
}

func TestApplyUpdateTargetsToolWindows(t *testing.T) {
	h := newHarness(t)
	a, _ := h.open(t, "ahrefs", "7", "tok")
	b, _ := h.open(t, "ahrefs", "8", "tok")
	other, _ := h.open(t, "semrush", "1", "tok")

	n := h.c.ApplyUpdate(context.Background(), injection.Update{
		ToolName:      "ahrefs",
		UpdateType:    "hotfix",
		InjectionCode: "fix()",
	})

	assert.Equal(t, 2, n)
	assert.True(t, a.ran("fix()"))
	assert.True(t, b.ran("fix()"))
	assert.False(t, other.ran("fix()"))

	meta, _ := h.c.Meta(a.ID())
	require.NotNil(t, meta.Injections)
	assert.Equal(t, "fix()", meta.Injections.ManualToolInjection)

	assert.Equal(t, 0, h.c.ApplyUpdate(context.Background(), injection.Update{ToolName: "ahrefs", InjectionCode: "  "}))
}

func TestApplyUpdateAppendsToCachedBundle(t *testing.T) {
	h := newHarness(t)
	a, _ := h.open(t, "ahrefs", "7", "tok")
	a.hooks.OnLoad(a)

	h.c.ApplyUpdate(context.Background(), injection.Update{ToolName: "ahrefs", InjectionCode: "fix()"})

	meta, _ := h.c.Meta(a.ID())
	assert.Equal(t, "manual()\n;fix()", meta.Injections.ManualToolInjection)
}
