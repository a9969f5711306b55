package partition

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeContext struct {
	mu          sync.Mutex
	name        string
	cookies     []Cookie
	urls        []string
	clears      int
	intercepts  int
	closed      bool
	failWrites  int
	interceptFn HeaderFunc
}

func (f *fakeContext) Name() string { return f.name }

func (f *fakeContext) SetCookie(ctx context.Context, c Cookie, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrites > 0 {
		f.failWrites--
		return errors.New("transient")
	}
	f.cookies = append(f.cookies, c)
	f.urls = append(f.urls, url)
	return nil
}

func (f *fakeContext) Cookies(ctx context.Context) ([]Cookie, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Cookie(nil), f.cookies...), nil
}

func (f *fakeContext) Clear(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears++
	f.cookies = nil
	return nil
}

func (f *fakeContext) InterceptHeaders(fn HeaderFunc) error {
	f.intercepts++
	f.interceptFn = fn
	return nil
}

func (f *fakeContext) Close() error {
	f.closed = true
	return nil
}

type fakeBackend struct {
	mu    sync.Mutex
	open  map[string]*fakeContext
	specs []Spec
}

func (b *fakeBackend) Open(ctx context.Context, spec Spec) (Context, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.specs = append(b.specs, spec)
	if b.open == nil {
		b.open = make(map[string]*fakeContext)
	}
	if c, ok := b.open[spec.Name]; ok && !c.closed {
		return c, nil
	}
	c := &fakeContext{name: spec.Name}
	b.open[spec.Name] = c
	return c, nil
}

var instant = Timing{}

func newTestManager(b Backend) *Manager {
	return NewManager(b, WithTiming(instant))
}

func TestProvisionClearsAndAppliesCookies(t *testing.T) {
	b := &fakeBackend{}
	m := newTestManager(b)

	h, sum, err := m.Provision(context.Background(), Request{
		ToolCode:  "pipiads",
		AccountID: "42",
		Proxy:     "http://p:1|u|pw",
		Cookies: []Cookie{
			{Name: "sid", Value: "1", Domain: ".pipiads.com"},
			{Name: "bad", Domain: ""},
			{Value: "noname", Domain: "pipiads.com"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "persist:tool_42_pipiads", h.Name)
	assert.Equal(t, Summary{Applied: 1, Failed: 2}, sum)

	fc := b.open[h.Name]
	assert.Equal(t, 1, fc.clears)
	assert.Equal(t, 1, fc.intercepts)
	assert.Equal(t, []string{"https://pipiads.com/"}, fc.urls)

	rule, ok := m.Credentials(h.Name)
	require.True(t, ok)
	assert.Equal(t, "u", rule.Username)
	assert.Equal(t, "http://p:1", b.specs[0].Proxy.Server)
}

func TestProvisionFixedPartitionKeepsStorage(t *testing.T) {
	b := &fakeBackend{}
	m := newTestManager(b)

	h, _, err := m.Provision(context.Background(), Request{ToolCode: "zikanalytics", AccountID: "1"})
	require.NoError(t, err)
	assert.Zero(t, b.open[h.Name].clears)
	assert.Zero(t, b.open[h.Name].intercepts, "header-excluded tool")
}

func TestProvisionInstallsHeadersOnce(t *testing.T) {
	b := &fakeBackend{}
	m := newTestManager(b)

	for range 3 {
		_, _, err := m.Provision(context.Background(), Request{ToolCode: "pipiads", AccountID: "1"})
		require.NoError(t, err)
	}
	fc := b.open[Name("pipiads", "1")]
	assert.Equal(t, 1, fc.intercepts)
	assert.Equal(t, 3, fc.clears)
	require.NotNil(t, fc.interceptFn)
	assert.Nil(t, fc.interceptFn("www.google.com"))

	require.NoError(t, m.Close(Name("pipiads", "1")))
	_, _, err := m.Provision(context.Background(), Request{ToolCode: "pipiads", AccountID: "1"})
	require.NoError(t, err)
	assert.Equal(t, 1, b.open[Name("pipiads", "1")].intercepts, "new context gets its own interceptor")
}

func TestPendingCookiesConsumedOnce(t *testing.T) {
	b := &fakeBackend{}
	m := newTestManager(b)

	m.Enqueue("ahrefs", []Cookie{{Name: "old", Domain: "ahrefs.com"}})
	m.Enqueue("ahrefs", []Cookie{{Name: "q", Domain: "ahrefs.com"}})
	assert.Equal(t, 1, m.Pending("ahrefs"))

	_, sum, err := m.Provision(context.Background(), Request{ToolCode: "ahrefs", AccountID: "1"})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Applied)
	assert.Zero(t, m.Pending("ahrefs"))

	_, sum, err = m.Provision(context.Background(), Request{ToolCode: "ahrefs", AccountID: "2"})
	require.NoError(t, err)
	assert.Zero(t, sum.Applied)
}

func TestApplyCookiesRetriesTransientWrites(t *testing.T) {
	m := newTestManager(&fakeBackend{})
	jar := &fakeContext{failWrites: 2}

	sum := m.ApplyCookies(context.Background(), jar, []Cookie{{Name: "a", Domain: "x.com"}})
	assert.Equal(t, Summary{Applied: 1}, sum)

	jar = &fakeContext{failWrites: 3}
	sum = m.ApplyCookies(context.Background(), jar, []Cookie{{Name: "a", Domain: "x.com"}})
	assert.Equal(t, Summary{Failed: 1}, sum)
}

func TestProxyCredentialsArePerPartition(t *testing.T) {
	m := newTestManager(&fakeBackend{})
	ctx := context.Background()

	_, _, err := m.Provision(ctx, Request{ToolCode: "pipiads", AccountID: "1", Proxy: "a:1|ua|pa"})
	require.NoError(t, err)
	_, _, err = m.Provision(ctx, Request{ToolCode: "pipiads", AccountID: "2", Proxy: "b:2|ub|pb"})
	require.NoError(t, err)

	r1, _ := m.Credentials(Name("pipiads", "1"))
	r2, _ := m.Credentials(Name("pipiads", "2"))
	assert.Equal(t, "ua", r1.Username)
	assert.Equal(t, "ub", r2.Username)

	names := m.SetProxy("pipiads", ParseProxy("c:3|uc|pc"))
	assert.Len(t, names, 2)
	r1, _ = m.Credentials(Name("pipiads", "1"))
	assert.Equal(t, "uc", r1.Username)
}

func TestClearToolAndCleanup(t *testing.T) {
	b := &fakeBackend{}
	m := newTestManager(b)
	ctx := context.Background()

	_, _, err := m.Provision(ctx, Request{ToolCode: "zikanalytics", AccountID: "1"})
	require.NoError(t, err)
	_, _, err = m.Provision(ctx, Request{ToolCode: "semrush", AccountID: "1"})
	require.NoError(t, err)

	n, err := m.ClearTool(ctx, "zikanalytics")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, b.open[Name("zikanalytics", "1")].clears)

	n, err = m.CleanupAll(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, m.CloseAll())
	assert.True(t, b.open[Name("semrush", "1")].closed)
	_, ok := m.Context(Name("semrush", "1"))
	assert.False(t, ok)
}

func TestProvisionCancelledDuringSettle(t *testing.T) {
	m := NewManager(&fakeBackend{}, WithTiming(Timing{ClearSettle: time.Hour}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := m.Provision(ctx, Request{ToolCode: "pipiads", AccountID: "1"})
	assert.ErrorIs(t, err, context.Canceled)
}
