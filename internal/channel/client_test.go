package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAuthority acknowledges requests by echoing the event name, except
// "silent" which is never acknowledged.
type fakeAuthority struct {
	t        *testing.T
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu      sync.Mutex
	conns   []*websocket.Conn
	emitted []envelope
	accepts int
	closed  int
}

func newFakeAuthority(t *testing.T) *fakeAuthority {
	t.Helper()
	f := &fakeAuthority{t: t}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeAuthority) url() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

func (f *fakeAuthority) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	f.mu.Lock()
	f.conns = append(f.conns, conn)
	f.accepts++
	f.mu.Unlock()

	var writeMu sync.Mutex
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			f.mu.Lock()
			f.closed++
			f.mu.Unlock()
			return
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		switch env.Type {
		case frameEvent:
			f.mu.Lock()
			f.emitted = append(f.emitted, env)
			f.mu.Unlock()
		case frameRequest:
			if env.Event == "silent" {
				continue
			}
			go func(env envelope) {
				if env.Event == "slow" {
					time.Sleep(50 * time.Millisecond)
				}
				payload, _ := json.Marshal(map[string]any{"event": env.Event, "echo": env.Payload})
				out, _ := json.Marshal(envelope{Type: frameAck, ID: env.ID, Payload: payload})
				writeMu.Lock()
				defer writeMu.Unlock()
				_ = conn.WriteMessage(websocket.TextMessage, out)
			}(env)
		}
	}
}

func (f *fakeAuthority) push(event string, payload any) {
	f.t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(f.t, err)
	data, err := json.Marshal(envelope{Type: frameEvent, Event: event, Payload: body})
	require.NoError(f.t, err)

	f.mu.Lock()
	conn := f.conns[len(f.conns)-1]
	f.mu.Unlock()
	require.NoError(f.t, conn.WriteMessage(websocket.TextMessage, data))
}

func (f *fakeAuthority) dropAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.conns {
		c.Close()
	}
}

func (f *fakeAuthority) acceptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accepts
}

func (f *fakeAuthority) closedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func testConfig(urls ...string) Config {
	return Config{
		URLs:              urls,
		ReconnectAttempts: 3,
		ReconnectDelay:    10 * time.Millisecond,
		RequestTimeout:    time.Second,
		DialTimeout:       time.Second,
		PingInterval:      time.Hour,
	}
}

func connectedClient(t *testing.T, cfg Config, opts ...Option) *Client {
	t.Helper()
	c := New(cfg, opts...)
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { c.Close() })
	return c
}

func TestRequestRoundTrip(t *testing.T) {
	fa := newFakeAuthority(t)
	c := connectedClient(t, testConfig(fa.url()))

	var out struct {
		Event string         `json:"event"`
		Echo  map[string]any `json:"echo"`
	}
	err := c.Request(context.Background(), "credit-check", map[string]any{"token": "t1"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "credit-check", out.Event)
	assert.Equal(t, "t1", out.Echo["token"])
	assert.Equal(t, StatusConnected, c.Status())
}

func TestConcurrentRequestsCorrelate(t *testing.T) {
	fa := newFakeAuthority(t)
	c := connectedClient(t, testConfig(fa.url()))

	events := []string{"slow", "fast-a", "fast-b", "slow"}
	var wg sync.WaitGroup
	results := make([]string, len(events))
	errs := make([]error, len(events))
	for i, ev := range events {
		wg.Add(1)
		go func(i int, ev string) {
			defer wg.Done()
			var out struct {
				Event string `json:"event"`
			}
			errs[i] = c.Request(context.Background(), ev, nil, &out)
			results[i] = out.Event
		}(i, ev)
	}
	wg.Wait()

	for i := range events {
		require.NoError(t, errs[i])
		assert.Equal(t, events[i], results[i])
	}
}

func TestRequestTimeout(t *testing.T) {
	fa := newFakeAuthority(t)
	cfg := testConfig(fa.url())
	cfg.RequestTimeout = 50 * time.Millisecond
	c := connectedClient(t, cfg)

	err := c.Request(context.Background(), "silent", nil, nil)
	require.Error(t, err)
	assert.Equal(t, CodeTimeout, ErrorCode(err))
}

func TestRequestCallerCancel(t *testing.T) {
	fa := newFakeAuthority(t)
	c := connectedClient(t, testConfig(fa.url()))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	err := c.Request(ctx, "silent", nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, ErrorCode(err))
}

func TestRequestNotConnected(t *testing.T) {
	c := New(testConfig("ws://127.0.0.1:1"))
	defer c.Close()

	err := c.Request(context.Background(), "x", nil, nil)
	assert.Equal(t, CodeNotConnected, ErrorCode(err))
	assert.Equal(t, CodeNotConnected, ErrorCode(c.Emit("x", nil)))
}

func TestPushedEventDispatch(t *testing.T) {
	fa := newFakeAuthority(t)
	c := connectedClient(t, testConfig(fa.url()))

	got := make(chan string, 1)
	c.On("tool-expired", func(ctx context.Context, payload json.RawMessage) {
		var p struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(payload, &p)
		got <- p.Message
	})

	fa.push("tool-expired", map[string]string{"message": "expired"})

	select {
	case msg := <-got:
		assert.Equal(t, "expired", msg)
	case <-time.After(2 * time.Second):
		t.Fatal("handler not called")
	}
}

func TestEmitReachesServer(t *testing.T) {
	fa := newFakeAuthority(t)
	c := connectedClient(t, testConfig(fa.url()))

	require.NoError(t, c.Emit("user-open-tool", map[string]string{"token": "t", "tool": "ahrefs"}))

	assert.Eventually(t, func() bool {
		fa.mu.Lock()
		defer fa.mu.Unlock()
		return len(fa.emitted) == 1 && fa.emitted[0].Event == "user-open-tool"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDropFailsPendingAndReconnects(t *testing.T) {
	fa := newFakeAuthority(t)
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	c := connectedClient(t, testConfig(fa.url()), WithMetrics(metrics))

	var mu sync.Mutex
	var seen []Status
	c.OnStatus(func(s Status) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	errCh := make(chan error, 1)
	go func() { errCh <- c.Request(context.Background(), "silent", nil, nil) }()
	time.Sleep(50 * time.Millisecond)
	fa.dropAll()

	select {
	case err := <-errCh:
		assert.Equal(t, CodeDisconnected, ErrorCode(err))
	case <-time.After(2 * time.Second):
		t.Fatal("pending request not failed")
	}

	assert.Eventually(t, func() bool {
		return c.IsConnected() && c.Stats().Reconnects == 1
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, fa.acceptCount())
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.reconnects))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.connected))

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, seen, StatusReconnecting)
	assert.Equal(t, StatusConnected, seen[len(seen)-1])
}

func TestFallbackURL(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := "ws" + strings.TrimPrefix(dead.URL, "http")
	dead.Close()

	fa := newFakeAuthority(t)
	c := connectedClient(t, testConfig(deadURL, fa.url()))

	assert.Equal(t, fa.url(), c.Stats().URL)
}

func TestConnectExhaustedIsFailed(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := "ws" + strings.TrimPrefix(dead.URL, "http")
	dead.Close()

	c := New(testConfig(deadURL))
	defer c.Close()

	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, StatusFailed, c.Status())
}

func TestConnectWithoutURL(t *testing.T) {
	c := New(Config{})
	defer c.Close()
	assert.ErrorIs(t, c.Connect(context.Background()), ErrNoURL)
}

func TestCloseStopsReconnect(t *testing.T) {
	fa := newFakeAuthority(t)
	c := New(testConfig(fa.url()))
	require.NoError(t, c.Connect(context.Background()))

	require.NoError(t, c.Close())
	assert.Equal(t, StatusClosed, c.Status())
	assert.ErrorIs(t, c.Connect(context.Background()), ErrClosed)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, fa.acceptCount())
}

func TestSecondDialClosesPreviousConnection(t *testing.T) {
	fa := newFakeAuthority(t)
	c := connectedClient(t, testConfig(fa.url()))

	// a manual dial racing the background reconnect
	require.NoError(t, c.dial(context.Background()))

	require.Eventually(t, func() bool { return fa.closedCount() == 1 }, time.Second, 10*time.Millisecond)
	assert.True(t, c.IsConnected())
	assert.Equal(t, StatusConnected, c.Status())
	require.NoError(t, c.Request(context.Background(), "get-tokens", nil, nil))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, fa.acceptCount())
}

func TestMetricsRecordOutcome(t *testing.T) {
	fa := newFakeAuthority(t)
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	cfg := testConfig(fa.url())
	cfg.RequestTimeout = 30 * time.Millisecond
	c := connectedClient(t, cfg, WithMetrics(metrics))

	require.NoError(t, c.Request(context.Background(), "get-tokens", nil, nil))
	_ = c.Request(context.Background(), "silent", nil, nil)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.requests.WithLabelValues("get-tokens", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.requests.WithLabelValues("silent", "timeout")))
}

func TestLatencyTracker(t *testing.T) {
	var l latencyTracker
	for i := 0; i < maxLatencySamples+20; i++ {
		l.record(10 * time.Millisecond)
	}
	l.lose()

	var s Stats
	l.fill(&s)
	assert.Equal(t, maxLatencySamples, s.Samples)
	assert.Equal(t, maxLatencySamples+21, s.PingsSent)
	assert.Equal(t, 1, s.PingsLost)
	assert.InDelta(t, 10.0, s.AvgLatencyMs, 0.001)
	assert.InDelta(t, 100.0/float64(maxLatencySamples+21), s.PacketLoss, 0.001)
}
