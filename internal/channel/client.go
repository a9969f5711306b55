// Package channel is the persistent duplex connection to the MuaTool
// authority: request/acknowledge calls plus server-pushed events over a
// single auto-reconnecting WebSocket.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/muatool/dashboard/internal/retry"
)

const (
	writeWait   = 5 * time.Second
	pingTimeout = 10 * time.Second
	pingEvent   = "ping"
)

// Frame types on the wire.
const (
	frameRequest = "request"
	frameAck     = "ack"
	frameEvent   = "event"

	// never sent; marks a pending request whose connection dropped
	frameDisconnect = "disconnect"
)

// Status is the connection state observed through OnStatus.
type Status string

const (
	StatusIdle         Status = "idle"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusFailed       Status = "failed"
	StatusClosed       Status = "closed"
)

// Config configures a Client. Zero durations and counts take defaults.
type Config struct {
	// URLs are tried in order on every dial attempt.
	URLs              []string
	Header            http.Header
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	RequestTimeout    time.Duration
	DialTimeout       time.Duration
	PingInterval      time.Duration
}

func (c Config) withDefaults() Config {
	if c.ReconnectAttempts <= 0 {
		c.ReconnectAttempts = 3
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 15 * time.Second
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	return c
}

// HandlerFunc handles a pushed event.
type HandlerFunc func(ctx context.Context, payload json.RawMessage)

type envelope struct {
	Type    string          `json:"type"`
	ID      uint64          `json:"id,omitempty"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type pendingRequest struct {
	ch  chan envelope
	gen uint64
}

// Client is the authority connection. Requests may run concurrently; writes
// are serialized internally.
type Client struct {
	cfg     Config
	dialer  *websocket.Dialer
	logger  *slog.Logger
	metrics *Metrics
	latency latencyTracker

	mu            sync.RWMutex
	conn          *websocket.Conn
	gen           uint64
	url           string
	status        Status
	lastConnected time.Time
	reconnects    int
	reconnecting  bool
	pending       map[uint64]pendingRequest
	handlers      map[string][]HandlerFunc
	statusFns     []func(Status)

	writeMu  sync.Mutex
	nextID   atomic.Uint64
	pingOnce sync.Once

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithMetrics records request and connection metrics.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithDialer replaces the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// New creates an unconnected client. Call Connect to dial.
func New(cfg Config, opts ...Option) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:      cfg.withDefaults(),
		dialer:   websocket.DefaultDialer,
		logger:   slog.Default().With("component", "channel"),
		status:   StatusIdle,
		pending:  make(map[uint64]pendingRequest),
		handlers: make(map[string][]HandlerFunc),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect dials the authority, retrying with a fixed backoff. It is a no-op
// while connected and may be called again after the status becomes failed.
func (c *Client) Connect(ctx context.Context) error {
	if c.ctx.Err() != nil {
		return ErrClosed
	}
	if c.IsConnected() {
		return nil
	}

	c.setStatus(StatusConnecting)
	policy := retry.Policy{Attempts: c.cfg.ReconnectAttempts + 1, Delay: retry.Fixed(c.cfg.ReconnectDelay)}
	err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) error {
		return c.dial(ctx)
	})
	if err != nil {
		c.setStatus(StatusFailed)
		return fmt.Errorf("connect: %w", err)
	}

	c.pingOnce.Do(func() { go c.pingLoop() })
	return nil
}

// Reconnect dials again after the status became failed.
func (c *Client) Reconnect(ctx context.Context) error {
	return c.Connect(ctx)
}

// On registers a handler for a pushed event. Handlers for one event run in
// registration order on a goroutine separate from the read loop.
func (c *Client) On(event string, fn HandlerFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = append(c.handlers[event], fn)
}

// OnStatus registers a callback for connection state changes.
func (c *Client) OnStatus(fn func(Status)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statusFns = append(c.statusFns, fn)
}

// Status returns the current connection state.
func (c *Client) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// IsConnected returns whether a connection is currently attached.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil
}

// Stats reports connection health and ping latency.
func (c *Client) Stats() Stats {
	c.mu.RLock()
	s := Stats{
		Status:        c.status,
		Connected:     c.conn != nil,
		URL:           c.url,
		Reconnects:    c.reconnects,
		LastConnected: c.lastConnected,
	}
	c.mu.RUnlock()
	c.latency.fill(&s)
	return s
}

// Request sends event and waits for its acknowledgement, decoding the ack
// payload into out when out is non-nil. The wait is bounded by the
// configured request timeout; expiry yields an *Error with CodeTimeout.
func (c *Client) Request(ctx context.Context, event string, payload, out any) error {
	start := time.Now()
	err := c.request(ctx, event, payload, out)

	outcome := "ok"
	if err != nil {
		outcome = strings.ToLower(ErrorCode(err))
		if outcome == "" {
			outcome = "error"
		}
	}
	c.metrics.observe(event, outcome, time.Since(start))
	return err
}

func (c *Client) request(ctx context.Context, event string, payload, out any) error {
	body, err := marshalPayload(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event, err)
	}

	id := c.nextID.Add(1)
	ch := make(chan envelope, 1)

	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return &Error{Code: CodeNotConnected, Event: event}
	}
	c.pending[id] = pendingRequest{ch: ch, gen: c.gen}
	c.mu.Unlock()
	defer c.forget(id)

	if err := c.write(envelope{Type: frameRequest, ID: id, Event: event, Payload: body}); err != nil {
		return &Error{Code: CodeDisconnected, Event: event, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	select {
	case env := <-ch:
		if env.Type == frameDisconnect {
			return &Error{Code: CodeDisconnected, Event: event}
		}
		if out != nil && len(env.Payload) > 0 {
			if err := json.Unmarshal(env.Payload, out); err != nil {
				return &Error{Code: CodeBadResponse, Event: event, Err: err}
			}
		}
		return nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &Error{Code: CodeTimeout, Event: event, Err: ctx.Err()}
		}
		return ctx.Err()
	case <-c.ctx.Done():
		return &Error{Code: CodeNotConnected, Event: event, Err: ErrClosed}
	}
}

// Emit sends a fire-and-forget event.
func (c *Client) Emit(event string, payload any) error {
	body, err := marshalPayload(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event, err)
	}
	if err := c.write(envelope{Type: frameEvent, Event: event, Payload: body}); err != nil {
		return &Error{Code: CodeNotConnected, Event: event, Err: err}
	}
	return nil
}

// Close shuts down the client. Pending requests fail with CodeNotConnected.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()

		c.mu.Lock()
		conn := c.conn
		c.conn = nil
		c.failPending(func(pendingRequest) bool { return true })
		c.mu.Unlock()

		if conn != nil {
			c.writeMu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			c.writeMu.Unlock()
			err = conn.Close()
		}
		c.metrics.setConnected(false)
		c.setStatus(StatusClosed)
	})
	return err
}

// --- Internal ---

func (c *Client) dial(ctx context.Context) error {
	if c.ctx.Err() != nil {
		return retry.Permanent(ErrClosed)
	}
	if len(c.cfg.URLs) == 0 {
		return retry.Permanent(ErrNoURL)
	}

	var lastErr error
	for _, u := range c.cfg.URLs {
		dctx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
		conn, _, err := c.dialer.DialContext(dctx, u, c.cfg.Header)
		cancel()
		if err != nil {
			lastErr = fmt.Errorf("dial %s: %w", u, err)
			c.logger.Debug("dial failed", "url", u, "error", err)
			continue
		}
		c.attach(conn, u)
		return nil
	}
	return lastErr
}

// attach makes conn current. A connection still attached from a concurrent
// dial is closed and its pending requests fail.
func (c *Client) attach(conn *websocket.Conn, url string) {
	c.mu.Lock()
	prev, prevGen := c.conn, c.gen
	if prev != nil {
		c.failPending(func(p pendingRequest) bool { return p.gen == prevGen })
	}
	c.gen++
	gen := c.gen
	c.conn = conn
	c.url = url
	c.lastConnected = time.Now()
	c.mu.Unlock()

	if prev != nil {
		prev.Close()
		c.logger.Debug("replaced stale connection")
	}
	c.metrics.setConnected(true)
	c.logger.Info("connected", "url", url)
	c.setStatus(StatusConnected)

	go c.readLoop(conn, gen)
}

func (c *Client) readLoop(conn *websocket.Conn, gen uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.dropped(gen, err)
			return
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Error("decode frame", "error", err)
			continue
		}

		switch env.Type {
		case frameAck:
			c.resolve(env)
		case frameEvent:
			c.dispatch(env)
		default:
			c.logger.Debug("unhandled frame type", "type", env.Type)
		}
	}
}

func (c *Client) resolve(env envelope) {
	c.mu.Lock()
	p, ok := c.pending[env.ID]
	delete(c.pending, env.ID)
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("ack for unknown request", "id", env.ID)
		return
	}
	p.ch <- env
}

func (c *Client) dispatch(env envelope) {
	c.mu.RLock()
	handlers := append([]HandlerFunc(nil), c.handlers[env.Event]...)
	c.mu.RUnlock()

	if len(handlers) == 0 {
		c.logger.Debug("no handler for event", "event", env.Event)
		return
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("event handler panicked", "event", env.Event, "panic", r)
			}
		}()
		for _, h := range handlers {
			h(c.ctx, env.Payload)
		}
	}()
}

func (c *Client) forget(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// failPending must be called with c.mu held.
func (c *Client) failPending(match func(pendingRequest) bool) {
	for id, p := range c.pending {
		if !match(p) {
			continue
		}
		delete(c.pending, id)
		select {
		case p.ch <- envelope{Type: frameDisconnect}:
		default:
		}
	}
}

func (c *Client) dropped(gen uint64, cause error) {
	c.mu.Lock()
	if gen != c.gen || c.conn == nil {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	c.conn = nil
	c.failPending(func(p pendingRequest) bool { return p.gen == gen })
	c.mu.Unlock()

	conn.Close()
	c.metrics.setConnected(false)

	if c.ctx.Err() != nil {
		return
	}
	c.logger.Warn("connection lost", "error", cause)
	go c.reconnect()
}

func (c *Client) reconnect() {
	c.mu.Lock()
	if c.reconnecting {
		c.mu.Unlock()
		return
	}
	c.reconnecting = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.reconnecting = false
		c.mu.Unlock()
	}()

	c.setStatus(StatusReconnecting)
	if !retry.Sleep(c.ctx, c.cfg.ReconnectDelay) {
		return
	}

	policy := retry.Policy{Attempts: c.cfg.ReconnectAttempts, Delay: retry.Fixed(c.cfg.ReconnectDelay)}
	err := retry.Do(c.ctx, policy, func(ctx context.Context, attempt int) error {
		c.logger.Info("reconnecting", "attempt", attempt)
		return c.dial(ctx)
	})
	if err != nil {
		if c.ctx.Err() != nil {
			return
		}
		c.logger.Error("reconnect gave up", "error", err, "attempts", c.cfg.ReconnectAttempts)
		c.setStatus(StatusFailed)
		return
	}

	c.mu.Lock()
	c.reconnects++
	c.mu.Unlock()
	c.metrics.reconnected()
	c.logger.Info("reconnected")
}

func (c *Client) write(env envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return errors.New("not connected")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) setStatus(s Status) {
	c.mu.Lock()
	if c.status == s {
		c.mu.Unlock()
		return
	}
	c.status = s
	fns := slices.Clone(c.statusFns)
	c.mu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if c.IsConnected() {
				c.ping()
			}
		}
	}
}

func (c *Client) ping() {
	ctx, cancel := context.WithTimeout(c.ctx, pingTimeout)
	defer cancel()

	start := time.Now()
	err := c.Request(ctx, pingEvent, map[string]int64{"timestamp": start.UnixMilli()}, nil)
	switch {
	case err == nil:
		c.latency.record(time.Since(start))
	case ErrorCode(err) == CodeTimeout:
		c.latency.lose()
		c.logger.Warn("ping lost", "timeout", pingTimeout)
	}
}

func marshalPayload(v any) (json.RawMessage, error) {
	switch p := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	default:
		return json.Marshal(v)
	}
}
