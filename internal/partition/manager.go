// Package partition provisions the isolated browsing contexts tools run in:
// one persistent context per (tool, account) with its own cookies, storage,
// proxy and header shaping.
package partition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/muatool/dashboard/internal/retry"
)

// Jar writes and reads a partition's cookies.
type Jar interface {
	SetCookie(ctx context.Context, c Cookie, url string) error
	Cookies(ctx context.Context) ([]Cookie, error)
}

// Context is one open partition in the browser backend.
type Context interface {
	Jar
	Name() string
	// Clear wipes cookies, local storage and cache.
	Clear(ctx context.Context) error
	// InterceptHeaders installs fn on every outbound request.
	InterceptHeaders(fn HeaderFunc) error
	Close() error
}

// Spec describes a context to open.
type Spec struct {
	Name      string
	Proxy     ProxyRule
	UserAgent string
}

// Backend opens partition contexts. Opening an already open partition
// returns the existing context.
type Backend interface {
	Open(ctx context.Context, spec Spec) (Context, error)
}

// Request is what Provision needs to prepare a partition.
type Request struct {
	ToolCode  string
	AccountID string
	Cookies   []Cookie
	// Proxy is "server|user|pass"; empty means no proxy.
	Proxy     string
	UserAgent string
}

// Handle is a provisioned partition.
type Handle struct {
	Name     string
	ToolCode string
	Context  Context
}

// Summary counts a cookie batch.
type Summary struct {
	Applied int `json:"applied"`
	Failed  int `json:"failed"`
}

// Timing holds the manager's delays.
type Timing struct {
	ClearSettle     time.Duration
	CookieRetry     time.Duration
	PerCookieSettle time.Duration
	MaxCookieSettle time.Duration
}

// DefaultTiming is used unless WithTiming overrides it.
var DefaultTiming = Timing{
	ClearSettle:     500 * time.Millisecond,
	CookieRetry:     100 * time.Millisecond,
	PerCookieSettle: 50 * time.Millisecond,
	MaxCookieSettle: 500 * time.Millisecond,
}

const cookieAttempts = 3

// Name returns the partition name of a (tool, account) key.
func Name(toolCode, accountID string) string {
	return fmt.Sprintf("persist:tool_%s_%s", accountID, toolCode)
}

// Manager owns partition state: open contexts, proxy credentials, header
// flags and the pending cookie queue.
type Manager struct {
	backend Backend
	policy  *HeaderPolicy
	fixed   map[string]bool
	timing  Timing
	logger  *slog.Logger

	mu       sync.Mutex
	contexts map[string]Context
	creds    map[string]ProxyRule
	headers  map[string]bool
	pending  map[string][]Cookie
}

type Option func(*Manager)

func WithHeaderPolicy(p *HeaderPolicy) Option {
	return func(m *Manager) { m.policy = p }
}

func WithTiming(t Timing) Option {
	return func(m *Manager) { m.timing = t }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithFixedTools replaces the tools whose partitions are never cleared.
func WithFixedTools(tools ...string) Option {
	return func(m *Manager) { m.fixed = setOf(tools...) }
}

func NewManager(backend Backend, opts ...Option) *Manager {
	m := &Manager{
		backend:  backend,
		policy:   DefaultHeaderPolicy(),
		fixed:    setOf("zikanalytics"),
		timing:   DefaultTiming,
		logger:   slog.Default().With("component", "partition"),
		contexts: make(map[string]Context),
		creds:    make(map[string]ProxyRule),
		headers:  make(map[string]bool),
		pending:  make(map[string][]Cookie),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Provision opens and prepares the partition for a (tool, account) key.
// Fixed-partition tools keep their storage; every other partition is
// cleared first. Header shaping is installed once per context unless the
// tool is excluded from it.
func (m *Manager) Provision(ctx context.Context, req Request) (*Handle, Summary, error) {
	name := Name(req.ToolCode, req.AccountID)
	rule := ParseProxy(req.Proxy)

	m.mu.Lock()
	m.creds[name] = rule
	m.mu.Unlock()

	pctx, err := m.backend.Open(ctx, Spec{Name: name, Proxy: rule, UserAgent: req.UserAgent})
	if err != nil {
		return nil, Summary{}, fmt.Errorf("open partition %s: %w", name, err)
	}

	m.mu.Lock()
	m.contexts[name] = pctx
	m.mu.Unlock()

	if m.fixed[req.ToolCode] {
		m.logger.Info("keeping fixed partition", "partition", name)
	} else {
		if err := pctx.Clear(ctx); err != nil {
			m.logger.Warn("clear partition failed", "partition", name, "error", err)
		}
		if !retry.Sleep(ctx, m.timing.ClearSettle) {
			return nil, Summary{}, ctx.Err()
		}
	}

	m.installHeaders(name, req.ToolCode, pctx)

	cookies := append(append([]Cookie(nil), req.Cookies...), m.take(req.ToolCode)...)
	sum := m.ApplyCookies(ctx, pctx, cookies)
	if len(cookies) > 0 {
		settle := min(m.timing.MaxCookieSettle, time.Duration(len(cookies))*m.timing.PerCookieSettle)
		retry.Sleep(ctx, settle)
	}
	m.logger.Info("partition provisioned", "partition", name, "cookies", sum.Applied, "failed", sum.Failed, "proxy", !rule.IsZero())

	return &Handle{Name: name, ToolCode: req.ToolCode, Context: pctx}, sum, nil
}

func (m *Manager) installHeaders(name, tool string, pctx Context) {
	if m.policy.SkipsTool(tool) {
		m.logger.Debug("tool uses default headers", "tool", tool)
		return
	}
	m.mu.Lock()
	done := m.headers[name]
	m.headers[name] = true
	m.mu.Unlock()
	if done {
		return
	}
	if err := pctx.InterceptHeaders(m.policy.HeadersFor); err != nil {
		m.logger.Warn("install header interceptor failed", "partition", name, "error", err)
		m.mu.Lock()
		delete(m.headers, name)
		m.mu.Unlock()
	}
}

// ApplyCookies writes cookies into jar. Records without a name or a usable
// domain count as failed; each write is retried before counting as failed.
func (m *Manager) ApplyCookies(ctx context.Context, jar Jar, cookies []Cookie) Summary {
	var sum Summary
	for _, c := range cookies {
		if c.Name == "" {
			sum.Failed++
			continue
		}
		u, err := BuildCookieURL(c)
		if err != nil {
			m.logger.Debug("cookie rejected", "name", c.Name, "error", err)
			sum.Failed++
			continue
		}
		err = retry.Do(ctx, retry.FixedPolicy(cookieAttempts, m.timing.CookieRetry), func(ctx context.Context, _ int) error {
			return jar.SetCookie(ctx, c, u)
		})
		if err != nil {
			m.logger.Debug("cookie write failed", "name", c.Name, "error", err)
			sum.Failed++
			continue
		}
		sum.Applied++
	}
	return sum
}

// Enqueue holds cookies for the next Provision of toolCode, replacing any
// earlier batch.
func (m *Manager) Enqueue(toolCode string, cookies []Cookie) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[toolCode] = append([]Cookie(nil), cookies...)
}

// Pending returns how many cookies wait for toolCode.
func (m *Manager) Pending(toolCode string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending[toolCode])
}

func (m *Manager) take(toolCode string) []Cookie {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.pending[toolCode]
	delete(m.pending, toolCode)
	return c
}

// Credentials returns the proxy rule recorded for a partition.
func (m *Manager) Credentials(name string) (ProxyRule, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.creds[name]
	return r, ok
}

// SetProxy records a proxy for every known partition of toolCode. An open
// context keeps its proxy; the rule applies from the next Provision.
func (m *Manager) SetProxy(toolCode string, rule ProxyRule) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for name := range m.contexts {
		if strings.HasSuffix(name, "_"+toolCode) {
			m.creds[name] = rule
			names = append(names, name)
		}
	}
	return names
}

// Context returns an open partition.
func (m *Manager) Context(name string) (Context, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contexts[name]
	return c, ok
}

// ClearTool wipes every open partition whose name contains toolCode, plus
// temporary partitions.
func (m *Manager) ClearTool(ctx context.Context, toolCode string) (int, error) {
	return m.clearMatching(ctx, func(name string) bool {
		return strings.Contains(name, toolCode) || strings.HasPrefix(name, "temp:")
	})
}

// CleanupAll wipes temporary and user partitions. It runs at app exit.
func (m *Manager) CleanupAll(ctx context.Context) (int, error) {
	return m.clearMatching(ctx, func(name string) bool {
		return strings.HasPrefix(name, "temp:") || strings.HasPrefix(name, "user:")
	})
}

func (m *Manager) clearMatching(ctx context.Context, match func(string) bool) (int, error) {
	m.mu.Lock()
	var targets []Context
	for name, c := range m.contexts {
		if match(name) {
			targets = append(targets, c)
		}
	}
	m.mu.Unlock()

	var errs []error
	cleared := 0
	for _, c := range targets {
		if err := c.Clear(ctx); err != nil {
			errs = append(errs, fmt.Errorf("clear %s: %w", c.Name(), err))
			continue
		}
		cleared++
	}
	return cleared, errors.Join(errs...)
}

// Close closes a partition's context and forgets its header flag.
func (m *Manager) Close(name string) error {
	m.mu.Lock()
	c, ok := m.contexts[name]
	delete(m.contexts, name)
	delete(m.headers, name)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return c.Close()
}

// CloseAll closes every open context.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	names := make([]string, 0, len(m.contexts))
	for name := range m.contexts {
		names = append(names, name)
	}
	m.mu.Unlock()

	var errs []error
	for _, name := range names {
		if err := m.Close(name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
