package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/playwright-community/playwright-go"

	"github.com/muatool/dashboard/internal/injection"
	"github.com/muatool/dashboard/internal/partition"
	"github.com/muatool/dashboard/internal/topology"
)

// Manager owns the Playwright driver and one persistent context per
// partition. It is the partition.Backend and the topology.Factory.
type Manager struct {
	config *ResolvedConfig
	logger *slog.Logger
	audit  *cdpAuditLogger

	mu       sync.Mutex
	pw       *playwright.Playwright
	contexts map[string]*partitionContext
}

type Option func(*Manager)

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager builds a manager. Start must be called before Open.
func NewManager(cfg *ResolvedConfig, opts ...Option) *Manager {
	m := &Manager{
		config:   cfg,
		logger:   slog.Default().With("component", "browser"),
		contexts: make(map[string]*partitionContext),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.audit = newCDPAuditLogger(m.logger)
	return m
}

// Start installs the driver (and Chromium when no system browser was found)
// and launches it.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pw != nil {
		return nil
	}

	run := &playwright.RunOptions{}
	if m.config.Executable != nil {
		run.SkipInstallBrowsers = true
	} else {
		run.Browsers = []string{"chromium"}
	}
	if err := playwright.Install(run); err != nil {
		return fmt.Errorf("install playwright: %w", err)
	}
	pw, err := playwright.Run(run)
	if err != nil {
		return fmt.Errorf("start playwright: %w", err)
	}
	m.pw = pw

	exe := "bundled chromium"
	if m.config.Executable != nil {
		exe = m.config.Executable.Path
	}
	m.logger.Info("browser driver started", "executable", exe, "headless", m.config.Headless)
	return nil
}

// Stop closes every partition context and the driver.
func (m *Manager) Stop() error {
	m.mu.Lock()
	ctxs := make([]*partitionContext, 0, len(m.contexts))
	for _, c := range m.contexts {
		ctxs = append(ctxs, c)
	}
	pw := m.pw
	m.pw = nil
	m.mu.Unlock()

	var errs []error
	for _, c := range ctxs {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if pw != nil {
		if err := pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop playwright: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Open returns the partition's context, launching it on first use.
func (m *Manager) Open(ctx context.Context, spec partition.Spec) (partition.Context, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pw == nil {
		return nil, errors.New("browser manager not started")
	}
	if c, ok := m.contexts[spec.Name]; ok && !c.isClosed() {
		return c, nil
	}

	dir := m.config.PartitionDir(spec.Name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create partition dir: %w", err)
	}
	bc, err := m.pw.Chromium.LaunchPersistentContext(dir, m.config.launchOptions(spec))
	if err != nil {
		return nil, fmt.Errorf("launch %s: %w", spec.Name, err)
	}

	c := &partitionContext{
		name:   spec.Name,
		bc:     bc,
		logger: m.logger,
		audit:  m.audit,
		onGone: m.forget,
	}
	if pages := bc.Pages(); len(pages) > 0 {
		c.blank = pages[0]
	}
	bc.OnClose(func(playwright.BrowserContext) { c.markGone() })
	m.contexts[spec.Name] = c

	m.logger.Info("partition context launched", "partition", spec.Name, "dir", dir,
		"proxy", !spec.Proxy.IsZero(), "user_agent", spec.UserAgent != "")
	return c, nil
}

func (m *Manager) forget(c *partitionContext) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.contexts[c.name]; ok && cur == c {
		delete(m.contexts, c.name)
	}
}

// Partitions returns the names of the open partition contexts.
func (m *Manager) Partitions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.contexts))
	for name := range m.contexts {
		names = append(names, name)
	}
	return names
}

// NewSurface opens a root window in the partition.
func (m *Manager) NewSurface(ctx context.Context, pctx partition.Context, opts topology.SurfaceOptions) (topology.Surface, error) {
	c, ok := pctx.(*partitionContext)
	if !ok {
		return nil, fmt.Errorf("foreign partition context %T", pctx)
	}
	if c.isClosed() {
		return nil, errContextClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if opts.SingleTabMessage != "" {
		if err := c.installSingleTab(injection.SingleTabScript(opts.SingleTabMessage)); err != nil {
			m.logger.Warn("single-tab guard not installed", "partition", c.name, "error", err)
		}
	}

	p, err := c.takePage()
	if err != nil {
		return nil, fmt.Errorf("new page in %s: %w", c.name, err)
	}
	if opts.Width > 0 && opts.Height > 0 {
		if err := p.SetViewportSize(opts.Width, opts.Height); err != nil {
			m.logger.Debug("set viewport failed", "partition", c.name, "error", err)
		}
	}

	s := wrapPage(p, opts.Hooks, m.logger)
	if opts.Title != "" {
		_ = s.SetTitle(opts.Title)
	}
	return s, nil
}
