package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/playwright-community/playwright-go"

	"github.com/muatool/dashboard/internal/partition"
)

var errContextClosed = errors.New("partition context is closed")

// partitionContext is one persistent browser context. It implements
// partition.Context.
type partitionContext struct {
	name   string
	bc     playwright.BrowserContext
	logger *slog.Logger
	audit  *cdpAuditLogger
	onGone func(*partitionContext)

	mu        sync.Mutex
	closed    bool
	routed    bool
	singleTab bool
	// blank is the page the persistent context opens with; the first window
	// takes it over instead of leaving an empty tab behind.
	blank playwright.Page
}

func (c *partitionContext) Name() string { return c.name }

func (c *partitionContext) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *partitionContext) SetCookie(ctx context.Context, ck partition.Cookie, rawURL string) error {
	if c.isClosed() {
		return errContextClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.bc.AddCookies([]playwright.OptionalCookie{toOptionalCookie(ck, rawURL)}); err != nil {
		return fmt.Errorf("set cookie %s: %w", ck.Name, err)
	}
	return nil
}

func (c *partitionContext) Cookies(ctx context.Context) ([]partition.Cookie, error) {
	if c.isClosed() {
		return nil, errContextClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := c.bc.Cookies()
	if err != nil {
		return nil, fmt.Errorf("get cookies: %w", err)
	}
	out := make([]partition.Cookie, 0, len(raw))
	for _, ck := range raw {
		out = append(out, fromCookie(ck))
	}
	return out, nil
}

func (c *partitionContext) Clear(ctx context.Context) error {
	if c.isClosed() {
		return errContextClosed
	}
	if err := c.clearSiteData(ctx); err != nil {
		return fmt.Errorf("clear %s: %w", c.name, err)
	}
	return nil
}

// InterceptHeaders routes every request through fn. Requests fn leaves alone
// fall through unchanged.
func (c *partitionContext) InterceptHeaders(fn partition.HeaderFunc) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errContextClosed
	}
	if c.routed {
		c.mu.Unlock()
		return nil
	}
	c.routed = true
	c.mu.Unlock()

	err := c.bc.Route("**/*", func(route playwright.Route) {
		req := route.Request()
		extra := fn(requestHost(req.URL()))
		if len(extra) == 0 {
			_ = route.Continue()
			return
		}
		if err := route.Continue(playwright.RouteContinueOptions{Headers: mergeHeaders(req.Headers(), extra)}); err != nil {
			c.logger.Debug("route continue failed", "partition", c.name, "error", err)
		}
	})
	if err != nil {
		c.mu.Lock()
		c.routed = false
		c.mu.Unlock()
		return fmt.Errorf("install header route: %w", err)
	}
	return nil
}

func (c *partitionContext) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if c.onGone != nil {
		c.onGone(c)
	}
	if err := c.bc.Close(); err != nil {
		return fmt.Errorf("close %s: %w", c.name, err)
	}
	return nil
}

// markGone records a context closed from the browser side. It runs on the
// Playwright dispatcher and must not block it.
func (c *partitionContext) markGone() {
	c.mu.Lock()
	already := c.closed
	c.closed = true
	c.mu.Unlock()
	if !already && c.onGone != nil {
		go c.onGone(c)
	}
}

// anyPage returns an open page of the context, opening one if needed.
func (c *partitionContext) anyPage() (playwright.Page, error) {
	for _, p := range c.bc.Pages() {
		if !p.IsClosed() {
			return p, nil
		}
	}
	p, err := c.bc.NewPage()
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	return p, nil
}

// takePage returns the context's initial blank page once, then new pages.
func (c *partitionContext) takePage() (playwright.Page, error) {
	c.mu.Lock()
	blank := c.blank
	c.blank = nil
	c.mu.Unlock()
	if blank != nil && !blank.IsClosed() {
		return blank, nil
	}
	return c.bc.NewPage()
}

// installSingleTab blocks window.open in every page of the context.
func (c *partitionContext) installSingleTab(script string) error {
	c.mu.Lock()
	if c.singleTab {
		c.mu.Unlock()
		return nil
	}
	c.singleTab = true
	c.mu.Unlock()
	if err := c.bc.AddInitScript(playwright.Script{Content: playwright.String(script)}); err != nil {
		return fmt.Errorf("add init script: %w", err)
	}
	return nil
}

func requestHost(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// mergeHeaders overlays extra onto base. Header names compare
// case-insensitively and extra wins.
func mergeHeaders(base, extra map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		out[strings.ToLower(k)] = v
	}
	for k, v := range extra {
		out[strings.ToLower(k)] = v
	}
	return out
}
