package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/playwright-community/playwright-go"

	"github.com/muatool/dashboard/internal/topology"
)

var errPageClosed = errors.New("page is closed")

// Page wraps a Playwright page as a tool window. It implements
// topology.Surface.
type Page struct {
	id     string
	page   playwright.Page
	hooks  topology.Hooks
	logger *slog.Logger

	closeOnce sync.Once
}

func newPageID() string {
	return fmt.Sprintf("page-%s", uuid.New().String()[:8])
}

// wrapPage adopts p and wires its events to hooks. Hooks run on their own
// goroutines so they never block the Playwright dispatcher.
func wrapPage(p playwright.Page, hooks topology.Hooks, logger *slog.Logger) *Page {
	pg := &Page{
		id:     newPageID(),
		page:   p,
		hooks:  hooks,
		logger: logger,
	}

	p.OnLoad(func(playwright.Page) {
		if hooks.OnLoad != nil {
			go hooks.OnLoad(pg)
		}
	})
	p.OnPopup(func(child playwright.Page) {
		go pg.popup(child)
	})
	p.OnClose(func(playwright.Page) {
		pg.closed()
	})
	return pg
}

func (p *Page) popup(child playwright.Page) {
	if p.hooks.AllowPopup != nil && !p.hooks.AllowPopup(p) {
		_ = child.Close()
		return
	}
	c := wrapPage(child, p.hooks, p.logger)
	p.logger.Debug("popup opened", "parent", p.id, "child", c.id, "url", child.URL())
	if p.hooks.OnPopup != nil {
		p.hooks.OnPopup(p, c)
	}
	if child.IsClosed() {
		c.closed()
	}
}

func (p *Page) closed() {
	p.closeOnce.Do(func() {
		if p.hooks.OnClose != nil {
			go p.hooks.OnClose(p)
		}
	})
}

func (p *Page) ID() string { return p.id }

func (p *Page) URL() string {
	if p.page.IsClosed() {
		return ""
	}
	return p.page.URL()
}

func (p *Page) IsClosed() bool { return p.page.IsClosed() }

// Eval runs script in the page and returns its JSON-encoded result.
func (p *Page) Eval(ctx context.Context, script string) (json.RawMessage, error) {
	if p.page.IsClosed() {
		return nil, errPageClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, err := p.page.Evaluate(script)
	if err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return raw, nil
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	if p.page.IsClosed() {
		return errPageClosed
	}
	if url == "" {
		return errors.New("navigate: empty url")
	}
	timeout := NavigationTimeout
	if dl, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(dl))
	}
	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

func (p *Page) SetTitle(title string) error {
	if p.page.IsClosed() {
		return nil
	}
	_, err := p.page.Evaluate(`(t) => { document.title = t }`, title)
	return err
}

func (p *Page) Focus() error {
	if p.page.IsClosed() {
		return nil
	}
	return p.page.BringToFront()
}

// Show brings the window forward. Browser windows cannot be hidden, so it is
// the same as Focus.
func (p *Page) Show() error { return p.Focus() }

func (p *Page) Close() error {
	if p.page.IsClosed() {
		return nil
	}
	if err := p.page.Close(); err != nil {
		return fmt.Errorf("close page: %w", err)
	}
	return nil
}
