package topology

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/muatool/dashboard/internal/injection"
	"github.com/muatool/dashboard/internal/partition"
	"github.com/muatool/dashboard/internal/retry"
)

const (
	rootReapplyAttempts  = 3
	childSyncAttempts    = 3
	childInjectAttempts  = 3
	childReloadAttempts  = 2
	singleTabNoticeTitle = "Thông báo"
)

func (c *Controller) allowPopup(parent Surface) bool {
	w := c.window(parent.ID())
	if w == nil {
		return true
	}
	msg, denied := c.singleTab[w.meta.ToolType]
	if !denied {
		return true
	}
	c.logger.Info("popup denied for single-tab tool", "tool", w.meta.ToolType)
	c.notifier.Notify(singleTabNoticeTitle, msg)
	return false
}

// onPopup stamps a new child with its creator's metadata and brings its
// storage in line with the creator's.
func (c *Controller) onPopup(parent, child Surface) {
	pw := c.window(parent.ID())
	if pw == nil {
		c.logger.Warn("popup from unknown window", "parent", parent.ID())
		return
	}
	if !c.allowPopup(parent) {
		_ = child.Close()
		return
	}

	c.mu.Lock()
	meta := pw.meta.inherit(parent.ID())
	c.mu.Unlock()

	handle := c.handle(meta.Partition)
	if len(meta.Cookies) == 0 && handle != nil {
		if live, err := handle.Context.Cookies(pw.ctx); err == nil {
			meta.Cookies = usableCookies(live)
		} else {
			c.logger.Warn("read partition cookies failed", "partition", meta.Partition, "error", err)
		}
	}

	cw := c.register(pw.key, child, handle, meta)
	c.notify(pw.key)
	c.logger.Info("child window registered", "key", pw.key.String(), "window", child.ID(), "parent", parent.ID(),
		"cookies", len(meta.Cookies), "injections", meta.Injections != nil)

	go c.propagate(pw, cw)
}

func (c *Controller) propagate(parent, child *window) {
	child.loadMu.Lock()
	defer child.loadMu.Unlock()
	ctx := child.ctx

	err := retry.Do(ctx, retry.Policy{Attempts: childSyncAttempts, Delay: retry.Linear(c.timing.ChildSync)},
		func(ctx context.Context, _ int) error {
			return c.syncFrom(ctx, parent, child)
		})
	if err != nil {
		c.logger.Warn("child sync failed", "window", child.surface.ID(), "error", err)
	}

	if c.bundle(child) == nil {
		return
	}
	delay := c.timing.ChildInject
	if d, ok := c.timing.InjectDelay[child.meta.ToolType]; ok {
		delay = d
	}
	if !retry.Sleep(ctx, delay) {
		return
	}
	c.inject(ctx, child, retry.FixedPolicy(childInjectAttempts, c.timing.ChildInjectRetry))
}

func (c *Controller) onLoad(s Surface) {
	w := c.window(s.ID())
	if w == nil {
		return
	}
	w.loadMu.Lock()
	defer w.loadMu.Unlock()

	if w.meta.ParentID == "" {
		c.rootLoaded(w)
	} else {
		c.childLoaded(w)
	}
}

func (c *Controller) rootLoaded(w *window) {
	ctx := w.ctx
	first := !w.loaded
	w.loaded = true

	if first {
		c.writeStorage(ctx, w)
		if w.meta.Token == "" {
			c.logger.Info("no token, skipping injections", "key", w.key.String())
			return
		}
		bundle, err := c.pipeline.RequestBundle(ctx, w.meta.Token, w.meta.ToolType, w.meta.AccountID)
		if err != nil {
			c.logger.Error("injection bundle unavailable", "key", w.key.String(), "error", err)
			return
		}
		c.mu.Lock()
		w.meta.Injections = bundle
		c.mu.Unlock()
		c.inject(ctx, w, retry.FixedPolicy(rootReapplyAttempts, c.timing.RootReapply))
		return
	}

	if !retry.Sleep(ctx, c.timing.ReloadSettle) {
		return
	}
	c.writeStorage(ctx, w)
	if c.bundle(w) != nil {
		c.inject(ctx, w, retry.FixedPolicy(rootReapplyAttempts, c.timing.RootReapply))
	}
}

func (c *Controller) childLoaded(w *window) {
	ctx := w.ctx
	w.loaded = true

	parent := c.window(w.meta.ParentID)
	if parent == nil {
		// the creator closed; the child keeps what it inherited
		parent = w
	}
	err := retry.Do(ctx, retry.FixedPolicy(childReloadAttempts, c.timing.ChildReloadSync), func(ctx context.Context, _ int) error {
		return c.syncFrom(ctx, parent, w)
	})
	if err != nil {
		c.logger.Warn("child reload sync failed", "window", w.surface.ID(), "error", err)
	}
	if c.bundle(w) != nil {
		c.inject(ctx, w, retry.FixedPolicy(childReloadAttempts, c.timing.ChildReloadInject))
	}
}

// inject applies the window's cached bundle and then its credit info.
func (c *Controller) inject(ctx context.Context, w *window, pol retry.Policy) {
	bundle := c.bundle(w)
	rep, err := c.pipeline.ApplyRetry(ctx, w.surface, bundle, pol)
	if err != nil {
		if !errors.Is(err, injection.ErrTargetClosed) {
			c.logger.Warn("injection failed", "window", w.surface.ID(), "error", err)
		}
		return
	}
	c.mu.Lock()
	tool, credit := w.meta.ToolType, w.meta.ToolData.Credit
	c.mu.Unlock()
	if _, err := w.surface.Eval(ctx, injection.CreditInfoScript(tool, credit)); err != nil {
		c.logger.Debug("credit info failed", "window", w.surface.ID(), "error", err)
	}
	c.logger.Debug("injections applied", "window", w.surface.ID(), "executed", rep.Executed, "failed", rep.Failed)
}

func (c *Controller) bundle(w *window) *injection.Bundle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return w.meta.Injections.Clone()
}

func (c *Controller) writeStorage(ctx context.Context, w *window) {
	c.mu.Lock()
	ls := w.meta.LocalStorage
	c.mu.Unlock()
	if len(ls) == 0 {
		return
	}
	if _, err := w.surface.Eval(ctx, injection.LocalStorageScript(ls)); err != nil {
		c.logger.Warn("localStorage injection failed", "window", w.surface.ID(), "error", err)
	}
}

// syncFrom copies cookies into the child's partition and, for storage-sync
// tools, the parent's local and session storage into the child page.
func (c *Controller) syncFrom(ctx context.Context, parent, child *window) error {
	if child.surface.IsClosed() {
		return retry.Permanent(injection.ErrTargetClosed)
	}

	c.mu.Lock()
	cookies := append([]partition.Cookie(nil), child.meta.Cookies...)
	local := child.meta.LocalStorage
	tool := child.meta.ToolType
	name := child.meta.Partition
	c.mu.Unlock()

	if h := c.handle(name); h != nil && len(cookies) > 0 {
		sum := c.parts.ApplyCookies(ctx, h.Context, cookies)
		if sum.Applied == 0 {
			return fmt.Errorf("cookie sync: %d of %d failed", sum.Failed, len(cookies))
		}
	}

	if !c.storageSync[tool] {
		return nil
	}

	if len(local) == 0 && parent != child {
		local = snapshot(ctx, parent.surface, injection.LocalStorage)
	}
	if len(local) > 0 {
		if _, err := child.surface.Eval(ctx, injection.LocalStorageScript(local)); err != nil {
			return fmt.Errorf("localStorage sync: %w", err)
		}
	}

	if parent != child {
		if session := snapshot(ctx, parent.surface, injection.SessionStorage); len(session) > 0 {
			if _, err := child.surface.Eval(ctx, injection.SessionStorageScript(session)); err != nil {
				return fmt.Errorf("sessionStorage sync: %w", err)
			}
		}
	}
	return nil
}

// snapshot reads a page's storage. Failures yield an empty snapshot.
func snapshot(ctx context.Context, s Surface, kind injection.StorageKind) map[string]any {
	if s.IsClosed() {
		return nil
	}
	raw, err := s.Eval(ctx, injection.SnapshotStorageScript(kind))
	if err != nil {
		return nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return nil
	}
	m, err := NormalizeStorage(json.RawMessage(text))
	if err != nil {
		return nil
	}
	return m
}

func usableCookies(in []partition.Cookie) []partition.Cookie {
	out := in[:0:0]
	for _, ck := range in {
		if ck.Domain != "" && ck.Name != "" {
			out = append(out, ck)
		}
	}
	return out
}
