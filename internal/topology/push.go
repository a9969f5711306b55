package topology

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/muatool/dashboard/internal/channel"
	"github.com/muatool/dashboard/internal/injection"
	"github.com/muatool/dashboard/internal/retry"
)

// Push events handled by the controller.
const (
	EventOpenToolTab      = "open-tool-tab"
	EventToolExpired      = "tool-expired"
	EventTokenBlocked     = "token-blocked"
	EventCheckTokenStatus = "check-token-status"
	EventShowNotice       = "show-notice"
	EventInjectionUpdate  = "injection-update"
)

const (
	msgToolExpired   = "Tool đã hết hạn!"
	msgTokenBlocked  = "Token đã bị khóa do đăng nhập trên máy khác. Tool sẽ đóng ngay."
	msgTokenConflict = "Phát hiện token conflict. Tool sẽ đóng để bảo mật."
	msgUpdateNotice  = "Bạn cần cập nhật tool để tiếp tục sử dụng."
	noticeTitle      = "Thông báo cập nhật"
)

// Registrar subscribes to authority pushes. *channel.Client satisfies it.
type Registrar interface {
	On(event string, fn channel.HandlerFunc)
}

type toolExpired struct {
	ToolCode  string     `json:"toolCode"`
	AccountID FlexString `json:"accountId"`
	Message   string     `json:"message"`
}

type tokenBlocked struct {
	Token string `json:"token"`
}

type tokenStatus struct {
	BlockedToken string `json:"blockedToken"`
}

type notice struct {
	Message string `json:"message"`
	Link    string `json:"link"`
}

// Subscribe wires the controller's push handlers.
func (c *Controller) Subscribe(r Registrar) {
	r.On(EventOpenToolTab, decode(c.logger, EventOpenToolTab, func(ctx context.Context, ev OpenTabEvent) {
		if _, err := c.Open(ctx, ev); err != nil {
			c.logger.Error("open tool failed", "tool", ev.ToolType, "error", err)
		}
	}))
	r.On(EventToolExpired, decode(c.logger, EventToolExpired, func(_ context.Context, ev toolExpired) {
		c.ToolExpired(Key{ToolType: ev.ToolCode, AccountID: string(ev.AccountID)}, ev.Message)
	}))
	r.On(EventTokenBlocked, decode(c.logger, EventTokenBlocked, func(_ context.Context, ev tokenBlocked) {
		c.TokenBlocked(ev.Token)
	}))
	r.On(EventCheckTokenStatus, decode(c.logger, EventCheckTokenStatus, func(_ context.Context, ev tokenStatus) {
		if ev.BlockedToken != "" {
			c.closeToken(ev.BlockedToken, msgTokenConflict)
		}
	}))
	r.On(EventShowNotice, decode(c.logger, EventShowNotice, func(_ context.Context, ev notice) {
		c.ShowNotice(ev.Message, ev.Link)
	}))
	r.On(EventInjectionUpdate, decode(c.logger, EventInjectionUpdate, func(ctx context.Context, u injection.Update) {
		c.ApplyUpdate(ctx, u)
	}))
}

func decode[T any](logger *slog.Logger, event string, fn func(context.Context, T)) channel.HandlerFunc {
	return func(ctx context.Context, payload json.RawMessage) {
		var v T
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &v); err != nil {
				logger.Warn("malformed push", "event", event, "error", err)
				return
			}
		}
		fn(ctx, v)
	}
}

// ToolExpired tells the user and closes every window of key.
func (c *Controller) ToolExpired(key Key, message string) int {
	if len(c.Windows(key)) == 0 {
		return 0
	}
	if message == "" {
		message = msgToolExpired
	}
	c.notifier.Notify(singleTabNoticeTitle, message)
	n := c.CloseKey(key)
	c.logger.Info("tool expired", "key", key.String(), "windows", n)
	return n
}

// TokenBlocked closes every window. With WithScopedTokenBlock only the
// windows opened with token go, unless token is empty. Entries are dropped
// at once; the windows close after an in-page alert.
func (c *Controller) TokenBlocked(token string) int {
	scope := ""
	if c.scopedBlock {
		scope = token
	}
	n := c.closeToken(scope, msgTokenBlocked)
	c.logger.Warn("token blocked", "windows", n, "scoped", scope != "")
	if c.onBlock != nil {
		c.onBlock(token)
	}
	return n
}

func (c *Controller) closeToken(token, message string) int {
	wins := c.detach(func(_ Key, root *Meta) bool {
		return token == "" || (root != nil && root.Token == token)
	})
	for _, s := range wins {
		go c.alertAndClose(s, message)
	}
	return len(wins)
}

func (c *Controller) alertAndClose(s Surface, message string) {
	if s.IsClosed() {
		return
	}
	ctx, cancel := context.WithTimeout(c.base, c.timing.CloseGrace+time.Second)
	defer cancel()
	// alert blocks the page until dismissed, so do not wait on it
	go func() { _, _ = s.Eval(ctx, injection.AlertScript(message)) }()
	retry.Sleep(c.base, c.timing.CloseGrace)
	_ = s.Close()
}

// ShowNotice forwards a server notice while any tool is open.
func (c *Controller) ShowNotice(message, link string) bool {
	if !c.HasOpenTools() {
		return false
	}
	if message == "" {
		message = msgUpdateNotice
	}
	if link != "" {
		message += "\nXem chi tiết: " + link
	}
	c.notifier.Notify(noticeTitle, message)
	return true
}

// ApplyUpdate runs a pushed script in every window of the tool and keeps it
// in each window's cached bundle so reloads replay it.
func (c *Controller) ApplyUpdate(ctx context.Context, u injection.Update) int {
	if u.ToolName == "" || strings.TrimSpace(u.InjectionCode) == "" {
		return 0
	}
	prefix := u.ToolName + "_"

	c.mu.Lock()
	var targets []injection.Target
	for key, e := range c.keys {
		if !strings.HasPrefix(key.String(), prefix) {
			continue
		}
		for _, id := range e.windows {
			w, ok := c.windows[id]
			if !ok {
				continue
			}
			targets = append(targets, w.surface)
			if w.meta.Injections == nil {
				w.meta.Injections = &injection.Bundle{}
			}
			if w.meta.Injections.ManualToolInjection != "" {
				w.meta.Injections.ManualToolInjection += "\n;"
			}
			w.meta.Injections.ManualToolInjection += u.InjectionCode
		}
	}
	c.mu.Unlock()

	return c.pipeline.HandleUpdate(ctx, u, targets)
}
