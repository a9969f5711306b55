// Package entitlement is the facade over the authority channel for credit
// checks, tool actions, and session, account and token calls. Every call
// returns a Result; failures never surface as Go errors.
package entitlement

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/muatool/dashboard/internal/channel"
	"github.com/muatool/dashboard/internal/retry"
)

// Requester is the slice of the channel the gateway needs.
type Requester interface {
	Request(ctx context.Context, event string, payload, out any) error
	Emit(event string, payload any) error
}

const (
	rateLimitMarker  = "Rate limit exceeded"
	rateLimitMessage = "Rate limit exceeded. Vui lòng đợi 1-2 phút rồi thử lại."
	openRateMessage  = "Rate limit exceeded. Bạn đang mở tool quá nhanh. Vui lòng đợi 1-2 phút rồi thử lại."

	defaultAction    = "general"
	defaultOpenDelay = 500 * time.Millisecond
)

// Gateway issues entitlement calls over a Requester.
type Gateway struct {
	req       Requester
	cache     *Cache
	logger    *slog.Logger
	openDelay time.Duration
}

// Option configures a Gateway.
type Option func(*Gateway)

func WithCache(c *Cache) Option {
	return func(g *Gateway) { g.cache = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// WithOpenDelay sets the pause between the open credit check and the
// user-open-tool emit.
func WithOpenDelay(d time.Duration) Option {
	return func(g *Gateway) { g.openDelay = d }
}

func New(req Requester, opts ...Option) *Gateway {
	g := &Gateway{
		req:       req,
		logger:    slog.Default().With("component", "entitlement"),
		openDelay: defaultOpenDelay,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.cache == nil {
		g.cache = NewCache(DefaultCacheTTL, nil)
	}
	return g
}

// Cache exposes the credit cache.
func (g *Gateway) Cache() *Cache { return g.cache }

// CheckCredit reports whether token may perform action on tool. Successful
// answers are cached; a rate-limit answer is normalized to CodeRateLimit.
func (g *Gateway) CheckCredit(ctx context.Context, token, tool, action string) Result {
	if action == "" {
		action = defaultAction
	}
	if r, ok := g.cache.Get(token, tool, action); ok {
		g.logger.Debug("credit cache hit", "tool", tool, "action", action)
		return r
	}

	gen := g.cache.Generation(token, tool)
	r := g.call(ctx, "check-user-credit", map[string]any{
		"token":     token,
		"tool_name": tool,
		"action":    action,
	})
	if strings.Contains(r.Error, rateLimitMarker) {
		g.logger.Warn("credit check rate limited", "tool", tool)
		return Result{Error: rateLimitMessage, Code: CodeRateLimit, RetryAfter: RateLimitRetryAfter}
	}
	if r.Success && !g.cache.SetIfCurrent(token, tool, action, r, gen) {
		g.logger.Debug("credit answer outdated by an action, not cached", "tool", tool, "action", action)
	}
	return r
}

// PerformAction asks the authority to perform the action. Cached credit for
// (token, tool) is invalidated before the call and again once it resolves,
// so checks that overlapped the action are not reused.
func (g *Gateway) PerformAction(ctx context.Context, token, tool, action string, params map[string]any) Result {
	if n := g.cache.InvalidateTool(token, tool); n > 0 {
		g.logger.Debug("credit cache invalidated", "tool", tool, "entries", n)
	}
	if params == nil {
		params = map[string]any{}
	}
	r := g.call(ctx, "perform-tool-action", map[string]any{
		"token":     token,
		"tool_name": tool,
		"action":    action,
		"params":    params,
	})
	g.cache.InvalidateTool(token, tool)
	return r
}

func (g *Gateway) GetToolState(ctx context.Context, token, tool string) Result {
	return g.call(ctx, "get-tool-state", map[string]any{"token": token, "tool_name": tool})
}

func (g *Gateway) UpdateToolState(ctx context.Context, token, tool string, updates map[string]any) Result {
	return g.call(ctx, "update-tool-state", map[string]any{
		"token":         token,
		"tool_name":     tool,
		"state_updates": updates,
	})
}

func (g *Gateway) InitSession(ctx context.Context, token, tool, toolID, clientID string) Result {
	return g.call(ctx, "init-tool-session", map[string]any{
		"token":     token,
		"tool_name": tool,
		"tool_id":   toolID,
		"client_id": clientID,
	})
}

func (g *Gateway) CloseSession(ctx context.Context, token, tool, sessionID string) Result {
	return g.call(ctx, "close-tool-session", map[string]any{
		"token":      token,
		"tool_name":  tool,
		"session_id": sessionID,
	})
}

// LatestPartition asks the authority which partition to use for a key.
func (g *Gateway) LatestPartition(ctx context.Context, toolType, accountID string) Result {
	return g.call(ctx, "get-latest-partition", map[string]any{"tool_type": toolType, "account_id": accountID})
}

// ToolCookies, TokenInfo and the account and token calls forward body as-is.

func (g *Gateway) ToolCookies(ctx context.Context, body map[string]any) Result {
	return g.call(ctx, "get-tool-cookies", body)
}

func (g *Gateway) TokenInfo(ctx context.Context, body map[string]any) Result {
	return g.call(ctx, "get-token-info", body)
}

func (g *Gateway) AddAccount(ctx context.Context, body map[string]any) Result {
	return g.call(ctx, "add-account", body)
}

func (g *Gateway) UpdateAccount(ctx context.Context, id string, body map[string]any) Result {
	merged := make(map[string]any, len(body)+1)
	for k, v := range body {
		merged[k] = v
	}
	merged["id"] = id
	return g.call(ctx, "update-account", merged)
}

func (g *Gateway) DeleteAccount(ctx context.Context, id string) Result {
	return g.call(ctx, "delete-account", map[string]any{"id": id})
}

func (g *Gateway) AccountList(ctx context.Context) Result {
	return g.call(ctx, "get-account-list", map[string]any{})
}

// TokenAdmin events accepted by Tokens.
const (
	TokensList     = "get-tokens"
	TokensSearch   = "search-tokens"
	TokensGenerate = "generate-token"
	TokensForce    = "force-generate-token"
	TokensDelete   = "delete-token"
	TokensSetTool  = "admin-set-tool"
)

// Tokens runs one of the token administration calls.
func (g *Gateway) Tokens(ctx context.Context, event string, body map[string]any) Result {
	switch event {
	case TokensList, TokensSearch, TokensGenerate, TokensForce, TokensDelete, TokensSetTool:
	default:
		return Failure("INVALID_REQUEST", "unknown token operation: "+event)
	}
	if body == nil {
		body = map[string]any{}
	}
	return g.call(ctx, event, body)
}

// RequestOpen runs the open-tool flow: an "open" credit check, a short pause
// and then user-open-tool. The authority answers with an open-tool-tab push.
func (g *Gateway) RequestOpen(ctx context.Context, token, tool string) Result {
	check := g.CheckCredit(ctx, token, tool, "open")
	if !check.Success {
		if check.Code == CodeRateLimit {
			return Result{Error: openRateMessage, Code: CodeRateLimit, RetryAfter: check.RetryAfter}
		}
		g.logger.Info("open denied", "tool", tool, "error", check.Error)
		return Result{Error: check.Error, Code: check.Code}
	}

	if !retry.Sleep(ctx, g.openDelay) {
		return Failure(CodeChannelError, ctx.Err().Error())
	}
	if err := g.req.Emit("user-open-tool", map[string]any{"token": token, "tool": tool}); err != nil {
		return g.failure("user-open-tool", err)
	}
	return Result{Success: true, Data: map[string]any{"message": "Tool opening"}}
}

func (g *Gateway) call(ctx context.Context, event string, payload any) Result {
	var raw json.RawMessage
	if err := g.req.Request(ctx, event, payload, &raw); err != nil {
		return g.failure(event, err)
	}
	if len(raw) == 0 || string(raw) == "null" {
		return Failure(CodeChannelError, "No response from server")
	}

	var r Result
	if err := json.Unmarshal(raw, &r); err != nil {
		g.logger.Warn("malformed response", "event", event, "error", err)
		return Failure(channel.CodeBadResponse, err.Error())
	}
	return r
}

func (g *Gateway) failure(event string, err error) Result {
	code := channel.ErrorCode(err)
	if code == "" {
		code = CodeChannelError
	}
	g.logger.Warn("request failed", "event", event, "code", code, "error", err)
	return Failure(code, err.Error())
}
