// Package injection fetches script bundles from the authority and runs them
// in tool pages in a fixed order.
package injection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/muatool/dashboard/internal/retry"
)

// Bundle is the script set the authority serves per tool.
type Bundle struct {
	Common              []string `json:"common"`
	SocketClient        string   `json:"socketClient"`
	ManualToolInjection string   `json:"manualToolInjection"`
}

// Clone returns a copy that shares no slices with b.
func (b *Bundle) Clone() *Bundle {
	if b == nil {
		return nil
	}
	c := *b
	c.Common = append([]string(nil), b.Common...)
	return &c
}

// Target is a page scripts run in.
type Target interface {
	Eval(ctx context.Context, script string) (json.RawMessage, error)
	URL() string
	IsClosed() bool
}

// Requester sends a correlated request to the authority.
type Requester interface {
	Request(ctx context.Context, event string, payload, out any) error
}

// Update is the payload of an injection-update push.
type Update struct {
	ToolName      string `json:"tool_name"`
	UpdateType    string `json:"update_type"`
	InjectionCode string `json:"injection_code"`
}

// Report counts what Apply did.
type Report struct {
	Executed int
	Failed   int
	Skipped  int
	Errors   []string
}

// OK reports whether no script failed.
func (r Report) OK() bool { return r.Failed == 0 }

// ErrTargetClosed is returned by ApplyRetry when the page went away.
var ErrTargetClosed = errors.New("injection: target closed")

const requestEvent = "request-tool-injections"

// Pipeline requests and applies bundles.
type Pipeline struct {
	req          Requester
	registry     *Registry
	logger       *slog.Logger
	fetch        retry.Policy
	commonGap    time.Duration
	socketSettle time.Duration
}

type Option func(*Pipeline)

func WithRegistry(r *Registry) Option {
	return func(p *Pipeline) { p.registry = r }
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithFetchPolicy overrides the bundle request retry policy.
func WithFetchPolicy(pol retry.Policy) Option {
	return func(p *Pipeline) { p.fetch = pol }
}

// WithDelays sets the pause after each common script and after the socket
// client.
func WithDelays(commonGap, socketSettle time.Duration) Option {
	return func(p *Pipeline) {
		p.commonGap = commonGap
		p.socketSettle = socketSettle
	}
}

func NewPipeline(req Requester, opts ...Option) *Pipeline {
	p := &Pipeline{
		req:          req,
		logger:       slog.Default().With("component", "injection"),
		fetch:        retry.FixedPolicy(3, time.Second),
		commonGap:    100 * time.Millisecond,
		socketSettle: 200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.registry == nil {
		p.registry = NewRegistry()
	}
	return p
}

// Registry returns the site patch registry.
func (p *Pipeline) Registry() *Registry { return p.registry }

// RequestBundle asks the authority for the tool's bundle. An unsuccessful
// answer counts as a failed attempt.
func (p *Pipeline) RequestBundle(ctx context.Context, token, tool, toolID string) (*Bundle, error) {
	var bundle *Bundle
	err := retry.Do(ctx, p.fetch, func(ctx context.Context, attempt int) error {
		var resp struct {
			Success    bool    `json:"success"`
			Error      string  `json:"error"`
			Injections *Bundle `json:"injections"`
		}
		payload := map[string]string{"token": token, "tool_name": tool, "tool_id": toolID}
		if err := p.req.Request(ctx, requestEvent, payload, &resp); err != nil {
			p.logger.Warn("bundle request failed", "tool", tool, "attempt", attempt, "error", err)
			return err
		}
		if !resp.Success || resp.Injections == nil {
			msg := resp.Error
			if msg == "" {
				msg = "Failed to get injection system"
			}
			p.logger.Warn("bundle refused", "tool", tool, "attempt", attempt, "error", msg)
			return errors.New(msg)
		}
		bundle = resp.Injections
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("request injections for %s: %w", tool, err)
	}
	return bundle, nil
}

// Apply runs the bundle's scripts in order, common scripts, then the socket
// client, then the manual tool script, then registry patches for the
// target's host. A failing script does not stop the rest.
func (p *Pipeline) Apply(ctx context.Context, t Target, b *Bundle) Report {
	var rep Report
	if b != nil {
		for _, s := range b.Common {
			if p.run(ctx, t, "common", s, &rep) {
				retry.Sleep(ctx, p.commonGap)
			}
		}
		if p.run(ctx, t, "socket-client", b.SocketClient, &rep) {
			retry.Sleep(ctx, p.socketSettle)
		}
		p.run(ctx, t, "manual", b.ManualToolInjection, &rep)
	}
	for _, patch := range p.registry.Patches(t.URL()) {
		p.run(ctx, t, "patch:"+patch.Name, patch.Script, &rep)
	}
	return rep
}

// ApplyRetry runs Apply and repeats it while the page rejected every script,
// which means it was not ready yet. It stops once the target closes.
func (p *Pipeline) ApplyRetry(ctx context.Context, t Target, b *Bundle, pol retry.Policy) (Report, error) {
	var rep Report
	err := retry.Do(ctx, pol, func(ctx context.Context, attempt int) error {
		if t.IsClosed() {
			return retry.Permanent(ErrTargetClosed)
		}
		rep = p.Apply(ctx, t, b)
		if rep.Executed == 0 && rep.Failed > 0 {
			return fmt.Errorf("injection attempt %d: %s", attempt, strings.Join(rep.Errors, "; "))
		}
		return nil
	})
	return rep, err
}

// HandleUpdate runs a pushed update in every target and returns how many
// accepted it.
func (p *Pipeline) HandleUpdate(ctx context.Context, u Update, targets []Target) int {
	applied := 0
	for _, t := range targets {
		var rep Report
		if p.run(ctx, t, "update:"+u.UpdateType, u.InjectionCode, &rep) {
			applied++
		}
	}
	p.logger.Info("injection update applied", "tool", u.ToolName, "type", u.UpdateType, "windows", applied)
	return applied
}

// run executes one script and reports whether it ran without error.
func (p *Pipeline) run(ctx context.Context, t Target, label, script string, rep *Report) bool {
	if strings.TrimSpace(script) == "" {
		return false
	}
	if ctx.Err() != nil || t.IsClosed() {
		rep.Skipped++
		return false
	}
	if _, err := t.Eval(ctx, script); err != nil {
		rep.Failed++
		rep.Errors = append(rep.Errors, label+": "+err.Error())
		p.logger.Warn("script failed", "script", label, "url", t.URL(), "error", err)
		return false
	}
	rep.Executed++
	return true
}
