// Package topology owns tool windows: one root per (tool, account) key plus
// every window it spawns, and the metadata each carries.
package topology

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/muatool/dashboard/internal/injection"
	"github.com/muatool/dashboard/internal/partition"
)

const (
	rootWidth  = 1980
	rootHeight = 800

	eventCloseTool    = "user-close-tool"
	eventForceCleanup = "force-cleanup-token-tools"
)

// Timing holds the controller's delays.
type Timing struct {
	ReloadSettle      time.Duration
	RootReapply       time.Duration
	ChildSync         time.Duration
	ChildReloadSync   time.Duration
	ChildInject       time.Duration
	ChildInjectRetry  time.Duration
	ChildReloadInject time.Duration
	CloseGrace        time.Duration
	ForceCleanup      time.Duration
	// InjectDelay overrides ChildInject per tool.
	InjectDelay map[string]time.Duration
}

// DefaultTiming is used unless WithTiming overrides it.
var DefaultTiming = Timing{
	ReloadSettle:      300 * time.Millisecond,
	RootReapply:       600 * time.Millisecond,
	ChildSync:         500 * time.Millisecond,
	ChildReloadSync:   300 * time.Millisecond,
	ChildInject:       300 * time.Millisecond,
	ChildInjectRetry:  500 * time.Millisecond,
	ChildReloadInject: 400 * time.Millisecond,
	CloseGrace:        time.Second,
	ForceCleanup:      500 * time.Millisecond,
	InjectDelay: map[string]time.Duration{
		"freepik": 500 * time.Millisecond,
		"ahrefs":  400 * time.Millisecond,
	},
}

// Change is reported to the observer whenever a key changes state.
type Change struct {
	Key     Key
	State   State
	Windows int
}

type window struct {
	surface Surface
	key     Key
	meta    *Meta
	ctx     context.Context
	cancel  context.CancelFunc
	// serializes load handling so cookie sync always precedes injection
	loadMu sync.Mutex
	loaded bool
}

type keyEntry struct {
	state   State
	windows []string
}

type partitionRef struct {
	handle  *partition.Handle
	windows int
}

// Controller is the window topology. All maps are guarded by mu.
type Controller struct {
	factory  Factory
	parts    Partitions
	pipeline *injection.Pipeline
	emitter  Emitter
	notifier Notifier
	logger   *slog.Logger
	timing   Timing
	observe  func(Change)
	onBlock  func(token string)

	// scopedBlock limits token-blocked to windows opened with that token.
	scopedBlock bool

	singleTab   map[string]string
	storageSync map[string]bool

	flights singleflight.Group
	base    context.Context
	stop    context.CancelFunc

	mu         sync.Mutex
	keys       map[Key]*keyEntry
	windows    map[string]*window
	partitions map[string]*partitionRef
}

type Option func(*Controller)

func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

func WithTiming(t Timing) Option {
	return func(c *Controller) { c.timing = t }
}

func WithNotifier(n Notifier) Option {
	return func(c *Controller) { c.notifier = n }
}

// WithObserver receives every key state change.
func WithObserver(fn func(Change)) Option {
	return func(c *Controller) { c.observe = fn }
}

// WithBlockedHook runs after a token-blocked push closed its windows.
func WithBlockedHook(fn func(token string)) Option {
	return func(c *Controller) { c.onBlock = fn }
}

// WithScopedTokenBlock makes a token-blocked push close only the windows
// opened with the blocked token instead of every window.
func WithScopedTokenBlock() Option {
	return func(c *Controller) { c.scopedBlock = true }
}

// WithSingleTab replaces the tools whose windows may not spawn popups,
// mapped to the message the user sees.
func WithSingleTab(tools map[string]string) Option {
	return func(c *Controller) { c.singleTab = tools }
}

type nopNotifier struct{}

func (nopNotifier) Notify(string, string) {}

type nopEmitter struct{}

func (nopEmitter) Emit(string, any) error { return nil }

func New(factory Factory, parts Partitions, pipeline *injection.Pipeline, emitter Emitter, opts ...Option) *Controller {
	base, stop := context.WithCancel(context.Background())
	c := &Controller{
		factory:  factory,
		parts:    parts,
		pipeline: pipeline,
		emitter:  emitter,
		notifier: nopNotifier{},
		logger:   slog.Default().With("component", "topology"),
		timing:   DefaultTiming,
		singleTab: map[string]string{
			"freepik": "Freepik chỉ cho phép sử dụng trên 1 tab chính, không được mở tab mới!",
		},
		storageSync: map[string]bool{
			"ahrefs": true, "freepik": true, "keywordtool": true, "majestic": true,
		},
		base:       base,
		stop:       stop,
		keys:       make(map[Key]*keyEntry),
		windows:    make(map[string]*window),
		partitions: make(map[string]*partitionRef),
	}
	if c.emitter == nil {
		c.emitter = nopEmitter{}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Open opens the tool window for ev's key. If the key is already opening or
// open the existing root is focused instead. Concurrent opens of one key
// share a single flight.
func (c *Controller) Open(ctx context.Context, ev OpenTabEvent) (OpenResult, error) {
	key := ev.Key()
	if key.ToolType == "" {
		return OpenResult{}, fmt.Errorf("open tool: missing tool_type")
	}
	v, err, _ := c.flights.Do(key.String(), func() (any, error) {
		return c.open(ctx, key, ev)
	})
	if err != nil {
		return OpenResult{Key: key}, err
	}
	return v.(OpenResult), nil
}

func (c *Controller) open(ctx context.Context, key Key, ev OpenTabEvent) (OpenResult, error) {
	c.mu.Lock()
	if e, ok := c.keys[key]; ok {
		var root *window
		if len(e.windows) > 0 {
			root = c.windows[e.windows[0]]
		}
		c.mu.Unlock()
		res := OpenResult{Key: key, AlreadyOpen: true}
		if root != nil {
			res.WindowID = root.surface.ID()
			res.Partition = root.meta.Partition
			_ = root.surface.Show()
			_ = root.surface.Focus()
		}
		c.logger.Info("tool already open, focusing", "key", key.String())
		return res, nil
	}
	c.keys[key] = &keyEntry{state: Opening}
	c.mu.Unlock()
	c.notify(key)

	res, err := c.create(ctx, key, ev)
	if err != nil {
		c.mu.Lock()
		if e, ok := c.keys[key]; ok && len(e.windows) == 0 {
			delete(c.keys, key)
		}
		c.mu.Unlock()
		c.notify(key)
		return res, err
	}
	return res, nil
}

func (c *Controller) create(ctx context.Context, key Key, ev OpenTabEvent) (OpenResult, error) {
	res := OpenResult{Key: key}

	cookies, err := partition.NormalizeCookies(ev.Cookies)
	if err != nil {
		c.logger.Warn("ignoring malformed cookies", "key", key.String(), "error", err)
	}
	storage, err := NormalizeStorage(ev.LocalStorage)
	if err != nil {
		c.logger.Warn("ignoring malformed localstorage", "key", key.String(), "error", err)
	}

	handle, sum, err := c.parts.Provision(ctx, partition.Request{
		ToolCode:  key.ToolType,
		AccountID: key.AccountID,
		Cookies:   cookies,
		Proxy:     ev.ProxyCookie,
		UserAgent: strings.TrimSpace(ev.UserAgent),
	})
	if err != nil {
		return res, fmt.Errorf("provision %s: %w", key, err)
	}
	res.Partition = handle.Name
	res.Cookies = sum

	s, err := c.factory.NewSurface(ctx, handle.Context, SurfaceOptions{
		Title:            fmt.Sprintf("Tool %s - User", key.ToolType),
		Width:            rootWidth,
		Height:           rootHeight,
		SingleTabMessage: c.singleTab[key.ToolType],
		Hooks:            c.hooks(),
	})
	if err != nil {
		c.releaseUnused(handle.Name)
		return res, fmt.Errorf("create window for %s: %w", key, err)
	}
	res.WindowID = s.ID()

	c.register(key, s, handle, &Meta{
		Token:        ev.Token,
		ToolType:     key.ToolType,
		AccountID:    key.AccountID,
		Partition:    handle.Name,
		UserAgent:    strings.TrimSpace(ev.UserAgent),
		ToolData:     ev.ToolData(),
		Cookies:      cookies,
		LocalStorage: storage,
	})

	target := ev.URL
	if target == "" {
		target = ev.LoginURL
	}
	if err := s.Navigate(ctx, target); err != nil {
		c.logger.Warn("initial navigation failed", "key", key.String(), "url", target, "error", err)
	}
	_ = s.SetTitle(fmt.Sprintf("Tool %s - User", key.ToolType))

	c.mu.Lock()
	if e, ok := c.keys[key]; ok {
		e.state = Open
	}
	c.mu.Unlock()
	c.notify(key)

	c.logger.Info("tool opened", "key", key.String(), "partition", handle.Name, "cookies", sum.Applied)
	return res, nil
}

func (c *Controller) hooks() Hooks {
	return Hooks{
		AllowPopup: c.allowPopup,
		OnPopup:    c.onPopup,
		OnLoad:     c.onLoad,
		OnClose:    c.onClose,
	}
}

// register adds s to the side-table and the key set.
func (c *Controller) register(key Key, s Surface, handle *partition.Handle, meta *Meta) *window {
	ctx, cancel := context.WithCancel(c.base)
	w := &window{surface: s, key: key, meta: meta, ctx: ctx, cancel: cancel}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.windows[s.ID()] = w
	e, ok := c.keys[key]
	if !ok {
		e = &keyEntry{state: Open}
		c.keys[key] = e
	}
	e.windows = append(e.windows, s.ID())

	ref, ok := c.partitions[meta.Partition]
	if !ok {
		ref = &partitionRef{handle: handle}
		c.partitions[meta.Partition] = ref
	}
	ref.windows++
	return w
}

// releaseUnused closes a provisioned partition that no window holds.
func (c *Controller) releaseUnused(name string) {
	c.mu.Lock()
	_, held := c.partitions[name]
	c.mu.Unlock()
	if held {
		return
	}
	if err := c.parts.Close(name); err != nil {
		c.logger.Warn("close unused partition failed", "partition", name, "error", err)
	}
}

func (c *Controller) onClose(s Surface) {
	id := s.ID()

	c.mu.Lock()
	w, ok := c.windows[id]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.windows, id)
	w.cancel()

	sessionEnded := true
	if e, ok := c.keys[w.key]; ok {
		e.windows = slices.DeleteFunc(e.windows, func(wid string) bool { return wid == id })
		if len(e.windows) == 0 {
			delete(c.keys, w.key)
		} else {
			sessionEnded = false
		}
	}

	var closePartition string
	if ref, ok := c.partitions[w.meta.Partition]; ok {
		ref.windows--
		if ref.windows <= 0 {
			delete(c.partitions, w.meta.Partition)
			closePartition = w.meta.Partition
		}
	}
	c.mu.Unlock()

	c.logger.Info("window closed", "key", w.key.String(), "window", id, "session_ended", sessionEnded)
	c.notify(w.key)

	if closePartition != "" {
		if err := c.parts.Close(closePartition); err != nil {
			c.logger.Warn("close partition failed", "partition", closePartition, "error", err)
		}
	}

	if !sessionEnded || w.meta.Token == "" || w.meta.ToolType == "" {
		return
	}
	payload := map[string]any{"token": w.meta.Token, "tool": w.meta.ToolType}
	if err := c.emitter.Emit(eventCloseTool, payload); err != nil {
		c.logger.Warn("close notification failed", "tool", w.meta.ToolType, "error", err)
	}
	go func() {
		t := time.NewTimer(c.timing.ForceCleanup)
		defer t.Stop()
		select {
		case <-c.base.Done():
			return
		case <-t.C:
		}
		_ = c.emitter.Emit(eventForceCleanup, map[string]any{
			"token":  w.meta.Token,
			"tool":   w.meta.ToolType,
			"reason": "window_closed",
		})
	}()
}

func (c *Controller) notify(key Key) {
	if c.observe == nil {
		return
	}
	c.mu.Lock()
	ch := Change{Key: key, State: Closed}
	if e, ok := c.keys[key]; ok {
		ch.State = e.state
		ch.Windows = len(e.windows)
	}
	c.mu.Unlock()
	c.observe(ch)
}

func (c *Controller) window(id string) *window {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.windows[id]
}

func (c *Controller) handle(name string) *partition.Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ref, ok := c.partitions[name]; ok {
		return ref.handle
	}
	return nil
}

// Windows returns the open surfaces of key, root first.
func (c *Controller) Windows(key Key) []Surface {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.keys[key]
	if !ok {
		return nil
	}
	out := make([]Surface, 0, len(e.windows))
	for _, id := range e.windows {
		if w, ok := c.windows[id]; ok {
			out = append(out, w.surface)
		}
	}
	return out
}

// Keys returns every key with an entry.
func (c *Controller) Keys() []Key {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]Key, 0, len(c.keys))
	for k := range c.keys {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b Key) int { return strings.Compare(a.String(), b.String()) })
	return keys
}

// State returns key's lifecycle state.
func (c *Controller) State(key Key) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.keys[key]; ok {
		return e.state
	}
	return Closed
}

// HasOpenTools reports whether any tool window is open.
func (c *Controller) HasOpenTools() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.keys) > 0
}

// Meta returns a copy of a window's record.
func (c *Controller) Meta(windowID string) (Meta, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.windows[windowID]
	if !ok {
		return Meta{}, false
	}
	return *w.meta, true
}

// ToolInfo describes the first open root of toolType.
func (c *Controller) ToolInfo(toolType string) (ToolInfo, bool) {
	for _, key := range c.Keys() {
		if key.ToolType != toolType {
			continue
		}
		c.mu.Lock()
		e := c.keys[key]
		if e == nil || len(e.windows) == 0 {
			c.mu.Unlock()
			continue
		}
		root := c.windows[e.windows[0]]
		info := ToolInfo{
			ToolType:  key.ToolType,
			AccountID: key.AccountID,
			Partition: root.meta.Partition,
			Windows:   len(e.windows),
			State:     e.state.String(),
			ToolData:  root.meta.ToolData,
		}
		c.mu.Unlock()
		info.URL = root.surface.URL()
		return info, true
	}
	return ToolInfo{}, false
}

// ToolWindows returns every window of toolType across accounts.
func (c *Controller) ToolWindows(toolType string) []Surface {
	var out []Surface
	for _, key := range c.Keys() {
		if key.ToolType == toolType {
			out = append(out, c.Windows(key)...)
		}
	}
	return out
}

// CloseKey closes every window of key and drops the entry.
func (c *Controller) CloseKey(key Key) int {
	wins := c.detach(func(k Key, _ *Meta) bool { return k == key })
	for _, s := range wins {
		_ = s.Close()
	}
	return len(wins)
}

// CloseAll closes every window and stops pending work.
func (c *Controller) CloseAll() int {
	wins := c.detach(func(Key, *Meta) bool { return true })
	for _, s := range wins {
		_ = s.Close()
	}
	return len(wins)
}

// Shutdown closes every window and cancels background timers.
func (c *Controller) Shutdown() {
	c.CloseAll()
	c.stop()
}

// detach removes every key whose root matches and returns its windows. The
// side-table keeps the windows until they report closed.
func (c *Controller) detach(match func(Key, *Meta) bool) []Surface {
	c.mu.Lock()
	var out []Surface
	var changed []Key
	for key, e := range c.keys {
		var rootMeta *Meta
		if len(e.windows) > 0 {
			if w, ok := c.windows[e.windows[0]]; ok {
				rootMeta = w.meta
			}
		}
		if !match(key, rootMeta) {
			continue
		}
		for _, id := range e.windows {
			if w, ok := c.windows[id]; ok {
				out = append(out, w.surface)
			}
		}
		delete(c.keys, key)
		changed = append(changed, key)
	}
	c.mu.Unlock()

	for _, key := range changed {
		c.notify(key)
	}
	return out
}
