// Package svc assembles the dashboard's components into one ServiceContext
// shared by the API handlers and the run command.
package svc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/muatool/dashboard/internal/authority"
	"github.com/muatool/dashboard/internal/browser"
	"github.com/muatool/dashboard/internal/channel"
	"github.com/muatool/dashboard/internal/config"
	"github.com/muatool/dashboard/internal/db"
	"github.com/muatool/dashboard/internal/defaults"
	"github.com/muatool/dashboard/internal/device"
	"github.com/muatool/dashboard/internal/entitlement"
	"github.com/muatool/dashboard/internal/events"
	"github.com/muatool/dashboard/internal/injection"
	"github.com/muatool/dashboard/internal/logging"
	"github.com/muatool/dashboard/internal/notify"
	"github.com/muatool/dashboard/internal/partition"
	"github.com/muatool/dashboard/internal/realtime"
	"github.com/muatool/dashboard/internal/topology"
	"github.com/muatool/dashboard/internal/updater"
)

// EventVersionRequired is the authority push announcing a mandatory update.
const EventVersionRequired = "version-update-required"

// blockedQuitDelay is how long the app stays up after the signed-in token
// was blocked, so the in-page alerts can be read.
var blockedQuitDelay = 3 * time.Second

type ServiceContext struct {
	Config  config.Config
	Version string
	DataDir string

	DB         *db.Store
	Device     *device.Provider
	Channel    *channel.Client
	Authority  *authority.Client
	Gateway    *entitlement.Gateway
	Partitions *partition.Manager
	Browser    *browser.Manager
	Pipeline   *injection.Pipeline
	Topology   *topology.Controller
	Gate       *updater.Gate
	Checker    *updater.BackgroundChecker
	Events     *events.Subject
	Hub        *realtime.Hub
	Notifier   *notify.Notifier
	Registry   *prometheus.Registry

	session Session

	quitMu sync.Mutex
	quitFn func()
}

// Session holds the token the user signed in with.
type Session struct {
	mu    sync.RWMutex
	token string
}

func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *Session) SetToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

// NewServiceContext builds and wires every component. Nothing is started:
// the browser driver, the channel connection and the background checker are
// started by the caller.
func NewServiceContext(c config.Config, store *db.Store) (*ServiceContext, error) {
	dataDir, err := defaults.DataDir()
	if err != nil {
		return nil, fmt.Errorf("data dir: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	svcCtx := &ServiceContext{
		Config:   c,
		Version:  c.App.Version,
		DataDir:  dataDir,
		DB:       store,
		Device:   device.NewProvider(),
		Events:   events.NewSubject(events.WithReplay(1)),
		Hub:      realtime.NewHub(),
		Notifier: notify.NewNotifier(5 * time.Second),
		Registry: reg,
	}

	svcCtx.Channel = channel.New(channel.Config{
		URLs:              c.Channel.URLs,
		ReconnectAttempts: c.Channel.ReconnectAttempts,
		ReconnectDelay:    c.Channel.ReconnectDelay,
		RequestTimeout:    c.Channel.RequestTimeout,
		DialTimeout:       c.Channel.DialTimeout,
		PingInterval:      c.Channel.PingInterval,
	}, channel.WithMetrics(channel.NewMetrics(reg)))

	svcCtx.Authority = authority.New(authority.Config{
		BaseURL:    c.Authority.BaseURL,
		Version:    c.App.Version,
		Timeout:    c.Authority.Timeout,
		Attempts:   c.Authority.RetryAttempts,
		RetryDelay: c.Authority.RetryDelay,
		RateLimit:  c.Authority.RateLimit,
	})

	svcCtx.Gateway = entitlement.New(svcCtx.Channel,
		entitlement.WithCache(entitlement.NewCache(c.Credit.CacheTTL, reg)))

	browserCfg, err := browser.ResolveConfig(browser.Config{
		Headless:       c.Browser.Headless,
		ExecutablePath: c.Browser.ChromePath,
		Width:          c.Browser.Width,
		Height:         c.Browser.Height,
	})
	if err != nil {
		return nil, fmt.Errorf("browser config: %w", err)
	}
	svcCtx.Browser = browser.NewManager(browserCfg)
	svcCtx.Partitions = partition.NewManager(svcCtx.Browser)
	svcCtx.Pipeline = injection.NewPipeline(svcCtx.Channel)

	svcCtx.Topology = topology.New(svcCtx.Browser, svcCtx.Partitions, svcCtx.Pipeline, svcCtx.Channel,
		topology.WithNotifier(svcCtx.Notifier),
		topology.WithObserver(svcCtx.toolChanged),
		topology.WithBlockedHook(svcCtx.tokenBlocked),
	)

	svcCtx.Gate = updater.NewGate(svcCtx.Authority, c.App.Version, c.Authority.DownloadURL)
	svcCtx.Checker = updater.NewBackgroundChecker(svcCtx.Gate, c.Updates.Schedule, svcCtx.versionChanged)

	svcCtx.wire()
	return svcCtx, nil
}

// wire connects component callbacks to the UI event stream and registers
// the authority push handlers.
func (s *ServiceContext) wire() {
	s.Hub.Attach(s.Events)

	s.Notifier.Observe = func(title, body string) {
		emit(s, events.TopicNotice, events.NoticeEvent{Title: title, Message: body})
	}

	s.Channel.OnStatus(func(st channel.Status) {
		stats := s.Channel.Stats()
		emit(s, events.TopicConnection, events.ConnectionEvent{Status: string(st), URL: stats.URL})
	})

	s.Topology.Subscribe(s.Channel)

	s.Channel.On(EventVersionRequired, func(ctx context.Context, payload json.RawMessage) {
		var req updater.Requirement
		if err := json.Unmarshal(payload, &req); err != nil {
			logging.Warnf("[svc] malformed %s push: %v", EventVersionRequired, err)
			return
		}
		s.Checker.HandleRequirement(ctx, req)
	})
}

func (s *ServiceContext) toolChanged(ch topology.Change) {
	emit(s, events.TopicTool, events.ToolEvent{
		ToolType:  ch.Key.ToolType,
		AccountID: ch.Key.AccountID,
		State:     ch.State.String(),
		Windows:   ch.Windows,
	})
}

func (s *ServiceContext) versionChanged(d updater.Decision) {
	emit(s, events.TopicVersion, events.VersionEvent{
		RequiredVersion: d.RequiredVersion,
		Message:         d.Message,
		DownloadURL:     d.DownloadURL,
		AllowSkip:       d.AllowSkip,
		Blocked:         d.Verdict == updater.VerdictBlocked,
	})
	if d.MustExit() {
		s.Notifier.Notify("Cập nhật bắt buộc", d.Message)
	}
}

// tokenBlocked quits the app when the blocked token is the one signed in.
func (s *ServiceContext) tokenBlocked(token string) {
	current := s.session.Token()
	if current == "" || (token != "" && token != current) {
		return
	}
	logging.Warnf("[svc] signed-in token blocked, quitting in %s", blockedQuitDelay)
	time.AfterFunc(blockedQuitDelay, s.Quit)
}

func emit[T any](s *ServiceContext, topic string, v T) {
	if err := events.Emit(s.Events, topic, v); err != nil && !errors.Is(err, events.ErrClosed) {
		logging.Debugf("[svc] %s event not emitted: %v", topic, err)
	}
}

// Session returns the signed-in session.
func (s *ServiceContext) Session() *Session { return &s.session }

// OnQuit sets what Quit runs.
func (s *ServiceContext) OnQuit(fn func()) {
	s.quitMu.Lock()
	defer s.quitMu.Unlock()
	s.quitFn = fn
}

// Quit asks the app to exit.
func (s *ServiceContext) Quit() {
	s.quitMu.Lock()
	fn := s.quitFn
	s.quitMu.Unlock()
	if fn != nil {
		fn()
	}
}

// Close tears components down in reverse dependency order.
func (s *ServiceContext) Close() error {
	var errs []error
	s.Topology.Shutdown()
	if _, err := s.Partitions.CleanupAll(context.Background()); err != nil {
		errs = append(errs, err)
	}
	if err := s.Partitions.CloseAll(); err != nil {
		errs = append(errs, err)
	}
	if err := s.Browser.Stop(); err != nil {
		errs = append(errs, err)
	}
	if err := s.Channel.Close(); err != nil && !errors.Is(err, channel.ErrClosed) {
		errs = append(errs, err)
	}
	events.Complete(s.Events)
	if s.DB != nil {
		if err := s.DB.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
