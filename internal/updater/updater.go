// Package updater gates startup on the authority's version policy and keeps
// checking it in the background.
package updater

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/muatool/dashboard/internal/authority"
	"github.com/muatool/dashboard/internal/logging"
)

// DefaultDownloadURL is shown when the authority omits one.
const DefaultDownloadURL = "https://muatool.com/download"

// Source is the subset of the authority client the gate reads.
type Source interface {
	DashboardVersion(ctx context.Context) (*authority.VersionInfo, error)
	CheckUserVersion(ctx context.Context, version string) (*authority.Compatibility, error)
}

// Verdict is the outcome of a version check.
type Verdict string

const (
	VerdictAllow          Verdict = "allow"
	VerdictBlocked        Verdict = "blocked"
	VerdictUpdateRequired Verdict = "update_required"
)

// Decision is what the UI needs to present a version verdict.
type Decision struct {
	Verdict         Verdict `json:"verdict"`
	CurrentVersion  string  `json:"currentVersion"`
	RequiredVersion string  `json:"requiredVersion,omitempty"`
	DownloadURL     string  `json:"downloadUrl,omitempty"`
	Message         string  `json:"message,omitempty"`
	AllowSkip       bool    `json:"allowSkip"`
}

// MustExit reports whether the app may not keep running under this decision.
func (d Decision) MustExit() bool {
	return d.Verdict == VerdictBlocked || (d.Verdict == VerdictUpdateRequired && !d.AllowSkip)
}

// Requirement is the payload of a version-update-required push.
type Requirement struct {
	RequiredVersion string `json:"requiredVersion"`
	UpdateMessage   string `json:"updateMessage"`
	DownloadURL     string `json:"downloadUrl"`
	AllowSkip       bool   `json:"allowSkip"`
}

const blockedMessage = "Phiên bản dashboard này đã bị khóa, vui lòng cập nhật phiên bản mới để tiếp tục sử dụng."

// Gate evaluates the running version against the authority's policy.
type Gate struct {
	src         Source
	version     string
	downloadURL string
}

func NewGate(src Source, version, downloadURL string) *Gate {
	if downloadURL == "" {
		downloadURL = DefaultDownloadURL
	}
	return &Gate{
		src:         src,
		version:     version,
		downloadURL: downloadURL,
	}
}

// Evaluate checks the blocked list first and the compatibility endpoint
// second. Any failure to reach the authority allows startup.
func (g *Gate) Evaluate(ctx context.Context) Decision {
	if d, blocked := g.blocked(ctx); blocked {
		return d
	}

	compat, err := g.src.CheckUserVersion(ctx, g.version)
	if err != nil {
		logging.Warnf("[updater] version check failed, allowing start: %v", err)
		return g.allow()
	}
	if compat.Valid || !compat.UpdateRequired {
		return g.allow()
	}

	msg := compat.Message
	if msg == "" {
		msg = "Phiên bản app của bạn đã lỗi thời"
	}
	logging.Infof("[updater] update required: running %s, need %s", g.version, compat.RequiredVersion)
	return Decision{
		Verdict:         VerdictUpdateRequired,
		CurrentVersion:  g.version,
		RequiredVersion: compat.RequiredVersion,
		DownloadURL:     g.orDefault(compat.DownloadURL),
		Message:         msg,
		AllowSkip:       compat.AllowSkip,
	}
}

// Required evaluates a version-update-required push. The blocked list still
// takes precedence over the pushed requirement.
func (g *Gate) Required(ctx context.Context, req Requirement) Decision {
	if d, blocked := g.blocked(ctx); blocked {
		return d
	}
	if !isNewer(normalizeVersion(req.RequiredVersion), normalizeVersion(g.version)) {
		return g.allow()
	}
	msg := req.UpdateMessage
	if msg == "" {
		msg = "Admin yêu cầu cập nhật phiên bản mới"
	}
	return Decision{
		Verdict:         VerdictUpdateRequired,
		CurrentVersion:  g.version,
		RequiredVersion: req.RequiredVersion,
		DownloadURL:     g.orDefault(req.DownloadURL),
		Message:         msg,
		AllowSkip:       req.AllowSkip,
	}
}

func (g *Gate) blocked(ctx context.Context) (Decision, bool) {
	info, err := g.src.DashboardVersion(ctx)
	if err != nil {
		logging.Warnf("[updater] blocked list unavailable: %v", err)
		return Decision{}, false
	}
	if !slices.Contains(info.Blocked, g.version) {
		return Decision{}, false
	}
	logging.Warnf("[updater] version %s is blocked", g.version)
	return Decision{
		Verdict:        VerdictBlocked,
		CurrentVersion: g.version,
		DownloadURL:    g.orDefault(info.DownloadURL),
		Message:        blockedMessage,
	}, true
}

func (g *Gate) allow() Decision {
	return Decision{Verdict: VerdictAllow, CurrentVersion: g.version}
}

func (g *Gate) orDefault(u string) string {
	if u == "" {
		return g.downloadURL
	}
	return u
}

// normalizeVersion strips the leading "v" prefix for comparison.
func normalizeVersion(v string) string {
	return strings.TrimPrefix(strings.TrimSpace(v), "v")
}

// isNewer does a simple semver comparison (major.minor.patch).
// Returns true if latest > current.
func isNewer(latest, current string) bool {
	lParts := splitVersion(latest)
	cParts := splitVersion(current)

	for i := 0; i < 3; i++ {
		if lParts[i] > cParts[i] {
			return true
		}
		if lParts[i] < cParts[i] {
			return false
		}
	}
	return false
}

// splitVersion parses "1.2.3" into [1, 2, 3]. Missing parts are zero.
func splitVersion(v string) [3]int {
	var parts [3]int
	fmt.Sscanf(v, "%d.%d.%d", &parts[0], &parts[1], &parts[2])
	return parts
}

// NotifyFunc receives a non-allow decision.
type NotifyFunc func(d Decision)

// BackgroundChecker re-evaluates the gate on a cron schedule and notifies
// once per distinct verdict and required version.
type BackgroundChecker struct {
	gate         *Gate
	schedule     string
	notify       NotifyFunc
	lastNotified string
	mu           sync.Mutex
}

// NewBackgroundChecker creates a checker. schedule is a robfig/cron spec such
// as "@every 30m".
func NewBackgroundChecker(gate *Gate, schedule string, notify NotifyFunc) *BackgroundChecker {
	if schedule == "" {
		schedule = "@every 30m"
	}
	return &BackgroundChecker{gate: gate, schedule: schedule, notify: notify}
}

// Run schedules the check and blocks until ctx is cancelled.
func (b *BackgroundChecker) Run(ctx context.Context) error {
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(b.schedule, func() { b.Check(ctx) }); err != nil {
		return fmt.Errorf("updater: schedule %q: %w", b.schedule, err)
	}
	scheduler.Start()
	<-ctx.Done()
	<-scheduler.Stop().Done()
	return nil
}

// Check evaluates the gate once.
func (b *BackgroundChecker) Check(ctx context.Context) {
	b.deliver(b.gate.Evaluate(ctx))
}

// HandleRequirement routes a version-update-required push through the same
// notification path.
func (b *BackgroundChecker) HandleRequirement(ctx context.Context, req Requirement) {
	b.deliver(b.gate.Required(ctx, req))
}

func (b *BackgroundChecker) deliver(d Decision) {
	if d.Verdict == VerdictAllow {
		return
	}
	key := string(d.Verdict) + ":" + d.RequiredVersion

	b.mu.Lock()
	alreadyNotified := b.lastNotified == key
	if !alreadyNotified {
		b.lastNotified = key
	}
	b.mu.Unlock()

	if alreadyNotified {
		logging.Debugf("[updater] %s already notified", key)
		return
	}
	if b.notify != nil {
		b.notify(d)
	}
}
