// Package device derives and persists the machine's stable identifier.
//
// StableID never fails. It reads the persisted id, derives one from hardware
// attributes, degrades to a weaker host hash, and finally to a random
// emergency id. Each step down is logged and never surfaced.
package device

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/muatool/dashboard/internal/defaults"
)

const (
	idLength      = 32
	cpuModelLimit = 50
)

// Provider derives the stable id and caches attributes for the process.
type Provider struct {
	path      string
	tempPath  string
	collector Collector
	logger    *slog.Logger

	// lesser builds the tier-two id; swapped in tests.
	lesser func() (string, error)

	mu       sync.Mutex
	id       string
	attrs    *Attributes
	attrsErr error
}

// Option configures a Provider.
type Option func(*Provider)

// WithCollector replaces the system attribute collector.
func WithCollector(c Collector) Option {
	return func(p *Provider) { p.collector = c }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) { p.logger = l }
}

// WithPaths overrides the primary and temp id file locations.
func WithPaths(primary, temp string) Option {
	return func(p *Provider) {
		p.path = primary
		p.tempPath = temp
	}
}

// NewProvider returns a provider persisting to <dataDir>/device.id.
func NewProvider(opts ...Option) *Provider {
	p := &Provider{
		path:      defaults.DataPath(defaults.DeviceIDFile),
		tempPath:  filepath.Join(os.TempDir(), defaults.TempDeviceIDFile),
		collector: SystemCollector{},
		logger:    slog.Default().With("component", "device"),
		lesser:    hostHash,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// StableID returns the device identifier, deriving and persisting it on
// first use.
func (p *Provider) StableID(ctx context.Context) string {
	p.mu.Lock()
	if p.id != "" {
		id := p.id
		p.mu.Unlock()
		return id
	}
	p.mu.Unlock()

	id := p.resolve(ctx)

	p.mu.Lock()
	if p.id == "" {
		p.id = id
	}
	id = p.id
	p.mu.Unlock()
	return id
}

func (p *Provider) resolve(ctx context.Context) (id string) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("device id derivation panicked", "panic", r)
			id = emergencyID()
		}
	}()

	for _, path := range []string{p.path, p.tempPath} {
		if saved := defaults.ReadDeviceID(path); saved != "" {
			return saved
		}
	}

	attrs, err := p.RawAttributes(ctx)
	if err != nil {
		p.logger.Warn("attribute collection failed, using host hash", "error", err)
		lesser, lerr := p.lesser()
		if lerr != nil {
			p.logger.Error("host hash failed, using emergency id", "error", lerr)
			return emergencyID()
		}
		return lesser
	}

	id = Derive(attrs)
	p.persist(id)
	return id
}

func (p *Provider) persist(id string) {
	err := defaults.WriteDeviceID(p.path, id)
	if err == nil {
		return
	}
	p.logger.Warn("cannot persist device id", "path", p.path, "error", err)
	if err := defaults.WriteDeviceID(p.tempPath, id); err != nil {
		p.logger.Warn("cannot persist device id to temp, keeping in memory", "path", p.tempPath, "error", err)
	}
}

// RawAttributes collects machine attributes once per process.
func (p *Provider) RawAttributes(ctx context.Context) (Attributes, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.attrs != nil {
		return *p.attrs, nil
	}
	attrs, err := p.collector.Collect(ctx)
	if err != nil {
		return Attributes{}, err
	}
	p.attrs = &attrs
	return attrs, nil
}

// ServerPayload is the device_raw_data bundle sent to the authority.
type ServerPayload struct {
	Hostname    string   `json:"hostname"`
	Username    string   `json:"username"`
	Platform    string   `json:"platform"`
	Arch        string   `json:"arch"`
	MachineID   string   `json:"machineId"`
	CPUCores    int      `json:"cpuCores"`
	TotalMemory uint64   `json:"totalMemory"`
	Timezone    string   `json:"timezone"`
	NetworkMacs []string `json:"networkMacs"`
	Timestamp   int64    `json:"timestamp"`
}

// ServerPayload builds the device_raw_data bundle. Memory is reported in
// whole gigabytes and at most three MACs are sent.
func (p *Provider) ServerPayload(ctx context.Context) (ServerPayload, error) {
	a, err := p.RawAttributes(ctx)
	if err != nil {
		return ServerPayload{}, err
	}
	macs := append([]string(nil), a.MACAddresses...)
	sort.Strings(macs)
	if len(macs) > 3 {
		macs = macs[:3]
	}
	return ServerPayload{
		Hostname:    a.Hostname,
		Username:    a.Username,
		Platform:    a.Platform,
		Arch:        a.Arch,
		MachineID:   a.MachineGUID,
		CPUCores:    a.CPUCores,
		TotalMemory: a.TotalMemoryBytes / (1 << 30),
		Timezone:    a.Timezone,
		NetworkMacs: macs,
		Timestamp:   time.Now().UnixMilli(),
	}, nil
}

var whitespace = regexp.MustCompile(`\s+`)

// Derive hashes the reboot-stable subset of attributes. It is deterministic
// for identical input.
func Derive(a Attributes) string {
	cpuModel := strings.TrimSpace(whitespace.ReplaceAllString(a.CPUModel, " "))
	if len(cpuModel) > cpuModelLimit {
		cpuModel = cpuModel[:cpuModelLimit]
	}

	macs := append([]string(nil), a.MACAddresses...)
	sort.Strings(macs)
	network := strings.Join(macs, ",")
	if network == "" {
		network = "network_unknown"
	}

	cores := "unknown"
	if a.CPUCores > 0 {
		cores = fmt.Sprint(a.CPUCores)
	}

	fields := []string{
		orUnknown(a.Hostname),
		orUnknown(a.Username),
		orUnknown(a.Platform),
		orUnknown(a.Arch),
		orUnknown(a.MachineGUID),
		orUnknown(cpuModel),
		cores,
		network,
	}
	sum := sha256.Sum256([]byte(strings.Join(fields, "|")))
	return hex.EncodeToString(sum[:])[:idLength]
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func hostHash() (string, error) {
	hn, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("hostname: %w", err)
	}
	sum := md5.Sum([]byte(hn + username() + runtime.GOOS + runtime.GOARCH))
	return "fallback_" + hex.EncodeToString(sum[:])[:24], nil
}

func emergencyID() string {
	return fmt.Sprintf("emergency_%d_%s", time.Now().UnixMilli(), strings.ReplaceAll(uuid.NewString(), "-", "")[:9])
}
