package browser

import (
	"fmt"
	"runtime"

	"github.com/playwright-community/playwright-go"

	"github.com/muatool/dashboard/internal/defaults"
	"github.com/muatool/dashboard/internal/partition"
)

// Config is the browser section of the app config.
type Config struct {
	// Headless runs browsers without UI.
	Headless bool `json:"headless,omitempty" yaml:"headless,omitempty"`

	// ExecutablePath overrides auto-detection of Chrome.
	ExecutablePath string `json:"executablePath,omitempty" yaml:"executablePath,omitempty"`

	// NoSandbox disables Chrome sandbox (needed in some containers).
	NoSandbox bool `json:"noSandbox,omitempty" yaml:"noSandbox,omitempty"`

	Width  int `json:"width,omitempty" yaml:"width,omitempty"`
	Height int `json:"height,omitempty" yaml:"height,omitempty"`

	// PartitionDir maps a partition name to its user-data directory.
	// Defaults to defaults.PartitionDir.
	PartitionDir func(name string) string `json:"-" yaml:"-"`
}

// ResolvedConfig is the fully resolved browser configuration.
type ResolvedConfig struct {
	Headless  bool
	NoSandbox bool
	Width     int
	Height    int
	// Executable is the system browser to drive. Nil means Playwright's
	// bundled Chromium.
	Executable   *BrowserExecutable
	PartitionDir func(name string) string
}

// ResolveConfig resolves a browser config with defaults applied.
func ResolveConfig(cfg Config) (*ResolvedConfig, error) {
	resolved := &ResolvedConfig{
		Headless:     cfg.Headless,
		NoSandbox:    cfg.NoSandbox,
		Width:        cfg.Width,
		Height:       cfg.Height,
		PartitionDir: cfg.PartitionDir,
	}
	if resolved.Width <= 0 {
		resolved.Width = DefaultWidth
	}
	if resolved.Height <= 0 {
		resolved.Height = DefaultHeight
	}
	if resolved.PartitionDir == nil {
		resolved.PartitionDir = defaults.PartitionDir
	}

	exe, err := FindChromeExecutable(cfg.ExecutablePath)
	if err != nil {
		return nil, err
	}
	resolved.Executable = exe
	return resolved, nil
}

// launchOptions builds the persistent-context options for one partition.
// Proxy credentials travel with the context, so each partition answers its
// own proxy auth challenge.
func (c *ResolvedConfig) launchOptions(spec partition.Spec) playwright.BrowserTypeLaunchPersistentContextOptions {
	args := append([]string(nil), chromeArgs...)
	if runtime.GOOS == "linux" {
		args = append(args, "--disable-dev-shm-usage")
	}
	if !c.Headless {
		args = append(args, fmt.Sprintf("--window-size=%d,%d", c.Width, c.Height))
	}

	opts := playwright.BrowserTypeLaunchPersistentContextOptions{
		Args:            args,
		Headless:        playwright.Bool(c.Headless),
		ChromiumSandbox: playwright.Bool(!c.NoSandbox),
		Viewport:        &playwright.Size{Width: c.Width, Height: c.Height},
	}
	if c.Executable != nil {
		opts.ExecutablePath = playwright.String(c.Executable.Path)
	}
	if spec.UserAgent != "" {
		opts.UserAgent = playwright.String(spec.UserAgent)
	}
	if !spec.Proxy.IsZero() {
		proxy := &playwright.Proxy{Server: spec.Proxy.Server}
		if spec.Proxy.Username != "" {
			proxy.Username = playwright.String(spec.Proxy.Username)
			proxy.Password = playwright.String(spec.Proxy.Password)
		}
		opts.Proxy = proxy
	}
	return opts
}
