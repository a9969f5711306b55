package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. MUATOOL_SERVER_PORT.
const EnvPrefix = "MUATOOL"

type Config struct {
	App struct {
		Name    string `yaml:"name" envconfig:"NAME"`
		Version string `yaml:"version" envconfig:"VERSION"`
	} `yaml:"app"`

	Authority struct {
		BaseURL       string        `yaml:"base_url" envconfig:"BASE_URL"`
		DownloadURL   string        `yaml:"download_url" envconfig:"DOWNLOAD_URL"`
		Timeout       time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`
		RetryAttempts int           `yaml:"retry_attempts" envconfig:"RETRY_ATTEMPTS"`
		RetryDelay    time.Duration `yaml:"retry_delay" envconfig:"RETRY_DELAY"`
		RateLimit     float64       `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
	} `yaml:"authority"`

	Channel struct {
		URLs              []string      `yaml:"urls" envconfig:"URLS"`
		ReconnectAttempts int           `yaml:"reconnect_attempts" envconfig:"RECONNECT_ATTEMPTS"`
		ReconnectDelay    time.Duration `yaml:"reconnect_delay" envconfig:"RECONNECT_DELAY"`
		RequestTimeout    time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT"`
		DialTimeout       time.Duration `yaml:"dial_timeout" envconfig:"DIAL_TIMEOUT"`
		PingInterval      time.Duration `yaml:"ping_interval" envconfig:"PING_INTERVAL"`
	} `yaml:"channel"`

	Credit struct {
		CacheTTL time.Duration `yaml:"cache_ttl" envconfig:"CACHE_TTL"`
	} `yaml:"credit"`

	Browser struct {
		Headless   bool   `yaml:"headless" envconfig:"HEADLESS"`
		ChromePath string `yaml:"chrome_path" envconfig:"CHROME_PATH"`
		Width      int    `yaml:"width" envconfig:"WIDTH"`
		Height     int    `yaml:"height" envconfig:"HEIGHT"`
	} `yaml:"browser"`

	Server struct {
		Host      string  `yaml:"host" envconfig:"HOST"`
		Port      int     `yaml:"port" envconfig:"PORT"`
		RateLimit float64 `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
		RateBurst int     `yaml:"rate_burst" envconfig:"RATE_BURST"`
	} `yaml:"server"`

	Updates struct {
		Schedule string `yaml:"schedule" envconfig:"SCHEDULE"`
	} `yaml:"updates"`

	Log struct {
		Level  string `yaml:"level" envconfig:"LEVEL"`
		Format string `yaml:"format" envconfig:"FORMAT"`
	} `yaml:"log"`
}

// LoadFromBytes loads configuration from YAML bytes with environment variable expansion
func LoadFromBytes(data []byte) (Config, error) {
	var c Config
	if err := c.Merge(data); err != nil {
		return c, err
	}
	return c, nil
}

// Merge overlays YAML bytes onto c. Keys absent from data keep their value.
func (c *Config) Merge(data []byte) error {
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), c); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// MergeFile overlays the YAML file at path. A missing file is not an error.
func (c *Config) MergeFile(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return c.Merge(data)
}

// ApplyEnv applies MUATOOL_* environment overrides.
func (c *Config) ApplyEnv() error {
	if err := envconfig.Process(EnvPrefix, c); err != nil {
		return fmt.Errorf("env overrides: %w", err)
	}
	return nil
}

// Load builds the effective config: embedded defaults, then the user file,
// then environment overrides.
func Load(embedded []byte, userFile string) (Config, error) {
	c, err := LoadFromBytes(embedded)
	if err != nil {
		return c, err
	}
	if userFile != "" {
		if err := c.MergeFile(userFile); err != nil {
			return c, err
		}
	}
	if err := c.ApplyEnv(); err != nil {
		return c, err
	}
	return c, nil
}

// UserAgent is the header value sent to the authority's REST surface.
func (c Config) UserAgent() string {
	return "MuaTool Dashboard v" + c.App.Version
}

// Addr is the listen address of the local API.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
