package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config represents the global ~/.enterchat/config.toml.
type Config struct {
	DefaultProfile string        `toml:"default_profile"`
	Sync           SyncConfig    `toml:"sync"`
	Browser        BrowserConfig `toml:"browser"`
	Native         NativeConfig  `toml:"native"`
	Secrets        SecretsConfig `toml:"secrets"`
	Apps           AppsConfig    `toml:"apps"`
	Log            LogConfig     `toml:"log"`
}

// SyncConfig controls background synchronization.
type SyncConfig struct {
	Interval       Duration `toml:"interval"`
	Messages       bool     `toml:"messages"`
	MessageLimit   int      `toml:"message_limit"`
	MaxParallelWeb int      `toml:"max_parallel_web"`
}

// BrowserConfig controls the web automation surface.
type BrowserConfig struct {
	Driver       string   `toml:"driver"` // chromedp or rod
	Headless     bool     `toml:"headless"`
	UserAgent    string   `toml:"user_agent"`
	SettleDelay  Duration `toml:"settle_delay"`
	ReadyTimeout Duration `toml:"ready_timeout"`
	LoadTimeout  Duration `toml:"load_timeout"`
	StepTimeout  Duration `toml:"step_timeout"`
}

// NativeConfig points at the on-device accessibility companion.
type NativeConfig struct {
	Endpoint string   `toml:"endpoint"`
	Token    string   `toml:"token"`
	Timeout  Duration `toml:"timeout"`
	Retries  int      `toml:"retries"`
}

// SecretsConfig selects where sessions and keys are stored.
type SecretsConfig struct {
	Backend string `toml:"backend"` // keyring or memory
	Service string `toml:"service"`
}

// AppsConfig controls the app catalog overrides.
type AppsConfig struct {
	Overrides string `toml:"overrides"`
	Watch     bool   `toml:"watch"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level string `toml:"level"`
}

// Duration is a time.Duration written as a string such as "5m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		DefaultProfile: "main",
		Sync: SyncConfig{
			Interval:       Duration{5 * time.Minute},
			Messages:       true,
			MessageLimit:   50,
			MaxParallelWeb: 4,
		},
		Browser: BrowserConfig{
			Driver:       "chromedp",
			Headless:     true,
			UserAgent:    "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
			SettleDelay:  Duration{4 * time.Second},
			ReadyTimeout: Duration{20 * time.Second},
			LoadTimeout:  Duration{45 * time.Second},
			StepTimeout:  Duration{10 * time.Second},
		},
		Native: NativeConfig{
			Endpoint: "http://127.0.0.1:8765",
			Timeout:  Duration{15 * time.Second},
			Retries:  3,
		},
		Secrets: SecretsConfig{
			Backend: "keyring",
			Service: "enterchat",
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Resolve layers, in order: defaults, the TOML file at path (if present), the
// env file at envPath (if present) and the process environment.
func Resolve(path, envPath string) (*Config, error) {
	cfg := Defaults()
	if _, err := toml.DecodeFile(path, cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	if envPath != "" {
		// godotenv never overwrites variables already set in the environment.
		if err := godotenv.Load(envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("ENTERCHAT_NATIVE_ENDPOINT"); v != "" {
		c.Native.Endpoint = v
	}
	if v := os.Getenv("ENTERCHAT_NATIVE_TOKEN"); v != "" {
		c.Native.Token = v
	}
	if v := os.Getenv("ENTERCHAT_BROWSER_DRIVER"); v != "" {
		c.Browser.Driver = v
	}
	if v := os.Getenv("ENTERCHAT_HEADLESS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Browser.Headless = b
		}
	}
	if v := os.Getenv("ENTERCHAT_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
