// Package config loads examdesk settings from an optional YAML file, an
// optional .env file and EXAMDESK_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultUploadMaxSize is the largest archive accepted for upload (600 MB).
const DefaultUploadMaxSize int64 = 600 * 1024 * 1024

// EnvPrefix prefixes every environment override.
const EnvPrefix = "EXAMDESK_"

type Config struct {
	API     APIConfig     `yaml:"api"`
	Hub     HubConfig     `yaml:"hub"`
	Log     LogConfig     `yaml:"log"`
	Storage StorageConfig `yaml:"storage"`
	UI      UIConfig      `yaml:"ui"`
}

type APIConfig struct {
	Host                string        `yaml:"host"`
	GradingBaseURL      string        `yaml:"grading_base_url"`
	IdentityBaseURL     string        `yaml:"identity_base_url"`
	RequestTimeout      time.Duration `yaml:"request_timeout"`
	FetchTimeout        time.Duration `yaml:"fetch_timeout"`
	NestedUploadTimeout time.Duration `yaml:"nested_upload_timeout"`
	UploadMaxSize       int64         `yaml:"upload_max_size"`
}

type HubConfig struct {
	URL                  string          `yaml:"url"`
	Path                 string          `yaml:"path"`
	ReconnectDelays      []time.Duration `yaml:"reconnect_delays"`
	MaxReconnectAttempts int             `yaml:"max_reconnect_attempts"`
	SkipNegotiation      bool            `yaml:"skip_negotiation"`
	StaticToken          string          `yaml:"static_token"`
	TokenKey             string          `yaml:"token_key"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

type StorageConfig struct {
	Path string `yaml:"path"`
}

type UIConfig struct {
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

func defaultConfig() *Config {
	storage := "storage.db"
	if home, err := os.UserHomeDir(); err == nil {
		storage = filepath.Join(home, ".examdesk", "storage.db")
	}
	return &Config{
		API: APIConfig{
			Host:                "http://localhost:5000",
			RequestTimeout:      10 * time.Minute,
			FetchTimeout:        30 * time.Second,
			NestedUploadTimeout: 30 * time.Minute,
			UploadMaxSize:       DefaultUploadMaxSize,
		},
		Hub: HubConfig{
			Path:            "/hubs/notifications",
			ReconnectDelays: []time.Duration{0, 2 * time.Second, 5 * time.Second, 10 * time.Second},
			TokenKey:        "access_token",
		},
		Log: LogConfig{
			Level: "information",
			File:  "examdesk.log",
		},
		Storage: StorageConfig{Path: storage},
		UI:      UIConfig{RefreshInterval: 2 * time.Second},
	}
}

// Load reads the YAML file at path over the defaults, then applies the
// environment. A missing file is an error; use LoadOrDefault to tolerate it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.resolve()
	return cfg, nil
}

// LoadOrDefault behaves like Load but falls back to defaults plus
// environment when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	cfg = defaultConfig()
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.resolve()
	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// APIBaseURL is the REST base shared by session and submission endpoints.
func (c *Config) APIBaseURL() string {
	return strings.TrimRight(c.API.Host, "/") + "/api"
}

// resolve fills values derived from other settings.
func (c *Config) resolve() {
	if c.API.GradingBaseURL == "" {
		c.API.GradingBaseURL = c.APIBaseURL()
	}
	if c.API.IdentityBaseURL == "" {
		c.API.IdentityBaseURL = c.APIBaseURL()
	}
	if c.Hub.URL == "" {
		c.Hub.URL = strings.TrimRight(c.API.Host, "/") + c.Hub.Path
	}
	if c.Hub.TokenKey == "" {
		c.Hub.TokenKey = "access_token"
	}
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := lookup(EnvPrefix + key)
		if !ok || v == "" {
			return nil
		}
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}
		*dst = d
		return nil
	}

	str("API_HOST", &c.API.Host)
	str("GRADING_API_BASE_URL", &c.API.GradingBaseURL)
	str("IDENTITY_API_BASE_URL", &c.API.IdentityBaseURL)
	str("HUB_URL", &c.Hub.URL)
	str("HUB_PATH", &c.Hub.Path)
	str("HUB_STATIC_TOKEN", &c.Hub.StaticToken)
	str("HUB_TOKEN_KEY", &c.Hub.TokenKey)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FILE", &c.Log.File)
	str("STORAGE_PATH", &c.Storage.Path)

	for key, dst := range map[string]*time.Duration{
		"REQUEST_TIMEOUT":       &c.API.RequestTimeout,
		"FETCH_TIMEOUT":         &c.API.FetchTimeout,
		"NESTED_UPLOAD_TIMEOUT": &c.API.NestedUploadTimeout,
		"REFRESH_INTERVAL":      &c.UI.RefreshInterval,
	} {
		if err := dur(key, dst); err != nil {
			return err
		}
	}

	if v, ok := lookup(EnvPrefix + "UPLOAD_MAX_SIZE"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%sUPLOAD_MAX_SIZE: %w", EnvPrefix, err)
		}
		c.API.UploadMaxSize = n
	}
	if v, ok := lookup(EnvPrefix + "HUB_MAX_RECONNECT_ATTEMPTS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sHUB_MAX_RECONNECT_ATTEMPTS: %w", EnvPrefix, err)
		}
		c.Hub.MaxReconnectAttempts = n
	}
	if v, ok := lookup(EnvPrefix + "HUB_SKIP_NEGOTIATION"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sHUB_SKIP_NEGOTIATION: %w", EnvPrefix, err)
		}
		c.Hub.SkipNegotiation = b
	}
	if v, ok := lookup(EnvPrefix + "HUB_RECONNECT_DELAYS"); ok && v != "" {
		delays, err := ParseDelays(v)
		if err != nil {
			return fmt.Errorf("%sHUB_RECONNECT_DELAYS: %w", EnvPrefix, err)
		}
		c.Hub.ReconnectDelays = delays
	}
	return nil
}

// ParseDelays parses a comma-separated reconnect schedule. Entries are Go
// durations ("2s") or bare integers in milliseconds ("2000").
func ParseDelays(s string) ([]time.Duration, error) {
	var out []time.Duration
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := parseDuration(part)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty reconnect schedule")
	}
	return out, nil
}

func parseDuration(s string) (time.Duration, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		if ms < 0 {
			return 0, fmt.Errorf("negative duration %q", s)
		}
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}
