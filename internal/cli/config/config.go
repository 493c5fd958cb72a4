package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/financas-app/financas/internal/cli/client"
	"github.com/financas-app/financas/internal/cli/credstore"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	ConfigDirName  = "financas"
	ConfigFileName = "config.yaml"

	// EnvConfigPath overrides the location of the user config file
	EnvConfigPath = "FINANCAS_CONFIG"
)

// Environment variables read on top of the config file
const (
	EnvAPIURL          = "FINANCAS_API_URL"
	EnvCredentialStore = "FINANCAS_CREDENTIAL_STORE"
	EnvCredentialsFile = "FINANCAS_CREDENTIALS_FILE"
	EnvTimeout         = "FINANCAS_TIMEOUT"
	EnvRateLimit       = "FINANCAS_RATE_LIMIT"
	EnvLogLevel        = "LOG_LEVEL"
	EnvLogFormat       = "LOG_FORMAT"
)

// Config holds the CLI settings
type Config struct {
	APIURL          string        `yaml:"api_url,omitempty"`
	CredentialStore string        `yaml:"credential_store,omitempty"`
	CredentialsFile string        `yaml:"credentials_file,omitempty"`
	Timeout         time.Duration `yaml:"timeout,omitempty"`
	RateLimit       float64       `yaml:"rate_limit,omitempty"`
	LogLevel        string        `yaml:"log_level,omitempty"`
	LogFormat       string        `yaml:"log_format,omitempty"`
}

// Defaults returns the built-in settings
func Defaults() Config {
	return Config{
		APIURL:          client.DefaultBaseURL,
		CredentialStore: string(credstore.KindKeyring),
		Timeout:         30 * time.Second,
		RateLimit:       10,
		LogLevel:        "warn",
		LogFormat:       "console",
	}
}

// DefaultPath returns ~/.config/financas/config.yaml unless FINANCAS_CONFIG is set
func DefaultPath() (string, error) {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", ConfigDirName, ConfigFileName), nil
}

// Load builds the effective configuration: defaults, then the user file at
// path, then .env files in the working directory, then the environment.
// An empty path uses DefaultPath.
func Load(path string) (Config, error) {
	// .env files fill in the environment without overriding it
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	cfg := Defaults()

	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return cfg, err
		}
		path = p
	}

	file, err := ReadFile(path)
	if err != nil {
		return cfg, err
	}
	cfg.merge(file)

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ReadFile reads the user config file; a missing file is an empty config
func ReadFile(path string) (Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// WriteFile saves cfg to path, creating the directory if needed
func WriteFile(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// merge overlays the non-zero fields of o
func (c *Config) merge(o Config) {
	if o.APIURL != "" {
		c.APIURL = o.APIURL
	}
	if o.CredentialStore != "" {
		c.CredentialStore = o.CredentialStore
	}
	if o.CredentialsFile != "" {
		c.CredentialsFile = o.CredentialsFile
	}
	if o.Timeout != 0 {
		c.Timeout = o.Timeout
	}
	if o.RateLimit != 0 {
		c.RateLimit = o.RateLimit
	}
	if o.LogLevel != "" {
		c.LogLevel = o.LogLevel
	}
	if o.LogFormat != "" {
		c.LogFormat = o.LogFormat
	}
}

var envKeys = map[string]string{
	EnvAPIURL:          "api_url",
	EnvCredentialStore: "credential_store",
	EnvCredentialsFile: "credentials_file",
	EnvTimeout:         "timeout",
	EnvRateLimit:       "rate_limit",
	EnvLogLevel:        "log_level",
	EnvLogFormat:       "log_format",
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	names := make([]string, 0, len(envKeys))
	for name := range envKeys {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		v, ok := lookup(name)
		if !ok || v == "" {
			continue
		}
		if err := c.Set(envKeys[name], v); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	return nil
}

// Keys lists the settable keys
func Keys() []string {
	return []string{"api_url", "credential_store", "credentials_file", "timeout", "rate_limit", "log_level", "log_format"}
}

// Set assigns one key from its string form
func (c *Config) Set(key, value string) error {
	value = strings.TrimSpace(value)

	switch key {
	case "api_url":
		c.APIURL = strings.TrimRight(value, "/")
	case "credential_store":
		if _, err := credstore.ParseKind(value); err != nil {
			return err
		}
		c.CredentialStore = value
	case "credentials_file":
		c.CredentialsFile = value
	case "timeout":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}
		c.Timeout = d
	case "rate_limit":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid rate limit %q: %w", value, err)
		}
		c.RateLimit = f
	case "log_level":
		c.LogLevel = strings.ToLower(value)
	case "log_format":
		c.LogFormat = strings.ToLower(value)
	default:
		return fmt.Errorf("unknown config key '%s' (valid keys: %s)", key, strings.Join(Keys(), ", "))
	}
	return nil
}

// Get returns one key in its string form
func (c Config) Get(key string) (string, error) {
	switch key {
	case "api_url":
		return c.APIURL, nil
	case "credential_store":
		return c.CredentialStore, nil
	case "credentials_file":
		return c.CredentialsFile, nil
	case "timeout":
		return c.Timeout.String(), nil
	case "rate_limit":
		return strconv.FormatFloat(c.RateLimit, 'f', -1, 64), nil
	case "log_level":
		return c.LogLevel, nil
	case "log_format":
		return c.LogFormat, nil
	default:
		return "", fmt.Errorf("unknown config key '%s'", key)
	}
}

// Validate checks the effective configuration
func (c Config) Validate() error {
	u, err := url.Parse(c.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("api_url must be an http(s) URL, got %q", c.APIURL)
	}
	if _, err := credstore.ParseKind(c.CredentialStore); err != nil {
		return err
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate_limit must not be negative")
	}
	switch c.LogFormat {
	case "", "console", "json":
	default:
		return fmt.Errorf("log_format must be console or json, got %q", c.LogFormat)
	}
	return nil
}

// SetInFile updates a single key in the user config file
func SetInFile(path, key, value string) error {
	cfg, err := ReadFile(path)
	if err != nil {
		return err
	}
	if err := cfg.Set(key, value); err != nil {
		return err
	}

	effective := Defaults()
	effective.merge(cfg)
	if err := effective.Validate(); err != nil {
		return err
	}
	return WriteFile(path, cfg)
}
