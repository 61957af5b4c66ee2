// Package config provides configuration management for copilot-import.
// It handles loading the YAML configuration file, the optional .env file holding the
// Copilot token, and provides structured access to completion, login, sandbox,
// server and logging settings.
package config

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultTokenEnv names the environment variable holding the completion bearer token.
	DefaultTokenEnv = "GITHUB_COPILOT_TOKEN"
	// DefaultNamespace is the synthetic module namespace served by the bridge.
	DefaultNamespace = "copilot"
	// DialectStarlark executes Python-shaped def functions.
	DialectStarlark = "starlark"
	// DialectGo executes Go func declarations.
	DialectGo = "go"
)

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// Completion configures the code-completion endpoint.
	Completion CompletionConfig `yaml:"completion" toml:"completion" json:"completion"`

	// Auth configures the GitHub device-code login flow.
	Auth AuthConfig `yaml:"auth" toml:"auth" json:"auth"`

	// Sandbox selects the interpreter dialect and the synthetic import namespace.
	Sandbox SandboxConfig `yaml:"sandbox" toml:"sandbox" json:"sandbox"`

	// Server configures the optional HTTP serve mode.
	Server ServerConfig `yaml:"server" toml:"server" json:"server"`

	// Logging configures the log level and optional rotating log file.
	Logging LoggingConfig `yaml:"logging" toml:"logging" json:"logging"`

	// TokenEnv is the environment variable read for the completion token.
	TokenEnv string `yaml:"token-env" toml:"token-env" json:"token-env"`

	// EnvFile is an optional dotenv file loaded before reading TokenEnv.
	EnvFile string `yaml:"env-file" toml:"env-file" json:"env-file"`

	// ProxyURL is the URL of an optional proxy server to use for outbound requests.
	ProxyURL string `yaml:"proxy-url" toml:"proxy-url" json:"proxy-url"`
}

// CompletionConfig holds the completion endpoint and its sampling parameters.
type CompletionConfig struct {
	// BaseURL is the scheme and host of the completion endpoint.
	BaseURL string `yaml:"base-url" toml:"base-url" json:"base-url"`

	// Engine is the engine segment of /v1/engines/<engine>/completions.
	Engine string `yaml:"engine" toml:"engine" json:"engine"`

	// Intent is sent as the OpenAI-Intent header.
	Intent string `yaml:"intent" toml:"intent" json:"intent"`

	// Organization is sent as the OpenAI-Organization header.
	Organization string `yaml:"organization" toml:"organization" json:"organization"`

	// MaxTokens limits each completion. nil means default (200).
	MaxTokens *int `yaml:"max-tokens,omitempty" toml:"max-tokens,omitempty" json:"max-tokens,omitempty"`

	// Temperature controls sampling. nil means default (0.2).
	Temperature *float64 `yaml:"temperature,omitempty" toml:"temperature,omitempty" json:"temperature,omitempty"`

	// TopP controls nucleus sampling. nil means default (1).
	TopP *float64 `yaml:"top-p,omitempty" toml:"top-p,omitempty" json:"top-p,omitempty"`

	// N is the number of choices requested. nil means default (1).
	N *int `yaml:"n,omitempty" toml:"n,omitempty" json:"n,omitempty"`

	// Logprobs requests token log probabilities. nil means default (2).
	Logprobs *int `yaml:"logprobs,omitempty" toml:"logprobs,omitempty" json:"logprobs,omitempty"`

	// TimeoutSeconds bounds each request. <= 0 keeps the transport default (none).
	TimeoutSeconds int `yaml:"timeout-seconds,omitempty" toml:"timeout-seconds,omitempty" json:"timeout-seconds,omitempty"`
}

// AuthConfig holds the device-code flow endpoints and client identity.
type AuthConfig struct {
	ClientID        string `yaml:"client-id" toml:"client-id" json:"client-id"`
	Scope           string `yaml:"scope" toml:"scope" json:"scope"`
	DeviceCodeURL   string `yaml:"device-code-url" toml:"device-code-url" json:"device-code-url"`
	TokenURL        string `yaml:"token-url" toml:"token-url" json:"token-url"`
	CopilotTokenURL string `yaml:"copilot-token-url" toml:"copilot-token-url" json:"copilot-token-url"`

	// NoBrowser skips opening the verification URL.
	NoBrowser bool `yaml:"no-browser" toml:"no-browser" json:"no-browser"`
}

// SandboxConfig selects how generated code is executed.
type SandboxConfig struct {
	// Dialect is "starlark" (default) or "go".
	Dialect string `yaml:"dialect" toml:"dialect" json:"dialect"`

	// Namespace is the dotted prefix the bridge resolves. nil means default ("copilot").
	// An explicit empty string makes the bridge a catch-all fallback for every name.
	Namespace *string `yaml:"namespace,omitempty" toml:"namespace,omitempty" json:"namespace,omitempty"`

	// AllowedPackages restricts which stdlib packages the go dialect may import.
	// Empty means the built-in safe list.
	AllowedPackages []string `yaml:"allowed-packages,omitempty" toml:"allowed-packages,omitempty" json:"allowed-packages,omitempty"`
}

// ServerConfig holds the serve mode listener.
type ServerConfig struct {
	Host string `yaml:"host" toml:"host" json:"host"`
	Port int    `yaml:"port" toml:"port" json:"port"`
	// APIKey, when set, is required as a bearer token on /v1 routes.
	APIKey string `yaml:"api-key" toml:"api-key" json:"-"`
	// Debug enables gin debug mode.
	Debug bool `yaml:"debug" toml:"debug" json:"debug"`
}

// LoggingConfig holds log level and rotation settings.
type LoggingConfig struct {
	Level      string `yaml:"level" toml:"level" json:"level"`
	File       string `yaml:"file,omitempty" toml:"file,omitempty" json:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max-size-mb,omitempty" toml:"max-size-mb,omitempty" json:"max-size-mb,omitempty"`
	MaxBackups int    `yaml:"max-backups,omitempty" toml:"max-backups,omitempty" json:"max-backups,omitempty"`
	MaxAgeDays int    `yaml:"max-age-days,omitempty" toml:"max-age-days,omitempty" json:"max-age-days,omitempty"`
	Compress   bool   `yaml:"compress,omitempty" toml:"compress,omitempty" json:"compress,omitempty"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadConfig reads the file at path and applies defaults. Files ending in .toml are
// decoded as TOML, everything else as YAML. An empty path returns Default().
func LoadConfig(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg := &Config{}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		err = toml.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.applyDefaults()
	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Completion.BaseURL == "" {
		c.Completion.BaseURL = "https://copilot.githubassets.com"
	}
	if c.Completion.Engine == "" {
		c.Completion.Engine = "github-py-stochbpe-cushman-pii"
	}
	if c.Completion.Intent == "" {
		c.Completion.Intent = "copilot-ghost"
	}
	if c.Completion.Organization == "" {
		c.Completion.Organization = "github-copilot"
	}
	if c.Auth.ClientID == "" {
		// GitHub's VS Code OAuth app.
		c.Auth.ClientID = "01ab8ac9400c4e429b23"
	}
	if c.Auth.Scope == "" {
		c.Auth.Scope = "read:user"
	}
	if c.Auth.DeviceCodeURL == "" {
		c.Auth.DeviceCodeURL = "https://github.com/login/device/code"
	}
	if c.Auth.TokenURL == "" {
		c.Auth.TokenURL = "https://github.com/login/oauth/access_token"
	}
	if c.Auth.CopilotTokenURL == "" {
		c.Auth.CopilotTokenURL = "https://api.github.com/copilot_internal/token"
	}
	if c.Sandbox.Dialect == "" {
		c.Sandbox.Dialect = DialectStarlark
	}
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8317
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.TokenEnv == "" {
		c.TokenEnv = DefaultTokenEnv
	}
	if c.EnvFile == "" {
		c.EnvFile = ".env"
	}
}

// Validate rejects settings that cannot work.
func (c *Config) Validate() error {
	switch c.Sandbox.Dialect {
	case DialectStarlark, DialectGo:
	default:
		return fmt.Errorf("unknown sandbox dialect %q (want %s or %s)", c.Sandbox.Dialect, DialectStarlark, DialectGo)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.ProxyURL != "" {
		if _, err := url.Parse(c.ProxyURL); err != nil {
			return fmt.Errorf("invalid proxy-url: %w", err)
		}
	}
	return nil
}

// EndpointURL returns the full completions URL.
func (c *CompletionConfig) EndpointURL() string {
	return strings.TrimRight(c.BaseURL, "/") + "/v1/engines/" + c.Engine + "/completions"
}

// GetMaxTokens returns the completion token limit, defaulting to 200.
func (c *CompletionConfig) GetMaxTokens() int {
	if c == nil || c.MaxTokens == nil {
		return 200
	}
	return *c.MaxTokens
}

// GetTemperature returns the sampling temperature, defaulting to 0.2.
func (c *CompletionConfig) GetTemperature() float64 {
	if c == nil || c.Temperature == nil {
		return 0.2
	}
	return *c.Temperature
}

// GetTopP returns the nucleus sampling mass, defaulting to 1.
func (c *CompletionConfig) GetTopP() float64 {
	if c == nil || c.TopP == nil {
		return 1
	}
	return *c.TopP
}

// GetN returns the number of choices, defaulting to 1.
func (c *CompletionConfig) GetN() int {
	if c == nil || c.N == nil {
		return 1
	}
	return *c.N
}

// GetLogprobs returns the logprobs setting, defaulting to 2.
func (c *CompletionConfig) GetLogprobs() int {
	if c == nil || c.Logprobs == nil {
		return 2
	}
	return *c.Logprobs
}

// GetNamespace returns the synthetic module namespace, defaulting to "copilot".
func (c *SandboxConfig) GetNamespace() string {
	if c == nil || c.Namespace == nil {
		return DefaultNamespace
	}
	return strings.Trim(*c.Namespace, ".")
}

// Addr returns host:port for the serve mode listener.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LoadEnv loads EnvFile into the process environment. When override is true values
// already present in the environment are replaced (used on hot reload).
// A missing file is not an error.
func (c *Config) LoadEnv(override bool) error {
	if c.EnvFile == "" {
		return nil
	}
	if _, err := os.Stat(c.EnvFile); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	var err error
	if override {
		err = godotenv.Overload(c.EnvFile)
	} else {
		err = godotenv.Load(c.EnvFile)
	}
	if err != nil {
		return fmt.Errorf("failed to load env file %s: %w", c.EnvFile, err)
	}
	log.Debugf("loaded environment from %s", c.EnvFile)
	return nil
}

// Token returns the completion bearer token from the environment. Empty means
// requests go out unauthenticated.
func (c *Config) Token() string {
	return strings.TrimSpace(os.Getenv(c.TokenEnv))
}

// HTTPClient builds an outbound client honoring ProxyURL and the completion timeout.
func (c *Config) HTTPClient() *http.Client {
	client := &http.Client{}
	if c.Completion.TimeoutSeconds > 0 {
		client.Timeout = time.Duration(c.Completion.TimeoutSeconds) * time.Second
	}
	if c.ProxyURL == "" {
		return client
	}
	proxyURL, err := url.Parse(c.ProxyURL)
	if err != nil {
		log.Warnf("ignoring invalid proxy-url %q: %v", c.ProxyURL, err)
		return client
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = http.ProxyURL(proxyURL)
	client.Transport = transport
	return client
}
