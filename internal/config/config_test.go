package config

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "https://copilot.githubassets.com/v1/engines/github-py-stochbpe-cushman-pii/completions", cfg.Completion.EndpointURL())
	assert.Equal(t, 200, cfg.Completion.GetMaxTokens())
	assert.Equal(t, 0.2, cfg.Completion.GetTemperature())
	assert.Equal(t, 1.0, cfg.Completion.GetTopP())
	assert.Equal(t, 1, cfg.Completion.GetN())
	assert.Equal(t, 2, cfg.Completion.GetLogprobs())
	assert.Equal(t, "01ab8ac9400c4e429b23", cfg.Auth.ClientID)
	assert.Equal(t, "read:user", cfg.Auth.Scope)
	assert.Equal(t, DialectStarlark, cfg.Sandbox.Dialect)
	assert.Equal(t, DefaultNamespace, cfg.Sandbox.GetNamespace())
	assert.Equal(t, DefaultTokenEnv, cfg.TokenEnv)
	assert.Equal(t, "127.0.0.1:8317", cfg.Server.Addr())
}

func TestLoadConfig_ValidYAML(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
		check   func(t *testing.T, cfg *Config)
	}{
		{
			name: "sampling overrides",
			yaml: `
completion:
  base-url: http://localhost:9999/
  engine: test-engine
  max-tokens: 64
  temperature: 0
`,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "http://localhost:9999/v1/engines/test-engine/completions", cfg.Completion.EndpointURL())
				assert.Equal(t, 64, cfg.Completion.GetMaxTokens())
				assert.Equal(t, 0.0, cfg.Completion.GetTemperature())
			},
		},
		{
			name: "explicit empty namespace is a catch-all",
			yaml: `
sandbox:
  dialect: go
  namespace: ""
`,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, DialectGo, cfg.Sandbox.Dialect)
				assert.Equal(t, "", cfg.Sandbox.GetNamespace())
			},
		},
		{
			name: "namespace dots are trimmed",
			yaml: `
sandbox:
  namespace: ai.
`,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "ai", cfg.Sandbox.GetNamespace())
			},
		},
		{
			name:    "unknown dialect",
			yaml:    "sandbox:\n  dialect: cobol\n",
			wantErr: true,
		},
		{
			name:    "invalid port",
			yaml:    "server:\n  port: 70000\n",
			wantErr: true,
		},
		{
			name:    "malformed yaml",
			yaml:    "completion: [",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadConfig(writeConfig(t, tt.yaml))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadConfig_TOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
token-env = "MY_TOKEN"

[completion]
engine = "toml-engine"
max-tokens = 32

[sandbox]
dialect = "go"
namespace = "gen"
allowed-packages = ["strings"]

[server]
port = 9000
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "MY_TOKEN", cfg.TokenEnv)
	assert.Equal(t, "toml-engine", cfg.Completion.Engine)
	assert.Equal(t, 32, cfg.Completion.GetMaxTokens())
	assert.Equal(t, DialectGo, cfg.Sandbox.Dialect)
	assert.Equal(t, "gen", cfg.Sandbox.GetNamespace())
	assert.Equal(t, []string{"strings"}, cfg.Sandbox.AllowedPackages)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr())
}

func TestConfig_LoadEnvAndToken(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("TEST_COPILOT_TOKEN=first\n"), 0o600))

	cfg := Default()
	cfg.EnvFile = envFile
	cfg.TokenEnv = "TEST_COPILOT_TOKEN"
	t.Setenv("TEST_COPILOT_TOKEN", "")
	require.NoError(t, os.Unsetenv("TEST_COPILOT_TOKEN"))

	require.NoError(t, cfg.LoadEnv(false))
	assert.Equal(t, "first", cfg.Token())

	require.NoError(t, os.WriteFile(envFile, []byte("TEST_COPILOT_TOKEN=second\n"), 0o600))
	require.NoError(t, cfg.LoadEnv(false))
	assert.Equal(t, "first", cfg.Token(), "Load must not override existing values")

	require.NoError(t, cfg.LoadEnv(true))
	assert.Equal(t, "second", cfg.Token())
}

func TestConfig_LoadEnvMissingFileIsNoop(t *testing.T) {
	cfg := Default()
	cfg.EnvFile = filepath.Join(t.TempDir(), "absent.env")
	assert.NoError(t, cfg.LoadEnv(false))
}

func TestConfig_HTTPClientProxy(t *testing.T) {
	cfg := Default()
	cfg.ProxyURL = "http://proxy.local:3128"
	cfg.Completion.TimeoutSeconds = 3

	client := cfg.HTTPClient()
	assert.Equal(t, 3*time.Second, client.Timeout)

	transport, ok := client.Transport.(*http.Transport)
	require.True(t, ok)
	req, _ := http.NewRequest(http.MethodGet, "https://copilot.githubassets.com", nil)
	proxy, err := transport.Proxy(req)
	require.NoError(t, err)
	assert.Equal(t, "proxy.local:3128", proxy.Host)
}

func TestWatchFile_NotifiesOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("A=1\n"), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan struct{}, 8)
	done := make(chan error, 1)
	go func() {
		done <- WatchFile(ctx, path, func() { changed <- struct{}{} })
	}()

	// Keep writing until the watcher has registered and reports an event.
	deadline := time.After(5 * time.Second)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-changed:
			cancel()
			require.NoError(t, <-done)
			return
		case <-ticker.C:
			require.NoError(t, os.WriteFile(path, []byte("A=2\n"), 0o600))
		case <-deadline:
			t.Fatal("watcher did not report the write")
		}
	}
}
