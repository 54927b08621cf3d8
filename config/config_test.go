package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_EmptyPathYieldsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "MCPBase Server", cfg.Server.Name)
	assert.Equal(t, "1.0.0", cfg.Server.Version)
	assert.Equal(t, "0.0.0.0:8000", cfg.Server.HTTPAddr)
	assert.Equal(t, "/sse", cfg.Server.SSEPath)
	assert.Equal(t, "/message", cfg.Server.MessagePath)
	assert.Equal(t, 30*time.Second, cfg.Server.SendTimeout)
	assert.Equal(t, []string{"2024-11-05", "2025-03-26", "2025-06-18"}, cfg.Protocol.Versions)
	assert.Equal(t, TransportStdio, cfg.Transport)
	assert.Equal(t, BackendNative, cfg.Backend)
	assert.True(t, cfg.SeedKV())
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestDefault_IsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  name: "Test Gateway"
  version: "2.0.0"
  instructions: "Use the calculator."
  http_addr: "127.0.0.1:9000"
  base_url: "http://example.com/"
  send_timeout: "5s"

protocol:
  versions:
    - "2025-06-18"

transport: sse
backend: auto

kv:
  seed: false

logging:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "Test Gateway", cfg.Server.Name)
	assert.Equal(t, "2.0.0", cfg.Server.Version)
	assert.Equal(t, "Use the calculator.", cfg.Server.Instructions)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.HTTPAddr)
	assert.Equal(t, 5*time.Second, cfg.Server.SendTimeout)
	assert.Equal(t, []string{"2025-06-18"}, cfg.Protocol.Versions)
	assert.Equal(t, TransportSSE, cfg.Transport)
	assert.Equal(t, BackendAuto, cfg.Backend)
	assert.False(t, cfg.SeedKV())
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "http://example.com/message", cfg.MessageURL())
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("TEST_SERVER_NAME", "from-env")

	path := writeConfig(t, `
server:
  name: "${TEST_SERVER_NAME}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Server.Name)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("MCPBASE_TRANSPORT", "HTTP")
	t.Setenv("MCPBASE_HTTP_ADDR", "127.0.0.1:7000")
	t.Setenv("MCPBASE_BACKEND", "mcp-go")
	t.Setenv("MCPBASE_LOG_LEVEL", "warn")

	path := writeConfig(t, `
transport: stdio
backend: native
logging:
  level: error
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, TransportHTTP, cfg.Transport)
	assert.Equal(t, "127.0.0.1:7000", cfg.Server.HTTPAddr)
	assert.Equal(t, BackendMCPGo, cfg.Backend)
	assert.Equal(t, slog.LevelWarn, cfg.SlogLevel())
}

func TestLoad_DebugOverridesLevel(t *testing.T) {
	t.Setenv("MCPBASE_DEBUG", "true")
	t.Setenv("MCPBASE_LOG_LEVEL", "error")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
}

func TestLoad_InvalidDebugFlag(t *testing.T) {
	t.Setenv("MCPBASE_DEBUG", "sometimes")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MCPBASE_DEBUG")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "server: [unterminated")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "unknown transport",
			content: "transport: websocket",
			wantErr: "transport must be one of",
		},
		{
			name:    "unknown backend",
			content: "backend: grpc",
			wantErr: "backend must be one of",
		},
		{
			name:    "unknown log level",
			content: "logging:\n  level: verbose",
			wantErr: "logging.level",
		},
		{
			name:    "unknown log format",
			content: "logging:\n  format: xml",
			wantErr: "logging.format",
		},
		{
			name:    "relative sse path",
			content: "server:\n  sse_path: events",
			wantErr: "must start with /",
		},
		{
			name:    "same sse and message path",
			content: "server:\n  sse_path: /rpc\n  message_path: /rpc",
			wantErr: "must differ",
		},
		{
			name:    "invalid send timeout",
			content: "server:\n  send_timeout: soon",
			wantErr: "parsing send_timeout",
		},
		{
			name:    "negative send timeout",
			content: "server:\n  send_timeout: -1s",
			wantErr: "send_timeout must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("TEST_A", "alpha")

	assert.Equal(t, "alpha-", expandEnvVars("${TEST_A}-${TEST_UNSET_VARIABLE}"))
	assert.Equal(t, "no vars", expandEnvVars("no vars"))
}
