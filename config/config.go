// Package config loads the mcpbase-server configuration from YAML, expands ${VAR}
// references, applies MCPBASE_* environment overrides and validates the result.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Transport names.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
	TransportSSE   = "sse"
)

// Backend names.
const (
	BackendNative = "native"
	BackendMCPGo  = "mcp-go"
	BackendAuto   = "auto"
)

// Config is the complete server configuration.
type Config struct {
	Server    ServerConfig   `yaml:"server"`
	Protocol  ProtocolConfig `yaml:"protocol"`
	Transport string         `yaml:"transport"`
	Backend   string         `yaml:"backend"`
	KV        KVConfig       `yaml:"kv"`
	Logging   LoggingConfig  `yaml:"logging"`
}

// ServerConfig identifies the server and configures its network bindings.
type ServerConfig struct {
	Name         string `yaml:"name"`
	Version      string `yaml:"version"`
	Instructions string `yaml:"instructions"`
	HTTPAddr     string `yaml:"http_addr"`
	SSEPath      string `yaml:"sse_path"`
	MessagePath  string `yaml:"message_path"`
	// BaseURL prefixes the message endpoint announced to SSE clients. Empty means a
	// path relative to the server.
	BaseURL string `yaml:"base_url"`

	// SendTimeout bounds how long writing a single response may take.
	SendTimeout    time.Duration `yaml:"-"`
	SendTimeoutRaw string        `yaml:"send_timeout"`
}

// ProtocolConfig lists the protocol versions accepted by initialize.
type ProtocolConfig struct {
	Versions []string `yaml:"versions"`
}

// KVConfig configures the key-value resource namespace.
type KVConfig struct {
	// Seed is a pointer so an explicit false in the file survives default filling.
	Seed *bool `yaml:"seed"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

var (
	validTransports = []string{TransportStdio, TransportHTTP, TransportSSE}
	validBackends   = []string{BackendNative, BackendMCPGo, BackendAuto}
	validLevels     = []string{"debug", "info", "warn", "error"}
	validFormats    = []string{"text", "json"}

	envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)
)

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads the configuration at path. An empty path yields the defaults, still subject
// to environment overrides.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		expandedData := expandEnvVars(string(data))

		if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}

	cfg.applyDefaults()

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR} with the value of the environment variable VAR.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyEnv applies the MCPBASE_* overrides.
func (c *Config) applyEnv() error {
	if v := os.Getenv("MCPBASE_TRANSPORT"); v != "" {
		c.Transport = strings.ToLower(v)
	}
	if v := os.Getenv("MCPBASE_HTTP_ADDR"); v != "" {
		c.Server.HTTPAddr = v
	}
	if v := os.Getenv("MCPBASE_BACKEND"); v != "" {
		c.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("MCPBASE_LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("MCPBASE_DEBUG"); v != "" {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parsing MCPBASE_DEBUG %q: %w", v, err)
		}
		if debug {
			c.Logging.Level = "debug"
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Name == "" {
		c.Server.Name = "MCPBase Server"
	}
	if c.Server.Version == "" {
		c.Server.Version = "1.0.0"
	}
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "0.0.0.0:8000"
	}
	if c.Server.SSEPath == "" {
		c.Server.SSEPath = "/sse"
	}
	if c.Server.MessagePath == "" {
		c.Server.MessagePath = "/message"
	}
	if c.Server.SendTimeoutRaw == "" {
		c.Server.SendTimeoutRaw = "30s"
	}
	if c.Server.SendTimeout == 0 {
		c.Server.SendTimeout = 30 * time.Second
	}
	if len(c.Protocol.Versions) == 0 {
		c.Protocol.Versions = []string{"2024-11-05", "2025-03-26", "2025-06-18"}
	}
	if c.Transport == "" {
		c.Transport = TransportStdio
	}
	if c.Backend == "" {
		c.Backend = BackendNative
	}
	if c.KV.Seed == nil {
		seed := true
		c.KV.Seed = &seed
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

func parseDurations(cfg *Config) error {
	d, err := time.ParseDuration(cfg.Server.SendTimeoutRaw)
	if err != nil {
		return fmt.Errorf("parsing send_timeout %q: %w", cfg.Server.SendTimeoutRaw, err)
	}
	cfg.Server.SendTimeout = d
	return nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Server.Name == "" {
		return errors.New("server.name is required")
	}
	if !slices.Contains(validTransports, c.Transport) {
		return fmt.Errorf("transport must be one of %s, got %q", strings.Join(validTransports, ", "), c.Transport)
	}
	if !slices.Contains(validBackends, c.Backend) {
		return fmt.Errorf("backend must be one of %s, got %q", strings.Join(validBackends, ", "), c.Backend)
	}
	if c.Transport != TransportStdio && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required for the %s transport", c.Transport)
	}
	if !strings.HasPrefix(c.Server.SSEPath, "/") || !strings.HasPrefix(c.Server.MessagePath, "/") {
		return errors.New("server.sse_path and server.message_path must start with /")
	}
	if c.Server.SSEPath == c.Server.MessagePath {
		return errors.New("server.sse_path and server.message_path must differ")
	}
	if len(c.Protocol.Versions) == 0 {
		return errors.New("protocol.versions must not be empty")
	}
	if c.Server.SendTimeout <= 0 {
		return errors.New("server.send_timeout must be positive")
	}
	if !slices.Contains(validLevels, c.Logging.Level) {
		return fmt.Errorf("logging.level must be one of %s, got %q", strings.Join(validLevels, ", "), c.Logging.Level)
	}
	if !slices.Contains(validFormats, c.Logging.Format) {
		return fmt.Errorf("logging.format must be one of %s, got %q", strings.Join(validFormats, ", "), c.Logging.Format)
	}
	return nil
}

// SeedKV reports whether the kv namespace starts with the demo entries.
func (c *Config) SeedKV() bool {
	return c.KV.Seed == nil || *c.KV.Seed
}

// SlogLevel returns the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.Logging.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// MessageURL returns the message endpoint announced to SSE clients.
func (c *Config) MessageURL() string {
	return strings.TrimSuffix(c.Server.BaseURL, "/") + c.Server.MessagePath
}
