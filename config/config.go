// Package config provides CLI configuration management.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultAPIEndpoint is used when neither the file nor the environment sets one.
	DefaultAPIEndpoint = "http://localhost:8080/api/v1"

	appDirName = "kanuni"
)

// Config holds all CLI configuration.
type Config struct {
	APIEndpoint    string          `yaml:"apiEndpoint" json:"apiEndpoint"`
	UserEmail      string          `yaml:"userEmail,omitempty" json:"userEmail,omitempty"`
	DefaultFormat  string          `yaml:"defaultFormat" json:"defaultFormat"`
	ColorOutput    bool            `yaml:"colorOutput" json:"colorOutput"`
	Verbose        bool            `yaml:"verbose" json:"verbose"`
	RequestTimeout time.Duration   `yaml:"requestTimeout" json:"requestTimeout"`
	WebSocket      WebSocketConfig `yaml:"websocket" json:"websocket"`
}

// WebSocketConfig tunes the progress stream.
type WebSocketConfig struct {
	// URL overrides the stream endpoint derived from APIEndpoint.
	URL                  string        `yaml:"url,omitempty" json:"url,omitempty"`
	ReconnectMaxAttempts int           `yaml:"reconnectMaxAttempts" json:"reconnectMaxAttempts"`
	ReconnectDelay       time.Duration `yaml:"reconnectDelay" json:"reconnectDelay"`
	ReconnectMaxElapsed  time.Duration `yaml:"reconnectMaxElapsed" json:"reconnectMaxElapsed"`
	PingInterval         time.Duration `yaml:"pingInterval" json:"pingInterval"`
	EnableProgress       bool          `yaml:"enableProgress" json:"enableProgress"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		APIEndpoint:    DefaultAPIEndpoint,
		DefaultFormat:  "table",
		ColorOutput:    true,
		RequestTimeout: 60 * time.Second,
		WebSocket: WebSocketConfig{
			ReconnectMaxAttempts: 5,
			ReconnectDelay:       time.Second,
			ReconnectMaxElapsed:  60 * time.Second,
			PingInterval:         30 * time.Second,
			EnableProgress:       true,
		},
	}
}

// Load reads the YAML file at path (defaults when it does not exist), then
// applies environment overrides. A .env file in the working directory is
// loaded first; variables already set in the process win.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Ignoring unreadable .env file: %v", err)
	}
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}
	cfg.applyEnv()
	cfg.normalize()
	return cfg, nil
}

// Save writes cfg as YAML, creating the parent directory.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Dir returns the per-OS configuration directory for the CLI.
func Dir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "."
	}
	return filepath.Join(dir, appDirName)
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

// CredentialsPath returns the location of the stored credential file.
func CredentialsPath() string {
	return filepath.Join(Dir(), "auth.json")
}

// WebSocketURL returns the progress stream endpoint. Unless overridden it is
// derived from the API endpoint: http becomes ws, https becomes wss, and the
// path is pointed at /api/v1/ws.
func (c *Config) WebSocketURL() string {
	if c.WebSocket.URL != "" {
		return c.WebSocket.URL
	}
	base := c.APIEndpoint
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")
	switch {
	case strings.HasSuffix(base, "/api/v1"):
		return base + "/ws"
	case strings.Contains(base, "/api/v1/"):
		return strings.Replace(base, "/api/v1/", "/api/v1/ws/", 1)
	default:
		return base + "/api/v1/ws"
	}
}

// Set assigns a single key by its YAML name, as used by `config set`.
func (c *Config) Set(key, value string) error {
	switch key {
	case "apiEndpoint", "api_endpoint":
		c.APIEndpoint = value
	case "defaultFormat", "default_format":
		switch value {
		case "table", "json", "yaml":
		default:
			return fmt.Errorf("unsupported format %q", value)
		}
		c.DefaultFormat = value
	case "colorOutput", "color_output":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid bool for %s: %w", key, err)
		}
		c.ColorOutput = b
	case "verbose":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid bool for %s: %w", key, err)
		}
		c.Verbose = b
	case "requestTimeout":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for %s: %w", key, err)
		}
		c.RequestTimeout = d
	case "websocket.url":
		c.WebSocket.URL = value
	case "websocket.reconnectMaxAttempts":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid int for %s: %w", key, err)
		}
		c.WebSocket.ReconnectMaxAttempts = n
	case "websocket.reconnectDelay", "websocket.reconnectMaxElapsed", "websocket.pingInterval":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for %s: %w", key, err)
		}
		switch key {
		case "websocket.reconnectDelay":
			c.WebSocket.ReconnectDelay = d
		case "websocket.reconnectMaxElapsed":
			c.WebSocket.ReconnectMaxElapsed = d
		default:
			c.WebSocket.PingInterval = d
		}
	case "websocket.enableProgress":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid bool for %s: %w", key, err)
		}
		c.WebSocket.EnableProgress = b
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	c.normalize()
	return nil
}

func (c *Config) applyEnv() {
	c.APIEndpoint = getEnv("KANUNI_API_ENDPOINT", c.APIEndpoint)
	c.Verbose = getEnvBool("KANUNI_VERBOSE", c.Verbose)
	c.RequestTimeout = getEnvDuration("KANUNI_REQUEST_TIMEOUT", c.RequestTimeout)
	c.WebSocket.URL = getEnv("KANUNI_WS_URL", c.WebSocket.URL)
	c.WebSocket.EnableProgress = getEnvBool("KANUNI_ENABLE_PROGRESS", c.WebSocket.EnableProgress)
	c.WebSocket.ReconnectMaxAttempts = getEnvInt("KANUNI_RECONNECT_MAX_ATTEMPTS", c.WebSocket.ReconnectMaxAttempts)
	c.WebSocket.ReconnectDelay = getEnvDuration("KANUNI_RECONNECT_DELAY", c.WebSocket.ReconnectDelay)
	c.WebSocket.ReconnectMaxElapsed = getEnvDuration("KANUNI_RECONNECT_MAX_ELAPSED", c.WebSocket.ReconnectMaxElapsed)
	c.WebSocket.PingInterval = getEnvDuration("KANUNI_PING_INTERVAL", c.WebSocket.PingInterval)
}

func (c *Config) normalize() {
	def := Default()
	if strings.TrimSpace(c.APIEndpoint) == "" {
		c.APIEndpoint = def.APIEndpoint
	}
	c.APIEndpoint = strings.TrimRight(c.APIEndpoint, "/")
	if c.DefaultFormat == "" {
		c.DefaultFormat = def.DefaultFormat
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = def.RequestTimeout
	}
	if c.WebSocket.ReconnectMaxAttempts <= 0 {
		c.WebSocket.ReconnectMaxAttempts = def.WebSocket.ReconnectMaxAttempts
	}
	if c.WebSocket.ReconnectDelay <= 0 {
		c.WebSocket.ReconnectDelay = def.WebSocket.ReconnectDelay
	}
	if c.WebSocket.ReconnectMaxElapsed <= 0 {
		c.WebSocket.ReconnectMaxElapsed = def.WebSocket.ReconnectMaxElapsed
	}
	if c.WebSocket.PingInterval <= 0 {
		c.WebSocket.PingInterval = def.WebSocket.PingInterval
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		log.Printf("Invalid duration for %s: %s, using default %s", key, value, defaultValue)
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
		log.Printf("Invalid int for %s: %s, using default %d", key, value, defaultValue)
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "1", "true", "yes", "y":
			return true
		case "0", "false", "no", "n":
			return false
		default:
			log.Printf("Invalid bool for %s: %s, using default %t", key, value, defaultValue)
		}
	}
	return defaultValue
}
