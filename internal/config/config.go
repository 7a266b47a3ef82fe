// Package config provides configuration for the control plane.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

const (
	StoreDriverSQLite = "sqlite"
	StoreDriverBbolt  = "bbolt"
)

// Config holds the control plane configuration.
type Config struct {
	// Server settings
	HTTPPort int
	RPCPort  int // 0 disables the agent JSON-RPC listener

	// Durable store
	StoreDriver string
	DatabaseURL string
	BoltPath    string

	// Run cache and batch loader
	CacheWindow    int
	LoaderWait     time.Duration
	LoaderMaxBatch int

	// Bus
	SubscriberBuffer int

	// Command policy (rego); empty uses the built-in policy
	CommandPolicyFile string

	// WebSocket settings
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64

	// Logging
	LogLevel string
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		HTTPPort:         3000,
		RPCPort:          3001,
		StoreDriver:      StoreDriverSQLite,
		DatabaseURL:      "file:controlplane.db?cache=shared&mode=rwc",
		BoltPath:         "controlplane.bolt",
		CacheWindow:      100,
		LoaderWait:       2 * time.Millisecond,
		LoaderMaxBatch:   100,
		SubscriberBuffer: 256,
		PingInterval:     30 * time.Second,
		WriteTimeout:     10 * time.Second,
		ReadTimeout:      60 * time.Second,
		MaxMessageSize:   65536,
		LogLevel:         "info",
	}
}

// Load loads configuration: defaults, then the TOML file named by
// CONFIG_FILE (if any), then environment variables.
func Load() (*Config, error) {
	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var file fileConfig
	if err := toml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	file.apply(c)
	return nil
}

func (c *Config) applyEnv() {
	c.HTTPPort = getEnvInt("HTTP_PORT", c.HTTPPort)
	c.RPCPort = getEnvInt("RPC_PORT", c.RPCPort)
	c.StoreDriver = getEnv("STORE_DRIVER", c.StoreDriver)
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.BoltPath = getEnv("BOLT_PATH", c.BoltPath)
	c.CacheWindow = getEnvInt("CACHE_WINDOW", c.CacheWindow)
	c.LoaderWait = getEnvMillis("LOADER_WAIT_MS", c.LoaderWait)
	c.LoaderMaxBatch = getEnvInt("LOADER_MAX_BATCH", c.LoaderMaxBatch)
	c.SubscriberBuffer = getEnvInt("SUBSCRIBER_BUFFER", c.SubscriberBuffer)
	c.CommandPolicyFile = getEnv("COMMAND_POLICY_FILE", c.CommandPolicyFile)
	c.PingInterval = getEnvMillis("WS_PING_INTERVAL_MS", c.PingInterval)
	c.WriteTimeout = getEnvMillis("WS_WRITE_TIMEOUT_MS", c.WriteTimeout)
	c.ReadTimeout = getEnvMillis("WS_READ_TIMEOUT_MS", c.ReadTimeout)
	c.MaxMessageSize = int64(getEnvInt("WS_MAX_MESSAGE_SIZE", int(c.MaxMessageSize)))
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	c.StoreDriver = strings.ToLower(strings.TrimSpace(c.StoreDriver))
	switch c.StoreDriver {
	case StoreDriverSQLite, StoreDriverBbolt:
	default:
		return fmt.Errorf("unknown store driver %q", c.StoreDriver)
	}
	if c.CacheWindow <= 0 {
		return fmt.Errorf("cache window must be positive, got %d", c.CacheWindow)
	}
	if c.SubscriberBuffer <= 0 {
		return fmt.Errorf("subscriber buffer must be positive, got %d", c.SubscriberBuffer)
	}
	if c.LoaderMaxBatch <= 0 {
		return fmt.Errorf("loader max batch must be positive, got %d", c.LoaderMaxBatch)
	}
	if c.HTTPPort <= 0 {
		return fmt.Errorf("http port must be positive, got %d", c.HTTPPort)
	}
	return nil
}

// fileConfig mirrors Config with durations in milliseconds, so a missing key
// leaves the current value alone.
type fileConfig struct {
	HTTPPort          *int    `toml:"http_port"`
	RPCPort           *int    `toml:"rpc_port"`
	StoreDriver       *string `toml:"store_driver"`
	DatabaseURL       *string `toml:"database_url"`
	BoltPath          *string `toml:"bolt_path"`
	CacheWindow       *int    `toml:"cache_window"`
	LoaderWaitMs      *int    `toml:"loader_wait_ms"`
	LoaderMaxBatch    *int    `toml:"loader_max_batch"`
	SubscriberBuffer  *int    `toml:"subscriber_buffer"`
	CommandPolicyFile *string `toml:"command_policy_file"`
	LogLevel          *string `toml:"log_level"`

	WS struct {
		PingIntervalMs *int   `toml:"ping_interval_ms"`
		WriteTimeoutMs *int   `toml:"write_timeout_ms"`
		ReadTimeoutMs  *int   `toml:"read_timeout_ms"`
		MaxMessageSize *int64 `toml:"max_message_size"`
	} `toml:"ws"`
}

func (f fileConfig) apply(c *Config) {
	setInt(&c.HTTPPort, f.HTTPPort)
	setInt(&c.RPCPort, f.RPCPort)
	setString(&c.StoreDriver, f.StoreDriver)
	setString(&c.DatabaseURL, f.DatabaseURL)
	setString(&c.BoltPath, f.BoltPath)
	setInt(&c.CacheWindow, f.CacheWindow)
	setMillis(&c.LoaderWait, f.LoaderWaitMs)
	setInt(&c.LoaderMaxBatch, f.LoaderMaxBatch)
	setInt(&c.SubscriberBuffer, f.SubscriberBuffer)
	setString(&c.CommandPolicyFile, f.CommandPolicyFile)
	setString(&c.LogLevel, f.LogLevel)
	setMillis(&c.PingInterval, f.WS.PingIntervalMs)
	setMillis(&c.WriteTimeout, f.WS.WriteTimeoutMs)
	setMillis(&c.ReadTimeout, f.WS.ReadTimeoutMs)
	if f.WS.MaxMessageSize != nil {
		c.MaxMessageSize = *f.WS.MaxMessageSize
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setMillis(dst *time.Duration, v *int) {
	if v != nil {
		*dst = time.Duration(*v) * time.Millisecond
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvMillis(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return time.Duration(intVal) * time.Millisecond
		}
	}
	return defaultVal
}
