// Package config holds the connection settings shared by every obsctl
// command. Values are layered: defaults, then the JSON file, then the
// environment, then command-line flags.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/cyradotpink/influencer/internal/obsws"
)

const (
	DefaultHost = "localhost"
	DefaultPort = 4455
)

// Config is the on-disk and in-memory form of the settings.
type Config struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"password,omitempty"`

	// EventSubscriptions is sent in Identify by commands that consume
	// events; nil leaves the server default.
	EventSubscriptions *uint32 `json:"event_subscriptions,omitempty"`

	// RequestTimeoutMillis bounds each request; 0 waits forever.
	RequestTimeoutMillis int    `json:"request_timeout_ms"`
	KeepAliveSeconds     int    `json:"keep_alive_seconds"`
	Retries              int    `json:"retries"`
	Compact              bool   `json:"compact"`
	LogLevel             string `json:"log_level"`
	Listen               string `json:"listen"`

	Redis RedisConfig `json:"redis"`
}

// RedisConfig holds connection settings for the event relay.
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db"`
	Prefix   string `json:"prefix"` // channel prefix
}

// DefaultRedisConfig returns a RedisConfig with local defaults.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:   "localhost:6379",
		Prefix: "influencer:obs:",
	}
}

// Channel is the pub/sub channel events are relayed on.
func (c RedisConfig) Channel() string { return c.Prefix + "events" }

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Host:                  DefaultHost,
		Port:                  DefaultPort,
		RequestTimeoutMillis: 30_000,
		KeepAliveSeconds:     10,
		Retries:              0,
		LogLevel:             "warn",
		Listen:               "127.0.0.1:8455",
		Redis:                DefaultRedisConfig(),
	}
}

// FromEnv returns Default with the environment applied.
func FromEnv() *Config {
	cfg := Default()
	cfg.ApplyEnv()
	return cfg
}

// ApplyEnv overrides fields from OBS_WS_HOST, OBS_WS_PORT, OBS_WS_PASSWORD,
// OBSCTL_LOG_LEVEL and REDIS_ADDR, REDIS_PASSWORD, REDIS_DB, REDIS_PREFIX.
// Unparseable numbers are ignored.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("OBS_WS_HOST"); v != "" {
		c.Host = v
	}
	if v := os.Getenv("OBS_WS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Port = port
		}
	}
	if v, ok := os.LookupEnv("OBS_WS_PASSWORD"); ok {
		c.Password = v
	}
	if v := os.Getenv("OBSCTL_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Redis.Addr = addr
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		c.Redis.Password = pw
	}
	if dbStr := os.Getenv("REDIS_DB"); dbStr != "" {
		if db, err := strconv.Atoi(dbStr); err == nil {
			c.Redis.DB = db
		}
	}
	if prefix := os.Getenv("REDIS_PREFIX"); prefix != "" {
		c.Redis.Prefix = prefix
	}
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	if c.Host == "" {
		return errors.New("config: host is empty")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}
	if c.RequestTimeoutMillis < 0 || c.KeepAliveSeconds < 0 || c.Retries < 0 {
		return errors.New("config: timeouts and retries must not be negative")
	}
	return nil
}

// URL is the websocket address of the server.
func (c *Config) URL() string {
	return "ws://" + net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMillis) * time.Millisecond
}

func (c *Config) KeepAlive() time.Duration {
	return time.Duration(c.KeepAliveSeconds) * time.Second
}

// Subscriptions converts EventSubscriptions for obsws.
func (c *Config) Subscriptions() *obsws.EventSubscription {
	if c.EventSubscriptions == nil {
		return nil
	}
	return obsws.Subscriptions(obsws.EventSubscription(*c.EventSubscriptions))
}

// Store ties a Config to a file.
type Store struct {
	mu   sync.Mutex
	path string
	data *Config
}

func NewStore(path string) *Store {
	return &Store{path: path, data: Default()}
}

// Load reads the file over the defaults. A missing file is not an error.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.path == "" {
		return nil
	}
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	cfg := Default()
	if err := json.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("config: %s: %w", s.path, err)
	}
	s.data = cfg
	return nil
}

// Save writes the current settings. The file may hold a password, so it is
// created owner-only.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.path == "" {
		return errors.New("config: no file path")
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, append(b, '\n'), 0o600)
}

// Config returns a copy of the current settings.
func (s *Store) Config() *Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s.data
	if s.data.EventSubscriptions != nil {
		v := *s.data.EventSubscriptions
		cp.EventSubscriptions = &v
	}
	return &cp
}

// Set replaces the settings held by the store.
func (s *Store) Set(cfg *Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *cfg
	s.data = &cp
}

// Load is a shortcut for NewStore(path).Load followed by Config.
func Load(path string) (*Config, error) {
	s := NewStore(path)
	if err := s.Load(); err != nil {
		return nil, err
	}
	return s.Config(), nil
}
