// Package config handles configuration loading, saving, and schema definition.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/dayuer/tgchat-go/internal/bus"
	"github.com/dayuer/tgchat-go/internal/redis"
	"github.com/dayuer/tgchat-go/internal/relay"
	"github.com/dayuer/tgchat-go/internal/store"
)

// Config is the top-level tgchat configuration.
// Uses json tags in camelCase to match the JSON config file format; env tags
// name the variables that override the file.
type Config struct {
	Relay    RelayConfig    `json:"relay"`
	Bus      BusConfig      `json:"bus"`
	Store    StoreConfig    `json:"store"`
	Telegram TelegramConfig `json:"telegram"`
}

// RelayConfig holds the WebSocket server settings. Durations are in seconds.
type RelayConfig struct {
	Host           string `json:"host,omitempty" env:"WS_HOST"`
	Port           int    `json:"port,omitempty" env:"WS_PORT"`
	InstanceID     string `json:"instanceId,omitempty" env:"INSTANCE_ID"` // presence owner name
	PingInterval   int    `json:"pingInterval,omitempty"`
	ReadTimeout    int    `json:"readTimeout,omitempty"`
	WriteTimeout   int    `json:"writeTimeout,omitempty"`
	MaxMessageSize int64  `json:"maxMessageSize,omitempty"`
	HistoryLimit   int    `json:"historyLimit,omitempty" env:"HISTORY_LIMIT"`
}

// BusConfig selects the bus backend.
type BusConfig struct {
	Kind           string       `json:"kind,omitempty" env:"USED_BUS"` // internal | redis
	PollIntervalMs int          `json:"pollIntervalMs,omitempty" env:"BUS_POLL_INTERVAL_MS"`
	Redis          redis.Config `json:"redis"`
}

// StoreConfig locates the SQLite database.
type StoreConfig struct {
	Path       string `json:"path,omitempty" env:"TGCHAT_DB"`
	BcryptCost int    `json:"bcryptCost,omitempty"`
}

// TelegramConfig holds Telegram bot settings.
type TelegramConfig struct {
	Token           string `json:"token,omitempty" env:"TG_TOKEN"`
	APIBase         string `json:"apiBase,omitempty" env:"TG_API_BASE"`
	RefreshInterval int    `json:"refreshInterval,omitempty"` // seconds between website list refreshes
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	hostname, _ := os.Hostname()
	return Config{
		Relay: RelayConfig{
			Host:           "0.0.0.0",
			Port:           8765,
			InstanceID:     hostname,
			PingInterval:   10,
			ReadTimeout:    60,
			WriteTimeout:   10,
			MaxMessageSize: 64 << 10,
			HistoryLimit:   store.DefaultHistoryLimit,
		},
		Bus: BusConfig{
			Kind:           bus.KindInternal,
			PollIntervalMs: int(bus.DefaultPollInterval / time.Millisecond),
		},
		Store: StoreConfig{
			Path: "", // resolved to ~/.tgchat/tgchat.db
		},
		Telegram: TelegramConfig{
			RefreshInterval: 60,
		},
	}
}

// Validate rejects settings the process cannot run with.
func (c Config) Validate() error {
	switch c.Bus.Kind {
	case bus.KindInternal:
	case bus.KindRedis:
		if c.Bus.Redis.URL == "" {
			return fmt.Errorf("bus %q requires redis.url", c.Bus.Kind)
		}
	default:
		return fmt.Errorf("bus %q is not supported", c.Bus.Kind)
	}
	if c.Relay.Port <= 0 || c.Relay.Port > 65535 {
		return fmt.Errorf("invalid relay port %d", c.Relay.Port)
	}
	return nil
}

// Addr returns the relay listen address.
func (r RelayConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// Tuning converts the file settings into relay tuning.
func (r RelayConfig) Tuning() relay.Config {
	return relay.Config{
		PingInterval:   time.Duration(r.PingInterval) * time.Second,
		ReadTimeout:    time.Duration(r.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(r.WriteTimeout) * time.Second,
		MaxMessageSize: r.MaxMessageSize,
		HistoryLimit:   r.HistoryLimit,
	}
}

// Factory converts the file settings into a bus factory config.
func (b BusConfig) Factory() bus.Config {
	return bus.Config{
		Kind:         b.Kind,
		PollInterval: time.Duration(b.PollIntervalMs) * time.Millisecond,
		Redis:        b.Redis,
	}
}
