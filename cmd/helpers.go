package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/dayuer/tgchat-go/internal/bus"
	"github.com/dayuer/tgchat-go/internal/config"
	"github.com/dayuer/tgchat-go/internal/redis"
	"github.com/dayuer/tgchat-go/internal/relay"
	"github.com/dayuer/tgchat-go/internal/store"
	"github.com/dayuer/tgchat-go/internal/utils"
)

// loadConfig loads and validates the configuration named by --config.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// openStore opens the SQLite database named in cfg.
func openStore(cfg config.Config) (*store.SQLiteStore, error) {
	var opts []store.Option
	if cfg.Store.BcryptCost >= bcrypt.MinCost {
		opts = append(opts, store.WithBcryptCost(cfg.Store.BcryptCost))
	}
	path := utils.ExpandHome(cfg.Store.Path)
	if path != ":memory:" {
		if _, err := utils.EnsureDir(filepath.Dir(path)); err != nil {
			return nil, fmt.Errorf("creating database dir: %w", err)
		}
	}
	st, err := store.NewSQLiteStore(path, opts...)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return st, nil
}

// openBus creates the configured bus.
func openBus(ctx context.Context, cfg config.Config) (bus.Bus, error) {
	b, err := bus.New(ctx, cfg.Bus.Factory())
	if err != nil {
		return nil, fmt.Errorf("opening bus: %w", err)
	}
	log.Printf("[Bus] Using %s bus", cfg.Bus.Kind)
	return b, nil
}

// openPresence returns the cross-process presence registry when the bus is
// shared through Redis, and nil otherwise.
func openPresence(ctx context.Context, cfg config.Config) (relay.Presence, func(), error) {
	if cfg.Bus.Kind != bus.KindRedis {
		return nil, func() {}, nil
	}
	client, err := redis.Open(ctx, cfg.Bus.Redis)
	if err != nil {
		return nil, nil, fmt.Errorf("opening presence: %w", err)
	}
	p := redis.NewPresence(client, fmt.Sprintf("%s-%s", cfg.Relay.InstanceID, uuid.NewString()[:8]), redis.DefaultPresenceTTL)
	log.Printf("[Redis] Session presence as %s", p.Owner())
	return p, func() { client.Close() }, nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			fmt.Println("\nShutting down...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}
