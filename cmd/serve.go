package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"

	"github.com/dayuer/tgchat-go/internal/bus"
	"github.com/dayuer/tgchat-go/internal/config"
	"github.com/dayuer/tgchat-go/internal/notifier"
	"github.com/dayuer/tgchat-go/internal/relay"
	"github.com/dayuer/tgchat-go/internal/store"
)

var (
	listenHost string
	listenPort int
	relayOnly  bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the relay server and the Telegram notifier",
	Long: `Start tgchat in a single process:
  - WebSocket relay for website widgets (/ws, /health, /api/status)
  - Telegram notifier forwarding visitor messages to subscribed staff`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServices(true, !relayOnly)
	},
}

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Start only the WebSocket relay server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServices(true, false)
	},
}

var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Start only the Telegram notifier",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServices(false, true)
	},
}

func init() {
	for _, c := range []*cobra.Command{serveCmd, relayCmd} {
		c.Flags().StringVar(&listenHost, "host", "", "Listen host (overrides WS_HOST)")
		c.Flags().IntVarP(&listenPort, "port", "p", 0, "Listen port (overrides WS_PORT)")
	}
	serveCmd.Flags().BoolVar(&relayOnly, "relay-only", false, "Do not start the Telegram notifier")
	rootCmd.AddCommand(serveCmd, relayCmd, notifyCmd)
}

func runServices(withRelay, withNotifier bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if listenHost != "" {
		cfg.Relay.Host = listenHost
	}
	if listenPort != 0 {
		cfg.Relay.Port = listenPort
	}
	if withNotifier && cfg.Telegram.Token == "" {
		return fmt.Errorf("telegram bot token not configured (set TG_TOKEN or telegram.token)")
	}

	ctx, cancel := signalContext()
	defer cancel()

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	b, err := openBus(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	tasks := 0
	errCh := make(chan error, 2)
	if withRelay {
		tasks++
		go func() { errCh <- runRelay(ctx, cfg, b, st) }()
	}
	if withNotifier {
		tasks++
		go func() { errCh <- runNotifier(ctx, cfg, b, st) }()
	}

	var firstErr error
	for i := 0; i < tasks; i++ {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
			cancel()
		}
	}
	return firstErr
}

// runRelay serves the widget endpoints until ctx is cancelled.
func runRelay(ctx context.Context, cfg config.Config, b bus.Bus, st *store.SQLiteStore) error {
	presence, closePresence, err := openPresence(ctx, cfg)
	if err != nil {
		return err
	}
	defer closePresence()

	srv := relay.NewServer(relay.ServerConfig{
		Config:    cfg.Relay.Tuning(),
		Bus:       b,
		Directory: st,
		Messages:  st,
		Presence:  presence,
	})
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting relay: %w", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	srv.Register(e)

	addr := cfg.Relay.Addr()
	startErr := make(chan error, 1)
	go func() {
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			startErr <- err
		}
		close(startErr)
	}()
	log.Printf("[Relay] ✅ WebSocket → ws://%s/ws", addr)

	select {
	case err := <-startErr:
		if err != nil {
			return fmt.Errorf("relay server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	srv.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("[Relay] ⚠️ Failed to shutdown gracefully: %v", err)
	}
	log.Println("[Relay] Stopped")
	return nil
}

// runNotifier forwards bus traffic to Telegram until ctx is cancelled.
func runNotifier(ctx context.Context, cfg config.Config, b bus.Bus, st *store.SQLiteStore) error {
	client := notifier.NewTelegramClient(cfg.Telegram.Token, cfg.Telegram.APIBase)
	if err := client.Connect(ctx); err != nil {
		return err
	}

	n := notifier.New(notifier.Config{Bus: b, Directory: st, Sender: client})
	if err := n.Refresh(ctx); err != nil {
		return fmt.Errorf("starting notifier: %w", err)
	}
	log.Printf("[Notifier] ✅ Following %d website(s)", n.Following())

	if cfg.Telegram.RefreshInterval > 0 {
		go n.Watch(ctx, time.Duration(cfg.Telegram.RefreshInterval)*time.Second)
	}
	err := client.Poll(ctx, n.HandleUpdate)
	log.Println("[Notifier] Stopped")
	return err
}
