package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dayuer/tgchat-go/internal/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show tgchat status",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		path = config.GetConfigPath()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	fmt.Println("💬 tgchat Status")
	fmt.Println()
	fmt.Printf("Config: %s\n", path)
	fmt.Printf("Database: %s\n", cfg.Store.Path)
	fmt.Printf("Relay: ws://%s/ws\n", cfg.Relay.Addr())
	fmt.Printf("Bus: %s\n", cfg.Bus.Kind)
	if err := cfg.Validate(); err != nil {
		fmt.Printf("  ⚠ %v\n", err)
	}
	if cfg.Telegram.Token != "" {
		fmt.Println("Telegram: ✓")
	} else {
		fmt.Println("Telegram: ✗ (no token)")
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	sites, err := st.Websites(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("\nWebsites: %d\n", len(sites))
	for _, s := range sites {
		subs, err := st.SubscribersOf(ctx, s.Token)
		if err != nil {
			return err
		}
		fmt.Printf("  %s (%d subscriber(s))\n", s.Host, len(subs))
	}
	return nil
}
