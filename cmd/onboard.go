package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dayuer/tgchat-go/internal/config"
	"github.com/dayuer/tgchat-go/internal/utils"
)

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize tgchat configuration and database",
	RunE:  runOnboard,
}

func init() {
	rootCmd.AddCommand(onboardCmd)
}

func runOnboard(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		path = config.GetConfigPath()
	}

	if _, err := os.Stat(path); err == nil {
		fmt.Printf("Config already exists at %s\n", path)
	} else {
		cfg := config.DefaultConfig()
		cfg.Store.Path = utils.GetDatabasePath()
		if err := config.Save(cfg, path); err != nil {
			return fmt.Errorf("creating config: %w", err)
		}
		fmt.Printf("✓ Created config at %s\n", path)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	st.Close()
	fmt.Printf("✓ Database ready at %s\n", cfg.Store.Path)

	fmt.Println("\nNext steps:")
	fmt.Println("  1. Set your bot token: telegram.token in the config, or TG_TOKEN")
	fmt.Println("  2. Register a website: tgchat site add --host example.com --user you --channel <chat id> --password <secret>")
	fmt.Println("  3. Start: tgchat serve")
	return nil
}
