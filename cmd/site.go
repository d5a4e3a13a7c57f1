package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dayuer/tgchat-go/internal/chat"
	"github.com/dayuer/tgchat-go/internal/store"
	"github.com/dayuer/tgchat-go/internal/utils"
)

var (
	siteHost     string
	siteAlias    string
	siteUser     string
	siteChannel  int64
	sitePassword string
)

var siteCmd = &cobra.Command{
	Use:   "site",
	Short: "Manage registered websites",
}

var siteAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a website and subscribe its creator",
	Args:  cobra.NoArgs,
	RunE: withStore(func(ctx context.Context, st *store.SQLiteStore, args []string) error {
		token, err := st.AddWebsite(ctx, store.NewWebsite{
			Host:     siteHost,
			Alias:    siteAlias,
			Creator:  siteUser,
			Channel:  siteChannel,
			Password: sitePassword,
		})
		if err != nil {
			return err
		}
		fmt.Printf("✓ Registered %s\n", chat.NormalizeHost(siteHost))
		fmt.Printf("Token: %s\n", token)
		return nil
	}),
}

var siteRemoveCmd = &cobra.Command{
	Use:   "remove <token>",
	Short: "Remove a website (creator only)",
	Args:  cobra.ExactArgs(1),
	RunE: withStore(func(ctx context.Context, st *store.SQLiteStore, args []string) error {
		alias, err := st.RemoveWebsite(ctx, siteUser, args[0], sitePassword)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Removed %s\n", alias)
		return nil
	}),
}

var siteListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered websites",
	Args:  cobra.NoArgs,
	RunE: withStore(func(ctx context.Context, st *store.SQLiteStore, args []string) error {
		sites, err := st.Websites(ctx)
		if err != nil {
			return err
		}
		if len(sites) == 0 {
			fmt.Println("No websites registered")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "HOST\tALIAS\tCREATOR\tTOKEN")
		for _, s := range sites {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				s.Host, utils.TruncateString(s.Alias, 24, "…"), s.Creator, s.Token)
		}
		return w.Flush()
	}),
}

var siteShowCmd = &cobra.Command{
	Use:   "show <token>",
	Short: "Show subscribers and sessions of a website",
	Args:  cobra.ExactArgs(1),
	RunE: withStore(func(ctx context.Context, st *store.SQLiteStore, args []string) error {
		token, err := st.ResolveToken(ctx, args[0])
		if err != nil {
			return err
		}
		site, err := st.Website(ctx, token)
		if err != nil {
			return err
		}
		fmt.Printf("Host: %s\nAlias: %s\nCreator: %s\nToken: %s\n", site.Host, site.Alias, site.Creator, site.Token)
		fmt.Println("\nSubscribers:")
		for _, s := range site.Subscribers {
			fmt.Printf("  @%s (%d)\n", s.Username, s.Channel)
		}
		fmt.Printf("\nSessions: %d\n", len(site.Sessions))
		for _, s := range site.Sessions {
			mark := ""
			if s.Banned {
				mark = " [banned]"
			}
			fmt.Printf("  %s%s\n", s.Session, mark)
		}
		return nil
	}),
}

var siteSubscribeCmd = &cobra.Command{
	Use:   "subscribe <token>",
	Short: "Subscribe a staff member to a website",
	Args:  cobra.ExactArgs(1),
	RunE: withStore(func(ctx context.Context, st *store.SQLiteStore, args []string) error {
		alias, err := st.Subscribe(ctx, chat.Subscriber{Username: siteUser, Channel: siteChannel}, args[0], sitePassword)
		if err != nil {
			return err
		}
		fmt.Printf("✓ @%s subscribed to %s\n", siteUser, alias)
		return nil
	}),
}

var siteUnsubscribeCmd = &cobra.Command{
	Use:   "unsubscribe <token>",
	Short: "Unsubscribe a staff member from a website",
	Args:  cobra.ExactArgs(1),
	RunE: withStore(func(ctx context.Context, st *store.SQLiteStore, args []string) error {
		alias, err := st.Unsubscribe(ctx, siteUser, args[0], sitePassword)
		if err != nil {
			return err
		}
		fmt.Printf("✓ @%s unsubscribed from %s\n", siteUser, alias)
		return nil
	}),
}

var siteBanCmd = &cobra.Command{
	Use:   "ban <token> <session>",
	Short: "Ban a visitor session (the ID shown to staff is accepted)",
	Args:  cobra.ExactArgs(2),
	RunE: withStore(func(ctx context.Context, st *store.SQLiteStore, args []string) error {
		return setBan(ctx, st, args[0], args[1], true)
	}),
}

var siteUnbanCmd = &cobra.Command{
	Use:   "unban <token> <session>",
	Short: "Lift a session ban",
	Args:  cobra.ExactArgs(2),
	RunE: withStore(func(ctx context.Context, st *store.SQLiteStore, args []string) error {
		return setBan(ctx, st, args[0], args[1], false)
	}),
}

var siteImportCmd = &cobra.Command{
	Use:   "import <sites.yaml>",
	Short: "Register websites listed in a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: withStore(func(ctx context.Context, st *store.SQLiteStore, args []string) error {
		sites, err := loadSiteFile(args[0])
		if err != nil {
			return err
		}
		added, err := importSites(ctx, st, sites)
		fmt.Printf("✓ Imported %d of %d website(s)\n", added, len(sites))
		return err
	}),
}

func init() {
	for _, c := range []*cobra.Command{siteAddCmd, siteRemoveCmd, siteSubscribeCmd, siteUnsubscribeCmd} {
		c.Flags().StringVarP(&siteUser, "user", "u", "", "Telegram username")
		c.Flags().StringVar(&sitePassword, "password", "", "Website password")
		c.MarkFlagRequired("user")
		c.MarkFlagRequired("password")
	}
	for _, c := range []*cobra.Command{siteAddCmd, siteSubscribeCmd} {
		c.Flags().Int64Var(&siteChannel, "channel", 0, "Telegram chat id receiving notifications")
		c.MarkFlagRequired("channel")
	}
	siteAddCmd.Flags().StringVar(&siteHost, "host", "", "Website host, e.g. example.com")
	siteAddCmd.Flags().StringVar(&siteAlias, "alias", "", "Display name")
	siteAddCmd.MarkFlagRequired("host")

	siteCmd.AddCommand(siteAddCmd, siteRemoveCmd, siteListCmd, siteShowCmd,
		siteSubscribeCmd, siteUnsubscribeCmd, siteBanCmd, siteUnbanCmd, siteImportCmd)
	rootCmd.AddCommand(siteCmd)
}

// withStore opens the configured store around a site subcommand.
func withStore(fn func(ctx context.Context, st *store.SQLiteStore, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()
		return fn(cmd.Context(), st, args)
	}
}

func setBan(ctx context.Context, st *store.SQLiteStore, tokenArg, sessionArg string, banned bool) error {
	token, err := st.ResolveToken(ctx, tokenArg)
	if err != nil {
		return err
	}
	session, err := st.ResolveSession(ctx, token, sessionArg)
	if err != nil {
		return err
	}
	if banned {
		err = st.BanSession(ctx, token, session)
	} else {
		err = st.UnbanSession(ctx, token, session)
	}
	if err != nil {
		return err
	}
	verb := "Banned"
	if !banned {
		verb = "Unbanned"
	}
	fmt.Printf("✓ %s session %s\n", verb, session)
	return nil
}

// siteFile is the YAML layout accepted by "site import".
type siteFile struct {
	Websites []siteEntry `yaml:"websites"`
}

type siteEntry struct {
	Host        string            `yaml:"host"`
	Alias       string            `yaml:"alias"`
	Creator     string            `yaml:"creator"`
	Channel     int64             `yaml:"channel"`
	Password    string            `yaml:"password"`
	Subscribers []chat.Subscriber `yaml:"subscribers"`
}

func loadSiteFile(path string) ([]siteEntry, error) {
	data, err := os.ReadFile(utils.ExpandHome(path))
	if err != nil {
		return nil, err
	}
	var f siteFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for i, w := range f.Websites {
		if w.Host == "" || w.Creator == "" || w.Password == "" {
			return nil, fmt.Errorf("%s: website #%d needs host, creator and password", path, i+1)
		}
	}
	return f.Websites, nil
}

// importSites registers each entry, skipping hosts that already exist.
func importSites(ctx context.Context, st *store.SQLiteStore, sites []siteEntry) (int, error) {
	added := 0
	for _, w := range sites {
		token, err := st.AddWebsite(ctx, store.NewWebsite{
			Host:     w.Host,
			Alias:    w.Alias,
			Creator:  w.Creator,
			Channel:  w.Channel,
			Password: w.Password,
		})
		if errors.Is(err, store.ErrDuplicate) {
			fmt.Printf("  %s already registered, skipped\n", w.Host)
			continue
		}
		if err != nil {
			return added, fmt.Errorf("import %s: %w", w.Host, err)
		}
		for _, sub := range w.Subscribers {
			if _, err := st.Subscribe(ctx, sub, token, w.Password); err != nil {
				return added, fmt.Errorf("subscribe @%s to %s: %w", sub.Username, w.Host, err)
			}
		}
		fmt.Printf("  %s → %s\n", chat.NormalizeHost(w.Host), token)
		added++
	}
	return added, nil
}
