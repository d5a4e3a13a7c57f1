package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/dayuer/tgchat-go/internal/config"
	"github.com/dayuer/tgchat-go/internal/store"
)

const sitesYAML = `
websites:
  - host: https://www.Example.com/
    alias: Shop
    creator: alice
    channel: 100
    password: secret
    subscribers:
      - username: bob
        channel: 200
  - host: blog.example.org
    creator: carol
    channel: 300
    password: hunter2
`

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sites.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadSiteFile(t *testing.T) {
	sites, err := loadSiteFile(writeFile(t, sitesYAML))
	require.NoError(t, err)
	require.Len(t, sites, 2)
	assert.Equal(t, "alice", sites[0].Creator)
	assert.Equal(t, int64(100), sites[0].Channel)
	require.Len(t, sites[0].Subscribers, 1)
	assert.Equal(t, "bob", sites[0].Subscribers[0].Username)
	assert.Equal(t, int64(200), sites[0].Subscribers[0].Channel)
}

func TestLoadSiteFile_MissingFields(t *testing.T) {
	_, err := loadSiteFile(writeFile(t, "websites:\n  - host: example.com\n"))
	assert.ErrorContains(t, err, "needs host, creator and password")
}

func TestImportSites(t *testing.T) {
	st, err := store.NewSQLiteStore(":memory:", store.WithBcryptCost(bcrypt.MinCost))
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()

	sites, err := loadSiteFile(writeFile(t, sitesYAML))
	require.NoError(t, err)

	added, err := importSites(ctx, st, sites)
	require.NoError(t, err)
	assert.Equal(t, 2, added)

	token, err := st.TokenForHost(ctx, "example.com")
	require.NoError(t, err)
	subs, err := st.SubscribersOf(ctx, token)
	require.NoError(t, err)
	assert.Len(t, subs, 2)

	added, err = importSites(ctx, st, sites)
	require.NoError(t, err)
	assert.Equal(t, 0, added, "existing hosts are skipped")
}

func TestSetBan_AcceptsSuffixes(t *testing.T) {
	st, err := store.NewSQLiteStore(":memory:", store.WithBcryptCost(bcrypt.MinCost))
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()

	token, err := st.AddWebsite(ctx, store.NewWebsite{Host: "example.com", Creator: "alice", Channel: 1, Password: "pw"})
	require.NoError(t, err)
	session, err := st.MintSession(ctx, token)
	require.NoError(t, err)

	require.NoError(t, setBan(ctx, st, token[len(token)-12:], session[len(session)-12:], true))
	banned, err := st.SessionBanned(ctx, token, session)
	require.NoError(t, err)
	assert.True(t, banned)

	require.NoError(t, setBan(ctx, st, token, session, false))
	banned, err = st.SessionBanned(ctx, token, session)
	require.NoError(t, err)
	assert.False(t, banned)
}

func TestOpenStore_CreatesDatabaseDir(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Store.Path = filepath.Join(t.TempDir(), "nested", "data", "tgchat.db")
	cfg.Store.BcryptCost = bcrypt.MinCost

	st, err := openStore(cfg)
	require.NoError(t, err)
	defer st.Close()
	assert.FileExists(t, cfg.Store.Path)
}
