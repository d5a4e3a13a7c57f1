package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureDir_Creates(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b", "c")
	result, err := EnsureDir(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, result)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestEnsureDir_ExistingDir(t *testing.T) {
	dir := t.TempDir()
	result, err := EnsureDir(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, result)
}

func TestGetDatabasePath(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	p := GetDatabasePath()
	assert.Equal(t, "tgchat.db", filepath.Base(p))
	assert.Equal(t, DataDirName, filepath.Base(filepath.Dir(p)))

	info, err := os.Stat(filepath.Dir(p))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	assert.Equal(t, filepath.Join(home, "chat.db"), ExpandHome("~/chat.db"))
	assert.Equal(t, home, ExpandHome("~"))
	assert.Equal(t, "/var/lib/chat.db", ExpandHome("/var/lib/chat.db"))
	assert.Equal(t, "~user/x", ExpandHome("~user/x"))
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "hello", TruncateString("hello", 10, "..."))
	assert.Equal(t, "hello", TruncateString("hello", 5, "..."))
	assert.Equal(t, "he...", TruncateString("hello world", 5, "..."))
	assert.Equal(t, "hel…", TruncateString("hello world", 6, "…")) // "…" is 3 bytes UTF-8
}

func TestTruncateString_EmptySuffix(t *testing.T) {
	assert.Equal(t, "he...", TruncateString("hello world", 5, ""))
}
