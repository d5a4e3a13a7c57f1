// Package utils provides shared helper functions.
package utils

import (
	"os"
	"path/filepath"
	"strings"
)

// DataDirName is the per-user data directory under $HOME.
const DataDirName = ".tgchat"

// EnsureDir ensures a directory exists, creating it if necessary.
func EnsureDir(path string) (string, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return "", err
	}
	return path, nil
}

// GetDataPath returns the tgchat data directory (~/.tgchat).
func GetDataPath() string {
	home, _ := os.UserHomeDir()
	p := filepath.Join(home, DataDirName)
	os.MkdirAll(p, 0755)
	return p
}

// GetDatabasePath returns the default SQLite database file.
func GetDatabasePath() string {
	return filepath.Join(GetDataPath(), "tgchat.db")
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}

// TruncateString truncates a string to maxLen, adding suffix if truncated.
func TruncateString(s string, maxLen int, suffix string) string {
	if len(s) <= maxLen {
		return s
	}
	if suffix == "" {
		suffix = "..."
	}
	cutoff := maxLen - len(suffix)
	if cutoff < 0 {
		cutoff = 0
	}
	return s[:cutoff] + suffix
}
