package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/dayuer/tgchat-go/internal/chat"
)

// NewWebsite describes a website being registered.
type NewWebsite struct {
	Host     string
	Alias    string
	Creator  string
	Channel  int64 // creator's Telegram chat id, subscribed automatically
	Password string
}

// AddWebsite registers a website and subscribes its creator. It returns the
// new token.
func (s *SQLiteStore) AddWebsite(ctx context.Context, w NewWebsite) (string, error) {
	if w.Host == "" || w.Creator == "" || w.Password == "" {
		return "", fmt.Errorf("add website: host, creator and password are required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(w.Password), s.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	token := uuid.NewString()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("add website: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO websites (token, host, alias, creator, password_hash) VALUES (?, ?, ?, ?, ?)`,
		token, chat.NormalizeHost(w.Host), w.Alias, w.Creator, string(hash))
	if isUniqueViolation(err) {
		return "", fmt.Errorf("add website %s: %w", w.Host, ErrDuplicate)
	}
	if err != nil {
		return "", fmt.Errorf("add website: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO subscribers (token, username, channel) VALUES (?, ?, ?)`,
		token, w.Creator, w.Channel); err != nil {
		return "", fmt.Errorf("subscribe creator: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("add website: %w", err)
	}
	return token, nil
}

// privileged loads a website after checking its password.
func (s *SQLiteStore) privileged(ctx context.Context, token, password string) (chat.Website, error) {
	w, err := s.website(ctx, token)
	if err != nil {
		return chat.Website{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(w.PasswordHash), []byte(password)) != nil {
		return chat.Website{}, ErrBadCredentials
	}
	return w, nil
}

// RemoveWebsite deletes a website with its sessions and history. Only the
// creator may do so. It returns the removed website's alias.
func (s *SQLiteStore) RemoveWebsite(ctx context.Context, username, token, password string) (string, error) {
	w, err := s.privileged(ctx, token, password)
	if err != nil {
		return "", err
	}
	if w.Creator != username {
		return "", ErrNotCreator
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM websites WHERE token = ?`, token); err != nil {
		return "", fmt.Errorf("remove website: %w", err)
	}
	return w.Alias, nil
}

// Subscribe adds a staff member to a website's notification list. It is a
// no-op when the member is already subscribed.
func (s *SQLiteStore) Subscribe(ctx context.Context, sub chat.Subscriber, token, password string) (string, error) {
	w, err := s.privileged(ctx, token, password)
	if err != nil {
		return "", err
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO subscribers (token, username, channel) VALUES (?, ?, ?)`,
		token, sub.Username, sub.Channel); err != nil {
		return "", fmt.Errorf("subscribe: %w", err)
	}
	return w.Alias, nil
}

// Unsubscribe removes a staff member from a website's notification list.
func (s *SQLiteStore) Unsubscribe(ctx context.Context, username, token, password string) (string, error) {
	w, err := s.privileged(ctx, token, password)
	if err != nil {
		return "", err
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM subscribers WHERE token = ? AND username = ?`, token, username); err != nil {
		return "", fmt.Errorf("unsubscribe: %w", err)
	}
	return w.Alias, nil
}

// IsSubscribed reports whether username receives notifications for token.
func (s *SQLiteStore) IsSubscribed(ctx context.Context, username, token string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM subscribers WHERE token = ? AND username = ?`, token, username).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("is subscribed: %w", err)
	}
	return n > 0, nil
}

// BanSession blocks a visitor session.
func (s *SQLiteStore) BanSession(ctx context.Context, token, session string) error {
	return s.setBanned(ctx, token, session, true)
}

// UnbanSession lifts a ban.
func (s *SQLiteStore) UnbanSession(ctx context.Context, token, session string) error {
	return s.setBanned(ctx, token, session, false)
}

func (s *SQLiteStore) setBanned(ctx context.Context, token, session string, banned bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET banned = ? WHERE token = ? AND session = ?`, banned, token, session)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUnknownSession
	}
	return nil
}
