package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/dayuer/tgchat-go/internal/chat"
)

// Websites lists every registered website without credentials.
func (s *SQLiteStore) Websites(ctx context.Context) ([]chat.Website, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT token, host, alias, creator FROM websites ORDER BY created_at, token`)
	if err != nil {
		return nil, fmt.Errorf("list websites: %w", err)
	}
	defer rows.Close()

	var sites []chat.Website
	for rows.Next() {
		var w chat.Website
		if err := rows.Scan(&w.Token, &w.Host, &w.Alias, &w.Creator); err != nil {
			return nil, fmt.Errorf("scan website: %w", err)
		}
		sites = append(sites, w)
	}
	return sites, rows.Err()
}

// Website returns one website with its subscribers and sessions.
func (s *SQLiteStore) Website(ctx context.Context, token string) (chat.Website, error) {
	w, err := s.website(ctx, token)
	if err != nil {
		return chat.Website{}, err
	}
	if w.Subscribers, err = s.SubscribersOf(ctx, token); err != nil {
		return chat.Website{}, err
	}
	if w.Sessions, err = s.sessions(ctx, token); err != nil {
		return chat.Website{}, err
	}
	return w, nil
}

func (s *SQLiteStore) website(ctx context.Context, token string) (chat.Website, error) {
	var w chat.Website
	err := s.db.QueryRowContext(ctx,
		`SELECT token, host, alias, creator, password_hash FROM websites WHERE token = ?`, token,
	).Scan(&w.Token, &w.Host, &w.Alias, &w.Creator, &w.PasswordHash)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Website{}, ErrUnknownToken
	}
	if err != nil {
		return chat.Website{}, fmt.Errorf("get website: %w", err)
	}
	return w, nil
}

func (s *SQLiteStore) sessions(ctx context.Context, token string) ([]chat.SessionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session, banned FROM sessions WHERE token = ? ORDER BY created_at, session`, token)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []chat.SessionRecord
	for rows.Next() {
		var r chat.SessionRecord
		if err := rows.Scan(&r.Session, &r.Banned); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// HostFor returns the normalized host registered for token.
func (s *SQLiteStore) HostFor(ctx context.Context, token string) (string, error) {
	var host string
	err := s.db.QueryRowContext(ctx, `SELECT host FROM websites WHERE token = ?`, token).Scan(&host)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrUnknownToken
	}
	if err != nil {
		return "", fmt.Errorf("get host: %w", err)
	}
	return host, nil
}

// TokenForHost returns the token registered for host.
func (s *SQLiteStore) TokenForHost(ctx context.Context, host string) (string, error) {
	var token string
	err := s.db.QueryRowContext(ctx,
		`SELECT token FROM websites WHERE host = ?`, chat.NormalizeHost(host)).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrUnknownToken
	}
	if err != nil {
		return "", fmt.Errorf("get token: %w", err)
	}
	return token, nil
}

// ResolveToken expands a token suffix.
func (s *SQLiteStore) ResolveToken(ctx context.Context, suffix string) (string, error) {
	if suffix == "" {
		return "", ErrUnknownToken
	}
	matches, err := s.suffixMatches(ctx,
		`SELECT token FROM websites WHERE substr(token, -length(?)) = ? LIMIT 2`, suffix, suffix)
	if err != nil {
		return "", fmt.Errorf("resolve token: %w", err)
	}
	return pickOne(matches, ErrUnknownToken)
}

// ResolveSession expands a session suffix within token.
func (s *SQLiteStore) ResolveSession(ctx context.Context, token, suffix string) (string, error) {
	if suffix == "" {
		return "", ErrUnknownSession
	}
	matches, err := s.suffixMatches(ctx,
		`SELECT session FROM sessions WHERE token = ? AND substr(session, -length(?)) = ? LIMIT 2`,
		token, suffix, suffix)
	if err != nil {
		return "", fmt.Errorf("resolve session: %w", err)
	}
	return pickOne(matches, ErrUnknownSession)
}

func (s *SQLiteStore) suffixMatches(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func pickOne(matches []string, notFound error) (string, error) {
	switch len(matches) {
	case 0:
		return "", notFound
	case 1:
		return matches[0], nil
	default:
		return "", ErrAmbiguous
	}
}

// VerifySession reports whether session is registered for token and not banned.
func (s *SQLiteStore) VerifySession(ctx context.Context, token, session string) (bool, error) {
	banned, found, err := s.sessionState(ctx, token, session)
	if err != nil {
		return false, err
	}
	return found && !banned, nil
}

// SessionBanned reports whether session is banned.
func (s *SQLiteStore) SessionBanned(ctx context.Context, token, session string) (bool, error) {
	banned, _, err := s.sessionState(ctx, token, session)
	return banned, err
}

func (s *SQLiteStore) sessionState(ctx context.Context, token, session string) (banned, found bool, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT banned FROM sessions WHERE token = ? AND session = ?`, token, session).Scan(&banned)
	if errors.Is(err, sql.ErrNoRows) {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("get session: %w", err)
	}
	return banned, true, nil
}

// MintSession registers a fresh random session key for token.
func (s *SQLiteStore) MintSession(ctx context.Context, token string) (string, error) {
	if _, err := s.HostFor(ctx, token); err != nil {
		return "", err
	}
	key := uuid.NewString()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (session, token) VALUES (?, ?)`, key, token); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return key, nil
}

// SubscribersOf lists the staff members subscribed to token.
func (s *SQLiteStore) SubscribersOf(ctx context.Context, token string) ([]chat.Subscriber, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT username, channel FROM subscribers WHERE token = ? ORDER BY username`, token)
	if err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	defer rows.Close()

	var subs []chat.Subscriber
	for rows.Next() {
		var sub chat.Subscriber
		if err := rows.Scan(&sub.Username, &sub.Channel); err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}
