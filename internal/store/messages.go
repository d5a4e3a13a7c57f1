package store

import (
	"context"
	"fmt"

	"github.com/dayuer/tgchat-go/internal/chat"
)

// AppendMessage stores msg in its session log. The session must be
// registered for msg.Token.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg chat.ChatMessage) error {
	_, found, err := s.sessionState(ctx, msg.Token, msg.Session)
	if err != nil {
		return err
	}
	if !found {
		return ErrUnknownSession
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (token, session, timestamp, text, visitor, staff, undelivered)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.Token, msg.Session, msg.Timestamp, msg.Text, msg.User, msg.Username, msg.Undelivered)
	if isUniqueViolation(err) {
		return fmt.Errorf("append message at %d: %w", msg.Timestamp, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// RecentMessages returns up to limit messages of the session, newest first.
// A non-positive limit uses DefaultHistoryLimit.
func (s *SQLiteStore) RecentMessages(ctx context.Context, token, session string, limit int) ([]chat.ChatMessage, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	_, found, err := s.sessionState(ctx, token, session)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrUnknownSession
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT token, session, timestamp, text, visitor, staff, undelivered
		 FROM messages WHERE token = ? AND session = ?
		 ORDER BY timestamp DESC LIMIT ?`, token, session, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	msgs := make([]chat.ChatMessage, 0, limit)
	for rows.Next() {
		var m chat.ChatMessage
		if err := rows.Scan(&m.Token, &m.Session, &m.Timestamp, &m.Text, &m.User, &m.Username, &m.Undelivered); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
