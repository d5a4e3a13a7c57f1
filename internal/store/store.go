// Package store persists websites, visitor sessions, staff subscribers and
// chat history.
package store

import (
	"context"
	"errors"

	"github.com/dayuer/tgchat-go/internal/chat"
)

// DefaultHistoryLimit is the size of the history window replayed on connect.
const DefaultHistoryLimit = 10

var (
	ErrUnknownToken   = errors.New("incorrect token")
	ErrUnknownSession = errors.New("invalid session key")
	ErrBadCredentials = errors.New("incorrect credentials")
	ErrNotCreator     = errors.New("only creator is allowed to remove a website")
	ErrDuplicate      = errors.New("duplicate record")
	ErrAmbiguous      = errors.New("suffix matches more than one record")
)

// WebsiteDirectory answers the relay's and the notifier's questions about
// registered websites and their sessions.
type WebsiteDirectory interface {
	// Websites lists every registered website (token, host, alias).
	Websites(ctx context.Context) ([]chat.Website, error)
	// HostFor returns the normalized host registered for token.
	HostFor(ctx context.Context, token string) (string, error)
	// TokenForHost returns the token registered for a host.
	TokenForHost(ctx context.Context, host string) (string, error)
	// ResolveToken expands a token suffix shown to staff.
	ResolveToken(ctx context.Context, suffix string) (string, error)
	// ResolveSession expands a session suffix shown to staff.
	ResolveSession(ctx context.Context, token, suffix string) (string, error)
	// VerifySession reports whether session is registered for token and not banned.
	VerifySession(ctx context.Context, token, session string) (bool, error)
	// SessionBanned reports whether session is banned. Unknown sessions are not.
	SessionBanned(ctx context.Context, token, session string) (bool, error)
	// MintSession registers and returns a fresh session key.
	MintSession(ctx context.Context, token string) (string, error)
	// SubscribersOf lists the staff members notified for token.
	SubscribersOf(ctx context.Context, token string) ([]chat.Subscriber, error)
}

// MessageStore keeps the per-session chat log.
type MessageStore interface {
	// AppendMessage stores msg. ErrDuplicate is returned when the session
	// already holds a message with the same timestamp.
	AppendMessage(ctx context.Context, msg chat.ChatMessage) error
	// RecentMessages returns up to limit messages, newest first.
	RecentMessages(ctx context.Context, token, session string, limit int) ([]chat.ChatMessage, error)
}
