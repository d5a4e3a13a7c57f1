package relay

import (
	"context"
	"errors"

	"github.com/dayuer/tgchat-go/internal/chat"
	"github.com/dayuer/tgchat-go/internal/store"
)

// Verdict is the outcome of checking a frame's sender.
type Verdict int

const (
	Valid Verdict = iota
	UnknownToken
	HostMismatch
	Banned
)

func (v Verdict) String() string {
	switch v {
	case Valid:
		return "valid"
	case UnknownToken:
		return "unknown token"
	case HostMismatch:
		return "host mismatch"
	case Banned:
		return "banned"
	default:
		return "unknown"
	}
}

// Rejection texts sent to the widget before closing.
const (
	textUnavailable = "The website is not available"
	textIncorrect   = "Token or host is incorrect"
	textBanned      = "This session has been banned"
	textInternal    = "Internal error"
)

// reason returns the text shown to the visitor for a failed verdict.
func (v Verdict) reason() string {
	if v == Banned {
		return textBanned
	}
	return textIncorrect
}

// Verify checks that origin is the host registered for token and, when
// session is set, that the session is not banned. The same check runs for
// the handshake and for every streamed frame. An error means the directory
// could not answer.
func (s *Server) Verify(ctx context.Context, token, origin, session string) (Verdict, error) {
	host, err := s.dir.HostFor(ctx, token)
	if errors.Is(err, store.ErrUnknownToken) {
		return UnknownToken, nil
	}
	if err != nil {
		return UnknownToken, err
	}
	if !chat.SameHost(host, origin) {
		return HostMismatch, nil
	}
	if session == "" {
		return Valid, nil
	}
	banned, err := s.dir.SessionBanned(ctx, token, session)
	if err != nil {
		return Banned, err
	}
	if banned {
		return Banned, nil
	}
	return Valid, nil
}
