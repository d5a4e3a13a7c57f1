// Package chat holds the domain types shared by the relay, the notifier and the store.
package chat

import (
	"encoding/json"
	"fmt"
)

// ChatMessage is one message of a visitor conversation.
// Timestamp is in seconds and is unique per (token, session).
type ChatMessage struct {
	Token     string `json:"token"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
	Session   string `json:"session"`
	User      string `json:"user"`
	Username  string `json:"username"`

	// Undelivered marks a staff reply bounced back because the visitor left.
	Undelivered bool `json:"undelivered,omitempty"`
}

// DecodeChatMessage parses a JSON encoded ChatMessage.
func DecodeChatMessage(data []byte) (ChatMessage, error) {
	var msg ChatMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ChatMessage{}, fmt.Errorf("decode chat message: %w", err)
	}
	return msg, nil
}

func (m ChatMessage) String() string {
	return fmt.Sprintf("%s/%s@%d: %q", SessionSuffix(m.Token), SessionSuffix(m.Session), m.Timestamp, m.Text)
}

// Subscriber is a staff member receiving notifications for a website.
type Subscriber struct {
	Username string `json:"username" yaml:"username"`
	Channel  int64  `json:"channel" yaml:"channel"` // Telegram chat id
}

// SessionRecord is the durable part of a visitor session.
type SessionRecord struct {
	Session string `json:"session"`
	Banned  bool   `json:"banned"`
}

// Website is one chat-enabled site.
type Website struct {
	Token        string          `json:"token"`
	Host         string          `json:"host"`
	Alias        string          `json:"alias"`
	Creator      string          `json:"creator"`
	PasswordHash string          `json:"-"`
	Subscribers  []Subscriber    `json:"subscribers,omitempty"`
	Sessions     []SessionRecord `json:"sessions,omitempty"`
}

// suffixLen is how many trailing characters of a key are shown to staff.
const suffixLen = 12

// SessionSuffix returns the short form of a token or session key shown in
// staff notifications. Full keys are resolved back from it by suffix match.
func SessionSuffix(key string) string {
	if len(key) <= suffixLen {
		return key
	}
	return key[len(key)-suffixLen:]
}
