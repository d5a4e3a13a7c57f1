package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"
)

// DefaultAPIBase is the public Telegram Bot API endpoint.
const DefaultAPIBase = "https://api.telegram.org"

const (
	pollTimeout    = 30 // seconds, server side long polling
	pollRetryDelay = 5 * time.Second
)

// User is a Telegram account.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username,omitempty"`
}

// Handle returns the @-less username, falling back to the numeric id.
func (u *User) Handle() string {
	if u == nil {
		return ""
	}
	if u.Username != "" {
		return u.Username
	}
	return fmt.Sprintf("%d", u.ID)
}

// Chat is a Telegram conversation.
type Chat struct {
	ID int64 `json:"id"`
}

// Message is the subset of a Telegram message the bot reads.
type Message struct {
	MessageID      int64    `json:"message_id"`
	From           *User    `json:"from,omitempty"`
	Chat           Chat     `json:"chat"`
	Text           string   `json:"text,omitempty"`
	Caption        string   `json:"caption,omitempty"`
	ReplyToMessage *Message `json:"reply_to_message,omitempty"`
}

// Update is one item returned by getUpdates.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

// apiResponse is the envelope of every Bot API reply.
type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
}

// TelegramClient talks to the Bot API over plain HTTPS using long polling.
type TelegramClient struct {
	token   string
	apiBase string
	client  *http.Client
}

// NewTelegramClient creates a client. An empty apiBase uses DefaultAPIBase.
func NewTelegramClient(token, apiBase string) *TelegramClient {
	if apiBase == "" {
		apiBase = DefaultAPIBase
	}
	return &TelegramClient{
		token:   token,
		apiBase: strings.TrimSuffix(apiBase, "/"),
		client:  &http.Client{Timeout: (pollTimeout + 30) * time.Second},
	}
}

// Connect checks the token with getMe.
func (t *TelegramClient) Connect(ctx context.Context) error {
	if t.token == "" {
		return fmt.Errorf("telegram bot token not configured")
	}
	var me User
	if err := t.apiCall(ctx, "getMe", nil, &me); err != nil {
		return fmt.Errorf("telegram getMe: %w", err)
	}
	log.Printf("[Notifier] Telegram bot @%s connected", me.Username)
	return nil
}

// SendMessage sends an HTML message without a notification sound, falling
// back to plain text when Telegram rejects the markup.
func (t *TelegramClient) SendMessage(ctx context.Context, chatID int64, text string) error {
	err := t.apiCall(ctx, "sendMessage", map[string]any{
		"chat_id":              chatID,
		"text":                 text,
		"parse_mode":           "HTML",
		"disable_notification": true,
	}, nil)
	if err == nil || ctx.Err() != nil {
		return err
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	return t.apiCall(ctx, "sendMessage", map[string]any{
		"chat_id":              chatID,
		"text":                 text,
		"disable_notification": true,
	}, nil)
}

// Poll long-polls getUpdates and calls handle for each update until ctx is
// cancelled. Updates queued before the call are skipped.
func (t *TelegramClient) Poll(ctx context.Context, handle func(context.Context, Update)) error {
	offset, err := t.skipPending(ctx)
	if err != nil {
		log.Printf("[Notifier] ⚠️ Skipping pending updates failed: %v", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		var updates []Update
		err := t.apiCall(ctx, "getUpdates", map[string]any{
			"offset":          offset,
			"timeout":         pollTimeout,
			"allowed_updates": []string{"message"},
		}, &updates)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("[Notifier] ⚠️ Telegram getUpdates error: %v", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(pollRetryDelay):
			}
			continue
		}

		for _, u := range updates {
			offset = u.UpdateID + 1
			handle(ctx, u)
		}
	}
}

// skipPending acknowledges the backlog and returns the next offset.
func (t *TelegramClient) skipPending(ctx context.Context) (int64, error) {
	var updates []Update
	if err := t.apiCall(ctx, "getUpdates", map[string]any{"offset": -1, "timeout": 0}, &updates); err != nil {
		return 0, err
	}
	if len(updates) == 0 {
		return 0, nil
	}
	return updates[len(updates)-1].UpdateID + 1, nil
}

// APIError is a request the Bot API answered with ok=false.
type APIError struct {
	Method      string
	Status      int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s: %d %s", e.Method, e.Status, e.Description)
}

func (t *TelegramClient) apiCall(ctx context.Context, method string, params map[string]any, out any) error {
	url := fmt.Sprintf("%s/bot%s/%s", t.apiBase, t.token, method)
	body, err := json.Marshal(params)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var result apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("telegram %s: decode response: %w", method, err)
	}
	if !result.OK {
		return &APIError{Method: method, Status: resp.StatusCode, Description: result.Description}
	}
	if out != nil && len(result.Result) > 0 {
		if err := json.Unmarshal(result.Result, out); err != nil {
			return fmt.Errorf("telegram %s: decode result: %w", method, err)
		}
	}
	return nil
}
