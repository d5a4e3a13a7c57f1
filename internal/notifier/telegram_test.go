package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBotAPI struct {
	mu         sync.Mutex
	calls      []string
	requests   []map[string]any
	updates    []Update
	rejectHTML bool
}

func (f *fakeBotAPI) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeBotAPI) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		var params map[string]any
		json.NewDecoder(r.Body).Decode(&params)

		f.mu.Lock()
		f.calls = append(f.calls, method)
		f.requests = append(f.requests, params)
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch method {
		case "getMe":
			json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": User{ID: 1, Username: "tgchat_bot"}})
		case "sendMessage":
			if _, html := params["parse_mode"]; html && f.rejectHTML {
				w.WriteHeader(http.StatusBadRequest)
				json.NewEncoder(w).Encode(map[string]any{"ok": false, "description": "can't parse entities"})
				return
			}
			json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": map[string]any{"message_id": 1}})
		case "getUpdates":
			f.mu.Lock()
			updates := f.updates
			f.updates = nil
			f.mu.Unlock()
			if updates == nil {
				updates = []Update{}
				if params["offset"] != float64(-1) {
					time.Sleep(10 * time.Millisecond)
				}
			}
			json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": updates})
		default:
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]any{"ok": false, "description": "Not Found"})
		}
	})
}

func newFakeBot(t *testing.T) (*fakeBotAPI, *TelegramClient) {
	t.Helper()
	f := &fakeBotAPI{}
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	return f, NewTelegramClient("123:abc", srv.URL)
}

func TestTelegramClient_Connect(t *testing.T) {
	f, client := newFakeBot(t)
	require.NoError(t, client.Connect(context.Background()))
	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, []string{"getMe"}, f.calls)
}

func TestTelegramClient_ConnectWithoutToken(t *testing.T) {
	client := NewTelegramClient("", "")
	assert.Error(t, client.Connect(context.Background()))
}

func TestTelegramClient_SendMessage(t *testing.T) {
	f, client := newFakeBot(t)
	require.NoError(t, client.SendMessage(context.Background(), 42, "<b>hi</b>"))

	require.Len(t, f.requests, 1)
	assert.EqualValues(t, 42, f.requests[0]["chat_id"])
	assert.Equal(t, "HTML", f.requests[0]["parse_mode"])
	assert.Equal(t, true, f.requests[0]["disable_notification"])
}

func TestTelegramClient_SendMessageFallsBackToPlainText(t *testing.T) {
	f, client := newFakeBot(t)
	f.rejectHTML = true
	require.NoError(t, client.SendMessage(context.Background(), 42, "<b>hi"))

	require.Len(t, f.requests, 2)
	_, html := f.requests[1]["parse_mode"]
	assert.False(t, html)
}

func TestTelegramClient_APIError(t *testing.T) {
	_, client := newFakeBot(t)
	err := client.apiCall(context.Background(), "nope", nil, nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "Not Found", apiErr.Description)
}

func TestTelegramClient_Poll(t *testing.T) {
	f, client := newFakeBot(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Update, 4)
	done := make(chan error, 1)
	go func() {
		done <- client.Poll(ctx, func(_ context.Context, u Update) { got <- u })
	}()

	assert.Eventually(t, func() bool { return f.callCount() >= 2 }, 5*time.Second, 5*time.Millisecond)
	f.mu.Lock()
	f.updates = []Update{{UpdateID: 7, Message: &Message{MessageID: 1, Text: "hello", Chat: Chat{ID: 5}}}}
	f.mu.Unlock()

	select {
	case u := <-got:
		assert.Equal(t, int64(7), u.UpdateID)
		assert.Equal(t, "hello", u.Message.Text)
	case <-time.After(5 * time.Second):
		t.Fatal("update not delivered")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("poll did not stop")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	last := f.requests[len(f.requests)-1]
	assert.EqualValues(t, 8, last["offset"], "offset advances past handled updates")
}

func TestUser_Handle(t *testing.T) {
	assert.Equal(t, "bob", (&User{ID: 1, Username: "bob"}).Handle())
	assert.Equal(t, "17", (&User{ID: 17}).Handle())
	var u *User
	assert.Equal(t, "", u.Handle())
}
