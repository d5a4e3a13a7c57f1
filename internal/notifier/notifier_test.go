package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/dayuer/tgchat-go/internal/bus"
	"github.com/dayuer/tgchat-go/internal/chat"
	"github.com/dayuer/tgchat-go/internal/store"
)

type sent struct {
	chatID int64
	text   string
}

type fakeSender struct {
	mu    sync.Mutex
	out   []sent
	fails map[int64]bool
}

func (f *fakeSender) SendMessage(_ context.Context, chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails[chatID] {
		return errors.New("blocked by user")
	}
	f.out = append(f.out, sent{chatID, text})
	return nil
}

func (f *fakeSender) to(chatID int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var texts []string
	for _, s := range f.out {
		if s.chatID == chatID {
			texts = append(texts, s.text)
		}
	}
	return texts
}

type fixture struct {
	store   *store.SQLiteStore
	bus     *bus.InternalBus
	sender  *fakeSender
	n       *Notifier
	token   string
	session string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st, err := store.NewSQLiteStore(":memory:", store.WithBcryptCost(bcrypt.MinCost))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	token, err := st.AddWebsite(ctx, store.NewWebsite{
		Host: "example.com", Alias: "shop", Creator: "alice", Channel: 100, Password: "pw",
	})
	require.NoError(t, err)
	_, err = st.Subscribe(ctx, chat.Subscriber{Username: "bob", Channel: 200}, token, "pw")
	require.NoError(t, err)
	session, err := st.MintSession(ctx, token)
	require.NoError(t, err)

	b := bus.NewInternalBus(2 * time.Millisecond)
	t.Cleanup(func() { b.Close() })

	sender := &fakeSender{fails: map[int64]bool{}}
	n := New(Config{Bus: b, Directory: st, Sender: sender})
	require.NoError(t, n.Refresh(ctx))

	return &fixture{store: st, bus: b, sender: sender, n: n, token: token, session: session}
}

// quoted builds the plain text Telegram returns for a notification.
func (f *fixture) quoted() string {
	return stripTags(FormatVisitorMessage("example.com", chat.SessionSuffix(f.session), "Guest", "where is my order?"))
}

func TestNotifier_FansOutToAllSubscribers(t *testing.T) {
	f := newFixture(t)
	msg := chat.ChatMessage{Token: f.token, Session: f.session, Text: "hi", User: "Guest", Timestamp: 1}
	require.True(t, bus.Publish(f.bus, f.token, bus.ToStaff, msg))

	assert.Eventually(t, func() bool {
		return len(f.sender.to(100)) == 1 && len(f.sender.to(200)) == 1
	}, 5*time.Second, 5*time.Millisecond)

	text := f.sender.to(100)[0]
	assert.Contains(t, text, "<b>example.com</b>")
	assert.Contains(t, text, "ID: "+chat.SessionSuffix(f.session))
	assert.Contains(t, text, "<b>hi</b>")
}

func TestNotifier_FailedTargetDoesNotBlockOthers(t *testing.T) {
	f := newFixture(t)
	f.sender.fails[100] = true
	require.True(t, bus.Publish(f.bus, f.token, bus.ToStaff,
		chat.ChatMessage{Token: f.token, Session: f.session, Text: "hi", Timestamp: 1}))

	assert.Eventually(t, func() bool { return len(f.sender.to(200)) == 1 }, 5*time.Second, 5*time.Millisecond)
	assert.Empty(t, f.sender.to(100))
}

func TestNotifier_MarksBounces(t *testing.T) {
	f := newFixture(t)
	require.True(t, bus.Publish(f.bus, f.token, bus.ToStaff, chat.ChatMessage{
		Token: f.token, Session: f.session, Text: "User has already left", Undelivered: true, Timestamp: 1,
	}))

	assert.Eventually(t, func() bool { return len(f.sender.to(100)) == 1 }, 5*time.Second, 5*time.Millisecond)
	assert.Contains(t, f.sender.to(100)[0], "⚠️ <i>User has already left</i>")
}

func TestNotifier_RoutesStaffReply(t *testing.T) {
	f := newFixture(t)
	replies := make(chan chat.ChatMessage, 1)
	require.True(t, f.bus.Subscribe(f.token, bus.ToWidget, func(_ context.Context, m bus.Message) {
		var msg chat.ChatMessage
		if m.Decode(&msg) == nil {
			replies <- msg
		}
	}))
	f.n.now = func() time.Time { return time.Unix(1700000000, 0) }

	f.n.HandleUpdate(context.Background(), Update{UpdateID: 1, Message: &Message{
		MessageID:      10,
		From:           &User{ID: 200, Username: "bob"},
		Chat:           Chat{ID: 200},
		Text:           "It ships today",
		ReplyToMessage: &Message{MessageID: 9, Text: f.quoted()},
	}})

	select {
	case msg := <-replies:
		assert.Equal(t, f.token, msg.Token)
		assert.Equal(t, f.session, msg.Session)
		assert.Equal(t, "It ships today", msg.Text)
		assert.Equal(t, "bob", msg.Username)
		assert.Equal(t, "Guest", msg.User)
		assert.Equal(t, int64(1700000000), msg.Timestamp)
	case <-time.After(5 * time.Second):
		t.Fatal("reply not published")
	}

	notices := f.sender.to(100)
	require.Len(t, notices, 1, "the other subscriber hears about the reply")
	assert.Contains(t, notices[0], "Reply from @bob")
	assert.Empty(t, f.sender.to(200))
}

func TestNotifier_RejectsReplyFromNonSubscriber(t *testing.T) {
	f := newFixture(t)
	f.n.HandleUpdate(context.Background(), Update{Message: &Message{
		From:           &User{ID: 300, Username: "mallory"},
		Chat:           Chat{ID: 300},
		Text:           "hello",
		ReplyToMessage: &Message{Text: f.quoted()},
	}})
	assert.Equal(t, []string{NotSubscribedText}, f.sender.to(300))
}

func TestNotifier_ReplyToUnknownSession(t *testing.T) {
	f := newFixture(t)
	quoted := stripTags(FormatVisitorMessage("example.com", "000000000000", "Guest", "x"))
	f.n.HandleUpdate(context.Background(), Update{Message: &Message{
		From:           &User{ID: 200, Username: "bob"},
		Chat:           Chat{ID: 200},
		Text:           "hello",
		ReplyToMessage: &Message{Text: quoted},
	}})
	assert.Equal(t, []string{UnknownTargetText}, f.sender.to(200))
}

func TestNotifier_Start(t *testing.T) {
	f := newFixture(t)
	f.n.HandleUpdate(context.Background(), Update{Message: &Message{
		From: &User{ID: 5}, Chat: Chat{ID: 5}, Text: "/start",
	}})
	f.n.HandleUpdate(context.Background(), Update{Message: &Message{
		From: &User{ID: 5}, Chat: Chat{ID: 5}, Text: "just chatting",
	}})
	assert.Equal(t, []string{WelcomeText, DirectText}, f.sender.to(5))
}

func TestNotifier_RefreshPicksUpNewWebsites(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, 1, f.n.Following())

	_, err := f.store.AddWebsite(context.Background(), store.NewWebsite{
		Host: "second.org", Creator: "alice", Channel: 100, Password: "pw",
	})
	require.NoError(t, err)
	require.NoError(t, f.n.Refresh(context.Background()))
	assert.Equal(t, 2, f.n.Following())

	require.NoError(t, f.n.Refresh(context.Background()))
	assert.Equal(t, 2, f.n.Following())
}
