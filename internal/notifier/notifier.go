// Package notifier forwards visitor messages from the bus to the staff
// subscribed on Telegram and routes their replies back to the widget.
package notifier

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/dayuer/tgchat-go/internal/bus"
	"github.com/dayuer/tgchat-go/internal/chat"
	"github.com/dayuer/tgchat-go/internal/store"
)

// Bot answers sent to staff.
const (
	WelcomeText       = "Welcome to Telegram Chat Bot!"
	DirectText        = "Reply to a visitor message to answer it."
	NotSubscribedText = "You are not subscribed to this website."
	UnknownTargetText = "This conversation is no longer available."
	NotSentText       = "Message was not delivered, try again later."
)

// DefaultSendTimeout bounds one fan-out round.
const DefaultSendTimeout = 30 * time.Second

// Sender delivers a formatted message to one Telegram chat.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// Config wires a Notifier.
type Config struct {
	Bus         bus.Bus
	Directory   store.WebsiteDirectory
	Sender      Sender
	SendTimeout time.Duration
}

// Notifier is the staff-facing side of the relay.
type Notifier struct {
	bus         bus.Bus
	dir         store.WebsiteDirectory
	sender      Sender
	sendTimeout time.Duration
	now         func() time.Time

	mu         sync.Mutex
	subscribed map[string]bool
}

// New creates a Notifier.
func New(cfg Config) *Notifier {
	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	return &Notifier{
		bus:         cfg.Bus,
		dir:         cfg.Directory,
		sender:      cfg.Sender,
		sendTimeout: timeout,
		now:         time.Now,
		subscribed:  make(map[string]bool),
	}
}

// Refresh subscribes to (token, ToStaff) for every website not yet followed.
func (n *Notifier) Refresh(ctx context.Context) error {
	sites, err := n.dir.Websites(ctx)
	if err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	added := 0
	for _, w := range sites {
		if n.subscribed[w.Token] {
			continue
		}
		if !n.bus.Subscribe(w.Token, bus.ToStaff, n.onMessage) {
			log.Printf("[Notifier] ⚠️ Subscribe failed for %s", w.Host)
			continue
		}
		n.subscribed[w.Token] = true
		added++
	}
	if added > 0 {
		log.Printf("[Notifier] Following %d new website(s)", added)
	}
	return nil
}

// Watch calls Refresh every interval until ctx is done, so websites added
// while running are picked up.
func (n *Notifier) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := n.Refresh(ctx); err != nil {
				log.Printf("[Notifier] ⚠️ Refresh failed: %v", err)
			}
		}
	}
}

// Following returns how many websites are followed.
func (n *Notifier) Following() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subscribed)
}

// onMessage handles a visitor message or a bounce published on
// (token, ToStaff).
func (n *Notifier) onMessage(ctx context.Context, m bus.Message) {
	var msg chat.ChatMessage
	if err := m.Decode(&msg); err != nil {
		log.Printf("[Notifier] ⚠️ Bad message on %s: %v", m.RoutingKey(), err)
		return
	}
	token := m.Channel()

	host, err := n.dir.HostFor(ctx, token)
	if err != nil {
		log.Printf("[Notifier] ⚠️ Host lookup failed for %s: %v", chat.SessionSuffix(token), err)
		return
	}
	subs, err := n.dir.SubscribersOf(ctx, token)
	if err != nil {
		log.Printf("[Notifier] ⚠️ Subscriber lookup failed for %s: %v", host, err)
		return
	}

	var text string
	if msg.Undelivered {
		text = FormatUndelivered(host, chat.SessionSuffix(msg.Session), msg.User, msg.Text)
	} else {
		text = FormatVisitorMessage(host, chat.SessionSuffix(msg.Session), msg.User, msg.Text)
	}
	n.fanOut(ctx, subs, text, 0)
}

// fanOut sends text to every subscriber except the chat skip, concurrently.
func (n *Notifier) fanOut(ctx context.Context, subs []chat.Subscriber, text string, skip int64) int {
	ctx, cancel := context.WithTimeout(ctx, n.sendTimeout)
	defer cancel()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		sent int
	)
	for _, sub := range subs {
		if sub.Channel == skip && skip != 0 {
			continue
		}
		wg.Add(1)
		go func(sub chat.Subscriber) {
			defer wg.Done()
			if err := n.sender.SendMessage(ctx, sub.Channel, text); err != nil {
				log.Printf("[Notifier] ⚠️ Send to @%s failed: %v", sub.Username, err)
				return
			}
			mu.Lock()
			sent++
			mu.Unlock()
		}(sub)
	}
	wg.Wait()
	return sent
}

// HandleUpdate processes one Telegram update.
func (n *Notifier) HandleUpdate(ctx context.Context, u Update) {
	msg := u.Message
	if msg == nil || msg.From == nil {
		return
	}
	text := msg.Text
	if text == "" {
		text = msg.Caption
	}

	switch {
	case isCommand(text, "start"):
		n.answer(ctx, msg.Chat.ID, WelcomeText)
	case msg.ReplyToMessage != nil:
		n.handleReply(ctx, msg, text)
	default:
		n.answer(ctx, msg.Chat.ID, DirectText)
	}
}

func isCommand(text, name string) bool {
	cmd, _, _ := strings.Cut(strings.TrimSpace(text), " ")
	cmd, _, _ = strings.Cut(cmd, "@")
	return cmd == "/"+name
}

func (n *Notifier) answer(ctx context.Context, chatID int64, text string) {
	if err := n.sender.SendMessage(ctx, chatID, text); err != nil {
		log.Printf("[Notifier] ⚠️ Answer to %d failed: %v", chatID, err)
	}
}

// handleReply routes a staff reply to the visitor named in the quoted
// notification.
func (n *Notifier) handleReply(ctx context.Context, msg *Message, text string) {
	quoted := msg.ReplyToMessage.Text
	target, err := ParseNotification(quoted)
	if err != nil {
		n.answer(ctx, msg.Chat.ID, DirectText)
		return
	}
	if strings.TrimSpace(text) == "" {
		return
	}

	token, err := n.dir.TokenForHost(ctx, target.Host)
	if err != nil {
		log.Printf("[Notifier] ⚠️ Reply to unknown host %q: %v", target.Host, err)
		n.answer(ctx, msg.Chat.ID, UnknownTargetText)
		return
	}
	subs, err := n.dir.SubscribersOf(ctx, token)
	if err != nil {
		log.Printf("[Notifier] ⚠️ Subscriber lookup failed for %s: %v", target.Host, err)
		n.answer(ctx, msg.Chat.ID, NotSentText)
		return
	}
	staff := msg.From.Handle()
	if !isSubscriber(subs, msg.Chat.ID, staff) {
		n.answer(ctx, msg.Chat.ID, NotSubscribedText)
		return
	}

	session, err := n.dir.ResolveSession(ctx, token, target.Session)
	if err != nil {
		if !errors.Is(err, store.ErrUnknownSession) && !errors.Is(err, store.ErrAmbiguous) {
			log.Printf("[Notifier] ⚠️ Session lookup failed: %v", err)
		}
		n.answer(ctx, msg.Chat.ID, UnknownTargetText)
		return
	}

	reply := chat.ChatMessage{
		Token:     token,
		Text:      text,
		Timestamp: n.now().Unix(),
		Session:   session,
		User:      target.User,
		Username:  staff,
	}
	if !bus.Publish(n.bus, token, bus.ToWidget, reply) {
		n.answer(ctx, msg.Chat.ID, NotSentText)
		return
	}

	n.fanOut(ctx, subs, FormatReplyNotice(staff, text, target), msg.Chat.ID)
}

func isSubscriber(subs []chat.Subscriber, chatID int64, username string) bool {
	for _, s := range subs {
		if s.Channel == chatID || s.Username == username {
			return true
		}
	}
	return false
}
