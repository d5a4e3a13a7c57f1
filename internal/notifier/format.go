package notifier

import (
	"errors"
	"regexp"
	"strings"
)

// Line prefixes of a staff notification. Replies are routed back by parsing
// them out of the quoted notification.
const (
	replyPrefix   = "Reply from @"
	sessionPrefix = "ID: "
	userPrefix    = "User: "
	unknownUser   = "Unknown"
)

var (
	sessionLineRe = regexp.MustCompile(`(?m)^` + sessionPrefix + `([^\n]+)`)
	userLineRe    = regexp.MustCompile(`(?m)^` + userPrefix + `([^\n]+)`)
	userTextRe    = regexp.MustCompile(`(?ms)^` + userPrefix + `[^\n]+\s+(.+)`)

	htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
)

// ErrNotNotification is returned for replies to messages the bot did not
// produce.
var ErrNotNotification = errors.New("not a visitor notification")

// Notification is the routing data carried by a staff notification.
type Notification struct {
	Host    string
	Session string // session suffix
	User    string
	Text    string
}

func escapeHTML(s string) string {
	return htmlEscaper.Replace(s)
}

func formatUser(user string) string {
	if user == "" {
		user = unknownUser
	}
	return userPrefix + "<b>" + escapeHTML(user) + "</b>"
}

// FormatVisitorMessage renders a visitor message for Telegram (HTML parse mode).
func FormatVisitorMessage(host, session, user, text string) string {
	return strings.Join([]string{
		"<b>" + escapeHTML(host) + "</b>",
		sessionPrefix + escapeHTML(session),
		formatUser(user),
		"\n<b>" + escapeHTML(text) + "</b>",
	}, "\n")
}

// FormatUndelivered renders the notice for a reply whose visitor left.
func FormatUndelivered(host, session, user, reply string) string {
	return strings.Join([]string{
		"<b>" + escapeHTML(host) + "</b>",
		sessionPrefix + escapeHTML(session),
		formatUser(user),
		"\n⚠️ <i>" + escapeHTML(reply) + "</i>",
	}, "\n")
}

// FormatReplyNotice tells the other subscribers that a staff member answered.
func FormatReplyNotice(staff, reply string, n Notification) string {
	return replyPrefix + escapeHTML(staff) +
		"\n<b>" + escapeHTML(reply) + "</b>\n\nto\n" +
		"<b>" + escapeHTML(n.Host) + "</b>\n" +
		sessionPrefix + escapeHTML(n.Session) + "\n" +
		formatUser(n.User) + "\n" +
		escapeHTML(n.Text)
}

// ParseNotification extracts the routing data from the plain text of a
// notification as Telegram returns it in reply_to_message.
func ParseNotification(text string) (Notification, error) {
	host, _, _ := strings.Cut(text, "\n")
	host = strings.TrimSpace(host)
	if host == "" || strings.HasPrefix(host, replyPrefix) {
		return Notification{}, ErrNotNotification
	}
	session := sessionLineRe.FindStringSubmatch(text)
	user := userLineRe.FindStringSubmatch(text)
	if session == nil || user == nil {
		return Notification{}, ErrNotNotification
	}

	n := Notification{
		Host:    host,
		Session: strings.TrimSpace(session[1]),
		User:    strings.TrimSpace(user[1]),
	}
	if m := userTextRe.FindStringSubmatch(text); m != nil {
		n.Text = strings.TrimSpace(m[1])
	}
	return n, nil
}
