package relay

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// State is a connection's lifecycle stage.
type State int

const (
	Connecting State = iota
	Authenticated
	Streaming
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Authenticated:
		return "authenticated"
	case Streaming:
		return "streaming"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// wsConn wraps a websocket.Conn with a write mutex.
// gorilla/websocket does NOT support concurrent writes.
type wsConn struct {
	*websocket.Conn
	mu           sync.Mutex
	writeTimeout time.Duration
}

func newWSConn(raw *websocket.Conn, writeTimeout time.Duration) *wsConn {
	return &wsConn{Conn: raw, writeTimeout: writeTimeout}
}

// Send writes v as a JSON text frame.
func (c *wsConn) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.Conn.WriteJSON(v)
}

// SendText writes a plain text frame.
func (c *wsConn) SendText(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.Conn.WriteMessage(websocket.TextMessage, []byte(text))
}

func (c *wsConn) WritePing() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

func (c *wsConn) WriteCloseSafe(code int, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text), time.Now().Add(c.writeTimeout))
}

// clock hands out per-connection timestamps in seconds that never repeat.
type clock struct {
	last int64
	now  func() time.Time
}

// stamp returns ts, or a fresh timestamp when ts is zero.
func (c *clock) stamp(ts int64) int64 {
	if ts == 0 {
		ts = c.now().Unix()
		if ts <= c.last {
			ts = c.last + 1
		}
	}
	if ts > c.last {
		c.last = ts
	}
	return ts
}
