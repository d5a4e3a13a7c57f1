package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/dayuer/tgchat-go/internal/bus"
	"github.com/dayuer/tgchat-go/internal/chat"
	"github.com/dayuer/tgchat-go/internal/store"
)

// UndeliveredText replaces the text of a staff reply whose visitor is gone.
const UndeliveredText = "User has already left"

// maxStampRetries bounds how often a colliding timestamp is bumped.
const maxStampRetries = 3

// handshake is the first frame of a widget connection.
type handshake struct {
	Token   string `json:"token"`
	Session string `json:"session"`
}

// connection is one widget socket moving through its lifecycle.
type connection struct {
	ws     *wsConn
	origin string
	peer   string
	token  string
	key    string
	state  State
	clock  clock
}

func (c *connection) setState(st State) {
	c.state = st
}

// HandleWebSocket upgrades the request and runs the connection until it
// closes.
//
// Protocol:
//
//	widget → relay:  {"token": "...", "session": "..."}    handshake, session optional
//	relay → widget:  {"session": "..."}                   session in use
//	relay → widget:  {"history": [ChatMessage, ...]}      newest first
//	widget → relay:  ChatMessage                          any number of times
//	relay → widget:  ChatMessage                          staff replies
//	relay → widget:  "plain text"                         rejection, then close
func (s *Server) HandleWebSocket(c echo.Context) error {
	r := c.Request()
	raw, err := s.upgrader.Upgrade(c.Response(), r, nil)
	if err != nil {
		log.Printf("[Relay] ⚠️ Upgrade failed: %v", err)
		return nil
	}

	conn := &connection{
		ws:     newWSConn(raw, s.cfg.WriteTimeout),
		origin: r.Header.Get("Origin"),
		peer:   r.RemoteAddr,
		state:  Connecting,
		clock:  clock{now: s.now},
	}
	s.serve(r.Context(), conn)
	return nil
}

func (s *Server) serve(ctx context.Context, conn *connection) {
	s.track(conn.ws)
	done := make(chan struct{})

	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Relay] ❌ Connection task panic (%s): %v", conn.peer, r)
		}
		close(done)
		if conn.key != "" {
			s.sessions.Release(conn.key, conn.ws)
			if s.presence != nil {
				s.presence.Clear(context.Background(), conn.key)
			}
		}
		conn.ws.Close()
		s.untrack(conn.ws)
		conn.setState(Closed)
		log.Printf("[Relay] 🔌 Disconnected: %s %s", conn.peer, chat.SessionSuffix(conn.key))
	}()

	raw := conn.ws.Conn
	raw.SetReadLimit(s.cfg.MaxMessageSize)
	raw.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	raw.SetPongHandler(func(string) error {
		raw.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return nil
	})

	if !s.establish(ctx, conn) {
		return
	}
	log.Printf("[Relay] 🔗 Connected: %s %s ✅", conn.peer, chat.SessionSuffix(conn.key))

	go s.heartbeat(conn, done)
	conn.setState(Streaming)
	s.stream(ctx, conn)
}

// establish runs the handshake. It returns false when the connection was
// rejected.
func (s *Server) establish(ctx context.Context, conn *connection) bool {
	_, data, err := conn.ws.ReadMessage()
	if err != nil {
		return false
	}
	var hs handshake
	if err := json.Unmarshal(data, &hs); err != nil || hs.Token == "" {
		s.reject(conn, textUnavailable)
		return false
	}

	verdict, err := s.Verify(ctx, hs.Token, conn.origin, hs.Session)
	if err != nil {
		log.Printf("[Relay] ⚠️ Verify failed (%s): %v", conn.peer, err)
		s.reject(conn, textInternal)
		return false
	}
	if verdict != Valid {
		log.Printf("[Relay] 🚫 Handshake rejected (%s, origin=%q): %s", conn.peer, conn.origin, verdict)
		s.reject(conn, verdict.reason())
		return false
	}
	conn.token = hs.Token
	conn.setState(Authenticated)

	key, err := s.resolveSession(ctx, hs)
	if err != nil {
		log.Printf("[Relay] ⚠️ Session setup failed (%s): %v", conn.peer, err)
		s.reject(conn, textInternal)
		return false
	}
	conn.key = key
	s.ensureToken(conn.token)

	if err := conn.ws.Send(map[string]string{"session": key}); err != nil {
		return false
	}
	history, err := s.msgs.RecentMessages(ctx, conn.token, key, s.cfg.HistoryLimit)
	if err != nil {
		log.Printf("[Relay] ⚠️ History lookup failed (%s): %v", chat.SessionSuffix(key), err)
		s.reject(conn, textInternal)
		return false
	}
	if len(history) > 0 {
		conn.clock.last = history[0].Timestamp
	}
	if err := conn.ws.Send(map[string]any{"history": history}); err != nil {
		return false
	}

	if prev := s.sessions.Register(key, conn.ws); prev != nil {
		log.Printf("[Relay] Session %s moved to a new connection", chat.SessionSuffix(key))
	}
	if s.presence != nil {
		s.presence.Mark(ctx, key)
	}
	return true
}

// resolveSession reuses the handshake session when it is valid for the
// token, and mints a new one otherwise.
func (s *Server) resolveSession(ctx context.Context, hs handshake) (string, error) {
	if hs.Session != "" {
		ok, err := s.dir.VerifySession(ctx, hs.Token, hs.Session)
		if err != nil {
			return "", err
		}
		if ok {
			return hs.Session, nil
		}
	}
	return s.dir.MintSession(ctx, hs.Token)
}

// stream relays visitor frames until the socket closes or a frame fails
// verification.
func (s *Server) stream(ctx context.Context, conn *connection) {
	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[Relay] ⚠️ Read error (%s): %v", conn.peer, err)
			}
			return
		}
		conn.ws.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))

		msg, err := chat.DecodeChatMessage(data)
		if err != nil {
			s.reject(conn, textUnavailable)
			return
		}
		if msg.Token == "" {
			msg.Token = conn.token
		}

		verdict := UnknownToken
		if msg.Token == conn.token {
			verdict, err = s.Verify(ctx, msg.Token, conn.origin, conn.key)
			if err != nil {
				log.Printf("[Relay] ⚠️ Verify failed (%s), frame dropped: %v", conn.peer, err)
				continue
			}
		}
		if verdict != Valid {
			log.Printf("[Relay] 🚫 Frame rejected (%s): %s", chat.SessionSuffix(conn.key), verdict)
			s.reject(conn, verdict.reason())
			return
		}

		msg.Session = conn.key
		msg.Timestamp = conn.clock.stamp(msg.Timestamp)
		msg.Undelivered = false
		if err := s.persist(ctx, &msg); err != nil {
			log.Printf("[Relay] ⚠️ Persist failed %s: %v", msg, err)
		}
		conn.clock.stamp(msg.Timestamp)

		if bus.Publish(s.bus, msg.Token, bus.ToStaff, msg) {
			s.relayed.Add(1)
		}
		if s.presence != nil {
			s.presence.Mark(ctx, conn.key)
		}
	}
}

// onReply handles a staff reply published on (token, ToWidget).
func (s *Server) onReply(ctx context.Context, m bus.Message) {
	var msg chat.ChatMessage
	if err := m.Decode(&msg); err != nil {
		log.Printf("[Relay] ⚠️ Bad reply on %s: %v", m.RoutingKey(), err)
		return
	}
	if msg.Token == "" {
		msg.Token = m.Channel()
	}

	if _, local := s.sessions.Lookup(msg.Session); !local &&
		s.presence != nil && s.presence.Elsewhere(ctx, msg.Session) {
		return
	}

	// Every relay on a shared bus receives the reply; the unique timestamp
	// keeps a single stored copy.
	if err := s.msgs.AppendMessage(ctx, msg); err != nil && !errors.Is(err, store.ErrDuplicate) {
		log.Printf("[Relay] ⚠️ Persist failed %s: %v", msg, err)
	}
	if s.sessions.Deliver(msg.Session, msg) {
		return
	}
	s.bounce(msg)
}

// bounce tells the staff side that a reply could not reach its visitor.
func (s *Server) bounce(msg chat.ChatMessage) {
	notice := msg
	notice.Text = UndeliveredText
	notice.Undelivered = true
	if bus.Publish(s.bus, msg.Token, bus.ToStaff, notice) {
		s.bounced.Add(1)
	}
}

// persist appends a visitor frame, moving its timestamp forward when the
// second is already taken in the session log.
func (s *Server) persist(ctx context.Context, msg *chat.ChatMessage) error {
	var err error
	for i := 0; i <= maxStampRetries; i++ {
		err = s.msgs.AppendMessage(ctx, *msg)
		if !errors.Is(err, store.ErrDuplicate) {
			return err
		}
		msg.Timestamp++
	}
	return fmt.Errorf("timestamp %d: %w", msg.Timestamp, err)
}

// reject sends a plain text reason and closes the socket.
func (s *Server) reject(conn *connection, reason string) {
	if err := conn.ws.SendText(reason); err == nil {
		conn.ws.WriteCloseSafe(websocket.ClosePolicyViolation, "")
	}
	conn.setState(Closed)
}

// heartbeat pings the widget and keeps its presence mark fresh.
func (s *Server) heartbeat(conn *connection, done <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.ws.WritePing(); err != nil {
				return
			}
			if s.presence != nil {
				s.presence.Mark(context.Background(), conn.key)
			}
		}
	}
}
