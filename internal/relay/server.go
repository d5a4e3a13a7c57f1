// Package relay is the WebSocket side of the chat: it authenticates widget
// connections, streams visitor messages onto the bus and delivers staff
// replies back to the live connection.
package relay

import (
	"context"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/dayuer/tgchat-go/internal/bus"
	"github.com/dayuer/tgchat-go/internal/sessions"
	"github.com/dayuer/tgchat-go/internal/store"
)

// Presence tells whether a session is connected to another relay process.
type Presence interface {
	Mark(ctx context.Context, session string) bool
	Clear(ctx context.Context, session string) bool
	Elsewhere(ctx context.Context, session string) bool
}

// Config holds connection tuning.
type Config struct {
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64
	HistoryLimit   int
}

// DefaultConfig returns the connection defaults.
func DefaultConfig() Config {
	return Config{
		PingInterval:   10 * time.Second,
		WriteTimeout:   10 * time.Second,
		ReadTimeout:    60 * time.Second,
		MaxMessageSize: 64 << 10,
		HistoryLimit:   store.DefaultHistoryLimit,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = d.MaxMessageSize
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = d.HistoryLimit
	}
	return c
}

// ServerConfig configures the relay Server.
type ServerConfig struct {
	Config
	Bus       bus.Bus
	Directory store.WebsiteDirectory
	Messages  store.MessageStore
	Sessions  *sessions.Directory // optional, a fresh one is created when nil
	Presence  Presence            // optional, single-process deployments leave it nil
}

// Server is the relay server.
type Server struct {
	cfg      Config
	bus      bus.Bus
	dir      store.WebsiteDirectory
	msgs     store.MessageStore
	sessions *sessions.Directory
	presence Presence
	upgrader websocket.Upgrader

	subMu      sync.Mutex
	subscribed map[string]bool

	connMu sync.Mutex
	conns  map[*wsConn]bool

	totalConns atomic.Int64
	relayed    atomic.Int64
	bounced    atomic.Int64
	startTime  time.Time
	now        func() time.Time
}

// NewServer creates a relay server.
func NewServer(cfg ServerConfig) *Server {
	sess := cfg.Sessions
	if sess == nil {
		sess = sessions.NewDirectory()
	}
	return &Server{
		cfg:      cfg.Config.withDefaults(),
		bus:      cfg.Bus,
		dir:      cfg.Directory,
		msgs:     cfg.Messages,
		sessions: sess,
		presence: cfg.Presence,
		upgrader: websocket.Upgrader{
			// origin is checked against the website directory after the handshake
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		subscribed: make(map[string]bool),
		conns:      make(map[*wsConn]bool),
		startTime:  time.Now(),
		now:        time.Now,
	}
}

// Sessions returns the directory of live sessions.
func (s *Server) Sessions() *sessions.Directory { return s.sessions }

// Start subscribes to staff replies for every registered website.
func (s *Server) Start(ctx context.Context) error {
	sites, err := s.dir.Websites(ctx)
	if err != nil {
		return err
	}
	for _, w := range sites {
		s.ensureToken(w.Token)
	}
	log.Printf("[Relay] ✅ Listening for replies on %d website(s)", len(sites))
	return nil
}

// ensureToken subscribes the process to (token, ToWidget) once.
func (s *Server) ensureToken(token string) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if s.subscribed[token] {
		return
	}
	if !s.bus.Subscribe(token, bus.ToWidget, s.onReply) {
		log.Printf("[Relay] ⚠️ Subscribe failed for %s", token)
		return
	}
	s.subscribed[token] = true
}

// SubscribedTokens returns how many websites the process listens on.
func (s *Server) SubscribedTokens() int {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	return len(s.subscribed)
}

// Register mounts the relay routes on e.
func (s *Server) Register(e *echo.Echo) {
	e.GET("/ws", s.HandleWebSocket)
	e.GET("/health", s.handleHealth)
	e.GET("/api/status", s.handleStatus)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": int(time.Since(s.startTime).Seconds()),
	})
}

func (s *Server) handleStatus(c echo.Context) error {
	status := map[string]any{
		"uptime":      int(time.Since(s.startTime).Seconds()),
		"connections": s.ConnectionCount(),
		"sessions":    s.sessions.Len(),
		"websites":    s.SubscribedTokens(),
		"totalConns":  s.totalConns.Load(),
		"relayed":     s.relayed.Load(),
		"bounced":     s.bounced.Load(),
	}
	// only the in-process bus can report its backlog
	if q, ok := s.bus.(interface{ Size() int }); ok {
		status["pending"] = q.Size()
	}
	return c.JSON(http.StatusOK, status)
}

func (s *Server) track(c *wsConn) {
	s.connMu.Lock()
	s.conns[c] = true
	s.connMu.Unlock()
	s.totalConns.Add(1)
}

func (s *Server) untrack(c *wsConn) {
	s.connMu.Lock()
	delete(s.conns, c)
	s.connMu.Unlock()
}

// ConnectionCount returns the number of open WebSocket connections.
func (s *Server) ConnectionCount() int {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return len(s.conns)
}

// Shutdown closes every open connection.
func (s *Server) Shutdown() {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	for c := range s.conns {
		c.WriteCloseSafe(websocket.CloseGoingAway, "server shutdown")
		c.Close()
		delete(s.conns, c)
	}
}
