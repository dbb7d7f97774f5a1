package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/AnshRaj112/circles-backend/internal/services"
	"github.com/AnshRaj112/circles-backend/pkg/log"
)

const eventTimeout = 10 * time.Second

var (
	errSendBufferFull = errors.New("send buffer full")
	errConnClosed     = errors.New("connection closed")
)

// WSConfig tunes the websocket transport.
type WSConfig struct {
	SendBuffer      int
	MaxMessageBytes int64
	PingPeriod      time.Duration
	PongWait        time.Duration
	WriteWait       time.Duration
	RequireSession  bool
	AllowedOrigins  []string
}

// ChatWSHandler upgrades requests to websocket connections and feeds their
// frames into the protocol handler.
type ChatWSHandler struct {
	protocol *services.ProtocolHandler
	auth     *services.AuthService
	cfg      WSConfig
	upgrader websocket.Upgrader
}

func NewChatWSHandler(protocol *services.ProtocolHandler, auth *services.AuthService, cfg WSConfig) *ChatWSHandler {
	h := &ChatWSHandler{protocol: protocol, auth: auth, cfg: cfg}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// checkOrigin accepts requests without an Origin header (non-browser clients)
// and browser requests from an allowed origin.
func (h *ChatWSHandler) checkOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	return lo.ContainsBy(h.cfg.AllowedOrigins, func(allowed string) bool {
		return strings.EqualFold(allowed, origin)
	})
}

// ServeWS handles GET /ws. A session token may be passed as a bearer header or
// as ?token= for browser clients; it binds the connection to that account.
func (h *ChatWSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := extractBearerToken(r.Header.Get("Authorization"))
	if token == "" {
		token = r.URL.Query().Get("token")
	}

	var boundUserID string
	switch {
	case token != "":
		user, err := h.auth.Authenticate(r.Context(), token)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		boundUserID = user.ID
	case h.cfg.RequireSession:
		writeError(w, http.StatusUnauthorized, "Missing session token")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Ctx(r.Context()).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := newWSClient(uuid.NewString(), conn, h.cfg)
	session := h.protocol.Open(client, boundUserID)
	client.logger.Info().Str(log.FieldUserID, boundUserID).Msg("websocket connected")

	go client.writePump()
	go client.readPump(h.protocol, session)
}

var _ services.Conn = (*wsClient)(nil)

// wsClient is one websocket connection. Outbound frames go through a bounded
// queue drained by writePump; a full queue closes the connection.
type wsClient struct {
	id     string
	conn   *websocket.Conn
	cfg    WSConfig
	send   chan []byte
	done   chan struct{}
	logger zerolog.Logger

	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
}

func newWSClient(id string, conn *websocket.Conn, cfg WSConfig) *wsClient {
	return &wsClient{
		id:     id,
		conn:   conn,
		cfg:    cfg,
		send:   make(chan []byte, cfg.SendBuffer),
		done:   make(chan struct{}),
		logger: log.L().With().Str(log.FieldConnID, id).Logger(),
	}
}

func (c *wsClient) ID() string { return c.id }

// Send enqueues a frame without blocking. It is called with the registry lock
// held, so a slow peer is disconnected instead of waited on.
func (c *wsClient) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnClosed
	}
	select {
	case c.send <- frame:
		return nil
	default:
		c.logger.Warn().Msg("send buffer full, closing slow connection")
		go func() { _ = c.Close() }()
		return errSendBufferFull
	}
}

// Close is idempotent; the first call reports the socket close error.
func (c *wsClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

func (c *wsClient) readPump(protocol *services.ProtocolHandler, session *services.Session) {
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
		defer cancel()
		protocol.Close(log.WithLogger(ctx, c.logger), session)
		_ = c.Close()
		c.logger.Info().Msg("websocket disconnected")
	}()

	c.conn.SetReadLimit(c.cfg.MaxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug().Err(err).Msg("websocket read error")
			}
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
		protocol.Handle(ctx, session, frame)
		cancel()
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.cfg.WriteWait))
			return
		}
	}
}
