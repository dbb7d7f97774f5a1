package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/AnshRaj112/circles-backend/internal/config"
	"github.com/AnshRaj112/circles-backend/internal/metrics"
	"github.com/AnshRaj112/circles-backend/internal/models"
	"github.com/AnshRaj112/circles-backend/pkg/log"
	"github.com/AnshRaj112/circles-backend/pkg/utils"
)

// SessionState is the per-connection protocol state.
type SessionState int

const (
	StateAnonymous SessionState = iota
	StateIdentified
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateIdentified:
		return "identified"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("SessionState(%d)", int(s))
	}
}

// Session is the protocol state of one connection. Events of a session are
// handled one at a time, in arrival order.
type Session struct {
	conn    Conn
	limiter *rate.Limiter
	logger  zerolog.Logger

	mu        sync.Mutex
	state     SessionState
	userID    string
	boundUser string
}

func (s *Session) ID() string { return s.conn.ID() }

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// UserID is empty until the session is identified.
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

func (s *Session) snapshot() (SessionState, string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.userID, s.boundUser
}

type ProtocolConfig struct {
	PresenceMode config.PresenceBroadcastMode
	// MessageRate is events per second for send-message and typing; <= 0 disables limiting.
	MessageRate  float64
	MessageBurst int
}

// ProtocolHandler reacts to inbound client events and drives the registry, the
// typing tracker and the message lifecycle.
type ProtocolHandler struct {
	registry  *ConnectionRegistry
	typing    *TypingTracker
	router    *BroadcastRouter
	lifecycle *MessageLifecycle
	accounts  AccountStore
	metrics   *metrics.Metrics
	cfg       ProtocolConfig
}

func NewProtocolHandler(registry *ConnectionRegistry, typing *TypingTracker, router *BroadcastRouter, lifecycle *MessageLifecycle, accounts AccountStore, m *metrics.Metrics, cfg ProtocolConfig) *ProtocolHandler {
	if cfg.PresenceMode == "" {
		cfg.PresenceMode = config.PresenceEveryJoin
	}
	return &ProtocolHandler{
		registry:  registry,
		typing:    typing,
		router:    router,
		lifecycle: lifecycle,
		accounts:  accounts,
		metrics:   m,
		cfg:       cfg,
	}
}

// Open starts a session for a new connection. boundUserID is the identity
// proven by an auth token, or empty for an unauthenticated connection.
func (h *ProtocolHandler) Open(c Conn, boundUserID string) *Session {
	limit := rate.Inf
	if h.cfg.MessageRate > 0 {
		limit = rate.Limit(h.cfg.MessageRate)
	}
	burst := h.cfg.MessageBurst
	if burst <= 0 {
		burst = 1
	}

	s := &Session{
		conn:      c,
		limiter:   rate.NewLimiter(limit, burst),
		logger:    log.L().With().Str(log.FieldConnID, c.ID()).Logger(),
		boundUser: boundUserID,
	}
	h.registry.Add(c)
	h.metrics.ConnectionOpened()
	s.logger.Debug().Msg("connection opened")
	return s
}

// Handle processes one raw client frame. It never panics and never returns an
// error: failures are reported to the originating connection only.
func (h *ProtocolHandler) Handle(ctx context.Context, s *Session, raw []byte) {
	ev, err := DecodeInbound(raw)
	if err != nil {
		s.logger.Debug().Err(err).Msg("malformed frame ignored")
		h.metrics.EventError("unknown", "decode")
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Str(log.FieldEvent, ev.Name).Msg("event handler panicked")
			h.metrics.EventError(ev.Name, "panic")
			h.router.EmitToConn(s.conn, errorEvent("internal error", ""))
		}
	}()

	state, _, _ := s.snapshot()
	if state == StateClosed {
		return
	}

	ctx = log.WithLogger(ctx, s.logger)
	switch ev.Name {
	case EventJoin:
		h.join(ctx, s, ev.Data)
	case EventTypingStart, EventTypingStop:
		h.typingEvent(s, ev.Name, ev.Data)
	case EventSendMessage:
		h.sendMessage(ctx, s, ev.Data)
	case EventMessageRead:
		h.messageRead(ctx, s, ev.Data)
	default:
		s.logger.Debug().Str(log.FieldEvent, ev.Name).Msg("unknown event ignored")
	}
}

// Join binds the session to userID. It is exposed for transports that identify
// connections out of band.
func (h *ProtocolHandler) Join(ctx context.Context, s *Session, userID string) error {
	state, current, bound := s.snapshot()
	switch {
	case state == StateClosed:
		return nil
	case bound != "" && userID != bound:
		return ErrAlreadyIdentified
	case state == StateIdentified && userID != current:
		return ErrAlreadyIdentified
	}

	if state == StateAnonymous {
		if _, err := h.accounts.FindByID(ctx, userID); err != nil {
			if errors.Is(err, ErrUserNotFound) {
				return utils.NewValidationError("userId", "Unknown user")
			}
			return persistenceErr("find user", err)
		}
	}

	res, err := h.registry.Register(s.conn, userID, func(res JoinResult, all []Conn) {
		if res.First || h.cfg.PresenceMode == config.PresenceEveryJoin {
			h.router.Announce(all, presenceEvent(res.Change))
		}
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.state = StateIdentified
	s.userID = userID
	s.logger = s.logger.With().Str(log.FieldUserID, userID).Logger()
	s.mu.Unlock()

	if res.First {
		h.persistPresence(ctx, res.Change)
	}
	h.metrics.SetOnlineUsers(len(h.registry.OnlineUsers()))
	log.Ctx(ctx).Info().Str(log.FieldUserID, userID).Bool("first", res.First).Msg("user joined")
	return nil
}

func (h *ProtocolHandler) join(ctx context.Context, s *Session, data json.RawMessage) {
	userID, err := decodeID(data, "userId")
	if err != nil {
		h.reportError(s, EventJoin, utils.NewValidationError("userId", err.Error()), "")
		return
	}
	if err := h.Join(ctx, s, userID); err != nil {
		h.reportError(s, EventJoin, err, "")
	}
}

func (h *ProtocolHandler) typingEvent(s *Session, name string, data json.RawMessage) {
	state, userID, _ := s.snapshot()
	if state != StateIdentified {
		return
	}
	if !s.limiter.Allow() {
		h.reportError(s, name, ErrRateLimited, "")
		return
	}

	var p TypingPayload
	if err := json.Unmarshal(data, &p); err != nil || p.Receiver == "" {
		s.logger.Debug().Str(log.FieldEvent, name).Msg("typing event without receiver ignored")
		return
	}

	if name == EventTypingStart {
		h.typing.Start(s.ID(), p.Receiver)
	} else {
		h.typing.Stop(s.ID())
	}
	h.router.EmitToUser(p.Receiver, Event{Name: name, Data: TypingPayload{UserID: userID}})
}

func (h *ProtocolHandler) sendMessage(ctx context.Context, s *Session, data json.RawMessage) {
	state, userID, _ := s.snapshot()
	var p SendMessagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		h.reportError(s, EventSendMessage, utils.NewValidationError("", "Malformed send-message payload"), "")
		return
	}
	if state != StateIdentified {
		h.reportError(s, EventSendMessage, ErrNotIdentified, p.ClientToken)
		return
	}
	if !s.limiter.Allow() {
		h.reportError(s, EventSendMessage, ErrRateLimited, p.ClientToken)
		return
	}
	if p.Sender != "" && p.Sender != userID {
		h.reportError(s, EventSendMessage, utils.NewValidationError("sender", "Sender does not match the joined user"), p.ClientToken)
		return
	}

	_, err := h.lifecycle.Send(ctx, SendRequest{
		SenderID:    userID,
		ReceiverID:  p.Receiver,
		Content:     p.Content,
		ClientToken: p.ClientToken,
	})
	if err != nil {
		h.reportError(s, EventSendMessage, err, p.ClientToken)
	}
}

func (h *ProtocolHandler) messageRead(ctx context.Context, s *Session, data json.RawMessage) {
	state, userID, _ := s.snapshot()
	if state != StateIdentified {
		return
	}
	messageID, err := decodeID(data, "messageId")
	if err != nil {
		s.logger.Debug().Err(err).Msg("message-read without id ignored")
		return
	}
	if err := h.lifecycle.MarkRead(ctx, userID, messageID); err != nil {
		h.reportError(s, EventMessageRead, err, "")
	}
}

// Close runs the disconnect path once: typing is cleared, the connection is
// unregistered and offline presence is broadcast if it was the user's last one.
func (h *ProtocolHandler) Close(ctx context.Context, s *Session) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	userID := s.userID
	s.mu.Unlock()

	if receiver, was := h.typing.Stop(s.ID()); was && userID != "" {
		h.router.EmitToUser(receiver, Event{Name: EventTypingStop, Data: TypingPayload{UserID: userID}})
	}

	res := h.registry.Unregister(s.conn, func(res LeaveResult, remaining []Conn) {
		if res.Last {
			h.router.Announce(remaining, presenceEvent(res.Change))
		}
	})
	if res.Known {
		h.metrics.ConnectionClosed()
	}
	if res.Last {
		h.persistPresence(ctx, res.Change)
	}
	h.metrics.SetOnlineUsers(len(h.registry.OnlineUsers()))
	s.logger.Debug().Bool("last", res.Last).Msg("connection closed")
}

func (h *ProtocolHandler) persistPresence(ctx context.Context, change models.PresenceChange) {
	if err := h.accounts.SetPresence(ctx, change.UserID, change.Status, change.LastSeen); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str(log.FieldUserID, change.UserID).Msg("persist presence failed")
	}
}

// reportError sends message-error to the originating connection only.
func (h *ProtocolHandler) reportError(s *Session, event string, err error, clientToken string) {
	var (
		verr *utils.ValidationError
		perr *PersistenceError
		msg  string
		kind string
	)
	switch {
	case errors.As(err, &verr):
		msg, kind = verr.Message, "validation"
	case errors.As(err, &perr):
		msg, kind = persistenceMessage(event), "persistence"
		s.logger.Error().Err(err).Str(log.FieldEvent, event).Msg("event failed")
	default:
		msg, kind = err.Error(), "protocol"
	}
	h.metrics.EventError(event, kind)
	h.router.EmitToConn(s.conn, errorEvent(msg, clientToken))
}

func persistenceMessage(event string) string {
	switch event {
	case EventSendMessage:
		return "Failed to send message"
	case EventMessageRead:
		return "Failed to mark message as read"
	default:
		return "Temporary server error"
	}
}
