package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/AnshRaj112/circles-backend/internal/config"
	"github.com/AnshRaj112/circles-backend/internal/metrics"
	"github.com/AnshRaj112/circles-backend/internal/models"
	"github.com/AnshRaj112/circles-backend/pkg/log"
	"github.com/AnshRaj112/circles-backend/pkg/utils"
)

// SendRequest is a validated send-message command.
type SendRequest struct {
	SenderID    string `validate:"required"`
	ReceiverID  string `validate:"required"`
	Content     string
	ClientToken string `validate:"max=128"`
}

type LifecycleConfig struct {
	DeliveryMode     config.DeliveryMode
	MaxContentLength int
}

// MessageLifecycle owns the sent -> delivered -> read state machine. Status is
// only ever changed here, through compare-and-set on the store.
type MessageLifecycle struct {
	messages MessageStore
	accounts AccountStore
	cache    HistoryCache
	router   *BroadcastRouter
	registry *ConnectionRegistry
	metrics  *metrics.Metrics
	validate *validator.Validate
	cfg      LifecycleConfig
	now      func() time.Time
}

// NewMessageLifecycle wires the engine. cache and m may be nil.
func NewMessageLifecycle(messages MessageStore, accounts AccountStore, cache HistoryCache, router *BroadcastRouter, registry *ConnectionRegistry, m *metrics.Metrics, cfg LifecycleConfig) *MessageLifecycle {
	if cfg.DeliveryMode == "" {
		cfg.DeliveryMode = config.DeliveryOptimistic
	}
	return &MessageLifecycle{
		messages: messages,
		accounts: accounts,
		cache:    cache,
		router:   router,
		registry: registry,
		metrics:  m,
		validate: validator.New(),
		cfg:      cfg,
		now:      time.Now,
	}
}

// Send validates, persists and fans out a new message, then applies the
// delivered transition. Nothing is emitted when validation or persistence fails.
func (l *MessageLifecycle) Send(ctx context.Context, req SendRequest) (*models.ChatMessage, error) {
	if err := l.validateSend(req); err != nil {
		return nil, err
	}

	if _, err := l.accounts.FindByID(ctx, req.ReceiverID); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, utils.NewValidationError("receiver", "Receiver does not exist")
		}
		return nil, persistenceErr("find receiver", err)
	}

	msg := &models.ChatMessage{
		SenderID:    req.SenderID,
		ReceiverID:  req.ReceiverID,
		Content:     req.Content,
		Status:      models.MessageStatusSent,
		CreatedAt:   l.now().UTC().Truncate(time.Millisecond),
		ClientToken: req.ClientToken,
	}
	if err := l.messages.Create(ctx, msg); err != nil {
		return nil, persistenceErr("create message", err)
	}
	l.metrics.MessageSent()

	logger := log.Ctx(ctx).With().
		Str(log.FieldMessageID, msg.ID.Hex()).
		Str(log.FieldUserID, msg.SenderID).
		Str(log.FieldPeerID, msg.ReceiverID).
		Logger()
	logger.Debug().Msg("message persisted")

	l.router.EmitToUsers(Event{Name: EventReceiveMessage, Data: *msg}, msg.SenderID, msg.ReceiverID)

	if l.markDelivered(ctx, msg) {
		l.invalidate(ctx, msg)
	} else if l.cache != nil {
		l.cache.Push(ctx, *msg)
	}
	return msg, nil
}

// markDelivered applies sent -> delivered and notifies the sender. It never fails the send.
func (l *MessageLifecycle) markDelivered(ctx context.Context, msg *models.ChatMessage) bool {
	if l.cfg.DeliveryMode == config.DeliveryOnline && !l.registry.IsOnline(msg.ReceiverID) {
		return false
	}

	if err := l.advance(ctx, msg, models.MessageStatusDelivered); err != nil {
		if !errors.Is(err, ErrStaleTransition) {
			log.Ctx(ctx).Warn().Err(err).Str(log.FieldMessageID, msg.ID.Hex()).Msg("delivered transition failed")
		}
		return false
	}
	l.router.EmitToUser(msg.SenderID, statusUpdateEvent(msg.ID.Hex(), models.MessageStatusDelivered))
	return true
}

// advance applies a compare-and-set transition to status. A transition that
// lost the race or would move backwards yields ErrStaleTransition.
func (l *MessageLifecycle) advance(ctx context.Context, msg *models.ChatMessage, status models.ChatMessageStatus) error {
	applied, err := l.messages.AdvanceStatus(ctx, msg.ID.Hex(), status)
	if err != nil {
		return err
	}
	if !applied {
		return ErrStaleTransition
	}
	msg.Status = status
	l.metrics.StatusTransition(string(status))
	return nil
}

// MarkRead applies the read transition on behalf of the message's receiver.
// Unknown ids, foreign readers and non-advancing transitions are silent no-ops.
func (l *MessageLifecycle) MarkRead(ctx context.Context, readerID, messageID string) error {
	msg, err := l.messages.FindByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, ErrMessageNotFound) {
			log.Ctx(ctx).Debug().Str(log.FieldMessageID, messageID).Msg("read receipt for unknown message")
			return nil
		}
		return persistenceErr("find message", err)
	}
	if msg.ReceiverID != readerID {
		log.Ctx(ctx).Debug().
			Str(log.FieldMessageID, messageID).
			Str(log.FieldUserID, readerID).
			Msg("read receipt from non-receiver ignored")
		return nil
	}

	if err := l.advance(ctx, msg, models.MessageStatusRead); err != nil {
		if errors.Is(err, ErrStaleTransition) {
			return nil
		}
		return persistenceErr("advance status", err)
	}
	l.invalidate(ctx, msg)
	l.router.EmitToUser(msg.SenderID, statusUpdateEvent(msg.ID.Hex(), models.MessageStatusRead))
	return nil
}

func (l *MessageLifecycle) validateSend(req SendRequest) error {
	if err := l.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			field := strings.TrimSuffix(strings.ToLower(fe.Field()), "id")
			return utils.NewValidationError(field, fmt.Sprintf("%s failed %q", field, fe.Tag()))
		}
		return utils.NewValidationError("", err.Error())
	}
	if strings.TrimSpace(req.Content) == "" {
		return utils.NewValidationError("content", "Message content is required")
	}
	if limit := l.cfg.MaxContentLength; limit > 0 && utf8.RuneCountInString(req.Content) > limit {
		return utils.NewValidationError("content", fmt.Sprintf("Message content exceeds %d characters", limit))
	}
	return nil
}

func (l *MessageLifecycle) invalidate(ctx context.Context, msg *models.ChatMessage) {
	if l.cache != nil {
		l.cache.Invalidate(ctx, msg.SenderID, msg.ReceiverID)
	}
}
