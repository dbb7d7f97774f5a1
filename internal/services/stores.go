package services

import (
	"context"
	"time"

	"github.com/AnshRaj112/circles-backend/internal/models"
)

//go:generate go run go.uber.org/mock/mockgen -destination=../mocks/mock_stores.go -package=mocks github.com/AnshRaj112/circles-backend/internal/services MessageStore,AccountStore,SessionStore

// MessageStore is the durable, append-only message log.
type MessageStore interface {
	// Create assigns msg.ID and persists it.
	Create(ctx context.Context, msg *models.ChatMessage) error
	// FindByID returns ErrMessageNotFound for unknown or malformed ids.
	FindByID(ctx context.Context, id string) (*models.ChatMessage, error)
	// AdvanceStatus moves the message to status only if its current status precedes it.
	// It reports whether the update was applied.
	AdvanceStatus(ctx context.Context, id string, status models.ChatMessageStatus) (bool, error)
	// History returns the messages of the unordered pair {a, b}, oldest first.
	History(ctx context.Context, a, b string, limit int64) ([]models.ChatMessage, error)
	// LastMessageTimes maps each peer of userID to the creation time of their latest message.
	LastMessageTimes(ctx context.Context, userID string) (map[string]time.Time, error)
}

// AccountStore resolves user identities and records presence.
type AccountStore interface {
	// Create returns ErrUsernameTaken when the name is in use (case-insensitive).
	Create(ctx context.Context, username, passwordHash string) (*models.User, error)
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	List(ctx context.Context) ([]models.User, error)
	SetPresence(ctx context.Context, id string, status models.PresenceStatus, lastSeen time.Time) error
}

// HistoryCache keeps the recent history of a pair. Every method is best-effort.
type HistoryCache interface {
	Get(ctx context.Context, a, b string) ([]models.ChatMessage, bool)
	// Generation is read before loading from the store; Warm applies only if
	// no Push or Invalidate happened in between.
	Generation(ctx context.Context, a, b string) (int64, error)
	Warm(ctx context.Context, a, b string, gen int64, msgs []models.ChatMessage) bool
	Push(ctx context.Context, msg models.ChatMessage)
	Invalidate(ctx context.Context, a, b string)
}
