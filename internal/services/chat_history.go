package services

import (
	"context"

	"github.com/samber/lo"

	"github.com/AnshRaj112/circles-backend/internal/models"
	"github.com/AnshRaj112/circles-backend/pkg/log"
)

// HistoryService answers the read-only queries of the request/response surface.
type HistoryService struct {
	messages MessageStore
	accounts AccountStore
	cache    HistoryCache
	registry *ConnectionRegistry
}

// NewHistoryService wires the read side. cache may be nil.
func NewHistoryService(messages MessageStore, accounts AccountStore, cache HistoryCache, registry *ConnectionRegistry) *HistoryService {
	return &HistoryService{messages: messages, accounts: accounts, cache: cache, registry: registry}
}

// History returns the pair's messages oldest-first, regardless of argument order.
func (h *HistoryService) History(ctx context.Context, a, b string) ([]models.ChatMessage, error) {
	warm := false
	var gen int64
	if h.cache != nil {
		if msgs, ok := h.cache.Get(ctx, a, b); ok {
			return msgs, nil
		}
		var err error
		gen, err = h.cache.Generation(ctx, a, b)
		warm = err == nil
	}

	msgs, err := h.messages.History(ctx, a, b, defaultHistoryLimit)
	if err != nil {
		return nil, persistenceErr("load history", err)
	}
	if warm {
		h.cache.Warm(ctx, a, b, gen, msgs)
	}
	log.Ctx(ctx).Debug().Str(log.FieldUserID, a).Str(log.FieldPeerID, b).Int("count", len(msgs)).Msg("history loaded from store")
	return msgs, nil
}

// Roster lists every account. Presence comes from the live registry, which is
// authoritative over the persisted status.
func (h *HistoryService) Roster(ctx context.Context) ([]models.User, error) {
	users, err := h.accounts.List(ctx)
	if err != nil {
		return nil, persistenceErr("list users", err)
	}
	for i := range users {
		users[i].Status = models.PresenceOffline
		if h.registry.IsOnline(users[i].ID) {
			users[i].Status = models.PresenceOnline
		}
		if t, ok := h.registry.LastSeen(users[i].ID); ok {
			users[i].LastSeen = &t
		}
	}
	return users, nil
}

// LastMessageTimes returns, for every other user, when userID last exchanged a message with them.
func (h *HistoryService) LastMessageTimes(ctx context.Context, userID string) ([]models.LastMessageTime, error) {
	users, err := h.accounts.List(ctx)
	if err != nil {
		return nil, persistenceErr("list users", err)
	}
	last, err := h.messages.LastMessageTimes(ctx, userID)
	if err != nil {
		return nil, persistenceErr("last message times", err)
	}

	others := lo.Filter(users, func(u models.User, _ int) bool { return u.ID != userID })
	return lo.Map(others, func(u models.User, _ int) models.LastMessageTime {
		entry := models.LastMessageTime{UserID: u.ID}
		if t, ok := last[u.ID]; ok {
			entry.LastMessageTime = &t
		}
		return entry
	}), nil
}
