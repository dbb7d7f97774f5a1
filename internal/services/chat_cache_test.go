package services

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/mock/gomock"

	"github.com/AnshRaj112/circles-backend/internal/config"
	"github.com/AnshRaj112/circles-backend/internal/models"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return srv, client
}

func TestChatRecentKeyIsOrderIndependent(t *testing.T) {
	require.Equal(t, chatRecentKey("alice", "bob"), chatRecentKey("bob", "alice"))
	require.Equal(t, "chat:pair:alice:bob:recent", chatRecentKey("bob", "alice"))
}

func TestRedisHistoryCache(t *testing.T) {
	ctx := context.Background()
	srv, client := newTestRedis(t)
	cache := NewRedisHistoryCache(client, time.Hour)

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	first := models.ChatMessage{ID: primitive.NewObjectID(), SenderID: "alice", ReceiverID: "bob", Content: "first", Status: models.MessageStatusRead, CreatedAt: at}
	second := models.ChatMessage{ID: primitive.NewObjectID(), SenderID: "bob", ReceiverID: "alice", Content: "second", Status: models.MessageStatusSent, CreatedAt: at.Add(time.Minute)}

	t.Run("push to a cold entry keeps it cold", func(t *testing.T) {
		cache.Push(ctx, first)
		_, ok := cache.Get(ctx, "alice", "bob")
		require.False(t, ok)
	})

	t.Run("warm then get oldest first from either side", func(t *testing.T) {
		gen, err := cache.Generation(ctx, "alice", "bob")
		require.NoError(t, err)
		require.True(t, cache.Warm(ctx, "alice", "bob", gen, []models.ChatMessage{first}))
		cache.Push(ctx, second)

		got, ok := cache.Get(ctx, "bob", "alice")
		require.True(t, ok)
		require.Len(t, got, 2)
		require.Equal(t, "first", got[0].Content)
		require.Equal(t, "second", got[1].Content)
		require.Equal(t, first.ID, got[0].ID)

		ttl := srv.TTL(chatRecentKey("alice", "bob"))
		require.Greater(t, ttl, time.Duration(0))
	})

	t.Run("invalidate drops the entry", func(t *testing.T) {
		cache.Invalidate(ctx, "bob", "alice")
		_, ok := cache.Get(ctx, "alice", "bob")
		require.False(t, ok)
	})

	t.Run("warm with an outdated generation is refused", func(t *testing.T) {
		gen, err := cache.Generation(ctx, "alice", "bob")
		require.NoError(t, err)

		cache.Push(ctx, second)
		require.False(t, cache.Warm(ctx, "alice", "bob", gen, []models.ChatMessage{first}))
		_, ok := cache.Get(ctx, "alice", "bob")
		require.False(t, ok)

		gen, err = cache.Generation(ctx, "bob", "alice")
		require.NoError(t, err)
		cache.Invalidate(ctx, "alice", "bob")
		require.False(t, cache.Warm(ctx, "alice", "bob", gen, []models.ChatMessage{first, second}))
	})
}

// racingStore lets a write land between the store read and the cache warm of a history load.
type racingStore struct {
	*memMessageStore
	between func()
}

func (s *racingStore) History(ctx context.Context, a, b string, limit int64) ([]models.ChatMessage, error) {
	msgs, err := s.memMessageStore.History(ctx, a, b, limit)
	if s.between != nil {
		between := s.between
		s.between = nil
		between()
	}
	return msgs, err
}

func TestHistoryCache_ConcurrentWritesAreNeverLost(t *testing.T) {
	ctx := context.Background()
	_, client := newTestRedis(t)
	cache := NewRedisHistoryCache(client, time.Hour)

	store := &racingStore{memMessageStore: newMemMessageStore()}
	registry := NewConnectionRegistry()
	accounts := knownAccounts(gomock.NewController(t), "alice", "bob")
	lifecycle := NewMessageLifecycle(store.memMessageStore, accounts, cache, NewBroadcastRouter(registry, nil), registry, nil,
		LifecycleConfig{DeliveryMode: config.DeliveryOnline, MaxContentLength: 100})
	history := NewHistoryService(store, accounts, cache, registry)

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	lifecycle.now = func() time.Time { return base }
	first, err := lifecycle.Send(ctx, SendRequest{SenderID: "alice", ReceiverID: "bob", Content: "first"})
	require.NoError(t, err)

	t.Run("send during a cold load", func(t *testing.T) {
		store.between = func() {
			lifecycle.now = func() time.Time { return base.Add(time.Minute) }
			_, err := lifecycle.Send(ctx, SendRequest{SenderID: "bob", ReceiverID: "alice", Content: "second"})
			require.NoError(t, err)
		}
		got, err := history.History(ctx, "alice", "bob")
		require.NoError(t, err)
		require.Len(t, got, 1, "the load itself sees its own snapshot")

		for i := 0; i < 2; i++ {
			got, err = history.History(ctx, "bob", "alice")
			require.NoError(t, err)
			require.Len(t, got, 2)
			require.Equal(t, "second", got[1].Content)
		}
	})

	t.Run("read receipt during a cold load", func(t *testing.T) {
		cache.Invalidate(ctx, "alice", "bob")
		store.between = func() {
			require.NoError(t, lifecycle.MarkRead(ctx, "bob", first.ID.Hex()))
		}
		_, err := history.History(ctx, "alice", "bob")
		require.NoError(t, err)

		got, err := history.History(ctx, "alice", "bob")
		require.NoError(t, err)
		require.Equal(t, models.MessageStatusRead, got[0].Status)
	})
}
