package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/AnshRaj112/circles-backend/internal/mocks"
	"github.com/AnshRaj112/circles-backend/internal/models"
)

func TestHistoryService_HistoryIsOrderIndependent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, harnessOptions{})
	_, _ = h.lifecycle.Send(ctx, SendRequest{SenderID: "alice", ReceiverID: "bob", Content: "first"})
	h.lifecycle.now = func() time.Time { return time.Now().Add(time.Second) }
	_, _ = h.lifecycle.Send(ctx, SendRequest{SenderID: "bob", ReceiverID: "alice", Content: "second"})
	_, _ = h.lifecycle.Send(ctx, SendRequest{SenderID: "alice", ReceiverID: "carol", Content: "elsewhere"})

	svc := NewHistoryService(h.messages, nil, nil, h.registry)
	ab, err := svc.History(ctx, "alice", "bob")
	require.NoError(t, err)
	ba, err := svc.History(ctx, "bob", "alice")
	require.NoError(t, err)

	require.Len(t, ab, 2)
	require.Equal(t, ab, ba)
	require.Equal(t, "first", ab[0].Content)
	require.Equal(t, "second", ab[1].Content)
}

type stubCache struct {
	hit    []models.ChatMessage
	warmed []models.ChatMessage
}

func (c *stubCache) Get(context.Context, string, string) ([]models.ChatMessage, bool) {
	return c.hit, c.hit != nil
}
func (c *stubCache) Generation(context.Context, string, string) (int64, error) { return 0, nil }
func (c *stubCache) Warm(_ context.Context, _, _ string, _ int64, msgs []models.ChatMessage) bool {
	c.warmed = msgs
	return true
}
func (c *stubCache) Push(context.Context, models.ChatMessage)   {}
func (c *stubCache) Invalidate(context.Context, string, string) {}

func TestHistoryService_CacheFirst(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	store := mocks.NewMockMessageStore(ctrl)

	cached := []models.ChatMessage{{Content: "cached"}}
	svc := NewHistoryService(store, nil, &stubCache{hit: cached}, NewConnectionRegistry())
	got, err := svc.History(ctx, "a", "b")
	require.NoError(t, err)
	require.Equal(t, cached, got)

	fromStore := []models.ChatMessage{{Content: "stored"}}
	store.EXPECT().History(gomock.Any(), "a", "b", int64(defaultHistoryLimit)).Return(fromStore, nil)
	cache := &stubCache{}
	svc = NewHistoryService(store, nil, cache, NewConnectionRegistry())
	got, err = svc.History(ctx, "a", "b")
	require.NoError(t, err)
	require.Equal(t, fromStore, got)
	require.Equal(t, fromStore, cache.warmed)
}

func TestHistoryService_HistoryStoreFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockMessageStore(ctrl)
	store.EXPECT().History(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, errors.New("down"))

	_, err := NewHistoryService(store, nil, nil, NewConnectionRegistry()).History(context.Background(), "a", "b")
	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
}

func TestHistoryService_RosterUsesLivePresence(t *testing.T) {
	ctrl := gomock.NewController(t)
	accounts := mocks.NewMockAccountStore(ctrl)
	accounts.EXPECT().List(gomock.Any()).Return([]models.User{
		{ID: "alice", Username: "alice", Status: models.PresenceOffline},
		{ID: "bob", Username: "bob", Status: models.PresenceOnline},
	}, nil)

	registry := NewConnectionRegistry()
	_, _ = registry.Register(newFakeConn("a"), "alice", nil)

	users, err := NewHistoryService(nil, accounts, nil, registry).Roster(context.Background())
	require.NoError(t, err)
	require.Equal(t, models.PresenceOnline, users[0].Status)
	require.NotNil(t, users[0].LastSeen)
	require.Equal(t, models.PresenceOffline, users[1].Status)
}

func TestHistoryService_LastMessageTimes(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	accounts := mocks.NewMockAccountStore(ctrl)
	accounts.EXPECT().List(gomock.Any()).Return([]models.User{
		{ID: "alice"}, {ID: "bob"}, {ID: "carol"},
	}, nil)

	messages := newMemMessageStore()
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, messages.Create(ctx, &models.ChatMessage{SenderID: "bob", ReceiverID: "alice", Content: "x", CreatedAt: at}))

	entries, err := NewHistoryService(messages, accounts, nil, NewConnectionRegistry()).LastMessageTimes(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "bob", entries[0].UserID)
	require.NotNil(t, entries[0].LastMessageTime)
	require.True(t, at.Equal(*entries[0].LastMessageTime))
	require.Equal(t, "carol", entries[1].UserID)
	require.Nil(t, entries[1].LastMessageTime)
}
