package services

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/mock/gomock"

	"github.com/AnshRaj112/circles-backend/internal/config"
	"github.com/AnshRaj112/circles-backend/internal/mocks"
	"github.com/AnshRaj112/circles-backend/internal/models"
)

// fakeConn records every frame it is sent.
type fakeConn struct {
	id string

	mu     sync.Mutex
	frames [][]byte
	fail   bool
	closed bool
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail || c.closed {
		return errors.New("send failed")
	}
	c.frames = append(c.frames, frame)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

type recordedEvent struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data"`
}

func (c *fakeConn) events(t *testing.T) []recordedEvent {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]recordedEvent, 0, len(c.frames))
	for _, f := range c.frames {
		var ev recordedEvent
		require.NoError(t, json.Unmarshal(f, &ev))
		out = append(out, ev)
	}
	return out
}

func (c *fakeConn) named(t *testing.T, name string) []recordedEvent {
	t.Helper()
	var out []recordedEvent
	for _, ev := range c.events(t) {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	c.frames = nil
	c.mu.Unlock()
}

func decodeData[T any](t *testing.T, ev recordedEvent) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(ev.Data, &v))
	return v
}

func frame(t *testing.T, name string, data interface{}) []byte {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	out, err := json.Marshal(InboundEvent{Name: name, Data: raw})
	require.NoError(t, err)
	return out
}

// memMessageStore is an in-memory MessageStore with the same compare-and-set semantics as Mongo.
type memMessageStore struct {
	mu        sync.Mutex
	msgs      map[string]models.ChatMessage
	createErr error
}

func newMemMessageStore() *memMessageStore {
	return &memMessageStore{msgs: make(map[string]models.ChatMessage)}
}

func (s *memMessageStore) Create(_ context.Context, msg *models.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	msg.ID = primitive.NewObjectID()
	s.msgs[msg.ID.Hex()] = *msg
	return nil
}

func (s *memMessageStore) FindByID(_ context.Context, id string) (*models.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.msgs[id]
	if !ok {
		return nil, ErrMessageNotFound
	}
	return &m, nil
}

func (s *memMessageStore) AdvanceStatus(_ context.Context, id string, status models.ChatMessageStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.msgs[id]
	if !ok || !m.Status.CanAdvanceTo(status) {
		return false, nil
	}
	m.Status = status
	s.msgs[id] = m
	return true, nil
}

func (s *memMessageStore) History(_ context.Context, a, b string, _ int64) ([]models.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ChatMessage
	for _, m := range s.msgs {
		if m.HasParticipants(a, b) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memMessageStore) LastMessageTimes(_ context.Context, userID string) (map[string]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Time)
	for _, m := range s.msgs {
		if m.SenderID != userID && m.ReceiverID != userID {
			continue
		}
		peer := m.Peer(userID)
		if m.CreatedAt.After(out[peer]) {
			out[peer] = m.CreatedAt
		}
	}
	return out, nil
}

func (s *memMessageStore) status(t *testing.T, id string) models.ChatMessageStatus {
	t.Helper()
	m, err := s.FindByID(context.Background(), id)
	require.NoError(t, err)
	return m.Status
}

// knownAccounts returns an AccountStore mock that resolves the given user ids.
func knownAccounts(ctrl *gomock.Controller, ids ...string) *mocks.MockAccountStore {
	accounts := mocks.NewMockAccountStore(ctrl)
	known := make(map[string]bool, len(ids))
	for _, id := range ids {
		known[id] = true
	}
	accounts.EXPECT().FindByID(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, id string) (*models.User, error) {
			if !known[id] {
				return nil, ErrUserNotFound
			}
			return &models.User{ID: id, Username: id}, nil
		}).AnyTimes()
	accounts.EXPECT().SetPresence(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	return accounts
}

type harnessOptions struct {
	presence     config.PresenceBroadcastMode
	delivery     config.DeliveryMode
	messageRate  float64
	messageBurst int
	accounts     AccountStore
}

type harness struct {
	registry  *ConnectionRegistry
	typing    *TypingTracker
	router    *BroadcastRouter
	messages  *memMessageStore
	lifecycle *MessageLifecycle
	handler   *ProtocolHandler
}

func newHarness(t *testing.T, opts harnessOptions) *harness {
	t.Helper()
	if opts.accounts == nil {
		opts.accounts = knownAccounts(gomock.NewController(t), "alice", "bob", "carol")
	}
	h := &harness{
		registry: NewConnectionRegistry(),
		typing:   NewTypingTracker(),
		messages: newMemMessageStore(),
	}
	h.router = NewBroadcastRouter(h.registry, nil)
	h.lifecycle = NewMessageLifecycle(h.messages, opts.accounts, nil, h.router, h.registry, nil, LifecycleConfig{
		DeliveryMode:     opts.delivery,
		MaxContentLength: 100,
	})
	h.handler = NewProtocolHandler(h.registry, h.typing, h.router, h.lifecycle, opts.accounts, nil, ProtocolConfig{
		PresenceMode: opts.presence,
		MessageRate:  opts.messageRate,
		MessageBurst: opts.messageBurst,
	})
	return h
}

// open creates an anonymous session.
func (h *harness) open(connID string) (*fakeConn, *Session) {
	c := newFakeConn(connID)
	return c, h.handler.Open(c, "")
}

// join opens a session and joins it as userID.
func (h *harness) join(t *testing.T, connID, userID string) (*fakeConn, *Session) {
	t.Helper()
	c, s := h.open(connID)
	h.handler.Handle(context.Background(), s, frame(t, EventJoin, userID))
	require.Equal(t, StateIdentified, s.State())
	return c, s
}
