package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/mock/gomock"

	"github.com/AnshRaj112/circles-backend/internal/mocks"
	"github.com/AnshRaj112/circles-backend/internal/models"
	"github.com/AnshRaj112/circles-backend/internal/services"
)

type fixture struct {
	accounts *mocks.MockAccountStore
	messages *mocks.MockMessageStore
	sessions *mocks.MockSessionStore

	registry *services.ConnectionRegistry
	auth     *services.AuthService
	history  *services.HistoryService
	protocol *services.ProtocolHandler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)

	f := &fixture{
		accounts: mocks.NewMockAccountStore(ctrl),
		messages: mocks.NewMockMessageStore(ctrl),
		sessions: mocks.NewMockSessionStore(ctrl),
		registry: services.NewConnectionRegistry(),
	}
	router := services.NewBroadcastRouter(f.registry, nil)
	lifecycle := services.NewMessageLifecycle(f.messages, f.accounts, nil, router, f.registry, nil,
		services.LifecycleConfig{MaxContentLength: 100})

	f.auth = services.NewAuthService(f.accounts, f.sessions)
	f.history = services.NewHistoryService(f.messages, f.accounts, nil, f.registry)
	f.protocol = services.NewProtocolHandler(f.registry, services.NewTypingTracker(), router, lifecycle, f.accounts, nil,
		services.ProtocolConfig{})
	return f
}

// knownUsers makes FindByID resolve the given ids and accepts presence writes.
func (f *fixture) knownUsers(ids ...string) {
	known := make(map[string]bool, len(ids))
	for _, id := range ids {
		known[id] = true
	}
	f.accounts.EXPECT().FindByID(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, id string) (*models.User, error) {
			if !known[id] {
				return nil, services.ErrUserNotFound
			}
			return &models.User{ID: id, Username: id}, nil
		}).AnyTimes()
	f.accounts.EXPECT().SetPresence(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
}

// acceptMessages makes the message store persist and advance anything.
func (f *fixture) acceptMessages() {
	f.messages.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, msg *models.ChatMessage) error {
			msg.ID = primitive.NewObjectID()
			return nil
		}).AnyTimes()
	f.messages.EXPECT().AdvanceStatus(gomock.Any(), gomock.Any(), gomock.Any()).Return(true, nil).AnyTimes()
}

func (f *fixture) wsConfig() WSConfig {
	return WSConfig{
		SendBuffer:      16,
		MaxMessageBytes: 8192,
		PingPeriod:      time.Second,
		PongWait:        5 * time.Second,
		WriteWait:       time.Second,
		AllowedOrigins:  []string{"http://localhost:3000"},
	}
}

// newRouter mounts the handlers the way the routes package does, minus middleware.
func (f *fixture) newRouter(ws WSConfig) http.Handler {
	r := chi.NewRouter()
	auth := NewAuthHandler(f.auth)
	users := NewUsersHandler(f.history)
	chat := NewChatHistoryHandler(f.history)
	r.Post("/api/auth/register", auth.Register)
	r.Post("/api/auth/login", auth.Login)
	r.Get("/api/auth/me", auth.Me)
	r.Post("/api/auth/logout", auth.Logout)
	r.Get("/api/users", users.List)
	r.Get("/api/users/{id}/last-messages", users.LastMessages)
	r.Get("/api/messages/{a}/{b}", chat.History)
	r.Get("/ws", NewChatWSHandler(f.protocol, f.auth, ws).ServeWS)
	return r
}

func doRequest(t *testing.T, h http.Handler, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}
