package services

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/AnshRaj112/circles-backend/internal/models"
)

var userColumns = []string{"id", "username", "password_hash", "status", "last_seen", "created_at"}

func newMockAccountStore(t *testing.T) (*PostgresAccountStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return NewPostgresAccountStore(db), mock
}

func TestPostgresAccountStore_Create(t *testing.T) {
	ctx := context.Background()
	created := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	t.Run("inserts an offline account", func(t *testing.T) {
		store, mock := newMockAccountStore(t)
		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO users (id, username, password_hash, status)")).
			WithArgs(sqlmock.AnyArg(), "alice", "hash", "offline").
			WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(created))

		u, err := store.Create(ctx, "alice", "hash")
		require.NoError(t, err)
		require.NotEmpty(t, u.ID)
		require.Equal(t, "alice", u.Username)
		require.Equal(t, models.PresenceOffline, u.Status)
		require.Equal(t, created, u.CreatedAt)
	})

	t.Run("unique violation maps to username taken", func(t *testing.T) {
		store, mock := newMockAccountStore(t)
		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO users")).
			WillReturnError(&pq.Error{Code: "23505", Constraint: "users_username_lower_idx"})

		u, err := store.Create(ctx, "Alice", "hash")
		require.ErrorIs(t, err, ErrUsernameTaken)
		require.Nil(t, u)
	})

	t.Run("other driver errors pass through", func(t *testing.T) {
		store, mock := newMockAccountStore(t)
		boom := errors.New("connection reset")
		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO users")).WillReturnError(boom)

		_, err := store.Create(ctx, "alice", "hash")
		require.ErrorIs(t, err, boom)
		require.NotErrorIs(t, err, ErrUsernameTaken)
	})
}

func TestPostgresAccountStore_Find(t *testing.T) {
	ctx := context.Background()
	created := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	seen := created.Add(time.Hour)
	id := "8f14e45f-ceea-467f-a8f5-3b2d5f1c0a11"

	t.Run("by username is case-insensitive", func(t *testing.T) {
		store, mock := newMockAccountStore(t)
		mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE LOWER(username) = $1")).
			WithArgs("alice").
			WillReturnRows(sqlmock.NewRows(userColumns).AddRow(id, "Alice", "hash", "online", seen, created))

		u, err := store.FindByUsername(ctx, "  ALICE ")
		require.NoError(t, err)
		require.Equal(t, id, u.ID)
		require.Equal(t, models.PresenceOnline, u.Status)
		require.NotNil(t, u.LastSeen)
		require.Equal(t, seen, *u.LastSeen)
	})

	t.Run("missing row is not found", func(t *testing.T) {
		store, mock := newMockAccountStore(t)
		mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE id = $1")).
			WithArgs(id).
			WillReturnRows(sqlmock.NewRows(userColumns))

		_, err := store.FindByID(ctx, id)
		require.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("malformed id never reaches the database", func(t *testing.T) {
		store, _ := newMockAccountStore(t)
		_, err := store.FindByID(ctx, "not-a-uuid")
		require.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("list keeps null last seen", func(t *testing.T) {
		store, mock := newMockAccountStore(t)
		mock.ExpectQuery(regexp.QuoteMeta("FROM users ORDER BY LOWER(username)")).
			WillReturnRows(sqlmock.NewRows(userColumns).
				AddRow(id, "alice", "hash", "offline", nil, created).
				AddRow("0c5a3f0e-4b8f-4a53-9a57-2b1f6d5e7c90", "bob", "hash", "online", seen, created))

		users, err := store.List(ctx)
		require.NoError(t, err)
		require.Len(t, users, 2)
		require.Nil(t, users[0].LastSeen)
		require.Equal(t, "bob", users[1].Username)
		require.NotNil(t, users[1].LastSeen)
	})
}

func TestPostgresAccountStore_SetPresence(t *testing.T) {
	ctx := context.Background()
	id := "8f14e45f-ceea-467f-a8f5-3b2d5f1c0a11"
	seen := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	update := regexp.QuoteMeta("UPDATE users SET status = $2, last_seen = $3 WHERE id = $1")

	t.Run("updates status and last seen", func(t *testing.T) {
		store, mock := newMockAccountStore(t)
		mock.ExpectExec(update).
			WithArgs(id, "offline", seen).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, store.SetPresence(ctx, id, models.PresenceOffline, seen))
	})

	t.Run("unknown account is not found", func(t *testing.T) {
		store, mock := newMockAccountStore(t)
		mock.ExpectExec(update).
			WithArgs(id, "online", seen).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := store.SetPresence(ctx, id, models.PresenceOnline, seen)
		require.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("exec errors pass through", func(t *testing.T) {
		store, mock := newMockAccountStore(t)
		boom := errors.New("deadlock detected")
		mock.ExpectExec(update).WillReturnError(boom)

		require.ErrorIs(t, store.SetPresence(ctx, id, models.PresenceOnline, seen), boom)
	})
}
