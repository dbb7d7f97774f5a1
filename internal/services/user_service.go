package services

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/AnshRaj112/circles-backend/internal/models"
	"github.com/AnshRaj112/circles-backend/pkg/utils"
)

const pqUniqueViolation = "23505"

// PostgresAccountStore reads and writes the users table.
type PostgresAccountStore struct {
	db *sql.DB
}

func NewPostgresAccountStore(db *sql.DB) *PostgresAccountStore {
	return &PostgresAccountStore{db: db}
}

func (s *PostgresAccountStore) Create(ctx context.Context, username, passwordHash string) (*models.User, error) {
	u := models.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: passwordHash,
		Status:       models.PresenceOffline,
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, username, password_hash, status)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, u.ID, u.Username, u.PasswordHash, string(u.Status)).Scan(&u.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation {
			return nil, ErrUsernameTaken
		}
		return nil, err
	}
	return &u, nil
}

// FindByUsername matches case-insensitively.
func (s *PostgresAccountStore) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, status, last_seen, created_at
		FROM users WHERE LOWER(username) = $1
	`, utils.NormalizeUsername(username))
	return scanUser(row)
}

func (s *PostgresAccountStore) FindByID(ctx context.Context, id string) (*models.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrUserNotFound
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, status, last_seen, created_at
		FROM users WHERE id = $1
	`, id)
	return scanUser(row)
}

// List returns every account ordered by username.
func (s *PostgresAccountStore) List(ctx context.Context) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, password_hash, status, last_seen, created_at
		FROM users ORDER BY LOWER(username)
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]models.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func (s *PostgresAccountStore) SetPresence(ctx context.Context, id string, status models.PresenceStatus, lastSeen time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET status = $2, last_seen = $3 WHERE id = $1
	`, id, string(status), lastSeen.UTC())
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrUserNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var (
		u        models.User
		status   string
		lastSeen sql.NullTime
	)
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &status, &lastSeen, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	u.Status = models.PresenceStatus(status)
	if lastSeen.Valid {
		t := lastSeen.Time
		u.LastSeen = &t
	}
	return &u, nil
}
