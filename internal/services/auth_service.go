package services

import (
	"context"
	"errors"
	"strings"

	"github.com/AnshRaj112/circles-backend/internal/models"
	"github.com/AnshRaj112/circles-backend/pkg/utils"
)

// AuthService registers accounts and issues session tokens.
type AuthService struct {
	accounts AccountStore
	sessions SessionStore
}

func NewAuthService(accounts AccountStore, sessions SessionStore) *AuthService {
	return &AuthService{accounts: accounts, sessions: sessions}
}

// Register creates the account and logs it in.
func (a *AuthService) Register(ctx context.Context, username, password string) (*models.User, string, error) {
	username = strings.TrimSpace(username)
	if err := utils.ValidateUsername(username); err != nil {
		return nil, "", err
	}
	hash, err := utils.HashPassword(password)
	if err != nil {
		return nil, "", err
	}

	user, err := a.accounts.Create(ctx, username, hash)
	if err != nil {
		if errors.Is(err, ErrUsernameTaken) {
			return nil, "", err
		}
		return nil, "", persistenceErr("create user", err)
	}

	token, err := a.sessions.Create(ctx, user.ID)
	if err != nil {
		return nil, "", persistenceErr("create session", err)
	}
	return user, token, nil
}

// Login verifies the credentials and issues a new token.
func (a *AuthService) Login(ctx context.Context, username, password string) (*models.User, string, error) {
	user, err := a.accounts.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", persistenceErr("find user", err)
	}

	ok, err := utils.VerifyPassword(password, user.PasswordHash)
	if err != nil || !ok {
		return nil, "", ErrInvalidCredentials
	}

	token, err := a.sessions.Create(ctx, user.ID)
	if err != nil {
		return nil, "", persistenceErr("create session", err)
	}
	return user, token, nil
}

// Authenticate resolves a bearer token to its account.
func (a *AuthService) Authenticate(ctx context.Context, token string) (*models.User, error) {
	userID, err := a.sessions.Validate(ctx, token)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, err
		}
		return nil, persistenceErr("validate session", err)
	}
	user, err := a.accounts.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, persistenceErr("find user", err)
	}
	return user, nil
}

func (a *AuthService) Logout(ctx context.Context, token string) error {
	if err := a.sessions.Invalidate(ctx, token); err != nil {
		return persistenceErr("invalidate session", err)
	}
	return nil
}
