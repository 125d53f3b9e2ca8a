// Package auth регистрирует пользователей и выпускает токены доступа.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bussulac/access-gateway/internal/config"
	"github.com/bussulac/access-gateway/internal/lib/password"
	"github.com/bussulac/access-gateway/internal/lib/sl"
	"github.com/bussulac/access-gateway/internal/models"
	"github.com/bussulac/access-gateway/internal/storage"
)

// ErrInvalidCredentials неизвестный пользователь или неверный пароль.
var ErrInvalidCredentials = errors.New("invalid credentials")

// UserRepository описывает контракт для работы с пользователями в базе данных.
type UserRepository interface {
	// RegisterUser создаёт учётную запись вместе с профилем доступа.
	RegisterUser(ctx context.Context, user models.User, freeSessionsLimit int, initialTokens int64) (string, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
}

// TokenMaker выпускает JWT для пользователя.
type TokenMaker interface {
	GenerateToken(userUID, username string) (string, error)
}

type Service struct {
	log               *slog.Logger
	users             UserRepository
	tokens            TokenMaker
	freeSessionsLimit int
	initialTokens     int64
}

func New(log *slog.Logger, users UserRepository, tokens TokenMaker, access config.Access) *Service {
	return &Service{
		log:               log,
		users:             users,
		tokens:            tokens,
		freeSessionsLimit: access.FreeSessionsLimit,
		initialTokens:     access.InitialTokens,
	}
}

// Register создаёт пользователя без подписки, с лимитом бесплатных сессий
// и стартовым балансом токенов из конфига.
func (s *Service) Register(ctx context.Context, email, username, rawPassword string) (string, error) {
	const op = "auth.Register"
	hashed, err := password.GetHash(rawPassword)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	user := models.User{
		Email:        email,
		Username:     username,
		PasswordHash: hashed,
	}
	uid, err := s.users.RegisterUser(ctx, user, s.freeSessionsLimit, s.initialTokens)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("user registered", slog.String("op", op), sl.User(uid))
	return uid, nil
}

// Login проверяет пароль и возвращает токен доступа.
func (s *Service) Login(ctx context.Context, username, rawPassword string) (string, error) {
	const op = "auth.Login"
	user, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return "", fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
		}
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if err := password.CompareHash(user.PasswordHash, rawPassword); err != nil {
		if !errors.Is(err, password.ErrMismatch) {
			s.log.Error("stored password hash is unusable", slog.String("op", op), sl.User(user.UUID), sl.Err(err))
		}
		return "", fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}
	token, err := s.tokens.GenerateToken(user.UUID, user.Username)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return token, nil
}
