package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/divert-core/internal/infrastructure/config"
)

// Logger is the logging interface used by the package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// RegisterInput is a self-service sign-up.
type RegisterInput struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name,omitempty"`
}

// TokenResponse is returned by a successful login.
type TokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	User        *User     `json:"user"`
}

// Service registers users and issues access tokens.
type Service struct {
	users  UserRepository
	secret string
	ttl    int
	logger Logger
}

// NewService creates an auth service signing tokens with cfg.Secret.
func NewService(users UserRepository, cfg config.JWTConfig) *Service {
	return &Service{
		users:  users,
		secret: cfg.Secret,
		ttl:    cfg.AccessTokenTTL,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the service.
func (s *Service) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	s.logger = logger
}

// Users returns the underlying repository.
func (s *Service) Users() UserRepository {
	return s.users
}

// Register creates an active account with the user role.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*User, error) {
	username := strings.TrimSpace(in.Username)
	email := strings.ToLower(strings.TrimSpace(in.Email))

	if !IsValidUsername(username) {
		return nil, ErrInvalidUsername
	}
	if !IsValidEmail(email) {
		return nil, ErrInvalidEmail
	}
	if err := ValidatePassword(in.Password); err != nil {
		return nil, err
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	displayName := strings.TrimSpace(in.DisplayName)
	if displayName == "" {
		displayName = username
	}
	user := &User{
		Username:     username,
		DisplayName:  displayName,
		Email:        email,
		PasswordHash: hash,
		Role:         RoleUser,
		IsActive:     true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Info("user registered", "user_id", user.ID, "username", user.Username)
	return user, nil
}

// Login verifies a username (or email) and password and issues a token.
// Unknown users and wrong passwords both return ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, identifier, password string) (*TokenResponse, error) {
	identifier = strings.TrimSpace(identifier)

	user, err := s.users.GetByUsername(ctx, identifier)
	if errors.Is(err, ErrUserNotFound) && strings.Contains(identifier, "@") {
		user, err = s.users.GetByEmail(ctx, strings.ToLower(identifier))
	}
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	ok, err := VerifyPassword(password, user.PasswordHash)
	if err != nil {
		s.logger.Error("stored password hash unreadable", "user_id", user.ID, "error", err)
		return nil, ErrInvalidCredentials
	}
	if !ok {
		s.logger.Debug("login rejected", "username", user.Username)
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, ErrUserInactive
	}

	token, expires, err := GenerateAccessToken(user, s.secret, s.ttl)
	if err != nil {
		return nil, err
	}

	s.logger.Info("user logged in", "user_id", user.ID)
	return &TokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresAt:   expires,
		User:        user,
	}, nil
}

// Authenticate validates an access token.
func (s *Service) Authenticate(token string) (*CustomClaims, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", ErrTokenInvalid)
	}
	return ParseToken(token, s.secret)
}
