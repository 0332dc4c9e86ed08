package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-engine/internal/auth"
	"github.com/spec-kit/helpdesk-engine/internal/domain"
	"github.com/spec-kit/helpdesk-engine/internal/repository"
	"github.com/spec-kit/helpdesk-engine/pkg/util"
)

// AuthResult is a login or registration result.
type AuthResult struct {
	User  *domain.User `json:"user"`
	Token string       `json:"token"`
}

// AuthService handles registration and login.
type AuthService struct {
	users  repository.UserRepository
	hasher *auth.PasswordHasher
	tokens *auth.TokenManager
	logger *zap.Logger
}

// NewAuthService creates the service.
func NewAuthService(users repository.UserRepository, hasher *auth.PasswordHasher, tokens *auth.TokenManager, logger *zap.Logger) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{users: users, hasher: hasher, tokens: tokens, logger: logger}
}

// Register creates a member account and returns a signed token.
func (s *AuthService) Register(ctx context.Context, name, email, password string) (*AuthResult, error) {
	name = strings.TrimSpace(name)
	email = strings.ToLower(strings.TrimSpace(email))
	if name == "" || email == "" {
		return nil, util.NewValidationError("name and email are required", nil)
	}
	if len(password) < 8 {
		return nil, util.NewValidationError("password must be at least 8 characters", map[string]any{"field": "password"})
	}
	if existing, err := s.users.GetByEmail(ctx, email); err == nil && existing != nil {
		return nil, util.NewValidationError("email already registered", map[string]any{"field": "email"})
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, util.NewInternalError(err)
	}
	user := &domain.User{
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         domain.UserRoleMember,
		Active:       true,
		CreatedAt:    time.Now(),
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, util.MapError(err)
	}

	token, err := s.tokens.Generate(user)
	if err != nil {
		return nil, util.NewInternalError(err)
	}
	s.logger.Info("user registered", zap.String("user_id", user.ID))
	return &AuthResult{User: user, Token: token}, nil
}

// Login verifies credentials and returns a signed token.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, util.NewUnauthorized("invalid credentials")
	}
	if !user.Active || !s.hasher.Verify(user.PasswordHash, password) {
		return nil, util.NewUnauthorized("invalid credentials")
	}
	token, err := s.tokens.Generate(user)
	if err != nil {
		return nil, util.NewInternalError(err)
	}
	return &AuthResult{User: user, Token: token}, nil
}
