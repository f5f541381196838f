package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/timeseal/timeseal-go/internal/crypto"
	"github.com/timeseal/timeseal-go/internal/model"
	"github.com/timeseal/timeseal-go/internal/repository"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailRequired      = errors.New("email is required")
	ErrEmailInvalid       = errors.New("email is not valid")
	ErrPasswordRequired   = errors.New("password is required")
	ErrPasswordTooShort   = errors.New("password must be at least 8 characters")
	ErrEmailTaken         = errors.New("email already taken")
)

const passwordMinLen = 8

// AuthService handles capsule owner authentication.
type AuthService struct {
	repo      *repository.UserRepository
	jwtSecret string
	jwtExpiry time.Duration
}

// NewAuthService creates a new AuthService.
func NewAuthService(repo *repository.UserRepository, secret string, expiry time.Duration) *AuthService {
	return &AuthService{
		repo:      repo,
		jwtSecret: secret,
		jwtExpiry: expiry,
	}
}

// Register creates a new owner account and returns a session token.
func (s *AuthService) Register(ctx context.Context, req model.RegisterRequest) (model.AuthResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		return model.AuthResponse{}, ErrEmailRequired
	}
	if !looksLikeEmail(email) {
		return model.AuthResponse{}, ErrEmailInvalid
	}
	if req.Password == "" {
		return model.AuthResponse{}, ErrPasswordRequired
	}
	if len(req.Password) < passwordMinLen {
		return model.AuthResponse{}, ErrPasswordTooShort
	}

	hash, err := crypto.HashSecret(req.Password)
	if err != nil {
		return model.AuthResponse{}, err
	}

	user := &model.User{Email: email, PasswordHash: hash}
	if err := s.repo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return model.AuthResponse{}, ErrEmailTaken
		}
		return model.AuthResponse{}, err
	}

	return s.sessionFor(user)
}

// Login authenticates an owner and returns a session token.
func (s *AuthService) Login(ctx context.Context, req model.LoginRequest) (model.AuthResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))

	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return model.AuthResponse{}, ErrInvalidCredentials
		}
		return model.AuthResponse{}, err
	}

	match, err := crypto.VerifySecret(req.Password, user.PasswordHash)
	if err != nil {
		return model.AuthResponse{}, err
	}
	if !match {
		return model.AuthResponse{}, ErrInvalidCredentials
	}

	return s.sessionFor(user)
}

// GetUser retrieves an owner's public profile by ID.
func (s *AuthService) GetUser(ctx context.Context, userID int64) (model.UserResponse, error) {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return model.UserResponse{}, err
	}
	return publicUser(user), nil
}

func (s *AuthService) sessionFor(user *model.User) (model.AuthResponse, error) {
	token, err := crypto.GenerateToken(user.ID, user.Email, s.jwtSecret, s.jwtExpiry)
	if err != nil {
		return model.AuthResponse{}, err
	}
	return model.AuthResponse{Token: token, User: publicUser(user)}, nil
}

func publicUser(user *model.User) model.UserResponse {
	return model.UserResponse{
		ID:        user.ID,
		Email:     user.Email,
		CreatedAt: user.CreatedAt,
	}
}

// looksLikeEmail is a cheap shape check; deliverability is not our problem.
func looksLikeEmail(email string) bool {
	at := strings.Index(email, "@")
	if at < 1 || at == len(email)-1 {
		return false
	}
	return strings.Contains(email[at+1:], ".")
}
