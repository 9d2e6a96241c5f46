package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Shivanand-hulikatti/club-roster/internal/model"
	"github.com/Shivanand-hulikatti/club-roster/internal/repository"
	"github.com/google/uuid"
)

// ErrEmailTaken is returned when another account already uses the email.
var ErrEmailTaken = fmt.Errorf("email %w", repository.ErrAlreadyExists)

// UserService manages member accounts.
type UserService struct {
	users UserStore
	log   *slog.Logger
}

// NewUserService constructs a UserService.
func NewUserService(users UserStore, log *slog.Logger) *UserService {
	return &UserService{users: users, log: log}
}

// CreateUser validates and stores a new account.
func (s *UserService) CreateUser(ctx context.Context, req model.CreateUserRequest) (*model.User, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}
	email := strings.TrimSpace(strings.ToLower(req.Email))
	if !isValidEmail(email) {
		return nil, fmt.Errorf("%w: email is not a valid email address", ErrValidation)
	}

	u := model.User{
		ID:        uuid.New().String(),
		Name:      name,
		Email:     email,
		IsAdmin:   req.IsAdmin,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.log.Info("user created",
		slog.String("user_id", u.ID),
		slog.Bool("admin", u.IsAdmin),
	)
	return &u, nil
}

// GetUser returns one account.
func (s *UserService) GetUser(ctx context.Context, id string) (*model.User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, notFound(err, ErrUserNotFound)
	}
	return u, nil
}

// ListUsers returns every account.
func (s *UserService) ListUsers(ctx context.Context) ([]model.User, error) {
	return s.users.List(ctx)
}

// isValidEmail does a basic structural check.
func isValidEmail(email string) bool {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return false
	}
	return len(parts[0]) > 0 && strings.Contains(parts[1], ".")
}
