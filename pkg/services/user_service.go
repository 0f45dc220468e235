// Package services implements the domain service layer over the database client.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/atelier-ai/atelier/pkg/auth"
	"github.com/atelier-ai/atelier/pkg/database"
	"github.com/atelier-ai/atelier/pkg/models"
)

// UserService manages account registration and credential checks.
type UserService struct {
	db *database.Client
}

// NewUserService creates a UserService.
func NewUserService(db *database.Client) *UserService {
	return &UserService{db: db}
}

// Register creates a new account. Returns ErrAlreadyExists on a duplicate username.
func (s *UserService) Register(ctx context.Context, username, password string) (*models.User, error) {
	if username == "" {
		return nil, NewValidationError("username", "must not be empty")
	}
	if password == "" {
		return nil, NewValidationError("password", "must not be empty")
	}

	var exists bool
	err := s.db.DB().GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM users WHERE username = $1)`, username)
	if err != nil {
		return nil, fmt.Errorf("failed to check username: %w", err)
	}
	if exists {
		return nil, fmt.Errorf("username %q: %w", username, ErrAlreadyExists)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		UserID:       uuid.NewString(),
		Username:     username,
		PasswordHash: hash,
	}
	_, err = s.db.DB().ExecContext(ctx,
		`INSERT INTO users (user_id, username, password_hash, is_admin) VALUES ($1, $2, $3, $4)`,
		user.UserID, user.Username, user.PasswordHash, user.IsAdmin)
	if err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	return user, nil
}

// Authenticate verifies credentials and returns the user.
func (s *UserService) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	var user models.User
	err := s.db.DB().GetContext(ctx, &user,
		`SELECT * FROM users WHERE username = $1`, username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	if !auth.CheckPassword(user.PasswordHash, password) {
		return nil, auth.ErrInvalidCredentials
	}
	return &user, nil
}

// Get returns a user by id.
func (s *UserService) Get(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	err := s.db.DB().GetContext(ctx, &user,
		`SELECT * FROM users WHERE user_id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &user, nil
}
