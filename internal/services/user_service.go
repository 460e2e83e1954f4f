package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"engram/internal/database"
	"engram/internal/models"

	"github.com/google/uuid"
)

// UserService handles local account operations. Every account owns exactly
// one memory graph, keyed by the user ID.
type UserService struct {
	db *database.DB
}

// NewUserService creates a new user service
func NewUserService(db *database.DB) *UserService {
	return &UserService{db: db}
}

const userColumns = `id, email, password_hash, email_verified, role, refresh_token_version, created_at, last_login_at`

// CreateUser inserts a new user account
func (s *UserService) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	user.Email = strings.TrimSpace(strings.ToLower(user.Email))

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID, user.Email, user.PasswordHash, boolToInt(user.EmailVerified),
		user.Role, user.RefreshTokenVersion,
		database.FormatTime(user.CreatedAt), database.FormatTime(user.LastLoginAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	log.Printf("✅ [USER] Created user %s (%s)", user.Email, user.ID)
	return nil
}

// GetUserByEmail looks up a user by email (case-insensitive)
func (s *UserService) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, email)

	user, err := scanUser(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &models.NotFoundError{Resource: "user"}
		}
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	return user, nil
}

// GetUserByID looks up a user by ID
func (s *UserService) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, userID)

	user, err := scanUser(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &models.NotFoundError{Resource: "user"}
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetUserCount returns the total number of accounts. The first registered
// account becomes the admin.
func (s *UserService) GetUserCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return count, nil
}

// UpdateLastLogin records a successful login
func (s *UserService) UpdateLastLogin(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET last_login_at = ? WHERE id = ?`,
		database.FormatTime(time.Now().UTC()), userID)
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return nil
}

// IncrementTokenVersion invalidates all outstanding refresh tokens for a user
func (s *UserService) IncrementTokenVersion(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET refresh_token_version = refresh_token_version + 1 WHERE id = ?`,
		userID)
	if err != nil {
		return fmt.Errorf("failed to increment token version: %w", err)
	}
	return nil
}

// DeleteUser permanently deletes an account row. Graph data removal is the
// caller's job; this only covers the account itself.
func (s *UserService) DeleteUser(ctx context.Context, userID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return &models.NotFoundError{Resource: "user"}
	}

	log.Printf("🗑️ [USER] Deleted user %s", userID)
	return nil
}

// scanUser reads one row in userColumns order
func scanUser(row scanner) (*models.User, error) {
	var u models.User
	var emailVerified int
	var createdAt, lastLoginAt string

	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &emailVerified,
		&u.Role, &u.RefreshTokenVersion, &createdAt, &lastLoginAt)
	if err != nil {
		return nil, err
	}

	u.EmailVerified = emailVerified != 0
	u.CreatedAt = database.ParseTime(createdAt)
	u.LastLoginAt = database.ParseTime(lastLoginAt)

	return &u, nil
}
