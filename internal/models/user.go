package models

import (
	"time"
)

// User represents a user in the local auth system
type User struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	PasswordHash  string    `json:"-"` // bcrypt hash, never exposed in API
	EmailVerified bool      `json:"email_verified"`
	Role          string    `json:"role,omitempty"` // "admin" or "user"

	// Incremented on logout to invalidate outstanding refresh tokens
	RefreshTokenVersion int `json:"-"`

	CreatedAt   time.Time `json:"created_at"`
	LastLoginAt time.Time `json:"last_login_at"`
}

// RegisterRequest is the request body for local registration
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest is the request body for local login
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse carries a session token pair
type AuthResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	User         *User  `json:"user"`
	ExpiresIn    int    `json:"expires_in"` // Access token lifetime in seconds
}
