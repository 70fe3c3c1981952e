package user

import (
	"time"

	"user-portal/internal/auth"
)

// AppUser is the stored account record. Authorities are not persisted; they
// are derived from the role through the closed authority table on read.
type AppUser struct {
	ID              string     `json:"id"`
	FirstName       string     `json:"first_name"`
	LastName        string     `json:"last_name"`
	Username        string     `json:"username"`
	Email           string     `json:"email"`
	PasswordHash    string     `json:"-"`
	ProfileImageURL string     `json:"profile_image_url"`
	Role            auth.Role  `json:"role"`
	Authorities     []string   `json:"authorities"`
	Enabled         bool       `json:"enabled"`
	Locked          bool       `json:"locked"`
	JoinedAt        time.Time  `json:"joined_at"`
	LastLoginAt     *time.Time `json:"last_login_at"`
	PreviousLoginAt *time.Time `json:"previous_login_at"`
}

// Input carries the caller-supplied fields for the admin add/update
// operations.
type Input struct {
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Role      auth.Role `json:"role"`
	Enabled   bool      `json:"enabled"`
	NotLocked bool      `json:"not_locked"`
}
