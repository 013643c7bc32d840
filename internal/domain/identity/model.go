// Package identity holds user accounts and password login.
package identity

import (
	"net/http"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/pyneumonia/pyneumonia/internal/platform/apierr"
	"github.com/pyneumonia/pyneumonia/internal/platform/auth"
)

const (
	MinPasswordLength = 8
	MaxUsernameLength = 150
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9@.+_-]+$`)

// User maps to the users table.
type User struct {
	ID           uuid.UUID   `db:"id" json:"id"`
	Username     string      `db:"username" json:"username"`
	PasswordHash string      `db:"password_hash" json:"-"`
	FullName     string      `db:"full_name" json:"full_name"`
	Email        *string     `db:"email" json:"email,omitempty"`
	Roles        []auth.Role `db:"roles" json:"roles"`
	Active       bool        `db:"active" json:"active"`
	LastLoginAt  *time.Time  `db:"last_login_at" json:"last_login_at,omitempty"`
	CreatedAt    time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time   `db:"updated_at" json:"updated_at"`
}

func (u *User) Actor() auth.Actor {
	return auth.Actor{UserID: u.ID, Username: u.Username, Roles: u.Roles}
}

func (u *User) RoleNames() []string {
	out := make([]string, len(u.Roles))
	for i, r := range u.Roles {
		out[i] = string(r)
	}
	return out
}

// NewUser is the input for account creation.
type NewUser struct {
	Username string   `json:"username"`
	Password string   `json:"password"`
	FullName string   `json:"full_name"`
	Email    string   `json:"email"`
	Roles    []string `json:"roles"`
}

// Token is the login response.
type Token struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	User        *User     `json:"user"`
}

type credentialsError struct{}

func (credentialsError) Error() string { return "invalid username or password" }
func (credentialsError) Status() int   { return http.StatusUnauthorized }
func (credentialsError) Code() string  { return apierr.CodeUnauthorized }

// ErrInvalidCredentials covers unknown users, wrong passwords and inactive
// accounts alike.
var ErrInvalidCredentials error = credentialsError{}
