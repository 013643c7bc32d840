package identity

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/pyneumonia/pyneumonia/internal/platform/apierr"
	"github.com/pyneumonia/pyneumonia/internal/platform/audit"
	"github.com/pyneumonia/pyneumonia/internal/platform/auth"
	"github.com/pyneumonia/pyneumonia/internal/platform/db"
)

const auditTable = "users"

type Service struct {
	repo       Repository
	audit      *audit.Recorder
	jwt        auth.JWTConfig
	logger     zerolog.Logger
	bcryptCost int
	now        func() time.Time
}

func NewService(repo Repository, jwt auth.JWTConfig, rec *audit.Recorder, logger zerolog.Logger) *Service {
	return &Service{
		repo:       repo,
		audit:      rec,
		jwt:        jwt,
		logger:     logger,
		bcryptCost: bcrypt.DefaultCost,
		now:        time.Now,
	}
}

func (s *Service) Create(ctx context.Context, actor auth.Actor, in NewUser) (*User, error) {
	if err := auth.Authorize(actor, auth.ManageUsers); err != nil {
		return nil, err
	}
	u, err := s.Register(ctx, in)
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, auditTable, u.ID, audit.ActionAdd, actor.UserID, map[string]interface{}{
		"username": u.Username,
		"roles":    u.RoleNames(),
	})
	return u, nil
}

// Register creates an account without an acting user. The CLI uses it to
// bootstrap the first administrator.
func (s *Service) Register(ctx context.Context, in NewUser) (*User, error) {
	u, err := s.validate(in)
	if err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u.PasswordHash = string(hash)
	if err := s.repo.Create(ctx, u); err != nil {
		return nil, fmt.Errorf("create user %s: %w", u.Username, err)
	}
	return u, nil
}

func (s *Service) validate(in NewUser) (*User, error) {
	username := strings.TrimSpace(in.Username)
	switch {
	case username == "":
		return nil, apierr.Validation("username", "is required")
	case utf8.RuneCountInString(username) > MaxUsernameLength:
		return nil, apierr.Validation("username", fmt.Sprintf("must be at most %d characters", MaxUsernameLength))
	case !usernamePattern.MatchString(username):
		return nil, apierr.Validation("username", "may contain only letters, digits and @.+-_")
	}
	if utf8.RuneCountInString(in.Password) < MinPasswordLength {
		return nil, apierr.Validation("password", fmt.Sprintf("must be at least %d characters", MinPasswordLength))
	}
	// bcrypt ignores everything past 72 bytes.
	if len(in.Password) > 72 {
		return nil, apierr.Validation("password", "must be at most 72 bytes")
	}
	if len(in.Roles) == 0 {
		return nil, apierr.Validation("roles", "at least one role is required")
	}
	roles := auth.ParseRoles(in.Roles)
	if len(roles) != len(in.Roles) {
		return nil, apierr.Validation("roles", "unknown role in "+strings.Join(in.Roles, ", "))
	}

	u := &User{
		Username: username,
		FullName: strings.TrimSpace(in.FullName),
		Roles:    roles,
		Active:   true,
	}
	if email := strings.TrimSpace(in.Email); email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			return nil, apierr.Validation("email", "is not a valid address")
		}
		u.Email = &email
	}
	return u, nil
}

// Login checks a username and password and issues an access token.
func (s *Service) Login(ctx context.Context, username, password string) (*Token, error) {
	u, err := s.repo.GetByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	if !u.Active {
		s.logger.Info().Str("username", u.Username).Msg("login attempt for inactive account")
		return nil, ErrInvalidCredentials
	}

	now := s.now()
	signed, expires, err := auth.IssueToken(s.jwt, u.ID, u.Username, u.RoleNames(), now)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	if err := s.repo.RecordLogin(ctx, u.ID); err != nil {
		s.logger.Warn().Err(err).Str("user_id", u.ID.String()).Msg("failed to record login time")
	} else {
		u.LastLoginAt = &now
	}
	return &Token{AccessToken: signed, TokenType: "Bearer", ExpiresAt: expires, User: u}, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("user %s: %w", id, err)
	}
	return u, nil
}

func (s *Service) List(ctx context.Context, actor auth.Actor, limit, offset int) ([]*User, int, error) {
	if err := auth.Authorize(actor, auth.ManageUsers); err != nil {
		return nil, 0, err
	}
	return s.repo.List(ctx, limit, offset)
}
