package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/pyneumonia/pyneumonia/internal/platform/apierr"
)

type contextKey string

const (
	UserIDKey    contextKey = "user_id"
	UserRolesKey contextKey = "user_roles"
	ActorKey     contextKey = "actor"
)

// ActiveRoleHeader narrows the request to one of the caller's roles.
const ActiveRoleHeader = "X-Active-Role"

// DevUserID is the actor id used when development auth lets a request
// through without a token.
var DevUserID = uuid.MustParse("00000000-0000-0000-0000-00000000d3e0")

type Claims struct {
	jwt.RegisteredClaims
	Username string   `json:"username"`
	Roles    []string `json:"roles"`
}

type JWTConfig struct {
	Issuer     string
	Audience   string
	SigningKey []byte
	TTL        time.Duration
}

func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return apierr.Unauthorized("missing authorization header")
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
				return apierr.Unauthorized("invalid authorization format")
			}

			claims, err := ParseToken(cfg, parts[1])
			if err != nil {
				return apierr.Unauthorized("invalid token")
			}
			userID, err := uuid.Parse(claims.Subject)
			if err != nil {
				return apierr.Unauthorized("invalid token subject")
			}

			actor := Actor{UserID: userID, Username: claims.Username, Roles: ParseRoles(claims.Roles)}
			return withActor(c, next, actor)
		}
	}
}

// DevAuthMiddleware lets requests without an Authorization header through as
// an administrator. Requests that do carry a token are still validated when
// a signing key is configured.
func DevAuthMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	jwtMW := JWTMiddleware(cfg)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		withJWT := jwtMW(next)
		return func(c echo.Context) error {
			if c.Request().Header.Get("Authorization") != "" && len(cfg.SigningKey) > 0 {
				return withJWT(c)
			}
			actor := Actor{UserID: DevUserID, Username: "dev-user", Roles: []Role{RoleAdmin}}
			return withActor(c, next, actor)
		}
	}
}

// withActor applies the active-role header and stores the actor on the
// request context.
func withActor(c echo.Context, next echo.HandlerFunc, actor Actor) error {
	if active := c.Request().Header.Get(ActiveRoleHeader); active != "" {
		role := Role(strings.ToLower(strings.TrimSpace(active)))
		if !actor.HasRole(role) {
			return apierr.Forbidden("active role " + active + " is not assigned to this user")
		}
		actor.Roles = []Role{role}
	}

	roles := make([]string, len(actor.Roles))
	for i, r := range actor.Roles {
		roles[i] = string(r)
	}

	ctx := c.Request().Context()
	ctx = context.WithValue(ctx, UserIDKey, actor.UserID.String())
	ctx = context.WithValue(ctx, UserRolesKey, roles)
	ctx = context.WithValue(ctx, ActorKey, actor)
	c.SetRequest(c.Request().WithContext(ctx))
	c.Set("user_id", actor.UserID.String())

	return next(c)
}

// WithActor returns a copy of ctx carrying actor. Used by the worker and tests.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, ActorKey, actor)
}

// ActorFromContext returns the request's actor, or a zero Actor with no roles.
func ActorFromContext(ctx context.Context) Actor {
	actor, _ := ctx.Value(ActorKey).(Actor)
	return actor
}

func UserIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(UserIDKey).(string)
	return uid
}

func RolesFromContext(ctx context.Context) []string {
	roles, _ := ctx.Value(UserRolesKey).([]string)
	return roles
}

func ParseToken(cfg JWTConfig, tokenStr string) (*Claims, error) {
	claims := &Claims{}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return cfg.SigningKey, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

// IssueToken signs an HS256 token for a user and returns it with its expiry.
func IssueToken(cfg JWTConfig, userID uuid.UUID, username string, roles []string, now time.Time) (string, time.Time, error) {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 8 * time.Hour
	}
	expires := now.Add(ttl)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			ID:        uuid.NewString(),
		},
		Username: username,
		Roles:    roles,
	}
	if cfg.Issuer != "" {
		claims.Issuer = cfg.Issuer
	}
	if cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{cfg.Audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(cfg.SigningKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

// MeHandler returns the authenticated actor.
func MeHandler(c echo.Context) error {
	actor := ActorFromContext(c.Request().Context())
	if actor.UserID == uuid.Nil {
		return apierr.Unauthorized("not authenticated")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"id":       actor.UserID,
		"username": actor.Username,
		"roles":    actor.Roles,
	})
}
