package identity

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/pyneumonia/pyneumonia/internal/platform/apierr"
	"github.com/pyneumonia/pyneumonia/internal/platform/auth"
	"github.com/pyneumonia/pyneumonia/internal/platform/db"
	"github.com/pyneumonia/pyneumonia/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterPublicRoutes mounts the routes that run before authentication.
func (h *Handler) RegisterPublicRoutes(g *echo.Group) {
	g.POST("/auth/login", h.Login)
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/auth/me", h.Me)

	users := api.Group("/users", auth.RequireOperation(auth.ManageUsers))
	users.GET("", h.List)
	users.POST("", h.Create)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return apierr.BadRequest("invalid request body")
	}
	if req.Username == "" || req.Password == "" {
		return apierr.From(apierr.Validation("username", "username and password are required"))
	}
	tok, err := h.svc.Login(c.Request().Context(), req.Username, req.Password)
	if err != nil {
		return apierr.From(err)
	}
	return c.JSON(http.StatusOK, tok)
}

// Me returns the stored account of the caller, or the bare actor when the
// caller has no account (development auth).
func (h *Handler) Me(c echo.Context) error {
	ctx := c.Request().Context()
	actor := auth.ActorFromContext(ctx)
	if actor.UserID == uuid.Nil {
		return apierr.Unauthorized("not authenticated")
	}
	u, err := h.svc.Get(ctx, actor.UserID)
	if errors.Is(err, db.ErrNotFound) {
		return auth.MeHandler(c)
	}
	if err != nil {
		return apierr.From(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"user":         u,
		"active_roles": actor.Roles,
	})
}

func (h *Handler) Create(c echo.Context) error {
	var in NewUser
	if err := c.Bind(&in); err != nil {
		return apierr.BadRequest("invalid request body")
	}
	ctx := c.Request().Context()
	u, err := h.svc.Create(ctx, auth.ActorFromContext(ctx), in)
	if err != nil {
		return apierr.From(err)
	}
	return c.JSON(http.StatusCreated, u)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	ctx := c.Request().Context()
	users, total, err := h.svc.List(ctx, auth.ActorFromContext(ctx), pg.Limit, pg.Offset)
	if err != nil {
		return apierr.From(err)
	}
	if users == nil {
		users = []*User{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(users, total, pg.Limit, pg.Offset))
}
