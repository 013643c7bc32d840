package audit

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/pyneumonia/pyneumonia/internal/platform/apierr"
	"github.com/pyneumonia/pyneumonia/internal/platform/auth"
	"github.com/pyneumonia/pyneumonia/internal/platform/db"
	"github.com/pyneumonia/pyneumonia/pkg/pagination"
)

type Searcher interface {
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Event, int, error)
}

type Handler struct {
	store Searcher
}

func NewHandler(store Searcher) *Handler {
	return &Handler{store: store}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/audit-log", h.List, auth.RequireOperation(auth.ViewAuditLog))
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	params := db.ExtractSearchParams(c)
	items, total, err := h.store.Search(c.Request().Context(), params, pg.Limit, pg.Offset)
	if err != nil {
		return apierr.From(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}
