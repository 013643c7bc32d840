package statistics

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/pyneumonia/pyneumonia/internal/platform/apierr"
	"github.com/pyneumonia/pyneumonia/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/statistics", auth.RequireOperation(auth.ViewStatistics))
	g.GET("/dashboard", h.Dashboard)
	g.GET("/diagnoses", h.Diagnoses)
	g.GET("/patients", h.Patients)
	g.GET("/xrays", h.XRays)
}

func (h *Handler) Dashboard(c echo.Context) error {
	ctx := c.Request().Context()
	out, err := h.svc.Dashboard(ctx, auth.ActorFromContext(ctx))
	if err != nil {
		return apierr.From(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) Diagnoses(c echo.Context) error {
	ctx := c.Request().Context()
	out, err := h.svc.Diagnoses(ctx, auth.ActorFromContext(ctx))
	if err != nil {
		return apierr.From(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) Patients(c echo.Context) error {
	ctx := c.Request().Context()
	out, err := h.svc.Patients(ctx, auth.ActorFromContext(ctx))
	if err != nil {
		return apierr.From(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) XRays(c echo.Context) error {
	ctx := c.Request().Context()
	out, err := h.svc.XRays(ctx, auth.ActorFromContext(ctx))
	if err != nil {
		return apierr.From(err)
	}
	return c.JSON(http.StatusOK, out)
}
