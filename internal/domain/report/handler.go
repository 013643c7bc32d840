package report

import (
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

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/reports", h.List, auth.RequireOperation(auth.ListReports))
	api.GET("/reports/:id", h.Get, auth.RequireOperation(auth.ListReports))
	api.POST("/reports", h.Create, auth.RequireOperation(auth.CreateReport))
	api.PUT("/reports/:id", h.Update, auth.RequireOperation(auth.UpdateReport))
	api.POST("/reports/:id/receive", h.Receive, auth.RequireOperation(auth.ReceiveReport))
	api.DELETE("/reports/:id", h.Delete, auth.RequireOperation(auth.DeleteReport))
}

type reportRequest struct {
	DiagnosisID     string `json:"diagnosis_id"`
	Title           string `json:"title"`
	Findings        string `json:"findings"`
	Impression      string `json:"impression"`
	Recommendations string `json:"recommendations"`
	Status          string `json:"status"`
}

func (r *reportRequest) toReport() (*Report, error) {
	rep := &Report{
		Title:           r.Title,
		Findings:        r.Findings,
		Impression:      r.Impression,
		Recommendations: r.Recommendations,
		Status:          r.Status,
	}
	if r.DiagnosisID != "" {
		id, err := uuid.Parse(r.DiagnosisID)
		if err != nil {
			return nil, apierr.Validation("diagnosis_id", "must be a UUID")
		}
		rep.DiagnosisID = id
	}
	return rep, nil
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apierr.BadRequest("invalid id")
	}
	return id, nil
}

func (h *Handler) Create(c echo.Context) error {
	var req reportRequest
	if err := c.Bind(&req); err != nil {
		return apierr.BadRequest(err.Error())
	}
	r, err := req.toReport()
	if err != nil {
		return apierr.From(err)
	}
	ctx := c.Request().Context()
	if err := h.svc.Create(ctx, auth.ActorFromContext(ctx), r); err != nil {
		return apierr.From(err)
	}
	return c.JSON(http.StatusCreated, r)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	r, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return apierr.From(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), db.ExtractSearchParams(c), pg.Limit, pg.Offset)
	if err != nil {
		return apierr.From(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Update(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req reportRequest
	if err := c.Bind(&req); err != nil {
		return apierr.BadRequest(err.Error())
	}
	r, err := req.toReport()
	if err != nil {
		return apierr.From(err)
	}
	r.ID = id
	ctx := c.Request().Context()
	if err := h.svc.Update(ctx, auth.ActorFromContext(ctx), r); err != nil {
		return apierr.From(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) Receive(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	r, err := h.svc.Receive(ctx, auth.ActorFromContext(ctx), id)
	if err != nil {
		return apierr.From(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if err := h.svc.Delete(ctx, auth.ActorFromContext(ctx), id); err != nil {
		return apierr.From(err)
	}
	return c.NoContent(http.StatusNoContent)
}
