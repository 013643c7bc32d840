package diagnosis

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
	api.GET("/diagnoses", h.List, auth.RequireOperation(auth.ListDiagnoses))
	api.POST("/diagnoses/analyze", h.Analyze, auth.RequireOperation(auth.SubmitDiagnosis))
	api.GET("/diagnoses/pending-reports", h.PendingReports, auth.RequireOperation(auth.ListDiagnoses))
	api.GET("/diagnoses/:id", h.Get, auth.RequireOperation(auth.ListDiagnoses))
	api.DELETE("/diagnoses/:id", h.Delete, auth.RequireOperation(auth.DeleteDiagnosis))
	api.POST("/diagnoses/:id/mark-reviewed", h.MarkReviewed, auth.RequireOperation(auth.MarkReviewed))
	api.POST("/diagnoses/:id/radiologist-review", h.RadiologistReview, auth.RequireOperation(auth.ReviewAsRadiologist))
	api.POST("/diagnoses/:id/physician-approval", h.PhysicianApproval, auth.RequireOperation(auth.ApproveAsPhysician))
}

type analyzeRequest struct {
	XRayID string `json:"xray_id"`
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apierr.BadRequest("invalid id")
	}
	return id, nil
}

func (h *Handler) Analyze(c echo.Context) error {
	var req analyzeRequest
	if err := c.Bind(&req); err != nil {
		return apierr.BadRequest(err.Error())
	}
	var xrayID uuid.UUID
	if req.XRayID != "" {
		id, err := uuid.Parse(req.XRayID)
		if err != nil {
			return apierr.BadRequest("xray_id must be a UUID")
		}
		xrayID = id
	}

	ctx := c.Request().Context()
	d, err := h.svc.Submit(ctx, auth.ActorFromContext(ctx), xrayID)
	if err != nil {
		return apierr.From(err)
	}
	if h.svc.Async() {
		return c.JSON(http.StatusAccepted, d)
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	d, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return apierr.From(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), db.ExtractSearchParams(c), pg.Limit, pg.Offset)
	if err != nil {
		return apierr.From(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) PendingReports(c echo.Context) error {
	pg := pagination.FromContext(c)
	ctx := c.Request().Context()
	items, total, err := h.svc.PendingReports(ctx, auth.ActorFromContext(ctx), pg.Limit, pg.Offset)
	if err != nil {
		return apierr.From(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) MarkReviewed(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	d, err := h.svc.MarkReviewed(ctx, auth.ActorFromContext(ctx), id)
	if err != nil {
		return apierr.From(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) RadiologistReview(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req RadiologistReview
	if err := c.Bind(&req); err != nil {
		return apierr.BadRequest(err.Error())
	}
	ctx := c.Request().Context()
	d, err := h.svc.ReviewAsRadiologist(ctx, auth.ActorFromContext(ctx), id, req)
	if err != nil {
		return apierr.From(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) PhysicianApproval(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req PhysicianApproval
	if err := c.Bind(&req); err != nil {
		return apierr.BadRequest(err.Error())
	}
	ctx := c.Request().Context()
	d, err := h.svc.ApproveAsPhysician(ctx, auth.ActorFromContext(ctx), id, req)
	if err != nil {
		return apierr.From(err)
	}
	return c.JSON(http.StatusOK, d)
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
