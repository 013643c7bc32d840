package order

import (
	"net/http"
	"time"

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
	api.GET("/orders", h.List, auth.RequireOperation(auth.ListOrders))
	api.GET("/orders/:id", h.Get, auth.RequireOperation(auth.ListOrders))
	api.POST("/orders", h.Create, auth.RequireOperation(auth.CreateOrder))
	api.PUT("/orders/:id", h.Update, auth.RequireOperation(auth.UpdateOrder))
	api.POST("/orders/:id/status", h.UpdateStatus, auth.RequireOperation(auth.UpdateOrderStatus))
	api.DELETE("/orders/:id", h.Delete, auth.RequireOperation(auth.DeleteOrder))
}

type orderRequest struct {
	PatientID     string  `json:"patient_id"`
	Reason        string  `json:"reason"`
	ClinicalNotes *string `json:"clinical_notes"`
	Priority      string  `json:"priority"`
	ScheduledDate *string `json:"scheduled_date"`
}

func (r *orderRequest) toOrder() (*Order, error) {
	o := &Order{Reason: r.Reason, ClinicalNotes: r.ClinicalNotes, Priority: r.Priority}
	if r.PatientID != "" {
		id, err := uuid.Parse(r.PatientID)
		if err != nil {
			return nil, apierr.Validation("patient_id", "must be a UUID")
		}
		o.PatientID = id
	}
	if r.ScheduledDate != nil && *r.ScheduledDate != "" {
		t, err := time.Parse(time.RFC3339, *r.ScheduledDate)
		if err != nil {
			return nil, apierr.Validation("scheduled_date", "must be an RFC 3339 timestamp")
		}
		o.ScheduledDate = &t
	}
	return o, nil
}

type statusRequest struct {
	Status string `json:"status"`
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apierr.BadRequest("invalid id")
	}
	return id, nil
}

func (h *Handler) Create(c echo.Context) error {
	var req orderRequest
	if err := c.Bind(&req); err != nil {
		return apierr.BadRequest(err.Error())
	}
	o, err := req.toOrder()
	if err != nil {
		return apierr.From(err)
	}
	ctx := c.Request().Context()
	if err := h.svc.Create(ctx, auth.ActorFromContext(ctx), o); err != nil {
		return apierr.From(err)
	}
	return c.JSON(http.StatusCreated, o)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	o, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return apierr.From(err)
	}
	return c.JSON(http.StatusOK, o)
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
	var req orderRequest
	if err := c.Bind(&req); err != nil {
		return apierr.BadRequest(err.Error())
	}
	o, err := req.toOrder()
	if err != nil {
		return apierr.From(err)
	}
	o.ID = id
	ctx := c.Request().Context()
	if err := h.svc.Update(ctx, auth.ActorFromContext(ctx), o); err != nil {
		return apierr.From(err)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return apierr.BadRequest(err.Error())
	}
	ctx := c.Request().Context()
	o, err := h.svc.UpdateStatus(ctx, auth.ActorFromContext(ctx), id, req.Status)
	if err != nil {
		return apierr.From(err)
	}
	return c.JSON(http.StatusOK, o)
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
