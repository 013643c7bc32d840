package patient

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
	api.GET("/patients", h.List, auth.RequireOperation(auth.ListPatients))
	api.GET("/patients/:id", h.Get, auth.RequireOperation(auth.ViewPatient))
	api.POST("/patients", h.Create, auth.RequireOperation(auth.CreatePatient))
	api.PUT("/patients/:id", h.Update, auth.RequireOperation(auth.UpdatePatient))
	api.DELETE("/patients/:id", h.Delete, auth.RequireOperation(auth.DeletePatient))
}

// patientRequest accepts the date of birth as YYYY-MM-DD.
type patientRequest struct {
	DNI            string  `json:"dni"`
	FirstName      string  `json:"first_name"`
	LastName       string  `json:"last_name"`
	DateOfBirth    string  `json:"date_of_birth"`
	Gender         string  `json:"gender"`
	Phone          *string `json:"phone"`
	Email          *string `json:"email"`
	Address        *string `json:"address"`
	BloodType      *string `json:"blood_type"`
	Allergies      *string `json:"allergies"`
	MedicalHistory *string `json:"medical_history"`
	IsActive       *bool   `json:"is_active"`
}

func (r *patientRequest) toPatient() (*Patient, error) {
	p := &Patient{
		DNI:            r.DNI,
		FirstName:      r.FirstName,
		LastName:       r.LastName,
		Gender:         r.Gender,
		Phone:          r.Phone,
		Email:          r.Email,
		Address:        r.Address,
		BloodType:      r.BloodType,
		Allergies:      r.Allergies,
		MedicalHistory: r.MedicalHistory,
	}
	if r.DateOfBirth != "" {
		dob, err := time.Parse("2006-01-02", r.DateOfBirth)
		if err != nil {
			return nil, apierr.Validation("date_of_birth", "must be formatted YYYY-MM-DD")
		}
		p.DateOfBirth = dob
	}
	return p, nil
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apierr.BadRequest("invalid id")
	}
	return id, nil
}

func (h *Handler) Create(c echo.Context) error {
	var req patientRequest
	if err := c.Bind(&req); err != nil {
		return apierr.BadRequest(err.Error())
	}
	p, err := req.toPatient()
	if err != nil {
		return apierr.From(err)
	}
	ctx := c.Request().Context()
	if err := h.svc.Create(ctx, auth.ActorFromContext(ctx), p); err != nil {
		return apierr.From(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return apierr.From(err)
	}
	return c.JSON(http.StatusOK, p)
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
	var req patientRequest
	if err := c.Bind(&req); err != nil {
		return apierr.BadRequest(err.Error())
	}
	p, err := req.toPatient()
	if err != nil {
		return apierr.From(err)
	}
	p.ID = id
	ctx := c.Request().Context()
	if err := h.svc.Update(ctx, auth.ActorFromContext(ctx), p, req.IsActive); err != nil {
		return apierr.From(err)
	}
	return c.JSON(http.StatusOK, p)
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
