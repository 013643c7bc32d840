package xray

import (
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/pyneumonia/pyneumonia/internal/platform/apierr"
	"github.com/pyneumonia/pyneumonia/internal/platform/auth"
	"github.com/pyneumonia/pyneumonia/internal/platform/blobstore"
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
	api.GET("/xrays", h.List, auth.RequireOperation(auth.ListXRays))
	api.POST("/xrays", h.Upload, auth.RequireOperation(auth.UploadXRay))
	api.GET("/xrays/:id", h.Get, auth.RequireOperation(auth.ListXRays))
	api.GET("/xrays/:id/download", h.Download, auth.RequireOperation(auth.ListXRays))
	api.DELETE("/xrays/:id", h.Delete, auth.RequireOperation(auth.DeleteXRay))
}

// RegisterContentRoute mounts the signed content endpoint. The signature is
// the credential, so g must not require a bearer token.
func (h *Handler) RegisterContentRoute(g *echo.Group) {
	g.GET("/xrays/:id/content", h.Content)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apierr.BadRequest("invalid id")
	}
	return id, nil
}

func optional(c echo.Context, name string) *string {
	v := c.FormValue(name)
	if v == "" {
		return nil
	}
	return &v
}

func (h *Handler) Upload(c echo.Context) error {
	file, err := c.FormFile("file")
	if err != nil {
		return apierr.BadRequest("file is required")
	}
	up := &Upload{
		FileName:     file.Filename,
		ContentType:  file.Header.Get(echo.HeaderContentType),
		Description:  optional(c, "description"),
		Quality:      c.FormValue("quality"),
		ViewPosition: c.FormValue("view_position"),
	}
	if raw := c.FormValue("order_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return apierr.BadRequest("order_id must be a UUID")
		}
		up.OrderID = id
	}

	src, err := file.Open()
	if err != nil {
		return apierr.BadRequest("failed to open uploaded file")
	}
	defer src.Close()

	// One byte over the limit is enough for the size check to reject it.
	limit := h.svc.cfg.MaxUploadBytes
	if limit <= 0 {
		limit = blobstore.DefaultMaxUploadSize
	}
	up.Data, err = io.ReadAll(io.LimitReader(src, limit+1))
	if err != nil {
		return apierr.BadRequest("failed to read uploaded file")
	}

	ctx := c.Request().Context()
	img, err := h.svc.Upload(ctx, auth.ActorFromContext(ctx), up)
	if err != nil {
		return apierr.From(err)
	}
	return c.JSON(http.StatusCreated, img)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	img, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return apierr.From(err)
	}
	return c.JSON(http.StatusOK, img)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), db.ExtractSearchParams(c), pg.Limit, pg.Offset)
	if err != nil {
		return apierr.From(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Download(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	link, err := h.svc.DownloadLink(c.Request().Context(), id)
	if err != nil {
		return apierr.From(err)
	}
	return c.JSON(http.StatusOK, link)
}

func (h *Handler) Content(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	rc, img, err := h.svc.OpenSigned(c.Request().Context(), id, c.QueryParam("expires"), c.QueryParam("sig"))
	if err != nil {
		if errors.Is(err, ErrBadSignature) {
			return apierr.Forbidden(err.Error())
		}
		return apierr.From(err)
	}
	defer rc.Close()
	c.Response().Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": img.FileName}))
	return c.Stream(http.StatusOK, img.ContentType, rc)
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
