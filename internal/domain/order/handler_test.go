package order

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/pyneumonia/pyneumonia/internal/platform/apierr"
	"github.com/pyneumonia/pyneumonia/internal/platform/auth"
	"github.com/pyneumonia/pyneumonia/pkg/pagination"
)

func newTestHandler() (*Handler, *echo.Echo) {
	svc, _, _ := newTestService()
	return NewHandler(svc), echo.New()
}

func jsonContext(e *echo.Echo, method, target, body string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = req.WithContext(auth.WithActor(req.Context(), testActor))
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func createViaHandler(t *testing.T, h *Handler, e *echo.Echo) *Order {
	t.Helper()
	body := `{"patient_id":"` + activePatient.String() + `","reason":"fever","priority":"URGENT"}`
	c, rec := jsonContext(e, http.MethodPost, "/api/v1/orders", body)
	if err := h.Create(c); err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var o Order
	if err := json.Unmarshal(rec.Body.Bytes(), &o); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return &o
}

func TestHandler_CreateAndStatus(t *testing.T) {
	h, e := newTestHandler()
	o := createViaHandler(t, h, e)
	if o.Priority != PriorityUrgent || o.Status != StatusPending {
		t.Errorf("unexpected order: %+v", o)
	}

	c, rec := jsonContext(e, http.MethodPost, "/", `{"status":"COMPLETED"}`)
	c.SetParamNames("id")
	c.SetParamValues(o.ID.String())
	if err := h.UpdateStatus(c); err != nil {
		t.Fatalf("update status: %v", err)
	}
	var got Order
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status != StatusCompleted || got.CompletedDate == nil {
		t.Errorf("unexpected order: %+v", got)
	}
}

func TestHandler_UpdateStatus_Missing(t *testing.T) {
	h, e := newTestHandler()
	o := createViaHandler(t, h, e)

	c, _ := jsonContext(e, http.MethodPost, "/", `{}`)
	c.SetParamNames("id")
	c.SetParamValues(o.ID.String())
	err := h.UpdateStatus(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
	if b := apierr.BodyOf(err); b == nil || b.Error != apierr.CodeValidation {
		t.Errorf("unexpected body: %+v", b)
	}
}

func TestHandler_Create_BadPatientID(t *testing.T) {
	h, e := newTestHandler()
	c, _ := jsonContext(e, http.MethodPost, "/", `{"patient_id":"nope","reason":"fever"}`)
	if b := apierr.BodyOf(h.Create(c)); b == nil || b.Error != apierr.CodeValidation {
		t.Errorf("expected validation error, got %+v", b)
	}
}

func TestHandler_GetNotFound(t *testing.T) {
	h, e := newTestHandler()
	c, _ := jsonContext(e, http.MethodGet, "/", "")
	c.SetParamNames("id")
	c.SetParamValues("00000000-0000-0000-0000-000000000001")
	he, ok := h.Get(c).(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %v", he)
	}
}

func TestHandler_List(t *testing.T) {
	h, e := newTestHandler()
	createViaHandler(t, h, e)
	createViaHandler(t, h, e)

	c, rec := jsonContext(e, http.MethodGet, "/api/v1/orders?status=PENDING&limit=1", "")
	if err := h.List(c); err != nil {
		t.Fatalf("list: %v", err)
	}
	var resp pagination.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 2 || resp.Limit != 1 || !resp.HasMore {
		t.Errorf("unexpected page: %+v", resp)
	}
}
