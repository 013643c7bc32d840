package db

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

var testFilters = map[string]Filter{
	"status":  {Type: FilterUpper, Column: "status"},
	"name":    {Type: FilterText, Column: "last_name"},
	"active":  {Type: FilterBool, Column: "is_active"},
	"patient": {Type: FilterUUID, Column: "patient_id"},
	"dni":     {Type: FilterExact, Column: "dni"},
}

func TestSearchQuery_ApplyParams(t *testing.T) {
	q := NewSearchQuery("patients", "id")
	q.ApplyParams(map[string]string{
		"status":  "completed",
		"name":    "per",
		"active":  "true",
		"ignored": "x",
	}, testFilters)
	q.OrderBy("created_at DESC")

	count := q.CountSQL()
	for _, want := range []string{"is_active = $1", "last_name ILIKE $2", "status = $3"} {
		if !strings.Contains(count, want) {
			t.Errorf("expected %q in %s", want, count)
		}
	}
	args := q.CountArgs()
	if len(args) != 3 || args[0] != true || args[1] != "%per%" || args[2] != "COMPLETED" {
		t.Errorf("unexpected args: %v", args)
	}

	data := q.DataSQL(20, 40)
	if !strings.HasSuffix(data, "ORDER BY created_at DESC LIMIT $4 OFFSET $5") {
		t.Errorf("unexpected data SQL: %s", data)
	}
	dargs := q.DataArgs(20, 40)
	if len(dargs) != 5 || dargs[3] != 20 || dargs[4] != 40 {
		t.Errorf("unexpected data args: %v", dargs)
	}
}

func TestSearchQuery_InvalidValues(t *testing.T) {
	q := NewSearchQuery("patients", "id")
	q.ApplyParams(map[string]string{"active": "maybe", "patient": "not-a-uuid"}, testFilters)

	sql := q.CountSQL()
	if strings.Contains(sql, "is_active") {
		t.Errorf("invalid bool should be ignored: %s", sql)
	}
	if !strings.Contains(sql, "AND FALSE") {
		t.Errorf("invalid uuid should match nothing: %s", sql)
	}
	if len(q.CountArgs()) != 0 {
		t.Errorf("expected no args, got %v", q.CountArgs())
	}
}

func TestSearchQuery_UUIDAndRawClause(t *testing.T) {
	id := uuid.New()
	q := NewSearchQuery("diagnoses d JOIN xray_images x ON x.id = d.xray_id", "d.id")
	q.Add(fmt.Sprintf("x.uploaded_by = $%d", q.Idx()), uuid.New())
	q.ApplyParams(map[string]string{"patient": id.String()}, testFilters)

	if !strings.Contains(q.CountSQL(), "patient_id = $2") {
		t.Errorf("unexpected SQL: %s", q.CountSQL())
	}
	if q.CountArgs()[1] != id {
		t.Errorf("expected parsed uuid arg, got %v", q.CountArgs()[1])
	}
}

func TestExtractSearchParams(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?status=pending&limit=10&offset=5&name=ana", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	params := ExtractSearchParams(c)
	if len(params) != 2 || params["status"] != "pending" || params["name"] != "ana" {
		t.Errorf("unexpected params: %v", params)
	}
}
