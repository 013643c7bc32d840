package report

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pyneumonia/pyneumonia/internal/domain/diagnosis"
	"github.com/pyneumonia/pyneumonia/internal/domain/order"
	"github.com/pyneumonia/pyneumonia/internal/platform/apierr"
	"github.com/pyneumonia/pyneumonia/internal/platform/audit"
	"github.com/pyneumonia/pyneumonia/internal/platform/auth"
	"github.com/pyneumonia/pyneumonia/internal/platform/db"
)

type mockRepo struct {
	reports map[uuid.UUID]*Report
}

func newMockRepo() *mockRepo {
	return &mockRepo{reports: make(map[uuid.UUID]*Report)}
}

func (m *mockRepo) Create(_ context.Context, r *Report) error {
	r.ID = uuid.New()
	r.CreatedAt = time.Now()
	r.UpdatedAt = r.CreatedAt
	cp := *r
	m.reports[r.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Report, error) {
	r, ok := m.reports[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *mockRepo) Update(_ context.Context, r *Report) error {
	if _, ok := m.reports[r.ID]; !ok {
		return db.ErrNotFound
	}
	cp := *r
	m.reports[r.ID] = &cp
	return nil
}

func (m *mockRepo) SaveReceipt(_ context.Context, r *Report) error {
	stored, ok := m.reports[r.ID]
	if !ok || stored.Status != StatusDraft || stored.ReceivedBy != nil {
		return ErrNotReceivable
	}
	stored.Status, stored.ReceivedBy, stored.ReceivedAt = r.Status, r.ReceivedBy, r.ReceivedAt
	return nil
}

func (m *mockRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.reports[id]; !ok {
		return db.ErrNotFound
	}
	delete(m.reports, id)
	return nil
}

func (m *mockRepo) Search(_ context.Context, params map[string]string, limit, offset int) ([]*Report, int, error) {
	var out []*Report
	for _, r := range m.reports {
		if s := params["status"]; s != "" && !strings.EqualFold(r.Status, s) {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	return out, len(out), nil
}

type mockDiagnoses map[uuid.UUID]*diagnosis.Diagnosis

func (m mockDiagnoses) GetByID(_ context.Context, id uuid.UUID) (*diagnosis.Diagnosis, error) {
	d, ok := m[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

type mockOrders map[uuid.UUID]*order.Order

func (m mockOrders) GetByID(_ context.Context, id uuid.UUID) (*order.Order, error) {
	o, ok := m[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m mockOrders) SaveStatus(_ context.Context, o *order.Order) error {
	if _, ok := m[o.ID]; !ok {
		return db.ErrNotFound
	}
	cp := *o
	m[o.ID] = &cp
	return nil
}

// failingTx runs fn and then reports a commit failure, the way a rolled
// back transaction surfaces.
type failingTx struct{}

func (failingTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := fn(ctx); err != nil {
		return err
	}
	return errors.New("commit: connection reset")
}

var (
	testPhysician    = auth.Actor{UserID: uuid.New(), Username: "dr.garcia", Roles: []auth.Role{auth.RolePhysician}}
	testRadiologist  = auth.Actor{UserID: uuid.New(), Username: "rx.lopez", Roles: []auth.Role{auth.RoleRadiologist}}
	testReceptionist = auth.Actor{UserID: uuid.New(), Username: "front.desk", Roles: []auth.Role{auth.RoleReceptionist}}
	fixedNow         = time.Date(2026, 6, 15, 9, 30, 0, 0, time.UTC)
)

type fixture struct {
	svc       *Service
	repo      *mockRepo
	diagnoses mockDiagnoses
	orders    mockOrders
	sink      *audit.MemorySink
}

func newFixture() *fixture {
	f := &fixture{
		repo:      newMockRepo(),
		diagnoses: mockDiagnoses{},
		orders:    mockOrders{},
		sink:      &audit.MemorySink{},
	}
	f.svc = NewService(f.repo, f.diagnoses, f.orders, db.NoTx{}, audit.NewRecorder(f.sink, zerolog.Nop()))
	f.svc.now = func() time.Time { return fixedNow }
	return f
}

// addDiagnosis registers a diagnosis with the given status whose order has
// orderStatus.
func (f *fixture) addDiagnosis(status, orderStatus string) *diagnosis.Diagnosis {
	o := &order.Order{ID: uuid.New(), PatientID: uuid.New(), Status: orderStatus}
	d := &diagnosis.Diagnosis{ID: uuid.New(), XRayID: uuid.New(), OrderID: o.ID, PatientID: o.PatientID, Status: status}
	f.orders[o.ID] = o
	f.diagnoses[d.ID] = d
	return d
}

func draft(diagnosisID uuid.UUID) *Report {
	return &Report{
		DiagnosisID:     diagnosisID,
		Title:           "  Chest X-ray report ",
		Findings:        "Right lower lobe consolidation.",
		Impression:      "Community acquired pneumonia.",
		Recommendations: "Antibiotics and follow-up in two weeks.",
	}
}

func TestCreate_CompletesOrder(t *testing.T) {
	f := newFixture()
	d := f.addDiagnosis(diagnosis.StatusCompleted, order.StatusInProgress)

	r := draft(d.ID)
	if err := f.svc.Create(context.Background(), testPhysician, r); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.ID == uuid.Nil || r.Status != StatusDraft || r.Title != "Chest X-ray report" {
		t.Errorf("unexpected report: %+v", r)
	}
	if r.CreatedBy == nil || *r.CreatedBy != testPhysician.UserID {
		t.Error("expected created_by to be the actor")
	}
	if r.OrderID != d.OrderID || r.PatientID != d.PatientID {
		t.Error("expected order and patient from the diagnosis")
	}

	o := f.orders[d.OrderID]
	if o.Status != order.StatusCompleted {
		t.Errorf("expected order COMPLETED, got %s", o.Status)
	}
	if o.CompletedDate == nil || !o.CompletedDate.Equal(fixedNow) {
		t.Errorf("expected completion timestamp, got %v", o.CompletedDate)
	}

	events := f.sink.Events()
	if len(events) != 1 || events[0].Action != audit.ActionAdd || events[0].Details["order_completed"] != true {
		t.Errorf("unexpected audit events: %+v", events)
	}
}

func TestCreate_KeepsEarlierCompletionDate(t *testing.T) {
	f := newFixture()
	d := f.addDiagnosis(diagnosis.StatusCompleted, order.StatusCompleted)
	earlier := fixedNow.Add(-48 * time.Hour)
	f.orders[d.OrderID].CompletedDate = &earlier

	if err := f.svc.Create(context.Background(), testPhysician, draft(d.ID)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := f.orders[d.OrderID].CompletedDate; !got.Equal(earlier) {
		t.Errorf("completion date changed to %v", got)
	}
}

func TestCreate_Ineligible(t *testing.T) {
	tests := []struct {
		name        string
		status      string
		orderStatus string
	}{
		{"analyzing", diagnosis.StatusAnalyzing, order.StatusInProgress},
		{"error", diagnosis.StatusError, order.StatusInProgress},
		{"cancelled order", diagnosis.StatusCompleted, order.StatusCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			d := f.addDiagnosis(tt.status, tt.orderStatus)

			err := f.svc.Create(context.Background(), testPhysician, draft(d.ID))
			var ve *apierr.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if len(f.repo.reports) != 0 {
				t.Error("no report should be stored")
			}
			if f.orders[d.OrderID].Status != tt.orderStatus {
				t.Error("order status must not change")
			}
			if len(f.sink.Events()) != 0 {
				t.Error("nothing should be audited")
			}
		})
	}
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture()
	d := f.addDiagnosis(diagnosis.StatusCompleted, order.StatusInProgress)

	tests := []struct {
		name   string
		mutate func(r *Report)
		field  string
	}{
		{"missing title", func(r *Report) { r.Title = " " }, "title"},
		{"long title", func(r *Report) { r.Title = strings.Repeat("x", MaxTitleLength+1) }, "title"},
		{"missing findings", func(r *Report) { r.Findings = "" }, "findings"},
		{"missing impression", func(r *Report) { r.Impression = "\n" }, "impression"},
		{"missing recommendations", func(r *Report) { r.Recommendations = "" }, "recommendations"},
		{"script in findings", func(r *Report) { r.Findings = "<script>alert(1)</script>" }, "findings"},
		{"unknown status", func(r *Report) { r.Status = "SIGNED" }, "status"},
		{"unknown diagnosis", func(r *Report) { r.DiagnosisID = uuid.New() }, "diagnosis_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := draft(d.ID)
			tt.mutate(r)
			err := f.svc.Create(context.Background(), testPhysician, r)
			var ve *apierr.ValidationError
			if !errors.As(err, &ve) || ve.Field != tt.field {
				t.Errorf("expected validation error on %s, got %v", tt.field, err)
			}
		})
	}
}

func TestCreate_MissingDiagnosis(t *testing.T) {
	f := newFixture()
	err := f.svc.Create(context.Background(), testPhysician, draft(uuid.Nil))
	var missing *apierr.MissingReferenceError
	if !errors.As(err, &missing) || missing.Field != "diagnosis_id" {
		t.Fatalf("expected missing diagnosis_id, got %v", err)
	}
}

func TestCreate_Forbidden(t *testing.T) {
	f := newFixture()
	d := f.addDiagnosis(diagnosis.StatusCompleted, order.StatusInProgress)
	for _, actor := range []auth.Actor{testRadiologist, testReceptionist} {
		err := f.svc.Create(context.Background(), actor, draft(d.ID))
		var forbidden *auth.ForbiddenError
		if !errors.As(err, &forbidden) {
			t.Errorf("%s: expected forbidden, got %v", actor.Username, err)
		}
	}
}

func TestCreate_TransactionFailure(t *testing.T) {
	f := newFixture()
	f.svc.tx = failingTx{}
	d := f.addDiagnosis(diagnosis.StatusCompleted, order.StatusInProgress)

	if err := f.svc.Create(context.Background(), testPhysician, draft(d.ID)); err == nil {
		t.Fatal("expected commit error")
	}
	if len(f.sink.Events()) != 0 {
		t.Error("a failed transaction must not be audited")
	}
}

func (f *fixture) created(t *testing.T) *Report {
	t.Helper()
	d := f.addDiagnosis(diagnosis.StatusCompleted, order.StatusInProgress)
	r := draft(d.ID)
	if err := f.svc.Create(context.Background(), testPhysician, r); err != nil {
		t.Fatalf("create: %v", err)
	}
	return r
}

func TestReceive(t *testing.T) {
	f := newFixture()
	r := f.created(t)

	got, err := f.svc.Receive(context.Background(), testPhysician, r.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusRevised {
		t.Errorf("expected REVISED, got %s", got.Status)
	}
	if got.ReceivedBy == nil || *got.ReceivedBy != testPhysician.UserID {
		t.Error("expected received_by to be the actor")
	}
	if got.ReceivedAt == nil || !got.ReceivedAt.Equal(fixedNow) {
		t.Errorf("unexpected received_at %v", got.ReceivedAt)
	}
	if stored := f.repo.reports[r.ID]; stored.Status != StatusRevised || stored.ReceivedBy == nil {
		t.Errorf("receipt not stored: %+v", stored)
	}

	_, err = f.svc.Receive(context.Background(), testPhysician, r.ID)
	var seq *apierr.SequenceError
	if !errors.As(err, &seq) {
		t.Errorf("second receipt: expected sequence error, got %v", err)
	}
}

func TestReceive_Rejections(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture, r *Report)
	}{
		{"final report", func(f *fixture, r *Report) { f.repo.reports[r.ID].Status = StatusFinal }},
		{"already received", func(f *fixture, r *Report) {
			f.repo.reports[r.ID].ReceivedBy = &testPhysician.UserID
		}},
		{"diagnosis no longer completed", func(f *fixture, r *Report) {
			f.diagnoses[r.DiagnosisID].Status = diagnosis.StatusError
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			r := f.created(t)
			tt.setup(f, r)

			_, err := f.svc.Receive(context.Background(), testPhysician, r.ID)
			var seq *apierr.SequenceError
			if !errors.As(err, &seq) {
				t.Fatalf("expected sequence error, got %v", err)
			}
		})
	}
}

func TestReceive_Forbidden(t *testing.T) {
	f := newFixture()
	r := f.created(t)
	_, err := f.svc.Receive(context.Background(), testReceptionist, r.ID)
	var forbidden *auth.ForbiddenError
	if !errors.As(err, &forbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestUpdate_KeepsStatusWhenOmitted(t *testing.T) {
	f := newFixture()
	r := f.created(t)
	if _, err := f.svc.Receive(context.Background(), testPhysician, r.ID); err != nil {
		t.Fatal(err)
	}

	upd := &Report{ID: r.ID, Title: "Amended", Findings: "f", Impression: "i", Recommendations: "r"}
	if err := f.svc.Update(context.Background(), testPhysician, upd); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if upd.Status != StatusRevised || upd.Title != "Amended" {
		t.Errorf("unexpected report: %+v", upd)
	}
	if upd.ReceivedBy == nil || upd.DiagnosisID != r.DiagnosisID {
		t.Error("update must keep the receipt and the diagnosis")
	}

	final := &Report{ID: r.ID, Title: "Amended", Findings: "f", Impression: "i", Recommendations: "r", Status: "final"}
	if err := f.svc.Update(context.Background(), testPhysician, final); err != nil {
		t.Fatal(err)
	}
	if final.Status != StatusFinal {
		t.Errorf("expected FINAL, got %s", final.Status)
	}
}

func TestUpdate_NotFound(t *testing.T) {
	f := newFixture()
	r := draft(uuid.New())
	r.ID = uuid.New()
	err := f.svc.Update(context.Background(), testPhysician, r)
	if !errors.Is(err, db.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	f := newFixture()
	r := f.created(t)
	if err := f.svc.Delete(context.Background(), testPhysician, r.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := f.svc.Get(context.Background(), r.ID); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("expected not found after delete, got %v", err)
	}
	if err := f.svc.Delete(context.Background(), testPhysician, r.ID); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("expected not found on second delete, got %v", err)
	}
}
