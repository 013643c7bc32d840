package diagnosis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pyneumonia/pyneumonia/internal/domain/order"
	"github.com/pyneumonia/pyneumonia/internal/platform/apierr"
	"github.com/pyneumonia/pyneumonia/internal/platform/audit"
	"github.com/pyneumonia/pyneumonia/internal/platform/auth"
	"github.com/pyneumonia/pyneumonia/internal/platform/db"
	"github.com/pyneumonia/pyneumonia/internal/platform/inference"
)

var fixedNow = time.Date(2026, 6, 15, 9, 30, 0, 0, time.UTC)

// completed submits the fixture image and returns the COMPLETED diagnosis.
func (f *fixture) completed(t *testing.T) *Diagnosis {
	t.Helper()
	d, err := f.svc.Submit(context.Background(), testRadiologist, f.image.ID)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return d
}

func (f *fixture) stored(t *testing.T, id uuid.UUID) *Diagnosis {
	t.Helper()
	d, err := f.repo.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("load %s: %v", id, err)
	}
	return d
}

func TestSubmit_CompletesViralPneumonia(t *testing.T) {
	f := newFixture()

	d, err := f.svc.Submit(context.Background(), testRadiologist, f.image.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Status != StatusCompleted {
		t.Errorf("expected COMPLETED, got %s", d.Status)
	}
	if d.PredictedClass != ClassPneumoniaViral || d.Confidence != 0.92 {
		t.Errorf("unexpected result %s/%v", d.PredictedClass, d.Confidence)
	}
	if d.SuggestedSeverity == nil || *d.SuggestedSeverity != SeveritySevere {
		t.Errorf("expected SEVERE suggestion, got %v", d.SuggestedSeverity)
	}
	if d.Severity != nil {
		t.Error("severity must stay unset until a radiologist reviews")
	}
	if !d.IsPneumonia || !d.RequiresAttention || d.ConfidenceLevel != ConfidenceHigh {
		t.Errorf("unexpected derived fields: %+v", d)
	}
	if d.AutoNotes == nil || !strings.Contains(*d.AutoNotes, "Confidence level: HIGH (92.0%)") {
		t.Errorf("unexpected auto notes: %v", d.AutoNotes)
	}
	if d.OrderID != f.order.ID || d.PatientID != f.order.PatientID {
		t.Error("expected order and patient copied from the image")
	}
	if !f.images.analyzed(f.image.ID) {
		t.Error("expected image marked analyzed")
	}
	if got := f.stored(t, d.ID); got.Status != StatusCompleted || got.AutoNotes == nil {
		t.Errorf("expected completed result persisted, got %+v", got)
	}
}

func TestSubmit_AuditOrder(t *testing.T) {
	f := newFixture()
	d := f.completed(t)

	events := f.sink.Events()
	if len(events) != 2 {
		t.Fatalf("expected 2 audit events, got %d", len(events))
	}
	if events[0].Action != audit.ActionAdd || events[0].Details["status"] != StatusAnalyzing {
		t.Errorf("expected ADD of an ANALYZING record first, got %+v", events[0])
	}
	if events[1].Action != audit.ActionModify || events[1].Details["status"] != StatusCompleted {
		t.Errorf("expected MODIFY to COMPLETED second, got %+v", events[1])
	}
	for _, e := range events {
		if e.RecordID != d.ID || e.Table != auditTable || e.ActorID != testRadiologist.UserID {
			t.Errorf("unexpected event %+v", e)
		}
	}
}

func TestSubmit_TwiceReturnsExistingID(t *testing.T) {
	f := newFixture()
	first := f.completed(t)

	_, err := f.svc.Submit(context.Background(), testRadiologist, f.image.ID)
	var already *apierr.AlreadyAnalyzedError
	if !errors.As(err, &already) {
		t.Fatalf("expected AlreadyAnalyzedError, got %v", err)
	}
	if already.DiagnosisID != first.ID.String() {
		t.Errorf("expected existing id %s, got %s", first.ID, already.DiagnosisID)
	}
	if f.repo.count() != 1 {
		t.Errorf("expected one diagnosis, got %d", f.repo.count())
	}
	if n := f.classifier.calls.Load(); n != 1 {
		t.Errorf("expected one classifier call, got %d", n)
	}
}

func TestSubmit_MissingImageReference(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Submit(context.Background(), testRadiologist, uuid.Nil)
	var missing *apierr.MissingReferenceError
	if !errors.As(err, &missing) || missing.Field != "xray_id" {
		t.Fatalf("expected missing xray_id, got %v", err)
	}
}

func TestSubmit_UnknownImage(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Submit(context.Background(), testRadiologist, uuid.New())
	if !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if f.repo.count() != 0 {
		t.Error("no diagnosis should be created for an unknown image")
	}
}

func TestSubmit_Forbidden(t *testing.T) {
	f := newFixture()
	for _, actor := range []auth.Actor{testReceptionist, testPhysician} {
		_, err := f.svc.Submit(context.Background(), actor, f.image.ID)
		var forbidden *auth.ForbiddenError
		if !errors.As(err, &forbidden) {
			t.Errorf("%s: expected forbidden, got %v", actor.Username, err)
		}
	}
	if f.repo.count() != 0 {
		t.Error("forbidden submissions must not create records")
	}
}

func TestSubmit_Failures(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(f *fixture)
		unusable bool
		message  string
	}{
		{
			name: "classifier unavailable",
			setup: func(f *fixture) {
				f.classifier.err = fmt.Errorf("%w: connection refused", inference.ErrUnavailable)
			},
			message: "connection refused",
		},
		{
			name:     "malformed response",
			setup:    func(f *fixture) { f.classifier.result = predictions() },
			unusable: true,
			message:  "no usable prediction",
		},
		{
			name: "confidence out of range",
			setup: func(f *fixture) {
				f.classifier.result = predictions(inference.Prediction{Class: ClassNormal, Confidence: 1.3})
			},
			unusable: true,
			message:  "validation error",
		},
		{
			name:    "image file missing",
			setup:   func(f *fixture) { f.blobs.Delete(context.Background(), f.image.ObjectKey) },
			message: "image file not found",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			tt.setup(f)

			_, err := f.svc.Submit(context.Background(), testRadiologist, f.image.ID)
			var inf *apierr.InferenceError
			if !errors.As(err, &inf) {
				t.Fatalf("expected InferenceError, got %v", err)
			}
			if inf.Unusable != tt.unusable {
				t.Errorf("expected unusable=%v, got %v", tt.unusable, inf.Unusable)
			}

			d, err := f.repo.GetByXRay(context.Background(), f.image.ID)
			if err != nil {
				t.Fatalf("failed diagnosis must persist: %v", err)
			}
			if inf.DiagnosisID != d.ID.String() {
				t.Errorf("expected error to name %s, got %s", d.ID, inf.DiagnosisID)
			}
			if d.Status != StatusError {
				t.Errorf("expected ERROR, got %s", d.Status)
			}
			if d.ErrorMessage == nil || !strings.Contains(*d.ErrorMessage, tt.message) {
				t.Errorf("expected message containing %q, got %v", tt.message, d.ErrorMessage)
			}
			if d.PredictedClass != "" || d.Confidence != 0 || d.SuggestedSeverity != nil {
				t.Errorf("failed analysis must not store a result: %+v", d)
			}
			if f.images.analyzed(f.image.ID) {
				t.Error("image must stay not analyzed")
			}
		})
	}
}

func TestSubmit_UnknownClassLogsWarning(t *testing.T) {
	f := newFixture()
	var buf bytes.Buffer
	f.svc.logger = zerolog.New(&buf)
	f.classifier.result = predictions(inference.Prediction{Class: "TUBERCULOSIS", ClassID: 7, Confidence: 0.95})

	d := f.completed(t)
	if d.PredictedClass != "TUBERCULOSIS" {
		t.Errorf("expected class stored as returned, got %s", d.PredictedClass)
	}
	if d.SuggestedSeverity != nil {
		t.Errorf("unknown class must not get a severity suggestion, got %s", *d.SuggestedSeverity)
	}
	if d.IsPneumonia {
		t.Error("unknown class is not pneumonia")
	}
	if !strings.Contains(buf.String(), "unrecognized class") {
		t.Errorf("expected a warning, got %q", buf.String())
	}
}

func TestSubmit_ConcurrentSingleWinner(t *testing.T) {
	f := newFixture()
	const n = 8

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []*Diagnosis
		losers  []*apierr.AlreadyAnalyzedError
		others  []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := f.svc.Submit(context.Background(), testRadiologist, f.image.ID)
			mu.Lock()
			defer mu.Unlock()
			var already *apierr.AlreadyAnalyzedError
			switch {
			case err == nil:
				winners = append(winners, d)
			case errors.As(err, &already):
				losers = append(losers, already)
			default:
				others = append(others, err)
			}
		}()
	}
	wg.Wait()

	if len(winners) != 1 || len(losers) != n-1 || len(others) != 0 {
		t.Fatalf("expected 1 winner and %d losers, got %d/%d (other errors %v)", n-1, len(winners), len(losers), others)
	}
	for _, l := range losers {
		if l.DiagnosisID != winners[0].ID.String() {
			t.Errorf("loser references %s, want %s", l.DiagnosisID, winners[0].ID)
		}
	}
	if f.repo.count() != 1 {
		t.Errorf("expected one diagnosis, got %d", f.repo.count())
	}
}

func TestSubmit_Async(t *testing.T) {
	f := newFixture()
	dispatcher := &stubDispatcher{}
	f.svc.SetDispatcher(dispatcher)
	if !f.svc.Async() {
		t.Fatal("expected async mode")
	}

	d, err := f.svc.Submit(context.Background(), testRadiologist, f.image.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Status != StatusAnalyzing {
		t.Errorf("expected ANALYZING, got %s", d.Status)
	}
	if d.ConfidenceLevel != "" {
		t.Error("confidence level is only reported for completed diagnoses")
	}
	if len(dispatcher.ids) != 1 || dispatcher.ids[0] != d.ID {
		t.Fatalf("expected %s dispatched, got %v", d.ID, dispatcher.ids)
	}
	if f.classifier.calls.Load() != 0 {
		t.Error("classifier must not run before the worker picks the task")
	}

	if err := f.svc.Analyze(context.Background(), d.ID); err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if got := f.stored(t, d.ID); got.Status != StatusCompleted {
		t.Errorf("expected COMPLETED after analysis, got %s", got.Status)
	}
	if !f.images.analyzed(f.image.ID) {
		t.Error("expected image marked analyzed")
	}

	// A redelivered task is a no-op.
	if err := f.svc.Analyze(context.Background(), d.ID); err != nil {
		t.Fatalf("second analyze: %v", err)
	}
	if n := f.classifier.calls.Load(); n != 1 {
		t.Errorf("expected one classifier call, got %d", n)
	}

	events := f.sink.Events()
	if last := events[len(events)-1]; last.ActorID != testRadiologist.UserID {
		t.Errorf("worker should audit as the submitter, got %s", last.ActorID)
	}
}

func TestSubmit_AsyncDispatchFailure(t *testing.T) {
	f := newFixture()
	f.svc.SetDispatcher(&stubDispatcher{err: errors.New("redis: connection refused")})

	_, err := f.svc.Submit(context.Background(), testRadiologist, f.image.ID)
	var inf *apierr.InferenceError
	if !errors.As(err, &inf) || inf.Unusable {
		t.Fatalf("expected a server-side InferenceError, got %v", err)
	}
	if !errors.Is(err, inference.ErrUnavailable) {
		t.Error("expected dispatch failure to read as unavailable")
	}
	d, _ := f.repo.GetByXRay(context.Background(), f.image.ID)
	if d == nil || d.Status != StatusError {
		t.Errorf("expected ERROR record, got %+v", d)
	}
}

func TestAnalyze_UnknownDiagnosis(t *testing.T) {
	f := newFixture()
	if err := f.svc.Analyze(context.Background(), uuid.New()); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestMarkReviewed(t *testing.T) {
	f := newFixture()
	f.svc.now = func() time.Time { return fixedNow }
	d := f.completed(t)

	got, err := f.svc.MarkReviewed(context.Background(), testPhysician, d.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.IsReviewed || got.ReviewedBy == nil || *got.ReviewedBy != testPhysician.UserID {
		t.Errorf("unexpected review fields: %+v", got)
	}
	if got.ReviewedAt == nil || !got.ReviewedAt.Equal(fixedNow) {
		t.Errorf("expected reviewed at %s, got %v", fixedNow, got.ReviewedAt)
	}
	version := f.stored(t, d.ID).Version

	// Repeating the call leaves the first reviewer in place.
	again, err := f.svc.MarkReviewed(context.Background(), testAdmin, d.ID)
	if err != nil {
		t.Fatalf("second mark: %v", err)
	}
	if *again.ReviewedBy != testPhysician.UserID {
		t.Error("mark-reviewed must be idempotent")
	}
	if f.stored(t, d.ID).Version != version {
		t.Error("idempotent mark must not write")
	}

	marks := 0
	for _, e := range f.sink.Events() {
		if e.Details["transition"] == "mark_reviewed" {
			marks++
		}
	}
	if marks != 1 {
		t.Errorf("expected one mark_reviewed audit event, got %d", marks)
	}
}

func TestMarkReviewed_RequiresPhysician(t *testing.T) {
	f := newFixture()
	d := f.completed(t)

	_, err := f.svc.MarkReviewed(context.Background(), testRadiologist, d.ID)
	var forbidden *auth.ForbiddenError
	if !errors.As(err, &forbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if f.stored(t, d.ID).IsReviewed {
		t.Error("forbidden call must not mark the diagnosis")
	}
}

func TestReviewAsRadiologist_SeverityRequired(t *testing.T) {
	f := newFixture()
	d := f.completed(t)

	for _, severity := range []string{"", "  ", "CRITICAL"} {
		_, err := f.svc.ReviewAsRadiologist(context.Background(), testRadiologist, d.ID, RadiologistReview{Severity: severity})
		var ve *apierr.ValidationError
		if !errors.As(err, &ve) || ve.Field != "severity" {
			t.Errorf("severity %q: expected validation error, got %v", severity, err)
		}
	}
	if got := f.stored(t, d.ID); got.Severity != nil || got.RadiologistID != nil {
		t.Errorf("rejected review must not mutate, got %+v", got)
	}
}

func TestReviewAsRadiologist_SeverityRoundTrip(t *testing.T) {
	f := newFixture()
	f.svc.now = func() time.Time { return fixedNow }
	d := f.completed(t)

	for _, severity := range []string{"mild", "MODERATE", " Severe "} {
		got, err := f.svc.ReviewAsRadiologist(context.Background(), testRadiologist, d.ID,
			RadiologistReview{Severity: severity, Notes: "bilateral infiltrates"})
		if err != nil {
			t.Fatalf("review %q: %v", severity, err)
		}
		want := strings.ToUpper(strings.TrimSpace(severity))
		stored, err := f.svc.Get(context.Background(), got.ID)
		if err != nil {
			t.Fatal(err)
		}
		if stored.Severity == nil || *stored.Severity != want {
			t.Errorf("expected %s, got %v", want, stored.Severity)
		}
		if stored.SuggestedSeverity == nil || *stored.SuggestedSeverity != SeveritySevere {
			t.Error("radiologist severity must not replace the suggestion")
		}
		if stored.RadiologistNotes == nil || *stored.RadiologistNotes != "bilateral infiltrates" {
			t.Errorf("unexpected notes %v", stored.RadiologistNotes)
		}
		if stored.AutoNotes == nil || *stored.AutoNotes == *stored.RadiologistNotes {
			t.Error("automatic notes must be kept apart from radiologist notes")
		}
	}
}

func TestReviewAsRadiologist_VersionCheck(t *testing.T) {
	f := newFixture()
	d := f.completed(t)

	_, err := f.svc.ReviewAsRadiologist(context.Background(), testRadiologist, d.ID,
		RadiologistReview{Severity: SeverityMild, Version: intPtr(d.Version + 4)})
	var conflict *apierr.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if apierr.From(err).Code != 409 {
		t.Errorf("expected 409, got %d", apierr.From(err).Code)
	}

	got, err := f.svc.ReviewAsRadiologist(context.Background(), testRadiologist, d.ID,
		RadiologistReview{Severity: SeverityMild, Version: intPtr(d.Version)})
	if err != nil {
		t.Fatalf("current version should be accepted: %v", err)
	}
	if got.Version != d.Version+1 {
		t.Errorf("expected version %d, got %d", d.Version+1, got.Version)
	}
}

func TestReview_RequiresCompletedDiagnosis(t *testing.T) {
	f := newFixture()
	f.classifier.err = inference.ErrUnavailable
	_, _ = f.svc.Submit(context.Background(), testRadiologist, f.image.ID)
	d, err := f.repo.GetByXRay(context.Background(), f.image.ID)
	if err != nil {
		t.Fatal(err)
	}

	_, err = f.svc.ReviewAsRadiologist(context.Background(), testRadiologist, d.ID, RadiologistReview{Severity: SeverityMild})
	var seq *apierr.SequenceError
	if !errors.As(err, &seq) {
		t.Errorf("radiologist review: expected sequence error, got %v", err)
	}
	if _, err := f.svc.MarkReviewed(context.Background(), testPhysician, d.ID); !errors.As(err, &seq) {
		t.Errorf("mark reviewed: expected sequence error, got %v", err)
	}
}

func TestApproveAsPhysician_RequiresRadiologistReview(t *testing.T) {
	f := newFixture()
	d := f.completed(t)
	before := f.stored(t, d.ID)

	_, err := f.svc.ApproveAsPhysician(context.Background(), testPhysician, d.ID, PhysicianApproval{Notes: "agree"})
	var seq *apierr.SequenceError
	if !errors.As(err, &seq) {
		t.Fatalf("expected sequence error, got %v", err)
	}
	if seq.Message != "diagnosis must be radiologist-reviewed first" {
		t.Errorf("unexpected message %q", seq.Message)
	}
	after := f.stored(t, d.ID)
	if after.PhysicianID != nil || after.PhysicianNotes != nil || after.ApprovedAt != nil || after.Version != before.Version {
		t.Errorf("rejected approval must not mutate, got %+v", after)
	}
}

func TestApproveAsPhysician_AfterRadiologist(t *testing.T) {
	f := newFixture()
	d := f.completed(t)
	if _, err := f.svc.ReviewAsRadiologist(context.Background(), testRadiologist, d.ID, RadiologistReview{Severity: SeverityModerate}); err != nil {
		t.Fatal(err)
	}

	got, err := f.svc.ApproveAsPhysician(context.Background(), testPhysician, d.ID, PhysicianApproval{Notes: "start antivirals"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.IsFullyReviewed || got.PhysicianID == nil || *got.PhysicianID != testPhysician.UserID {
		t.Errorf("unexpected approval: %+v", got)
	}
	if got.PhysicianNotes == nil || *got.PhysicianNotes != "start antivirals" {
		t.Errorf("unexpected notes %v", got.PhysicianNotes)
	}
}

// Across arbitrary orderings of the review operations, a physician approval
// is only ever stored after a radiologist review.
func TestReviewOrderings_ApprovalNeedsRadiologist(t *testing.T) {
	ops := []string{"mark", "radiologist", "approve"}
	for seed := int64(1); seed <= 40; seed++ {
		rng := rand.New(rand.NewSource(seed))
		f := newFixture()
		d := f.completed(t)
		radiologistDone := false

		for step := 0; step < 6; step++ {
			op := ops[rng.Intn(len(ops))]
			var err error
			switch op {
			case "mark":
				_, err = f.svc.MarkReviewed(context.Background(), testPhysician, d.ID)
			case "radiologist":
				_, err = f.svc.ReviewAsRadiologist(context.Background(), testRadiologist, d.ID,
					RadiologistReview{Severity: []string{SeverityMild, SeverityModerate, SeveritySevere}[rng.Intn(3)]})
				radiologistDone = radiologistDone || err == nil
			case "approve":
				_, err = f.svc.ApproveAsPhysician(context.Background(), testPhysician, d.ID, PhysicianApproval{})
				var seq *apierr.SequenceError
				if !radiologistDone && !errors.As(err, &seq) {
					t.Fatalf("seed %d step %d: approval before radiologist review returned %v", seed, step, err)
				}
				if radiologistDone && err != nil {
					t.Fatalf("seed %d step %d: approval after radiologist review failed: %v", seed, step, err)
				}
				err = nil
			}
			if err != nil {
				t.Fatalf("seed %d step %d %s: %v", seed, step, op, err)
			}

			got := f.stored(t, d.ID)
			if got.PhysicianID != nil && got.RadiologistID == nil {
				t.Fatalf("seed %d step %d: approval stored without radiologist review", seed, step)
			}
		}
	}
}

func TestDelete_ResetsImageAndOrder(t *testing.T) {
	f := newFixture()
	d := f.completed(t)
	if _, err := f.svc.MarkReviewed(context.Background(), testPhysician, d.ID); err != nil {
		t.Fatal(err)
	}
	done := fixedNow.Add(-time.Hour)
	f.orders.orders[f.order.ID].Status = order.StatusCompleted
	f.orders.orders[f.order.ID].CompletedDate = &done

	if err := f.svc.Delete(context.Background(), testPhysician, d.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.repo.count() != 0 {
		t.Error("expected diagnosis removed")
	}
	if f.images.analyzed(f.image.ID) {
		t.Error("expected image analyzed flag reset")
	}
	o, _ := f.orders.GetByID(context.Background(), f.order.ID)
	if o.Status != order.StatusPending || o.CompletedDate != nil {
		t.Errorf("expected order back to PENDING, got %s (%v)", o.Status, o.CompletedDate)
	}

	events := f.sink.Events()
	if last := events[len(events)-1]; last.Action != audit.ActionDelete || last.RecordID != d.ID {
		t.Errorf("expected DELETE audit last, got %+v", last)
	}

	// The image can be analyzed again.
	if _, err := f.svc.Submit(context.Background(), testRadiologist, f.image.ID); err != nil {
		t.Errorf("resubmit after delete: %v", err)
	}
}

func TestDelete_Forbidden(t *testing.T) {
	f := newFixture()
	d := f.completed(t)

	for _, actor := range []auth.Actor{testRadiologist, testReceptionist} {
		err := f.svc.Delete(context.Background(), actor, d.ID)
		var forbidden *auth.ForbiddenError
		if !errors.As(err, &forbidden) {
			t.Errorf("%s: expected forbidden, got %v", actor.Username, err)
		}
	}
	if f.repo.count() != 1 || !f.images.analyzed(f.image.ID) {
		t.Error("forbidden delete must not change anything")
	}
	if err := f.svc.Delete(context.Background(), testAdmin, d.ID); err != nil {
		t.Errorf("admin delete: %v", err)
	}
}

func TestDelete_NotFound(t *testing.T) {
	f := newFixture()
	if err := f.svc.Delete(context.Background(), testPhysician, uuid.New()); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestPendingReports(t *testing.T) {
	f := newFixture()
	d := f.completed(t)
	f.repo.diagnoses[d.ID].CreatedBy = &testPhysician.UserID

	items, total, err := f.svc.PendingReports(context.Background(), testPhysician, 20, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 0 || len(items) != 0 {
		t.Errorf("unreviewed diagnosis is not pending a report, got %d", total)
	}

	if _, err := f.svc.MarkReviewed(context.Background(), testPhysician, d.ID); err != nil {
		t.Fatal(err)
	}
	items, total, err = f.svc.PendingReports(context.Background(), testPhysician, 20, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || items[0].ID != d.ID || !items[0].IsPneumonia {
		t.Errorf("expected the reviewed diagnosis, got %d", total)
	}
}

func TestReportEligible(t *testing.T) {
	open := &order.Order{Status: order.StatusInProgress}
	tests := []struct {
		name   string
		status string
		order  *order.Order
		ok     bool
	}{
		{"completed", StatusCompleted, open, true},
		{"analyzing", StatusAnalyzing, open, false},
		{"error", StatusError, open, false},
		{"cancelled order", StatusCompleted, &order.Order{Status: order.StatusCancelled}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ReportEligible(&Diagnosis{Status: tt.status}, tt.order)
			if tt.ok != (err == nil) {
				t.Fatalf("ReportEligible() = %v, want ok=%v", err, tt.ok)
			}
			var ve *apierr.ValidationError
			if err != nil && !errors.As(err, &ve) {
				t.Errorf("expected ValidationError, got %T", err)
			}
		})
	}
}
