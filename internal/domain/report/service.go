package report

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pyneumonia/pyneumonia/internal/domain/diagnosis"
	"github.com/pyneumonia/pyneumonia/internal/domain/order"
	"github.com/pyneumonia/pyneumonia/internal/platform/apierr"
	"github.com/pyneumonia/pyneumonia/internal/platform/audit"
	"github.com/pyneumonia/pyneumonia/internal/platform/auth"
	"github.com/pyneumonia/pyneumonia/internal/platform/db"
)

const auditTable = "medical_reports"

type DiagnosisLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*diagnosis.Diagnosis, error)
}

type OrderStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*order.Order, error)
	SaveStatus(ctx context.Context, o *order.Order) error
}

type Service struct {
	repo      Repository
	diagnoses DiagnosisLookup
	orders    OrderStore
	tx        db.TxRunner
	audit     *audit.Recorder
	now       func() time.Time
}

func NewService(repo Repository, diagnoses DiagnosisLookup, orders OrderStore, tx db.TxRunner, rec *audit.Recorder) *Service {
	if tx == nil {
		tx = db.NoTx{}
	}
	return &Service{repo: repo, diagnoses: diagnoses, orders: orders, tx: tx, audit: rec, now: time.Now}
}

func validate(r *Report) error {
	r.Title = strings.TrimSpace(r.Title)
	if r.Title == "" {
		return apierr.Validation("title", "is required")
	}
	if len([]rune(r.Title)) > MaxTitleLength {
		return apierr.Validation("title", fmt.Sprintf("must be at most %d characters", MaxTitleLength))
	}
	fields := []struct {
		name  string
		value *string
	}{
		{"findings", &r.Findings},
		{"impression", &r.Impression},
		{"recommendations", &r.Recommendations},
	}
	for _, f := range fields {
		v, err := diagnosis.ValidateNotes(f.name, *f.value)
		if err != nil {
			return err
		}
		if v == "" {
			return apierr.Validation(f.name, "is required")
		}
		*f.value = v
	}

	r.Status = strings.ToUpper(strings.TrimSpace(r.Status))
	if r.Status == "" {
		r.Status = StatusDraft
	}
	if !validStatuses[r.Status] {
		return apierr.Validation("status", "must be one of DRAFT, FINAL, REVISED")
	}
	return nil
}

// Create writes a report for a completed diagnosis whose order is not
// cancelled. The order is marked COMPLETED in the same transaction.
func (s *Service) Create(ctx context.Context, actor auth.Actor, r *Report) error {
	if err := auth.Authorize(actor, auth.CreateReport); err != nil {
		return err
	}
	if r.DiagnosisID == uuid.Nil {
		return &apierr.MissingReferenceError{Field: "diagnosis_id"}
	}
	if err := validate(r); err != nil {
		return err
	}
	r.ReceivedBy, r.ReceivedAt = nil, nil
	if actor.UserID != uuid.Nil {
		id := actor.UserID
		r.CreatedBy = &id
	}

	var orderCompleted bool
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		d, err := s.diagnoses.GetByID(ctx, r.DiagnosisID)
		if errors.Is(err, db.ErrNotFound) {
			return apierr.Validation("diagnosis_id", "diagnosis does not exist")
		}
		if err != nil {
			return fmt.Errorf("load diagnosis: %w", err)
		}
		o, err := s.orders.GetByID(ctx, d.OrderID)
		if err != nil {
			return fmt.Errorf("load order: %w", err)
		}
		if err := diagnosis.ReportEligible(d, o); err != nil {
			return err
		}

		r.XRayID, r.OrderID, r.PatientID = d.XRayID, d.OrderID, d.PatientID
		if err := s.repo.Create(ctx, r); err != nil {
			return fmt.Errorf("create report: %w", err)
		}
		if !o.IsCompleted() {
			o.ApplyStatus(order.StatusCompleted, s.now())
			if err := s.orders.SaveStatus(ctx, o); err != nil {
				return fmt.Errorf("complete order: %w", err)
			}
			orderCompleted = true
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.audit.Record(ctx, auditTable, r.ID, audit.ActionAdd, actor.UserID, map[string]interface{}{
		"diagnosis_id":    r.DiagnosisID.String(),
		"status":          r.Status,
		"order_completed": orderCompleted,
	})
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Report, error) {
	r, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("report %s: %w", id, err)
	}
	return r, nil
}

// Update replaces the text and status of a report. The diagnosis and the
// receipt are kept.
func (s *Service) Update(ctx context.Context, actor auth.Actor, r *Report) error {
	existing, err := s.repo.GetByID(ctx, r.ID)
	if err != nil {
		return fmt.Errorf("report %s: %w", r.ID, err)
	}
	if r.Status == "" {
		r.Status = existing.Status
	}
	if err := validate(r); err != nil {
		return err
	}
	existing.Title = r.Title
	existing.Findings = r.Findings
	existing.Impression = r.Impression
	existing.Recommendations = r.Recommendations
	existing.Status = r.Status
	if err := s.repo.Update(ctx, existing); err != nil {
		return fmt.Errorf("update report: %w", err)
	}
	*r = *existing
	s.audit.Record(ctx, auditTable, r.ID, audit.ActionModify, actor.UserID, map[string]interface{}{
		"status": r.Status,
	})
	return nil
}

// Receive records the treating physician's receipt of a draft report.
func (s *Service) Receive(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Report, error) {
	if err := auth.Authorize(actor, auth.ReceiveReport); err != nil {
		return nil, err
	}
	r, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("report %s: %w", id, err)
	}
	switch {
	case r.IsReceived():
		return nil, &apierr.SequenceError{Message: "report was already received"}
	case !r.IsDraft():
		return nil, &apierr.SequenceError{Message: "only draft reports can be received"}
	}
	d, err := s.diagnoses.GetByID(ctx, r.DiagnosisID)
	if err != nil {
		return nil, fmt.Errorf("load diagnosis: %w", err)
	}
	if !d.IsCompleted() {
		return nil, &apierr.SequenceError{Message: "diagnosis must be completed before the report is received"}
	}

	now := s.now()
	r.Status = StatusRevised
	r.ReceivedBy = &actor.UserID
	r.ReceivedAt = &now
	if err := s.repo.SaveReceipt(ctx, r); err != nil {
		if errors.Is(err, ErrNotReceivable) {
			return nil, &apierr.SequenceError{Message: "report was already received"}
		}
		return nil, fmt.Errorf("receive report: %w", err)
	}
	s.audit.Record(ctx, auditTable, r.ID, audit.ActionModify, actor.UserID, map[string]interface{}{
		"transition": "receive",
	})
	return r, nil
}

func (s *Service) Delete(ctx context.Context, actor auth.Actor, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("report %s: %w", id, err)
	}
	s.audit.Record(ctx, auditTable, id, audit.ActionDelete, actor.UserID, nil)
	return nil
}

func (s *Service) List(ctx context.Context, params map[string]string, limit, offset int) ([]*Report, int, error) {
	return s.repo.Search(ctx, params, limit, offset)
}
