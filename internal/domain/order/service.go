package order

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pyneumonia/pyneumonia/internal/platform/apierr"
	"github.com/pyneumonia/pyneumonia/internal/platform/audit"
	"github.com/pyneumonia/pyneumonia/internal/platform/auth"
)

const auditTable = "medical_orders"

type Service struct {
	repo     Repository
	patients PatientChecker
	audit    *audit.Recorder
	now      func() time.Time
}

func NewService(repo Repository, patients PatientChecker, rec *audit.Recorder) *Service {
	return &Service{repo: repo, patients: patients, audit: rec, now: time.Now}
}

func validate(o *Order) error {
	o.Reason = strings.TrimSpace(o.Reason)
	if o.Reason == "" {
		return apierr.Validation("reason", "is required")
	}
	o.Priority = strings.ToUpper(strings.TrimSpace(o.Priority))
	if o.Priority == "" {
		o.Priority = PriorityNormal
	}
	if !validPriorities[o.Priority] {
		return apierr.Validation("priority", "must be one of LOW, NORMAL, URGENT")
	}
	return nil
}

func (s *Service) Create(ctx context.Context, actor auth.Actor, o *Order) error {
	if o.PatientID == uuid.Nil {
		return &apierr.MissingReferenceError{Field: "patient_id"}
	}
	active, err := s.patients.PatientActive(ctx, o.PatientID)
	if err != nil {
		return fmt.Errorf("check patient: %w", err)
	}
	if !active {
		return apierr.Validation("patient_id", "patient does not exist or is inactive")
	}
	if err := validate(o); err != nil {
		return err
	}
	o.OrderType = TypeChestXRay
	o.Status = StatusPending
	o.CompletedDate = nil
	if actor.UserID != uuid.Nil {
		id := actor.UserID
		o.RequestedBy = &id
	}
	if err := s.repo.Create(ctx, o); err != nil {
		return fmt.Errorf("create order: %w", err)
	}
	s.audit.Record(ctx, auditTable, o.ID, audit.ActionAdd, actor.UserID, map[string]interface{}{
		"patient_id": o.PatientID.String(),
		"priority":   o.Priority,
	})
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Order, error) {
	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("order %s: %w", id, err)
	}
	return o, nil
}

// Update changes reason, clinical notes, priority and scheduled date. Status
// only moves through UpdateStatus.
func (s *Service) Update(ctx context.Context, actor auth.Actor, o *Order) error {
	existing, err := s.repo.GetByID(ctx, o.ID)
	if err != nil {
		return fmt.Errorf("order %s: %w", o.ID, err)
	}
	if err := validate(o); err != nil {
		return err
	}
	existing.Reason = o.Reason
	existing.ClinicalNotes = o.ClinicalNotes
	existing.Priority = o.Priority
	if o.ScheduledDate != nil {
		existing.ScheduledDate = o.ScheduledDate
	}
	if err := s.repo.Update(ctx, existing); err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	*o = *existing
	s.audit.Record(ctx, auditTable, o.ID, audit.ActionModify, actor.UserID, nil)
	return nil
}

func (s *Service) UpdateStatus(ctx context.Context, actor auth.Actor, id uuid.UUID, status string) (*Order, error) {
	status = strings.ToUpper(strings.TrimSpace(status))
	if status == "" {
		return nil, apierr.Validation("status", "is required")
	}
	if !ValidStatus(status) {
		return nil, apierr.Validation("status", "must be one of PENDING, IN_PROGRESS, COMPLETED, CANCELLED")
	}
	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("order %s: %w", id, err)
	}
	from := o.Status
	o.ApplyStatus(status, s.now())
	if err := s.repo.SaveStatus(ctx, o); err != nil {
		return nil, fmt.Errorf("update order status: %w", err)
	}
	s.audit.Record(ctx, auditTable, o.ID, audit.ActionModify, actor.UserID, map[string]interface{}{
		"status_from": from,
		"status_to":   status,
	})
	return o, nil
}

// Delete removes the order together with its image, diagnosis and reports.
func (s *Service) Delete(ctx context.Context, actor auth.Actor, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("order %s: %w", id, err)
	}
	s.audit.Record(ctx, auditTable, id, audit.ActionDelete, actor.UserID, nil)
	return nil
}

func (s *Service) List(ctx context.Context, params map[string]string, limit, offset int) ([]*Order, int, error) {
	return s.repo.Search(ctx, params, limit, offset)
}
