package patient

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pyneumonia/pyneumonia/internal/platform/audit"
	"github.com/pyneumonia/pyneumonia/internal/platform/auth"
)

const auditTable = "patients"

type Service struct {
	repo  Repository
	audit *audit.Recorder
	now   func() time.Time
}

func NewService(repo Repository, rec *audit.Recorder) *Service {
	return &Service{repo: repo, audit: rec, now: time.Now}
}

func (s *Service) withAge(p *Patient) *Patient {
	p.Age = AgeAt(p.DateOfBirth, s.now())
	return p
}

func (s *Service) Create(ctx context.Context, actor auth.Actor, p *Patient) error {
	if err := Validate(p, s.now()); err != nil {
		return err
	}
	p.IsActive = true
	if actor.UserID != uuid.Nil {
		id := actor.UserID
		p.CreatedBy = &id
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return fmt.Errorf("create patient: %w", err)
	}
	s.withAge(p)
	s.audit.Record(ctx, auditTable, p.ID, audit.ActionAdd, actor.UserID, map[string]interface{}{"dni": p.DNI})
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("patient %s: %w", id, err)
	}
	return s.withAge(p), nil
}

// Update replaces the editable fields. The creator and creation time are
// kept from the stored record, and so is the active flag unless active is set.
func (s *Service) Update(ctx context.Context, actor auth.Actor, p *Patient, active *bool) error {
	existing, err := s.repo.GetByID(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("patient %s: %w", p.ID, err)
	}
	if err := Validate(p, s.now()); err != nil {
		return err
	}
	p.CreatedBy = existing.CreatedBy
	p.CreatedAt = existing.CreatedAt
	p.IsActive = existing.IsActive
	if active != nil {
		p.IsActive = *active
	}
	if err := s.repo.Update(ctx, p); err != nil {
		return fmt.Errorf("update patient: %w", err)
	}
	s.withAge(p)
	s.audit.Record(ctx, auditTable, p.ID, audit.ActionModify, actor.UserID, nil)
	return nil
}

// Delete deactivates the patient. Orders and images stay attached.
func (s *Service) Delete(ctx context.Context, actor auth.Actor, id uuid.UUID) error {
	if err := s.repo.Deactivate(ctx, id); err != nil {
		return fmt.Errorf("patient %s: %w", id, err)
	}
	s.audit.Record(ctx, auditTable, id, audit.ActionDelete, actor.UserID, map[string]interface{}{"soft": true})
	return nil
}

// List returns active patients unless the caller filters on "active".
func (s *Service) List(ctx context.Context, params map[string]string, limit, offset int) ([]*Patient, int, error) {
	if _, ok := params["active"]; !ok {
		params["active"] = "true"
	}
	items, total, err := s.repo.Search(ctx, params, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	for _, p := range items {
		s.withAge(p)
	}
	return items, total, nil
}
