package statistics

import (
	"context"
	"fmt"
	"time"

	"github.com/pyneumonia/pyneumonia/internal/platform/auth"
)

const (
	recentWindow = 7 * 24 * time.Hour
	classWindow  = 30 * 24 * time.Hour
)

type Service struct {
	store Store
	now   func() time.Time
}

func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

func (s *Service) Diagnoses(ctx context.Context, actor auth.Actor) (*DiagnosisStats, error) {
	if err := auth.Authorize(actor, auth.ViewStatistics); err != nil {
		return nil, err
	}
	scope := ScopeFor(actor)
	st, err := s.store.Diagnoses(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("diagnosis statistics: %w", err)
	}
	st.Scope = scope.Name()
	st.AvgConfidence = round(st.AvgConfidence, 3)
	return st, nil
}

func (s *Service) Patients(ctx context.Context, actor auth.Actor) (*PatientStats, error) {
	if err := auth.Authorize(actor, auth.ViewStatistics); err != nil {
		return nil, err
	}
	scope := ScopeFor(actor)
	st, err := s.store.Patients(ctx, scope, AgeBuckets(s.now()))
	if err != nil {
		return nil, fmt.Errorf("patient statistics: %w", err)
	}
	st.Scope = scope.Name()
	if st.Total > 0 {
		st.AvgXRaysPerPatient = round(float64(st.TotalXRays)/float64(st.Total), 2)
	}
	return st, nil
}

func (s *Service) XRays(ctx context.Context, actor auth.Actor) (*XRayStats, error) {
	if err := auth.Authorize(actor, auth.ViewStatistics); err != nil {
		return nil, err
	}
	scope := ScopeFor(actor)
	st, err := s.store.XRays(ctx, scope, s.now().Add(-recentWindow))
	if err != nil {
		return nil, fmt.Errorf("x-ray statistics: %w", err)
	}
	st.Scope = scope.Name()
	st.AnalysisRate = percent(st.Analyzed, st.Total)
	return st, nil
}

// Dashboard combines the headline counts with activity of the last week and
// the class distribution of the last thirty days.
func (s *Service) Dashboard(ctx context.Context, actor auth.Actor) (*Dashboard, error) {
	if err := auth.Authorize(actor, auth.ViewStatistics); err != nil {
		return nil, err
	}
	scope := ScopeFor(actor)
	now := s.now()
	d, err := s.store.Dashboard(ctx, scope, now.Add(-recentWindow), now.Add(-classWindow))
	if err != nil {
		return nil, fmt.Errorf("dashboard: %w", err)
	}
	d.Scope = scope.Name()
	return d, nil
}
