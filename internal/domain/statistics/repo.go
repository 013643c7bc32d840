package statistics

import (
	"context"
	"time"
)

// Store runs the aggregate queries. Every method honors scope.
type Store interface {
	Diagnoses(ctx context.Context, scope Scope) (*DiagnosisStats, error)
	Patients(ctx context.Context, scope Scope, buckets []AgeBucket) (*PatientStats, error)
	XRays(ctx context.Context, scope Scope, recentSince time.Time) (*XRayStats, error)
	Dashboard(ctx context.Context, scope Scope, recentSince, classSince time.Time) (*Dashboard, error)
}
