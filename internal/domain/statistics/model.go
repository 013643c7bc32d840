package statistics

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/pyneumonia/pyneumonia/internal/platform/auth"
)

const (
	ScopeAll      = "all"
	ScopePersonal = "personal"
)

// HighConfidence is the confidence at or above which a diagnosis counts as
// high confidence in the statistics.
const HighConfidence = 0.70

// Scope limits statistics to what an actor may see. Administrators see every
// record. Everyone else sees the records they created, uploaded, requested
// or reviewed.
type Scope struct {
	All    bool
	UserID uuid.UUID
}

func ScopeFor(actor auth.Actor) Scope {
	if actor.IsAdmin() {
		return Scope{All: true}
	}
	return Scope{UserID: actor.UserID}
}

func (s Scope) Name() string {
	if s.All {
		return ScopeAll
	}
	return ScopePersonal
}

// Count is one row of a grouped count.
type Count struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

type DiagnosisStats struct {
	Scope          string  `json:"scope"`
	Total          int     `json:"total"`
	ByClass        []Count `json:"by_class"`
	ByStatus       []Count `json:"by_status"`
	Reviewed       int     `json:"reviewed"`
	PendingReview  int     `json:"pending_review"`
	PneumoniaCases int     `json:"pneumonia_cases"`
	HighConfidence int     `json:"high_confidence_count"`
	AvgConfidence  float64 `json:"avg_confidence"`
}

type PatientStats struct {
	Scope              string  `json:"scope"`
	Total              int     `json:"total_patients"`
	Active             int     `json:"active_patients"`
	Inactive           int     `json:"inactive_patients"`
	ByGender           []Count `json:"by_gender"`
	AgeDistribution    []Count `json:"age_distribution"`
	WithXRays          int     `json:"patients_with_xrays"`
	WithDiagnoses      int     `json:"patients_with_diagnoses"`
	TotalXRays         int     `json:"total_xrays"`
	AvgXRaysPerPatient float64 `json:"avg_xrays_per_patient"`
}

type XRayStats struct {
	Scope          string  `json:"scope"`
	Total          int     `json:"total_xrays"`
	Analyzed       int     `json:"analyzed"`
	Pending        int     `json:"pending"`
	AnalysisRate   float64 `json:"analysis_rate"`
	ByQuality      []Count `json:"by_quality"`
	ByViewPosition []Count `json:"by_view_position"`
	ByFormat       []Count `json:"by_format"`
	RecentUploads  int     `json:"recent_uploads"`
}

type Activity struct {
	NewPatients  int `json:"new_patients"`
	NewXRays     int `json:"new_xrays"`
	NewDiagnoses int `json:"new_diagnoses"`
	NewReports   int `json:"new_reports"`
}

type Dashboard struct {
	Scope                    string   `json:"scope"`
	TotalDiagnoses           int      `json:"total_diagnoses"`
	PendingReviews           int      `json:"pending_reviews"`
	PendingRadiologistReview int      `json:"pending_radiologist_review"`
	PneumoniaCases           int      `json:"pneumonia_cases"`
	HighPriorityCases        int      `json:"high_priority_cases"`
	TotalPatients            int      `json:"total_patients"`
	TotalXRays               int      `json:"total_xrays"`
	PendingAnalysis          int      `json:"pending_analysis"`
	TotalReports             int      `json:"total_reports"`
	DraftReports             int      `json:"draft_reports"`
	RecentActivity           Activity `json:"recent_activity"`
	RecentByClass            []Count  `json:"recent_by_class"`
}

// AgeBucket selects patients whose date of birth is on or after From and
// before Before. A zero bound is open.
type AgeBucket struct {
	Label  string
	From   time.Time
	Before time.Time
}

func (b AgeBucket) Contains(dob time.Time) bool {
	if !b.From.IsZero() && dob.Before(b.From) {
		return false
	}
	if !b.Before.IsZero() && !dob.Before(b.Before) {
		return false
	}
	return true
}

// AgeBuckets returns the age ranges 0-18, 19-35, 36-50, 51-65 and 65+ as of
// today, youngest first.
func AgeBuckets(today time.Time) []AgeBucket {
	day := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	yearsAgo := func(n int) time.Time { return day.AddDate(-n, 0, 0) }
	return []AgeBucket{
		{Label: "0-18", From: yearsAgo(18)},
		{Label: "19-35", From: yearsAgo(35), Before: yearsAgo(18)},
		{Label: "36-50", From: yearsAgo(50), Before: yearsAgo(35)},
		{Label: "51-65", From: yearsAgo(65), Before: yearsAgo(50)},
		{Label: "65+", Before: yearsAgo(65)},
	}
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// percent returns part/total as a percentage with two decimals, or 0 when
// total is 0.
func percent(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return round(float64(part)/float64(total)*100, 2)
}
