package statistics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pyneumonia/pyneumonia/internal/domain/diagnosis"
	"github.com/pyneumonia/pyneumonia/internal/domain/report"
	"github.com/pyneumonia/pyneumonia/internal/platform/db"
)

type storePG struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) Store {
	return &storePG{pool: pool}
}

// Scope clauses reference the acting user as $1.
const (
	diagnosisFrom  = `diagnoses d JOIN xray_images x ON x.id = d.xray_id`
	diagnosisScope = `(d.radiologist_id = $1 OR d.reviewed_by = $1 OR d.physician_id = $1 OR x.uploaded_by = $1)`

	patientScope = `(p.created_by = $1
		OR EXISTS (SELECT 1 FROM medical_orders o WHERE o.patient_id = p.id AND o.requested_by = $1)
		OR EXISTS (SELECT 1 FROM xray_images x LEFT JOIN diagnoses d ON d.xray_id = x.id
			WHERE x.patient_id = p.id
			AND (x.uploaded_by = $1 OR d.radiologist_id = $1 OR d.reviewed_by = $1 OR d.physician_id = $1)))`

	xrayScope = `(x.uploaded_by = $1 OR EXISTS (SELECT 1 FROM diagnoses d WHERE d.xray_id = x.id
		AND (d.radiologist_id = $1 OR d.reviewed_by = $1 OR d.physician_id = $1)))`

	reportScope = `(r.created_by = $1 OR r.received_by = $1)`
)

var (
	isPneumonia = fmt.Sprintf("d.predicted_class IN ('%s', '%s', '%s')",
		diagnosis.ClassPneumoniaBacteria, diagnosis.ClassPneumoniaBacterial, diagnosis.ClassPneumoniaViral)
	isHighConfidence = fmt.Sprintf("d.confidence >= %g", HighConfidence)
)

// query accumulates positional arguments after the scope argument.
type query struct {
	where string
	args  []interface{}
}

func scoped(s Scope, clause string) *query {
	if s.All {
		return &query{where: "TRUE"}
	}
	return &query{where: clause, args: []interface{}{s.UserID}}
}

// arg appends v and returns its placeholder.
func (q *query) arg(v interface{}) string {
	q.args = append(q.args, v)
	return fmt.Sprintf("$%d", len(q.args))
}

// counts runs a two column key/count query.
func (s *storePG) counts(ctx context.Context, sql string, args []interface{}) ([]Count, error) {
	rows, err := db.Conn(ctx, s.pool).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Count{}
	for rows.Next() {
		var c Count
		if err := rows.Scan(&c.Key, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func groupBy(column, from, where string) string {
	return fmt.Sprintf(`SELECT COALESCE(%[1]s, '')::text, COUNT(*) FROM %[2]s WHERE %[3]s
		GROUP BY 1 ORDER BY 2 DESC, 1`, column, from, where)
}

func (s *storePG) Diagnoses(ctx context.Context, scope Scope) (*DiagnosisStats, error) {
	q := scoped(scope, diagnosisScope)
	st := &DiagnosisStats{}
	err := db.Conn(ctx, s.pool).QueryRow(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE d.is_reviewed),
			COUNT(*) FILTER (WHERE NOT d.is_reviewed),
			COUNT(*) FILTER (WHERE `+isPneumonia+`),
			COUNT(*) FILTER (WHERE `+isHighConfidence+`),
			COALESCE(AVG(d.confidence) FILTER (WHERE d.status = 'COMPLETED'), 0)
		FROM `+diagnosisFrom+` WHERE `+q.where, q.args...,
	).Scan(&st.Total, &st.Reviewed, &st.PendingReview, &st.PneumoniaCases, &st.HighConfidence, &st.AvgConfidence)
	if err != nil {
		return nil, fmt.Errorf("diagnosis totals: %w", err)
	}
	if st.ByClass, err = s.counts(ctx, groupBy("d.predicted_class", diagnosisFrom, q.where+" AND d.status = 'COMPLETED'"), q.args); err != nil {
		return nil, fmt.Errorf("diagnoses by class: %w", err)
	}
	if st.ByStatus, err = s.counts(ctx, groupBy("d.status", diagnosisFrom, q.where), q.args); err != nil {
		return nil, fmt.Errorf("diagnoses by status: %w", err)
	}
	return st, nil
}

func (s *storePG) Patients(ctx context.Context, scope Scope, buckets []AgeBucket) (*PatientStats, error) {
	q := scoped(scope, patientScope)
	st := &PatientStats{}
	err := db.Conn(ctx, s.pool).QueryRow(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE p.is_active),
			COUNT(*) FILTER (WHERE NOT p.is_active),
			COUNT(*) FILTER (WHERE EXISTS (SELECT 1 FROM xray_images x WHERE x.patient_id = p.id)),
			COUNT(*) FILTER (WHERE EXISTS (SELECT 1 FROM xray_images x JOIN diagnoses d ON d.xray_id = x.id
				WHERE x.patient_id = p.id)),
			COALESCE(SUM((SELECT COUNT(*) FROM xray_images x WHERE x.patient_id = p.id)), 0)::bigint
		FROM patients p WHERE `+q.where, q.args...,
	).Scan(&st.Total, &st.Active, &st.Inactive, &st.WithXRays, &st.WithDiagnoses, &st.TotalXRays)
	if err != nil {
		return nil, fmt.Errorf("patient totals: %w", err)
	}
	if st.ByGender, err = s.counts(ctx, groupBy("p.gender", "patients p", q.where), q.args); err != nil {
		return nil, fmt.Errorf("patients by gender: %w", err)
	}

	cols := make([]string, len(buckets))
	for i, b := range buckets {
		conds := []string{"TRUE"}
		if !b.From.IsZero() {
			conds = append(conds, "p.date_of_birth >= "+q.arg(b.From)+"::date")
		}
		if !b.Before.IsZero() {
			conds = append(conds, "p.date_of_birth < "+q.arg(b.Before)+"::date")
		}
		cols[i] = "COUNT(*) FILTER (WHERE " + strings.Join(conds, " AND ") + ")"
	}
	counts := make([]int, len(buckets))
	dest := make([]interface{}, len(buckets))
	for i := range counts {
		dest[i] = &counts[i]
	}
	sql := `SELECT ` + strings.Join(cols, ", ") + ` FROM patients p WHERE ` + q.where
	if err := db.Conn(ctx, s.pool).QueryRow(ctx, sql, q.args...).Scan(dest...); err != nil {
		return nil, fmt.Errorf("patients by age: %w", err)
	}
	st.AgeDistribution = make([]Count, len(buckets))
	for i, b := range buckets {
		st.AgeDistribution[i] = Count{Key: b.Label, Count: counts[i]}
	}
	return st, nil
}

func (s *storePG) XRays(ctx context.Context, scope Scope, recentSince time.Time) (*XRayStats, error) {
	q := scoped(scope, xrayScope)
	st := &XRayStats{}
	base := &query{where: q.where, args: append([]interface{}{}, q.args...)}
	since := q.arg(recentSince)
	err := db.Conn(ctx, s.pool).QueryRow(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE x.is_analyzed),
			COUNT(*) FILTER (WHERE NOT x.is_analyzed),
			COUNT(*) FILTER (WHERE x.uploaded_at >= `+since+`)
		FROM xray_images x WHERE `+q.where, q.args...,
	).Scan(&st.Total, &st.Analyzed, &st.Pending, &st.RecentUploads)
	if err != nil {
		return nil, fmt.Errorf("x-ray totals: %w", err)
	}
	groups := []struct {
		column string
		dest   *[]Count
	}{
		{"x.quality", &st.ByQuality},
		{"x.view_position", &st.ByViewPosition},
		{"x.format", &st.ByFormat},
	}
	for _, g := range groups {
		if *g.dest, err = s.counts(ctx, groupBy(g.column, "xray_images x", base.where), base.args); err != nil {
			return nil, fmt.Errorf("x-rays by %s: %w", g.column, err)
		}
	}
	return st, nil
}

func (s *storePG) Dashboard(ctx context.Context, scope Scope, recentSince, classSince time.Time) (*Dashboard, error) {
	conn := db.Conn(ctx, s.pool)
	out := &Dashboard{}

	q := scoped(scope, diagnosisScope)
	since := q.arg(recentSince)
	err := conn.QueryRow(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE NOT d.is_reviewed),
			COUNT(*) FILTER (WHERE d.status = 'COMPLETED' AND d.radiologist_id IS NULL),
			COUNT(*) FILTER (WHERE `+isPneumonia+`),
			COUNT(*) FILTER (WHERE `+isPneumonia+` AND `+isHighConfidence+` AND d.radiologist_id IS NULL),
			COUNT(*) FILTER (WHERE d.created_at >= `+since+`)
		FROM `+diagnosisFrom+` WHERE `+q.where, q.args...,
	).Scan(&out.TotalDiagnoses, &out.PendingReviews, &out.PendingRadiologistReview,
		&out.PneumoniaCases, &out.HighPriorityCases, &out.RecentActivity.NewDiagnoses)
	if err != nil {
		return nil, fmt.Errorf("dashboard diagnoses: %w", err)
	}

	q = scoped(scope, patientScope)
	since = q.arg(recentSince)
	err = conn.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE p.created_at >= `+since+`)
		FROM patients p WHERE p.is_active AND `+q.where, q.args...,
	).Scan(&out.TotalPatients, &out.RecentActivity.NewPatients)
	if err != nil {
		return nil, fmt.Errorf("dashboard patients: %w", err)
	}

	q = scoped(scope, xrayScope)
	since = q.arg(recentSince)
	err = conn.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE NOT x.is_analyzed), COUNT(*) FILTER (WHERE x.uploaded_at >= `+since+`)
		FROM xray_images x WHERE `+q.where, q.args...,
	).Scan(&out.TotalXRays, &out.PendingAnalysis, &out.RecentActivity.NewXRays)
	if err != nil {
		return nil, fmt.Errorf("dashboard x-rays: %w", err)
	}

	q = scoped(scope, reportScope)
	since = q.arg(recentSince)
	err = conn.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE r.status = '`+report.StatusDraft+`'),
			COUNT(*) FILTER (WHERE r.created_at >= `+since+`)
		FROM medical_reports r WHERE `+q.where, q.args...,
	).Scan(&out.TotalReports, &out.DraftReports, &out.RecentActivity.NewReports)
	if err != nil {
		return nil, fmt.Errorf("dashboard reports: %w", err)
	}

	q = scoped(scope, diagnosisScope)
	where := q.where + " AND d.status = 'COMPLETED' AND d.created_at >= " + q.arg(classSince)
	if out.RecentByClass, err = s.counts(ctx, groupBy("d.predicted_class", diagnosisFrom, where), q.args); err != nil {
		return nil, fmt.Errorf("dashboard recent classes: %w", err)
	}
	return out, nil
}
