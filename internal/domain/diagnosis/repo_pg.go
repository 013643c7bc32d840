package diagnosis

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pyneumonia/pyneumonia/internal/platform/db"
)

// uniqueXRay is the constraint that keeps one diagnosis per image. It is
// what serializes concurrent submissions.
const uniqueXRay = "diagnoses_xray_id_key"

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const diagnosisFrom = `diagnoses d
	JOIN xray_images x ON x.id = d.xray_id
	JOIN patients p ON p.id = x.patient_id`

const diagnosisCols = `d.id, d.xray_id, x.order_id, x.patient_id,
	d.predicted_class, d.class_id, d.confidence, d.raw_response, d.processing_time, d.status,
	d.error_message, d.suggested_severity, d.auto_notes,
	d.is_reviewed, d.reviewed_by, d.reviewed_at,
	d.radiologist_id, d.radiologist_notes, d.radiologist_reviewed_at, d.severity,
	d.physician_id, d.physician_notes, d.approved_at,
	d.version, d.created_by, d.created_at, d.updated_at`

var searchFilters = map[string]db.Filter{
	"status":          {Type: db.FilterUpper, Column: "d.status"},
	"predicted_class": {Type: db.FilterUpper, Column: "d.predicted_class"},
	"severity":        {Type: db.FilterUpper, Column: "d.severity"},
	"reviewed":        {Type: db.FilterBool, Column: "d.is_reviewed"},
	"xray":            {Type: db.FilterUUID, Column: "d.xray_id"},
	"order":           {Type: db.FilterUUID, Column: "x.order_id"},
	"patient":         {Type: db.FilterUUID, Column: "x.patient_id"},
	"radiologist":     {Type: db.FilterUUID, Column: "d.radiologist_id"},
	"physician":       {Type: db.FilterUUID, Column: "d.physician_id"},
}

func (r *repoPG) Create(ctx context.Context, d *Diagnosis) error {
	d.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO diagnoses (id, xray_id, predicted_class, class_id, confidence, status, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING version, created_at, updated_at`,
		d.ID, d.XRayID, d.PredictedClass, d.ClassID, d.Confidence, d.Status, d.CreatedBy,
	).Scan(&d.Version, &d.CreatedAt, &d.UpdatedAt)
	if db.IsUniqueViolation(err, uniqueXRay) {
		return ErrDuplicateImage
	}
	return err
}

func (r *repoPG) getWhere(ctx context.Context, clause string, arg interface{}) (*Diagnosis, error) {
	sql := `SELECT ` + diagnosisCols + ` FROM ` + diagnosisFrom + ` WHERE ` + clause
	d, err := scanDiagnosis(db.Conn(ctx, r.pool).QueryRow(ctx, sql, arg))
	return d, db.NotFound(err)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Diagnosis, error) {
	return r.getWhere(ctx, "d.id = $1", id)
}

func (r *repoPG) GetByXRay(ctx context.Context, xrayID uuid.UUID) (*Diagnosis, error) {
	return r.getWhere(ctx, "d.xray_id = $1", xrayID)
}

func (r *repoPG) SaveResult(ctx context.Context, d *Diagnosis) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE diagnoses SET predicted_class=$2, class_id=$3, confidence=$4, raw_response=$5,
			processing_time=$6, status=$7, error_message=$8, suggested_severity=$9, auto_notes=$10,
			updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		d.ID, d.PredictedClass, d.ClassID, d.Confidence, []byte(d.RawResponse),
		d.ProcessingTime, d.Status, d.ErrorMessage, d.SuggestedSeverity, d.AutoNotes,
	).Scan(&d.UpdatedAt)
	return db.NotFound(err)
}

func (r *repoPG) SaveReview(ctx context.Context, d *Diagnosis, expectVersion int) error {
	conn := db.Conn(ctx, r.pool)
	err := conn.QueryRow(ctx, `
		UPDATE diagnoses SET is_reviewed=$2, reviewed_by=$3, reviewed_at=$4,
			radiologist_id=$5, radiologist_notes=$6, radiologist_reviewed_at=$7, severity=$8,
			physician_id=$9, physician_notes=$10, approved_at=$11,
			version = version + 1, updated_at = NOW()
		WHERE id = $1 AND ($12::int = 0 OR version = $12::int)
		RETURNING version, updated_at`,
		d.ID, d.IsReviewed, d.ReviewedBy, d.ReviewedAt,
		d.RadiologistID, d.RadiologistNotes, d.RadiologistReviewedAt, d.Severity,
		d.PhysicianID, d.PhysicianNotes, d.ApprovedAt, expectVersion,
	).Scan(&d.Version, &d.UpdatedAt)
	switch {
	case err == nil:
		return nil
	case !errors.Is(err, pgx.ErrNoRows):
		return err
	case expectVersion <= 0:
		return db.ErrNotFound
	}

	var exists bool
	if err := conn.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM diagnoses WHERE id = $1)`, d.ID).Scan(&exists); err != nil {
		return fmt.Errorf("check diagnosis version: %w", err)
	}
	if exists {
		return ErrVersionMismatch
	}
	return db.ErrNotFound
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM diagnoses WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (r *repoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Diagnosis, int, error) {
	qb := db.NewSearchQuery(diagnosisFrom, diagnosisCols)
	qb.ApplyParams(params, searchFilters)
	if q := params["q"]; q != "" {
		n := qb.Idx()
		qb.Add(fmt.Sprintf("(p.first_name ILIKE $%d OR p.last_name ILIKE $%d OR p.dni ILIKE $%d)", n, n, n), "%"+q+"%")
	}
	qb.OrderBy("d.created_at DESC")
	return r.list(ctx, qb, limit, offset)
}

func (r *repoPG) PendingReports(ctx context.Context, requestedBy uuid.UUID, limit, offset int) ([]*Diagnosis, int, error) {
	qb := db.NewSearchQuery(diagnosisFrom+` JOIN medical_orders o ON o.id = x.order_id`, diagnosisCols)
	qb.AddEq("o.requested_by", requestedBy)
	qb.Add("x.is_analyzed")
	qb.AddEq("o.status", "COMPLETED")
	qb.Add("d.is_reviewed")
	qb.Add("NOT EXISTS (SELECT 1 FROM medical_reports mr WHERE mr.diagnosis_id = d.id)")
	qb.OrderBy("d.created_at DESC")
	return r.list(ctx, qb, limit, offset)
}

func (r *repoPG) list(ctx context.Context, qb *db.SearchQuery, limit, offset int) ([]*Diagnosis, int, error) {
	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, qb.CountSQL(), qb.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := conn.Query(ctx, qb.DataSQL(limit, offset), qb.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Diagnosis
	for rows.Next() {
		d, err := scanDiagnosis(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, d)
	}
	return out, total, rows.Err()
}

func scanDiagnosis(row pgx.Row) (*Diagnosis, error) {
	var d Diagnosis
	var raw []byte
	err := row.Scan(&d.ID, &d.XRayID, &d.OrderID, &d.PatientID,
		&d.PredictedClass, &d.ClassID, &d.Confidence, &raw, &d.ProcessingTime, &d.Status,
		&d.ErrorMessage, &d.SuggestedSeverity, &d.AutoNotes,
		&d.IsReviewed, &d.ReviewedBy, &d.ReviewedAt,
		&d.RadiologistID, &d.RadiologistNotes, &d.RadiologistReviewedAt, &d.Severity,
		&d.PhysicianID, &d.PhysicianNotes, &d.ApprovedAt,
		&d.Version, &d.CreatedBy, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(raw) > 0 {
		d.RawResponse = raw
	}
	return &d, nil
}
