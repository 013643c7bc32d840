package report

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pyneumonia/pyneumonia/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const reportFrom = `medical_reports r
	JOIN diagnoses d ON d.id = r.diagnosis_id
	JOIN xray_images x ON x.id = d.xray_id`

const reportCols = `r.id, r.diagnosis_id, d.xray_id, x.order_id, x.patient_id,
	r.title, r.findings, r.impression, r.recommendations, r.status,
	r.created_by, r.received_by, r.received_at, r.created_at, r.updated_at`

var searchFilters = map[string]db.Filter{
	"status":     {Type: db.FilterUpper, Column: "r.status"},
	"diagnosis":  {Type: db.FilterUUID, Column: "r.diagnosis_id"},
	"order":      {Type: db.FilterUUID, Column: "x.order_id"},
	"patient":    {Type: db.FilterUUID, Column: "x.patient_id"},
	"created_by": {Type: db.FilterUUID, Column: "r.created_by"},
	"received":   {Type: db.FilterBool, Column: "(r.received_by IS NOT NULL)"},
}

func (r *repoPG) Create(ctx context.Context, rep *Report) error {
	rep.ID = uuid.New()
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO medical_reports (id, diagnosis_id, title, findings, impression, recommendations, status, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at, updated_at`,
		rep.ID, rep.DiagnosisID, rep.Title, rep.Findings, rep.Impression, rep.Recommendations,
		rep.Status, rep.CreatedBy,
	).Scan(&rep.CreatedAt, &rep.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Report, error) {
	rep, err := scanReport(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+reportCols+` FROM `+reportFrom+` WHERE r.id = $1`, id))
	return rep, db.NotFound(err)
}

func (r *repoPG) Update(ctx context.Context, rep *Report) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE medical_reports SET title=$2, findings=$3, impression=$4, recommendations=$5, status=$6,
			updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		rep.ID, rep.Title, rep.Findings, rep.Impression, rep.Recommendations, rep.Status,
	).Scan(&rep.UpdatedAt)
	return db.NotFound(err)
}

func (r *repoPG) SaveReceipt(ctx context.Context, rep *Report) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE medical_reports SET status=$2, received_by=$3, received_at=$4, updated_at=NOW()
		WHERE id = $1 AND status = 'DRAFT' AND received_by IS NULL`,
		rep.ID, rep.Status, rep.ReceivedBy, rep.ReceivedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotReceivable
	}
	return nil
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM medical_reports WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (r *repoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Report, int, error) {
	qb := db.NewSearchQuery(reportFrom, reportCols)
	qb.ApplyParams(params, searchFilters)
	if q := params["q"]; q != "" {
		n := qb.Idx()
		qb.Add(fmt.Sprintf("(r.title ILIKE $%d OR r.findings ILIKE $%d OR r.impression ILIKE $%d)", n, n, n), "%"+q+"%")
	}
	qb.OrderBy("r.created_at DESC")

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

	var reports []*Report
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, 0, err
		}
		reports = append(reports, rep)
	}
	return reports, total, rows.Err()
}

func scanReport(row pgx.Row) (*Report, error) {
	var rep Report
	err := row.Scan(&rep.ID, &rep.DiagnosisID, &rep.XRayID, &rep.OrderID, &rep.PatientID,
		&rep.Title, &rep.Findings, &rep.Impression, &rep.Recommendations, &rep.Status,
		&rep.CreatedBy, &rep.ReceivedBy, &rep.ReceivedAt, &rep.CreatedAt, &rep.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &rep, nil
}
