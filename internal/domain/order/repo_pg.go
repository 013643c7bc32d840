package order

import (
	"context"
	"errors"

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

const orderCols = `id, patient_id, requested_by, order_type, reason, clinical_notes,
	priority, status, scheduled_date, completed_date, created_at, updated_at`

var searchFilters = map[string]db.Filter{
	"patient":      {Type: db.FilterUUID, Column: "patient_id"},
	"status":       {Type: db.FilterUpper, Column: "status"},
	"priority":     {Type: db.FilterUpper, Column: "priority"},
	"requested_by": {Type: db.FilterUUID, Column: "requested_by"},
	"reason":       {Type: db.FilterText, Column: "reason"},
}

func (r *repoPG) Create(ctx context.Context, o *Order) error {
	o.ID = uuid.New()
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO medical_orders (id, patient_id, requested_by, order_type, reason, clinical_notes,
			priority, status, scheduled_date, completed_date)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at, updated_at`,
		o.ID, o.PatientID, o.RequestedBy, o.OrderType, o.Reason, o.ClinicalNotes,
		o.Priority, o.Status, o.ScheduledDate, o.CompletedDate,
	).Scan(&o.CreatedAt, &o.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	o, err := scanOrder(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+orderCols+` FROM medical_orders WHERE id = $1`, id))
	return o, db.NotFound(err)
}

func (r *repoPG) Update(ctx context.Context, o *Order) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE medical_orders SET reason=$2, clinical_notes=$3, priority=$4, scheduled_date=$5, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		o.ID, o.Reason, o.ClinicalNotes, o.Priority, o.ScheduledDate,
	).Scan(&o.UpdatedAt)
	return db.NotFound(err)
}

func (r *repoPG) SaveStatus(ctx context.Context, o *Order) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE medical_orders SET status=$2, scheduled_date=$3, completed_date=$4, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		o.ID, o.Status, o.ScheduledDate, o.CompletedDate,
	).Scan(&o.UpdatedAt)
	return db.NotFound(err)
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM medical_orders WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (r *repoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Order, int, error) {
	qb := db.NewSearchQuery("medical_orders", orderCols)
	qb.ApplyParams(params, searchFilters)
	qb.OrderBy("created_at DESC")

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

	var orders []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		orders = append(orders, o)
	}
	return orders, total, rows.Err()
}

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.PatientID, &o.RequestedBy, &o.OrderType, &o.Reason, &o.ClinicalNotes,
		&o.Priority, &o.Status, &o.ScheduledDate, &o.CompletedDate, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

type patientCheckerPG struct {
	pool *pgxpool.Pool
}

// NewPatientChecker looks patients up directly so the order package does not
// depend on the patient service.
func NewPatientChecker(pool *pgxpool.Pool) PatientChecker {
	return &patientCheckerPG{pool: pool}
}

func (p *patientCheckerPG) PatientActive(ctx context.Context, id uuid.UUID) (bool, error) {
	var active bool
	err := db.Conn(ctx, p.pool).QueryRow(ctx, `SELECT is_active FROM patients WHERE id = $1`, id).Scan(&active)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return active, err
}
