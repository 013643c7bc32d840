package patient

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pyneumonia/pyneumonia/internal/platform/apierr"
	"github.com/pyneumonia/pyneumonia/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const patientCols = `id, dni, first_name, last_name, date_of_birth, gender,
	phone, email, address, blood_type, allergies, medical_history,
	is_active, created_by, created_at, updated_at`

var searchFilters = map[string]db.Filter{
	"dni":        {Type: db.FilterExact, Column: "dni"},
	"gender":     {Type: db.FilterUpper, Column: "gender"},
	"blood_type": {Type: db.FilterUpper, Column: "blood_type"},
	"active":     {Type: db.FilterBool, Column: "is_active"},
	"created_by": {Type: db.FilterUUID, Column: "created_by"},
}

func (r *repoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO patients (id, dni, first_name, last_name, date_of_birth, gender,
			phone, email, address, blood_type, allergies, medical_history, is_active, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING created_at, updated_at`,
		p.ID, p.DNI, p.FirstName, p.LastName, p.DateOfBirth, p.Gender,
		p.Phone, p.Email, p.Address, p.BloodType, p.Allergies, p.MedicalHistory, p.IsActive, p.CreatedBy,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if db.IsUniqueViolation(err, "patients_dni_key") {
		return apierr.Validation("dni", "a patient with this dni already exists")
	}
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := scanPatient(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+patientCols+` FROM patients WHERE id = $1`, id))
	return p, db.NotFound(err)
}

func (r *repoPG) GetByDNI(ctx context.Context, dni string) (*Patient, error) {
	p, err := scanPatient(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+patientCols+` FROM patients WHERE dni = $1`, dni))
	return p, db.NotFound(err)
}

func (r *repoPG) Update(ctx context.Context, p *Patient) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE patients SET
			dni=$2, first_name=$3, last_name=$4, date_of_birth=$5, gender=$6,
			phone=$7, email=$8, address=$9, blood_type=$10, allergies=$11, medical_history=$12,
			is_active=$13, updated_at=NOW()
		WHERE id = $1`,
		p.ID, p.DNI, p.FirstName, p.LastName, p.DateOfBirth, p.Gender,
		p.Phone, p.Email, p.Address, p.BloodType, p.Allergies, p.MedicalHistory, p.IsActive,
	)
	if db.IsUniqueViolation(err, "patients_dni_key") {
		return apierr.Validation("dni", "a patient with this dni already exists")
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (r *repoPG) Deactivate(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE patients SET is_active = FALSE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (r *repoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Patient, int, error) {
	qb := db.NewSearchQuery("patients", patientCols)
	if q, ok := params["q"]; ok && q != "" {
		idx := qb.Idx()
		qb.Add(fmt.Sprintf("(first_name ILIKE $%d OR last_name ILIKE $%d OR dni ILIKE $%d OR email ILIKE $%d)", idx, idx, idx, idx), "%"+q+"%")
	}
	if name, ok := params["name"]; ok && name != "" {
		idx := qb.Idx()
		qb.Add(fmt.Sprintf("(first_name ILIKE $%d OR last_name ILIKE $%d)", idx, idx), "%"+name+"%")
	}
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

	var patients []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		patients = append(patients, p)
	}
	return patients, total, rows.Err()
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(
		&p.ID, &p.DNI, &p.FirstName, &p.LastName, &p.DateOfBirth, &p.Gender,
		&p.Phone, &p.Email, &p.Address, &p.BloodType, &p.Allergies, &p.MedicalHistory,
		&p.IsActive, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
