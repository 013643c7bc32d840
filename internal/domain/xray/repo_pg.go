package xray

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pyneumonia/pyneumonia/internal/platform/db"
	"github.com/pyneumonia/pyneumonia/internal/platform/imaging"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const imageCols = `id, order_id, patient_id, object_key, file_name, content_type, size_bytes, sha256,
	format, width, height, dicom, description, quality, view_position, is_analyzed,
	uploaded_by, uploaded_at, updated_at`

var searchFilters = map[string]db.Filter{
	"patient":       {Type: db.FilterUUID, Column: "patient_id"},
	"order":         {Type: db.FilterUUID, Column: "order_id"},
	"analyzed":      {Type: db.FilterBool, Column: "is_analyzed"},
	"quality":       {Type: db.FilterUpper, Column: "quality"},
	"view_position": {Type: db.FilterUpper, Column: "view_position"},
	"uploaded_by":   {Type: db.FilterUUID, Column: "uploaded_by"},
	"format":        {Type: db.FilterExact, Column: "format"},
}

func marshalDICOM(m *imaging.DICOMMetadata) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal dicom metadata: %w", err)
	}
	return b, nil
}

func (r *repoPG) Create(ctx context.Context, img *Image) error {
	img.ID = uuid.New()
	dicomJSON, err := marshalDICOM(img.DICOM)
	if err != nil {
		return err
	}
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO xray_images (id, order_id, patient_id, object_key, file_name, content_type, size_bytes,
			sha256, format, width, height, dicom, description, quality, view_position, is_analyzed, uploaded_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		RETURNING uploaded_at, updated_at`,
		img.ID, img.OrderID, img.PatientID, img.ObjectKey, img.FileName, img.ContentType, img.SizeBytes,
		img.SHA256, img.Format, img.Width, img.Height, dicomJSON, img.Description, img.Quality,
		img.ViewPosition, img.IsAnalyzed, img.UploadedBy,
	).Scan(&img.UploadedAt, &img.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Image, error) {
	img, err := scanImage(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+imageCols+` FROM xray_images WHERE id = $1`, id))
	return img, db.NotFound(err)
}

func (r *repoPG) GetByOrder(ctx context.Context, orderID uuid.UUID) (*Image, error) {
	img, err := scanImage(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+imageCols+` FROM xray_images WHERE order_id = $1`, orderID))
	return img, db.NotFound(err)
}

func (r *repoPG) Replace(ctx context.Context, img *Image) error {
	dicomJSON, err := marshalDICOM(img.DICOM)
	if err != nil {
		return err
	}
	err = db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE xray_images SET object_key=$2, file_name=$3, content_type=$4, size_bytes=$5, sha256=$6,
			format=$7, width=$8, height=$9, dicom=$10, description=$11, quality=$12, view_position=$13,
			is_analyzed=FALSE, uploaded_by=$14, uploaded_at=NOW(), updated_at=NOW()
		WHERE id = $1
		RETURNING uploaded_at, updated_at`,
		img.ID, img.ObjectKey, img.FileName, img.ContentType, img.SizeBytes, img.SHA256,
		img.Format, img.Width, img.Height, dicomJSON, img.Description, img.Quality, img.ViewPosition,
		img.UploadedBy,
	).Scan(&img.UploadedAt, &img.UpdatedAt)
	img.IsAnalyzed = false
	return db.NotFound(err)
}

func (r *repoPG) SetAnalyzed(ctx context.Context, id uuid.UUID, analyzed bool) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE xray_images SET is_analyzed = $2, updated_at = NOW() WHERE id = $1`, id, analyzed)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM xray_images WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (r *repoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Image, int, error) {
	qb := db.NewSearchQuery("xray_images", imageCols)
	qb.ApplyParams(params, searchFilters)
	qb.OrderBy("uploaded_at DESC")

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

	var images []*Image
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, 0, err
		}
		images = append(images, img)
	}
	return images, total, rows.Err()
}

func scanImage(row pgx.Row) (*Image, error) {
	var img Image
	var sha, format *string
	var width, height *int
	var dicomJSON []byte
	err := row.Scan(&img.ID, &img.OrderID, &img.PatientID, &img.ObjectKey, &img.FileName, &img.ContentType,
		&img.SizeBytes, &sha, &format, &width, &height, &dicomJSON, &img.Description, &img.Quality,
		&img.ViewPosition, &img.IsAnalyzed, &img.UploadedBy, &img.UploadedAt, &img.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if sha != nil {
		img.SHA256 = *sha
	}
	if format != nil {
		img.Format = *format
	}
	if width != nil {
		img.Width = *width
	}
	if height != nil {
		img.Height = *height
	}
	if len(dicomJSON) > 0 {
		var m imaging.DICOMMetadata
		if err := json.Unmarshal(dicomJSON, &m); err != nil {
			return nil, fmt.Errorf("decode dicom metadata: %w", err)
		}
		img.DICOM = &m
	}
	return &img, nil
}
