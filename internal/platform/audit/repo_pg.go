package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pyneumonia/pyneumonia/internal/platform/db"
)

// PGSink stores events in the audit_log table. When called inside a
// transaction started by db.TxRunner the row commits with the change.
type PGSink struct {
	pool *pgxpool.Pool
}

func NewPGSink(pool *pgxpool.Pool) *PGSink {
	return &PGSink{pool: pool}
}

const auditCols = `id, table_name, record_id, action, actor_id, details, created_at`

func (s *PGSink) Record(ctx context.Context, evt Event) error {
	details, err := json.Marshal(evt.Details)
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}
	_, err = db.Conn(ctx, s.pool).Exec(ctx, `
		INSERT INTO audit_log (`+auditCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		evt.ID, evt.Table, evt.RecordID, evt.Action, evt.ActorID, details, evt.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit_log: %w", err)
	}
	return nil
}

func scanEvent(row pgx.Row) (*Event, error) {
	var evt Event
	var details []byte
	if err := row.Scan(&evt.ID, &evt.Table, &evt.RecordID, &evt.Action, &evt.ActorID, &details, &evt.CreatedAt); err != nil {
		return nil, err
	}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &evt.Details); err != nil {
			return nil, fmt.Errorf("decode audit details: %w", err)
		}
	}
	return &evt, nil
}

var auditFilters = map[string]db.Filter{
	"table":     {Type: db.FilterExact, Column: "table_name"},
	"record_id": {Type: db.FilterUUID, Column: "record_id"},
	"action":    {Type: db.FilterUpper, Column: "action"},
	"actor_id":  {Type: db.FilterUUID, Column: "actor_id"},
}

// Search lists events newest first, filtered by table, record_id, action
// and actor_id.
func (s *PGSink) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Event, int, error) {
	qb := db.NewSearchQuery("audit_log", auditCols)
	qb.ApplyParams(params, auditFilters)
	qb.OrderBy("created_at DESC")

	conn := db.Conn(ctx, s.pool)
	var total int
	if err := conn.QueryRow(ctx, qb.CountSQL(), qb.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit_log: %w", err)
	}

	rows, err := conn.Query(ctx, qb.DataSQL(limit, offset), qb.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("query audit_log: %w", err)
	}
	defer rows.Close()

	var items []*Event
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, evt)
	}
	return items, total, rows.Err()
}
