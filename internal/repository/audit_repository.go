package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/community-gate/internal/model"
)

// AuditRepo is the append-only store for audit events.
type AuditRepo struct{ DB *sql.DB }

func NewAuditRepo(db *sql.DB) *AuditRepo { return &AuditRepo{DB: db} }

// Insert appends one event. Payload is stored verbatim.
func (r *AuditRepo) Insert(ctx context.Context, e model.AuditRecord) error {
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO audit_events (id, type, actor_user_id, payload, occurred_at) VALUES (?,?,?,?,?)",
		e.ID, string(e.Type), e.ActorID, string(e.Payload), toMillis(e.OccurredAt))
	return err
}

// Recent returns at most limit events, newest first. Ties on occurred_at
// fall back to id, which is time-ordered for ids minted by audit.Log.
func (r *AuditRepo) Recent(ctx context.Context, limit int) ([]model.AuditRecord, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT id, type, actor_user_id, payload, occurred_at FROM audit_events ORDER BY occurred_at DESC, id DESC LIMIT ?",
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.AuditRecord, 0, limit)
	for rows.Next() {
		var (
			e          model.AuditRecord
			typ, body  string
			occurredAt int64
		)
		if err := rows.Scan(&e.ID, &typ, &e.ActorID, &body, &occurredAt); err != nil {
			return nil, err
		}
		e.Type = model.EventType(typ)
		e.Payload = []byte(body)
		e.OccurredAt = fromMillis(occurredAt)
		out = append(out, e)
	}
	return out, rows.Err()
}
