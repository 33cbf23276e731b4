package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/iliyamo/community-gate/internal/model"
)

// VisitorRepo persists visitor passes. Rows are never deleted; status only
// moves through TransitionStatus, which applies a compare-and-swap on the
// status column.
type VisitorRepo struct{ db *sql.DB }

// NewVisitorRepo returns a VisitorRepo bound to db.
func NewVisitorRepo(db *sql.DB) *VisitorRepo { return &VisitorRepo{db: db} }

const visitorColumns = `id, name, phone, purpose, status, household_id, created_by, created_at,
	approved_by, approved_at, denied_by, denied_at, denial_reason,
	checked_in_by, checked_in_at, checked_out_by, checked_out_at`

// Create inserts a new visitor row.
func (r *VisitorRepo) Create(ctx context.Context, v model.Visitor) error {
	const q = `INSERT INTO visitors (id, name, phone, purpose, status, household_id, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, q,
		v.ID, v.Name, v.Phone, v.Purpose, string(v.Status), nullString(v.HouseholdID), v.CreatedBy, toMillis(v.CreatedAt))
	return err
}

// GetByID loads one visitor. It returns ErrNotFound when the id is unknown.
func (r *VisitorRepo) GetByID(ctx context.Context, id string) (model.Visitor, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+visitorColumns+" FROM visitors WHERE id = ? LIMIT 1", id)
	v, err := scanVisitor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Visitor{}, ErrNotFound
	}
	return v, err
}

// List returns visitors matching f, newest first.
func (r *VisitorRepo) List(ctx context.Context, f model.VisitorFilter) ([]model.Visitor, error) {
	q := "SELECT " + visitorColumns + " FROM visitors WHERE 1=1"
	var args []any
	if f.HouseholdID != nil {
		q += " AND household_id = ?"
		args = append(args, *f.HouseholdID)
	}
	if f.CreatedBy != nil {
		q += " AND created_by = ?"
		args = append(args, *f.CreatedBy)
	}
	if f.Status != "" {
		q += " AND status = ?"
		args = append(args, string(f.Status))
	}
	q += " ORDER BY created_at DESC, id DESC"

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Visitor, 0)
	for rows.Next() {
		v, err := scanVisitor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// TransitionStatus moves a visitor from t.From to t.To and writes the stamp
// columns owned by t.To, but only while the stored status still equals
// t.From. When no row matches it returns ErrNotFound for an unknown id and
// ErrStatusMismatch when another writer got there first.
func (r *VisitorRepo) TransitionStatus(ctx context.Context, id string, t model.Transition) error {
	var (
		set  string
		args []any
	)
	switch t.To {
	case model.StatusApproved:
		set = "approved_by = ?, approved_at = ?"
		args = []any{t.ActorID, toMillis(t.At)}
	case model.StatusDenied:
		set = "denied_by = ?, denied_at = ?, denial_reason = ?"
		args = []any{t.ActorID, toMillis(t.At), t.Reason}
	case model.StatusCheckedIn:
		set = "checked_in_by = ?, checked_in_at = ?"
		args = []any{t.ActorID, toMillis(t.At)}
	case model.StatusCheckedOut:
		set = "checked_out_by = ?, checked_out_at = ?"
		args = []any{t.ActorID, toMillis(t.At)}
	default:
		return fmt.Errorf("no stamp columns for status %q", t.To)
	}
	q := "UPDATE visitors SET status = ?, " + set + " WHERE id = ? AND status = ?"
	args = append([]any{string(t.To)}, args...)
	args = append(args, id, string(t.From))

	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	var exists int
	err = r.db.QueryRowContext(ctx, "SELECT 1 FROM visitors WHERE id = ?", id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrStatusMismatch
}

func scanVisitor(s rowScanner) (model.Visitor, error) {
	var (
		v                                 model.Visitor
		status                            string
		household, approvedBy, deniedBy   sql.NullString
		reason, checkedInBy, checkedOutBy sql.NullString
		createdAt                         int64
		approvedAt, deniedAt, inAt, outAt sql.NullInt64
	)
	err := s.Scan(&v.ID, &v.Name, &v.Phone, &v.Purpose, &status, &household, &v.CreatedBy, &createdAt,
		&approvedBy, &approvedAt, &deniedBy, &deniedAt, &reason,
		&checkedInBy, &inAt, &checkedOutBy, &outAt)
	if err != nil {
		return model.Visitor{}, err
	}
	v.Status = model.Status(status)
	v.HouseholdID = stringPtr(household)
	v.CreatedAt = fromMillis(createdAt)
	v.ApprovedBy, v.ApprovedAt = stringPtr(approvedBy), timePtr(approvedAt)
	v.DeniedBy, v.DeniedAt, v.DenialReason = stringPtr(deniedBy), timePtr(deniedAt), stringPtr(reason)
	v.CheckedInBy, v.CheckedInAt = stringPtr(checkedInBy), timePtr(inAt)
	v.CheckedOutBy, v.CheckedOutAt = stringPtr(checkedOutBy), timePtr(outAt)
	return v, nil
}
