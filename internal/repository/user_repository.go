package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/iliyamo/community-gate/internal/model"
)

// UserRepo persists users and their household memberships.
type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

const userColumns = "id, email, password_hash, role, household_id, push_token, created_at"

// Create inserts a user. When the user belongs to a household, the household
// row is created if missing and the membership is recorded in the same
// transaction.
func (r *UserRepo) Create(ctx context.Context, u model.User) error {
	u.Email = normalizeEmail(u.Email)
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx,
		"INSERT INTO users (id, email, password_hash, role, household_id, created_at) VALUES (?,?,?,?,?,?)",
		u.ID, u.Email, u.PasswordHash, string(u.Role), nullString(u.HouseholdID), toMillis(u.CreatedAt))
	if err != nil {
		if isDuplicate(err) {
			return ErrEmailExists
		}
		return err
	}
	if u.HouseholdID != nil && *u.HouseholdID != "" {
		if err := addMemberTx(ctx, tx, *u.HouseholdID, u.ID, u.CreatedAt); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// GetByEmail fetches a user by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	row := r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE email = ? LIMIT 1", normalizeEmail(email))
	return scanUserRow(row)
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id string) (model.User, error) {
	row := r.DB.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ? LIMIT 1", id)
	return scanUserRow(row)
}

// List returns every user ordered by creation time, newest first.
func (r *UserRepo) List(ctx context.Context) ([]model.User, error) {
	return r.query(ctx, "SELECT "+userColumns+" FROM users ORDER BY created_at DESC, id")
}

// ListByRole returns every user holding role.
func (r *UserRepo) ListByRole(ctx context.Context, role model.Role) ([]model.User, error) {
	return r.query(ctx, "SELECT "+userColumns+" FROM users WHERE role = ? ORDER BY created_at, id", string(role))
}

// Delete removes a user and its household memberships. Visitors and audit
// events referencing the user are kept for history.
func (r *UserRepo) Delete(ctx context.Context, id string) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	res, err := tx.ExecContext(ctx, "DELETE FROM users WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM household_members WHERE user_id = ?", id); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// Household returns a household with its member ids.
func (r *UserRepo) Household(ctx context.Context, id string) (model.Household, error) {
	var (
		h         model.Household
		createdAt int64
	)
	err := r.DB.QueryRowContext(ctx, "SELECT id, created_at FROM households WHERE id = ?", id).Scan(&h.ID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Household{}, ErrNotFound
	}
	if err != nil {
		return model.Household{}, err
	}
	h.CreatedAt = fromMillis(createdAt)
	rows, err := r.DB.QueryContext(ctx, "SELECT user_id FROM household_members WHERE household_id = ? ORDER BY user_id", id)
	if err != nil {
		return model.Household{}, err
	}
	defer rows.Close()
	h.Members = []string{}
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return model.Household{}, err
		}
		h.Members = append(h.Members, uid)
	}
	return h, rows.Err()
}

func (r *UserRepo) query(ctx context.Context, q string, args ...any) ([]model.User, error) {
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// addMemberTx upserts the household and the membership row. Duplicate-key
// errors are treated as already present.
func addMemberTx(ctx context.Context, tx *sql.Tx, householdID, userID string, at time.Time) error {
	if _, err := tx.ExecContext(ctx, "INSERT INTO households (id, created_at) VALUES (?, ?)",
		householdID, toMillis(at)); err != nil && !isDuplicate(err) {
		return err
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO household_members (household_id, user_id) VALUES (?, ?)",
		householdID, userID); err != nil && !isDuplicate(err) {
		return err
	}
	return nil
}

func scanUserRow(row *sql.Row) (model.User, error) {
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, ErrNotFound
	}
	return u, err
}

func scanUser(s rowScanner) (model.User, error) {
	var (
		u                    model.User
		role                 string
		household, pushToken sql.NullString
		createdAt            int64
	)
	if err := s.Scan(&u.ID, &u.Email, &u.PasswordHash, &role, &household, &pushToken, &createdAt); err != nil {
		return model.User{}, err
	}
	u.Role = model.Role(role)
	u.HouseholdID = stringPtr(household)
	u.PushToken = stringPtr(pushToken)
	u.CreatedAt = fromMillis(createdAt)
	return u, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
