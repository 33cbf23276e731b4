package repository

import (
	"context"
	"database/sql"
	"errors"
)

// TokenRepo persists device push tokens (single 'push_token' column on users).
type TokenRepo struct{ DB *sql.DB }

func NewTokenRepo(db *sql.DB) *TokenRepo { return &TokenRepo{DB: db} }

// PushToken returns the user's registered token, or "" when none is stored
// or the user no longer exists.
func (r *TokenRepo) PushToken(ctx context.Context, userID string) (string, error) {
	var token sql.NullString
	err := r.DB.QueryRowContext(ctx,
		"SELECT push_token FROM users WHERE id=? LIMIT 1", userID).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return token.String, nil
}

// SetPushToken stores token for the user, replacing any previous one.
func (r *TokenRepo) SetPushToken(ctx context.Context, userID, token string) error {
	res, err := r.DB.ExecContext(ctx, "UPDATE users SET push_token=? WHERE id=?", token, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	// MySQL reports zero affected rows when the value is unchanged.
	var one int
	err = r.DB.QueryRowContext(ctx, "SELECT 1 FROM users WHERE id=? LIMIT 1", userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// ClearPushToken removes the user's token only if it still equals token, so a
// token refreshed in the meantime is not lost. It reports whether a row changed.
func (r *TokenRepo) ClearPushToken(ctx context.Context, userID, token string) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE users SET push_token=NULL WHERE id=? AND push_token=?", userID, token)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RemovePushToken drops whatever token the user has registered.
func (r *TokenRepo) RemovePushToken(ctx context.Context, userID string) error {
	_, err := r.DB.ExecContext(ctx, "UPDATE users SET push_token=NULL WHERE id=?", userID)
	return err
}
