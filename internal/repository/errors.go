// Package repository implements the SQL persistence for visitors, users,
// households, push tokens and audit events. Statements are written against
// the portable subset shared by MySQL and SQLite.
//
// The sentinel errors below let higher layers distinguish failure scenarios
// without inspecting driver errors.
package repository

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// ErrNotFound is returned when the addressed row does not exist.
var ErrNotFound = errors.New("not found")

// ErrStatusMismatch is returned by a conditional status write when the
// stored status no longer equals the expected precondition.
var ErrStatusMismatch = errors.New("status mismatch")

// ErrEmailExists is returned when a user with the same email already exists.
var ErrEmailExists = errors.New("email already exists")

// isDuplicate reports unique-key violations from either driver.
func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
