package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

var (
	// ErrReminderLimit is returned when a user already holds the maximum
	// number of active reminders for an event.
	ErrReminderLimit = errors.New("active reminder limit reached")
	// ErrExceptionExists is returned when a replacement is recorded for a day
	// that already has an exception.
	ErrExceptionExists = errors.New("exception already exists for date")
)

// Queryable represents a database handle that can execute queries.
// Both *sqlx.DB and *sqlx.Tx implement this interface.
type Queryable interface {
	sqlx.ExtContext
}

// BaseRepository provides common functionality for all repositories.
type BaseRepository struct {
	db *DB
}

// NewBaseRepository creates a new base repository with the given database connection.
func NewBaseRepository(db *DB) BaseRepository {
	return BaseRepository{db: db}
}

// DB returns the underlying database connection.
func (r *BaseRepository) DB() *DB {
	return r.db
}

// Now returns the current time in UTC for database timestamps.
func (r *BaseRepository) Now() time.Time {
	return time.Now().UTC()
}

// Transaction executes a function within a database transaction.
func (r *BaseRepository) Transaction(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	return r.db.Transaction(ctx, fn)
}

// get runs a single-row query written with ? placeholders.
func get(ctx context.Context, q Queryable, dest interface{}, query string, args ...interface{}) error {
	return sqlx.GetContext(ctx, q, dest, q.Rebind(query), args...)
}

// selectAll runs a multi-row query written with ? placeholders.
func selectAll(ctx context.Context, q Queryable, dest interface{}, query string, args ...interface{}) error {
	return sqlx.SelectContext(ctx, q, dest, q.Rebind(query), args...)
}

// exec runs a statement written with ? placeholders and returns the number
// of affected rows.
func exec(ctx context.Context, q Queryable, query string, args ...interface{}) (int64, error) {
	result, err := q.ExecContext(ctx, q.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// GenerateID creates a new random UUID for use as a primary key.
func GenerateID() string {
	return uuid.NewString()
}
