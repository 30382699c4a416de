package dbx

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sethvargo/go-retry"
)

// PostgreSQL SQLSTATE codes inspected by the helpers below.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeUniqueViolation      = "23505"
)

// ErrConflict marks a write that lost a race to a concurrent transaction
// and is worth replaying. Repositories wrap it, e.g. on a primary key
// collision of a generated id.
var ErrConflict = errors.New("concurrent write conflict")

// RetryBaseDelay is the first backoff step used by WithTxRetry.
var RetryBaseDelay = 10 * time.Millisecond

// IsTransient reports whether err is a serialization failure, deadlock or
// ErrConflict, i.e. a conflict that may succeed when the whole transaction is
// replayed.
func IsTransient(err error) bool {
	if errors.Is(err, ErrConflict) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == codeSerializationFailure || pgErr.Code == codeDeadlockDetected
	}
	return false
}

// IsUniqueViolation reports whether err is a unique-constraint violation,
// optionally restricted to a named constraint.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != codeUniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

// WithTxRetry runs fn inside WithTx and replays the whole transaction when it
// fails with a transient error. At most attempts transactions are started.
// Any other error, including business-rule errors returned by fn, is returned
// unchanged after the first attempt.
func WithTxRetry(ctx context.Context, db *sql.DB, opts *sql.TxOptions, attempts uint64, fn func(ctx context.Context, tx DBTX) error) error {
	if attempts == 0 {
		attempts = 1
	}

	b := retry.NewExponential(RetryBaseDelay)
	b = retry.WithJitterPercent(25, b)
	b = retry.WithMaxRetries(attempts-1, b)

	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := WithTx(ctx, db, opts, fn)
		if IsTransient(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}
