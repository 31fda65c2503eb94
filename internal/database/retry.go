package database

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	gerrors "bbsm-garage/internal/errors"
)

// Postgres SQLSTATEs that mean "the transaction lost a race, run it again".
var retryableSQLStates = map[string]struct{}{
	"40001": {}, // serialization_failure
	"40P01": {}, // deadlock_detected
	"55P03": {}, // lock_not_available
}

// IsRetryable reports whether err is store-level contention rather than a
// domain or infrastructure failure.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		_, ok := retryableSQLStates[pgErr.Code]
		return ok
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// Transact runs fn in a transaction, re-running it when the store aborts it
// for contention. Exhausting maxAttempts yields a Conflict error. Domain
// errors returned by fn are never retried.
func Transact(ctx context.Context, db *gorm.DB, maxAttempts int, fn func(tx *gorm.DB) error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = db.WithContext(ctx).Transaction(fn)
		if !IsRetryable(lastErr) {
			return lastErr
		}
		log.Warn().Err(lastErr).Int("attempt", attempt).Msg("transaction aborted by contention, retrying")
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	log.Error().Err(lastErr).Int("attempts", maxAttempts).Msg("transaction kept losing to concurrent writers, giving up")
	return gerrors.Conflict(maxAttempts, lastErr)
}
