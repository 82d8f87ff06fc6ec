// Package retry wraps a ledger/matching operation in the exponential
// backoff the spec mandates for deadlock contention on FOR UPDATE rows:
// three attempts, 100ms initial delay, factor 2.
package retry

import (
	"errors"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"stockmarket-core/internal/apperr"
)

const (
	maxAttempts  = 3
	initialDelay = 100 * time.Millisecond
	backoffFactor = 2
)

// pqDeadlockCode is Postgres' SQLSTATE for "deadlock_detected".
const pqDeadlockCode = "40P01"

// IsDeadlock reports whether err is a Postgres deadlock error.
func IsDeadlock(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == pqDeadlockCode
	}
	return false
}

// Do runs fn, retrying on deadlock up to maxAttempts times with
// exponential backoff. Non-deadlock errors propagate immediately.
func Do(op string, fn func() error) error {
	delay := initialDelay
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !IsDeadlock(err) {
			return err
		}
		if attempt == maxAttempts {
			break
		}
		log.Warn().Str("op", op).Int("attempt", attempt).Dur("delay", delay).
			Msg("retrying after deadlock")
		time.Sleep(delay)
		delay *= backoffFactor
	}
	return apperr.TransientConflict(op + ": exhausted retries after deadlock: " + err.Error())
}
