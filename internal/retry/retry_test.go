package retry

import (
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockmarket-core/internal/apperr"
)

func TestIsDeadlock_MatchesDeadlockSQLSTATE(t *testing.T) {
	assert.True(t, IsDeadlock(&pq.Error{Code: pqDeadlockCode}))
}

func TestIsDeadlock_RejectsOtherSQLSTATE(t *testing.T) {
	assert.False(t, IsDeadlock(&pq.Error{Code: "23505"}))
}

func TestIsDeadlock_RejectsNonPQError(t *testing.T) {
	assert.False(t, IsDeadlock(driver.ErrBadConn))
	assert.False(t, IsDeadlock(errors.New("boom")))
	assert.False(t, IsDeadlock(nil))
}

func TestDo_SucceedsWithoutRetry(t *testing.T) {
	calls := 0
	err := Do("op", func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_NonDeadlockErrorPropagatesImmediately(t *testing.T) {
	want := apperr.InvalidInput("bad input")
	calls := 0
	err := Do("op", func() error {
		calls++
		return want
	})
	assert.Same(t, want, err)
	assert.Equal(t, 1, calls, "a non-deadlock error must not be retried")
}

func TestDo_RetriesDeadlockThenSucceeds(t *testing.T) {
	calls := 0
	start := time.Now()
	err := Do("op", func() error {
		calls++
		if calls < 2 {
			return &pq.Error{Code: pqDeadlockCode}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.GreaterOrEqual(t, time.Since(start), initialDelay)
}

func TestDo_ExhaustsRetriesAndReturnsTransientConflict(t *testing.T) {
	calls := 0
	err := Do("place_order", func() error {
		calls++
		return &pq.Error{Code: pqDeadlockCode}
	})
	assert.Equal(t, maxAttempts, calls)
	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.CodeTransientConflict, ae.Code)
	assert.Contains(t, ae.Message, "place_order")
}
