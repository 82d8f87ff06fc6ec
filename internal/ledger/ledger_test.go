package ledger

import (
	"context"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockmarket-core/internal/apperr"
)

func TestDepositCreatesRowAndCredits(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO balances`)).
		WithArgs("u1", "AAA").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE balances SET amount = amount + $1 WHERE user_id = $2 AND ticker = $3`)).
		WithArgs(int64(100), "u1", "AAA").WillReturnResult(sqlmock.NewResult(0, 1))

	err = Deposit(context.Background(), db, "u1", "AAA", 100)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDepositRejectsNonPositive(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	err = Deposit(context.Background(), db, "u1", "AAA", 0)
	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.CodeInvalidInput, ae.Code)
}

func TestWithdrawInsufficientFunds(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO balances`)).
		WithArgs("u1", "RUB").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT amount, locked_amount FROM balances WHERE user_id = $1 AND ticker = $2 FOR UPDATE`)).
		WithArgs("u1", "RUB").
		WillReturnRows(sqlmock.NewRows([]string{"amount", "locked_amount"}).AddRow(int64(100), int64(0)))

	err = Withdraw(context.Background(), db, "u1", "RUB", 500)
	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.CodeInsufficientFunds, ae.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveFailsWhenInsufficient(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO balances`)).
		WithArgs("u1", "RUB").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`FOR UPDATE`)).
		WithArgs("u1", "RUB").
		WillReturnRows(sqlmock.NewRows([]string{"amount", "locked_amount"}).AddRow(int64(100), int64(80)))

	ok, err := Reserve(context.Background(), db, "u1", "RUB", 50)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveSucceeds(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO balances`)).
		WithArgs("u1", "RUB").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`FOR UPDATE`)).
		WithArgs("u1", "RUB").
		WillReturnRows(sqlmock.NewRows([]string{"amount", "locked_amount"}).AddRow(int64(1000), int64(0)))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE balances SET locked_amount = locked_amount + $1 WHERE user_id = $2 AND ticker = $3`)).
		WithArgs(int64(500), "u1", "RUB").WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := Reserve(context.Background(), db, "u1", "RUB", 500)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReleaseClampsAtZero(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT amount, locked_amount FROM balances WHERE user_id = $1 AND ticker = $2`)).
		WithArgs("u1", "AAA").
		WillReturnRows(sqlmock.NewRows([]string{"amount", "locked_amount"}).AddRow(int64(1000), int64(500)))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE balances SET locked_amount = GREATEST(locked_amount - $1, 0) WHERE user_id = $2 AND ticker = $3`)).
		WithArgs(int64(9999), "u1", "AAA").WillReturnResult(sqlmock.NewResult(0, 1))

	err = Release(context.Background(), db, "u1", "AAA", 9999)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRelease_LogsAnomalyWhenOverReleasing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT amount, locked_amount FROM balances WHERE user_id = $1 AND ticker = $2`)).
		WithArgs("u1", "AAA").
		WillReturnRows(sqlmock.NewRows([]string{"amount", "locked_amount"}).AddRow(int64(1000), int64(200)))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE balances SET locked_amount = GREATEST(locked_amount - $1, 0) WHERE user_id = $2 AND ticker = $3`)).
		WithArgs(int64(9999), "u1", "AAA").WillReturnResult(sqlmock.NewResult(0, 1))

	err = Release(context.Background(), db, "u1", "AAA", 9999)
	require.NoError(t, err, "an over-release is an anomaly to log, not an error to return")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAllAlwaysReportsRUB(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT ticker, amount, locked_amount FROM balances WHERE user_id = $1`)).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"ticker", "amount", "locked_amount"}).
			AddRow("AAA", int64(5), int64(0)))

	out, err := GetAll(context.Background(), db, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), out["AAA"])
	assert.Equal(t, int64(0), out["RUB"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSettleDebitsAndCreditsAllFourLegs(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	// Lock order is sorted by (user_id, ticker): buyer < seller lexically here.
	rows := sqlmock.NewRows([]string{"amount", "locked_amount"})
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO balances`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`FOR UPDATE`)).WillReturnRows(rows.AddRow(int64(0), int64(0)))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO balances`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`FOR UPDATE`)).WillReturnRows(sqlmock.NewRows([]string{"amount", "locked_amount"}).AddRow(int64(1000), int64(500)))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO balances`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`FOR UPDATE`)).WillReturnRows(sqlmock.NewRows([]string{"amount", "locked_amount"}).AddRow(int64(10), int64(5)))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO balances`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`FOR UPDATE`)).WillReturnRows(sqlmock.NewRows([]string{"amount", "locked_amount"}).AddRow(int64(0), int64(0)))

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE balances SET amount = amount - $1, locked_amount = locked_amount - $1 WHERE user_id = $2 AND ticker = $3`)).
		WithArgs(int64(500), "buyer", "RUB").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE balances SET amount = amount + $1 WHERE user_id = $2 AND ticker = $3`)).
		WithArgs(int64(500), "seller", "RUB").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE balances SET amount = amount - $1, locked_amount = locked_amount - $1 WHERE user_id = $2 AND ticker = $3`)).
		WithArgs(5, "seller", "AAA").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE balances SET amount = amount + $1 WHERE user_id = $2 AND ticker = $3`)).
		WithArgs(5, "buyer", "AAA").WillReturnResult(sqlmock.NewResult(0, 1))

	err = Settle(context.Background(), db, "buyer", "seller", "AAA", 5, 100)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSettleRejectsNonPositiveQty(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	err = Settle(context.Background(), db, "buyer", "seller", "AAA", 0, 100)
	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.CodeInternal, ae.Code)
}
