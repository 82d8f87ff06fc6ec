package admin

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockmarket-core/internal/apperr"
	"stockmarket-core/internal/model"
)

func TestCreateInstrument_RejectsRUB(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	err = New(db).CreateInstrument(context.Background(), model.RubTicker, "Ruble", "")
	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.CodeInvalidInput, ae.Code)
}

func TestCreateInstrument_DuplicateIsConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO instruments`)).
		WithArgs("AAA", "Acme", "").
		WillReturnError(&pq.Error{Code: pqUniqueViolation})

	err = New(db).CreateInstrument(context.Background(), "AAA", "Acme", "")
	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.CodeConflict, ae.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteInstrument_RejectsRUB(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	err = New(db).DeleteInstrument(context.Background(), model.RubTicker)
	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.CodeInvalidInput, ae.Code)
}

func TestDeleteInstrument_OpenOrdersSurfaceAsNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM instruments WHERE ticker = $1`)).
		WithArgs("AAA").
		WillReturnError(&pq.Error{Code: pqForeignKeyViolation})

	err = New(db).DeleteInstrument(context.Background(), "AAA")
	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.CodeNotFound, ae.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteInstrument_UnknownTickerIsNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM instruments WHERE ticker = $1`)).
		WithArgs("ZZZ").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = New(db).DeleteInstrument(context.Background(), "ZZZ")
	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.CodeNotFound, ae.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteUser_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`DELETE FROM users WHERE id = $1`)).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err = New(db).DeleteUser(context.Background(), "missing")
	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.CodeNotFound, ae.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}
