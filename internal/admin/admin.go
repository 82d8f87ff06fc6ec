// Package admin implements instrument and user management, grounded on
// the teacher's createMarket/resolveMarket/adminDeposit handlers,
// generalized from prediction-market resolution to instrument CRUD and
// balance deposit/withdraw.
package admin

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"stockmarket-core/internal/apperr"
	"stockmarket-core/internal/ledger"
	"stockmarket-core/internal/model"
)

const pqUniqueViolation = "23505"
const pqForeignKeyViolation = "23503"

type Service struct {
	db *sql.DB
}

func New(db *sql.DB) *Service { return &Service{db: db} }

// CreateInstrument inserts a tradable ticker. A duplicate ticker is
// Conflict (409); RUB is reserved and cannot be (re-)created here.
func (s *Service) CreateInstrument(ctx context.Context, ticker, name, description string) error {
	if ticker == "" || ticker == model.RubTicker {
		return apperr.InvalidInput("ticker must be non-empty and cannot be RUB")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO instruments (ticker, name, description) VALUES ($1, $2, $3)`,
		ticker, name, description,
	)
	if isUniqueViolation(err) {
		return apperr.Conflict("instrument already exists")
	}
	return err
}

// ListInstruments returns every tradable ticker, RUB included.
func (s *Service) ListInstruments(ctx context.Context) ([]model.Instrument, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT ticker, name, description FROM instruments ORDER BY ticker`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Instrument{}
	for rows.Next() {
		var i model.Instrument
		if err := rows.Scan(&i.Ticker, &i.Name, &i.Description); err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

// DeleteInstrument removes a ticker. RUB can never be deleted. If open
// orders still reference the ticker, the FK RESTRICT fires and this
// surfaces as NotFound — spec.md §6's table has no dedicated 409 for
// this path, so the external-interface contract (404) wins.
func (s *Service) DeleteInstrument(ctx context.Context, ticker string) error {
	if ticker == model.RubTicker {
		return apperr.InvalidInput("RUB cannot be deleted")
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM instruments WHERE ticker = $1`, ticker)
	if isForeignKeyViolation(err) {
		return apperr.NotFound("instrument has open orders and cannot be deleted")
	}
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.NotFound("instrument not found")
	}
	return nil
}

// DeleteUser removes a user; balances and orders cascade via FK ON
// DELETE CASCADE. Returns the deleted row for the caller to echo back.
func (s *Service) DeleteUser(ctx context.Context, userID string) (model.User, error) {
	var u model.User
	err := s.db.QueryRowContext(ctx,
		`DELETE FROM users WHERE id = $1 RETURNING id, name, api_key, role, created_at`, userID,
	).Scan(&u.ID, &u.Name, &u.APIKey, &u.Role, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return model.User{}, apperr.NotFound("user not found")
	}
	return u, err
}

// AdminDeposit credits a user's balance directly, bypassing reservation.
func (s *Service) AdminDeposit(ctx context.Context, userID, ticker string, amount int64) error {
	return ledger.Deposit(ctx, s.db, userID, ticker, amount)
}

// AdminWithdraw debits a user's balance directly.
func (s *Service) AdminWithdraw(ctx context.Context, userID, ticker string, amount int64) error {
	return ledger.Withdraw(ctx, s.db, userID, ticker, amount)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == pqUniqueViolation
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == pqForeignKeyViolation
	}
	return false
}
