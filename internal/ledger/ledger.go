// Package ledger implements the per-(user,ticker) balance store:
// available/locked accounting, deposit/withdraw, order-time reservation
// and release, and the atomic four-leg trade settlement described in
// spec.md §4.1.
package ledger

import (
	"context"
	"database/sql"
	"sort"

	"github.com/rs/zerolog/log"

	"stockmarket-core/internal/apperr"
	"stockmarket-core/internal/model"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx. Every ledger call takes
// one explicitly so the caller controls the enclosing transaction.
type DBTX interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// GetAvailable returns amount-locked for (user, ticker), or 0 if the
// balance row doesn't exist yet.
func GetAvailable(ctx context.Context, db DBTX, userID, ticker string) (int64, error) {
	b, err := get(ctx, db, userID, ticker)
	if err != nil {
		return 0, err
	}
	return b.Available(), nil
}

// GetAll returns every ticker with a positive available balance for the
// user, plus RUB even if absent (reported as 0).
func GetAll(ctx context.Context, db DBTX, userID string) (map[string]int64, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT ticker, amount, locked_amount FROM balances WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int64{model.RubTicker: 0}
	for rows.Next() {
		var ticker string
		var amount, lockedAmount int64
		if err := rows.Scan(&ticker, &amount, &lockedAmount); err != nil {
			return nil, err
		}
		available := amount - lockedAmount
		if available != 0 || ticker == model.RubTicker {
			out[ticker] = available
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func get(ctx context.Context, db DBTX, userID, ticker string) (model.Balance, error) {
	var b model.Balance
	b.UserID, b.Ticker = userID, ticker
	err := db.QueryRowContext(ctx,
		`SELECT amount, locked_amount FROM balances WHERE user_id = $1 AND ticker = $2`,
		userID, ticker,
	).Scan(&b.Amount, &b.Locked)
	if err == sql.ErrNoRows {
		return model.Balance{UserID: userID, Ticker: ticker}, nil
	}
	return b, err
}

func getForUpdate(ctx context.Context, db DBTX, userID, ticker string) (model.Balance, error) {
	if err := ensureRow(ctx, db, userID, ticker); err != nil {
		return model.Balance{}, err
	}
	var b model.Balance
	b.UserID, b.Ticker = userID, ticker
	err := db.QueryRowContext(ctx,
		`SELECT amount, locked_amount FROM balances WHERE user_id = $1 AND ticker = $2 FOR UPDATE`,
		userID, ticker,
	).Scan(&b.Amount, &b.Locked)
	return b, err
}

func ensureRow(ctx context.Context, db DBTX, userID, ticker string) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO balances (user_id, ticker, amount, locked_amount) VALUES ($1, $2, 0, 0)
		 ON CONFLICT (user_id, ticker) DO NOTHING`,
		userID, ticker,
	)
	return err
}

// Deposit credits amount by delta, creating the row if absent.
func Deposit(ctx context.Context, db DBTX, userID, ticker string, delta int64) error {
	if delta <= 0 {
		return apperr.InvalidInput("deposit amount must be positive")
	}
	if err := ensureRow(ctx, db, userID, ticker); err != nil {
		return err
	}
	_, err := db.ExecContext(ctx,
		`UPDATE balances SET amount = amount + $1 WHERE user_id = $2 AND ticker = $3`,
		delta, userID, ticker,
	)
	return err
}

// Withdraw debits amount by delta. Fails InsufficientFunds if
// available < delta, including when the balance row doesn't exist.
func Withdraw(ctx context.Context, db DBTX, userID, ticker string, delta int64) error {
	if delta <= 0 {
		return apperr.InvalidInput("withdraw amount must be positive")
	}
	b, err := getForUpdate(ctx, db, userID, ticker)
	if err != nil {
		return err
	}
	if b.Available() < delta {
		return apperr.InsufficientFunds("withdraw exceeds available balance")
	}
	_, err = db.ExecContext(ctx,
		`UPDATE balances SET amount = amount - $1 WHERE user_id = $2 AND ticker = $3`,
		delta, userID, ticker,
	)
	return err
}

// Reserve locks delta of (user, ticker), failing with false if available
// funds are insufficient. Acquires a row lock for the duration of the
// caller's transaction.
func Reserve(ctx context.Context, db DBTX, userID, ticker string, delta int64) (bool, error) {
	if delta <= 0 {
		return false, apperr.InvalidInput("reserve amount must be positive")
	}
	b, err := getForUpdate(ctx, db, userID, ticker)
	if err != nil {
		return false, err
	}
	if b.Available() < delta {
		return false, nil
	}
	_, err = db.ExecContext(ctx,
		`UPDATE balances SET locked_amount = locked_amount + $1 WHERE user_id = $2 AND ticker = $3`,
		delta, userID, ticker,
	)
	return err == nil, err
}

// Release unlocks delta of (user, ticker), clamped at zero. An
// over-release (delta greater than what's currently locked) never
// drives locked_amount negative; it is logged here as a warning, not
// treated as an error.
func Release(ctx context.Context, db DBTX, userID, ticker string, delta int64) error {
	if delta <= 0 {
		return nil
	}
	b, err := get(ctx, db, userID, ticker)
	if err != nil {
		return err
	}
	if delta > b.Locked {
		log.Warn().Str("user_id", userID).Str("ticker", ticker).
			Int64("release", delta).Int64("locked", b.Locked).
			Msg("ledger: release exceeds locked_amount, clamping to zero")
	}
	_, err = db.ExecContext(ctx,
		`UPDATE balances SET locked_amount = GREATEST(locked_amount - $1, 0) WHERE user_id = $2 AND ticker = $3`,
		delta, userID, ticker,
	)
	return err
}

// lockRow identifies one (user, ticker) row that Settle must lock.
type lockRow struct {
	userID, ticker string
}

// Settle performs the atomic four-leg trade transfer: buyer pays
// qty*price RUB (debiting both amount and locked_amount), seller
// receives qty*price RUB, seller gives up qty of ticker (debiting both
// amount and locked_amount), buyer receives qty of ticker. The four
// rows are locked in a single deterministic order — sorted
// lexicographically by (user_id, ticker) — to avoid deadlock cycles
// with concurrent settlements touching an overlapping row set.
func Settle(ctx context.Context, db DBTX, buyerID, sellerID, ticker string, qty int, price int64) error {
	if qty <= 0 || price <= 0 {
		return apperr.Internal("settle requires positive qty and price")
	}
	cash := int64(qty) * price

	rows := []lockRow{
		{buyerID, model.RubTicker},
		{buyerID, ticker},
		{sellerID, model.RubTicker},
		{sellerID, ticker},
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].userID != rows[j].userID {
			return rows[i].userID < rows[j].userID
		}
		return rows[i].ticker < rows[j].ticker
	})

	locked := make(map[lockRow]model.Balance, 4)
	for _, r := range rows {
		b, err := getForUpdate(ctx, db, r.userID, r.ticker)
		if err != nil {
			return err
		}
		locked[r] = b
	}

	buyerCash := locked[lockRow{buyerID, model.RubTicker}]
	sellerAsset := locked[lockRow{sellerID, ticker}]

	if buyerCash.Locked < cash {
		return apperr.Internal("settle: buyer's locked cash is less than trade cost")
	}
	if sellerAsset.Locked < int64(qty) {
		return apperr.Internal("settle: seller's locked asset is less than trade qty")
	}

	// Debit buyer cash (both compartments).
	if _, err := db.ExecContext(ctx,
		`UPDATE balances SET amount = amount - $1, locked_amount = locked_amount - $1 WHERE user_id = $2 AND ticker = $3`,
		cash, buyerID, model.RubTicker,
	); err != nil {
		return err
	}
	// Credit seller cash.
	if _, err := db.ExecContext(ctx,
		`UPDATE balances SET amount = amount + $1 WHERE user_id = $2 AND ticker = $3`,
		cash, sellerID, model.RubTicker,
	); err != nil {
		return err
	}
	// Debit seller asset (both compartments).
	if _, err := db.ExecContext(ctx,
		`UPDATE balances SET amount = amount - $1, locked_amount = locked_amount - $1 WHERE user_id = $2 AND ticker = $3`,
		qty, sellerID, ticker,
	); err != nil {
		return err
	}
	// Credit buyer asset.
	if _, err := db.ExecContext(ctx,
		`UPDATE balances SET amount = amount + $1 WHERE user_id = $2 AND ticker = $3`,
		qty, buyerID, ticker,
	); err != nil {
		return err
	}
	return nil
}
