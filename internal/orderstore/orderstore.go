// Package orderstore persists Order and Trade rows and exposes the two
// specialised read paths the matching engine and public API need: the
// best-counter-order lookup (spec.md §4.2) and L2 book aggregation.
package orderstore

import (
	"context"
	"database/sql"

	"stockmarket-core/internal/model"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const orderColumns = `id, user_id, ticker, direction, qty, price, status, filled_qty, timestamp, updated_at`

func scanOrder(row interface{ Scan(...any) error }) (model.Order, error) {
	var o model.Order
	err := row.Scan(&o.ID, &o.UserID, &o.Ticker, &o.Direction, &o.Qty, &o.Price, &o.Status, &o.FilledQty, &o.Timestamp, &o.UpdatedAt)
	return o, err
}

// Insert persists a freshly-created NEW order.
func Insert(ctx context.Context, db DBTX, o *model.Order) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO orders (id, user_id, ticker, direction, qty, price, status, filled_qty, timestamp, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())`,
		o.ID, o.UserID, o.Ticker, o.Direction, o.Qty, o.Price, o.Status, o.FilledQty,
	)
	return err
}

// GetByID loads a single order, or (zero, sql.ErrNoRows) if absent.
func GetByID(ctx context.Context, db DBTX, id string) (model.Order, error) {
	row := db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	return scanOrder(row)
}

// GetByIDForUpdate reloads the order row with a row lock, used by the
// matching loop between fills to re-check filled_qty/status.
func GetByIDForUpdate(ctx context.Context, db DBTX, id string) (model.Order, error) {
	row := db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id)
	return scanOrder(row)
}

// UpdateFill applies a partial or full fill to an order.
func UpdateFill(ctx context.Context, db DBTX, id string, filledQty int, status model.OrderStatus) error {
	_, err := db.ExecContext(ctx,
		`UPDATE orders SET filled_qty = $1, status = $2, updated_at = now() WHERE id = $3`,
		filledQty, status, id,
	)
	return err
}

// UpdateStatus transitions an order to a terminal status without
// touching filled_qty (used by cancellation).
func UpdateStatus(ctx context.Context, db DBTX, id string, status model.OrderStatus) error {
	_, err := db.ExecContext(ctx,
		`UPDATE orders SET status = $1, updated_at = now() WHERE id = $2`,
		status, id,
	)
	return err
}

// ListByUser returns a user's orders newest first.
func ListByUser(ctx context.Context, db DBTX, userID string, limit, offset int) ([]model.Order, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY timestamp DESC LIMIT $2 OFFSET $3`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// FindBestMatch returns the single best counter-order for taker, or
// (zero, sql.ErrNoRows) if the book has no crossable counterparty.
// Ordering: for a BUY taker, asks price ASC then timestamp ASC; for a
// SELL taker, bids price DESC then timestamp ASC. Self-trades are
// permitted (spec.md §4.3, §9) — the query never excludes the taker's
// own resting orders.
func FindBestMatch(ctx context.Context, db DBTX, taker model.Order) (model.Order, error) {
	var counterDirection model.Direction
	var priceFilter string
	var orderBy string
	if taker.Direction == model.DirectionBuy {
		counterDirection = model.DirectionSell
		priceFilter = `AND ($4::bigint IS NULL OR price <= $4)`
		orderBy = `ORDER BY price ASC, timestamp ASC`
	} else {
		counterDirection = model.DirectionBuy
		priceFilter = `AND ($4::bigint IS NULL OR price >= $4)`
		orderBy = `ORDER BY price DESC, timestamp ASC`
	}

	query := `SELECT ` + orderColumns + ` FROM orders
		WHERE ticker = $1
		  AND status IN ('NEW', 'PARTIALLY_EXECUTED')
		  AND (qty - filled_qty) > 0
		  AND id != $2
		  AND direction = $3
		  ` + priceFilter + `
		  ` + orderBy + `
		  LIMIT 1`

	row := db.QueryRowContext(ctx, query, taker.Ticker, taker.ID, counterDirection, taker.Price)
	return scanOrder(row)
}

// Level is one price level of an aggregated L2 book.
type Level struct {
	Price int64
	Qty   int
}

// L2 aggregates resting (NEW/PARTIALLY_EXECUTED) orders on a ticker by
// price level, returning the top `depth` bid levels (price DESC) and
// top `depth` ask levels (price ASC).
func L2(ctx context.Context, db DBTX, ticker string, depth int) (bids, asks []Level, err error) {
	bids, err = l2Side(ctx, db, ticker, model.DirectionBuy, depth, "DESC")
	if err != nil {
		return nil, nil, err
	}
	asks, err = l2Side(ctx, db, ticker, model.DirectionSell, depth, "ASC")
	if err != nil {
		return nil, nil, err
	}
	return bids, asks, nil
}

func l2Side(ctx context.Context, db DBTX, ticker string, direction model.Direction, depth int, dir string) ([]Level, error) {
	query := `SELECT price, SUM(qty - filled_qty) AS qty
		FROM orders
		WHERE ticker = $1 AND direction = $2 AND status IN ('NEW', 'PARTIALLY_EXECUTED') AND price IS NOT NULL
		GROUP BY price
		ORDER BY price ` + dir + `
		LIMIT $3`

	rows, err := db.QueryContext(ctx, query, ticker, direction, depth)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Level
	for rows.Next() {
		var l Level
		if err := rows.Scan(&l.Price, &l.Qty); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	if out == nil {
		out = []Level{}
	}
	return out, rows.Err()
}

// InsertTrade appends a trade row. Trades are append-only.
func InsertTrade(ctx context.Context, db DBTX, t *model.Trade) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO trades (id, ticker, amount, price, timestamp, buy_order_id, sell_order_id, buyer_user_id, seller_user_id)
		 VALUES ($1, $2, $3, $4, now(), $5, $6, $7, $8)`,
		t.ID, t.Ticker, t.Amount, t.Price, t.BuyOrderID, t.SellOrderID, t.BuyerUserID, t.SellerUserID,
	)
	return err
}

// ListTrades returns the most recent trades for a ticker, newest first.
func ListTrades(ctx context.Context, db DBTX, ticker string, limit int) ([]model.Trade, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, ticker, amount, price, timestamp, buy_order_id, sell_order_id, buyer_user_id, seller_user_id
		 FROM trades WHERE ticker = $1 ORDER BY timestamp DESC LIMIT $2`,
		ticker, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Trade
	for rows.Next() {
		var t model.Trade
		if err := rows.Scan(&t.ID, &t.Ticker, &t.Amount, &t.Price, &t.Timestamp, &t.BuyOrderID, &t.SellOrderID, &t.BuyerUserID, &t.SellerUserID); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if out == nil {
		out = []model.Trade{}
	}
	return out, rows.Err()
}
