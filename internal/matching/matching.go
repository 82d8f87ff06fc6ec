// Package matching implements the price/time-priority crossing engine
// described in spec.md §4.3. An Engine carries no state beyond the
// transaction it is given — a fresh instance is built for every order
// placement.
package matching

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"stockmarket-core/internal/apperr"
	"stockmarket-core/internal/ledger"
	"stockmarket-core/internal/model"
	"stockmarket-core/internal/orderstore"
)

// DBTX is satisfied by *sql.Tx — matching always runs inside the order
// service's enclosing transaction.
type DBTX interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Engine crosses one taker order against resting makers. It holds no
// state: every call reloads what it needs from db.
type Engine struct {
	db DBTX
}

// New constructs a matching engine bound to the caller's transaction.
func New(db DBTX) *Engine { return &Engine{db: db} }

// Process runs the matching loop for takerID: reload the taker, find the
// best counter-order, settle, repeat until no residual or no liquidity,
// then reconcile a market order's unmatched residual. It returns the
// trades produced and the taker's final state.
//
// reservedForTaker is the amount of (RUB for BUY, ticker for SELL) the
// order service locked at placement time; it is needed only for a
// market order's post-loop reconciliation, where any excess reservation
// beyond what was actually settled must be released.
func (e *Engine) Process(ctx context.Context, takerID string, reservedForTaker int64) ([]model.Trade, model.Order, error) {
	var trades []model.Trade
	var consumed int64 // exact amount of the taker's reservation spent so far

	for {
		taker, err := orderstore.GetByIDForUpdate(ctx, e.db, takerID)
		if err != nil {
			return trades, model.Order{}, err
		}
		if taker.IsTerminal() || taker.Remaining() <= 0 {
			break
		}

		counter, err := orderstore.FindBestMatch(ctx, e.db, taker)
		if errors.Is(err, sql.ErrNoRows) {
			break
		}
		if err != nil {
			return trades, taker, err
		}

		tradePrice := *counter.Price // price improvement goes to the taker
		tradeQty := min(taker.Remaining(), counter.Remaining())
		if tradeQty <= 0 {
			log.Error().Str("taker", taker.ID).Str("counter", counter.ID).
				Msg("matching: non-positive trade qty, aborting loop")
			break
		}

		var buyer, seller model.Order
		if taker.Direction == model.DirectionBuy {
			buyer, seller = taker, counter
		} else {
			buyer, seller = counter, taker
		}

		if err := ledger.Settle(ctx, e.db, buyer.UserID, seller.UserID, taker.Ticker, tradeQty, tradePrice); err != nil {
			return trades, taker, err
		}

		trade := model.Trade{
			ID:           uuid.New().String(),
			Ticker:       taker.Ticker,
			Amount:       tradeQty,
			Price:        tradePrice,
			BuyOrderID:   buyer.ID,
			SellOrderID:  seller.ID,
			BuyerUserID:  buyer.UserID,
			SellerUserID: seller.UserID,
		}
		if err := orderstore.InsertTrade(ctx, e.db, &trade); err != nil {
			return trades, taker, err
		}
		trades = append(trades, trade)

		if taker.Direction == model.DirectionBuy {
			consumed += int64(tradeQty) * tradePrice
		} else {
			consumed += int64(tradeQty)
		}

		if err := applyFill(ctx, e.db, taker, tradeQty); err != nil {
			return trades, taker, err
		}
		if err := applyFill(ctx, e.db, counter, tradeQty); err != nil {
			return trades, taker, err
		}
	}

	final, err := orderstore.GetByID(ctx, e.db, takerID)
	if err != nil {
		return trades, model.Order{}, err
	}

	if final.IsMarket() {
		if err := e.reconcileMarketOrder(ctx, &final, reservedForTaker, consumed); err != nil {
			return trades, final, err
		}
	}

	return trades, final, nil
}

func applyFill(ctx context.Context, db DBTX, o model.Order, fillQty int) error {
	newFilled := o.FilledQty + fillQty
	status := model.StatusPartiallyExecuted
	if newFilled >= o.Qty {
		status = model.StatusExecuted
	}
	return orderstore.UpdateFill(ctx, db, o.ID, newFilled, status)
}

// reconcileMarketOrder implements spec.md §4.3 step 7: a market order
// never rests. Any residual reservation (reserved minus consumed) is
// released in every case. Fully filled orders are then left EXECUTED;
// a partial or zero fill is marked CANCELLED. A fully-unfilled market
// order surfaces NoLiquidity to the caller.
func (e *Engine) reconcileMarketOrder(ctx context.Context, o *model.Order, reserved, consumed int64) error {
	lockedTicker := o.Ticker
	if o.Direction == model.DirectionBuy {
		lockedTicker = model.RubTicker
	}
	residual := reserved - consumed
	if residual > 0 {
		if err := ledger.Release(ctx, e.db, o.UserID, lockedTicker, residual); err != nil {
			return err
		}
	}
	if o.FilledQty == o.Qty {
		return nil
	}
	if err := orderstore.UpdateStatus(ctx, e.db, o.ID, model.StatusCancelled); err != nil {
		return err
	}

	if o.FilledQty == 0 {
		return apperr.NoLiquidity("market order found no crossable counter-orders")
	}
	return nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
