// Package orderservice is the transactional façade spec.md §4.4
// describes: it validates a placement or cancellation, reserves or
// releases funds through the ledger, and drives the matching engine,
// all inside one *sql.Tx per call so a deadlock retry restarts cleanly.
package orderservice

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"stockmarket-core/internal/apperr"
	"stockmarket-core/internal/ledger"
	"stockmarket-core/internal/matching"
	"stockmarket-core/internal/model"
	"stockmarket-core/internal/orderstore"
	"stockmarket-core/internal/retry"
)

// bookWalkBuffer multiplies the last walked ask price when the book is
// too thin to cover a market BUY's full quantity (spec.md §4.4).
const bookWalkBuffer = 2

// fallbackPricePerUnit is the reservation used for a market BUY when the
// book has no resting asks at all to walk.
const fallbackPricePerUnit = 1000

// Service orchestrates order placement and cancellation against a
// *sql.DB. Each call opens, uses, and closes its own transaction.
type Service struct {
	db *sql.DB
}

func New(db *sql.DB) *Service { return &Service{db: db} }

// Place validates req, reserves the appropriate funds, inserts the
// order, and runs the matching engine against it — all inside a single
// retried transaction. It returns the order in its post-match state.
func (s *Service) Place(ctx context.Context, userID string, req model.PlaceOrderRequest) (model.Order, []model.Trade, error) {
	if err := validatePlacement(req); err != nil {
		return model.Order{}, nil, err
	}

	var order model.Order
	var trades []model.Trade

	err := retry.Do("place_order", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		reserveTicker, reserveAmount, err := s.computeReservation(ctx, tx, userID, req)
		if err != nil {
			return err
		}

		ok, err := ledger.Reserve(ctx, tx, userID, reserveTicker, reserveAmount)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.InsufficientFunds("insufficient available balance to place order")
		}

		order = model.Order{
			ID:        uuid.New().String(),
			UserID:    userID,
			Ticker:    req.Ticker,
			Direction: req.Direction,
			Qty:       req.Qty,
			Price:     req.Price,
			Status:    model.StatusNew,
			FilledQty: 0,
		}
		if err := orderstore.Insert(ctx, tx, &order); err != nil {
			return err
		}

		eng := matching.New(tx)
		matchedTrades, final, err := eng.Process(ctx, order.ID, reserveAmount)
		if err != nil {
			if _, isBusiness := apperr.As(err); isBusiness {
				// Still commit: the order was placed and any partial
				// fills and reservation bookkeeping already happened
				// inside this same transaction, and must survive. The
				// business error (e.g. NoLiquidity) is then returned.
				order = final
				trades = matchedTrades
				if cerr := tx.Commit(); cerr != nil {
					return cerr
				}
				return err
			}
			return err
		}
		order = final
		trades = matchedTrades
		return tx.Commit()
	})

	return order, trades, err
}

func validatePlacement(req model.PlaceOrderRequest) error {
	if req.Ticker == "" {
		return apperr.InvalidInput("ticker is required")
	}
	if req.Ticker == model.RubTicker {
		return apperr.InvalidInput("RUB cannot be traded as an instrument")
	}
	if req.Direction != model.DirectionBuy && req.Direction != model.DirectionSell {
		return apperr.InvalidInput("direction must be BUY or SELL")
	}
	if req.Qty < 1 {
		return apperr.InvalidInput("qty must be >= 1")
	}
	if req.Price != nil && *req.Price < 1 {
		return apperr.InvalidInput("price must be positive")
	}
	return nil
}

// computeReservation determines the (ticker, amount) to lock at
// placement time. A SELL locks the ticker itself. A BUY limit order
// locks qty*price RUB exactly. A BUY market order has no price to
// multiply by, so it walks the resting ask side of the book,
// accumulating price*qty until req.Qty is covered; any shortfall (thin
// or empty book) is covered by a safety buffer so the order never
// under-reserves against a deeper book than currently visible.
func (s *Service) computeReservation(ctx context.Context, tx *sql.Tx, userID string, req model.PlaceOrderRequest) (string, int64, error) {
	if req.Direction == model.DirectionSell {
		return req.Ticker, int64(req.Qty), nil
	}
	if req.Price != nil {
		return model.RubTicker, int64(req.Qty) * *req.Price, nil
	}
	return model.RubTicker, s.estimateMarketBuyReservation(ctx, tx, req.Ticker, req.Qty)
}

func (s *Service) estimateMarketBuyReservation(ctx context.Context, tx *sql.Tx, ticker string, qty int) int64 {
	const walkDepth = 1000
	_, asks, err := orderstore.L2(ctx, tx, ticker, walkDepth)
	if err != nil || len(asks) == 0 {
		return int64(qty) * fallbackPricePerUnit
	}

	var cost int64
	remaining := qty
	var lastPrice int64
	for _, level := range asks {
		lastPrice = level.Price
		take := level.Qty
		if take > remaining {
			take = remaining
		}
		cost += int64(take) * level.Price
		remaining -= take
		if remaining <= 0 {
			break
		}
	}
	if remaining > 0 {
		cost += int64(remaining) * lastPrice * bookWalkBuffer
	}
	return cost
}

// Cancel marks an order CANCELLED and releases whatever of its
// reservation is still outstanding. Returns NotFound / Forbidden /
// InvalidInput (status not cancelable) as appropriate.
func (s *Service) Cancel(ctx context.Context, orderID, userID string) (model.Order, error) {
	var order model.Order
	err := retry.Do("cancel_order", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		o, err := orderstore.GetByIDForUpdate(ctx, tx, orderID)
		if err == sql.ErrNoRows {
			return apperr.NotFound("order not found")
		}
		if err != nil {
			return err
		}
		if o.UserID != userID {
			return apperr.Forbidden("order belongs to another user")
		}
		if !o.IsCancelable() {
			return apperr.InvalidInput("order is not in a cancelable state")
		}

		releaseTicker, releaseAmount, err := residualReservation(ctx, tx, o)
		if err != nil {
			return err
		}
		if releaseAmount > 0 {
			if err := ledger.Release(ctx, tx, o.UserID, releaseTicker, releaseAmount); err != nil {
				return err
			}
		}
		if err := orderstore.UpdateStatus(ctx, tx, o.ID, model.StatusCancelled); err != nil {
			return err
		}

		o.Status = model.StatusCancelled
		order = o
		return tx.Commit()
	})
	return order, err
}

// residualReservation computes how much of a cancelable order's
// original reservation is still locked. A BUY limit order's remaining
// lock is exactly price*(qty-filled_qty) RUB; a SELL's is
// (qty-filled_qty) of its ticker. A BUY market order's original
// reservation was an estimate, not an exact figure, so its residual is
// taken as the user's whole current RUB locked_amount rather than a
// recomputed estimate; that figure also includes RUB locked by the
// user's other open BUY orders.
func residualReservation(ctx context.Context, tx *sql.Tx, o model.Order) (string, int64, error) {
	remaining := int64(o.Remaining())
	if o.Direction == model.DirectionSell {
		return o.Ticker, remaining, nil
	}
	if !o.IsMarket() {
		return model.RubTicker, remaining * *o.Price, nil
	}
	locked, err := ledgerLockedAmount(ctx, tx, o.UserID, model.RubTicker)
	if err != nil {
		return "", 0, err
	}
	return model.RubTicker, locked, nil
}

// ledgerLockedAmount returns the user's current locked_amount for
// ticker, used only for the market-BUY cancellation path where the
// original reservation was an estimate and the true residual is
// whatever is still locked right now.
func ledgerLockedAmount(ctx context.Context, tx *sql.Tx, userID, ticker string) (int64, error) {
	var locked int64
	err := tx.QueryRowContext(ctx,
		`SELECT locked_amount FROM balances WHERE user_id = $1 AND ticker = $2`, userID, ticker,
	).Scan(&locked)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return locked, err
}

// GetOrder loads a single order, enforcing ownership.
func (s *Service) GetOrder(ctx context.Context, orderID, userID string) (model.Order, error) {
	o, err := orderstore.GetByID(ctx, s.db, orderID)
	if err == sql.ErrNoRows {
		return model.Order{}, apperr.NotFound("order not found")
	}
	if err != nil {
		return model.Order{}, err
	}
	if o.UserID != userID {
		return model.Order{}, apperr.Forbidden("order belongs to another user")
	}
	return o, nil
}

// ListOrders returns userID's orders, newest first.
func (s *Service) ListOrders(ctx context.Context, userID string, limit, offset int) ([]model.Order, error) {
	return orderstore.ListByUser(ctx, s.db, userID, limit, offset)
}

// GetBalances returns every ticker with a non-zero available balance
// for userID, plus RUB.
func (s *Service) GetBalances(ctx context.Context, userID string) (map[string]int64, error) {
	return ledger.GetAll(ctx, s.db, userID)
}

