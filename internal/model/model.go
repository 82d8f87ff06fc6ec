// Package model holds the persistent shapes shared by the ledger, order
// store, matching engine, and order service.
package model

import "time"

// ── Enums ────────────────────────────────────────────

type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

type OrderStatus string

const (
	StatusNew                OrderStatus = "NEW"
	StatusPartiallyExecuted  OrderStatus = "PARTIALLY_EXECUTED"
	StatusExecuted           OrderStatus = "EXECUTED"
	StatusCancelled          OrderStatus = "CANCELLED"
)

// RubTicker is the reserved symbol for the cash asset. It is seeded at
// migration time and can never be deleted or traded as an instrument.
const RubTicker = "RUB"

// ── Domain objects ───────────────────────────────────

type Instrument struct {
	Ticker      string `json:"ticker"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	APIKey    string    `json:"api_key"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// Balance is a single (user, ticker) ledger row. A row absent from the
// store is treated as Balance{Amount: 0, Locked: 0}.
type Balance struct {
	UserID string `json:"-"`
	Ticker string `json:"-"`
	Amount int64  `json:"amount"`
	Locked int64  `json:"locked_amount"`
}

func (b Balance) Available() int64 { return b.Amount - b.Locked }

type Order struct {
	ID           string      `json:"id"`
	UserID       string      `json:"user_id"`
	Ticker       string      `json:"ticker"`
	Direction    Direction   `json:"direction"`
	Qty          int         `json:"qty"`
	Price        *int64      `json:"price"`
	Status       OrderStatus `json:"status"`
	FilledQty    int         `json:"filled_qty"`
	Timestamp    time.Time   `json:"timestamp"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// IsMarket reports whether the order was placed without a limit price.
func (o Order) IsMarket() bool { return o.Price == nil }

// Remaining returns the unfilled quantity.
func (o Order) Remaining() int { return o.Qty - o.FilledQty }

// IsTerminal reports whether the order can never be mutated again.
func (o Order) IsTerminal() bool {
	return o.Status == StatusExecuted || o.Status == StatusCancelled
}

// IsCancelable reports whether the order can still be cancelled.
func (o Order) IsCancelable() bool {
	return o.Status == StatusNew || o.Status == StatusPartiallyExecuted
}

type Trade struct {
	ID          string    `json:"id"`
	Ticker      string    `json:"ticker"`
	Amount      int       `json:"amount"`
	Price       int64     `json:"price"`
	Timestamp   time.Time `json:"timestamp"`
	BuyOrderID  string    `json:"buy_order_id"`
	SellOrderID string    `json:"sell_order_id"`
	BuyerUserID string    `json:"buyer_user_id"`
	SellerUserID string   `json:"seller_user_id"`
}

// ── API request/response shapes ──────────────────────

type PlaceOrderRequest struct {
	Direction Direction `json:"direction"`
	Ticker    string    `json:"ticker"`
	Qty       int       `json:"qty"`
	Price     *int64    `json:"price,omitempty"`
}

type BookLevel struct {
	Price int64 `json:"price"`
	Qty   int   `json:"qty"`
}

type BookSnapshot struct {
	BidLevels []BookLevel `json:"bid_levels"`
	AskLevels []BookLevel `json:"ask_levels"`
}
