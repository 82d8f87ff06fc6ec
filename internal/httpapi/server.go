// Package httpapi wires every route from spec.md §6 onto a chi router,
// grounded on the teacher's internal/api/server.go: same middleware
// stack, same json200/jsonErr envelope shapes generalized to carry the
// apperr taxonomy code.
package httpapi

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"stockmarket-core/internal/admin"
	"stockmarket-core/internal/apperr"
	"stockmarket-core/internal/auth"
	"stockmarket-core/internal/model"
	"stockmarket-core/internal/orderservice"
	"stockmarket-core/internal/orderstore"
)

type Server struct {
	db     *sql.DB
	auth   *auth.Service
	admin  *admin.Service
	orders *orderservice.Service
}

func NewServer(db *sql.DB, authSvc *auth.Service, adminSvc *admin.Service, orderSvc *orderservice.Service) *Server {
	return &Server{db: db, auth: authSvc, admin: adminSvc, orders: orderSvc}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json200(w, map[string]string{"status": "ok"})
	})

	r.Post("/register", s.register)
	r.Get("/instrument", s.listInstruments)
	r.Get("/public/orderbook/{ticker}", s.publicOrderbook)
	r.Get("/public/transactions/{ticker}", s.publicTransactions)

	r.Group(func(r chi.Router) {
		r.Use(s.auth.RequireUser)
		r.Get("/balance", s.getBalances)
		r.Post("/order", s.placeOrder)
		r.Get("/order", s.listOrders)
		r.Get("/order/{id}", s.getOrder)
		r.Delete("/order/{id}", s.cancelOrder)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.auth.RequireAdmin)
		r.Post("/admin/instrument", s.createInstrument)
		r.Delete("/admin/instrument/{ticker}", s.deleteInstrument)
		r.Post("/admin/balance/deposit", s.adminDeposit)
		r.Post("/admin/balance/withdraw", s.adminWithdraw)
		r.Delete("/admin/user/{id}", s.deleteUser)
	})

	return r
}

// ── Auth ─────────────────────────────────────────────

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, apperr.InvalidInput("invalid json body"))
		return
	}
	u, err := s.auth.Register(r.Context(), req.Name)
	if err != nil {
		jsonErr(w, err)
		return
	}
	json200(w, u)
}

// ── Public reads ─────────────────────────────────────

func (s *Server) listInstruments(w http.ResponseWriter, r *http.Request) {
	instruments, err := s.admin.ListInstruments(r.Context())
	if err != nil {
		jsonErr(w, err)
		return
	}
	json200(w, instruments)
}

func (s *Server) publicOrderbook(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")
	limit := clampLimit(r.URL.Query().Get("limit"), 25, 25)

	bids, asks, err := orderstore.L2(r.Context(), s.db, ticker, limit)
	if err != nil {
		jsonErr(w, apperr.Internal(err.Error()))
		return
	}
	snapshot := model.BookSnapshot{BidLevels: toBookLevels(bids), AskLevels: toBookLevels(asks)}
	json200(w, snapshot)
}

func (s *Server) publicTransactions(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")
	limit := clampLimit(r.URL.Query().Get("limit"), 100, 100)

	trades, err := orderstore.ListTrades(r.Context(), s.db, ticker, limit)
	if err != nil {
		jsonErr(w, apperr.Internal(err.Error()))
		return
	}
	json200(w, trades)
}

// ── User: balances & orders ──────────────────────────

func (s *Server) getBalances(w http.ResponseWriter, r *http.Request) {
	balances, err := s.orders.GetBalances(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		jsonErr(w, apperr.Internal(err.Error()))
		return
	}
	json200(w, balances)
}

func (s *Server) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req model.PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, apperr.InvalidInput("invalid json body"))
		return
	}
	order, _, err := s.orders.Place(r.Context(), auth.UserID(r.Context()), req)
	if err != nil {
		jsonErr(w, err)
		return
	}
	json200(w, map[string]any{"success": true, "order_id": order.ID})
}

func (s *Server) listOrders(w http.ResponseWriter, r *http.Request) {
	limit := clampLimit(r.URL.Query().Get("limit"), 50, 500)
	offset := 0
	if n, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && n >= 0 {
		offset = n
	}
	orders, err := s.orders.ListOrders(r.Context(), auth.UserID(r.Context()), limit, offset)
	if err != nil {
		jsonErr(w, apperr.Internal(err.Error()))
		return
	}
	json200(w, orders)
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	order, err := s.orders.GetOrder(r.Context(), id, auth.UserID(r.Context()))
	if err != nil {
		jsonErr(w, err)
		return
	}
	json200(w, order)
}

func (s *Server) cancelOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	order, err := s.orders.Cancel(r.Context(), id, auth.UserID(r.Context()))
	if err != nil {
		jsonErr(w, err)
		return
	}
	json200(w, map[string]any{"success": true, "order_id": order.ID})
}

// ── Admin ────────────────────────────────────────────

func (s *Server) createInstrument(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Ticker      string `json:"ticker"`
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, apperr.InvalidInput("invalid json body"))
		return
	}
	if err := s.admin.CreateInstrument(r.Context(), req.Ticker, req.Name, req.Description); err != nil {
		jsonErr(w, err)
		return
	}
	json200(w, map[string]any{"success": true})
}

func (s *Server) deleteInstrument(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")
	if err := s.admin.DeleteInstrument(r.Context(), ticker); err != nil {
		jsonErr(w, err)
		return
	}
	json200(w, map[string]any{"success": true})
}

func (s *Server) adminDeposit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
		Ticker string `json:"ticker"`
		Amount int64  `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, apperr.InvalidInput("invalid json body"))
		return
	}
	if err := s.admin.AdminDeposit(r.Context(), req.UserID, req.Ticker, req.Amount); err != nil {
		jsonErr(w, err)
		return
	}
	json200(w, map[string]any{"success": true})
}

func (s *Server) adminWithdraw(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
		Ticker string `json:"ticker"`
		Amount int64  `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, apperr.InvalidInput("invalid json body"))
		return
	}
	if err := s.admin.AdminWithdraw(r.Context(), req.UserID, req.Ticker, req.Amount); err != nil {
		jsonErr(w, err)
		return
	}
	json200(w, map[string]any{"success": true})
}

func (s *Server) deleteUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	u, err := s.admin.DeleteUser(r.Context(), id)
	if err != nil {
		jsonErr(w, err)
		return
	}
	json200(w, u)
}

// ── Helpers ──────────────────────────────────────────

func clampLimit(raw string, def, max int) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > max {
		return def
	}
	return n
}

func toBookLevels(levels []orderstore.Level) []model.BookLevel {
	out := make([]model.BookLevel, len(levels))
	for i, l := range levels {
		out[i] = model.BookLevel{Price: l.Price, Qty: l.Qty}
	}
	return out
}

func json200(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func jsonErr(w http.ResponseWriter, err error) {
	ae, ok := apperr.As(err)
	if !ok {
		ae, _ = apperr.As(apperr.Internal(err.Error()))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apperr.StatusCode(ae))
	json.NewEncoder(w).Encode(map[string]string{"error": string(ae.Code), "message": ae.Message})
}
