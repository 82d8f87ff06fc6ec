// Package auth implements registration and the two chi middlewares that
// gate user and admin routes, grounded on the teacher's
// register/authMiddleware/adminOnly trio and generalized from
// email+password+JWT to the spec's static-API-key scheme.
package auth

import (
	"context"
	"database/sql"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"stockmarket-core/internal/apperr"
	"stockmarket-core/internal/model"
)

// authScheme is the literal Authorization prefix spec.md §6 mandates —
// not the usual "Bearer".
const authScheme = "TOKEN "

type ctxKey string

const (
	ctxUserID ctxKey = "userID"
	ctxRole   ctxKey = "role"
)

// UserID extracts the authenticated caller's id, set by RequireUser.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(ctxUserID).(string)
	return id
}

// Role extracts the authenticated caller's role, set by RequireUser.
func Role(ctx context.Context) model.Role {
	r, _ := ctx.Value(ctxRole).(model.Role)
	return r
}

// Service registers users and authenticates requests against the users
// table's api_key column.
type Service struct {
	db         *sql.DB
	adminToken string
}

func New(db *sql.DB, adminToken string) *Service {
	return &Service{db: db, adminToken: adminToken}
}

// Register creates a USER with a freshly generated api_key. No balance
// row is created eagerly — spec.md §3: a balance row absent from the
// store is treated as (0, 0) and is created lazily on first write.
func (s *Service) Register(ctx context.Context, name string) (model.User, error) {
	if name == "" {
		return model.User{}, apperr.InvalidInput("name is required")
	}
	u := model.User{
		ID:     uuid.New().String(),
		Name:   name,
		APIKey: uuid.New().String(),
		Role:   model.RoleUser,
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO users (id, name, api_key, role) VALUES ($1, $2, $3, $4) RETURNING created_at`,
		u.ID, u.Name, u.APIKey, u.Role,
	).Scan(&u.CreatedAt)
	if err != nil {
		return model.User{}, err
	}
	return u, nil
}

// RequireUser parses the Authorization header, looks the key up, and
// attaches (user_id, role) to the request context. A missing or
// malformed scheme is 401; an unknown key is also 401.
func (s *Service) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, err := bearerKey(r)
		if err != nil {
			writeAuthErr(w, err)
			return
		}
		var userID string
		var role model.Role
		err = s.db.QueryRowContext(r.Context(),
			`SELECT id, role FROM users WHERE api_key = $1`, key,
		).Scan(&userID, &role)
		if err == sql.ErrNoRows {
			writeAuthErr(w, apperr.Unauthenticated("unknown api key"))
			return
		}
		if err != nil {
			writeAuthErr(w, apperr.Internal(err.Error()))
			return
		}
		ctx := context.WithValue(r.Context(), ctxUserID, userID)
		ctx = context.WithValue(ctx, ctxRole, role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin compares the Authorization token directly against the
// ADMIN_API_TOKEN this service was configured with. A mismatching
// scheme is 401; a well-formed but wrong token is 403.
func (s *Service) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, err := bearerKey(r)
		if err != nil {
			writeAuthErr(w, err)
			return
		}
		if key != s.adminToken {
			writeAuthErr(w, apperr.Forbidden("invalid admin token"))
			return
		}
		ctx := context.WithValue(r.Context(), ctxRole, model.RoleAdmin)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerKey(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, authScheme) {
		return "", apperr.Unauthenticated("missing or malformed Authorization header")
	}
	return strings.TrimPrefix(h, authScheme), nil
}

// writeAuthErr is a package-local shim so auth middleware can respond
// before a request ever reaches httpapi's error envelope helper.
func writeAuthErr(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apperr.StatusCode(err))
	ae, _ := apperr.As(err)
	w.Write([]byte(`{"error":"` + string(ae.Code) + `","message":"` + ae.Message + `"}`))
}
