package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/unrolled/secure"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/service"
	"tokoledger/backend/internal/store"
)

const (
	loginAttemptsPerMinute = 5
	pinAttemptsPerMinute   = 8
	maxJSONBody            = 1 << 20
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	logger        *slog.Logger
	validate      *validator.Validate
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		logger:        logger.With("component", "httpapi"),
		validate:      validator.New(),
	}
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(a.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(a.securityHeaders())
	r.Use(a.cors)
	r.Use(limitJSONBody)

	r.Get("/healthz", a.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.With(attemptLimit(loginAttemptsPerMinute, "too many login attempts")).Post("/auth/login", a.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth(domain.RoleCashier, domain.RoleAdmin))
			r.Get("/products", a.handleListProducts)
			r.Get("/products/{id}", a.handleGetProduct)
			r.Get("/products/barcode/{barcode}", a.handleGetProductByBarcode)
			r.Get("/sales", a.handleListSales)
			r.Post("/sales", a.handleCreateSale)
			r.Get("/sales/{transactionNo}", a.handleGetSale)
			r.Post("/sales/{transactionNo}/returns", a.handleReturnSale)
		})

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth(domain.RoleAdmin))
			r.Post("/products", a.handleCreateProduct)
			r.Post("/products/{id}/stock-in", a.handleStockIn)

			r.Get("/suppliers", a.handleListSuppliers)
			r.Post("/suppliers", a.handleCreateSupplier)
			r.Get("/suppliers/{id}", a.handleGetSupplier)

			r.Get("/supplier-payments", a.handleListPayments)
			r.Post("/supplier-payments", a.handleCreatePayment)
			r.Get("/supplier-payments/{id}", a.handleGetPayment)
			r.Put("/supplier-payments/{id}", a.handleUpdatePayment)

			r.Group(func(r chi.Router) {
				r.Use(attemptLimit(pinAttemptsPerMinute, "too many manager pin attempts"))
				r.Delete("/sales/{transactionNo}", a.handleDeleteSale)
				r.Delete("/supplier-payments/{id}", a.handleDeletePayment)
			})

			r.Get("/hand-cash", a.handleListHandCash)
			r.Post("/hand-cash", a.handleOpenHandCash)
			r.Get("/hand-cash/{date}", a.handleGetHandCash)
			r.Post("/hand-cash/{date}/withdrawals", a.handleWithdraw)
			r.Post("/hand-cash/{date}/rollover", a.handleRollover)

			r.Get("/expenses", a.handleListExpenses)
			r.Get("/audit-logs", a.handleAuditLogs)

			r.Get("/users/cashiers", a.handleListCashiers)
			r.Post("/users/cashiers", a.handleCreateCashier)
		})
	})

	return r
}

func (a *API) requireAuth(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authorization := strings.TrimSpace(r.Header.Get("Authorization"))
			if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
				writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
				return
			}

			token := strings.TrimSpace(authorization[len("Bearer "):])
			actor, err := a.auth.ParseToken(token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, err)
				return
			}

			if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
				writeError(w, http.StatusForbidden, errors.New("forbidden role"))
				return
			}

			next.ServeHTTP(w, r.WithContext(service.WithActor(r.Context(), actor)))
		})
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

// attemptLimit throttles credential checks per client IP.
func attemptLimit(perMinute int, message string) func(http.Handler) http.Handler {
	return httprate.Limit(perMinute, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusTooManyRequests, errors.New(message))
		}),
	)
}

func (a *API) securityHeaders() func(http.Handler) http.Handler {
	sec := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
	})
	return sec.Handler
}

func (a *API) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func limitJSONBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil && r.Method != http.MethodGet {
			r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		startedAt := time.Now()
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		level := slog.LevelInfo
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		a.logger.Log(r.Context(), level, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration", time.Since(startedAt),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if !a.decode(w, r, &req) {
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	switch {
	case errors.Is(err, errInvalidCredentials), errors.Is(err, errInactiveAccount):
		writeError(w, http.StatusUnauthorized, err)
		return
	case err != nil:
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleListCashiers(w http.ResponseWriter, r *http.Request) {
	cashiers, err := a.auth.ListCashiers(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cashiers": cashiers})
}

func (a *API) handleCreateCashier(w http.ResponseWriter, r *http.Request) {
	var req domain.CashierCreateRequest
	if !a.decode(w, r, &req) {
		return
	}

	cashier, err := a.auth.CreateCashier(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"cashier": cashier})
}

// checkManagerPIN writes the 403 itself when the PIN does not match.
func (a *API) checkManagerPIN(w http.ResponseWriter, pin string) bool {
	if !a.auth.ValidateManagerPIN(pin) {
		writeError(w, http.StatusForbidden, errors.New("invalid manager pin"))
		return false
	}
	return true
}

// decode reads a JSON body into dest and runs its validate tags. On failure
// it has already written a 400.
func (a *API) decode(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := decodeJSON(r, dest); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	if err := a.validate.Struct(dest); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
			err = fmt.Errorf("invalid request: %s", strings.Join(fields, "; "))
		}
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

// statusFor maps the store error kinds onto HTTP statuses.
func statusFor(err error) int {
	// Funds first: a payment on an unopened day wraps ErrNoRecordForDate.
	switch {
	case errors.Is(err, store.ErrInsufficientStock),
		errors.Is(err, store.ErrInsufficientFunds),
		errors.Is(err, store.ErrDuplicateTransactionNo),
		errors.Is(err, store.ErrDayAlreadyOpen),
		errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInvalidQuantity),
		errors.Is(err, store.ErrInvalidDiscount),
		errors.Is(err, store.ErrInvalidAmount),
		errors.Is(err, store.ErrInvalidTransaction),
		errors.Is(err, store.ErrWouldGoNegative):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrExhaustedRetries):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "status", status, "error", err)
	}
	writeError(w, status, err)
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx bodies stay generic; the cause is logged by the caller.
	msg := err.Error()
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
