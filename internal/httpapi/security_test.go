package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/store"
)

func TestMiddlewareSetsSecurityHeaders(t *testing.T) {
	s := newTestAPI(t)

	rec := s.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	require.NotEmpty(t, rec.Header().Get("Referrer-Policy"))
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestPreflightShortCircuits(t *testing.T) {
	s := newTestAPI(t)

	rec := s.do(t, http.MethodOptions, "/api/v1/sales", "", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestLoginRateLimitReturns429(t *testing.T) {
	s := newTestAPI(t)

	for i := 0; i < 6; i++ {
		rec := s.do(t, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: "admin", Password: "wrong-pass"})
		if i < 5 {
			require.Equal(t, http.StatusUnauthorized, rec.Code, "attempt %d", i+1)
			continue
		}
		require.Equal(t, http.StatusTooManyRequests, rec.Code)
	}
}

func TestManagerPINRateLimitReturns429(t *testing.T) {
	s := newTestAPI(t)
	token := s.login(t, "admin", "admin123")

	for i := 0; i < 9; i++ {
		rec := s.do(t, http.MethodDelete, "/api/v1/sales/TRX-NONE", token, domain.SaleDeleteRequest{ManagerPIN: "000000", Reason: "test"})
		if i < 8 {
			require.Equal(t, http.StatusForbidden, rec.Code, "attempt %d", i+1)
			continue
		}
		require.Equal(t, http.StatusTooManyRequests, rec.Code)
	}
}

func TestJSONBodyTooLargeRejected(t *testing.T) {
	s := newTestAPI(t)
	veryLong := strings.Repeat("a", maxJSONBody+1024)
	body := fmt.Sprintf(`{"username":"%s","password":"x"}`, veryLong)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusForMapsErrorKinds(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{store.ErrNotFound, http.StatusNotFound},
		{store.ErrNoRecordForDate, http.StatusNotFound},
		{fmt.Errorf("%w: barcode 899", store.ErrInsufficientStock), http.StatusConflict},
		{fmt.Errorf("%w: %w", store.ErrInsufficientFunds, store.ErrNoRecordForDate), http.StatusConflict},
		{store.ErrDuplicateTransactionNo, http.StatusConflict},
		{store.ErrDayAlreadyOpen, http.StatusConflict},
		{store.ErrConflict, http.StatusConflict},
		{store.ErrInvalidQuantity, http.StatusBadRequest},
		{store.ErrInvalidDiscount, http.StatusBadRequest},
		{store.ErrInvalidAmount, http.StatusBadRequest},
		{store.ErrInvalidTransaction, http.StatusBadRequest},
		{store.ErrWouldGoNegative, http.StatusBadRequest},
		{store.ErrExhaustedRetries, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}

func TestInternalErrorsStayGeneric(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, http.StatusInternalServerError, errors.New("pq: relation does not exist"))
	require.NotContains(t, rec.Body.String(), "relation")
}

func TestParsePositiveLimitCaps(t *testing.T) {
	require.Equal(t, 200, parsePositiveLimit("9999", 50, 200))
	require.Equal(t, 50, parsePositiveLimit("", 50, 200))
	require.Equal(t, 50, parsePositiveLimit("invalid", 50, 200))
}
