package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/havenmind/crisis-engine/internal/events"
	"github.com/havenmind/crisis-engine/internal/http/handlers"
	"github.com/havenmind/crisis-engine/internal/http/middleware"
	"github.com/havenmind/crisis-engine/internal/ledger"
)

type staticEvents struct{}

func (staticEvents) ListByUser(context.Context, string, time.Time, time.Time) ([]events.CrisisEvent, error) {
	return nil, nil
}

type staticAudit struct{}

func (staticAudit) Query(context.Context, ledger.Filter) ([]ledger.Entry, error) {
	return nil, nil
}

func newTestRouter(adminSecret string) http.Handler {
	return New(&Config{
		AdminHandler:    handlers.NewAdminHandler(staticEvents{}, staticAudit{}, nil, nil),
		AdminAuthSecret: adminSecret,
	})
}

func adminToken(t *testing.T, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, middleware.OperatorClaims{
		Role: "on-call",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ops",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter("")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestAdminRoutesRequireJWT(t *testing.T) {
	router := newTestRouter("test-secret")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/audit", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/admin/audit", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken(t, "wrong-secret"))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/admin/audit", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken(t, "test-secret"))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminRoutesDisabledWithoutSecret(t *testing.T) {
	router := newTestRouter("")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/audit", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnconfiguredRoutesAre404(t *testing.T) {
	router := newTestRouter("")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/analyze", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimitApplied(t *testing.T) {
	router := New(&Config{
		RateLimitPerSecond: 1,
		RateLimitBurst:     1,
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "10.0.0.9:1234"

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}
