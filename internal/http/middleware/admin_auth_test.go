package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func operatorToken(t *testing.T, secret, role string, ttl time.Duration) string {
	t.Helper()
	claims := OperatorClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "op-7",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestAdminJWT(t *testing.T) {
	const secret = "ledger-ops"

	tests := []struct {
		name   string
		token  string
		status int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"wrong secret", operatorToken(t, "other-secret", "on-call", time.Minute), http.StatusUnauthorized},
		{"expired", operatorToken(t, secret, "on-call", -time.Minute), http.StatusUnauthorized},
		{"missing role", operatorToken(t, secret, "", time.Minute), http.StatusUnauthorized},
		{"valid operator", operatorToken(t, secret, "on-call", time.Minute), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin/audit", nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			rec := httptest.NewRecorder()
			AdminJWT(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			})).ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestAdminJWTDisabledWithoutSecret(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/admin/events", nil)
	req.Header.Set("Authorization", "Bearer "+operatorToken(t, "", "on-call", time.Minute))
	rec := httptest.NewRecorder()

	AdminJWT("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run without a configured secret")
	})).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestOperatorFromContext(t *testing.T) {
	var got OperatorClaims
	var ok bool
	handler := AdminJWT("ledger-ops")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok = OperatorFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/admin/purge", nil)
	req.Header.Set("Authorization", "Bearer "+operatorToken(t, "ledger-ops", "retention-admin", time.Minute))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	require.True(t, ok)
	assert.Equal(t, "op-7", got.Subject)
	assert.Equal(t, "retention-admin", got.Role)
}
