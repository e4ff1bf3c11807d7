package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func signToken(t *testing.T, method jwt.SigningMethod, key interface{}, claims jwt.RegisteredClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func validClaims(subject string) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    "accounts",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
}

func newAuthRouter(verifier *TokenVerifier) *gin.Engine {
	r := gin.New()
	r.GET("/me", AuthMiddleware(verifier), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": UserID(c)})
	})
	return r
}

func get(r http.Handler, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddlewareAcceptsValidToken(t *testing.T) {
	r := newAuthRouter(NewTokenVerifier(testSecret, "accounts"))
	token := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims("user-a"))

	w := get(r, "Bearer "+token)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "user-a", body["user_id"])
}

func TestAuthMiddlewareRejects(t *testing.T) {
	expired := validClaims("user-a")
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

	wrongIssuer := validClaims("user-a")
	wrongIssuer.Issuer = "someone-else"

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"not bearer", "Basic dXNlcjpwYXNz"},
		{"garbage", "Bearer not-a-jwt"},
		{"wrong secret", "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte("other"), validClaims("user-a"))},
		{"expired", "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), expired)},
		{"wrong issuer", "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), wrongIssuer)},
		{"no subject", "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims(""))},
		{"other algorithm", "Bearer " + signToken(t, jwt.SigningMethodHS512, []byte(testSecret), validClaims("user-a"))},
	}

	r := newAuthRouter(NewTokenVerifier(testSecret, "accounts"))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(r, tt.header)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Contains(t, w.Body.String(), `"code":"unauthorized"`)
		})
	}
}

func TestTokenVerifierWithoutSecret(t *testing.T) {
	_, err := NewTokenVerifier("", "").Verify("anything")
	assert.Error(t, err)
}

type stubLimiter struct {
	allowed bool
	err     error
	calls   []string
}

func (s *stubLimiter) Allow(_ context.Context, userID string) (bool, error) {
	s.calls = append(s.calls, userID)
	return s.allowed, s.err
}

func newLimitedRouter(limiter *stubLimiter) *gin.Engine {
	r := gin.New()
	r.POST("/receipts",
		func(c *gin.Context) { c.Set(userIDKey, "user-a") },
		ReceiptRateLimit(limiter),
		func(c *gin.Context) { c.Status(http.StatusCreated) },
	)
	return r
}

func post(r http.Handler) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/receipts", nil))
	return w
}

func TestReceiptRateLimit(t *testing.T) {
	t.Run("allowed", func(t *testing.T) {
		limiter := &stubLimiter{allowed: true}
		w := post(newLimitedRouter(limiter))
		assert.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, []string{"user-a"}, limiter.calls)
	})

	t.Run("over quota", func(t *testing.T) {
		w := post(newLimitedRouter(&stubLimiter{allowed: false}))
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Contains(t, w.Body.String(), `"code":"rate_limited"`)
	})

	t.Run("limiter down", func(t *testing.T) {
		w := post(newLimitedRouter(&stubLimiter{err: errors.New("redis: connection refused")}))
		assert.Equal(t, http.StatusCreated, w.Code)
	})
}
