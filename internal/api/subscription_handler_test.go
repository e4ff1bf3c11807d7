package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"entitlement-api/internal/database"
	"entitlement-api/internal/middleware"
	"entitlement-api/internal/models"
	"entitlement-api/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testSecret = "api-test-secret"

var now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type testServer struct {
	router *gin.Engine
	db     *gorm.DB
}

type allowAll struct{}

func (allowAll) Allow(context.Context, string) (bool, error) { return true, nil }

func newTestServer(t *testing.T, limiter services.SubmissionLimiter) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)),
		&gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, database.AutoMigrate(db))

	engine := services.NewEntitlementService(
		database.NewIOSSubscriptionStore(db),
		database.NewAndroidSubscriptionStore(db),
		database.NewPairingStore(db),
		database.NewUserStore(db),
		services.WithClock(func() time.Time { return now }),
	)

	if limiter == nil {
		limiter = allowAll{}
	}
	r := gin.New()
	SetupRoutes(r, NewSubscriptionHandler(engine), middleware.NewTokenVerifier(testSecret, ""), limiter)

	return &testServer{router: r, db: db}
}

func (s *testServer) addUser(t *testing.T, id string) {
	t.Helper()
	user := &models.User{Email: id + "@example.com"}
	user.ID = id
	require.NoError(t, s.db.Create(user).Error)
}

func (s *testServer) addAcceptedPairing(t *testing.T, id, user1, user2 string) {
	t.Helper()
	pairing := &models.Pairing{User1ID: user1, User2ID: &user2, Status: models.PairingStatusAccepted}
	pairing.ID = id
	require.NoError(t, s.db.Create(pairing).Error)
}

func tokenFor(t *testing.T, userID string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func (s *testServer) do(t *testing.T, method, path, userID string, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+tokenFor(t, userID))
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func iosReceipt(txID string, expiration time.Time) string {
	return fmt.Sprintf(`{"platform":"ios","product_id":"premium.yearly","transaction_id":%q,`+
		`"original_transaction_id":"orig-%s","jws_receipt":"eyJ.e30.sig","environment":"Sandbox",`+
		`"purchase_date":%d,"expiration_date":%d}`,
		txID, txID, now.AddDate(0, -1, 0).UnixMilli(), expiration.UnixMilli())
}

func androidReceipt(orderID, token string, expiration time.Time) string {
	return fmt.Sprintf(`{"platform":"Android","product_id":"premium_monthly","purchase_token":%q,`+
		`"order_id":%q,"package_name":"com.example.couples","purchase_date":%d,"expiration_date":%d}`,
		token, orderID, now.AddDate(0, -1, 0).UnixMilli(), expiration.UnixMilli())
}

func TestSubmitReceiptCreatedThenUpdated(t *testing.T) {
	s := newTestServer(t, nil)
	body := iosReceipt("tx-1", now.AddDate(1, 0, 0))

	w := s.do(t, http.MethodPost, "/api/subscriptions/receipts", "user-a", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created SubmitReceiptResponse
	decode(t, w, &created)
	assert.Equal(t, "ios", created.Subscription.Platform)
	assert.Equal(t, "premium.yearly", created.Subscription.ProductID)
	assert.True(t, created.Subscription.IsActive)
	assert.Equal(t, now.AddDate(1, 0, 0).UnixMilli(), created.Subscription.ExpirationDate)
	assert.True(t, created.PremiumStatus.Active)
	assert.Equal(t, 0, created.PremiumStatus.PairingsUpdated)
	assert.NotContains(t, w.Body.String(), "warnings")

	w = s.do(t, http.MethodPost, "/api/subscriptions/receipts", "user-a", body)
	require.Equal(t, http.StatusOK, w.Code)

	var updated SubmitReceiptResponse
	decode(t, w, &updated)
	assert.Equal(t, created.Subscription.ID, updated.Subscription.ID)
}

func TestSubmitReceiptUpdatesPartnerStatus(t *testing.T) {
	s := newTestServer(t, nil)
	s.addUser(t, "user-a")
	s.addUser(t, "user-b")
	s.addAcceptedPairing(t, "pair-ab", "user-a", "user-b")

	w := s.do(t, http.MethodPost, "/api/subscriptions/receipts", "user-a",
		androidReceipt("GPA.1", "token-a", now.AddDate(0, 1, 0)))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var submitted SubmitReceiptResponse
	decode(t, w, &submitted)
	assert.Equal(t, 1, submitted.PremiumStatus.PairingsUpdated)

	w = s.do(t, http.MethodGet, "/api/subscriptions/status", "user-b", "")
	require.Equal(t, http.StatusOK, w.Code)

	var partner GetSubscriptionStatusResponse
	decode(t, w, &partner)
	assert.True(t, partner.Premium)
	assert.Equal(t, 0, partner.ActiveSubscriptions)
	assert.Nil(t, partner.LatestExpiration)
	assert.Empty(t, partner.Subscriptions)

	w = s.do(t, http.MethodGet, "/api/subscriptions/status", "user-a", "")
	require.Equal(t, http.StatusOK, w.Code)

	var owner GetSubscriptionStatusResponse
	decode(t, w, &owner)
	assert.True(t, owner.Premium)
	assert.Equal(t, 1, owner.ActiveSubscriptions)
	require.NotNil(t, owner.LatestExpiration)
	assert.Equal(t, now.AddDate(0, 1, 0).UnixMilli(), *owner.LatestExpiration)
	require.Len(t, owner.Subscriptions, 1)
	assert.Equal(t, "android", owner.Subscriptions[0].Platform)
}

func TestSubmitReceiptErrors(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, http.MethodPost, "/api/subscriptions/receipts", "user-a",
		androidReceipt("GPA.1", "token-a", now.AddDate(0, 1, 0)))
	require.Equal(t, http.StatusCreated, w.Code)

	tests := []struct {
		name    string
		userID  string
		body    string
		status  int
		code    string
		message string
	}{
		{"unauthenticated", "", iosReceipt("tx-9", now.AddDate(0, 1, 0)), http.StatusUnauthorized, "unauthorized", ""},
		{"empty body", "user-a", "", http.StatusBadRequest, "validation_error", "request body is required"},
		{"unknown platform", "user-a", `{"platform":"web"}`, http.StatusBadRequest, "validation_error", ""},
		{"missing order id", "user-a",
			`{"platform":"android","product_id":"p","purchase_token":"t","package_name":"com.x","purchase_date":1700000000000,"expiration_date":1702592000000}`,
			http.StatusBadRequest, "validation_error", "order_id is required"},
		{"order id owned by another account", "user-b",
			androidReceipt("GPA.1", "token-b", now.AddDate(0, 1, 0)),
			http.StatusConflict, "ownership_conflict", "order_id is already registered to another account"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, http.MethodPost, "/api/subscriptions/receipts", tt.userID, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())

			var body map[string]interface{}
			decode(t, w, &body)
			assert.Equal(t, false, body["success"])
			assert.Equal(t, tt.code, body["code"])
			if tt.message != "" {
				assert.Equal(t, tt.message, body["message"])
			}
		})
	}
}

type denyAll struct{}

func (denyAll) Allow(context.Context, string) (bool, error) { return false, nil }

func TestSubmitReceiptRateLimited(t *testing.T) {
	s := newTestServer(t, denyAll{})

	w := s.do(t, http.MethodPost, "/api/subscriptions/receipts", "user-a", iosReceipt("tx-1", now.AddDate(0, 1, 0)))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	var count int64
	require.NoError(t, s.db.Model(&models.IOSSubscription{}).Count(&count).Error)
	assert.Zero(t, count)

	// Only submission is throttled.
	s.addUser(t, "user-a")
	w = s.do(t, http.MethodGet, "/api/subscriptions/status", "user-a", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGetStatusUnknownUser(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, http.MethodGet, "/api/subscriptions/status", "ghost", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetReceiptHistory(t *testing.T) {
	s := newTestServer(t, nil)
	s.addUser(t, "user-a")

	require.Equal(t, http.StatusCreated,
		s.do(t, http.MethodPost, "/api/subscriptions/receipts", "user-a", iosReceipt("tx-1", now.AddDate(0, 1, 0))).Code)
	require.Equal(t, http.StatusCreated,
		s.do(t, http.MethodPost, "/api/subscriptions/receipts", "user-a", androidReceipt("GPA.1", "token-a", now.Add(-time.Hour))).Code)

	w := s.do(t, http.MethodGet, "/api/subscriptions/receipts", "user-a", "")
	require.Equal(t, http.StatusOK, w.Code)

	var history ReceiptHistoryResponse
	decode(t, w, &history)
	assert.Equal(t, 2, history.TotalReceipts)
	require.Len(t, history.IOSReceipts, 1)
	require.Len(t, history.AndroidReceipts, 1)
	assert.True(t, history.IOSReceipts[0].IsActive)
	assert.Equal(t, "Sandbox", history.IOSReceipts[0].Environment)
	assert.False(t, history.AndroidReceipts[0].IsActive)
	assert.NotContains(t, w.Body.String(), "jws_receipt")
}

func TestReconcileEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	s.addAcceptedPairing(t, "pair-ab", "user-a", "user-b")

	require.Equal(t, http.StatusCreated,
		s.do(t, http.MethodPost, "/api/subscriptions/receipts", "user-b", iosReceipt("tx-1", now.AddDate(0, 1, 0))).Code)

	w := s.do(t, http.MethodPost, "/api/subscriptions/reconcile", "user-a", "")
	require.Equal(t, http.StatusOK, w.Code)

	var result ReconcileResponse
	decode(t, w, &result)
	assert.Equal(t, 1, result.PairingsUpdated)
	assert.Equal(t, []string{"pair-ab"}, result.PremiumPairingIDs)
	assert.Empty(t, result.Warnings)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)

	w = s.do(t, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}
