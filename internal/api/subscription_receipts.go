package api

import (
	"io"
	"net/http"

	"entitlement-api/internal/apperrors"
	"entitlement-api/internal/middleware"
	"entitlement-api/internal/models"
	"entitlement-api/internal/response"

	"github.com/gin-gonic/gin"
)

// Receipt blobs are JWS strings or purchase tokens; anything past this is not a receipt.
const maxReceiptBodyBytes = 1 << 20

// SubmittedSubscription is the stored row as seen by the client.
type SubmittedSubscription struct {
	ID             string `json:"id"`
	Platform       string `json:"platform"`
	ProductID      string `json:"product_id"`
	IsActive       bool   `json:"is_active"`
	ExpirationDate int64  `json:"expiration_date"`
}

// SubmitPremiumStatus reports the reconciliation that ran for the submission.
type SubmitPremiumStatus struct {
	Active          bool     `json:"active"`
	PairingsUpdated int      `json:"pairings_updated"`
	Warnings        []string `json:"warnings,omitempty"`
	ReconcileFailed int      `json:"reconcile_failed,omitempty"`
}

// SubmitReceiptResponse represents receipt submission response
type SubmitReceiptResponse struct {
	Subscription  SubmittedSubscription `json:"subscription"`
	PremiumStatus SubmitPremiumStatus   `json:"premium_status"`
}

// SubmitReceipt stores a receipt and reconciles the user's pairings before responding.
// POST /api/subscriptions/receipts
// Returns 201 when the receipt was new, 200 when it refreshed an existing row.
func (h *SubscriptionHandler) SubmitReceipt(c *gin.Context) {
	userID := middleware.UserID(c)

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxReceiptBodyBytes))
	if err != nil {
		response.FromError(c, apperrors.Validation("request body is too large or unreadable"))
		return
	}

	result, err := h.engine.ProcessReceipt(c.Request.Context(), userID, body)
	if err != nil {
		response.FromError(c, err)
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}

	c.JSON(status, SubmitReceiptResponse{
		Subscription: SubmittedSubscription{
			ID:             result.Subscription.ID,
			Platform:       result.Platform,
			ProductID:      result.Subscription.ProductID,
			IsActive:       result.IsActive,
			ExpirationDate: result.Subscription.ExpirationDate,
		},
		PremiumStatus: SubmitPremiumStatus{
			Active:          result.IsActive,
			PairingsUpdated: len(result.PremiumUpdates),
			Warnings:        result.Warnings,
			ReconcileFailed: result.ReconcileFailed,
		},
	})
}

// IOSReceiptItem is one stored App Store purchase.
type IOSReceiptItem struct {
	ID                    string `json:"id"`
	ProductID             string `json:"product_id"`
	TransactionID         string `json:"transaction_id"`
	OriginalTransactionID string `json:"original_transaction_id"`
	Environment           string `json:"environment"`
	PurchaseDate          int64  `json:"purchase_date"`
	ExpirationDate        int64  `json:"expiration_date"`
	IsActive              bool   `json:"is_active"`
}

// AndroidReceiptItem is one stored Google Play purchase.
type AndroidReceiptItem struct {
	ID             string `json:"id"`
	ProductID      string `json:"product_id"`
	OrderID        string `json:"order_id"`
	PackageName    string `json:"package_name"`
	PurchaseDate   int64  `json:"purchase_date"`
	ExpirationDate int64  `json:"expiration_date"`
	IsActive       bool   `json:"is_active"`
}

// ReceiptHistoryResponse represents receipt history response
type ReceiptHistoryResponse struct {
	IOSReceipts     []IOSReceiptItem     `json:"ios_receipts"`
	AndroidReceipts []AndroidReceiptItem `json:"android_receipts"`
	TotalReceipts   int                  `json:"total_receipts"`
}

// GetReceiptHistory lists every stored receipt of the user, newest first.
// GET /api/subscriptions/receipts
func (h *SubscriptionHandler) GetReceiptHistory(c *gin.Context) {
	history, err := h.engine.GetReceiptHistory(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		response.FromError(c, err)
		return
	}

	resp := ReceiptHistoryResponse{
		IOSReceipts:     make([]IOSReceiptItem, 0, len(history.IOS)),
		AndroidReceipts: make([]AndroidReceiptItem, 0, len(history.Android)),
	}
	for i := range history.IOS {
		resp.IOSReceipts = append(resp.IOSReceipts, iosReceiptItem(&history.IOS[i], history.NowMs))
	}
	for i := range history.Android {
		resp.AndroidReceipts = append(resp.AndroidReceipts, androidReceiptItem(&history.Android[i], history.NowMs))
	}
	resp.TotalReceipts = len(resp.IOSReceipts) + len(resp.AndroidReceipts)

	c.JSON(http.StatusOK, resp)
}

func iosReceiptItem(row *models.IOSSubscription, nowMs int64) IOSReceiptItem {
	return IOSReceiptItem{
		ID:                    row.ID,
		ProductID:             row.ProductID,
		TransactionID:         row.TransactionID,
		OriginalTransactionID: row.OriginalTransactionID,
		Environment:           row.Environment,
		PurchaseDate:          row.PurchaseDate,
		ExpirationDate:        row.ExpirationDate,
		IsActive:              row.IsActiveAt(nowMs),
	}
}

func androidReceiptItem(row *models.AndroidSubscription, nowMs int64) AndroidReceiptItem {
	return AndroidReceiptItem{
		ID:             row.ID,
		ProductID:      row.ProductID,
		OrderID:        row.OrderID,
		PackageName:    row.PackageName,
		PurchaseDate:   row.PurchaseDate,
		ExpirationDate: row.ExpirationDate,
		IsActive:       row.IsActiveAt(nowMs),
	}
}
