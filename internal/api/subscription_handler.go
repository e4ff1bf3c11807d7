package api

import (
	"context"

	"entitlement-api/internal/services"
)

// EntitlementEngine is the part of EntitlementService the HTTP layer calls.
type EntitlementEngine interface {
	ProcessReceipt(ctx context.Context, userID string, body []byte) (*services.ReceiptResult, error)
	GetStatus(ctx context.Context, userID string) (*services.PremiumStatus, error)
	GetReceiptHistory(ctx context.Context, userID string) (*services.ReceiptHistory, error)
	Reconcile(ctx context.Context, userID string) (*services.ReconcileResult, error)
}

// SubscriptionHandler serves /api/subscriptions for the authenticated user.
type SubscriptionHandler struct {
	engine EntitlementEngine
}

func NewSubscriptionHandler(engine EntitlementEngine) *SubscriptionHandler {
	return &SubscriptionHandler{engine: engine}
}
