package api

import (
	"net/http"

	"entitlement-api/internal/middleware"
	"entitlement-api/internal/response"

	"github.com/gin-gonic/gin"
)

// ReconcileResponse represents manual reconcile response
type ReconcileResponse struct {
	PairingsUpdated   int      `json:"pairings_updated"`
	PremiumPairingIDs []string `json:"premium_pairing_ids"`
	Warnings          []string `json:"warnings"`
}

// Reconcile recomputes premium for every accepted pairing of the user.
// POST /api/subscriptions/reconcile
func (h *SubscriptionHandler) Reconcile(c *gin.Context) {
	result, err := h.engine.Reconcile(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		response.FromError(c, err)
		return
	}

	warnings := make([]string, 0, len(result.FailedPairingIDs))
	for _, pairingID := range result.FailedPairingIDs {
		warnings = append(warnings, "pairing "+pairingID+" could not be reconciled")
	}

	c.JSON(http.StatusOK, ReconcileResponse{
		PairingsUpdated:   len(result.PremiumPairingIDs),
		PremiumPairingIDs: result.PremiumPairingIDs,
		Warnings:          warnings,
	})
}
