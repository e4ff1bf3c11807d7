package api

import (
	"net/http"

	"entitlement-api/internal/middleware"
	"entitlement-api/internal/response"
	"entitlement-api/internal/services"

	"github.com/gin-gonic/gin"
)

// GetSubscriptionStatusResponse represents subscription status response
type GetSubscriptionStatusResponse struct {
	Premium             bool                          `json:"premium"`
	ActiveSubscriptions int                           `json:"active_subscriptions"`
	LatestExpiration    *int64                        `json:"latest_expiration"`
	Subscriptions       []services.SubscriptionRecord `json:"subscriptions"`
}

// GetStatus returns the persisted premium flag and the user's active subscriptions.
// GET /api/subscriptions/status
func (h *SubscriptionHandler) GetStatus(c *gin.Context) {
	status, err := h.engine.GetStatus(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		response.FromError(c, err)
		return
	}

	c.JSON(http.StatusOK, GetSubscriptionStatusResponse{
		Premium:             status.Premium,
		ActiveSubscriptions: len(status.ActiveSubscriptions),
		LatestExpiration:    status.LatestExpiration,
		Subscriptions:       status.ActiveSubscriptions,
	})
}
