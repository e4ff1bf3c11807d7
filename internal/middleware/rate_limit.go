package middleware

import (
	"entitlement-api/internal/apperrors"
	"entitlement-api/internal/metrics"
	"entitlement-api/internal/services"
	"entitlement-api/pkg/logging"

	"github.com/gin-gonic/gin"
)

// ReceiptRateLimit rejects a user's submissions past the limiter's quota.
// Must run after AuthMiddleware. Limiter errors let the request through.
func ReceiptRateLimit(limiter services.SubmissionLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := UserID(c)
		log := logging.With().Str("user_id", userID).Logger()

		allowed, err := limiter.Allow(c.Request.Context(), userID)
		if err != nil {
			log.Warn().Err(err).Msg("Submission limiter unavailable, allowing request")
			c.Next()
			return
		}

		if !allowed {
			metrics.ReceiptsRateLimitedTotal.Inc()
			log.Warn().Msg("Receipt submission rate limited")
			abort(c, apperrors.RateLimited("Too many receipt submissions, try again later"))
			return
		}

		c.Next()
	}
}
