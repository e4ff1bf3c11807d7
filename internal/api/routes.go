package api

import (
	"entitlement-api/internal/middleware"
	"entitlement-api/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes sets up all routes
func SetupRoutes(r *gin.Engine, h *SubscriptionHandler, verifier *middleware.TokenVerifier, limiter services.SubmissionLimiter) {
	api := r.Group("/api")
	api.Use(middleware.AuthMiddleware(verifier))
	{
		subscriptions := api.Group("/subscriptions")
		{
			subscriptions.POST("/receipts", middleware.ReceiptRateLimit(limiter), h.SubmitReceipt)
			subscriptions.GET("/receipts", h.GetReceiptHistory)
			subscriptions.GET("/status", h.GetStatus)
			subscriptions.POST("/reconcile", h.Reconcile)
		}
	}

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": "entitlement-api",
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
