package api

import (
	"github.com/gin-gonic/gin"

	v1 "github.com/helioscale/helioscale/internal/api/v1"
	"github.com/helioscale/helioscale/internal/rest/middleware"
)

type Handlers struct {
	Health       *v1.HealthHandler
	Subscription *v1.SubscriptionHandler
	Trial        *v1.TrialHandler
	Dunning      *v1.DunningHandler
	Churn        *v1.ChurnHandler
	Ops          *v1.OpsHandler
}

func NewRouter(handlers Handlers) *gin.Engine {
	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.RequestIDMiddleware,
		middleware.CORSMiddleware,
		middleware.ErrorHandler(),
	)

	router.GET("/health", handlers.Health.Health)

	v1Group := router.Group("/v1")
	registerV1Routes(v1Group, handlers)

	return router
}

func registerV1Routes(router *gin.RouterGroup, handlers Handlers) {
	// Subscription lifecycle routes
	subscriptions := router.Group("/subscriptions")
	{
		subscriptions.GET("", handlers.Subscription.ListSubscriptions)
		subscriptions.GET("/renewals", handlers.Subscription.UpcomingRenewals)
		subscriptions.GET("/:id", handlers.Subscription.GetSubscription)
		subscriptions.POST("/:id/preview", handlers.Subscription.PreviewChange)
		subscriptions.POST("/:id/upgrade", handlers.Subscription.Upgrade)
		subscriptions.POST("/:id/downgrade", handlers.Subscription.Downgrade)
		subscriptions.POST("/:id/cancel", handlers.Subscription.Cancel)
		subscriptions.POST("/:id/reactivate", handlers.Subscription.Reactivate)
		subscriptions.POST("/:id/pause", handlers.Subscription.Pause)
		subscriptions.POST("/:id/resume", handlers.Subscription.Resume)
		subscriptions.GET("/:id/retry-status", handlers.Dunning.RetryStatus)
	}

	plans := router.Group("/plans")
	{
		plans.GET("", handlers.Subscription.ListPlans)
	}

	// Payment recovery routes
	invoices := router.Group("/invoices")
	{
		invoices.POST("/:id/retry", handlers.Dunning.RetryPayment)
		invoices.POST("/:id/schedule-retry", handlers.Dunning.ScheduleRetry)
	}

	// Trial routes
	trials := router.Group("/trials")
	{
		trials.POST("", handlers.Trial.CreateTrial)
		trials.GET("", handlers.Trial.ListActiveTrials)
		trials.GET("/expiring", handlers.Trial.ListExpiringTrials)
		trials.GET("/metrics", handlers.Trial.ConversionMetrics)
		trials.POST("/:id/extend", handlers.Trial.ExtendTrial)
		trials.POST("/:id/convert", handlers.Trial.ConvertTrial)
		trials.POST("/:id/cancel", handlers.Trial.CancelTrial)
	}

	// Customer health routes
	customers := router.Group("/customers")
	{
		customers.GET("/:id/churn-risk", handlers.Churn.AssessCustomer)
		customers.POST("/:id/payment-method", handlers.Dunning.UpdatePaymentMethod)
		customers.POST("/:id/retention", handlers.Churn.ExecuteRetention)
	}

	churn := router.Group("/churn")
	{
		churn.GET("/at-risk", handlers.Churn.AtRiskCustomers)
		churn.GET("/report", handlers.Churn.GenerateReport)
	}

	// Operational routes
	jobs := router.Group("/jobs")
	{
		jobs.GET("", handlers.Ops.JobsStatus)
		jobs.POST("/:name/trigger", handlers.Ops.TriggerJob)
	}

	auditGroup := router.Group("/audit")
	{
		auditGroup.GET("/stats", handlers.Ops.AuditStats)
		auditGroup.POST("/flush", handlers.Ops.FlushAudit)
	}
}
