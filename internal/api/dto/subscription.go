package dto

import (
	"time"

	"github.com/helioscale/helioscale/internal/gateway"
	"github.com/helioscale/helioscale/internal/proration"
)

// ChangePlanRequest moves a subscription to a new price.
type ChangePlanRequest struct {
	PriceID string `json:"price_id" binding:"required"`
}

// ChangePlanResponse pairs the updated subscription with the proration
// that was applied.
type ChangePlanResponse struct {
	Subscription *gateway.Subscription `json:"subscription"`
	Proration    *proration.Result     `json:"proration"`
}

// PreviewChangeRequest asks what a plan change would cost, without
// applying it.
type PreviewChangeRequest struct {
	PriceID string `json:"price_id" binding:"required"`
}

// CancelSubscriptionRequest cancels a subscription.
type CancelSubscriptionRequest struct {
	Immediate bool   `json:"immediate"`
	Reason    string `json:"reason"`
	Feedback  string `json:"feedback"`
}

// PauseSubscriptionRequest pauses collection, optionally until a
// scheduled resume time.
type PauseSubscriptionRequest struct {
	ResumeAt *time.Time `json:"resume_at"`
}

// ListSubscriptionsQuery filters the subscription listing.
type ListSubscriptionsQuery struct {
	CustomerID string `form:"customer_id"`
	Status     string `form:"status"`
}

// UpcomingRenewalsQuery bounds the renewal report window in days.
type UpcomingRenewalsQuery struct {
	Days int `form:"days,default=30" binding:"omitempty,gt=0"`
}
