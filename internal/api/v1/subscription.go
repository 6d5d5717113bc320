package v1

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/helioscale/helioscale/internal/api/dto"
	ierr "github.com/helioscale/helioscale/internal/errors"
	"github.com/helioscale/helioscale/internal/gateway"
	"github.com/helioscale/helioscale/internal/logger"
	"github.com/helioscale/helioscale/internal/proration"
	"github.com/helioscale/helioscale/internal/service"
	"github.com/helioscale/helioscale/internal/types"
)

type SubscriptionHandler struct {
	service service.SubscriptionService
	log     *logger.Logger
}

func NewSubscriptionHandler(service service.SubscriptionService, log *logger.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{service: service, log: log}
}

func (h *SubscriptionHandler) GetSubscription(c *gin.Context) {
	ctx := c.Request.Context()
	sub, err := h.service.GetSubscription(ctx, c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

func (h *SubscriptionHandler) ListSubscriptions(c *gin.Context) {
	ctx := c.Request.Context()
	var query dto.ListSubscriptionsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid filter parameters").
			Mark(ierr.ErrValidation))
		return
	}

	subs, err := h.service.ListSubscriptions(ctx, gateway.SubscriptionFilter{
		CustomerID: query.CustomerID,
		Status:     types.SubscriptionStatus(query.Status),
	})
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscriptions": subs, "count": len(subs)})
}

func (h *SubscriptionHandler) ListPlans(c *gin.Context) {
	ctx := c.Request.Context()
	plans, err := h.service.ListPlans(ctx)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"plans": plans})
}

func (h *SubscriptionHandler) PreviewChange(c *gin.Context) {
	ctx := c.Request.Context()
	var req dto.PreviewChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	result, err := h.service.PreviewChange(ctx, c.Param("id"), req.PriceID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *SubscriptionHandler) Upgrade(c *gin.Context) {
	h.changePlan(c, h.service.Upgrade)
}

func (h *SubscriptionHandler) Downgrade(c *gin.Context) {
	h.changePlan(c, h.service.Downgrade)
}

func (h *SubscriptionHandler) changePlan(
	c *gin.Context,
	apply func(ctx context.Context, id, priceID string) (*gateway.Subscription, *proration.Result, error),
) {
	ctx := c.Request.Context()
	var req dto.ChangePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	sub, result, err := apply(ctx, c.Param("id"), req.PriceID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, dto.ChangePlanResponse{Subscription: sub, Proration: result})
}

func (h *SubscriptionHandler) Cancel(c *gin.Context) {
	ctx := c.Request.Context()
	var req dto.CancelSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil && err != io.EOF {
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	sub, err := h.service.Cancel(ctx, c.Param("id"), service.CancelParams{
		Immediate: req.Immediate,
		Reason:    req.Reason,
		Feedback:  req.Feedback,
	})
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

func (h *SubscriptionHandler) Reactivate(c *gin.Context) {
	ctx := c.Request.Context()
	sub, err := h.service.Reactivate(ctx, c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

func (h *SubscriptionHandler) Pause(c *gin.Context) {
	ctx := c.Request.Context()
	var req dto.PauseSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil && err != io.EOF {
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	sub, err := h.service.Pause(ctx, c.Param("id"), req.ResumeAt)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

func (h *SubscriptionHandler) Resume(c *gin.Context) {
	ctx := c.Request.Context()
	sub, err := h.service.Resume(ctx, c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

func (h *SubscriptionHandler) UpcomingRenewals(c *gin.Context) {
	ctx := c.Request.Context()
	var query dto.UpcomingRenewalsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid window parameters").
			Mark(ierr.ErrValidation))
		return
	}

	renewals, err := h.service.UpcomingRenewals(ctx, time.Duration(query.Days)*24*time.Hour)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"renewals": renewals, "count": len(renewals)})
}
