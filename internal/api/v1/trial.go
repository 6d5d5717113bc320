package v1

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/helioscale/helioscale/internal/api/dto"
	ierr "github.com/helioscale/helioscale/internal/errors"
	"github.com/helioscale/helioscale/internal/logger"
	"github.com/helioscale/helioscale/internal/service"
)

type TrialHandler struct {
	service service.TrialService
	log     *logger.Logger
}

func NewTrialHandler(service service.TrialService, log *logger.Logger) *TrialHandler {
	return &TrialHandler{service: service, log: log}
}

func (h *TrialHandler) CreateTrial(c *gin.Context) {
	ctx := c.Request.Context()
	var req dto.CreateTrialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	sub, err := h.service.CreateTrialSubscription(ctx, req.CustomerID, req.PriceID, req.TrialDays)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, sub)
}

func (h *TrialHandler) ListActiveTrials(c *gin.Context) {
	ctx := c.Request.Context()
	trials, err := h.service.GetActiveTrials(ctx)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trials": trials, "count": len(trials)})
}

func (h *TrialHandler) ListExpiringTrials(c *gin.Context) {
	ctx := c.Request.Context()
	var query dto.ExpiringTrialsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid threshold parameters").
			Mark(ierr.ErrValidation))
		return
	}

	trials, err := h.service.GetExpiringTrials(ctx, query.Days)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trials": trials, "count": len(trials)})
}

func (h *TrialHandler) ExtendTrial(c *gin.Context) {
	ctx := c.Request.Context()
	var req dto.ExtendTrialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	sub, err := h.service.ExtendTrial(ctx, c.Param("id"), req.AdditionalDays)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

func (h *TrialHandler) ConvertTrial(c *gin.Context) {
	ctx := c.Request.Context()
	sub, err := h.service.ConvertTrialToPaid(ctx, c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

func (h *TrialHandler) CancelTrial(c *gin.Context) {
	ctx := c.Request.Context()
	var req dto.CancelTrialRequest
	if err := c.ShouldBindJSON(&req); err != nil && err != io.EOF {
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	sub, err := h.service.CancelTrial(ctx, c.Param("id"), req.Reason)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

func (h *TrialHandler) ConversionMetrics(c *gin.Context) {
	ctx := c.Request.Context()
	metrics, err := h.service.GetConversionMetrics(ctx)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, metrics)
}
