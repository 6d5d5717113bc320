package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/helioscale/helioscale/internal/api/dto"
	ierr "github.com/helioscale/helioscale/internal/errors"
	"github.com/helioscale/helioscale/internal/logger"
	"github.com/helioscale/helioscale/internal/service"
)

type DunningHandler struct {
	service service.DunningService
	log     *logger.Logger
}

func NewDunningHandler(service service.DunningService, log *logger.Logger) *DunningHandler {
	return &DunningHandler{service: service, log: log}
}

// RetryPayment attempts collection on an open invoice right away. The
// outcome is structured rather than an error: a declined card is a valid
// result, not a failed request.
func (h *DunningHandler) RetryPayment(c *gin.Context) {
	ctx := c.Request.Context()
	result := h.service.RetryInvoicePayment(ctx, c.Param("id"))
	if result.Err != nil && ierr.IsNotFound(result.Err) {
		c.Error(result.Err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *DunningHandler) ScheduleRetry(c *gin.Context) {
	ctx := c.Request.Context()
	decision, err := h.service.SchedulePaymentRetry(ctx, c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, decision)
}

func (h *DunningHandler) RetryStatus(c *gin.Context) {
	ctx := c.Request.Context()
	status, err := h.service.GetRetryStatus(ctx, c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *DunningHandler) UpdatePaymentMethod(c *gin.Context) {
	ctx := c.Request.Context()
	var req dto.UpdatePaymentMethodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	result, err := h.service.UpdatePaymentMethodAndRetry(ctx, c.Param("id"), req.PaymentMethodID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, result)
}
