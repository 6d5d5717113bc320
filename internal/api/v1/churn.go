package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/helioscale/helioscale/internal/api/dto"
	ierr "github.com/helioscale/helioscale/internal/errors"
	"github.com/helioscale/helioscale/internal/logger"
	"github.com/helioscale/helioscale/internal/service"
)

type ChurnHandler struct {
	service service.ChurnService
	log     *logger.Logger
}

func NewChurnHandler(service service.ChurnService, log *logger.Logger) *ChurnHandler {
	return &ChurnHandler{service: service, log: log}
}

func (h *ChurnHandler) AssessCustomer(c *gin.Context) {
	ctx := c.Request.Context()
	assessment, err := h.service.AssessCustomer(ctx, c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, assessment)
}

func (h *ChurnHandler) AtRiskCustomers(c *gin.Context) {
	ctx := c.Request.Context()
	var query dto.AtRiskQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid filter parameters").
			Mark(ierr.ErrValidation))
		return
	}

	assessments, err := h.service.AtRiskCustomers(ctx, query.MinScore, query.Limit)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"customers": assessments, "count": len(assessments)})
}

func (h *ChurnHandler) GenerateReport(c *gin.Context) {
	ctx := c.Request.Context()
	report, err := h.service.GenerateReport(ctx)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *ChurnHandler) ExecuteRetention(c *gin.Context) {
	ctx := c.Request.Context()
	result, err := h.service.ExecuteRetentionActions(ctx, c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, result)
}
