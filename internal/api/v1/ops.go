package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/helioscale/helioscale/internal/audit"
	"github.com/helioscale/helioscale/internal/logger"
	"github.com/helioscale/helioscale/internal/scheduler"
)

// OpsHandler exposes the operational surface: background job control
// and audit sink maintenance.
type OpsHandler struct {
	scheduler *scheduler.Scheduler
	sink      audit.Sink
	log       *logger.Logger
}

func NewOpsHandler(sched *scheduler.Scheduler, sink audit.Sink, log *logger.Logger) *OpsHandler {
	return &OpsHandler{scheduler: sched, sink: sink, log: log}
}

func (h *OpsHandler) JobsStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.scheduler.JobsStatus())
}

func (h *OpsHandler) TriggerJob(c *gin.Context) {
	if err := h.scheduler.Trigger(c.Param("name")); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"triggered": c.Param("name")})
}

func (h *OpsHandler) AuditStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.sink.Stats())
}

func (h *OpsHandler) FlushAudit(c *gin.Context) {
	drained, err := h.sink.Flush(c.Request.Context())
	if err != nil {
		h.log.Warnw("audit flush stopped early", "drained", drained, "error", err)
		c.JSON(http.StatusOK, gin.H{"drained": drained, "complete": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"drained": drained, "complete": true})
}
