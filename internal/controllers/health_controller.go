package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/osvaldoandrade/qrbot/internal/envelope"
	"github.com/osvaldoandrade/qrbot/internal/services"
)

type healthController struct{ svc services.HealthService }

func NewHealthController(svc services.HealthService) *healthController {
	return &healthController{svc}
}

func (h *healthController) Handle(c *gin.Context) {
	conn := h.svc.Check(c.Request.Context())
	if conn.Connected {
		envelope.Success(c, "Service is healthy", gin.H{"status": "healthy", "slack_connection": conn})
		return
	}
	envelope.Write(c, http.StatusServiceUnavailable, "Service degraded - Slack connection failed",
		gin.H{"status": "unhealthy", "slack_connection": conn})
}
