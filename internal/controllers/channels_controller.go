package controllers

import (
	"github.com/gin-gonic/gin"

	"github.com/osvaldoandrade/qrbot/internal/envelope"
	"github.com/osvaldoandrade/qrbot/internal/middleware"
	"github.com/osvaldoandrade/qrbot/internal/services"
)

type channelsController struct{ svc services.BroadcastService }

func NewChannelsController(svc services.BroadcastService) *channelsController {
	return &channelsController{svc}
}

func (h *channelsController) Handle(c *gin.Context) {
	channels, err := h.svc.Channels(c.Request.Context())
	if err != nil {
		middleware.Logger(c).Error("list channels failed", "err", err)
		envelope.ServerError(c, "Failed to fetch channels", nil)
		return
	}
	envelope.Success(c, "Channels retrieved successfully", gin.H{"channels": channels, "count": len(channels)})
}
