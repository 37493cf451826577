package controllers

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/osvaldoandrade/qrbot/internal/envelope"
	"github.com/osvaldoandrade/qrbot/internal/middleware"
	"github.com/osvaldoandrade/qrbot/internal/services"
	"github.com/osvaldoandrade/qrbot/pkg/domain"
)

type broadcastController struct{ svc services.BroadcastService }

func NewBroadcastController(svc services.BroadcastService) *broadcastController {
	return &broadcastController{svc}
}

type broadcastReq struct {
	APKURL      string            `json:"apk_url"`
	Channels    []string          `json:"channels"`
	BuildNumber buildNumber       `json:"build_number"`
	QROptions   *domain.QROptions `json:"qr_options,omitempty"`
}

// Handle delivers to every listed channel. Per-channel failures do not change
// the status code; they are reported in results.
func (h *broadcastController) Handle(c *gin.Context) {
	var req broadcastReq
	if !bindJSON(c, &req) {
		return
	}
	if strings.TrimSpace(req.APKURL) == "" || req.Channels == nil {
		envelope.BadRequest(c, "Missing required parameters: apk_url, channels")
		return
	}
	if len(req.Channels) == 0 {
		envelope.BadRequest(c, "channels must be a non-empty array")
		return
	}

	summary, err := h.svc.Broadcast(c.Request.Context(), artifactRequest(req.APKURL, req.BuildNumber, req.QROptions), req.Channels)
	if err != nil {
		writeRequestError(c, err)
		return
	}
	envelope.Success(c, summary.Message(), destinationData(summary))
}

type broadcastAllController struct{ svc services.BroadcastService }

func NewBroadcastAllController(svc services.BroadcastService) *broadcastAllController {
	return &broadcastAllController{svc}
}

type broadcastAllReq struct {
	APKURL      string            `json:"apk_url"`
	BuildNumber buildNumber       `json:"build_number"`
	QROptions   *domain.QROptions `json:"qr_options,omitempty"`
}

func (h *broadcastAllController) Handle(c *gin.Context) {
	var req broadcastAllReq
	if !bindJSON(c, &req) {
		return
	}
	if strings.TrimSpace(req.APKURL) == "" {
		envelope.BadRequest(c, "Missing required parameter: apk_url")
		return
	}

	sweep, err := h.svc.BroadcastAll(c.Request.Context(), artifactRequest(req.APKURL, req.BuildNumber, req.QROptions))
	var ve *domain.ValidationError
	switch {
	case err == nil:
	case errors.Is(err, services.ErrNoMemberChannels):
		envelope.BadRequest(c, "Bot is not a member of any channels")
		return
	case errors.As(err, &ve):
		envelope.BadRequest(c, ve.Error())
		return
	default:
		middleware.Logger(c).Error("channel listing failed", "err", err)
		envelope.ServerError(c, "Failed to retrieve channels: "+err.Error(), nil)
		return
	}

	data := destinationData(sweep.BroadcastSummary)
	data["total_channels"] = sweep.TotalChannels
	envelope.Success(c, sweep.Message(), data)
}
