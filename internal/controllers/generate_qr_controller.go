package controllers

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/osvaldoandrade/qrbot/internal/envelope"
	"github.com/osvaldoandrade/qrbot/internal/services"
	"github.com/osvaldoandrade/qrbot/pkg/domain"
)

type generateQRController struct {
	svc     services.BroadcastService
	mode    services.Mode
	success string
}

// NewGenerateQRController serves POST /generate-qr.
func NewGenerateQRController(svc services.BroadcastService) *generateQRController {
	return &generateQRController{svc: svc, mode: services.ModeSingle, success: "QR code sent to Slack"}
}

// NewCustomQRController serves POST /generate-qr/custom, which also honours
// qr_options.
func NewCustomQRController(svc services.BroadcastService) *generateQRController {
	return &generateQRController{svc: svc, mode: services.ModeCustom, success: "Custom QR code sent to Slack"}
}

type generateQRReq struct {
	APKURL      string            `json:"apk_url"`
	Channel     string            `json:"channel"`
	BuildNumber buildNumber       `json:"build_number"`
	QROptions   *domain.QROptions `json:"qr_options,omitempty"`
}

func (h *generateQRController) Handle(c *gin.Context) {
	var req generateQRReq
	if !bindJSON(c, &req) {
		return
	}
	if strings.TrimSpace(req.APKURL) == "" || strings.TrimSpace(req.Channel) == "" {
		envelope.BadRequest(c, "Missing required parameters: apk_url, channel")
		return
	}
	if h.mode == services.ModeSingle {
		req.QROptions = nil
	}

	summary, err := h.svc.Send(c.Request.Context(), artifactRequest(req.APKURL, req.BuildNumber, req.QROptions), req.Channel, h.mode)
	if err != nil {
		writeRequestError(c, err)
		return
	}
	if len(summary.PerDestination) != 1 {
		envelope.ServerError(c, "", nil)
		return
	}
	result := summary.PerDestination[0]
	if result.Succeeded() {
		envelope.Success(c, h.success, result)
		return
	}
	envelope.Write(c, statusForOutcome(result.DeliveryOutcome), result.Error, result)
}
