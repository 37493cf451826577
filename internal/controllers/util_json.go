package controllers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/osvaldoandrade/qrbot/internal/envelope"
	"github.com/osvaldoandrade/qrbot/internal/middleware"
	"github.com/osvaldoandrade/qrbot/pkg/domain"
)

// buildNumber accepts "123" and 123 alike; CI systems send both.
type buildNumber string

func (b *buildNumber) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*b = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*b = buildNumber(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return errors.New("build_number must be a string or number")
	}
	*b = buildNumber(n.String())
	return nil
}

// bindJSON decodes the body into dst. It writes the 400 itself and reports
// whether the handler should continue.
func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		envelope.BadRequest(c, "Invalid JSON body")
		return false
	}
	return true
}

func artifactRequest(apkURL string, build buildNumber, opts *domain.QROptions) domain.ArtifactRequest {
	req := domain.ArtifactRequest{
		SourceURL:   strings.TrimSpace(apkURL),
		BuildNumber: strings.TrimSpace(string(build)),
	}
	if opts != nil {
		req.Options = *opts
	}
	return req
}

// writeRequestError maps a request-level error from the broadcast service.
func writeRequestError(c *gin.Context, err error) {
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		envelope.BadRequest(c, ve.Error())
		return
	}
	middleware.Logger(c).Error("request failed", "err", err)
	envelope.ServerError(c, err.Error(), nil)
}

func destinationData(summary domain.BroadcastSummary) gin.H {
	return gin.H{
		"total_count":   summary.TotalCount,
		"success_count": summary.SuccessCount,
		"failed_count":  summary.FailedCount,
		"results":       summary.PerDestination,
	}
}

func statusForOutcome(out domain.DeliveryOutcome) int {
	if out.FailureKind == domain.FailureResolution && out.Error == domain.ReasonChannelNotFound {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
