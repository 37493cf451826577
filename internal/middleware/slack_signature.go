package middleware

import (
	"bytes"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/slack-go/slack"

	"github.com/osvaldoandrade/qrbot/internal/envelope"
)

const maxEventBody = 1 << 20

// SlackSignatureMiddleware checks X-Slack-Signature against the signing
// secret and puts the body back for the handler. An empty secret disables
// the check.
func SlackSignatureMiddleware(signingSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if signingSecret == "" {
			c.Next()
			return
		}
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxEventBody))
		if err != nil {
			envelope.Abort(c, http.StatusBadRequest, "Unreadable request body", nil)
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		sv, err := slack.NewSecretsVerifier(c.Request.Header, signingSecret)
		if err == nil {
			if _, err = sv.Write(body); err == nil {
				err = sv.Ensure()
			}
		}
		if err != nil {
			Logger(c).Warn("slack signature rejected", "err", err)
			envelope.Abort(c, http.StatusUnauthorized, "Invalid Slack signature", nil)
			return
		}
		c.Next()
	}
}
