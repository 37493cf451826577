package controllers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/slack-go/slack/slackevents"

	"github.com/osvaldoandrade/qrbot/internal/envelope"
	"github.com/osvaldoandrade/qrbot/internal/middleware"
	"github.com/osvaldoandrade/qrbot/internal/services"
)

type slackEventsController struct{ svc services.EventService }

func NewSlackEventsController(svc services.EventService) *slackEventsController {
	return &slackEventsController{svc}
}

// Handle answers the url_verification handshake and acknowledges callbacks
// straight away; deliveries triggered by a message run in the background.
// Signature checks happen in middleware.
func (h *slackEventsController) Handle(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		envelope.BadRequest(c, "Unreadable request body")
		return
	}
	if !json.Valid(body) {
		envelope.BadRequest(c, "Invalid event payload")
		return
	}
	ev, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		// Unsubscribed inner event types land here; acknowledge so Slack
		// does not redeliver them.
		middleware.Logger(c).Debug("ignoring slack event", "err", err)
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	switch ev.Type {
	case slackevents.URLVerification:
		if v, ok := ev.Data.(*slackevents.EventsAPIURLVerificationEvent); ok {
			c.JSON(http.StatusOK, gin.H{"challenge": v.Challenge})
			return
		}
	case slackevents.CallbackEvent:
		if msg, ok := ev.InnerEvent.Data.(*slackevents.MessageEvent); ok && !fromBot(msg) {
			if h.svc.HandleMessage(c.Request.Context(), msg.Channel, msg.Text) {
				middleware.Logger(c).Info("build notification received", "channel_id", msg.Channel)
			}
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func fromBot(msg *slackevents.MessageEvent) bool {
	return msg.BotID != "" || msg.SubType == "bot_message"
}
