package app

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/osvaldoandrade/qrbot/internal/controllers"
	"github.com/osvaldoandrade/qrbot/internal/middleware"
)

func SetupMappings(app *Application) {
	cfg := app.Config
	lim := app.RateLimiter
	e := app.Engine

	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	e.GET("/health", controllers.NewHealthController(app.Health).Handle)
	e.GET("/channels", middleware.RateLimitDefault(lim, cfg), controllers.NewChannelsController(app.Broadcast).Handle)
	e.POST("/slack/events",
		middleware.SlackSignatureMiddleware(cfg.SlackSigningSecret),
		controllers.NewSlackEventsController(app.Events).Handle)

	// Throttle before authenticating so wrong keys also spend the bucket.
	apiKey := middleware.APIKeyMiddleware(app.Validators)
	qr := e.Group("/generate-qr")
	{
		qr.POST("", middleware.RateLimitGenerateQR(lim, cfg), apiKey, controllers.NewGenerateQRController(app.Broadcast).Handle)
		qr.POST("/custom", middleware.RateLimitCustom(lim, cfg), apiKey, controllers.NewCustomQRController(app.Broadcast).Handle)
		qr.POST("/broadcast", middleware.RateLimitBroadcast(lim, cfg), apiKey, controllers.NewBroadcastController(app.Broadcast).Handle)
		qr.POST("/broadcast-all", middleware.RateLimitBroadcastAll(lim, cfg), apiKey, controllers.NewBroadcastAllController(app.Broadcast).Handle)
	}
}
