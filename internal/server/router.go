package server

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"order-fulfillment/internal/metrics"
)

type RouterConfig struct {
	WebhookSecret string
	CORSOrigins   []string
}

func NewRouter(cfg RouterConfig, h *Handler, recorder *metrics.Recorder, log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(Recovery(log))
	r.Use(RequestContext(log))
	r.Use(AccessLog(log, recorder))
	r.Use(cors.New(corsConfig(cfg.CORSOrigins)))

	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(recorder.Handler()))

	r.POST("/webhooks/payment", VerifySignature(cfg.WebhookSecret), h.PaymentWebhook)

	v1 := r.Group("/api/v1")
	{
		orders := v1.Group("/orders/:id")
		{
			orders.GET("/payment-status", h.PaymentStatus)
			orders.POST("/shipment", h.ProvisionShipment)
			orders.GET("/tracking", h.Tracking)
			orders.GET("/timeline", h.Timeline)
			orders.POST("/complete", h.Complete)
		}
	}

	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Accept", "Authorization", "Content-Type", requestIDHeader},
		ExposeHeaders:    []string{requestIDHeader},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}
