// Package http wires the gin engine: checkout charge API, processor
// webhooks and the PayPal payout IPN endpoint.
package http

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/zandy2test/gumroad-sub037/internal/http/handlers"
	"github.com/zandy2test/gumroad-sub037/internal/http/middleware"
)

type Deps struct {
	DB        *gorm.DB
	Charger   handlers.OrderCharger
	Webhooks  handlers.WebhookReceiver
	IPNVerify handlers.IPNVerifier
	IPN       handlers.IPNReconciler
}

func NewRouter(logger *slog.Logger, d Deps) *gin.Engine {
	r := gin.New()
	r.Use(
		middleware.RequestID(),
		middleware.Logger(logger),
		middleware.ErrorHandler(logger),
		middleware.Recovery(logger),
	)

	health := &handlers.HealthHandler{DB: d.DB}
	r.GET("/healthz", health.Healthz)

	charges := handlers.NewChargeHandler(d.Charger)
	api := r.Group("/api")
	api.POST("/orders/:order_id/charge", charges.ChargeOrder)
	api.POST("/purchases/:purchase_id/confirm", charges.Confirm)
	api.POST("/charges/:charge_id/refunds", charges.Refund)

	wh := handlers.NewWebhookHandler(logger, d.Webhooks, d.IPNVerify, d.IPN)
	r.POST("/webhooks/:processor", wh.Handle)
	r.POST("/payouts/paypal/ipn", wh.PayPalIPN)

	return r
}
