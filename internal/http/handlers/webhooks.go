package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"github.com/zandy2test/gumroad-sub037/internal/modules/processors"
)

type WebhookReceiver interface {
	HandleWebhook(ctx context.Context, id processors.ID, headers http.Header, body []byte) error
}

type IPNVerifier interface {
	VerifyIPN(ctx context.Context, raw []byte) error
}

type IPNReconciler interface {
	HandleIPN(ctx context.Context, form url.Values) error
}

type WebhookHandler struct {
	Logger     *slog.Logger
	Receiver   WebhookReceiver
	IPNVerify  IPNVerifier
	IPNHandler IPNReconciler
}

func NewWebhookHandler(logger *slog.Logger, r WebhookReceiver, v IPNVerifier, ipn IPNReconciler) *WebhookHandler {
	return &WebhookHandler{Logger: logger, Receiver: r, IPNVerify: v, IPNHandler: ipn}
}

// POST /webhooks/:processor
// The processor adapter verifies the signature; a 500 makes it redeliver.
func (h *WebhookHandler) Handle(c *gin.Context) {
	id, ok := processors.ParseID(c.Param("processor"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "unknown processor"})
		return
	}
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid body"})
		return
	}

	if err := h.Receiver.HandleWebhook(c.Request.Context(), id, c.Request.Header, body); err != nil {
		switch {
		case errors.Is(err, processors.ErrInvalidWebhook):
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid signature or payload"})
		case errors.Is(err, processors.ErrUnknownProcessor):
			c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "unknown processor"})
		default:
			h.Logger.ErrorContext(c.Request.Context(), "webhook apply failed", "processor", id, "err", err)
			c.JSON(http.StatusInternalServerError, gin.H{"ok": false})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// POST /payouts/paypal/ipn
func (h *WebhookHandler) PayPalIPN(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}
	ctx := c.Request.Context()
	if err := h.IPNVerify.VerifyIPN(ctx, raw); err != nil {
		h.Logger.WarnContext(ctx, "paypal ipn not verified", "err", err)
		c.Status(http.StatusBadRequest)
		return
	}
	form, err := url.ParseQuery(string(raw))
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}
	if err := h.IPNHandler.HandleIPN(ctx, form); err != nil {
		h.Logger.ErrorContext(ctx, "paypal ipn failed", "err", err)
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Status(http.StatusOK)
}
