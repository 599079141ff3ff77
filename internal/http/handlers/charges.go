package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/zandy2test/gumroad-sub037/internal/http/middleware"
	"github.com/zandy2test/gumroad-sub037/internal/http/validation"
	"github.com/zandy2test/gumroad-sub037/internal/modules/charging"
	"github.com/zandy2test/gumroad-sub037/internal/modules/processors"
	"github.com/zandy2test/gumroad-sub037/internal/modules/purchases"
	"github.com/zandy2test/gumroad-sub037/internal/shared/apperr"
)

type OrderCharger interface {
	ChargeOrder(ctx context.Context, in charging.ChargeOrderInput) (charging.OrderResult, error)
	ConfirmChargeIntent(ctx context.Context, purchaseID string) (charging.PurchaseOutcome, error)
	RefundCharge(ctx context.Context, in charging.RefundInput) (charging.ChargeRefund, error)
}

type ChargeHandler struct {
	Charger OrderCharger
}

func NewChargeHandler(c OrderCharger) *ChargeHandler {
	return &ChargeHandler{Charger: c}
}

type chargeOrderRequest struct {
	processors.CheckoutParams
	StoredPaymentMethod *processors.StoredPaymentMethod `json:"stored_payment_method"`
	Description         string                          `json:"description" binding:"max=255"`
}

// POST /api/orders/:order_id/charge
func (h *ChargeHandler) ChargeOrder(c *gin.Context) {
	var req chargeOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.Fail(c, apperr.InvalidErr("Invalid charge request.", validation.FromBindError(err, &req)))
		return
	}
	res, err := h.Charger.ChargeOrder(c.Request.Context(), charging.ChargeOrderInput{
		OrderID:             c.Param("order_id"),
		Params:              req.CheckoutParams,
		StoredPaymentMethod: req.StoredPaymentMethod,
		Description:         req.Description,
	})
	if err != nil {
		middleware.Fail(c, toAppErr(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

// POST /api/purchases/:purchase_id/confirm
func (h *ChargeHandler) Confirm(c *gin.Context) {
	out, err := h.Charger.ConfirmChargeIntent(c.Request.Context(), c.Param("purchase_id"))
	if err != nil {
		middleware.Fail(c, toAppErr(err))
		return
	}
	c.JSON(http.StatusOK, out)
}

type refundRequest struct {
	AmountCents    int64  `json:"amount_cents" binding:"gte=0"`
	Reason         string `json:"reason" binding:"max=255"`
	IdempotencyKey string `json:"idempotency_key" binding:"required,max=64"`
}

// POST /api/charges/:charge_id/refunds
func (h *ChargeHandler) Refund(c *gin.Context) {
	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.Fail(c, apperr.InvalidErr("Invalid refund request.", validation.FromBindError(err, &req)))
		return
	}
	r, err := h.Charger.RefundCharge(c.Request.Context(), charging.RefundInput{
		ChargeID:       c.Param("charge_id"),
		AmountCents:    req.AmountCents,
		Reason:         req.Reason,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		middleware.Fail(c, toAppErr(err))
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":                  r.ID,
		"charge_id":           r.ChargeID,
		"processor_refund_id": r.ProcessorRefundID,
		"amount_cents":        r.AmountCents,
		"status":              r.Status,
	})
}

func toAppErr(err error) error {
	switch {
	case errors.Is(err, charging.ErrOrderNotFound):
		return apperr.NotFoundErr("Order not found.")
	case errors.Is(err, purchases.ErrPurchaseNotFound):
		return apperr.NotFoundErr("Purchase not found.")
	case errors.Is(err, charging.ErrChargeNotFound):
		return apperr.NotFoundErr("Charge not found.")
	case errors.Is(err, charging.ErrRefundExceedsCharge):
		return apperr.InvalidErr("The refund exceeds what is left on the charge.", nil)
	case errors.Is(err, charging.ErrChargeNotRefundable):
		return apperr.ConflictErr("This charge cannot be refunded.")
	}
	var pe *processors.Error
	if errors.As(err, &pe) {
		switch pe.Kind {
		case processors.KindValidation:
			return apperr.InvalidErr(pe.PublicMessage(), nil)
		case processors.KindDeclined:
			return apperr.DeclinedErr(pe.PublicMessage(), err)
		default:
			return apperr.UnavailableErr(err)
		}
	}
	return apperr.Wrap(err)
}
