package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/zandy2test/gumroad-sub037/internal/db"
	apphttp "github.com/zandy2test/gumroad-sub037/internal/http"
	"github.com/zandy2test/gumroad-sub037/internal/modules/charging"
	"github.com/zandy2test/gumroad-sub037/internal/modules/processors"
)

type fakeCharger struct {
	orderIn  charging.ChargeOrderInput
	refundIn charging.RefundInput
	err      error
	panics   bool
}

func (f *fakeCharger) ChargeOrder(_ context.Context, in charging.ChargeOrderInput) (charging.OrderResult, error) {
	if f.panics {
		panic("boom")
	}
	f.orderIn = in
	if f.err != nil {
		return charging.OrderResult{}, f.err
	}
	return charging.OrderResult{OrderID: in.OrderID, Purchases: []charging.PurchaseOutcome{
		{PurchaseID: "p1", Outcome: charging.OutcomeSuccess, ChargeID: "c1"},
	}}, nil
}

func (f *fakeCharger) ConfirmChargeIntent(_ context.Context, purchaseID string) (charging.PurchaseOutcome, error) {
	if f.err != nil {
		return charging.PurchaseOutcome{}, f.err
	}
	return charging.PurchaseOutcome{PurchaseID: purchaseID, Outcome: charging.OutcomeSuccess}, nil
}

func (f *fakeCharger) RefundCharge(_ context.Context, in charging.RefundInput) (charging.ChargeRefund, error) {
	f.refundIn = in
	if f.err != nil {
		return charging.ChargeRefund{}, f.err
	}
	return charging.ChargeRefund{ID: "r1", ChargeID: in.ChargeID, AmountCents: in.AmountCents, Status: "succeeded"}, nil
}

type fakeWebhooks struct {
	id   processors.ID
	body []byte
	err  error
}

func (f *fakeWebhooks) HandleWebhook(_ context.Context, id processors.ID, _ http.Header, body []byte) error {
	f.id, f.body = id, body
	return f.err
}

type fakeIPN struct {
	verifyErr error
	form      url.Values
	err       error
}

func (f *fakeIPN) VerifyIPN(context.Context, []byte) error { return f.verifyErr }

func (f *fakeIPN) HandleIPN(_ context.Context, form url.Values) error {
	f.form = form
	return f.err
}

type deps struct {
	charger  *fakeCharger
	webhooks *fakeWebhooks
	ipn      *fakeIPN
	router   *gin.Engine
}

func newRouter(t *testing.T) *deps {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gdb, err := db.OpenSQLite(filepath.Join(t.TempDir(), "router.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	d := &deps{charger: &fakeCharger{}, webhooks: &fakeWebhooks{}, ipn: &fakeIPN{}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	d.router = apphttp.NewRouter(logger, apphttp.Deps{
		DB:        gdb,
		Charger:   d.charger,
		Webhooks:  d.webhooks,
		IPNVerify: d.ipn,
		IPN:       d.ipn,
	})
	return d
}

func (d *deps) do(method, path, contentType, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	d.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func TestHealthz(t *testing.T) {
	d := newRouter(t)
	w := d.do(http.MethodGet, "/healthz", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected a request id header")
	}
}

func TestChargeOrderPassesCheckoutParams(t *testing.T) {
	d := newRouter(t)
	w := d.do(http.MethodPost, "/api/orders/o1/charge", "application/json",
		`{"stripe_payment_method_id":"pm_1","card_country":"US","description":"Order o1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	in := d.charger.orderIn
	if in.OrderID != "o1" || in.Params.StripePaymentMethodID != "pm_1" || in.Description != "Order o1" {
		t.Fatalf("unexpected input: %+v", in)
	}
	out := decode(t, w)
	if out["order_id"] != "o1" {
		t.Fatalf("unexpected body: %v", out)
	}
}

func TestChargeOrderErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"not found", charging.ErrOrderNotFound, http.StatusNotFound},
		{"declined", processors.DeclinedError(processors.Stripe, "card_declined", "Your card was declined."), http.StatusPaymentRequired},
		{"validation", processors.ValidationError(processors.Stripe, "invalid_number", "Your card number is invalid."), http.StatusBadRequest},
		{"technical", processors.TechnicalError(processors.Stripe, errors.New("timeout")), http.StatusBadGateway},
		{"internal", errors.New("db gone"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newRouter(t)
			d.charger.err = tt.err
			w := d.do(http.MethodPost, "/api/orders/o1/charge", "application/json", `{}`)
			if w.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}
			out := decode(t, w)
			if out["error"] == "" || out["request_id"] == "" {
				t.Fatalf("expected error body, got %v", out)
			}
		})
	}
}

func TestChargeOrderTechnicalErrorHidesDetail(t *testing.T) {
	d := newRouter(t)
	d.charger.err = processors.TechnicalError(processors.Stripe, errors.New("api key sk_live_secret rejected"))
	w := d.do(http.MethodPost, "/api/orders/o1/charge", "application/json", `{}`)
	if strings.Contains(w.Body.String(), "sk_live") {
		t.Fatalf("internal detail leaked: %s", w.Body.String())
	}
	if decode(t, w)["error"] != processors.GenericErrorMessage {
		t.Fatalf("expected generic message, got %s", w.Body.String())
	}
}

func TestChargeOrderRejectsMalformedBody(t *testing.T) {
	d := newRouter(t)
	w := d.do(http.MethodPost, "/api/orders/o1/charge", "application/json", `{"description":`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if d.charger.orderIn.OrderID != "" {
		t.Fatalf("charger should not be called")
	}
}

func TestPanicBecomes500(t *testing.T) {
	d := newRouter(t)
	d.charger.panics = true
	w := d.do(http.MethodPost, "/api/orders/o1/charge", "application/json", `{}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if decode(t, w)["error"] == nil {
		t.Fatalf("expected json error body")
	}
}

func TestConfirm(t *testing.T) {
	d := newRouter(t)
	w := d.do(http.MethodPost, "/api/purchases/p9/confirm", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if decode(t, w)["purchase_id"] != "p9" {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}

func TestRefund(t *testing.T) {
	d := newRouter(t)
	w := d.do(http.MethodPost, "/api/charges/c1/refunds", "application/json",
		`{"amount_cents":500,"reason":"requested_by_customer","idempotency_key":"k1"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	in := d.charger.refundIn
	if in.ChargeID != "c1" || in.AmountCents != 500 || in.IdempotencyKey != "k1" {
		t.Fatalf("unexpected input: %+v", in)
	}
}

func TestRefundValidation(t *testing.T) {
	d := newRouter(t)
	w := d.do(http.MethodPost, "/api/charges/c1/refunds", "application/json", `{"amount_cents":-1}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	fields, _ := decode(t, w)["fields"].(map[string]any)
	if fields["idempotency_key"] == nil || fields["amount_cents"] == nil {
		t.Fatalf("expected field errors, got %v", fields)
	}
}

func TestRefundErrors(t *testing.T) {
	d := newRouter(t)
	d.charger.err = charging.ErrRefundExceedsCharge
	w := d.do(http.MethodPost, "/api/charges/c1/refunds", "application/json", `{"idempotency_key":"k"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}

	d.charger.err = charging.ErrChargeNotRefundable
	w = d.do(http.MethodPost, "/api/charges/c1/refunds", "application/json", `{"idempotency_key":"k"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestProcessorWebhook(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		err    error
		status int
	}{
		{"ok", "/webhooks/stripe", nil, http.StatusOK},
		{"unknown processor", "/webhooks/square", nil, http.StatusNotFound},
		{"bad signature", "/webhooks/braintree", processors.ErrInvalidWebhook, http.StatusBadRequest},
		{"not registered", "/webhooks/braintree", processors.ErrUnknownProcessor, http.StatusNotFound},
		{"apply failed", "/webhooks/stripe", errors.New("deadlock"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newRouter(t)
			d.webhooks.err = tt.err
			w := d.do(http.MethodPost, tt.path, "application/json", `{"id":"evt_1"}`)
			if w.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, w.Code)
			}
		})
	}

	d := newRouter(t)
	d.do(http.MethodPost, "/webhooks/stripe", "application/json", `{"id":"evt_1"}`)
	if d.webhooks.id != processors.Stripe || !bytes.Equal(d.webhooks.body, []byte(`{"id":"evt_1"}`)) {
		t.Fatalf("webhook not forwarded: %s %s", d.webhooks.id, d.webhooks.body)
	}
}

func TestPayPalIPN(t *testing.T) {
	const body = "txn_type=masspay&unique_id_1=pay_1&status_1=Completed"

	d := newRouter(t)
	w := d.do(http.MethodPost, "/payouts/paypal/ipn", "application/x-www-form-urlencoded", body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if d.ipn.form.Get("unique_id_1") != "pay_1" {
		t.Fatalf("form not forwarded: %v", d.ipn.form)
	}

	d = newRouter(t)
	d.ipn.verifyErr = errors.New("INVALID")
	w = d.do(http.MethodPost, "/payouts/paypal/ipn", "application/x-www-form-urlencoded", body)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unverified ipn, got %d", w.Code)
	}
	if d.ipn.form != nil {
		t.Fatalf("unverified ipn must not be reconciled")
	}

	d = newRouter(t)
	d.ipn.err = errors.New("locked")
	w = d.do(http.MethodPost, "/payouts/paypal/ipn", "application/x-www-form-urlencoded", body)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 so paypal redelivers, got %d", w.Code)
	}
}
