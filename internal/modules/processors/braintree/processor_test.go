package braintree

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/zandy2test/gumroad-sub037/internal/config"
	"github.com/zandy2test/gumroad-sub037/internal/modules/processors"
)

func newTestProcessor(t *testing.T, h http.HandlerFunc) *Processor {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(config.BraintreeConfig{BaseURL: srv.URL, MerchantID: "m1", PublicKey: "pub", PrivateKey: "priv"})
}

func decodeRequest(t *testing.T, r *http.Request) gqlRequest {
	t.Helper()
	var req gqlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		t.Errorf("decode request: %v", err)
	}
	return req
}

func nonceToken(p *Processor) processors.ChargeableToken {
	tok, _ := p.ChargeableForParams(context.Background(), processors.CheckoutParams{BraintreeNonce: "nonce_1"})
	return tok
}

func TestChargeSucceeds(t *testing.T) {
	var got gqlRequest
	p := newTestProcessor(t, func(w http.ResponseWriter, r *http.Request) {
		if user, pass, ok := r.BasicAuth(); !ok || user != "pub" || pass != "priv" {
			t.Errorf("missing basic auth")
		}
		if r.Header.Get("Braintree-Version") == "" {
			t.Errorf("missing Braintree-Version header")
		}
		got = decodeRequest(t, r)
		w.Write([]byte(`{"data":{"chargePaymentMethod":{"transaction":{"id":"txn_1","status":"SUBMITTED_FOR_SETTLEMENT","amount":{"value":"12.50","currencyCode":"USD"},"paymentMethodSnapshot":{"last4":"1111"}}}}}`))
	})

	ci, err := p.CreatePaymentIntentOrCharge(context.Background(), processors.CreateChargeRequest{
		Token:       nonceToken(p),
		AmountCents: 1250,
		Currency:    "usd",
		Reference:   "charge_1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ci.Succeeded() || ci.Charge.ID != "txn_1" || ci.Charge.AmountCents != 1250 || ci.Charge.Currency != "usd" {
		t.Fatalf("unexpected intent: %+v %+v", ci, ci.Charge)
	}
	if !processors.IsSuccessStatus(p, ci.Charge.Status) {
		t.Fatalf("status %s should count as success", ci.Charge.Status)
	}

	input := got.Variables["input"].(map[string]any)
	txn := input["transaction"].(map[string]any)
	if input["paymentMethodId"] != "nonce_1" || txn["amount"] != "12.50" || txn["orderId"] != "charge_1" {
		t.Fatalf("unexpected variables: %+v", got.Variables)
	}
}

func TestChargeErrors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		kind   processors.Kind
	}{
		{"declined", 200, `{"data":{"chargePaymentMethod":{"transaction":{"id":"txn_2","status":"PROCESSOR_DECLINED","amount":{"value":"5.00","currencyCode":"USD"},"processorResponse":{"legacyCode":"2000","message":"Do Not Honor"}}}}}`, processors.KindDeclined},
		{"validation", 200, `{"errors":[{"message":"Unknown or expired payment method","extensions":{"errorClass":"VALIDATION","legacyCode":"91565"}}]}`, processors.KindValidation},
		{"server error", 503, `oops`, processors.KindTechnical},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := newTestProcessor(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			})
			_, err := p.CreatePaymentIntentOrCharge(context.Background(), processors.CreateChargeRequest{Token: nonceToken(p), AmountCents: 500, Currency: "usd"})
			pe := processors.Classify(err)
			if pe == nil || pe.Kind != tc.kind {
				t.Fatalf("expected %s error, got %v", tc.kind, err)
			}
		})
	}
}

func TestDeclineMessageIsPublic(t *testing.T) {
	p := newTestProcessor(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"chargePaymentMethod":{"transaction":{"id":"txn_2","status":"GATEWAY_REJECTED","amount":{"value":"5.00","currencyCode":"USD"},"processorResponse":{"message":"Gateway Rejected: cvv"}}}}}`))
	})
	_, err := p.CreatePaymentIntentOrCharge(context.Background(), processors.CreateChargeRequest{Token: nonceToken(p), AmountCents: 500, Currency: "usd"})
	if got := processors.Classify(err).PublicMessage(); got != "Gateway Rejected: cvv" {
		t.Fatalf("unexpected public message %q", got)
	}
}

func TestPrepareVaultsNonce(t *testing.T) {
	p := newTestProcessor(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"vaultPaymentMethod":{"paymentMethod":{"id":"pm_1","customer":{"id":"cus_1"},"details":{"last4":"1111","brandCode":"VISA","expirationMonth":"09","expirationYear":"2031","uniqueNumberIdentifier":"fp_1","binData":{"countryOfIssuance":"USA"}}}}}}`))
	})
	tok := nonceToken(p)
	if err := tok.Prepare(context.Background()); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if tok.PaymentMethodID() != "pm_1" || tok.ReusableToken() != "cus_1" || tok.ExpiryMonth() != 9 || tok.ExpiryYear() != 2031 || tok.Fingerprint() != "fp_1" {
		t.Fatalf("token not filled from vault response: %+v", tok)
	}
}

func TestSyncProcessorHasNoIntents(t *testing.T) {
	p := New(config.BraintreeConfig{})
	if err := p.CancelPaymentIntent(context.Background(), processors.MerchantAccount{}, "x"); !errors.Is(err, processors.ErrNotSupported) {
		t.Fatalf("expected ErrNotSupported, got %v", err)
	}
	if p.HolderOfFunds(processors.MerchantAccount{ChargeProcessorMerchantID: "sub"}) != processors.HolderGumroad {
		t.Fatalf("braintree funds are held by the platform")
	}
}

const disputeXML = `<?xml version="1.0" encoding="UTF-8"?>
<notification>
  <timestamp type="datetime">2024-03-01T10:00:00Z</timestamp>
  <kind>dispute_opened</kind>
  <subject>
    <dispute>
      <id>dp_1</id>
      <amount>10.00</amount>
      <currency-iso-code>USD</currency-iso-code>
      <status>open</status>
      <reason>fraud</reason>
      <transaction><id>txn_1</id><order-id>charge_1</order-id></transaction>
    </dispute>
  </subject>
</notification>`

func webhookBody(v webhookVerifier, xmlBody string) []byte {
	payload := base64.StdEncoding.EncodeToString([]byte(xmlBody))
	form := url.Values{}
	form.Set("bt_payload", payload)
	form.Set("bt_signature", v.publicKey+"|"+v.sign(payload))
	return []byte(form.Encode())
}

func TestParseWebhookDispute(t *testing.T) {
	p := New(config.BraintreeConfig{PublicKey: "pub", PrivateKey: "priv"})
	evs, err := p.ParseWebhook(nil, webhookBody(p.webhooks, disputeXML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(evs) != 1 {
		t.Fatalf("expected one event, got %d", len(evs))
	}
	ev := evs[0]
	if ev.Type != processors.EventDisputeFormalized || ev.ChargeID != "txn_1" || ev.ChargeReference != "charge_1" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.FlowOfFunds.IssuedAmount.Cents != -1000 || ev.FlowOfFunds.IssuedAmount.Currency != "usd" {
		t.Fatalf("unexpected flow of funds: %+v", ev.FlowOfFunds.IssuedAmount)
	}
}

func TestParseWebhookRejectsForgedSignature(t *testing.T) {
	p := New(config.BraintreeConfig{PublicKey: "pub", PrivateKey: "priv"})
	forged := webhookVerifier{publicKey: "pub", privateKey: "guess"}
	if _, err := p.ParseWebhook(nil, webhookBody(forged, disputeXML)); !errors.Is(err, processors.ErrInvalidWebhook) {
		t.Fatalf("expected ErrInvalidWebhook, got %v", err)
	}
}
