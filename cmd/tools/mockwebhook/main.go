// mockwebhook posts a locally signed Stripe event or a PayPal MassPay IPN to
// a running server. IPNs only pass when paypal.ipn_verify_url points at a
// stub that answers VERIFIED.
package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zandy2test/gumroad-sub037/internal/shared/money"
)

func main() {
	kind := flag.String("kind", "stripe", "stripe or ipn")
	base := flag.String("base", "http://localhost:8080", "Server base URL")
	secret := flag.String("secret", os.Getenv("STRIPE_WEBHOOK_SECRET"), "Stripe webhook secret")
	eventType := flag.String("type", "charge.succeeded", "Stripe event type (charge.succeeded, payment_intent.payment_failed, charge.dispute.created)")
	chargeID := flag.String("charge", "ch_"+shortID(), "Stripe charge id")
	intentID := flag.String("intent", "pi_"+shortID(), "Stripe payment intent id")
	reference := flag.String("reference", "", "Charge reference stored in intent metadata")
	uniqueID := flag.String("unique-id", "", "Payout unique id (ipn)")
	status := flag.String("status", "Completed", "MassPay status (ipn)")
	amount := flag.Int64("amount", 5000, "Amount in cents")
	dryRun := flag.Bool("dry-run", false, "Print the request without sending it")
	flag.Parse()

	var (
		target  string
		body    []byte
		headers = http.Header{}
	)
	switch *kind {
	case "stripe":
		if *secret == "" {
			fail("secret not provided and STRIPE_WEBHOOK_SECRET not set")
		}
		b, err := stripeEvent(*eventType, *chargeID, *intentID, *reference, *amount)
		if err != nil {
			fail("marshal event: %v", err)
		}
		body = b
		target = *base + "/webhooks/stripe"
		headers.Set("Content-Type", "application/json")
		t := time.Now().Unix()
		headers.Set("Stripe-Signature", fmt.Sprintf("t=%d,v1=%s", t, computeSig([]byte(*secret), t, body)))

	case "ipn":
		if *uniqueID == "" {
			fail("-unique-id is required for ipn")
		}
		form := url.Values{}
		form.Set("txn_type", "masspay")
		form.Set("payment_status", "Processed")
		form.Set("unique_id_1", *uniqueID)
		form.Set("masspay_txn_id_1", strings.ToUpper(shortID()))
		form.Set("status_1", *status)
		form.Set("mc_gross_1", money.DollarString(*amount))
		form.Set("mc_fee_1", "0.00")
		body = []byte(form.Encode())
		target = *base + "/payouts/paypal/ipn"
		headers.Set("Content-Type", "application/x-www-form-urlencoded")

	default:
		fail("unknown kind %q", *kind)
	}

	fmt.Printf("POST %s\n", target)
	for k := range headers {
		fmt.Printf("%s: %s\n", k, headers.Get(k))
	}
	fmt.Printf("Body: %s\n", body)
	if *dryRun {
		fmt.Println("\n[DRY RUN] Not sending request")
		return
	}

	req, err := http.NewRequest(http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		fail("create request: %v", err)
	}
	req.Header = headers

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fail("send request: %v", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	fmt.Printf("\nStatus: %d\n", resp.StatusCode)
	fmt.Printf("Response: %s\n", respBody)
	if resp.StatusCode != http.StatusOK {
		os.Exit(1)
	}
}

func stripeEvent(typ, chargeID, intentID, reference string, amount int64) ([]byte, error) {
	var object map[string]any
	switch typ {
	case "charge.succeeded":
		object = map[string]any{
			"id":             chargeID,
			"object":         "charge",
			"amount":         amount,
			"currency":       "usd",
			"status":         "succeeded",
			"payment_intent": intentID,
			"metadata":       map[string]string{"reference": reference},
		}
	case "payment_intent.payment_failed":
		object = map[string]any{
			"id":                 intentID,
			"object":             "payment_intent",
			"amount":             amount,
			"currency":           "usd",
			"status":             "requires_payment_method",
			"latest_charge":      chargeID,
			"metadata":           map[string]string{"reference": reference},
			"last_payment_error": map[string]string{"code": "card_declined", "message": "Your card was declined."},
		}
	case "charge.dispute.created":
		object = map[string]any{
			"id":       "dp_" + shortID(),
			"object":   "dispute",
			"amount":   amount,
			"currency": "usd",
			"charge":   chargeID,
			"reason":   "fraudulent",
			"status":   "needs_response",
		}
	default:
		return nil, fmt.Errorf("unsupported event type %q", typ)
	}
	return json.Marshal(map[string]any{
		"id":      "evt_" + shortID(),
		"object":  "event",
		"type":    typ,
		"created": time.Now().Unix(),
		"data":    map[string]any{"object": object},
	})
}

func computeSig(secret []byte, t int64, body []byte) string {
	m := hmac.New(sha256.New, secret)
	m.Write([]byte(strconv.FormatInt(t, 10)))
	m.Write([]byte("."))
	m.Write(body)
	return hex.EncodeToString(m.Sum(nil))
}

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
