package braintree

import (
	"context"
	"strconv"

	"github.com/zandy2test/gumroad-sub037/internal/modules/processors"
)

// Token is either a single-use nonce from the client SDK or a vaulted
// payment method.
type Token struct {
	gw *gateway

	nonce           string
	deviceData      string
	paymentMethodID string
	customerID      string
	fingerprint     string
	last4           string
	brand           string
	expMonth        int
	expYear         int
	country         string
	zip             string
}

func (t *Token) ProcessorID() processors.ID { return processors.Braintree }
func (t *Token) Fingerprint() string        { return t.fingerprint }
func (t *Token) Last4() string              { return t.last4 }
func (t *Token) Visual() string             { return "**** **** **** " + t.last4 }
func (t *Token) CardType() string           { return t.brand }
func (t *Token) ExpiryMonth() int           { return t.expMonth }
func (t *Token) ExpiryYear() int            { return t.expYear }
func (t *Token) Country() string            { return t.country }
func (t *Token) ZipCode() string            { return t.zip }
func (t *Token) ReusableToken() string      { return t.customerID }

// PaymentMethodID is the vaulted id once prepared, the nonce before.
func (t *Token) PaymentMethodID() string {
	if t.paymentMethodID != "" {
		return t.paymentMethodID
	}
	return t.nonce
}

// Prepare vaults a nonce into a new customer and records the card details
// Braintree returns.
func (t *Token) Prepare(ctx context.Context) error {
	if t.paymentMethodID != "" {
		return nil
	}
	var out struct {
		VaultPaymentMethod struct {
			PaymentMethod struct {
				ID       string `json:"id"`
				Customer struct {
					ID string `json:"id"`
				} `json:"customer"`
				Details struct {
					Last4                  string `json:"last4"`
					BrandCode              string `json:"brandCode"`
					ExpirationMonth        string `json:"expirationMonth"`
					ExpirationYear         string `json:"expirationYear"`
					UniqueNumberIdentifier string `json:"uniqueNumberIdentifier"`
					BinData                struct {
						CountryOfIssuance string `json:"countryOfIssuance"`
					} `json:"binData"`
				} `json:"details"`
			} `json:"paymentMethod"`
		} `json:"vaultPaymentMethod"`
	}
	q := `mutation Vault($input: VaultPaymentMethodInput!) { vaultPaymentMethod(input: $input) { paymentMethod {
		id
		customer { id }
		details { ... on CreditCardDetails { last4 brandCode expirationMonth expirationYear uniqueNumberIdentifier binData { countryOfIssuance } } }
	} } }`
	input := map[string]any{"paymentMethodId": t.nonce}
	if t.deviceData != "" {
		input["riskData"] = map[string]any{"deviceData": t.deviceData}
	}
	if err := t.gw.do(ctx, q, map[string]any{"input": input}, &out); err != nil {
		return err
	}

	pm := out.VaultPaymentMethod.PaymentMethod
	t.paymentMethodID = pm.ID
	t.customerID = pm.Customer.ID
	t.fingerprint = pm.Details.UniqueNumberIdentifier
	t.last4 = pm.Details.Last4
	t.brand = pm.Details.BrandCode
	t.expMonth, _ = strconv.Atoi(pm.Details.ExpirationMonth)
	t.expYear, _ = strconv.Atoi(pm.Details.ExpirationYear)
	if c := pm.Details.BinData.CountryOfIssuance; c != "" && t.country == "" {
		t.country = c
	}
	return nil
}
