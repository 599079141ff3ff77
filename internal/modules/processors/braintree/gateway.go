package braintree

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/zandy2test/gumroad-sub037/internal/modules/processors"
)

const apiVersion = "2019-01-01"

// gateway talks to the Braintree GraphQL API.
type gateway struct {
	baseURL    string
	publicKey  string
	privateKey string
	client     *http.Client
}

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type gqlError struct {
	Message    string `json:"message"`
	Extensions struct {
		ErrorClass string `json:"errorClass"`
		LegacyCode string `json:"legacyCode"`
	} `json:"extensions"`
}

type gqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []gqlError      `json:"errors"`
}

func newGateway(baseURL, publicKey, privateKey string) *gateway {
	return &gateway{
		baseURL:    strings.TrimRight(baseURL, "/"),
		publicKey:  publicKey,
		privateKey: privateKey,
		client:     &http.Client{Timeout: 30 * time.Second},
	}
}

// do runs one GraphQL operation and decodes data into out.
func (g *gateway) do(ctx context.Context, query string, vars map[string]any, out any) error {
	body, err := json.Marshal(gqlRequest{Query: query, Variables: vars})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/graphql", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.SetBasicAuth(g.publicKey, g.privateKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Braintree-Version", apiVersion)

	resp, err := g.client.Do(req)
	if err != nil {
		return processors.TechnicalError(processors.Braintree, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return processors.TechnicalError(processors.Braintree, err)
	}
	if resp.StatusCode >= 500 {
		return processors.TechnicalError(processors.Braintree, fmt.Errorf("braintree: http %d", resp.StatusCode))
	}

	var gr gqlResponse
	if err := json.Unmarshal(raw, &gr); err != nil {
		return processors.TechnicalError(processors.Braintree, fmt.Errorf("braintree: decode response: %w", err))
	}
	if len(gr.Errors) > 0 {
		return mapError(gr.Errors[0])
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(gr.Data, out); err != nil {
		return processors.TechnicalError(processors.Braintree, fmt.Errorf("braintree: decode data: %w", err))
	}
	return nil
}

func mapError(e gqlError) error {
	switch e.Extensions.ErrorClass {
	case "VALIDATION":
		return processors.ValidationError(processors.Braintree, e.Extensions.LegacyCode, e.Message)
	case "NOT_FOUND":
		return processors.ValidationError(processors.Braintree, "not_found", e.Message)
	default:
		return processors.TechnicalError(processors.Braintree, fmt.Errorf("braintree %s: %s", e.Extensions.ErrorClass, e.Message))
	}
}
