// Package paypal pays sellers through PayPal MassPay over the classic NVP API
// and reconciles the results from IPN callbacks.
package paypal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zandy2test/gumroad-sub037/internal/config"
	"github.com/zandy2test/gumroad-sub037/internal/modules/payouts"
	"github.com/zandy2test/gumroad-sub037/internal/shared/money"
	"github.com/zandy2test/gumroad-sub037/internal/storage"
)

var (
	ErrIPNNotVerified = errors.New("paypal: ipn not verified")
	ErrBadResponse    = errors.New("paypal: unreadable nvp response")
)

// Client speaks the NVP wire format. Every exchange is archived when an
// archive is configured; credentials never are.
type Client struct {
	cfg     config.PayPalConfig
	http    *http.Client
	archive storage.Storage
	logger  *slog.Logger
	now     func() time.Time
}

func NewClient(cfg config.PayPalConfig, archive storage.Storage) *Client {
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: 60 * time.Second},
		archive: archive,
		logger:  slog.Default(),
		now:     time.Now,
	}
}

func (c *Client) SetLogger(l *slog.Logger) { c.logger = l }

// Response is a parsed NVP reply.
type Response struct {
	ACK           string
	CorrelationID string
	Errors        []payouts.LineError
	Values        url.Values
}

func (r Response) Success() bool {
	return r.ACK == "Success" || r.ACK == "SuccessWithWarning"
}

// ErrorText joins the error lines for a failure reason.
func (r Response) ErrorText() string {
	if len(r.Errors) == 0 {
		return "MassPay returned " + r.ACK
	}
	parts := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		msg := e.LongMessage
		if msg == "" {
			msg = e.ShortMessage
		}
		parts = append(parts, e.Code+": "+msg)
	}
	return strings.Join(parts, "; ")
}

func parseResponse(body []byte) (Response, error) {
	vals, err := url.ParseQuery(strings.TrimSpace(string(body)))
	if err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if vals.Get("ACK") == "" {
		return Response{}, ErrBadResponse
	}
	r := Response{ACK: vals.Get("ACK"), CorrelationID: vals.Get("CORRELATIONID"), Values: vals}
	for n := 0; ; n++ {
		i := strconv.Itoa(n)
		code := vals.Get("L_ERRORCODE" + i)
		if code == "" {
			break
		}
		r.Errors = append(r.Errors, payouts.LineError{
			Code:         code,
			ShortMessage: vals.Get("L_SHORTMESSAGE" + i),
			LongMessage:  vals.Get("L_LONGMESSAGE" + i),
		})
	}
	return r, nil
}

func (c *Client) call(ctx context.Context, method string, fields url.Values) (Response, error) {
	form := url.Values{}
	form.Set("METHOD", method)
	form.Set("USER", c.cfg.User)
	form.Set("PWD", c.cfg.Password)
	form.Set("SIGNATURE", c.cfg.Signature)
	form.Set("VERSION", c.cfg.Version)
	for k, vs := range fields {
		for _, v := range vs {
			form.Add(k, v)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.NVPEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Response{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	exchange := c.now().UTC().Format(time.DateOnly) + "/" + uuid.NewString()
	c.store(ctx, exchange+"/"+strings.ToLower(method)+"-request.txt", []byte(fields.Encode()))

	resp, err := c.http.Do(req)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Response{}, err
	}
	c.store(ctx, exchange+"/"+strings.ToLower(method)+"-response.txt", body)

	if resp.StatusCode >= 300 {
		return Response{}, fmt.Errorf("paypal: %s returned http %d", method, resp.StatusCode)
	}
	return parseResponse(body)
}

func (c *Client) store(ctx context.Context, key string, body []byte) {
	if c.archive == nil {
		return
	}
	_, err := c.archive.Put(ctx, bytes.NewReader(body), storage.PutInput{
		Key:         "masspay/" + key,
		ContentType: "text/plain",
		Size:        int64(len(body)),
	})
	if err != nil {
		c.logger.WarnContext(ctx, "could not archive paypal exchange", "key", key, "err", err)
	}
}

type MassPayItem struct {
	Email       string
	AmountCents int64
	UniqueID    string
	Note        string
}

// MassPay sends one bulk payout in USD to email recipients.
func (c *Client) MassPay(ctx context.Context, subject string, items []MassPayItem) (Response, error) {
	f := url.Values{}
	f.Set("RECEIVERTYPE", "EmailAddress")
	f.Set("CURRENCYCODE", "USD")
	f.Set("EMAILSUBJECT", subject)
	for n, it := range items {
		i := strconv.Itoa(n)
		f.Set("L_EMAIL"+i, it.Email)
		f.Set("L_AMT"+i, money.DollarString(it.AmountCents))
		f.Set("L_UNIQUEID"+i, it.UniqueID)
		f.Set("L_NOTE"+i, it.Note)
	}
	return c.call(ctx, "MassPay", f)
}

type SearchQuery struct {
	TransactionID string
	AmountCents   int64
	Start, End    time.Time
}

type Transaction struct {
	ID          string
	Status      string
	AmountCents int64
	Email       string
}

// TransactionSearch looks a payout up by id and amount within a date window.
func (c *Client) TransactionSearch(ctx context.Context, q SearchQuery) ([]Transaction, error) {
	f := url.Values{}
	f.Set("STARTDATE", q.Start.UTC().Format(time.RFC3339))
	if !q.End.IsZero() {
		f.Set("ENDDATE", q.End.UTC().Format(time.RFC3339))
	}
	if q.TransactionID != "" {
		f.Set("TRANSACTIONID", q.TransactionID)
	}
	if q.AmountCents != 0 {
		f.Set("AMT", money.DollarString(q.AmountCents))
	}
	resp, err := c.call(ctx, "TransactionSearch", f)
	if err != nil {
		return nil, err
	}
	if !resp.Success() {
		return nil, fmt.Errorf("paypal: transaction search failed: %s", resp.ErrorText())
	}

	var out []Transaction
	for n := 0; ; n++ {
		i := strconv.Itoa(n)
		id := resp.Values.Get("L_TRANSACTIONID" + i)
		if id == "" {
			break
		}
		t := Transaction{ID: id, Status: resp.Values.Get("L_STATUS" + i), Email: resp.Values.Get("L_EMAIL" + i)}
		if amt := resp.Values.Get("L_AMT" + i); amt != "" {
			cents, err := money.ParseDollars(amt)
			if err != nil {
				return nil, err
			}
			// payouts show up as negative amounts
			if cents < 0 {
				cents = -cents
			}
			t.AmountCents = cents
		}
		out = append(out, t)
	}
	return out, nil
}

// VerifyIPN posts the callback back to PayPal, which answers VERIFIED for
// messages it sent.
func (c *Client) VerifyIPN(ctx context.Context, raw []byte) error {
	body := append([]byte("cmd=_notify-validate&"), raw...)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.IPNVerifyURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		return err
	}
	if strings.TrimSpace(string(b)) != "VERIFIED" {
		return ErrIPNNotVerified
	}
	return nil
}
