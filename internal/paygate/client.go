// Package paygate connects the order engine to the payment provider: an HTTP
// client for pre-pay and refund calls, an in-process sandbox, and the
// consumer for payment result callbacks.
package paygate

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/xenking/takeout/internal/domain/payment"
)

var _ payment.Gateway = (*Client)(nil)

// Config configures the HTTP payment client.
type Config struct {
	BaseURL    string
	MerchantID string
	AppID      string
	Secret     string
	Currency   string
	Timeout    time.Duration
}

// Client calls the payment provider over HTTP.
type Client struct {
	cfg  Config
	http *http.Client
	now  func() time.Time
}

// NewClient creates a Client. Outgoing requests are traced with otelhttp.
func NewClient(cfg Config) *Client {
	if cfg.Currency == "" {
		cfg.Currency = "CNY"
	}
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		now: time.Now,
	}
}

// StatusError is returned when the provider answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return "payment provider returned " + strconv.Itoa(e.StatusCode) + ": " + e.Body
}

// cents converts an amount to the provider's minor units.
func cents(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}

// Prepay opens a transaction and signs the parameters the client app needs
// to invoke the payment sheet.
func (c *Client) Prepay(ctx context.Context, req payment.PrepayRequest) (*payment.Prepay, error) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("appid")
	e.Str(c.cfg.AppID)
	e.FieldStart("mchid")
	e.Str(c.cfg.MerchantID)
	e.FieldStart("out_trade_no")
	e.Str(req.OrderNumber)
	e.FieldStart("description")
	e.Str(req.Description)
	e.FieldStart("amount")
	e.ObjStart()
	e.FieldStart("total")
	e.Int64(cents(req.Amount))
	e.FieldStart("currency")
	e.Str(c.cfg.Currency)
	e.ObjEnd()
	e.FieldStart("payer")
	e.ObjStart()
	e.FieldStart("user_id")
	e.Int64(req.UserID)
	e.ObjEnd()
	e.ObjEnd()

	body, err := c.post(ctx, "/v3/pay/transactions/jsapi", e.Bytes())
	if err != nil {
		return nil, errors.Wrap(err, "prepay")
	}

	var prepayID string
	if err := jx.DecodeBytes(body).ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "prepay_id" {
			return d.Skip()
		}
		v, err := d.Str()
		prepayID = v
		return err
	}); err != nil {
		return nil, errors.Wrap(err, "decode prepay response")
	}
	if prepayID == "" {
		return nil, errors.New("prepay response has no prepay_id")
	}

	p := &payment.Prepay{
		TransactionID: prepayID,
		NonceStr:      uuid.NewString(),
		PackageStr:    "prepay_id=" + prepayID,
		SignType:      "HMAC-SHA256",
		Timestamp:     strconv.FormatInt(c.now().Unix(), 10),
	}
	p.PaySign = c.sign(c.cfg.AppID, p.Timestamp, p.NonceStr, p.PackageStr)
	return p, nil
}

// Refund returns the amount of a paid order.
func (c *Client) Refund(ctx context.Context, req payment.RefundRequest) error {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("out_trade_no")
	e.Str(req.OrderNumber)
	e.FieldStart("out_refund_no")
	e.Str(req.RefundNumber)
	e.FieldStart("amount")
	e.ObjStart()
	e.FieldStart("refund")
	e.Int64(cents(req.Refund))
	e.FieldStart("total")
	e.Int64(cents(req.Total))
	e.FieldStart("currency")
	e.Str(c.cfg.Currency)
	e.ObjEnd()
	e.ObjEnd()

	if _, err := c.post(ctx, "/v3/refund/domestic/refunds", e.Bytes()); err != nil {
		return errors.Wrap(err, "refund")
	}
	return nil
}

func (c *Client) sign(parts ...string) string {
	return Sign(c.cfg.Secret, parts...)
}

// Sign returns the hex HMAC-SHA256 of the newline-terminated parts.
func Sign(secret string, parts ...string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	for _, p := range parts {
		mac.Write([]byte(p))
		mac.Write([]byte{'\n'})
	}
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature is the Sign of body under secret. The
// comparison runs in constant time.
func Verify(secret string, body []byte, signature string) bool {
	want, err := hex.DecodeString(Sign(secret, string(body)))
	if err != nil {
		return false
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(want, got)
}

func (c *Client) post(ctx context.Context, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Merchant-ID", c.cfg.MerchantID)
	req.Header.Set("X-Signature", c.sign(string(body)))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "send request")
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrap(err, "read response")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(data)}
	}
	return data, nil
}
