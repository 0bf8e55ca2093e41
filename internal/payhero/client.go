// Package payhero is the PayHero (M-Pesa STK push) adapter. Provider payloads
// stop here; callers only see payment package types.
package payhero

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kopakash/loanbot/core/logger"
	"github.com/kopakash/loanbot/core/netutil"
	"github.com/kopakash/loanbot/internal/loan"
	"github.com/kopakash/loanbot/internal/payment"
)

const (
	paymentsPath = "/api/v2/payments"
	statusPath   = "/api/v2/transaction-status"

	maxErrorBody = 4 << 10
)

// Config is everything the adapter needs to talk to PayHero.
type Config struct {
	BaseURL     string
	Username    string
	Password    string
	ChannelID   int
	Provider    string
	CallbackURL string
	Timeout     time.Duration
	// StatusRetries bounds transport retries for status queries.
	StatusRetries int
	// Transport overrides the HTTP transport (tests).
	Transport http.RoundTripper
}

// Client implements payment.Gateway.
type Client struct {
	cfg    Config
	charge *http.Client
	query  *http.Client
}

var _ payment.Gateway = (*Client)(nil)

// APIError is a non-2xx answer from PayHero.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("payhero %s: http %d: %s", e.Op, e.StatusCode, e.Body)
}

// Code feeds err_code in logs.
func (e *APIError) Code() string { return fmt.Sprintf("payhero_http_%d", e.StatusCode) }

// New validates cfg and builds a Client. Charges are never retried by the
// transport; a retried POST could push two prompts to the payer.
func New(cfg Config) (*Client, error) {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("payhero: invalid base url: %w", err)
	}
	if cfg.Username == "" || cfg.Password == "" {
		return nil, fmt.Errorf("payhero: credentials are required")
	}
	if cfg.ChannelID <= 0 {
		return nil, fmt.Errorf("payhero: channel id is required")
	}
	if cfg.Provider == "" {
		cfg.Provider = "m-pesa"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	retries := cfg.StatusRetries
	if retries <= 0 {
		retries = -1
	}
	return &Client{
		cfg: cfg,
		charge: netutil.NewClient(netutil.ClientOptions{
			Timeout:         cfg.Timeout,
			ResponseTimeout: cfg.Timeout,
			RetryAttempts:   -1,
			Base:            cfg.Transport,
		}),
		query: netutil.NewClient(netutil.ClientOptions{
			Timeout:         cfg.Timeout,
			ResponseTimeout: cfg.Timeout,
			RetryAttempts:   retries,
			RetryBackoff:    500 * time.Millisecond,
			Base:            cfg.Transport,
		}),
	}, nil
}

type chargeBody struct {
	Amount            float64 `json:"amount"`
	PhoneNumber       string  `json:"phone_number"`
	ChannelID         int     `json:"channel_id"`
	Provider          string  `json:"provider"`
	ExternalReference string  `json:"external_reference"`
	CustomerName      string  `json:"customer_name,omitempty"`
	CallbackURL       string  `json:"callback_url"`
}

type chargeResponse struct {
	Success           bool   `json:"success"`
	Status            string `json:"status"`
	Reference         string `json:"reference"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

// Charge sends an STK push for req.
func (c *Client) Charge(ctx context.Context, req payment.ChargeRequest) (payment.ChargeResult, error) {
	name := strings.TrimSpace(req.CustomerName)
	if name == "" {
		name = "Unknown Customer"
	}
	body := chargeBody{
		Amount:            req.Amount,
		PhoneNumber:       req.Phone,
		ChannelID:         c.cfg.ChannelID,
		Provider:          c.cfg.Provider,
		ExternalReference: req.Reference,
		CustomerName:      name,
		CallbackURL:       c.cfg.CallbackURL,
	}
	var out chargeResponse
	if err := c.do(ctx, c.charge, http.MethodPost, paymentsPath, nil, body, &out, "charge"); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && strings.Contains(strings.ToLower(apiErr.Body), "insufficient") {
			return payment.ChargeResult{}, fmt.Errorf("%w: %w", payment.ErrInsufficientBalance, err)
		}
		return payment.ChargeResult{}, err
	}
	if !out.Success && !strings.EqualFold(out.Status, "queued") {
		return payment.ChargeResult{}, fmt.Errorf("payhero charge: not accepted (status %q)", out.Status)
	}
	return payment.ChargeResult{
		ProviderReference: out.Reference,
		Status:            MapStatus(out.Status),
	}, nil
}

type statusResponse struct {
	Status              string `json:"status"`
	Reference           string `json:"reference"`
	ProviderReference   string `json:"provider_reference"`
	ThirdPartyReference string `json:"third_party_reference"`
}

// Status queries the transaction status for reference.
func (c *Client) Status(ctx context.Context, reference string) (payment.StatusResult, error) {
	q := url.Values{"reference": []string{reference}}
	var out statusResponse
	if err := c.do(ctx, c.query, http.MethodGet, statusPath, q, nil, &out, "status"); err != nil {
		return payment.StatusResult{}, err
	}
	res := payment.StatusResult{Status: MapStatus(out.Status)}
	if res.Status == loan.PaymentConfirmed {
		res.TransactionID = firstNonEmpty(out.ThirdPartyReference, out.ProviderReference)
	}
	return res, nil
}

func (c *Client) do(ctx context.Context, hc *http.Client, method, path string, q url.Values, in, out any, op string) error {
	u := c.cfg.BaseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var rdr io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("payhero %s: encode: %w", op, err)
		}
		rdr = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return fmt.Errorf("payhero %s: build request: %w", op, err)
	}
	req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := hc.Do(req)
	took := logger.RoundMS(time.Since(start))
	if err != nil {
		logger.Warn(ctx, "payhero", "payhero."+op,
			slog.String("status", "fail"),
			slog.Duration("duration", took),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("payhero %s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := &APIError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
		logger.Warn(ctx, "payhero", "payhero."+op,
			slog.String("status", "fail"),
			slog.Int("http_status", resp.StatusCode),
			slog.Duration("duration", took),
			slog.String("err", logger.SanitizeLimit(apiErr.Body, 200)),
		)
		return apiErr
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("payhero %s: decode: %w", op, err)
	}
	logger.Debug(ctx, "payhero", "payhero."+op,
		slog.String("status", "ok"),
		slog.Int("http_status", resp.StatusCode),
		slog.Duration("duration", took),
	)
	return nil
}

func firstNonEmpty(values ...string) *string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return &v
		}
	}
	return nil
}
