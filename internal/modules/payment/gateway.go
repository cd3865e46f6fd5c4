package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Gateway is the wire boundary to the payment provider.
type Gateway interface {
	// CreateOrder registers an expected charge. receipt is forwarded as the
	// provider idempotency key so a retried call returns the same order.
	CreateOrder(ctx context.Context, req ProviderOrderRequest) (*ProviderOrder, error)
	FetchPayment(ctx context.Context, paymentID string) (*ProviderPayment, error)
	// Ping performs an authenticated no-op request.
	Ping(ctx context.Context) error
}

// ProviderOrderRequest is the body of POST /v1/orders.
type ProviderOrderRequest struct {
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	Receipt        string `json:"receipt"`
	PaymentCapture int    `json:"payment_capture"`
}

type ProviderOrder struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

type ProviderPayment struct {
	ID               string `json:"id"`
	OrderID          string `json:"order_id"`
	Status           string `json:"status"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	ErrorDescription string `json:"error_description"`
}

type providerError struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// ── REST adapter ──────────────────────────────────────────────────────────────

type httpGateway struct {
	baseURL   string
	keyID     string
	keySecret string
	client    *http.Client
}

// NewHTTPGateway returns a Gateway speaking the provider's REST API with
// HTTP basic auth. Timeouts come from ctx.
func NewHTTPGateway(baseURL, keyID, keySecret string, client *http.Client) Gateway {
	if client == nil {
		client = http.DefaultClient
	}
	return &httpGateway{
		baseURL:   strings.TrimRight(baseURL, "/"),
		keyID:     keyID,
		keySecret: keySecret,
		client:    client,
	}
}

func (g *httpGateway) CreateOrder(ctx context.Context, req ProviderOrderRequest) (*ProviderOrder, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	var out ProviderOrder
	headers := map[string]string{"Idempotency-Key": req.Receipt}
	if err := g.do(ctx, http.MethodPost, "/v1/orders", bytes.NewReader(body), headers, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, fmt.Errorf("%w: empty order id in response", ErrGatewayUnavailable)
	}
	return &out, nil
}

func (g *httpGateway) FetchPayment(ctx context.Context, paymentID string) (*ProviderPayment, error) {
	var out ProviderPayment
	if err := g.do(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(paymentID), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (g *httpGateway) Ping(ctx context.Context) error {
	return g.do(ctx, http.MethodGet, "/v1/orders?count=1", nil, nil, nil)
}

func (g *httpGateway) do(ctx context.Context, method, path string, body io.Reader, headers map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return err
	}
	req.SetBasicAuth(g.keyID, g.keySecret)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrGatewayUnavailable, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("%w: decode response: %v", ErrGatewayUnavailable, err)
		}
		return nil
	}
	return classify(resp.StatusCode, raw)
}

func classify(status int, raw []byte) error {
	var pe providerError
	_ = json.Unmarshal(raw, &pe)
	desc := pe.Error.Description
	if desc == "" {
		desc = http.StatusText(status)
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrCredentialsRejected, desc)
	case status == http.StatusTooManyRequests || status >= 500:
		return fmt.Errorf("%w: status %d: %s", ErrGatewayUnavailable, status, desc)
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrPaymentNotFound, desc)
	default:
		return fmt.Errorf("%w: status %d: %s", ErrProviderRejected, status, desc)
	}
}

// normaliseStatus maps provider payment states to settlement states.
// Anything that is not final is still pending.
func normaliseStatus(providerStatus string) SettlementStatus {
	switch strings.ToLower(providerStatus) {
	case "captured":
		return StatusCaptured
	case "failed":
		return StatusFailed
	default:
		// created, authorized, refunded-before-capture and unknown states
		return StatusPending
	}
}

func isUnavailable(err error) bool {
	return errors.Is(err, ErrGatewayUnavailable) || errors.Is(err, context.DeadlineExceeded)
}
