package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/georgemunganga/storefront-backend/internal/database"
	"github.com/georgemunganga/storefront-backend/internal/logging"
	"github.com/georgemunganga/storefront-backend/internal/metrics"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/georgemunganga/storefront-backend/internal/modules/payment")

// Service is the payment gateway adapter used by the checkout workflow.
type Service interface {
	// CreateIntent registers an expected charge. Calls with the same token
	// return the same intent.
	CreateIntent(ctx context.Context, amount decimal.Decimal, currency, token string) (*Intent, error)
	// VerifySignature checks a checkout callback in constant time.
	VerifySignature(providerOrderID, paymentID, signature string) bool
	// VerifyWebhook checks the signature of a raw webhook body.
	VerifyWebhook(body []byte, signature string) bool
	// FetchStatus asks the provider for the settlement of a payment. It is
	// not retried.
	FetchStatus(ctx context.Context, paymentID string) (*Settlement, error)
	// VerifyCredentialsAtStartup fails when the provider rejects the keys.
	VerifyCredentialsAtStartup(ctx context.Context) error
	CheckoutConfig(intent *Intent, description string, prefill Prefill) CheckoutConfig
}

// Options configures the adapter.
type Options struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
	StoreName     string
	// Timeout bounds each provider call.
	Timeout time.Duration
}

type service struct {
	repo    Repository
	gateway Gateway
	opts    Options
	metrics *metrics.Metrics
}

// NewService creates the adapter. m may be nil.
func NewService(repo Repository, gateway Gateway, opts Options, m *metrics.Metrics) Service {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &service{repo: repo, gateway: gateway, opts: opts, metrics: m}
}

func (s *service) CreateIntent(ctx context.Context, amount decimal.Decimal, currency, token string) (*Intent, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if token == "" {
		return nil, errors.New("idempotency token is required")
	}

	ctx, span := tracer.Start(ctx, "payment.CreateIntent")
	defer span.End()
	span.SetAttributes(attribute.String("payment.token", token))

	tx, err := s.transactionFor(ctx, amount, currency, token)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if tx.ProviderOrderID != "" {
		return &Intent{ProviderOrderID: tx.ProviderOrderID, Amount: tx.Amount, Currency: tx.Currency, Token: token}, nil
	}

	req := ProviderOrderRequest{Amount: toMinor(amount), Currency: currency, Receipt: token, PaymentCapture: 1}
	order, err := s.createOrder(ctx, req)
	if err != nil && isUnavailable(err) {
		logging.FromContext(ctx).Warn("payment gateway unavailable, retrying once",
			zap.String("token", token), zap.Error(err))
		s.recordAttemptError(ctx, tx.ID, err)
		order, err = s.createOrder(ctx, req)
	}
	if err != nil {
		s.recordAttemptError(ctx, tx.ID, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "create intent failed")
		if isUnavailable(err) && !errors.Is(err, ErrGatewayUnavailable) {
			err = fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
		}
		return nil, err
	}

	if err := s.repo.AttachProviderOrder(ctx, tx.ID, order.ID, order.Status); err != nil {
		return nil, fmt.Errorf("record provider order: %w", err)
	}
	return &Intent{ProviderOrderID: order.ID, Amount: amount, Currency: currency, Token: token}, nil
}

// transactionFor returns the local record for token, creating it as
// pending before any provider call so no intent goes unrecorded.
func (s *service) transactionFor(ctx context.Context, amount decimal.Decimal, currency, token string) (*Transaction, error) {
	existing, err := s.repo.GetByIdempotencyKey(ctx, token)
	switch {
	case err == nil:
		if !existing.Amount.Equal(amount) || existing.Currency != currency {
			return nil, ErrTokenConflict
		}
		return existing, nil
	case !errors.Is(err, ErrTransactionNotFound):
		return nil, err
	}

	tx := &Transaction{
		ID:             uuid.New(),
		IdempotencyKey: token,
		Amount:         amount,
		Currency:       currency,
		Status:         TxPending,
	}
	if err := s.repo.Create(ctx, tx); err != nil {
		if database.IsUniqueViolation(err, "") {
			// lost a race with a concurrent call for the same token
			return s.transactionFor(ctx, amount, currency, token)
		}
		return nil, fmt.Errorf("record payment intent: %w", err)
	}
	return tx, nil
}

func (s *service) createOrder(ctx context.Context, req ProviderOrderRequest) (*ProviderOrder, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	start := time.Now()
	order, err := s.gateway.CreateOrder(ctx, req)
	s.metrics.GatewayCall("create_order", outcome(err), time.Since(start))
	return order, err
}

func (s *service) recordAttemptError(ctx context.Context, id uuid.UUID, cause error) {
	if err := s.repo.RecordAttemptError(ctx, id, cause.Error()); err != nil {
		logging.FromContext(ctx).Error("record payment attempt error", zap.Error(err))
	}
}

func (s *service) VerifySignature(providerOrderID, paymentID, signature string) bool {
	if providerOrderID == "" || paymentID == "" || signature == "" {
		return false
	}
	return validHMAC(s.opts.KeySecret, []byte(providerOrderID+"|"+paymentID), signature)
}

func (s *service) VerifyWebhook(body []byte, signature string) bool {
	if s.opts.WebhookSecret == "" || signature == "" {
		return false
	}
	return validHMAC(s.opts.WebhookSecret, body, signature)
}

func validHMAC(secret string, payload []byte, signature string) bool {
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), got)
}

// Sign computes the checkout signature for a provider order and payment.
// The provider does this on its side; tests and tooling use it too.
func Sign(secret, providerOrderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(providerOrderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *service) FetchStatus(ctx context.Context, paymentID string) (*Settlement, error) {
	ctx, span := tracer.Start(ctx, "payment.FetchStatus")
	defer span.End()
	span.SetAttributes(attribute.String("payment.id", paymentID))

	callCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	start := time.Now()
	p, err := s.gateway.FetchPayment(callCtx, paymentID)
	s.metrics.GatewayCall("fetch_payment", outcome(err), time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch status failed")
		if isUnavailable(err) && !errors.Is(err, ErrGatewayUnavailable) {
			err = fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
		}
		return nil, err
	}

	st := &Settlement{
		PaymentID:       p.ID,
		ProviderOrderID: p.OrderID,
		Status:          normaliseStatus(p.Status),
		ProviderStatus:  p.Status,
		Amount:          fromMinor(p.Amount),
		Currency:        p.Currency,
		Reason:          p.ErrorDescription,
	}
	span.SetAttributes(attribute.String("payment.status", string(st.Status)))

	if st.Status != StatusPending && st.ProviderOrderID != "" {
		txStatus := TxCaptured
		if st.Status == StatusFailed {
			txStatus = TxFailed
		}
		err := s.repo.RecordSettlement(ctx, st.ProviderOrderID, st.PaymentID, txStatus, st.ProviderStatus)
		if err != nil && !errors.Is(err, ErrTransactionNotFound) {
			logging.FromContext(ctx).Error("record settlement", zap.String("payment_id", paymentID), zap.Error(err))
		}
	}
	return st, nil
}

func (s *service) VerifyCredentialsAtStartup(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	start := time.Now()
	err := s.gateway.Ping(ctx)
	s.metrics.GatewayCall("ping", outcome(err), time.Since(start))
	if err != nil {
		return fmt.Errorf("verify payment credentials: %w", err)
	}
	return nil
}

func (s *service) CheckoutConfig(intent *Intent, description string, prefill Prefill) CheckoutConfig {
	return CheckoutConfig{
		Key:         s.opts.KeyID,
		Amount:      toMinor(intent.Amount),
		Currency:    intent.Currency,
		Name:        s.opts.StoreName,
		Description: description,
		OrderID:     intent.ProviderOrderID,
		Prefill:     prefill,
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case isUnavailable(err):
		return "unavailable"
	case errors.Is(err, ErrCredentialsRejected):
		return "unauthorized"
	default:
		return "rejected"
	}
}
