package payment

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrGatewayUnavailable   = errors.New("payment gateway unavailable")
	ErrInvalidAmount        = errors.New("amount must be greater than zero")
	ErrCredentialsRejected  = errors.New("payment gateway rejected credentials")
	ErrProviderRejected     = errors.New("payment gateway rejected request")
	ErrPaymentNotFound      = errors.New("payment not found at provider")
	ErrTransactionNotFound  = errors.New("payment transaction not found")
	ErrTokenConflict        = errors.New("idempotency token reused with a different amount")
	ErrUnknownProviderOrder = errors.New("no order for provider order id")
)

// SettlementStatus is the provider's authoritative view of a payment.
type SettlementStatus string

const (
	StatusCaptured SettlementStatus = "captured"
	StatusFailed   SettlementStatus = "failed"
	StatusPending  SettlementStatus = "pending"
)

// TxStatus is the lifecycle of a locally recorded payment intent.
type TxStatus string

const (
	// TxPending is recorded before the provider is called.
	TxPending  TxStatus = "pending"
	TxCreated  TxStatus = "created"
	TxCaptured TxStatus = "captured"
	TxFailed   TxStatus = "failed"
)

// Transaction is the local record of one payment intent, keyed by the
// caller's idempotency token.
type Transaction struct {
	ID                uuid.UUID       `json:"id"`
	IdempotencyKey    string          `json:"idempotencyKey"`
	ProviderOrderID   string          `json:"providerOrderId,omitempty"`
	ProviderPaymentID string          `json:"providerPaymentId,omitempty"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	Status            TxStatus        `json:"status"`
	ProviderStatus    string          `json:"providerStatus,omitempty"`
	RetryCount        int             `json:"retryCount"`
	LastError         string          `json:"lastError,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

// Intent is a provider-side record of an expected charge.
type Intent struct {
	ProviderOrderID string          `json:"providerOrderId"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Token           string          `json:"-"`
}

// Settlement is the result of fetching a payment from the provider.
type Settlement struct {
	PaymentID       string           `json:"paymentId"`
	ProviderOrderID string           `json:"providerOrderId"`
	Status          SettlementStatus `json:"status"`
	ProviderStatus  string           `json:"providerStatus"`
	Amount          decimal.Decimal  `json:"amount"`
	Currency        string           `json:"currency"`
	Reason          string           `json:"reason,omitempty"`
}

// Prefill is the customer data shown in the provider's checkout form.
type Prefill struct {
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Contact string `json:"contact,omitempty"`
}

// CheckoutConfig is handed to the storefront to open the provider's
// checkout for an intent. Amount is in minor units.
type CheckoutConfig struct {
	Key         string  `json:"key"`
	Amount      int64   `json:"amount"`
	Currency    string  `json:"currency"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	OrderID     string  `json:"order_id"`
	Prefill     Prefill `json:"prefill"`
}

// toMinor converts an amount to minor currency units.
func toMinor(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

func fromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}
