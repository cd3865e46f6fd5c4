package order

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/georgemunganga/storefront-backend/internal/modules/inventory"
	"github.com/georgemunganga/storefront-backend/internal/modules/payment"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status represents the lifecycle state of an order.
type Status string

const (
	StatusPendingPayment Status = "pending_payment"
	StatusProcessing     Status = "processing"
	StatusShipped        Status = "shipped"
	StatusDelivered      Status = "delivered"
	StatusCancelled      Status = "cancelled"
	StatusPaymentFailed  Status = "payment_failed"
)

func (s Status) Valid() bool {
	_, ok := validTransitions[s]
	return ok
}

// validTransitions defines the allowed status state machine.
var validTransitions = map[Status][]Status{
	StatusPendingPayment: {StatusProcessing, StatusPaymentFailed, StatusCancelled},
	StatusProcessing:     {StatusShipped},
	StatusShipped:        {StatusDelivered},
	StatusDelivered:      {},
	StatusCancelled:      {},
	StatusPaymentFailed:  {},
}

// PaymentStatus is the settlement state recorded on the order.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

// Failure and cancellation reasons.
const (
	// ReasonStockExhausted marks a captured payment whose stock ran out
	// before settlement. These orders need a refund or manual fulfilment.
	ReasonStockExhausted  = "StockExhaustedPostPayment"
	ReasonPaymentDeclined = "PaymentDeclined"
	ReasonExpired         = "expired"
	ReasonCustomerCancel  = "cancelled_by_customer"
	ReasonAdmin           = "admin"
)

// Order is a customer's checkout. Items and TotalAmount are frozen at
// creation.
type Order struct {
	ID              uuid.UUID       `json:"id"`
	OrderNumber     string          `json:"orderNumber"`
	OwnerID         uuid.UUID       `json:"user"`
	Customer        *Customer       `json:"customer,omitempty"`
	IdempotencyKey  string          `json:"-"`
	Items           []Item          `json:"items"`
	ShippingAddress ShippingAddress `json:"shippingAddress"`
	TotalAmount     decimal.Decimal `json:"totalAmount"`
	Currency        string          `json:"currency"`
	Status          Status          `json:"status"`
	FailureReason   string          `json:"failureReason,omitempty"`
	PaymentResult   PaymentResult   `json:"paymentResult"`
	Version         int             `json:"-"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
	ShippedAt       *time.Time      `json:"shippedAt,omitempty"`
	DeliveredAt     *time.Time      `json:"deliveredAt,omitempty"`
	History         []StatusChange  `json:"history,omitempty"`
}

// Item is one order line with the catalog price at the time of order.
type Item struct {
	ProductID uuid.UUID       `json:"product"`
	Name      string          `json:"name"`
	Size      inventory.Size  `json:"size"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	LineTotal decimal.Decimal `json:"lineTotal"`
}

type ShippingAddress struct {
	FullName   string `json:"fullName"`
	Address    string `json:"address"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
	Phone      string `json:"phone"`
}

func (a *ShippingAddress) Validate() error {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"fullName", a.FullName},
		{"address", a.Address},
		{"city", a.City},
		{"state", a.State},
		{"postalCode", a.PostalCode},
		{"country", a.Country},
		{"phone", a.Phone},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: shippingAddress missing %s", ErrValidation, strings.Join(missing, ", "))
	}
	return nil
}

type PaymentResult struct {
	ProviderOrderID   string        `json:"providerOrderId,omitempty"`
	ProviderPaymentID string        `json:"providerPaymentId,omitempty"`
	Status            PaymentStatus `json:"status"`
	UpdateTime        *time.Time    `json:"updateTime,omitempty"`
}

// StatusChange is one entry of an order's status history.
type StatusChange struct {
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	Reason    string    `json:"reason,omitempty"`
	ChangedAt time.Time `json:"changedAt"`
}

// Customer is the owner summary shown in admin listings.
type Customer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// errUnchanged is returned by an UpdateOrder callback that decided not to
// modify the order. The repository then skips the write.
var errUnchanged = errors.New("order unchanged")

// transition moves the order along the state machine and records history.
func (o *Order) transition(to Status, reason string, now time.Time) error {
	allowed := false
	for _, s := range validTransitions[o.Status] {
		if s == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, o.Status, to)
	}

	o.History = append(o.History, StatusChange{From: o.Status, To: to, Reason: reason, ChangedAt: now})
	o.Status = to
	switch to {
	case StatusPaymentFailed, StatusCancelled:
		o.FailureReason = reason
	case StatusShipped:
		o.ShippedAt = &now
	case StatusDelivered:
		o.DeliveredAt = &now
	}
	return nil
}

func (o *Order) recordPayment(paymentID string, status PaymentStatus, now time.Time) {
	o.PaymentResult.ProviderPaymentID = paymentID
	o.PaymentResult.Status = status
	o.PaymentResult.UpdateTime = &now
}

// lines converts the order items into ledger lines.
func (o *Order) lines() []inventory.Line {
	out := make([]inventory.Line, len(o.Items))
	for i, it := range o.Items {
		out[i] = inventory.Line{ProductID: it.ProductID, Size: it.Size, Quantity: it.Quantity}
	}
	return out
}

// settled reports whether the payment step has concluded.
func (o *Order) settled() bool { return o.Status != StatusPendingPayment }

// awaitsRefundCheck reports whether the order closed without a completed
// payment, so any capture arriving now has to be refunded.
func (o *Order) awaitsRefundCheck() bool {
	switch o.Status {
	case StatusCancelled:
		return true
	case StatusPaymentFailed:
		return o.PaymentResult.Status != PaymentCompleted
	}
	return false
}

// ── Requests ──────────────────────────────────────────────────────────────────

// LineRequest is one requested cart line.
type LineRequest struct {
	Product  string         `json:"product"`
	Size     inventory.Size `json:"size"`
	Quantity int            `json:"quantity"`
}

// PlaceOrderRequest is the checkout payload. TotalAmount is accepted for
// compatibility with older clients and never used.
type PlaceOrderRequest struct {
	Items           []LineRequest    `json:"items"`
	ShippingAddress ShippingAddress  `json:"shippingAddress"`
	TotalAmount     *decimal.Decimal `json:"totalAmount,omitempty"`
	IdempotencyKey  string           `json:"-"`
}

// VerifyPaymentRequest is the checkout callback relayed by the client.
type VerifyPaymentRequest struct {
	ProviderOrderID   string `json:"providerOrderId"`
	ProviderPaymentID string `json:"providerPaymentId"`
	Signature         string `json:"signature"`
}

// Checkout is returned by PlaceOrder so the client can open the provider's
// payment form.
type Checkout struct {
	OrderID         uuid.UUID               `json:"orderId"`
	OrderNumber     string                  `json:"orderNumber"`
	TotalAmount     decimal.Decimal         `json:"totalAmount"`
	ProviderOrderID string                  `json:"providerOrderId"`
	ProviderConfig  *payment.CheckoutConfig `json:"providerConfig,omitempty"`
	Status          Status                  `json:"status"`
}

// ListFilter narrows the admin order listing.
type ListFilter struct {
	Status Status
	From   *time.Time
	To     *time.Time
	// Search matches order id, order number, customer name or email.
	Search string
	Limit  int
}

// Dashboard aggregates the admin overview.
type Dashboard struct {
	TotalRevenue         decimal.Decimal `json:"totalRevenue"`
	TotalOrders          int             `json:"totalOrders"`
	TotalUsers           int             `json:"totalUsers"`
	PendingOrders        int             `json:"pendingOrders"`
	ProcessingOrders     int             `json:"processingOrders"`
	ReconciliationOrders int             `json:"reconciliationOrders"`
	RecentOrders         []*Order        `json:"recentOrders"`
	TopProducts          []TopProduct    `json:"topProducts"`
}

type TopProduct struct {
	ProductID uuid.UUID       `json:"id"`
	Name      string          `json:"name"`
	Brand     string          `json:"brand"`
	UnitsSold int             `json:"unitsSold"`
	Revenue   decimal.Decimal `json:"revenue"`
}
