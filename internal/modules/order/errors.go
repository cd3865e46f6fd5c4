package order

import (
	"errors"
	"fmt"

	"github.com/georgemunganga/storefront-backend/internal/modules/inventory"
	"github.com/google/uuid"
)

var (
	ErrValidation                = errors.New("invalid order request")
	ErrProductNotFound           = errors.New("product not found")
	ErrOrderNotFound             = errors.New("order not found")
	ErrInvalidSignature          = errors.New("invalid payment signature")
	ErrPaymentMismatch           = errors.New("payment does not belong to this order")
	ErrStockExhaustedPostPayment = errors.New("stock exhausted after payment")
	ErrInvalidTransition         = errors.New("invalid status transition")
	ErrNotCancellable            = errors.New("only orders awaiting payment can be cancelled")
	ErrNotAwaitingPayment        = errors.New("order is not awaiting payment")
	ErrDuplicateOrder            = errors.New("order already exists for idempotency key")

	errOrderNumberTaken = errors.New("order number already taken")
)

// InsufficientStockError names the product and size that cannot cover a
// checkout line.
type InsufficientStockError struct {
	ProductID   uuid.UUID
	ProductName string
	Size        inventory.Size
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("Insufficient stock for %s in size %s", e.ProductName, e.Size)
}

func (e *InsufficientStockError) Is(target error) bool { return target == inventory.ErrInsufficientStock }

// GatewayError reports a provider failure after the order was persisted.
// The order stays pending_payment and can be resumed with OrderID.
type GatewayError struct {
	OrderID uuid.UUID
	Err     error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("order %s created but payment intent failed: %v", e.OrderID, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }
