package order

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/georgemunganga/storefront-backend/internal/events"
	"github.com/georgemunganga/storefront-backend/internal/logging"
	"github.com/georgemunganga/storefront-backend/internal/metrics"
	"github.com/georgemunganga/storefront-backend/internal/modules/catalog"
	"github.com/georgemunganga/storefront-backend/internal/modules/inventory"
	"github.com/georgemunganga/storefront-backend/internal/modules/payment"
	"github.com/georgemunganga/storefront-backend/internal/modules/user"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/georgemunganga/storefront-backend/internal/modules/order")

const (
	staleBatchSize  = 100
	dashboardRecent = 5
	dashboardTop    = 5
)

// Catalog is the product lookup used to price checkout lines.
type Catalog interface {
	GetProduct(ctx context.Context, id string) (*catalog.Product, error)
}

// Ledger is the inventory ledger used by the workflow.
type Ledger interface {
	CheckAvailability(ctx context.Context, productID uuid.UUID, size inventory.Size, quantity int) (bool, error)
	ReserveAndDecrement(ctx context.Context, key string, lines ...inventory.Line) error
}

// Payments is the gateway adapter used by the workflow.
type Payments interface {
	CreateIntent(ctx context.Context, amount decimal.Decimal, currency, token string) (*payment.Intent, error)
	VerifySignature(providerOrderID, paymentID, signature string) bool
	FetchStatus(ctx context.Context, paymentID string) (*payment.Settlement, error)
	CheckoutConfig(intent *payment.Intent, description string, prefill payment.Prefill) payment.CheckoutConfig
}

// Service is the checkout workflow.
type Service interface {
	// PlaceOrder prices the cart from the catalog, persists a pending order
	// and opens a payment intent for it. A request carrying an idempotency
	// key already used by the customer returns the original checkout.
	PlaceOrder(ctx context.Context, customer *user.User, req PlaceOrderRequest) (*Checkout, error)
	// RetryPaymentIntent re-opens the intent of a pending order whose
	// gateway call failed.
	RetryPaymentIntent(ctx context.Context, customer *user.User, orderID string) (*Checkout, error)
	// VerifyPayment settles an order from the client's checkout callback.
	// Settled orders are returned unchanged and inventory is decremented
	// at most once.
	VerifyPayment(ctx context.Context, customer *user.User, orderID string, req VerifyPaymentRequest) (*Order, error)
	// SettleByProviderOrder settles from an authenticated webhook.
	SettleByProviderOrder(ctx context.Context, providerOrderID, paymentID string) error
	CancelOrder(ctx context.Context, customer *user.User, orderID string) (*Order, error)
	// ExpireStale cancels orders left awaiting payment for longer than
	// olderThan and returns how many were cancelled.
	ExpireStale(ctx context.Context, olderThan time.Duration) (int, error)

	GetOrder(ctx context.Context, customer *user.User, orderID string) (*Order, error)
	ListMyOrders(ctx context.Context, customer *user.User) ([]*Order, error)

	ListOrders(ctx context.Context, filter ListFilter) ([]*Order, error)
	UpdateStatus(ctx context.Context, orderID string, to Status) (*Order, error)
	Dashboard(ctx context.Context) (*Dashboard, error)
}

// Deps wires the workflow's collaborators. Events, Metrics and Now are
// optional.
type Deps struct {
	Repo     Repository
	Catalog  Catalog
	Ledger   Ledger
	Payments Payments
	Events   events.Publisher
	Metrics  *metrics.Metrics
	Currency string
	Now      func() time.Time
}

type service struct {
	repo     Repository
	catalog  Catalog
	ledger   Ledger
	payments Payments
	events   events.Publisher
	metrics  *metrics.Metrics
	currency string
	now      func() time.Time
}

func NewService(d Deps) Service {
	s := &service{
		repo:     d.Repo,
		catalog:  d.Catalog,
		ledger:   d.Ledger,
		payments: d.Payments,
		events:   d.Events,
		metrics:  d.Metrics,
		currency: d.Currency,
		now:      d.Now,
	}
	if s.currency == "" {
		s.currency = "INR"
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

// ── Checkout ──────────────────────────────────────────────────────────────────

func (s *service) PlaceOrder(ctx context.Context, customer *user.User, req PlaceOrderRequest) (_ *Checkout, err error) {
	ctx, span := tracer.Start(ctx, "order.PlaceOrder")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.String("user.id", customer.ID.String()))

	if req.IdempotencyKey != "" {
		existing, err := s.repo.GetOrderByIdempotencyKey(ctx, customer.ID, req.IdempotencyKey)
		if err == nil {
			s.metrics.CheckoutOrder("replayed")
			return s.resume(ctx, customer, existing)
		}
		if !errors.Is(err, ErrOrderNotFound) {
			return nil, err
		}
	}

	o, err := s.build(ctx, customer, req)
	if err != nil {
		switch {
		case errors.Is(err, inventory.ErrInsufficientStock):
			s.metrics.CheckoutOrder("insufficient_stock")
		case errors.Is(err, ErrValidation), errors.Is(err, ErrProductNotFound):
			s.metrics.CheckoutOrder("rejected")
		default:
			s.metrics.CheckoutOrder("error")
		}
		return nil, err
	}
	span.SetAttributes(attribute.String("order.id", o.ID.String()))

	if err := s.create(ctx, o); err != nil {
		if errors.Is(err, ErrDuplicateOrder) {
			// A concurrent request with the same key won the insert.
			existing, getErr := s.repo.GetOrderByIdempotencyKey(ctx, customer.ID, req.IdempotencyKey)
			if getErr != nil {
				return nil, getErr
			}
			s.metrics.CheckoutOrder("replayed")
			return s.resume(ctx, customer, existing)
		}
		s.metrics.CheckoutOrder("error")
		return nil, err
	}

	logging.FromContext(ctx).Info("order created",
		zap.String("order_id", o.ID.String()),
		zap.String("order_number", o.OrderNumber),
		zap.String("total", o.TotalAmount.StringFixed(2)))
	s.publish(ctx, events.OrderCreated, o, "")

	checkout, err := s.openIntent(ctx, customer, o)
	if err != nil {
		s.metrics.CheckoutOrder("gateway_error")
		return nil, err
	}
	s.metrics.CheckoutOrder("created")
	return checkout, nil
}

// build validates the request and prices it from the catalog. Duplicate
// product and size lines are merged.
func (s *service) build(ctx context.Context, customer *user.User, req PlaceOrderRequest) (*Order, error) {
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("%w: at least one item is required", ErrValidation)
	}
	if err := req.ShippingAddress.Validate(); err != nil {
		return nil, err
	}

	type lineKey struct {
		productID uuid.UUID
		size      inventory.Size
	}
	var items []Item
	index := map[lineKey]int{}
	for i, line := range req.Items {
		productID, err := uuid.Parse(strings.TrimSpace(line.Product))
		if err != nil {
			return nil, fmt.Errorf("%w: items[%d].product is not a valid id", ErrValidation, i)
		}
		if !line.Size.Valid() {
			return nil, fmt.Errorf("%w: items[%d].size %s is not offered", ErrValidation, i, line.Size)
		}
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: items[%d].quantity must be positive", ErrValidation, i)
		}

		k := lineKey{productID, line.Size}
		if at, ok := index[k]; ok {
			items[at].Quantity += line.Quantity
			continue
		}
		index[k] = len(items)
		items = append(items, Item{ProductID: productID, Size: line.Size, Quantity: line.Quantity})
	}

	total := decimal.Zero
	for i := range items {
		it := &items[i]
		p, err := s.catalog.GetProduct(ctx, it.ProductID.String())
		if errors.Is(err, catalog.ErrProductNotFound) || (err == nil && !p.IsActive) {
			return nil, fmt.Errorf("%w: %s", ErrProductNotFound, it.ProductID)
		}
		if err != nil {
			return nil, fmt.Errorf("load product %s: %w", it.ProductID, err)
		}

		ok, err := s.ledger.CheckAvailability(ctx, it.ProductID, it.Size, it.Quantity)
		if err != nil {
			return nil, fmt.Errorf("check availability: %w", err)
		}
		if !ok {
			return nil, &InsufficientStockError{ProductID: p.ID, ProductName: p.Name, Size: it.Size}
		}

		it.Name = p.Name
		it.Price = p.Price
		it.LineTotal = p.Price.Mul(decimal.NewFromInt(int64(it.Quantity)))
		total = total.Add(it.LineTotal)
	}
	if !total.IsPositive() {
		return nil, fmt.Errorf("%w: order total must be greater than zero", ErrValidation)
	}

	if req.TotalAmount != nil && !req.TotalAmount.Equal(total) {
		logging.FromContext(ctx).Warn("client total differs from catalog total",
			zap.String("client_total", req.TotalAmount.String()),
			zap.String("total", total.StringFixed(2)))
	}

	now := s.now()
	return &Order{
		ID:              uuid.New(),
		OwnerID:         customer.ID,
		Customer:        &Customer{Name: customer.Name(), Email: customer.Email},
		IdempotencyKey:  req.IdempotencyKey,
		Items:           items,
		ShippingAddress: req.ShippingAddress,
		TotalAmount:     total,
		Currency:        s.currency,
		Status:          StatusPendingPayment,
		PaymentResult:   PaymentResult{Status: PaymentPending},
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// create persists o, drawing a fresh order number on collision.
func (s *service) create(ctx context.Context, o *Order) error {
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		o.OrderNumber = s.orderNumber()
		if err = s.repo.CreateOrder(ctx, o); !errors.Is(err, errOrderNumberTaken) {
			return err
		}
	}
	return err
}

const orderNumberAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// orderNumber returns ORD-YYYYMMDD-XXXX.
func (s *service) orderNumber() string {
	var b [4]byte
	_, _ = rand.Read(b[:])
	for i := range b {
		b[i] = orderNumberAlphabet[int(b[i])%len(orderNumberAlphabet)]
	}
	return "ORD-" + s.now().Format("20060102") + "-" + string(b[:])
}

// resume returns the checkout of an existing order, reopening its intent
// while it still awaits payment.
func (s *service) resume(ctx context.Context, customer *user.User, o *Order) (*Checkout, error) {
	if o.Status != StatusPendingPayment {
		return &Checkout{
			OrderID:         o.ID,
			OrderNumber:     o.OrderNumber,
			TotalAmount:     o.TotalAmount,
			ProviderOrderID: o.PaymentResult.ProviderOrderID,
			Status:          o.Status,
		}, nil
	}
	return s.openIntent(ctx, customer, o)
}

func paymentToken(id uuid.UUID) string { return "order_" + id.String() }

// openIntent creates (or re-reads) the intent for o and records its
// provider order id. The token is derived from the order id so retries
// reuse the same intent.
func (s *service) openIntent(ctx context.Context, customer *user.User, o *Order) (*Checkout, error) {
	intent, err := s.payments.CreateIntent(ctx, o.TotalAmount, o.Currency, paymentToken(o.ID))
	if err != nil {
		logging.FromContext(ctx).Error("payment intent failed; order left pending",
			zap.String("order_id", o.ID.String()), zap.Error(err))
		return nil, &GatewayError{OrderID: o.ID, Err: err}
	}

	if o.PaymentResult.ProviderOrderID != intent.ProviderOrderID {
		o, err = s.repo.UpdateOrder(ctx, o.ID, func(_ context.Context, cur *Order) error {
			if cur.PaymentResult.ProviderOrderID == intent.ProviderOrderID {
				return errUnchanged
			}
			cur.PaymentResult.ProviderOrderID = intent.ProviderOrderID
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("attach provider order: %w", err)
		}
	}

	cfg := s.payments.CheckoutConfig(intent, "Order #"+o.OrderNumber, payment.Prefill{
		Name:    customer.Name(),
		Email:   customer.Email,
		Contact: o.ShippingAddress.Phone,
	})
	return &Checkout{
		OrderID:         o.ID,
		OrderNumber:     o.OrderNumber,
		TotalAmount:     o.TotalAmount,
		ProviderOrderID: intent.ProviderOrderID,
		ProviderConfig:  &cfg,
		Status:          o.Status,
	}, nil
}

func (s *service) RetryPaymentIntent(ctx context.Context, customer *user.User, orderID string) (*Checkout, error) {
	o, err := s.owned(ctx, customer, orderID, false)
	if err != nil {
		return nil, err
	}
	if o.Status != StatusPendingPayment {
		return nil, ErrNotAwaitingPayment
	}
	return s.openIntent(ctx, customer, o)
}

// ── Settlement ────────────────────────────────────────────────────────────────

func (s *service) VerifyPayment(ctx context.Context, customer *user.User, orderID string, req VerifyPaymentRequest) (_ *Order, err error) {
	ctx, span := tracer.Start(ctx, "order.VerifyPayment")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.String("order.id", orderID))

	if req.ProviderOrderID == "" || req.ProviderPaymentID == "" || req.Signature == "" {
		return nil, fmt.Errorf("%w: providerOrderId, providerPaymentId and signature are required", ErrValidation)
	}

	o, err := s.owned(ctx, customer, orderID, false)
	if err != nil {
		return nil, err
	}

	stored := o.PaymentResult.ProviderOrderID
	if stored != "" && stored != req.ProviderOrderID {
		s.metrics.PaymentVerification("mismatch")
		return nil, ErrPaymentMismatch
	}
	if stored == "" || !s.payments.VerifySignature(stored, req.ProviderPaymentID, req.Signature) {
		s.metrics.PaymentVerification("invalid_signature")
		logging.FromContext(ctx).Warn("payment signature rejected",
			zap.String("order_id", o.ID.String()),
			zap.String("payment_id", req.ProviderPaymentID))
		return nil, ErrInvalidSignature
	}

	return s.settle(ctx, o, req.ProviderPaymentID)
}

func (s *service) SettleByProviderOrder(ctx context.Context, providerOrderID, paymentID string) (err error) {
	ctx, span := tracer.Start(ctx, "order.SettleByProviderOrder")
	defer func() { endSpan(span, err) }()

	o, err := s.repo.GetOrderByProviderOrderID(ctx, providerOrderID)
	if errors.Is(err, ErrOrderNotFound) {
		return payment.ErrUnknownProviderOrder
	}
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.String("order.id", o.ID.String()))

	_, err = s.settle(ctx, o, paymentID)
	if errors.Is(err, ErrStockExhaustedPostPayment) {
		// Recorded on the order; nothing for the provider to retry.
		return nil
	}
	return err
}

// settle applies the provider's settlement of paymentID to o. The status
// is fetched from the provider rather than taken from the caller.
func (s *service) settle(ctx context.Context, o *Order, paymentID string) (*Order, error) {
	log := logging.FromContext(ctx).With(zap.String("order_id", o.ID.String()), zap.String("payment_id", paymentID))

	// Orders that ended without a capture still consult the provider so a
	// late capture is reported for refund.
	if o.settled() && !o.awaitsRefundCheck() {
		s.metrics.PaymentVerification("replayed")
		return replay(o)
	}

	st, err := s.payments.FetchStatus(ctx, paymentID)
	if errors.Is(err, payment.ErrPaymentNotFound) {
		s.metrics.PaymentVerification("mismatch")
		return nil, ErrPaymentMismatch
	}
	if err != nil {
		s.metrics.PaymentVerification("gateway_error")
		return nil, &GatewayError{OrderID: o.ID, Err: err}
	}

	if st.ProviderOrderID != o.PaymentResult.ProviderOrderID {
		s.metrics.PaymentVerification("mismatch")
		log.Warn("payment belongs to another provider order", zap.String("provider_order_id", st.ProviderOrderID))
		return nil, ErrPaymentMismatch
	}

	switch st.Status {
	case payment.StatusPending:
		s.metrics.PaymentVerification("pending")
		return o, nil
	case payment.StatusCaptured:
		if !st.Amount.Equal(o.TotalAmount) || !strings.EqualFold(st.Currency, o.Currency) {
			s.metrics.PaymentVerification("mismatch")
			log.Error("captured amount differs from order total",
				zap.String("captured", st.Amount.String()+" "+st.Currency),
				zap.String("total", o.TotalAmount.StringFixed(2)+" "+o.Currency))
			return nil, ErrPaymentMismatch
		}
	}

	var changed bool
	updated, err := s.repo.UpdateOrder(ctx, o.ID, func(ctx context.Context, cur *Order) error {
		if cur.settled() {
			return errUnchanged
		}
		now := s.now()

		if st.Status == payment.StatusFailed {
			cur.recordPayment(paymentID, PaymentFailed, now)
			changed = true
			return cur.transition(StatusPaymentFailed, ReasonPaymentDeclined, now)
		}

		err := s.ledger.ReserveAndDecrement(ctx, cur.ID.String()+":"+paymentID, cur.lines()...)
		switch {
		case err == nil, errors.Is(err, inventory.ErrAlreadyApplied):
			cur.recordPayment(paymentID, PaymentCompleted, now)
			changed = true
			return cur.transition(StatusProcessing, "", now)
		case errors.Is(err, inventory.ErrInsufficientStock), errors.Is(err, inventory.ErrStockNotFound):
			log.Error("stock exhausted after payment capture; order needs reconciliation", zap.Error(err))
			cur.recordPayment(paymentID, PaymentCompleted, now)
			changed = true
			return cur.transition(StatusPaymentFailed, ReasonStockExhausted, now)
		default:
			return fmt.Errorf("decrement stock: %w", err)
		}
	})
	if err != nil {
		s.metrics.PaymentVerification("error")
		return nil, err
	}

	if !changed {
		if st.Status == payment.StatusCaptured && updated.awaitsRefundCheck() {
			log.Error("payment captured for a closed order; refund required",
				zap.String("status", string(updated.Status)))
		}
		s.metrics.PaymentVerification("replayed")
		return replay(updated)
	}

	switch {
	case updated.Status == StatusProcessing:
		s.metrics.PaymentVerification("processing")
		log.Info("payment settled")
		s.publish(ctx, events.OrderPaid, updated, "")
	case updated.FailureReason == ReasonStockExhausted:
		s.metrics.PaymentVerification("stock_exhausted")
		s.publish(ctx, events.OrderPaymentFailed, updated, ReasonStockExhausted)
	default:
		s.metrics.PaymentVerification("payment_failed")
		log.Info("payment failed", zap.String("provider_reason", st.Reason))
		s.publish(ctx, events.OrderPaymentFailed, updated, updated.FailureReason)
	}
	return replay(updated)
}

// replay reports a settled order the same way on every call.
func replay(o *Order) (*Order, error) {
	if o.Status == StatusPaymentFailed && o.FailureReason == ReasonStockExhausted {
		return o, ErrStockExhaustedPostPayment
	}
	return o, nil
}

// ── Cancellation ──────────────────────────────────────────────────────────────

func (s *service) CancelOrder(ctx context.Context, customer *user.User, orderID string) (*Order, error) {
	o, err := s.owned(ctx, customer, orderID, false)
	if err != nil {
		return nil, err
	}
	updated, err := s.repo.UpdateOrder(ctx, o.ID, func(_ context.Context, cur *Order) error {
		if cur.Status != StatusPendingPayment {
			return ErrNotCancellable
		}
		return cur.transition(StatusCancelled, ReasonCustomerCancel, s.now())
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.OrderCancelled, updated, ReasonCustomerCancel)
	return updated, nil
}

func (s *service) ExpireStale(ctx context.Context, olderThan time.Duration) (int, error) {
	ids, err := s.repo.ListStalePending(ctx, s.now().Add(-olderThan), staleBatchSize)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, id := range ids {
		var changed bool
		o, err := s.repo.UpdateOrder(ctx, id, func(_ context.Context, cur *Order) error {
			if cur.Status != StatusPendingPayment {
				return errUnchanged
			}
			changed = true
			return cur.transition(StatusCancelled, ReasonExpired, s.now())
		})
		if err != nil {
			return expired, fmt.Errorf("expire order %s: %w", id, err)
		}
		if changed {
			expired++
			s.publish(ctx, events.OrderCancelled, o, ReasonExpired)
		}
	}
	return expired, nil
}

// ── Reads ─────────────────────────────────────────────────────────────────────

// owned loads an order visible to customer. Orders of other customers are
// reported as not found; admins may read any order when allowAdmin is set.
func (s *service) owned(ctx context.Context, customer *user.User, orderID string, allowAdmin bool) (*Order, error) {
	id, err := uuid.Parse(orderID)
	if err != nil {
		return nil, ErrOrderNotFound
	}
	o, err := s.repo.GetOrderByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.OwnerID != customer.ID && !(allowAdmin && customer.IsAdmin) {
		return nil, ErrOrderNotFound
	}
	return o, nil
}

func (s *service) GetOrder(ctx context.Context, customer *user.User, orderID string) (*Order, error) {
	return s.owned(ctx, customer, orderID, true)
}

func (s *service) ListMyOrders(ctx context.Context, customer *user.User) ([]*Order, error) {
	return s.repo.ListOrdersByOwner(ctx, customer.ID)
}

func (s *service) ListOrders(ctx context.Context, filter ListFilter) ([]*Order, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, filter.Status)
	}
	return s.repo.ListOrders(ctx, filter)
}

// UpdateStatus applies an admin transition. Admins may ship, deliver or
// cancel; payment outcomes are only set by settlement.
func (s *service) UpdateStatus(ctx context.Context, orderID string, to Status) (*Order, error) {
	switch to {
	case StatusShipped, StatusDelivered, StatusCancelled:
	default:
		return nil, fmt.Errorf("%w: admins cannot set status %q", ErrInvalidTransition, to)
	}
	id, err := uuid.Parse(orderID)
	if err != nil {
		return nil, ErrOrderNotFound
	}

	updated, err := s.repo.UpdateOrder(ctx, id, func(_ context.Context, cur *Order) error {
		return cur.transition(to, ReasonAdmin, s.now())
	})
	if err != nil {
		return nil, err
	}

	logging.FromContext(ctx).Info("order status updated",
		zap.String("order_id", updated.ID.String()), zap.String("status", string(to)))
	if to == StatusCancelled {
		s.publish(ctx, events.OrderCancelled, updated, ReasonAdmin)
	} else {
		s.publish(ctx, events.OrderStatusChanged, updated, "")
	}
	return updated, nil
}

func (s *service) Dashboard(ctx context.Context) (*Dashboard, error) {
	return s.repo.Dashboard(ctx, dashboardRecent, dashboardTop)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// publish emits an event for a committed transition. Delivery failures
// are logged and never fail the request.
func (s *service) publish(ctx context.Context, typ string, o *Order, reason string) {
	if s.events == nil {
		return
	}
	err := s.events.Publish(ctx, events.Event{
		Type:     typ,
		OrderID:  o.ID.String(),
		OwnerID:  o.OwnerID.String(),
		Status:   string(o.Status),
		Reason:   reason,
		Amount:   o.TotalAmount.StringFixed(2),
		Currency: o.Currency,
	})
	if err != nil {
		logging.FromContext(ctx).Error("publish order event",
			zap.String("type", typ), zap.String("order_id", o.ID.String()), zap.Error(err))
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
