package order

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type memoryEntry struct {
	mu    sync.Mutex
	order *Order
}

// MemoryRepository keeps orders in process for the service tests. Updates
// to one order are serialised by a per-order lock; reads return copies.
type MemoryRepository struct {
	mu       sync.RWMutex
	orders   map[uuid.UUID]*memoryEntry
	byKey    map[string]uuid.UUID
	byTarget map[string]uuid.UUID
	numbers  map[string]bool
	brands   map[uuid.UUID]string
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		orders:   map[uuid.UUID]*memoryEntry{},
		byKey:    map[string]uuid.UUID{},
		byTarget: map[string]uuid.UUID{},
		numbers:  map[string]bool{},
		brands:   map[uuid.UUID]string{},
	}
}

func idempotencyIndex(ownerID uuid.UUID, key string) string { return ownerID.String() + "/" + key }

func (r *MemoryRepository) CreateOrder(_ context.Context, o *Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.numbers[o.OrderNumber] {
		return errOrderNumberTaken
	}
	if o.IdempotencyKey != "" {
		k := idempotencyIndex(o.OwnerID, o.IdempotencyKey)
		if _, ok := r.byKey[k]; ok {
			return ErrDuplicateOrder
		}
		r.byKey[k] = o.ID
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	o.UpdatedAt, o.Version = o.CreatedAt, 1
	if id := o.PaymentResult.ProviderOrderID; id != "" {
		r.byTarget[id] = o.ID
	}
	r.numbers[o.OrderNumber] = true
	r.orders[o.ID] = &memoryEntry{order: cloneOrder(o)}
	return nil
}

func (r *MemoryRepository) entry(id uuid.UUID) (*memoryEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.orders[id]
	return e, ok
}

func (r *MemoryRepository) GetOrderByID(_ context.Context, id uuid.UUID) (*Order, error) {
	e, ok := r.entry(id)
	if !ok {
		return nil, ErrOrderNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneOrder(e.order), nil
}

func (r *MemoryRepository) GetOrderByIdempotencyKey(ctx context.Context, ownerID uuid.UUID, key string) (*Order, error) {
	r.mu.RLock()
	id, ok := r.byKey[idempotencyIndex(ownerID, key)]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrOrderNotFound
	}
	return r.GetOrderByID(ctx, id)
}

func (r *MemoryRepository) GetOrderByProviderOrderID(ctx context.Context, providerOrderID string) (*Order, error) {
	r.mu.RLock()
	id, ok := r.byTarget[providerOrderID]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrOrderNotFound
	}
	return r.GetOrderByID(ctx, id)
}

func (r *MemoryRepository) snapshot() []*Order {
	r.mu.RLock()
	entries := make([]*memoryEntry, 0, len(r.orders))
	for _, e := range r.orders {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]*Order, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		o := cloneOrder(e.order)
		e.mu.Unlock()
		o.History = nil
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (r *MemoryRepository) ListOrdersByOwner(_ context.Context, ownerID uuid.UUID) ([]*Order, error) {
	out := []*Order{}
	for _, o := range r.snapshot() {
		if o.OwnerID == ownerID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (r *MemoryRepository) ListOrders(_ context.Context, f ListFilter) ([]*Order, error) {
	search := strings.ToLower(strings.TrimSpace(f.Search))
	out := []*Order{}
	for _, o := range r.snapshot() {
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		if f.From != nil && o.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && o.CreatedAt.After(*f.To) {
			continue
		}
		if search != "" && !matches(o, search) {
			continue
		}
		out = append(out, o)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func matches(o *Order, search string) bool {
	fields := []string{o.ID.String(), o.OrderNumber}
	if o.Customer != nil {
		fields = append(fields, o.Customer.Name, o.Customer.Email)
	}
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), search) {
			return true
		}
	}
	return false
}

func (r *MemoryRepository) UpdateOrder(ctx context.Context, id uuid.UUID, fn func(ctx context.Context, o *Order) error) (*Order, error) {
	e, ok := r.entry(id)
	if !ok {
		return nil, ErrOrderNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	o := cloneOrder(e.order)
	if err := fn(ctx, o); err != nil {
		if errors.Is(err, errUnchanged) {
			return cloneOrder(e.order), nil
		}
		return nil, err
	}
	o.Version++
	o.UpdatedAt = time.Now().UTC()
	e.order = cloneOrder(o)

	if target := o.PaymentResult.ProviderOrderID; target != "" {
		r.mu.Lock()
		r.byTarget[target] = o.ID
		r.mu.Unlock()
	}
	return o, nil
}

func (r *MemoryRepository) ListStalePending(_ context.Context, before time.Time, limit int) ([]uuid.UUID, error) {
	all := r.snapshot()
	var ids []uuid.UUID
	for i := len(all) - 1; i >= 0 && len(ids) < limit; i-- {
		if o := all[i]; o.Status == StatusPendingPayment && o.CreatedAt.Before(before) {
			ids = append(ids, o.ID)
		}
	}
	return ids, nil
}

// SetBrand records a product brand for the dashboard's top products.
func (r *MemoryRepository) SetBrand(productID uuid.UUID, brand string) {
	r.mu.Lock()
	r.brands[productID] = brand
	r.mu.Unlock()
}

func (r *MemoryRepository) Dashboard(_ context.Context, recent, top int) (*Dashboard, error) {
	all := r.snapshot()
	d := &Dashboard{RecentOrders: []*Order{}, TopProducts: []TopProduct{}}
	owners := map[uuid.UUID]bool{}
	products := map[uuid.UUID]*TopProduct{}

	for _, o := range all {
		owners[o.OwnerID] = true
		d.TotalOrders++
		switch o.Status {
		case StatusPendingPayment:
			d.PendingOrders++
		case StatusProcessing:
			d.ProcessingOrders++
		}
		if o.FailureReason == ReasonStockExhausted {
			d.ReconciliationOrders++
		}
		if len(d.RecentOrders) < recent {
			d.RecentOrders = append(d.RecentOrders, o)
		}
		if o.PaymentResult.Status != PaymentCompleted || o.Status == StatusCancelled || o.Status == StatusPaymentFailed {
			continue
		}
		d.TotalRevenue = d.TotalRevenue.Add(o.TotalAmount)
		for _, it := range o.Items {
			tp, ok := products[it.ProductID]
			if !ok {
				tp = &TopProduct{ProductID: it.ProductID, Name: it.Name, Revenue: decimal.Zero}
				products[it.ProductID] = tp
			}
			tp.UnitsSold += it.Quantity
			tp.Revenue = tp.Revenue.Add(it.LineTotal)
		}
	}
	d.TotalUsers = len(owners)

	r.mu.RLock()
	for _, tp := range products {
		tp.Brand = r.brands[tp.ProductID]
		d.TopProducts = append(d.TopProducts, *tp)
	}
	r.mu.RUnlock()
	sort.Slice(d.TopProducts, func(i, j int) bool {
		if d.TopProducts[i].UnitsSold != d.TopProducts[j].UnitsSold {
			return d.TopProducts[i].UnitsSold > d.TopProducts[j].UnitsSold
		}
		return d.TopProducts[i].Name < d.TopProducts[j].Name
	})
	if len(d.TopProducts) > top {
		d.TopProducts = d.TopProducts[:top]
	}
	return d, nil
}

func cloneOrder(o *Order) *Order {
	c := *o
	c.Items = append([]Item(nil), o.Items...)
	c.History = append([]StatusChange(nil), o.History...)
	if o.Customer != nil {
		cust := *o.Customer
		c.Customer = &cust
	}
	return &c
}
