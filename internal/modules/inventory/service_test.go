package inventory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seeded(t *testing.T, productID uuid.UUID, stock map[Size]int) (Service, *MemoryRepository) {
	t.Helper()
	repo := NewMemoryRepository()
	for size, n := range stock {
		require.NoError(t, repo.SetStock(context.Background(), productID, size, n))
	}
	return NewService(repo, nil), repo
}

func TestCheckAvailability(t *testing.T) {
	productID := uuid.New()
	svc, _ := seeded(t, productID, map[Size]int{9: 3})
	ctx := context.Background()

	ok, err := svc.CheckAvailability(ctx, productID, 9, 3)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.CheckAvailability(ctx, productID, 9, 4)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = svc.CheckAvailability(ctx, productID, 10, 1)
	require.NoError(t, err)
	assert.False(t, ok, "unknown size is unavailable")

	_, err = svc.CheckAvailability(ctx, productID, 9, 0)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestReserveAndDecrementAllOrNothing(t *testing.T) {
	productID := uuid.New()
	svc, repo := seeded(t, productID, map[Size]int{9: 5, 10: 1})
	ctx := context.Background()

	err := svc.ReserveAndDecrement(ctx, "k1",
		Line{ProductID: productID, Size: 9, Quantity: 2},
		Line{ProductID: productID, Size: 10, Quantity: 2},
	)
	var insufficient *InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, Size(10), insufficient.Size)
	assert.Equal(t, 1, insufficient.Available)

	stock, _ := repo.GetStock(ctx, productID, 9)
	assert.Equal(t, 5, stock, "first line must not be applied")

	// a failed key can be used again
	require.NoError(t, svc.ReserveAndDecrement(ctx, "k1", Line{ProductID: productID, Size: 9, Quantity: 2}))
	stock, _ = repo.GetStock(ctx, productID, 9)
	assert.Equal(t, 3, stock)
}

func TestReserveAndDecrementIdempotent(t *testing.T) {
	productID := uuid.New()
	svc, repo := seeded(t, productID, map[Size]int{9: 5})
	ctx := context.Background()
	line := Line{ProductID: productID, Size: 9, Quantity: 2}

	require.NoError(t, svc.ReserveAndDecrement(ctx, "order:pay", line))
	assert.ErrorIs(t, svc.ReserveAndDecrement(ctx, "order:pay", line), ErrAlreadyApplied)

	stock, _ := repo.GetStock(ctx, productID, 9)
	assert.Equal(t, 3, stock)
}

func TestReserveAndDecrementNotFound(t *testing.T) {
	svc, _ := seeded(t, uuid.New(), nil)
	err := svc.ReserveAndDecrement(context.Background(), "", Line{ProductID: uuid.New(), Size: 9, Quantity: 1})
	assert.ErrorIs(t, err, ErrStockNotFound)
}

func TestConcurrentDecrementsNeverOversell(t *testing.T) {
	productID := uuid.New()
	other := uuid.New()
	svc, repo := seeded(t, productID, map[Size]int{9: 10})
	require.NoError(t, repo.SetStock(context.Background(), other, 9, 10))

	var wg sync.WaitGroup
	var succeeded atomic.Int64
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// alternate line order so batches would deadlock without sorting
			lines := []Line{{ProductID: productID, Size: 9, Quantity: 1}, {ProductID: other, Size: 9, Quantity: 1}}
			if i%2 == 1 {
				lines[0], lines[1] = lines[1], lines[0]
			}
			err := svc.ReserveAndDecrement(context.Background(), fmt.Sprintf("k%d", i), lines...)
			if err == nil {
				succeeded.Add(1)
				return
			}
			if !errors.Is(err, ErrInsufficientStock) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(10), succeeded.Load())
	for _, id := range []uuid.UUID{productID, other} {
		stock, err := repo.GetStock(context.Background(), id, 9)
		require.NoError(t, err)
		assert.Equal(t, 0, stock)
	}
}

func TestRestockAndSetStockValidation(t *testing.T) {
	productID := uuid.New()
	svc, _ := seeded(t, productID, map[Size]int{9: 1})
	ctx := context.Background()

	stock, err := svc.Restock(ctx, productID, 9, 4)
	require.NoError(t, err)
	assert.Equal(t, 5, stock)

	_, err = svc.Restock(ctx, productID, 11, 1)
	assert.ErrorIs(t, err, ErrStockNotFound)

	assert.ErrorIs(t, svc.SetStock(ctx, productID, 9, -1), ErrInvalidQuantity)
	assert.ErrorIs(t, svc.SetStock(ctx, productID, 15, 1), ErrInvalidSize)
}
