package order

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type countingExpirer struct {
	calls atomic.Int32
	ttl   atomic.Int64
	err   error
}

func (e *countingExpirer) ExpireStale(_ context.Context, olderThan time.Duration) (int, error) {
	e.calls.Add(1)
	e.ttl.Store(int64(olderThan))
	return 1, e.err
}

func TestSweeperRunsUntilCancelled(t *testing.T) {
	expirer := &countingExpirer{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		NewSweeper(expirer, 30*time.Minute, 5*time.Millisecond, zap.NewNop()).Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return expirer.calls.Load() >= 2 }, time.Second, time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
	assert.Equal(t, int64(30*time.Minute), expirer.ttl.Load())
}

func TestSweeperKeepsRunningAfterError(t *testing.T) {
	expirer := &countingExpirer{err: errors.New("db down")}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go NewSweeper(expirer, time.Minute, 5*time.Millisecond, zap.NewNop()).Run(ctx)

	assert.Eventually(t, func() bool { return expirer.calls.Load() >= 3 }, time.Second, time.Millisecond)
}
