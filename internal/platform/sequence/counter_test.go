package sequence

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryNextIsSequential(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	for want := int64(1); want <= 5; want++ {
		got, err := m.Next(ctx, "voucher")
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	got, err := m.Next(ctx, "order")
	require.NoError(t, err)
	require.Equal(t, int64(1), got, "counters are independent per name")
}

func TestMemoryNextConcurrent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	const workers = 50
	var wg sync.WaitGroup
	seen := sync.Map{}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := m.Next(ctx, "voucher")
			require.NoError(t, err)
			_, dup := seen.LoadOrStore(n, true)
			require.False(t, dup, "concurrent Next must never collide")
		}()
	}
	wg.Wait()

	n, err := m.Next(ctx, "voucher")
	require.NoError(t, err)
	require.Equal(t, int64(workers+1), n)
}

func TestMemoryCompensate(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, err := m.Next(ctx, "voucher")
	require.NoError(t, err)
	m.Compensate(ctx, "voucher")

	n, err := m.Next(ctx, "voucher")
	require.NoError(t, err)
	require.Equal(t, int64(1), n, "compensated number is reissued")

	// compensating below zero is a no-op
	m.Compensate(ctx, "empty")
	n, err = m.Next(ctx, "empty")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}
