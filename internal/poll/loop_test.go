package poll

import (
	"context"
	"errors"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startLoop(t *testing.T) *Loop {
	t.Helper()
	loop := NewLoop(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-loop.Done()
	})
	return loop
}

func on(t *testing.T, loop *Loop, fn func()) {
	t.Helper()
	require.NoError(t, loop.Do(context.Background(), fn))
}

func eventually(t *testing.T, loop *Loop, cond func() bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		var ok bool
		if err := loop.Do(context.Background(), func() { ok = cond() }); err != nil {
			return false
		}
		return ok
	}, 2*time.Second, 5*time.Millisecond)
}

func constQuery(endpoint string, arg any, value int, calls *atomic.Int32) Query[int] {
	return Query[int]{
		Endpoint: endpoint,
		Args:     []any{arg},
		Fetch: func(context.Context) (int, error) {
			if calls != nil {
				calls.Add(1)
			}
			return value, nil
		},
	}
}

func TestQueryEnabled(t *testing.T) {
	var nilAddr *common.Address
	zero := common.Address{}
	addr := common.HexToAddress("0x01")
	fetch := func(context.Context) (int, error) { return 0, nil }

	assert.False(t, Query[int]{Endpoint: "x", Args: []any{nilAddr}, Fetch: fetch}.Enabled())
	assert.False(t, Query[int]{Endpoint: "x", Args: []any{zero}, Fetch: fetch}.Enabled())
	assert.False(t, Query[int]{Endpoint: "x", Args: []any{(*big.Int)(nil)}, Fetch: fetch}.Enabled())
	assert.False(t, Query[int]{Endpoint: "x", Args: []any{addr}, Fetch: fetch, Disabled: true}.Enabled())
	assert.True(t, Query[int]{Endpoint: "x", Args: []any{addr, big.NewInt(0)}, Fetch: fetch}.Enabled())
	assert.True(t, Query[int]{Endpoint: "x", Fetch: fetch}.Enabled())
}

func TestQueryKeyIncludesArgs(t *testing.T) {
	a := Query[int]{Endpoint: "price", Args: []any{common.HexToAddress("0x01")}}
	b := Query[int]{Endpoint: "price", Args: []any{common.HexToAddress("0x02")}}
	assert.NotEqual(t, a.Key(), b.Key())
	assert.Contains(t, a.Key(), "price(")
}

func TestDisabledQueryStaysIdleWithoutReads(t *testing.T) {
	loop := startLoop(t)
	var calls atomic.Int32
	slot := NewSlot[int](loop)

	on(t, loop, func() { slot.Bind(constQuery("details", (*common.Address)(nil), 1, &calls)) })
	on(t, loop, func() { assert.Equal(t, StatusIdle, slot.Snapshot().Status) })
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, calls.Load())
}

func TestBindFetchesAndNotifies(t *testing.T) {
	loop := startLoop(t)
	var notified atomic.Int32
	on(t, loop, func() { loop.OnChange(func() { notified.Add(1) }) })

	slot := NewSlot[int](loop)
	on(t, loop, func() {
		slot.Bind(constQuery("vaultsLength", "factory", 3, nil))
		assert.Equal(t, StatusLoading, slot.Snapshot().Status)
	})

	eventually(t, loop, func() bool { return slot.Snapshot().Ready() })
	on(t, loop, func() {
		v, ok := slot.Snapshot().Get()
		assert.True(t, ok)
		assert.Equal(t, 3, v)
	})
	assert.Positive(t, notified.Load())
}

func TestStaleResultDiscardedAfterRebind(t *testing.T) {
	loop := startLoop(t)
	release := make(chan struct{})
	slow := Query[int]{
		Endpoint: "previewSwap",
		Args:     []any{"USDC->GHO"},
		Fetch: func(ctx context.Context) (int, error) {
			<-release
			return 111, nil
		},
	}
	slot := NewSlot[int](loop)
	on(t, loop, func() { slot.Bind(slow) })
	on(t, loop, func() { slot.Bind(constQuery("previewSwap", "USDC->USDT", 222, nil)) })

	eventually(t, loop, func() bool { return slot.Snapshot().Ready() })
	close(release)
	time.Sleep(20 * time.Millisecond)

	on(t, loop, func() {
		snap := slot.Snapshot()
		assert.Equal(t, 222, snap.Value)
		assert.Equal(t, 1, loop.ActiveLines())
	})
}

func TestErroredKeepsLastGoodValue(t *testing.T) {
	loop := startLoop(t)
	var fail atomic.Bool
	q := Query[int]{
		Endpoint: "details",
		Args:     []any{"vault"},
		Fetch: func(context.Context) (int, error) {
			if fail.Load() {
				return 0, errors.New("rpc down")
			}
			return 7, nil
		},
	}
	slot := NewSlot[int](loop)
	on(t, loop, func() { slot.Bind(q) })
	eventually(t, loop, func() bool { return slot.Snapshot().Ready() })

	fail.Store(true)
	on(t, loop, func() { slot.Refetch() })
	eventually(t, loop, func() bool { return slot.Snapshot().Status == StatusErrored })

	on(t, loop, func() {
		snap := slot.Snapshot()
		assert.True(t, snap.HasValue)
		assert.Equal(t, 7, snap.Value)
		assert.EqualError(t, snap.Err, "rpc down")
		_, ok := snap.Get()
		assert.False(t, ok)
	})
}

func TestLinesAreIndependent(t *testing.T) {
	loop := startLoop(t)
	bad := Query[int]{
		Endpoint: "getPriceAndRedemptionPrice",
		Args:     []any{"USDC"},
		Fetch:    func(context.Context) (int, error) { return 0, errors.New("reverted") },
	}
	priceA := NewSlot[int](loop)
	priceB := NewSlot[int](loop)
	on(t, loop, func() {
		priceA.Bind(bad)
		priceB.Bind(constQuery("getPriceAndRedemptionPrice", "GHO", 100_000_000, nil))
	})

	eventually(t, loop, func() bool {
		return priceA.Snapshot().Status == StatusErrored && priceB.Snapshot().Ready()
	})
}

func TestSharedKeyIssuesOneRead(t *testing.T) {
	loop := startLoop(t)
	var calls atomic.Int32
	a, b := NewSlot[int](loop), NewSlot[int](loop)
	on(t, loop, func() {
		a.Bind(constQuery("getDepegTresholdBps", "swap", 9900, &calls))
		b.Bind(constQuery("getDepegTresholdBps", "swap", 9900, &calls))
	})
	eventually(t, loop, func() bool { return a.Snapshot().Ready() && b.Snapshot().Ready() })
	assert.Equal(t, int32(1), calls.Load())

	on(t, loop, func() {
		a.Release()
		assert.Equal(t, 1, loop.ActiveLines())
		b.Release()
		assert.Equal(t, 0, loop.ActiveLines())
		assert.Equal(t, StatusIdle, b.Snapshot().Status)
	})
}

func TestIntervalRefreshes(t *testing.T) {
	loop := startLoop(t)
	var calls atomic.Int32
	q := constQuery("balanceOf", "user", 5, &calls)
	q.Interval = 10 * time.Millisecond
	slot := NewSlot[int](loop)
	on(t, loop, func() { slot.Bind(q) })

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
}

func TestZeroIntervalOnlyRefetchesOnDemand(t *testing.T) {
	loop := startLoop(t)
	var calls atomic.Int32
	slot := NewSlot[int](loop)
	on(t, loop, func() { slot.Bind(constQuery("allowance", "user", 5, &calls)) })
	eventually(t, loop, func() bool { return slot.Snapshot().Ready() })
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	on(t, loop, func() { slot.Refetch() })
	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestOnDemandLineRetriesAfterError(t *testing.T) {
	loop := startLoop(t)
	var calls atomic.Int32
	slot := NewSlot[int](loop)
	q := Query[int]{
		Endpoint: "getDepegTresholdBps",
		Args:     []any{"swap"},
		Retry:    10 * time.Millisecond,
		Fetch: func(context.Context) (int, error) {
			if calls.Add(1) == 1 {
				return 0, errors.New("header not found")
			}
			return 9900, nil
		},
	}
	on(t, loop, func() { slot.Bind(q) })

	eventually(t, loop, func() bool { return slot.Snapshot().Ready() })
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(2), calls.Load())
	on(t, loop, func() {
		v, ok := slot.Snapshot().Get()
		require.True(t, ok)
		assert.Equal(t, 9900, v)
	})
}

func TestOnDemandLineWithoutRetryStaysErrored(t *testing.T) {
	loop := startLoop(t)
	var calls atomic.Int32
	slot := NewSlot[int](loop)
	on(t, loop, func() {
		slot.Bind(Query[int]{
			Endpoint: "allowance",
			Args:     []any{"user"},
			Fetch: func(context.Context) (int, error) {
				calls.Add(1)
				return 0, errors.New("rpc down")
			},
		})
	})
	eventually(t, loop, func() bool { return slot.Snapshot().Status == StatusErrored })
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDoAfterStop(t *testing.T) {
	loop := NewLoop(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)
	cancel()
	<-loop.Done()
	assert.ErrorIs(t, loop.Do(context.Background(), func() {}), ErrStopped)
}
