// Package discovery finds the vault the session trades against.
package discovery

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"clearClient/internal/poll"
)

// Factory is the read surface of the vault factory.
type Factory interface {
	VaultsLength(ctx context.Context) (*big.Int, error)
	VaultAt(ctx context.Context, index *big.Int) (common.Address, error)
}

// Resolve looks up the first vault once. It reports false, never an error,
// when the factory is unreachable or has no vaults.
func Resolve(ctx context.Context, f Factory, logger *zap.Logger) (common.Address, bool) {
	if logger == nil {
		logger = zap.NewNop()
	}
	n, err := f.VaultsLength(ctx)
	if err != nil {
		logger.Debug("vaults length unavailable", zap.Error(err))
		return common.Address{}, false
	}
	if n.Sign() <= 0 {
		return common.Address{}, false
	}
	addr, err := f.VaultAt(ctx, big.NewInt(0))
	if err != nil {
		logger.Debug("vault lookup failed", zap.Error(err))
		return common.Address{}, false
	}
	if addr == (common.Address{}) {
		return common.Address{}, false
	}
	return addr, true
}

// Resolver is the reactive form of Resolve. The first address it sees is
// pinned for the rest of the session. Methods are loop-confined.
type Resolver struct {
	factory common.Address
	reader  Factory
	retry   time.Duration
	length  *poll.Slot[*big.Int]
	first   *poll.Slot[common.Address]
	pinned  common.Address
}

// NewResolver wires the resolver to the loop. A non-zero pin skips discovery.
// Until a vault is found the factory is re-read every retry interval.
func NewResolver(loop *poll.Loop, reader Factory, factory, pin common.Address, retry time.Duration) *Resolver {
	return &Resolver{
		factory: factory,
		reader:  reader,
		retry:   retry,
		length:  poll.NewSlot[*big.Int](loop),
		first:   poll.NewSlot[common.Address](loop),
		pinned:  pin,
	}
}

// Start issues the length read unless the vault is already pinned.
func (r *Resolver) Start() {
	if r.pinned != (common.Address{}) {
		return
	}
	r.length.Bind(poll.Query[*big.Int]{
		Endpoint: "vaultsLength",
		Args:     []any{r.factory},
		Interval: r.retry,
		Fetch:    r.reader.VaultsLength,
	})
}

// Update advances discovery from the current snapshots. Call it from an OnChange listener.
func (r *Resolver) Update() {
	if r.pinned != (common.Address{}) {
		return
	}
	if n, ok := r.length.Snapshot().Get(); ok && n.Sign() > 0 {
		r.first.Bind(poll.Query[common.Address]{
			Endpoint: "vaults",
			Args:     []any{r.factory, "0"},
			Retry:    r.retry,
			Fetch: func(ctx context.Context) (common.Address, error) {
				return r.reader.VaultAt(ctx, big.NewInt(0))
			},
		})
	}
	if addr, ok := r.first.Snapshot().Get(); ok && addr != (common.Address{}) {
		r.pinned = addr
		r.length.Release()
		r.first.Release()
	}
}

// Address returns the vault, or false while discovery is unresolved.
func (r *Resolver) Address() (common.Address, bool) {
	if r.pinned == (common.Address{}) {
		return common.Address{}, false
	}
	return r.pinned, true
}

// Status summarizes discovery for display.
func (r *Resolver) Status() poll.Status {
	if r.pinned != (common.Address{}) {
		return poll.StatusReady
	}
	if s := r.first.Snapshot().Status; s != poll.StatusIdle {
		return s
	}
	snap := r.length.Snapshot()
	if n, ok := snap.Get(); ok && n.Sign() == 0 {
		return poll.StatusIdle
	}
	return snap.Status
}
