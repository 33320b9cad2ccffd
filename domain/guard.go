package domain

import (
	"math/big"
	"sync"
	"sync/atomic"

	wrapErrors "github.com/linlinbupt123-crypto/vault_service/errors"
)

// guard rejects re-entry while a mutating call is in flight. It does not
// queue concurrent callers; serialization is the caller's job.
type guard struct {
	entered atomic.Bool
}

func (g *guard) enter() error {
	if !g.entered.CompareAndSwap(false, true) {
		return wrapErrors.ErrReentrantCall
	}
	return nil
}

func (g *guard) exit() { g.entered.Store(false) }

// FeeBudget tracks native funds set aside for outbound delivery fees.
type FeeBudget struct {
	mu        sync.Mutex
	available *big.Int
}

func (b *FeeBudget) Fund(amount *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.available == nil {
		b.available = new(big.Int)
	}
	b.available.Add(b.available, amount)
}

func (b *FeeBudget) Available() *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.available == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(b.available)
}

// Covers reports whether fee fits in the budget without spending it.
func (b *FeeBudget) Covers(fee *big.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.available == nil || b.available.Cmp(fee) < 0 {
		return wrapErrors.ErrInsufficientFee
	}
	return nil
}

func (b *FeeBudget) Spend(fee *big.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.available == nil || b.available.Cmp(fee) < 0 {
		return wrapErrors.ErrInsufficientFee
	}
	b.available.Sub(b.available, fee)
	return nil
}

// Refund returns a fee that was spent for a send that failed.
func (b *FeeBudget) Refund(fee *big.Int) { b.Fund(fee) }
