package strategy

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/linlinbupt123-crypto/vault_service/domain"
)

// AutoCompound is a staking-style venue whose yield is folded into the
// position value. Harvest always reports zero.
type AutoCompound struct {
	venue
}

func NewAutoCompound(addr, asset, vault common.Address, treasury domain.Treasury, apy uint64) *AutoCompound {
	a := &AutoCompound{}
	a.init(addr, asset, vault, treasury, apy)
	return a
}

// Compound grows the position by amount the venue already holds in the treasury.
func (a *AutoCompound) Compound(amount *big.Int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.position.Add(a.position, amount)
}

func (a *AutoCompound) Harvest(context.Context) (*big.Int, error) {
	return new(big.Int), nil
}
