package strategy

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/linlinbupt123-crypto/vault_service/domain"
)

// Lending is a money-market venue: interest accrues separately from principal
// and is paid out to the vault on Harvest.
type Lending struct {
	venue
	accrued *big.Int
}

func NewLending(addr, asset, vault common.Address, treasury domain.Treasury, apy uint64) *Lending {
	l := &Lending{accrued: new(big.Int)}
	l.init(addr, asset, vault, treasury, apy)
	return l
}

// Accrue books interest the venue already holds in the treasury.
func (l *Lending) Accrue(amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.accrued.Add(l.accrued, amount)
}

func (l *Lending) Harvest(ctx context.Context) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.accrued.Sign() == 0 {
		return new(big.Int), nil
	}
	y := new(big.Int).Set(l.accrued)
	if err := l.treasury.Transfer(ctx, l.asset, l.addr, l.vault, y); err != nil {
		return nil, err
	}
	l.accrued.SetInt64(0)
	return y, nil
}
