package domain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// StrategyAdapter is the capability every yield venue integration implements.
//
// Share units seen by the vault are the asset units reported by TotalAssets;
// adapters with their own receipt token convert internally. Asynchronous
// adapters return immediately with an optimistic result and settle later.
type StrategyAdapter interface {
	// Address is the principal the adapter pulls funds as.
	Address() common.Address
	Asset() common.Address
	Deposit(ctx context.Context, amount *big.Int) (shares *big.Int, err error)
	Withdraw(ctx context.Context, shares *big.Int) (amount *big.Int, err error)
	// Harvest may return zero for venues that compound into TotalAssets.
	Harvest(ctx context.Context) (*big.Int, error)
	TotalAssets(ctx context.Context) (*big.Int, error)
	CurrentAPY(ctx context.Context) (uint64, error)
}

// Settling is implemented by adapters whose withdrawals return funds only on
// a later confirmation. InFlight is the amount requested back and not yet
// released to the vault.
type Settling interface {
	InFlight() *big.Int
}

// StrategyAllocation binds an adapter to an asset with a target weight.
type StrategyAllocation struct {
	Adapter         StrategyAdapter
	TargetWeight    uint64 // bps
	DepositedAmount *big.Int
	IsActive        bool
}

func (a *StrategyAllocation) clone() StrategyAllocation {
	out := *a
	out.DepositedAmount = new(big.Int).Set(a.DepositedAmount)
	return out
}
