// Package strategy holds synchronous venue adapters that settle within the
// call. Each one holds its position as tokens in the shared treasury.
package strategy

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/linlinbupt123-crypto/vault_service/domain"
	wrapErrors "github.com/linlinbupt123-crypto/vault_service/errors"
	"github.com/linlinbupt123-crypto/vault_service/utils"
)

// venue is the bookkeeping shared by the synchronous adapters.
type venue struct {
	mu       sync.Mutex
	addr     common.Address
	asset    common.Address
	vault    common.Address
	treasury domain.Treasury
	apy      uint64
	position *big.Int
	active   bool
}

func (v *venue) init(addr, asset, vault common.Address, treasury domain.Treasury, apy uint64) {
	v.addr = addr
	v.asset = asset
	v.vault = vault
	v.treasury = treasury
	v.apy = apy
	v.position = new(big.Int)
	v.active = true
}

func (v *venue) Address() common.Address { return v.addr }

func (v *venue) Asset() common.Address { return v.asset }

func (v *venue) SetActive(active bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.active = active
}

func (v *venue) CurrentAPY(context.Context) (uint64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.apy, nil
}

func (v *venue) TotalAssets(context.Context) (*big.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return new(big.Int).Set(v.position), nil
}

// Deposit pulls amount from the vault. Shares are minted 1:1.
func (v *venue) Deposit(ctx context.Context, amount *big.Int) (*big.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !utils.IsPositive(amount) {
		return nil, wrapErrors.ErrZeroAmount
	}
	if !v.active {
		return nil, wrapErrors.ErrNotActive
	}
	if err := v.treasury.TransferFrom(ctx, v.asset, v.addr, v.vault, v.addr, amount); err != nil {
		return nil, err
	}
	v.position.Add(v.position, amount)
	return new(big.Int).Set(amount), nil
}

func (v *venue) Withdraw(ctx context.Context, shares *big.Int) (*big.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !utils.IsPositive(shares) {
		return nil, wrapErrors.ErrZeroAmount
	}
	if shares.Cmp(v.position) > 0 {
		return nil, wrapErrors.ErrInsufficientBalance
	}
	v.position.Sub(v.position, shares)
	if err := v.treasury.Transfer(ctx, v.asset, v.addr, v.vault, shares); err != nil {
		v.position.Add(v.position, shares)
		return nil, err
	}
	return new(big.Int).Set(shares), nil
}

var (
	_ domain.StrategyAdapter = (*Lending)(nil)
	_ domain.StrategyAdapter = (*AutoCompound)(nil)
)
