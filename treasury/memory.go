// Package treasury keeps the custody ledger of token balances and allowances
// for the vault, its strategy adapters and the bridge.
package treasury

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"

	wrapErrors "github.com/linlinbupt123-crypto/vault_service/errors"
)

type holding struct {
	asset  common.Address
	holder common.Address
}

type allowance struct {
	asset   common.Address
	owner   common.Address
	spender common.Address
}

// Memory is an in-process ledger with ERC20 transfer/allowance semantics.
// An allowance of 2^256-1 is never decremented.
type Memory struct {
	mu         sync.Mutex
	balances   map[holding]*big.Int
	allowances map[allowance]*big.Int
}

func NewMemory() *Memory {
	return &Memory{
		balances:   make(map[holding]*big.Int),
		allowances: make(map[allowance]*big.Int),
	}
}

// Credit mints amount to holder, e.g. when bridged funds land.
func (m *Memory) Credit(asset, holder common.Address, amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.add(holding{asset, holder}, amount)
}

func (m *Memory) BalanceOf(_ context.Context, asset, holder common.Address) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.balances[holding{asset, holder}]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

func (m *Memory) Allowance(asset, owner, spender common.Address) *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.allowances[allowance{asset, owner, spender}]; ok {
		return new(big.Int).Set(a)
	}
	return new(big.Int)
}

func (m *Memory) Transfer(_ context.Context, asset, from, to common.Address, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.move(asset, from, to, amount)
}

func (m *Memory) Approve(_ context.Context, asset, owner, spender common.Address, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allowances[allowance{asset, owner, spender}] = new(big.Int).Set(amount)
	return nil
}

func (m *Memory) TransferFrom(_ context.Context, asset, spender, from, to common.Address, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := allowance{asset, from, spender}
	allowed, ok := m.allowances[key]
	if !ok || allowed.Cmp(amount) < 0 {
		return wrapErrors.ErrInsufficientAllow
	}
	if err := m.move(asset, from, to, amount); err != nil {
		return err
	}
	if allowed.Cmp(math.MaxBig256) != 0 {
		allowed.Sub(allowed, amount)
	}
	return nil
}

func (m *Memory) move(asset, from, to common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return wrapErrors.ErrInsufficientBalance
	}
	src := holding{asset, from}
	bal, ok := m.balances[src]
	if !ok || bal.Cmp(amount) < 0 {
		return wrapErrors.ErrInsufficientBalance
	}
	bal.Sub(bal, amount)
	m.add(holding{asset, to}, amount)
	return nil
}

func (m *Memory) add(h holding, amount *big.Int) {
	if b, ok := m.balances[h]; ok {
		b.Add(b, amount)
		return
	}
	m.balances[h] = new(big.Int).Set(amount)
}
