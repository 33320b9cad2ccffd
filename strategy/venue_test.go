package strategy

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	wrapErrors "github.com/linlinbupt123-crypto/vault_service/errors"
	"github.com/linlinbupt123-crypto/vault_service/treasury"
)

var (
	asset = common.HexToAddress("0xa0")
	vault = common.HexToAddress("0x10")
	venA  = common.HexToAddress("0x20")
)

func fundedTreasury(t *testing.T, amount int64) *treasury.Memory {
	t.Helper()
	tr := treasury.NewMemory()
	tr.Credit(asset, vault, big.NewInt(amount))
	require.NoError(t, tr.Approve(context.Background(), asset, vault, venA, math.MaxBig256))
	return tr
}

func TestLendingDepositWithdraw(t *testing.T) {
	ctx := context.Background()
	tr := fundedTreasury(t, 1000)
	l := NewLending(venA, asset, vault, tr, 500)

	shares, err := l.Deposit(ctx, big.NewInt(600))
	require.NoError(t, err)
	assert.Equal(t, "600", shares.String())

	total, err := l.TotalAssets(ctx)
	require.NoError(t, err)
	assert.Equal(t, "600", total.String())

	_, err = l.Withdraw(ctx, big.NewInt(601))
	assert.ErrorIs(t, err, wrapErrors.ErrInsufficientBalance)

	out, err := l.Withdraw(ctx, big.NewInt(200))
	require.NoError(t, err)
	assert.Equal(t, "200", out.String())

	bal, err := tr.BalanceOf(ctx, asset, vault)
	require.NoError(t, err)
	assert.Equal(t, "600", bal.String())
}

func TestLendingRejectsZeroAndInactive(t *testing.T) {
	ctx := context.Background()
	l := NewLending(venA, asset, vault, fundedTreasury(t, 10), 0)

	_, err := l.Deposit(ctx, big.NewInt(0))
	assert.ErrorIs(t, err, wrapErrors.ErrZeroAmount)

	l.SetActive(false)
	_, err = l.Deposit(ctx, big.NewInt(1))
	assert.ErrorIs(t, err, wrapErrors.ErrNotActive)
}

func TestLendingHarvestPaysVault(t *testing.T) {
	ctx := context.Background()
	tr := fundedTreasury(t, 100)
	l := NewLending(venA, asset, vault, tr, 0)
	_, err := l.Deposit(ctx, big.NewInt(100))
	require.NoError(t, err)

	tr.Credit(asset, venA, big.NewInt(7))
	l.Accrue(big.NewInt(7))

	y, err := l.Harvest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "7", y.String())

	y, err = l.Harvest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "0", y.String())

	bal, err := tr.BalanceOf(ctx, asset, vault)
	require.NoError(t, err)
	assert.Equal(t, "7", bal.String())
}

func TestAutoCompoundHarvestIsZero(t *testing.T) {
	ctx := context.Background()
	tr := fundedTreasury(t, 100)
	a := NewAutoCompound(venA, asset, vault, tr, 350)
	_, err := a.Deposit(ctx, big.NewInt(100))
	require.NoError(t, err)

	tr.Credit(asset, venA, big.NewInt(5))
	a.Compound(big.NewInt(5))

	y, err := a.Harvest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "0", y.String())

	total, err := a.TotalAssets(ctx)
	require.NoError(t, err)
	assert.Equal(t, "105", total.String())

	apy, err := a.CurrentAPY(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(350), apy)
}
