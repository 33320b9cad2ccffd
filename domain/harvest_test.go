package domain_test

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/linlinbupt123-crypto/vault_service/codec"
	"github.com/linlinbupt123-crypto/vault_service/domain"
	"github.com/linlinbupt123-crypto/vault_service/entity"
	wrapErrors "github.com/linlinbupt123-crypto/vault_service/errors"
	"github.com/linlinbupt123-crypto/vault_service/oracle"
	"github.com/linlinbupt123-crypto/vault_service/settlement"
)

func (h *harness) accrue(amount int64) {
	h.treasury.Credit(usdc, lendAddr, big.NewInt(amount))
	h.lending.Accrue(big.NewInt(amount))
}

func TestHarvestIsThrottled(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t).withStrategies(t)
	h.deposit(t, 1000)
	h.accrue(5)

	y, err := h.vault.HarvestYield(ctx, keeper, usdc)
	require.NoError(t, err)
	assert.Equal(t, "5", y.String())
	assert.Equal(t, int64(105), h.balance(t, self))

	a, _ := h.vault.Asset(usdc)
	assert.Equal(t, "5", a.AccumulatedYield.String())
	assert.Equal(t, h.now, a.LastHarvestTime)

	h.accrue(2)
	h.now = h.now.Add(domain.DefaultHarvestInterval - time.Second)
	_, err = h.vault.HarvestYield(ctx, keeper, usdc)
	assert.ErrorIs(t, err, wrapErrors.ErrHarvestTooSoon)

	h.now = h.now.Add(time.Second)
	y, err = h.vault.HarvestYield(ctx, keeper, usdc)
	require.NoError(t, err)
	assert.Equal(t, "2", y.String())
	a, _ = h.vault.Asset(usdc)
	assert.Equal(t, "7", a.AccumulatedYield.String())
}

func TestAutoCompoundYieldShowsInTotalAssets(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t).withStrategies(t)
	h.deposit(t, 1000)

	h.treasury.Credit(usdc, stakeAddr, big.NewInt(30))
	h.staking.Compound(big.NewInt(30))

	y, err := h.vault.HarvestYield(ctx, keeper, usdc)
	require.NoError(t, err)
	assert.Equal(t, "0", y.String())
	total, err := h.vault.TotalAssets(ctx, usdc)
	require.NoError(t, err)
	assert.Equal(t, "1030", total.String())
}

func TestDistributeSendsReportOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t).withStrategies(t)
	h.deposit(t, 1000)
	h.accrue(5)
	_, err := h.vault.HarvestYield(ctx, keeper, usdc)
	require.NoError(t, err)

	_, err = h.vault.DistributeYield(ctx, keeper, usdc)
	assert.ErrorIs(t, err, wrapErrors.ErrInsufficientFee)
	a, _ := h.vault.Asset(usdc)
	assert.Equal(t, "5", a.AccumulatedYield.String())

	require.NoError(t, h.vault.FundFees(owner, big.NewInt(10)))
	d, err := h.vault.DistributeYield(ctx, keeper, usdc)
	require.NoError(t, err)
	assert.Equal(t, "5", d.Yield.String())
	assert.Equal(t, "1005", d.TotalAssets.String())
	assert.Equal(t, uint64(77), d.BlockHeight)
	assert.Equal(t, "3", d.Fee.String())
	assert.Equal(t, "7", h.vault.FeesAvailable().String())

	wantID, err := codec.ReportID(usdc, big.NewInt(5), h.now, 77)
	require.NoError(t, err)
	assert.Equal(t, wantID, d.ReportID)

	sent := h.relay.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, uint32(1), sent[0].Domain)
	assert.Equal(t, d.Sequence, sent[0].Sequence)
	rep, err := codec.DecodeReport(sent[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, wantID, rep.ReportID)
	assert.Equal(t, usdc, rep.Asset)
	assert.Equal(t, "5", rep.Yield.String())
	assert.Equal(t, "1005", rep.TotalAssets.String())

	a, _ = h.vault.Asset(usdc)
	assert.Equal(t, "0", a.AccumulatedYield.String())
	_, err = h.vault.DistributeYield(ctx, keeper, usdc)
	assert.ErrorIs(t, err, wrapErrors.ErrNoYield)
	assert.Len(t, h.relay.Sent(), 1)
}

func TestDistributeRestoresYieldWhenSendFails(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t).withStrategies(t)
	h.deposit(t, 1000)
	h.accrue(5)
	_, err := h.vault.HarvestYield(ctx, keeper, usdc)
	require.NoError(t, err)
	require.NoError(t, h.vault.FundFees(owner, big.NewInt(10)))
	h.relay.SendErr = errors.New("relayer offline")

	_, err = h.vault.DistributeYield(ctx, owner, usdc)
	assert.Equal(t, wrapErrors.SendTxErr, wrapErrors.CodeOf(err))
	a, _ := h.vault.Asset(usdc)
	assert.Equal(t, "5", a.AccumulatedYield.String())
	assert.Equal(t, "10", h.vault.FeesAvailable().String())
}

func TestDistributeKeepsYieldWhenQuoteFails(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t).withStrategies(t)
	h.deposit(t, 1000)
	h.accrue(5)
	_, err := h.vault.HarvestYield(ctx, keeper, usdc)
	require.NoError(t, err)
	require.NoError(t, h.vault.FundFees(owner, big.NewInt(10)))
	h.relay.QuoteErr = errors.New("gas oracle down")

	_, err = h.vault.DistributeYield(ctx, keeper, usdc)
	assert.Equal(t, wrapErrors.CodeGasEstimate, wrapErrors.CodeOf(err))
	a, _ := h.vault.Asset(usdc)
	assert.Equal(t, "5", a.AccumulatedYield.String())
	assert.Equal(t, "10", h.vault.FeesAvailable().String())
	assert.Empty(t, h.relay.Sent())
}

func TestRemoteStrategySettlesWithdrawalsLater(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	rates := oracle.NewStatic()
	require.NoError(t, rates.Set("morpho-base", decimal.NewFromInt(1)))
	escrow := common.HexToAddress("0x50")
	remote := settlement.NewRemoteAdapter(settlement.Config{
		ProtocolID:   "morpho-base",
		Address:      escrow,
		Asset:        usdc,
		Vault:        self,
		Recipient:    common.HexToAddress("0x51"),
		TargetDomain: 8453,
		GasLimit:     300_000,
		Access:       domain.Access{Owner: owner, Confirmer: confirmer},
	}, h.treasury, h.relay, rates, zap.NewNop())
	require.NoError(t, remote.FundFees(owner, big.NewInt(100)))

	_, err := h.vault.AddStrategy(ctx, owner, usdc, remote, 10_000)
	require.NoError(t, err)
	h.deposit(t, 1000)
	assert.Equal(t, int64(900), h.balance(t, escrow))
	assert.Equal(t, "900", remote.TotalShares().String())

	// the recall is only requested, so liquidity is still short
	err = h.vault.WithdrawToBridge(ctx, bridge, usdc, recipient, big.NewInt(500))
	assert.ErrorIs(t, err, wrapErrors.ErrInsufficientLiquidity)
	allocs, _ := h.vault.Allocations(usdc)
	assert.Equal(t, "500", allocs[0].DepositedAmount.String())
	assert.Equal(t, "400", remote.InFlight().String())

	// retrying before the recall settles asks for nothing more
	err = h.vault.WithdrawToBridge(ctx, bridge, usdc, recipient, big.NewInt(500))
	assert.ErrorIs(t, err, wrapErrors.ErrInsufficientLiquidity)
	allocs, _ = h.vault.Allocations(usdc)
	assert.Equal(t, "500", allocs[0].DepositedAmount.String())
	assert.Equal(t, "500", remote.TotalDeposited().String())

	var recalls []entity.PendingTransaction
	for _, tx := range remote.Machine().Outstanding() {
		if tx.Action == entity.ActionWithdraw {
			recalls = append(recalls, tx)
		}
	}
	require.Len(t, recalls, 1)
	recall := recalls[0]
	require.Equal(t, "400", recall.Amount.String())

	_, err = remote.ConfirmTransaction(ctx, confirmer, recall.Sequence, true)
	require.NoError(t, err)
	assert.Equal(t, int64(500), h.balance(t, self))
	assert.Equal(t, "0", remote.InFlight().String())

	require.NoError(t, h.vault.WithdrawToBridge(ctx, bridge, usdc, recipient, big.NewInt(500)))
	assert.Equal(t, int64(500), h.balance(t, recipient))
	total, err := h.vault.TotalAssets(ctx, usdc)
	require.NoError(t, err)
	assert.Equal(t, "500", total.String())
}
