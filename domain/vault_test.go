package domain_test

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/linlinbupt123-crypto/vault_service/chain/chaintest"
	"github.com/linlinbupt123-crypto/vault_service/domain"
	"github.com/linlinbupt123-crypto/vault_service/entity"
	wrapErrors "github.com/linlinbupt123-crypto/vault_service/errors"
	"github.com/linlinbupt123-crypto/vault_service/strategy"
	"github.com/linlinbupt123-crypto/vault_service/treasury"
)

var (
	usdc      = common.HexToAddress("0xa0b8")
	self      = common.HexToAddress("0x10")
	bridge    = common.HexToAddress("0x02")
	owner     = common.HexToAddress("0x01")
	keeper    = common.HexToAddress("0x04")
	confirmer = common.HexToAddress("0x03")
	recipient = common.HexToAddress("0x99")
	lendAddr  = common.HexToAddress("0x21")
	stakeAddr = common.HexToAddress("0x22")
)

var errVenueDown = errors.New("venue down")

type harness struct {
	vault    *domain.Vault
	treasury *treasury.Memory
	relay    *chaintest.Messenger
	now      time.Time
	lending  *strategy.Lending
	staking  *strategy.AutoCompound
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	h := &harness{
		treasury: treasury.NewMemory(),
		relay:    chaintest.NewMessenger(3),
		now:      time.Unix(1_700_000_000, 0),
	}
	h.treasury.Credit(usdc, bridge, big.NewInt(1_000_000))
	require.NoError(t, h.treasury.Approve(ctx, usdc, bridge, self, math.MaxBig256))

	h.vault = domain.NewVault(self,
		domain.Access{Owner: owner, Bridge: bridge, Confirmer: confirmer, Keeper: keeper},
		h.treasury, h.relay, chaintest.Heights(77), zap.NewNop(),
		domain.WithClock(func() time.Time { return h.now }),
		domain.WithReportRoute(1, 250_000),
	)
	require.NoError(t, h.vault.AddSupportedAsset(ctx, owner, usdc, 1000))

	h.lending = strategy.NewLending(lendAddr, usdc, self, h.treasury, 400)
	h.staking = strategy.NewAutoCompound(stakeAddr, usdc, self, h.treasury, 800)
	return h
}

// withStrategies registers lending at 70% and staking at 30%.
func (h *harness) withStrategies(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	_, err := h.vault.AddStrategy(ctx, owner, usdc, h.lending, 7000)
	require.NoError(t, err)
	_, err = h.vault.AddStrategy(ctx, owner, usdc, h.staking, 3000)
	require.NoError(t, err)
	return h
}

func (h *harness) balance(t *testing.T, holder common.Address) int64 {
	t.Helper()
	b, err := h.treasury.BalanceOf(context.Background(), usdc, holder)
	require.NoError(t, err)
	return b.Int64()
}

func (h *harness) deposit(t *testing.T, amount int64) domain.DeployResult {
	t.Helper()
	res, err := h.vault.DepositFromBridge(context.Background(), bridge, usdc, big.NewInt(amount))
	require.NoError(t, err)
	return res
}

// scripted is an adapter whose calls can be made to fail or to run a hook.
type scripted struct {
	treasury    *treasury.Memory
	addr        common.Address
	asset       common.Address
	value       *big.Int
	depositErr  error
	totalErr    error
	onDeposit   func()
	withdrawals []*big.Int
}

func (s *scripted) Address() common.Address { return s.addr }
func (s *scripted) Asset() common.Address   { return s.asset }

func (s *scripted) Deposit(ctx context.Context, amount *big.Int) (*big.Int, error) {
	if s.onDeposit != nil {
		s.onDeposit()
	}
	if s.depositErr != nil {
		return nil, s.depositErr
	}
	if err := s.treasury.TransferFrom(ctx, s.asset, s.addr, self, s.addr, amount); err != nil {
		return nil, err
	}
	s.value.Add(s.value, amount)
	return new(big.Int).Set(amount), nil
}

func (s *scripted) Withdraw(ctx context.Context, shares *big.Int) (*big.Int, error) {
	s.withdrawals = append(s.withdrawals, new(big.Int).Set(shares))
	if err := s.treasury.Transfer(ctx, s.asset, s.addr, self, shares); err != nil {
		return nil, err
	}
	s.value.Sub(s.value, shares)
	return new(big.Int).Set(shares), nil
}

func (s *scripted) Harvest(context.Context) (*big.Int, error) { return new(big.Int), nil }

func (s *scripted) TotalAssets(context.Context) (*big.Int, error) {
	if s.totalErr != nil {
		return nil, s.totalErr
	}
	return new(big.Int).Set(s.value), nil
}

func (s *scripted) CurrentAPY(context.Context) (uint64, error) { return 0, nil }

func (h *harness) scripted(addr string) *scripted {
	return &scripted{treasury: h.treasury, addr: common.HexToAddress(addr), asset: usdc, value: new(big.Int)}
}

func TestDepositSplitsByReserveAndWeights(t *testing.T) {
	h := newHarness(t).withStrategies(t)

	res := h.deposit(t, 1000)
	assert.Equal(t, "100", res.Reserve.String())
	assert.Equal(t, "900", res.Deployed.String())
	require.Len(t, res.Legs, 2)
	assert.Equal(t, "630", res.Legs[0].Amount.String())
	assert.Equal(t, "270", res.Legs[1].Amount.String())

	assert.Equal(t, int64(100), h.balance(t, self))
	assert.Equal(t, int64(630), h.balance(t, lendAddr))
	assert.Equal(t, int64(270), h.balance(t, stakeAddr))

	a, err := h.vault.Asset(usdc)
	require.NoError(t, err)
	assert.Equal(t, "1000", a.TotalDeposited.String())
	assert.Equal(t, "900", a.TotalInStrategies.String())

	total, err := h.vault.TotalAssets(context.Background(), usdc)
	require.NoError(t, err)
	assert.Equal(t, "1000", total.String())
}

func TestDepositWithoutStrategiesStaysIdle(t *testing.T) {
	h := newHarness(t)
	res := h.deposit(t, 500)
	assert.Equal(t, "0", res.Deployed.String())
	assert.Empty(t, res.Legs)
	assert.Equal(t, int64(500), h.balance(t, self))
}

func TestNativeDepositRoundTrip(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	native := entity.NativeAsset
	require.NoError(t, h.vault.AddSupportedAsset(ctx, owner, native, 0))
	h.treasury.Credit(native, bridge, big.NewInt(100))

	_, err := h.vault.DepositFromBridge(ctx, bridge, native, big.NewInt(42))
	require.NoError(t, err)
	a, err := h.vault.Asset(native)
	require.NoError(t, err)
	assert.Equal(t, "42", a.TotalDeposited.String())
	idle, err := h.vault.IdleBalance(ctx, native)
	require.NoError(t, err)
	assert.Equal(t, "42", idle.String())
	assert.Equal(t, int64(1_000_000), h.balance(t, bridge))

	require.NoError(t, h.vault.WithdrawToBridge(ctx, bridge, native, recipient, big.NewInt(42)))
	got, err := h.treasury.BalanceOf(ctx, native, recipient)
	require.NoError(t, err)
	assert.Equal(t, "42", got.String())
	a, _ = h.vault.Asset(native)
	assert.Equal(t, "0", a.TotalDeposited.String())
}

func TestNativeDepositWithoutValueIsRejected(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	native := entity.NativeAsset
	require.NoError(t, h.vault.AddSupportedAsset(ctx, owner, native, 0))

	_, err := h.vault.DepositFromBridge(ctx, bridge, native, big.NewInt(42))
	assert.ErrorIs(t, err, wrapErrors.ErrInsufficientBalance)
	a, _ := h.vault.Asset(native)
	assert.Equal(t, "0", a.TotalDeposited.String())
}

func TestDepositAbortsOnAdapterError(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, err := h.vault.AddStrategy(ctx, owner, usdc, h.lending, 5000)
	require.NoError(t, err)
	broken := h.scripted("0x31")
	broken.depositErr = errVenueDown
	_, err = h.vault.AddStrategy(ctx, owner, usdc, broken, 5000)
	require.NoError(t, err)

	res, err := h.vault.DepositFromBridge(ctx, bridge, usdc, big.NewInt(1000))
	assert.Same(t, errVenueDown, err)
	require.Len(t, res.Legs, 1)
	assert.Equal(t, "450", res.Deployed.String())

	a, _ := h.vault.Asset(usdc)
	assert.Equal(t, "1000", a.TotalDeposited.String())
	assert.Equal(t, "450", a.TotalInStrategies.String())
	assert.Equal(t, int64(550), h.balance(t, self))
}

func TestWithdrawRecallsInRegistrationOrder(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t).withStrategies(t)
	h.deposit(t, 1000)

	err := h.vault.WithdrawToBridge(ctx, bridge, usdc, recipient, big.NewInt(500))
	require.NoError(t, err)
	assert.Equal(t, int64(500), h.balance(t, recipient))
	assert.Equal(t, int64(230), h.balance(t, lendAddr))
	assert.Equal(t, int64(270), h.balance(t, stakeAddr))
	assert.Equal(t, int64(0), h.balance(t, self))

	a, _ := h.vault.Asset(usdc)
	assert.Equal(t, "500", a.TotalDeposited.String())
	assert.Equal(t, "500", a.TotalInStrategies.String())

	err = h.vault.WithdrawToBridge(ctx, bridge, usdc, recipient, big.NewInt(501))
	assert.ErrorIs(t, err, wrapErrors.ErrInsufficientBalance)
}

func TestRoundTripRestoresBalances(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t).withStrategies(t)
	h.deposit(t, 1000)

	require.NoError(t, h.vault.WithdrawToBridge(ctx, bridge, usdc, bridge, big.NewInt(1000)))
	assert.Equal(t, int64(1_000_000), h.balance(t, bridge))
	a, _ := h.vault.Asset(usdc)
	assert.Equal(t, "0", a.TotalDeposited.String())
	assert.Equal(t, "0", a.TotalInStrategies.String())
}

func TestWeightsNeverExceedFullAllocation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t).withStrategies(t)

	_, err := h.vault.AddStrategy(ctx, owner, usdc, h.scripted("0x31"), 1)
	assert.ErrorIs(t, err, wrapErrors.ErrWeightExceeded)
	assert.ErrorIs(t, h.vault.SetStrategyWeight(ctx, owner, usdc, 0, 7001), wrapErrors.ErrWeightExceeded)
	require.NoError(t, h.vault.SetStrategyWeight(ctx, owner, usdc, 0, 6000))

	_, err = h.vault.AddStrategy(ctx, owner, usdc, h.scripted("0x31"), 1000)
	require.NoError(t, err)
	_, err = h.vault.AddStrategy(ctx, owner, usdc, h.scripted("0x32"), 10_001)
	assert.ErrorIs(t, err, wrapErrors.ErrWeightExceeded)

	other := h.scripted("0x33")
	other.asset = common.HexToAddress("0xdead")
	_, err = h.vault.AddStrategy(ctx, owner, usdc, other, 0)
	assert.ErrorIs(t, err, wrapErrors.ErrAssetMismatch)

	assert.ErrorIs(t, h.vault.SetStrategyWeight(ctx, owner, usdc, 9, 0), wrapErrors.ErrIndexOutOfRange)
}

func TestAddStrategyGrantsAllowance(t *testing.T) {
	h := newHarness(t).withStrategies(t)
	assert.Equal(t, 0, h.treasury.Allowance(usdc, self, lendAddr).Cmp(math.MaxBig256))
}

func TestRemoveStrategySwapsLastIntoSlot(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.vault.SetReserveRatio(ctx, owner, usdc, 0))
	third := strategy.NewLending(common.HexToAddress("0x23"), usdc, self, h.treasury, 100)
	for _, add := range []struct {
		a domain.StrategyAdapter
		w uint64
	}{{h.lending, 2000}, {h.staking, 3000}, {third, 1000}} {
		_, err := h.vault.AddStrategy(ctx, owner, usdc, add.a, add.w)
		require.NoError(t, err)
	}
	h.deposit(t, 1000)

	require.NoError(t, h.vault.RemoveStrategy(ctx, owner, usdc, 0))

	allocs, err := h.vault.Allocations(usdc)
	require.NoError(t, err)
	require.Len(t, allocs, 2)
	assert.Equal(t, third.Address(), allocs[0].Adapter.Address())
	assert.Equal(t, stakeAddr, allocs[1].Adapter.Address())

	assert.Equal(t, int64(0), h.balance(t, lendAddr))
	assert.Equal(t, int64(600), h.balance(t, self))
	assert.Equal(t, "0", h.treasury.Allowance(usdc, self, lendAddr).String())

	a, _ := h.vault.Asset(usdc)
	assert.Equal(t, "400", a.TotalInStrategies.String())

	assert.ErrorIs(t, h.vault.RemoveStrategy(ctx, owner, usdc, 2), wrapErrors.ErrIndexOutOfRange)
}

func TestRebalanceIsolatesFailingAdapter(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.vault.SetReserveRatio(ctx, owner, usdc, 0))
	_, err := h.vault.AddStrategy(ctx, owner, usdc, h.lending, 5000)
	require.NoError(t, err)
	h.deposit(t, 1000)

	require.NoError(t, h.vault.SetStrategyWeight(ctx, owner, usdc, 0, 3000))
	broken := h.scripted("0x31")
	broken.depositErr = errVenueDown
	_, err = h.vault.AddStrategy(ctx, owner, usdc, broken, 5000)
	require.NoError(t, err)

	report, err := h.vault.Rebalance(ctx, owner, usdc)
	require.NoError(t, err)
	assert.Equal(t, "1000", report.Total.String())
	assert.Equal(t, "1000", report.Deployable.String())

	require.Len(t, report.Moves, 1)
	assert.Equal(t, 0, report.Moves[0].Index)
	assert.Equal(t, "200", report.Moves[0].Withdrawn.String())
	require.Len(t, report.Failures, 1)
	assert.Equal(t, 1, report.Failures[0].Index)
	assert.ErrorIs(t, report.Failures[0].Err, errVenueDown)

	assert.Equal(t, int64(300), h.balance(t, lendAddr))
	assert.Equal(t, int64(700), h.balance(t, self))
	allocs, _ := h.vault.Allocations(usdc)
	assert.Equal(t, "300", allocs[0].DepositedAmount.String())
	assert.Equal(t, "0", allocs[1].DepositedAmount.String())
}

func TestRebalanceSkipsUnreadableAdapter(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.vault.SetReserveRatio(ctx, owner, usdc, 0))
	dark := h.scripted("0x31")
	dark.totalErr = errVenueDown
	_, err := h.vault.AddStrategy(ctx, owner, usdc, dark, 5000)
	require.NoError(t, err)
	_, err = h.vault.AddStrategy(ctx, owner, usdc, h.lending, 5000)
	require.NoError(t, err)
	h.deposit(t, 1000)

	report, err := h.vault.Rebalance(ctx, owner, usdc)
	require.NoError(t, err)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, 0, report.Failures[0].Index)
	assert.Empty(t, dark.withdrawals)
	assert.Equal(t, "1000", report.Total.String())
}

func TestReentrantCallIsRejected(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	evil := h.scripted("0x31")
	var inner error
	evil.onDeposit = func() {
		_, inner = h.vault.DepositFromBridge(ctx, bridge, usdc, big.NewInt(1))
	}
	_, err := h.vault.AddStrategy(ctx, owner, usdc, evil, 10_000)
	require.NoError(t, err)

	h.deposit(t, 100)
	assert.ErrorIs(t, inner, wrapErrors.ErrReentrantCall)

	// the guard is released once the outer call returns
	h.deposit(t, 100)
}

func TestRoleChecks(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.vault.DepositFromBridge(ctx, owner, usdc, big.NewInt(1))
	assert.ErrorIs(t, err, wrapErrors.ErrUnauthorized)
	assert.ErrorIs(t, h.vault.WithdrawToBridge(ctx, keeper, usdc, recipient, big.NewInt(1)), wrapErrors.ErrUnauthorized)
	assert.ErrorIs(t, h.vault.AddSupportedAsset(ctx, bridge, common.HexToAddress("0xbb"), 0), wrapErrors.ErrUnauthorized)
	_, err = h.vault.AddStrategy(ctx, keeper, usdc, h.lending, 1)
	assert.ErrorIs(t, err, wrapErrors.ErrUnauthorized)
	_, err = h.vault.Rebalance(ctx, bridge, usdc)
	assert.ErrorIs(t, err, wrapErrors.ErrUnauthorized)
	_, err = h.vault.HarvestYield(ctx, bridge, usdc)
	assert.ErrorIs(t, err, wrapErrors.ErrUnauthorized)

	_, err = h.vault.HarvestYield(ctx, owner, usdc)
	assert.NoError(t, err)

	_, err = h.vault.DepositFromBridge(ctx, bridge, common.HexToAddress("0xbb"), big.NewInt(1))
	assert.ErrorIs(t, err, wrapErrors.ErrUnsupportedAsset)
	_, err = h.vault.DepositFromBridge(ctx, bridge, usdc, big.NewInt(0))
	assert.ErrorIs(t, err, wrapErrors.ErrZeroAmount)
	assert.ErrorIs(t, h.vault.AddSupportedAsset(ctx, owner, usdc, 0), wrapErrors.ErrAssetExists)
	assert.ErrorIs(t, h.vault.SetReserveRatio(ctx, owner, usdc, 10_001), wrapErrors.ErrInvalidRatio)
}

func TestCurrentAPYIsWeightAveraged(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	apy, err := h.vault.CurrentAPY(ctx, usdc)
	require.NoError(t, err)
	assert.Zero(t, apy)

	h.withStrategies(t)
	apy, err = h.vault.CurrentAPY(ctx, usdc)
	require.NoError(t, err)
	assert.Equal(t, uint64(520), apy)

	require.NoError(t, h.vault.SetStrategyActive(ctx, owner, usdc, 1, false))
	apy, err = h.vault.CurrentAPY(ctx, usdc)
	require.NoError(t, err)
	assert.Equal(t, uint64(400), apy)
}

// conserved checks that idle funds plus what the ledger says is deployed never
// exceed what depositors put in plus harvested yield.
func (h *harness) conserved(t *testing.T, step string) {
	t.Helper()
	ctx := context.Background()
	idle, err := h.vault.IdleBalance(ctx, usdc)
	require.NoError(t, err)
	allocs, err := h.vault.Allocations(usdc)
	require.NoError(t, err)
	held := new(big.Int).Set(idle)
	for _, alloc := range allocs {
		held.Add(held, alloc.DepositedAmount)
	}
	a, err := h.vault.Asset(usdc)
	require.NoError(t, err)
	owed := new(big.Int).Add(a.TotalDeposited, a.AccumulatedYield)
	assert.LessOrEqualf(t, held.Cmp(owed), 0, "%s: held %s exceeds owed %s", step, held, owed)
}

func TestLedgerConservedAcrossLifecycle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t).withStrategies(t)
	h.conserved(t, "empty")

	h.deposit(t, 1000)
	h.conserved(t, "deposit")

	require.NoError(t, h.vault.WithdrawToBridge(ctx, bridge, usdc, recipient, big.NewInt(300)))
	assert.Equal(t, int64(300), h.balance(t, recipient))
	h.conserved(t, "withdraw")

	h.accrue(5)
	_, err := h.vault.HarvestYield(ctx, keeper, usdc)
	require.NoError(t, err)
	h.conserved(t, "harvest")

	report, err := h.vault.Rebalance(ctx, owner, usdc)
	require.NoError(t, err)
	assert.Empty(t, report.Failures)
	assert.Equal(t, "705", report.Total.String())
	h.conserved(t, "rebalance")

	require.NoError(t, h.vault.RemoveStrategy(ctx, owner, usdc, 0))
	h.conserved(t, "remove strategy")

	require.NoError(t, h.vault.WithdrawToBridge(ctx, bridge, usdc, recipient, big.NewInt(600)))
	h.conserved(t, "drain")

	total, err := h.vault.TotalAssets(ctx, usdc)
	require.NoError(t, err)
	assert.Equal(t, "105", total.String())
}
