package domain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"go.uber.org/zap"

	"github.com/linlinbupt123-crypto/vault_service/entity"
	wrapErrors "github.com/linlinbupt123-crypto/vault_service/errors"
	"github.com/linlinbupt123-crypto/vault_service/utils"
)

// AllocationFailure is an adapter call that failed during a rebalance pass.
type AllocationFailure struct {
	Index   int
	Adapter common.Address
	Err     error
}

// RebalanceMove is the outcome for one allocation that the pass touched.
type RebalanceMove struct {
	Index     int
	Adapter   common.Address
	Previous  *big.Int
	Target    *big.Int
	Deposited *big.Int
	Withdrawn *big.Int
}

type RebalanceReport struct {
	Total      *big.Int
	Reserve    *big.Int
	Deployable *big.Int
	Moves      []RebalanceMove
	Failures   []AllocationFailure
}

// deployToStrategies hands each active allocation its weighted share of amount.
// Zero shares are skipped and never redistributed; rounding dust stays idle.
func (v *Vault) deployToStrategies(ctx context.Context, a *entity.Asset, amount *big.Int) (DeployResult, error) {
	res := DeployResult{Deployed: new(big.Int)}
	if amount.Sign() == 0 {
		return res, nil
	}
	for i, alloc := range v.allocations[a.ID] {
		if !alloc.IsActive {
			continue
		}
		share := utils.MulBps(amount, alloc.TargetWeight)
		if share.Sign() == 0 {
			continue
		}
		alloc.DepositedAmount.Add(alloc.DepositedAmount, share)
		a.TotalInStrategies.Add(a.TotalInStrategies, share)

		shares, err := alloc.Adapter.Deposit(ctx, share)
		if err != nil {
			alloc.DepositedAmount.Sub(alloc.DepositedAmount, share)
			a.TotalInStrategies.Sub(a.TotalInStrategies, share)
			return res, err
		}
		res.Deployed.Add(res.Deployed, share)
		res.Legs = append(res.Legs, DeployLeg{
			Index:   i,
			Adapter: alloc.Adapter.Address(),
			Amount:  share,
			Shares:  shares,
		})
	}
	return res, nil
}

// withdrawFromStrategies recalls amount from active allocations in
// registration order, each up to its reported TotalAssets. First-registered
// venues are drained first regardless of yield; that is accepted for simplicity.
func (v *Vault) withdrawFromStrategies(ctx context.Context, a *entity.Asset, amount *big.Int) error {
	remaining := new(big.Int).Set(amount)
	for _, alloc := range v.allocations[a.ID] {
		if remaining.Sign() == 0 {
			break
		}
		if !alloc.IsActive {
			continue
		}
		available, err := alloc.Adapter.TotalAssets(ctx)
		if err != nil {
			return err
		}
		take := utils.Min(available, remaining)
		if take.Sign() == 0 {
			continue
		}

		dec := utils.Min(take, alloc.DepositedAmount)
		alloc.DepositedAmount.Sub(alloc.DepositedAmount, dec)
		a.TotalInStrategies = utils.SubFloor(a.TotalInStrategies, dec)

		if _, err := alloc.Adapter.Withdraw(ctx, take); err != nil {
			alloc.DepositedAmount.Add(alloc.DepositedAmount, dec)
			a.TotalInStrategies.Add(a.TotalInStrategies, dec)
			return err
		}
		remaining.Sub(remaining, take)
	}
	return nil
}

// inFlight sums the withdrawals active allocations have requested but not yet
// returned to the vault.
func (v *Vault) inFlight(a *entity.Asset) *big.Int {
	sum := new(big.Int)
	for _, alloc := range v.allocations[a.ID] {
		if s, ok := alloc.Adapter.(Settling); ok && alloc.IsActive {
			sum.Add(sum, s.InFlight())
		}
	}
	return sum
}

// Rebalance moves every active allocation to deployable * weight / 10000,
// where deployable is total assets less the reserve. Each adapter call is
// isolated: a failing or unreachable venue is reported and skipped while the
// others are still rebalanced. Surpluses are recalled before deficits are
// funded so that freed liquidity can be redeployed in the same pass.
func (v *Vault) Rebalance(ctx context.Context, caller, asset common.Address) (RebalanceReport, error) {
	if err := v.access.OnlyOwner(caller); err != nil {
		return RebalanceReport{}, err
	}
	a, err := v.supported(asset)
	if err != nil {
		return RebalanceReport{}, err
	}
	if err := v.guard.enter(); err != nil {
		return RebalanceReport{}, err
	}
	defer v.guard.exit()

	allocs := v.allocations[asset]
	total, err := v.IdleBalance(ctx, asset)
	if err != nil {
		return RebalanceReport{}, err
	}

	report := RebalanceReport{}
	current := make([]*big.Int, len(allocs))
	for i, alloc := range allocs {
		if !alloc.IsActive {
			continue
		}
		val, err := alloc.Adapter.TotalAssets(ctx)
		if err != nil {
			report.Failures = append(report.Failures, AllocationFailure{Index: i, Adapter: alloc.Adapter.Address(), Err: err})
			total.Add(total, alloc.DepositedAmount)
			continue
		}
		current[i] = val
		total.Add(total, val)
	}

	report.Total = total
	report.Reserve = utils.MulBps(total, a.ReserveRatio)
	report.Deployable = new(big.Int).Sub(total, report.Reserve)

	moves := make(map[int]*RebalanceMove)
	move := func(i int, alloc *StrategyAllocation, target *big.Int) *RebalanceMove {
		m := &RebalanceMove{
			Index:     i,
			Adapter:   alloc.Adapter.Address(),
			Previous:  new(big.Int).Set(alloc.DepositedAmount),
			Target:    target,
			Deposited: new(big.Int),
			Withdrawn: new(big.Int),
		}
		moves[i] = m
		return m
	}
	fail := func(i int, alloc *StrategyAllocation, err error) {
		v.log.Warn("rebalance leg failed",
			zap.String("asset", asset.Hex()),
			zap.Int("index", i),
			zap.String("adapter", alloc.Adapter.Address().Hex()),
			zap.Error(err))
		report.Failures = append(report.Failures, AllocationFailure{Index: i, Adapter: alloc.Adapter.Address(), Err: err})
	}

	// surpluses first
	for i, alloc := range allocs {
		if !alloc.IsActive || current[i] == nil {
			continue
		}
		target := utils.MulBps(report.Deployable, alloc.TargetWeight)
		if current[i].Cmp(target) <= 0 {
			continue
		}
		surplus := new(big.Int).Sub(current[i], target)
		m := move(i, alloc, target)
		prev := alloc.DepositedAmount
		alloc.DepositedAmount = new(big.Int).Set(target)
		if _, err := alloc.Adapter.Withdraw(ctx, surplus); err != nil {
			alloc.DepositedAmount = prev
			delete(moves, i)
			fail(i, alloc, err)
			continue
		}
		m.Withdrawn = surplus
	}

	for i, alloc := range allocs {
		if !alloc.IsActive || current[i] == nil {
			continue
		}
		target := utils.MulBps(report.Deployable, alloc.TargetWeight)
		if current[i].Cmp(target) > 0 {
			continue
		}
		m := move(i, alloc, target)
		prev := alloc.DepositedAmount
		alloc.DepositedAmount = new(big.Int).Set(target)
		deficit := new(big.Int).Sub(target, current[i])
		if deficit.Sign() == 0 {
			continue
		}
		if _, err := alloc.Adapter.Deposit(ctx, deficit); err != nil {
			alloc.DepositedAmount = prev
			delete(moves, i)
			fail(i, alloc, err)
			continue
		}
		m.Deposited = deficit
	}

	inStrategies := new(big.Int)
	for i, alloc := range allocs {
		inStrategies.Add(inStrategies, alloc.DepositedAmount)
		if m, ok := moves[i]; ok {
			report.Moves = append(report.Moves, *m)
		}
	}
	a.TotalInStrategies = inStrategies

	v.log.Info("rebalanced",
		zap.String("asset", asset.Hex()),
		zap.String("total", total.String()),
		zap.String("deployable", report.Deployable.String()),
		zap.Int("moves", len(report.Moves)),
		zap.Int("failures", len(report.Failures)))
	return report, nil
}

// AddStrategy registers adapter for asset and grants it a standing allowance
// on the vault's holdings. It returns the allocation index.
func (v *Vault) AddStrategy(ctx context.Context, caller, asset common.Address, adapter StrategyAdapter, weight uint64) (int, error) {
	if err := v.access.OnlyOwner(caller); err != nil {
		return 0, err
	}
	if adapter == nil {
		return 0, wrapErrors.ErrStrategyUnavailable
	}
	if weight > utils.BasisPoints {
		return 0, wrapErrors.ErrWeightExceeded
	}
	if _, err := v.supported(asset); err != nil {
		return 0, err
	}
	if adapter.Asset() != asset {
		return 0, wrapErrors.ErrAssetMismatch
	}
	if v.weightSum(asset, -1)+weight > utils.BasisPoints {
		return 0, wrapErrors.ErrWeightExceeded
	}
	if err := v.guard.enter(); err != nil {
		return 0, err
	}
	defer v.guard.exit()

	v.allocations[asset] = append(v.allocations[asset], &StrategyAllocation{
		Adapter:         adapter,
		TargetWeight:    weight,
		DepositedAmount: new(big.Int),
		IsActive:        true,
	})
	index := len(v.allocations[asset]) - 1

	if err := v.treasury.Approve(ctx, asset, v.self, adapter.Address(), math.MaxBig256); err != nil {
		v.allocations[asset] = v.allocations[asset][:index]
		return 0, wrapErrors.WrapWithCode(wrapErrors.CodeCustody, "approve strategy", err)
	}
	v.log.Info("strategy added",
		zap.String("asset", asset.Hex()),
		zap.String("adapter", adapter.Address().Hex()),
		zap.Uint64("weight", weight),
		zap.Int("index", index))
	return index, nil
}

// RemoveStrategy withdraws the allocation's deposited amount and drops it by
// swapping the last allocation into its slot. Indices above it shift.
func (v *Vault) RemoveStrategy(ctx context.Context, caller, asset common.Address, index int) error {
	if err := v.access.OnlyOwner(caller); err != nil {
		return err
	}
	a, err := v.supported(asset)
	if err != nil {
		return err
	}
	allocs := v.allocations[asset]
	if index < 0 || index >= len(allocs) {
		return wrapErrors.ErrIndexOutOfRange
	}
	if err := v.guard.enter(); err != nil {
		return err
	}
	defer v.guard.exit()

	alloc := allocs[index]
	if dep := alloc.DepositedAmount; dep.Sign() > 0 {
		a.TotalInStrategies = utils.SubFloor(a.TotalInStrategies, dep)
		if _, err := alloc.Adapter.Withdraw(ctx, dep); err != nil {
			a.TotalInStrategies.Add(a.TotalInStrategies, dep)
			return err
		}
	}

	last := len(allocs) - 1
	allocs[index] = allocs[last]
	allocs[last] = nil
	v.allocations[asset] = allocs[:last]

	if err := v.treasury.Approve(ctx, asset, v.self, alloc.Adapter.Address(), new(big.Int)); err != nil {
		v.log.Warn("revoke allowance failed", zap.String("adapter", alloc.Adapter.Address().Hex()), zap.Error(err))
	}
	v.log.Info("strategy removed",
		zap.String("asset", asset.Hex()),
		zap.String("adapter", alloc.Adapter.Address().Hex()),
		zap.Int("index", index))
	return nil
}

func (v *Vault) SetStrategyWeight(ctx context.Context, caller, asset common.Address, index int, weight uint64) error {
	if err := v.access.OnlyOwner(caller); err != nil {
		return err
	}
	if _, err := v.supported(asset); err != nil {
		return err
	}
	allocs := v.allocations[asset]
	if index < 0 || index >= len(allocs) {
		return wrapErrors.ErrIndexOutOfRange
	}
	if weight > utils.BasisPoints || v.weightSum(asset, index)+weight > utils.BasisPoints {
		return wrapErrors.ErrWeightExceeded
	}
	allocs[index].TargetWeight = weight
	return nil
}

func (v *Vault) SetStrategyActive(ctx context.Context, caller, asset common.Address, index int, active bool) error {
	if err := v.access.OnlyOwner(caller); err != nil {
		return err
	}
	if _, err := v.supported(asset); err != nil {
		return err
	}
	allocs := v.allocations[asset]
	if index < 0 || index >= len(allocs) {
		return wrapErrors.ErrIndexOutOfRange
	}
	allocs[index].IsActive = active
	return nil
}

// weightSum totals target weights for asset, leaving out index skip.
func (v *Vault) weightSum(asset common.Address, skip int) uint64 {
	var sum uint64
	for i, alloc := range v.allocations[asset] {
		if i == skip {
			continue
		}
		sum += alloc.TargetWeight
	}
	return sum
}
