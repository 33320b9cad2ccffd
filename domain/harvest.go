package domain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/linlinbupt123-crypto/vault_service/codec"
	"github.com/linlinbupt123-crypto/vault_service/entity"
	wrapErrors "github.com/linlinbupt123-crypto/vault_service/errors"
)

// HarvestYield collects newly accrued yield from every active allocation.
// It is throttled to once per harvest interval per asset.
//
// If an adapter fails, yield already collected from earlier adapters is kept
// in the ledger, the harvest clock is not advanced and the error is returned.
func (v *Vault) HarvestYield(ctx context.Context, caller, asset common.Address) (*big.Int, error) {
	if err := v.access.OnlyKeeper(caller); err != nil {
		return nil, err
	}
	a, err := v.supported(asset)
	if err != nil {
		return nil, err
	}
	now := v.now()
	if !a.LastHarvestTime.IsZero() && now.Before(a.LastHarvestTime.Add(v.harvestInterval)) {
		return nil, wrapErrors.ErrHarvestTooSoon
	}
	if err := v.guard.enter(); err != nil {
		return nil, err
	}
	defer v.guard.exit()

	harvested := new(big.Int)
	for i, alloc := range v.allocations[asset] {
		if !alloc.IsActive {
			continue
		}
		y, err := alloc.Adapter.Harvest(ctx)
		if err != nil {
			a.AccumulatedYield.Add(a.AccumulatedYield, harvested)
			v.log.Warn("harvest aborted",
				zap.String("asset", asset.Hex()),
				zap.Int("index", i),
				zap.Error(err))
			return harvested, err
		}
		if y != nil {
			harvested.Add(harvested, y)
		}
	}
	a.AccumulatedYield.Add(a.AccumulatedYield, harvested)
	a.LastHarvestTime = now

	v.log.Info("harvested",
		zap.String("asset", asset.Hex()),
		zap.String("yield", harvested.String()),
		zap.String("accumulated", a.AccumulatedYield.String()))
	return harvested, nil
}

// DistributeYield reports the accumulated yield to the destination ledger
// and zeroes it. A second call before new yield accrues fails with ErrNoYield,
// which is what keeps a report from being replayed.
func (v *Vault) DistributeYield(ctx context.Context, caller, asset common.Address) (entity.Distribution, error) {
	if err := v.access.OnlyKeeper(caller); err != nil {
		return entity.Distribution{}, err
	}
	a, err := v.supported(asset)
	if err != nil {
		return entity.Distribution{}, err
	}
	if a.AccumulatedYield.Sign() == 0 {
		return entity.Distribution{}, wrapErrors.ErrNoYield
	}
	if err := v.guard.enter(); err != nil {
		return entity.Distribution{}, err
	}
	defer v.guard.exit()

	now := v.now()
	height, err := v.heights.BlockNumber(ctx)
	if err != nil {
		return entity.Distribution{}, wrapErrors.WrapWithCode(wrapErrors.CodeChainRPC, "block number", err)
	}
	total, err := v.totalAssets(ctx, asset)
	if err != nil {
		return entity.Distribution{}, err
	}
	yield := new(big.Int).Set(a.AccumulatedYield)

	reportID, err := codec.ReportID(asset, yield, now, height)
	if err != nil {
		return entity.Distribution{}, wrapErrors.WrapWithCode(wrapErrors.CodeEncode, "report id", err)
	}
	payload, err := codec.EncodeReport(codec.Report{
		ReportID:    reportID,
		Asset:       asset,
		TotalAssets: total,
		Yield:       yield,
		Timestamp:   now,
	})
	if err != nil {
		return entity.Distribution{}, wrapErrors.WrapWithCode(wrapErrors.CodeEncode, "encode report", err)
	}
	fee, err := v.messenger.QuoteDeliveryFee(ctx, v.reportDomain, v.reportGasLimit)
	if err != nil {
		return entity.Distribution{}, wrapErrors.WrapWithCode(wrapErrors.CodeGasEstimate, "quote delivery fee", err)
	}
	if err := v.fees.Spend(fee); err != nil {
		return entity.Distribution{}, err
	}

	a.AccumulatedYield.SetInt64(0)
	seq, err := v.messenger.Send(ctx, v.reportDomain, payload, fee)
	if err != nil {
		a.AccumulatedYield.Set(yield)
		v.fees.Refund(fee)
		return entity.Distribution{}, wrapErrors.WrapWithCode(wrapErrors.SendTxErr, "send report", err)
	}

	d := entity.Distribution{
		ReportID:    reportID,
		Asset:       asset,
		Yield:       yield,
		TotalAssets: total,
		Timestamp:   now,
		BlockHeight: height,
		Sequence:    seq,
		Fee:         fee,
	}
	v.log.Info("yield distributed",
		zap.String("asset", asset.Hex()),
		zap.String("report_id", reportID.Hex()),
		zap.String("yield", yield.String()),
		zap.Uint64("sequence", seq))
	return d, nil
}

// CurrentAPY is the target-weighted average of the active adapters' APYs, in bps.
func (v *Vault) CurrentAPY(ctx context.Context, asset common.Address) (uint64, error) {
	if _, err := v.supported(asset); err != nil {
		return 0, err
	}
	var weighted, weights uint64
	for _, alloc := range v.allocations[asset] {
		if !alloc.IsActive {
			continue
		}
		apy, err := alloc.Adapter.CurrentAPY(ctx)
		if err != nil {
			return 0, err
		}
		weighted += apy * alloc.TargetWeight
		weights += alloc.TargetWeight
	}
	if weights == 0 {
		return 0, nil
	}
	return weighted / weights, nil
}
