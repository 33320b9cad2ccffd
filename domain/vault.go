package domain

import (
	"bytes"
	"context"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/linlinbupt123-crypto/vault_service/entity"
	wrapErrors "github.com/linlinbupt123-crypto/vault_service/errors"
	"github.com/linlinbupt123-crypto/vault_service/utils"
)

const (
	DefaultHarvestInterval = 24 * time.Hour
	DefaultReportGasLimit  = 200_000
)

// Vault custodies bridged assets, deploys them across strategy adapters and
// reports realized yield to the destination ledger.
//
// A Vault is not safe for concurrent use: every entry point must run to
// completion before the next starts. service.VaultService serializes callers.
type Vault struct {
	self      common.Address
	access    Access
	treasury  Treasury
	messenger Messenger
	heights   HeightSource
	log       *zap.Logger

	assets      map[common.Address]*entity.Asset
	allocations map[common.Address][]*StrategyAllocation

	harvestInterval time.Duration
	reportDomain    uint32
	reportGasLimit  uint64
	fees            FeeBudget
	now             func() time.Time

	guard guard
}

type Option func(*Vault)

func WithClock(now func() time.Time) Option {
	return func(v *Vault) { v.now = now }
}

func WithHarvestInterval(d time.Duration) Option {
	return func(v *Vault) { v.harvestInterval = d }
}

// WithReportRoute sets the destination domain and gas limit for yield reports.
func WithReportRoute(domain uint32, gasLimit uint64) Option {
	return func(v *Vault) {
		v.reportDomain = domain
		v.reportGasLimit = gasLimit
	}
}

func NewVault(
	self common.Address,
	access Access,
	treasury Treasury,
	messenger Messenger,
	heights HeightSource,
	log *zap.Logger,
	opts ...Option,
) *Vault {
	if log == nil {
		log = zap.NewNop()
	}
	v := &Vault{
		self:            self,
		access:          access,
		treasury:        treasury,
		messenger:       messenger,
		heights:         heights,
		log:             log.Named("vault"),
		assets:          make(map[common.Address]*entity.Asset),
		allocations:     make(map[common.Address][]*StrategyAllocation),
		harvestInterval: DefaultHarvestInterval,
		reportGasLimit:  DefaultReportGasLimit,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *Vault) Address() common.Address { return v.self }

func (v *Vault) Access() Access { return v.access }

func (v *Vault) HarvestInterval() time.Duration { return v.harvestInterval }

// FeesAvailable is the remaining budget for outbound report fees.
func (v *Vault) FeesAvailable() *big.Int { return v.fees.Available() }

// ---------- admin ----------

func (v *Vault) AddSupportedAsset(ctx context.Context, caller, asset common.Address, reserveRatio uint64) error {
	if err := v.access.OnlyOwner(caller); err != nil {
		return err
	}
	if reserveRatio > utils.BasisPoints {
		return wrapErrors.ErrInvalidRatio
	}
	if a, ok := v.assets[asset]; ok && a.IsSupported {
		return wrapErrors.ErrAssetExists
	}
	v.assets[asset] = &entity.Asset{
		ID:                asset,
		TotalDeposited:    new(big.Int),
		TotalInStrategies: new(big.Int),
		AccumulatedYield:  new(big.Int),
		ReserveRatio:      reserveRatio,
		IsSupported:       true,
	}
	v.log.Info("asset supported", zap.String("asset", asset.Hex()), zap.Uint64("reserve_ratio", reserveRatio))
	return nil
}

func (v *Vault) SetReserveRatio(ctx context.Context, caller, asset common.Address, ratio uint64) error {
	if err := v.access.OnlyOwner(caller); err != nil {
		return err
	}
	a, err := v.supported(asset)
	if err != nil {
		return err
	}
	if ratio > utils.BasisPoints {
		return wrapErrors.ErrInvalidRatio
	}
	a.ReserveRatio = ratio
	return nil
}

func (v *Vault) SetHarvestInterval(ctx context.Context, caller common.Address, d time.Duration) error {
	if err := v.access.OnlyOwner(caller); err != nil {
		return err
	}
	v.harvestInterval = d
	return nil
}

func (v *Vault) FundFees(caller common.Address, amount *big.Int) error {
	if err := v.access.OnlyOwner(caller); err != nil {
		return err
	}
	if !utils.IsPositive(amount) {
		return wrapErrors.ErrZeroAmount
	}
	v.fees.Fund(amount)
	return nil
}

// ---------- queries ----------

func (v *Vault) Asset(asset common.Address) (entity.Asset, error) {
	a, err := v.supported(asset)
	if err != nil {
		return entity.Asset{}, err
	}
	return a.Clone(), nil
}

// Assets lists every supported asset id.
func (v *Vault) Assets() []common.Address {
	out := make([]common.Address, 0, len(v.assets))
	for id, a := range v.assets {
		if a.IsSupported {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

func (v *Vault) Allocations(asset common.Address) ([]StrategyAllocation, error) {
	if _, err := v.supported(asset); err != nil {
		return nil, err
	}
	allocs := v.allocations[asset]
	out := make([]StrategyAllocation, len(allocs))
	for i, a := range allocs {
		out[i] = a.clone()
	}
	return out, nil
}

// IdleBalance is the vault's liquid holding of asset.
func (v *Vault) IdleBalance(ctx context.Context, asset common.Address) (*big.Int, error) {
	bal, err := v.treasury.BalanceOf(ctx, asset, v.self)
	if err != nil {
		return nil, wrapErrors.WrapWithCode(wrapErrors.CodeCustody, "balance", err)
	}
	return bal, nil
}

// TotalAssets is idle liquidity plus every active adapter's reported value.
func (v *Vault) TotalAssets(ctx context.Context, asset common.Address) (*big.Int, error) {
	if _, err := v.supported(asset); err != nil {
		return nil, err
	}
	return v.totalAssets(ctx, asset)
}

func (v *Vault) totalAssets(ctx context.Context, asset common.Address) (*big.Int, error) {
	total, err := v.IdleBalance(ctx, asset)
	if err != nil {
		return nil, err
	}
	for _, alloc := range v.allocations[asset] {
		if !alloc.IsActive {
			continue
		}
		val, err := alloc.Adapter.TotalAssets(ctx)
		if err != nil {
			return nil, err
		}
		total.Add(total, val)
	}
	return total, nil
}

func (v *Vault) supported(asset common.Address) (*entity.Asset, error) {
	a, ok := v.assets[asset]
	if !ok || !a.IsSupported {
		return nil, wrapErrors.ErrUnsupportedAsset
	}
	return a, nil
}

// ---------- bridge ----------

// DeployLeg is one adapter deposit made while deploying fresh capital.
type DeployLeg struct {
	Index   int
	Adapter common.Address
	Amount  *big.Int
	Shares  *big.Int
}

type DeployResult struct {
	Reserve  *big.Int
	Deployed *big.Int
	Legs     []DeployLeg
}

// DepositFromBridge records amount as owed, takes custody of it and deploys
// everything above the reserve ratio to the active strategies.
//
// An adapter failure stops deployment and is returned as-is. The deposit and
// any legs that already completed stay recorded; the undeployed part is idle.
func (v *Vault) DepositFromBridge(ctx context.Context, caller, asset common.Address, amount *big.Int) (DeployResult, error) {
	if err := v.access.OnlyBridge(caller); err != nil {
		return DeployResult{}, err
	}
	if !utils.IsPositive(amount) {
		return DeployResult{}, wrapErrors.ErrZeroAmount
	}
	a, err := v.supported(asset)
	if err != nil {
		return DeployResult{}, err
	}
	if err := v.guard.enter(); err != nil {
		return DeployResult{}, err
	}
	defer v.guard.exit()

	a.TotalDeposited.Add(a.TotalDeposited, amount)
	if err := v.receive(ctx, asset, amount); err != nil {
		a.TotalDeposited.Sub(a.TotalDeposited, amount)
		return DeployResult{}, wrapErrors.WrapWithCode(wrapErrors.CodeCustody, "pull from bridge", err)
	}

	reserve := utils.MulBps(amount, a.ReserveRatio)
	res, err := v.deployToStrategies(ctx, a, new(big.Int).Sub(amount, reserve))
	res.Reserve = reserve

	fields := []zap.Field{
		zap.String("asset", asset.Hex()),
		zap.String("amount", amount.String()),
		zap.String("reserve", reserve.String()),
		zap.String("deployed", res.Deployed.String()),
	}
	if err != nil {
		v.log.Warn("deposit deployment aborted", append(fields, zap.Error(err))...)
		return res, err
	}
	v.log.Info("deposit from bridge", fields...)
	return res, nil
}

// receive takes custody of a bridge deposit. Native value travels with the
// bridge call, so it moves without an allowance; tokens are pulled.
func (v *Vault) receive(ctx context.Context, asset common.Address, amount *big.Int) error {
	if asset == entity.NativeAsset {
		return v.treasury.Transfer(ctx, asset, v.access.Bridge, v.self, amount)
	}
	return v.treasury.TransferFrom(ctx, asset, v.self, v.access.Bridge, v.self, amount)
}

// WithdrawToBridge pays amount to recipient, recalling capital from the
// strategies when idle liquidity does not cover it.
func (v *Vault) WithdrawToBridge(ctx context.Context, caller, asset, recipient common.Address, amount *big.Int) error {
	if err := v.access.OnlyBridge(caller); err != nil {
		return err
	}
	if !utils.IsPositive(amount) {
		return wrapErrors.ErrZeroAmount
	}
	a, err := v.supported(asset)
	if err != nil {
		return err
	}
	if amount.Cmp(a.TotalDeposited) > 0 {
		return wrapErrors.ErrInsufficientBalance
	}
	if err := v.guard.enter(); err != nil {
		return err
	}
	defer v.guard.exit()

	idle, err := v.IdleBalance(ctx, asset)
	if err != nil {
		return err
	}
	if idle.Cmp(amount) < 0 {
		// withdrawals already on their way count toward the shortfall, so a
		// retry before they settle does not recall the same capital twice
		shortfall := new(big.Int).Sub(amount, idle)
		shortfall.Sub(shortfall, v.inFlight(a))
		if shortfall.Sign() > 0 {
			if err := v.withdrawFromStrategies(ctx, a, shortfall); err != nil {
				v.log.Warn("strategy recall failed", zap.String("asset", asset.Hex()), zap.Error(err))
				return err
			}
		}
		if idle, err = v.IdleBalance(ctx, asset); err != nil {
			return err
		}
		// asynchronous adapters settle later, so the recall may not have landed yet
		if idle.Cmp(amount) < 0 {
			return wrapErrors.ErrInsufficientLiquidity
		}
	}

	a.TotalDeposited.Sub(a.TotalDeposited, amount)
	if err := v.treasury.Transfer(ctx, asset, v.self, recipient, amount); err != nil {
		a.TotalDeposited.Add(a.TotalDeposited, amount)
		return wrapErrors.WrapWithCode(wrapErrors.CodeCustody, "transfer to recipient", err)
	}
	v.log.Info("withdraw to bridge",
		zap.String("asset", asset.Hex()),
		zap.String("recipient", recipient.Hex()),
		zap.String("amount", amount.String()))
	return nil
}
