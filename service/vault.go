package service

import (
	"context"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/linlinbupt123-crypto/vault_service/domain"
	"github.com/linlinbupt123-crypto/vault_service/entity"
	wrapErrors "github.com/linlinbupt123-crypto/vault_service/errors"
	"github.com/linlinbupt123-crypto/vault_service/metrics"
	"github.com/linlinbupt123-crypto/vault_service/settlement"
)

const journalTimeout = 5 * time.Second

// Journal is the audit trail of settlement events.
type Journal interface {
	RecordPending(ctx context.Context, protocolID string, tx entity.PendingTransaction) error
	RecordReport(ctx context.Context, report entity.YieldReport) error
	RecordDistribution(ctx context.Context, d entity.Distribution) error
}

// RateFeed accepts exchange-rate updates for remote protocols.
type RateFeed interface {
	Set(protocolID string, rate decimal.Decimal) error
}

// RemoteStatus summarizes one remote adapter.
type RemoteStatus struct {
	ProtocolID     string              `json:"protocol_id"`
	Asset          common.Address      `json:"asset"`
	TotalShares    *big.Int            `json:"total_shares"`
	TotalDeposited *big.Int            `json:"total_deposited"`
	FeesAvailable  *big.Int            `json:"fees_available"`
	Outstanding    int                 `json:"outstanding"`
	Report         *entity.YieldReport `json:"report,omitempty"`
}

// VaultService is the single entry point to the vault. It runs one operation
// at a time, which is what the vault and its adapters require.
type VaultService struct {
	mu      sync.Mutex
	vault   *domain.Vault
	remotes map[string]*settlement.RemoteAdapter
	rates   RateFeed
	journal Journal
	metrics *metrics.Metrics
	log     *zap.Logger
}

var _ settlement.Observer = (*VaultService)(nil)

func NewVaultService(vault *domain.Vault, rates RateFeed, journal Journal, m *metrics.Metrics, log *zap.Logger) *VaultService {
	if log == nil {
		log = zap.NewNop()
	}
	return &VaultService{
		vault:   vault,
		remotes: make(map[string]*settlement.RemoteAdapter),
		rates:   rates,
		journal: journal,
		metrics: m,
		log:     log.Named("service"),
	}
}

// AddRemote makes a remote adapter reachable by protocol id. Register it with
// the vault separately through AddRemoteStrategy.
func (s *VaultService) AddRemote(r *settlement.RemoteAdapter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remotes[r.ProtocolID()] = r
}

func (s *VaultService) Vault() *domain.Vault { return s.vault }

// ---------- bridge ----------

func (s *VaultService) DepositFromBridge(ctx context.Context, caller, asset common.Address, amount *big.Int) (domain.DeployResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.vault.DepositFromBridge(ctx, caller, asset, amount)
	s.observe("deposit_from_bridge", err)
	s.refreshTotal(ctx, asset)
	return res, err
}

func (s *VaultService) WithdrawToBridge(ctx context.Context, caller, asset, recipient common.Address, amount *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.vault.WithdrawToBridge(ctx, caller, asset, recipient, amount)
	s.observe("withdraw_to_bridge", err)
	s.refreshTotal(ctx, asset)
	return err
}

// ---------- confirmer ----------

func (s *VaultService) ConfirmTransaction(ctx context.Context, caller common.Address, protocolID string, seq uint64, success bool) (entity.PendingTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.remote(protocolID)
	if err != nil {
		s.observe("confirm_transaction", err)
		return entity.PendingTransaction{}, err
	}
	tx, err := r.ConfirmTransaction(ctx, caller, seq, success)
	s.observe("confirm_transaction", err)
	if err == nil {
		s.refreshTotal(ctx, r.Asset())
	}
	return tx, err
}

func (s *VaultService) UpdateYieldReport(ctx context.Context, caller common.Address, report entity.YieldReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.remote(report.ProtocolID)
	if err != nil {
		s.observe("update_yield_report", err)
		return err
	}
	err = r.UpdateYieldReport(ctx, caller, report)
	s.observe("update_yield_report", err)
	return err
}

func (s *VaultService) SetExchangeRate(ctx context.Context, caller common.Address, protocolID string, rate decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.vault.Access().OnlyConfirmer(caller); err != nil {
		s.observe("set_exchange_rate", err)
		return err
	}
	if _, err := s.remote(protocolID); err != nil {
		s.observe("set_exchange_rate", err)
		return err
	}
	err := s.rates.Set(protocolID, rate)
	s.observe("set_exchange_rate", err)
	if err == nil {
		s.log.Info("exchange rate set", zap.String("protocol", protocolID), zap.String("rate", rate.String()))
	}
	return err
}

// ---------- admin ----------

func (s *VaultService) AddSupportedAsset(ctx context.Context, caller, asset common.Address, reserveRatio uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.vault.AddSupportedAsset(ctx, caller, asset, reserveRatio)
	s.observe("add_supported_asset", err)
	return err
}

func (s *VaultService) SetReserveRatio(ctx context.Context, caller, asset common.Address, ratio uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.vault.SetReserveRatio(ctx, caller, asset, ratio)
	s.observe("set_reserve_ratio", err)
	return err
}

func (s *VaultService) SetHarvestInterval(ctx context.Context, caller common.Address, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.vault.SetHarvestInterval(ctx, caller, d)
	s.observe("set_harvest_interval", err)
	return err
}

// AddStrategy registers an in-process adapter.
func (s *VaultService) AddStrategy(ctx context.Context, caller, asset common.Address, adapter domain.StrategyAdapter, weight uint64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, err := s.vault.AddStrategy(ctx, caller, asset, adapter, weight)
	s.observe("add_strategy", err)
	return idx, err
}

// AddRemoteStrategy registers the remote adapter known as protocolID.
func (s *VaultService) AddRemoteStrategy(ctx context.Context, caller, asset common.Address, protocolID string, weight uint64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.remote(protocolID)
	if err != nil {
		s.observe("add_strategy", err)
		return 0, err
	}
	idx, err := s.vault.AddStrategy(ctx, caller, asset, r, weight)
	s.observe("add_strategy", err)
	return idx, err
}

func (s *VaultService) RemoveStrategy(ctx context.Context, caller, asset common.Address, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.vault.RemoveStrategy(ctx, caller, asset, index)
	s.observe("remove_strategy", err)
	s.refreshTotal(ctx, asset)
	return err
}

func (s *VaultService) SetStrategyWeight(ctx context.Context, caller, asset common.Address, index int, weight uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.vault.SetStrategyWeight(ctx, caller, asset, index, weight)
	s.observe("set_strategy_weight", err)
	return err
}

func (s *VaultService) SetStrategyActive(ctx context.Context, caller, asset common.Address, index int, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.vault.SetStrategyActive(ctx, caller, asset, index, active)
	s.observe("set_strategy_active", err)
	return err
}

func (s *VaultService) Rebalance(ctx context.Context, caller, asset common.Address) (domain.RebalanceReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	report, err := s.vault.Rebalance(ctx, caller, asset)
	s.observe("rebalance", err)
	s.refreshTotal(ctx, asset)
	return report, err
}

func (s *VaultService) FundFees(ctx context.Context, caller common.Address, amount *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.vault.FundFees(caller, amount)
	s.observe("fund_fees", err)
	return err
}

func (s *VaultService) FundRemoteFees(ctx context.Context, caller common.Address, protocolID string, amount *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.remote(protocolID)
	if err == nil {
		err = r.FundFees(caller, amount)
	}
	s.observe("fund_fees", err)
	return err
}

// ---------- keeper ----------

func (s *VaultService) HarvestYield(ctx context.Context, caller, asset common.Address) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	y, err := s.vault.HarvestYield(ctx, caller, asset)
	s.observe("harvest_yield", err)
	return y, err
}

func (s *VaultService) DistributeYield(ctx context.Context, caller, asset common.Address) (entity.Distribution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.vault.DistributeYield(ctx, caller, asset)
	s.observe("distribute_yield", err)
	if err != nil {
		return d, err
	}
	if s.metrics != nil {
		s.metrics.YieldDistributed.WithLabelValues(asset.Hex()).Add(metrics.Float(d.Yield))
	}
	s.record(func(ctx context.Context) error { return s.journal.RecordDistribution(ctx, d) })
	return d, nil
}

// ---------- queries ----------

// Overview is the vault-wide state behind GET /v1/assets.
type Overview struct {
	Assets          []common.Address `json:"assets"`
	HarvestInterval string           `json:"harvest_interval"`
	FeesAvailable   *big.Int         `json:"fees_available"`
}

func (s *VaultService) Overview() Overview {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Overview{
		Assets:          s.vault.Assets(),
		HarvestInterval: s.vault.HarvestInterval().String(),
		FeesAvailable:   s.vault.FeesAvailable(),
	}
}

func (s *VaultService) Asset(asset common.Address) (entity.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vault.Asset(asset)
}

func (s *VaultService) Allocations(asset common.Address) ([]domain.StrategyAllocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vault.Allocations(asset)
}

func (s *VaultService) TotalAssets(ctx context.Context, asset common.Address) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vault.TotalAssets(ctx, asset)
}

func (s *VaultService) CurrentAPY(ctx context.Context, asset common.Address) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vault.CurrentAPY(ctx, asset)
}

func (s *VaultService) Outstanding(protocolID string) ([]entity.PendingTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.remote(protocolID)
	if err != nil {
		return nil, err
	}
	return r.Machine().Outstanding(), nil
}

// Remotes lists every registered remote adapter ordered by protocol id.
func (s *VaultService) Remotes() []RemoteStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RemoteStatus, 0, len(s.remotes))
	for id, r := range s.remotes {
		st := RemoteStatus{
			ProtocolID:     id,
			Asset:          r.Asset(),
			TotalShares:    r.TotalShares(),
			TotalDeposited: r.TotalDeposited(),
			FeesAvailable:  r.FeesAvailable(),
			Outstanding:    len(r.Machine().Outstanding()),
		}
		if rep, ok := r.Report(); ok {
			st.Report = &rep
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProtocolID < out[j].ProtocolID })
	return out
}

// ---------- settlement.Observer ----------

func (s *VaultService) Issued(protocolID string, tx entity.PendingTransaction) {
	if s.metrics != nil {
		s.metrics.Issued.WithLabelValues(protocolID, tx.Action.String()).Inc()
		s.metrics.Outstanding.WithLabelValues(protocolID).Inc()
	}
	s.record(func(ctx context.Context) error { return s.journal.RecordPending(ctx, protocolID, tx) })
}

func (s *VaultService) Resolved(protocolID string, tx entity.PendingTransaction) {
	if s.metrics != nil {
		s.metrics.Resolved.WithLabelValues(protocolID, tx.Action.String(), tx.State.String()).Inc()
		s.metrics.Outstanding.WithLabelValues(protocolID).Dec()
	}
	s.record(func(ctx context.Context) error { return s.journal.RecordPending(ctx, protocolID, tx) })
}

func (s *VaultService) Reported(report entity.YieldReport) {
	s.record(func(ctx context.Context) error { return s.journal.RecordReport(ctx, report) })
}

func (s *VaultService) remote(protocolID string) (*settlement.RemoteAdapter, error) {
	r, ok := s.remotes[protocolID]
	if !ok {
		return nil, wrapErrors.ErrUnknownProtocol
	}
	return r, nil
}

// record writes to the journal. Failures are logged and never undo the
// in-memory state change they describe.
func (s *VaultService) record(write func(ctx context.Context) error) {
	if s.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	if err := write(ctx); err != nil {
		s.log.Error("journal write failed", zap.Error(err))
	}
}

func (s *VaultService) observe(op string, err error) {
	if s.metrics != nil {
		s.metrics.Operations.WithLabelValues(op, metrics.Result(err)).Inc()
	}
	if err != nil {
		s.log.Debug("operation failed",
			zap.String("op", op),
			zap.String("kind", wrapErrors.KindOf(err).String()),
			zap.Error(err))
	}
}

func (s *VaultService) refreshTotal(ctx context.Context, asset common.Address) {
	if s.metrics == nil {
		return
	}
	total, err := s.vault.TotalAssets(ctx, asset)
	if err != nil {
		return
	}
	s.metrics.TotalAssets.WithLabelValues(asset.Hex()).Set(metrics.Float(total))
}
