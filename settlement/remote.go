package settlement

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/linlinbupt123-crypto/vault_service/codec"
	"github.com/linlinbupt123-crypto/vault_service/domain"
	"github.com/linlinbupt123-crypto/vault_service/entity"
	wrapErrors "github.com/linlinbupt123-crypto/vault_service/errors"
	"github.com/linlinbupt123-crypto/vault_service/utils"
)

// RateOracle supplies the remote-asset units per share of a protocol.
type RateOracle interface {
	ExchangeRate(ctx context.Context, protocolID string) (decimal.Decimal, error)
}

// Observer is told about every settlement event, e.g. to journal it.
type Observer interface {
	Issued(protocolID string, tx entity.PendingTransaction)
	Resolved(protocolID string, tx entity.PendingTransaction)
	Reported(report entity.YieldReport)
}

type nopObserver struct{}

func (nopObserver) Issued(string, entity.PendingTransaction)   {}
func (nopObserver) Resolved(string, entity.PendingTransaction) {}
func (nopObserver) Reported(entity.YieldReport)                {}

// RollbackPolicy picks the exchange rate used to unwind a failed operation.
type RollbackPolicy int

const (
	// RollbackAtConfirmationRate reprices the unwind at the rate current when
	// the failure is confirmed. If the rate moved since issuance the unwind
	// does not exactly invert the optimistic update.
	RollbackAtConfirmationRate RollbackPolicy = iota
	// RollbackAtIssuanceRate unwinds with the rate recorded at issuance.
	RollbackAtIssuanceRate
)

type Config struct {
	ProtocolID string
	// Address is the adapter's escrow principal in the treasury.
	Address common.Address
	Asset   common.Address
	Vault   common.Address
	// Recipient is the remote account credited by the venue.
	Recipient    common.Address
	TargetDomain uint32
	GasLimit     uint64
	Access       domain.Access
}

type RemoteOption func(*RemoteAdapter)

func WithRollbackPolicy(p RollbackPolicy) RemoteOption {
	return func(r *RemoteAdapter) { r.policy = p }
}

func WithObserver(o Observer) RemoteOption {
	return func(r *RemoteAdapter) { r.observer = o }
}

func WithClock(now func() time.Time) RemoteOption {
	return func(r *RemoteAdapter) { r.now = now }
}

// RemoteAdapter fronts a venue on another chain. Deposits, withdrawals and
// claims are sent as messages and applied to local accounting optimistically;
// the confirmer later resolves each one, and failures are unwound locally.
type RemoteAdapter struct {
	cfg       Config
	treasury  domain.Treasury
	messenger domain.Messenger
	oracle    RateOracle
	machine   *Machine
	observer  Observer
	policy    RollbackPolicy
	log       *zap.Logger
	now       func() time.Time

	totalShares    *big.Int
	totalDeposited *big.Int
	report         *entity.YieldReport
	fees           domain.FeeBudget
	active         bool
}

var _ domain.StrategyAdapter = (*RemoteAdapter)(nil)

func NewRemoteAdapter(
	cfg Config,
	treasury domain.Treasury,
	messenger domain.Messenger,
	oracle RateOracle,
	log *zap.Logger,
	opts ...RemoteOption,
) *RemoteAdapter {
	if log == nil {
		log = zap.NewNop()
	}
	r := &RemoteAdapter{
		cfg:            cfg,
		treasury:       treasury,
		messenger:      messenger,
		oracle:         oracle,
		machine:        NewMachine(),
		observer:       nopObserver{},
		log:            log.Named("remote").With(zap.String("protocol", cfg.ProtocolID)),
		now:            time.Now,
		totalShares:    new(big.Int),
		totalDeposited: new(big.Int),
		active:         true,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RemoteAdapter) Address() common.Address { return r.cfg.Address }

func (r *RemoteAdapter) Asset() common.Address { return r.cfg.Asset }

func (r *RemoteAdapter) ProtocolID() string { return r.cfg.ProtocolID }

func (r *RemoteAdapter) TotalShares() *big.Int { return new(big.Int).Set(r.totalShares) }

func (r *RemoteAdapter) TotalDeposited() *big.Int { return new(big.Int).Set(r.totalDeposited) }

func (r *RemoteAdapter) Machine() *Machine { return r.machine }

func (r *RemoteAdapter) FeesAvailable() *big.Int { return r.fees.Available() }

// Report returns the latest yield report, if any.
func (r *RemoteAdapter) Report() (entity.YieldReport, bool) {
	if r.report == nil {
		return entity.YieldReport{}, false
	}
	return cloneReport(*r.report), true
}

// TotalAssets is the reported remote value once a report exists, otherwise
// the locally tracked deposits.
func (r *RemoteAdapter) TotalAssets(context.Context) (*big.Int, error) {
	if r.report != nil {
		return new(big.Int).Set(r.report.CurrentValue), nil
	}
	return new(big.Int).Set(r.totalDeposited), nil
}

func (r *RemoteAdapter) CurrentAPY(context.Context) (uint64, error) {
	if r.report != nil {
		return r.report.APY, nil
	}
	return 0, nil
}

// Deposit moves amount into escrow and instructs the venue to supply it.
// Shares are credited immediately at the current exchange rate.
func (r *RemoteAdapter) Deposit(ctx context.Context, amount *big.Int) (*big.Int, error) {
	if !utils.IsPositive(amount) {
		return nil, wrapErrors.ErrZeroAmount
	}
	if !r.active {
		return nil, wrapErrors.ErrNotActive
	}
	rate, err := r.rate(ctx)
	if err != nil {
		return nil, err
	}
	shares, err := toShares(amount, rate)
	if err != nil {
		return nil, err
	}

	r.totalShares.Add(r.totalShares, shares)
	r.totalDeposited.Add(r.totalDeposited, amount)
	undo := func() {
		r.totalShares.Sub(r.totalShares, shares)
		r.totalDeposited.Sub(r.totalDeposited, amount)
	}

	if err := r.treasury.TransferFrom(ctx, r.cfg.Asset, r.cfg.Address, r.cfg.Vault, r.cfg.Address, amount); err != nil {
		undo()
		return nil, err
	}
	if _, err := r.issue(ctx, entity.ActionDeposit, amount, shares, rate); err != nil {
		undo()
		if rerr := r.treasury.Transfer(ctx, r.cfg.Asset, r.cfg.Address, r.cfg.Vault, amount); rerr != nil {
			r.log.Error("return escrow after failed send", zap.Error(rerr))
		}
		return nil, err
	}
	return shares, nil
}

// Withdraw asks the venue to return amount (vault units). Nothing is received
// synchronously: escrow is released to the vault when the withdrawal is
// confirmed, so the returned amount is always zero.
func (r *RemoteAdapter) Withdraw(ctx context.Context, amount *big.Int) (*big.Int, error) {
	if !utils.IsPositive(amount) {
		return nil, wrapErrors.ErrZeroAmount
	}
	if amount.Cmp(r.totalDeposited) > 0 {
		return nil, wrapErrors.ErrInsufficientBalance
	}
	rate, err := r.rate(ctx)
	if err != nil {
		return nil, err
	}
	shares, err := toShares(amount, rate)
	if err != nil {
		return nil, err
	}
	if shares.Cmp(r.totalShares) > 0 {
		return nil, wrapErrors.ErrInsufficientBalance
	}

	r.totalShares.Sub(r.totalShares, shares)
	r.totalDeposited.Sub(r.totalDeposited, amount)
	if _, err := r.issue(ctx, entity.ActionWithdraw, amount, shares, rate); err != nil {
		r.totalShares.Add(r.totalShares, shares)
		r.totalDeposited.Add(r.totalDeposited, amount)
		return nil, err
	}
	return new(big.Int), nil
}

// InFlight is the amount of issued withdrawals still awaiting confirmation.
func (r *RemoteAdapter) InFlight() *big.Int {
	sum := new(big.Int)
	for _, tx := range r.machine.Outstanding() {
		if tx.Action == entity.ActionWithdraw {
			sum.Add(sum, tx.Amount)
		}
	}
	return sum
}

// Harvest sends a claim for the rewards in the latest report. Claimed rewards
// surface through later reports, so it returns zero.
func (r *RemoteAdapter) Harvest(ctx context.Context) (*big.Int, error) {
	if r.report == nil || r.report.PendingRewards.Sign() == 0 {
		return new(big.Int), nil
	}
	rate, err := r.rate(ctx)
	if err != nil {
		return nil, err
	}
	rewards := new(big.Int).Set(r.report.PendingRewards)
	if _, err := r.issue(ctx, entity.ActionClaim, rewards, new(big.Int), rate); err != nil {
		return nil, err
	}
	return new(big.Int), nil
}

// issue quotes and pays the delivery fee, sends the message and records the
// pending transaction under the relayer's sequence number. It fails only
// before the message leaves, so callers may compensate on error.
func (r *RemoteAdapter) issue(ctx context.Context, action entity.Action, amount, shares *big.Int, rate decimal.Decimal) (uint64, error) {
	payload, err := codec.EncodeMessage(codec.Message{
		Action:     action,
		ProtocolID: r.cfg.ProtocolID,
		Amount:     amount,
		Recipient:  r.cfg.Recipient,
	})
	if err != nil {
		return 0, wrapErrors.WrapWithCode(wrapErrors.CodeEncode, "encode message", err)
	}
	fee, err := r.messenger.QuoteDeliveryFee(ctx, r.cfg.TargetDomain, r.cfg.GasLimit)
	if err != nil {
		return 0, wrapErrors.WrapWithCode(wrapErrors.CodeGasEstimate, "quote delivery fee", err)
	}
	if err := r.fees.Spend(fee); err != nil {
		return 0, err
	}
	seq, err := r.messenger.Send(ctx, r.cfg.TargetDomain, payload, fee)
	if err != nil {
		r.fees.Refund(fee)
		return 0, wrapErrors.WrapWithCode(wrapErrors.SendTxErr, "send message", err)
	}

	tx := entity.PendingTransaction{
		Sequence:        seq,
		RelayerSequence: seq,
		Action:          action,
		Amount:          new(big.Int).Set(amount),
		Shares:          new(big.Int).Set(shares),
		IssuedRate:      rate,
		IssuedAt:        r.now(),
		State:           entity.StateIssued,
	}
	// The message is out and cannot be recalled, so the record must land even
	// if the relayer reused a sequence.
	if tx.Sequence = r.machine.Assign(tx); tx.Sequence != seq {
		r.log.Error("relayer reused a sequence, operation recorded under a new key",
			zap.Uint64("relayer_sequence", seq),
			zap.Uint64("sequence", tx.Sequence),
			zap.String("action", action.String()))
	}
	r.observer.Issued(r.cfg.ProtocolID, tx)
	r.log.Info("cross-chain operation issued",
		zap.String("action", action.String()),
		zap.Uint64("sequence", tx.Sequence),
		zap.String("amount", amount.String()),
		zap.String("shares", shares.String()),
		zap.String("rate", rate.String()),
		zap.String("fee", fee.String()))
	return tx.Sequence, nil
}

// ConfirmTransaction resolves seq. On failure the optimistic update is
// unwound: a deposit's shares and amount are removed and its escrow returned
// to the vault; a withdrawal's shares and amount are restored. On a successful
// withdrawal the escrow is released to the vault.
func (r *RemoteAdapter) ConfirmTransaction(ctx context.Context, caller common.Address, seq uint64, success bool) (entity.PendingTransaction, error) {
	if err := r.cfg.Access.OnlyConfirmer(caller); err != nil {
		return entity.PendingTransaction{}, err
	}
	pending, err := r.machine.Pending(seq)
	if err != nil {
		return entity.PendingTransaction{}, err
	}

	rate := pending.IssuedRate
	if !success && r.policy == RollbackAtConfirmationRate && pending.Action != entity.ActionClaim {
		if rate, err = r.rate(ctx); err != nil {
			return entity.PendingTransaction{}, err
		}
	}
	shares, err := toShares(pending.Amount, rate)
	if err != nil {
		return entity.PendingTransaction{}, err
	}

	tx, err := r.machine.Resolve(seq, success, r.now())
	if err != nil {
		return entity.PendingTransaction{}, err
	}

	switch {
	case !success && tx.Action == entity.ActionDeposit:
		r.totalShares = utils.SubFloor(r.totalShares, shares)
		r.totalDeposited = utils.SubFloor(r.totalDeposited, tx.Amount)
		r.releaseEscrow(ctx, tx.Amount)
	case !success && tx.Action == entity.ActionWithdraw:
		r.totalShares.Add(r.totalShares, shares)
		r.totalDeposited.Add(r.totalDeposited, tx.Amount)
	case success && tx.Action == entity.ActionWithdraw:
		r.releaseEscrow(ctx, tx.Amount)
	}

	r.observer.Resolved(r.cfg.ProtocolID, tx)
	r.log.Info("cross-chain operation resolved",
		zap.Uint64("sequence", seq),
		zap.String("action", tx.Action.String()),
		zap.String("state", tx.State.String()),
		zap.String("rollback_rate", rate.String()))
	return tx, nil
}

// UpdateYieldReport replaces the cached report wholesale.
func (r *RemoteAdapter) UpdateYieldReport(ctx context.Context, caller common.Address, report entity.YieldReport) error {
	if err := r.cfg.Access.OnlyConfirmer(caller); err != nil {
		return err
	}
	if report.ProtocolID != r.cfg.ProtocolID {
		return wrapErrors.ErrUnknownProtocol
	}
	rep := cloneReport(report)
	if rep.LastUpdate.IsZero() {
		rep.LastUpdate = r.now()
	}
	r.report = &rep
	r.observer.Reported(cloneReport(rep))
	r.log.Info("yield report updated",
		zap.String("current_value", rep.CurrentValue.String()),
		zap.String("pending_rewards", rep.PendingRewards.String()))
	return nil
}

func (r *RemoteAdapter) FundFees(caller common.Address, amount *big.Int) error {
	if err := r.cfg.Access.OnlyOwner(caller); err != nil {
		return err
	}
	if !utils.IsPositive(amount) {
		return wrapErrors.ErrZeroAmount
	}
	r.fees.Fund(amount)
	return nil
}

func (r *RemoteAdapter) SetActive(caller common.Address, active bool) error {
	if err := r.cfg.Access.OnlyOwner(caller); err != nil {
		return err
	}
	r.active = active
	return nil
}

func (r *RemoteAdapter) releaseEscrow(ctx context.Context, amount *big.Int) {
	held, err := r.treasury.BalanceOf(ctx, r.cfg.Asset, r.cfg.Address)
	if err != nil {
		r.log.Error("read escrow", zap.Error(err))
		return
	}
	out := utils.Min(held, amount)
	if out.Sign() == 0 {
		return
	}
	if err := r.treasury.Transfer(ctx, r.cfg.Asset, r.cfg.Address, r.cfg.Vault, out); err != nil {
		r.log.Error("release escrow", zap.String("amount", out.String()), zap.Error(err))
	}
}

func (r *RemoteAdapter) rate(ctx context.Context) (decimal.Decimal, error) {
	rate, err := r.oracle.ExchangeRate(ctx, r.cfg.ProtocolID)
	if err != nil {
		return decimal.Zero, err
	}
	if !rate.IsPositive() {
		return decimal.Zero, wrapErrors.ErrInvalidRate
	}
	return rate, nil
}

// toShares converts amount at rate (units per share), rounding down.
func toShares(amount *big.Int, rate decimal.Decimal) (*big.Int, error) {
	if !rate.IsPositive() {
		return nil, wrapErrors.ErrInvalidRate
	}
	q, _ := decimal.NewFromBigInt(amount, 0).QuoRem(rate, 0)
	return q.BigInt(), nil
}

func cloneReport(r entity.YieldReport) entity.YieldReport {
	r.Deposited = utils.Copy(r.Deposited)
	r.CurrentValue = utils.Copy(r.CurrentValue)
	r.PendingRewards = utils.Copy(r.PendingRewards)
	return r
}
