package entity

import (
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// Action is the kind of asynchronous operation sent to a remote venue.
type Action uint8

const (
	ActionDeposit Action = iota
	ActionWithdraw
	ActionClaim
)

func (a Action) String() string {
	switch a {
	case ActionDeposit:
		return "deposit"
	case ActionWithdraw:
		return "withdraw"
	case ActionClaim:
		return "claim"
	default:
		return "unknown"
	}
}

func ParseAction(s string) (Action, error) {
	for _, a := range []Action{ActionDeposit, ActionWithdraw, ActionClaim} {
		if a.String() == s {
			return a, nil
		}
	}
	return 0, fmt.Errorf("unknown action %q", s)
}

// SettlementState is the lifecycle of a pending transaction.
// Issued is the only non-terminal state.
type SettlementState uint8

const (
	StateIssued SettlementState = iota
	StateConfirmedSuccess
	StateConfirmedFailure
)

func (s SettlementState) String() string {
	switch s {
	case StateIssued:
		return "issued"
	case StateConfirmedSuccess:
		return "confirmed_success"
	case StateConfirmedFailure:
		return "confirmed_failure"
	default:
		return "unknown"
	}
}

func ParseSettlementState(s string) (SettlementState, error) {
	for _, st := range []SettlementState{StateIssued, StateConfirmedSuccess, StateConfirmedFailure} {
		if st.String() == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown settlement state %q", s)
}

// PendingTransaction is an issued asynchronous operation. Everything except
// State and ResolvedAt is fixed at issuance.
type PendingTransaction struct {
	Sequence   uint64          `json:"sequence"`
	Action     Action          `json:"action"`
	Amount     *big.Int        `json:"amount"`
	Shares     *big.Int        `json:"shares"`
	IssuedRate decimal.Decimal `json:"issued_rate"`
	IssuedAt   time.Time       `json:"issued_at"`
	State      SettlementState `json:"state"`
	ResolvedAt time.Time       `json:"resolved_at,omitempty"`
	// RelayerSequence is what the messenger returned for the send. It differs
	// from Sequence only when the relayer handed out a number already in use.
	RelayerSequence uint64 `json:"relayer_sequence,omitempty"`
}

func (p PendingTransaction) Completed() bool {
	return p.State != StateIssued
}

// Clone deep-copies the amount fields.
func (p PendingTransaction) Clone() PendingTransaction {
	out := p
	if p.Amount != nil {
		out.Amount = new(big.Int).Set(p.Amount)
	}
	if p.Shares != nil {
		out.Shares = new(big.Int).Set(p.Shares)
	}
	return out
}

// YieldReport is a remote venue snapshot pushed in by the confirmer.
type YieldReport struct {
	ProtocolID     string    `json:"protocol_id"`
	Deposited      *big.Int  `json:"deposited"`
	CurrentValue   *big.Int  `json:"current_value"`
	PendingRewards *big.Int  `json:"pending_rewards"`
	APY            uint64    `json:"apy"` // bps
	LastUpdate     time.Time `json:"last_update"`
}
