package entity

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// NativeAsset identifies the chain's native coin. Deposits of it arrive as
// value sent with the bridge call instead of through an allowance.
var NativeAsset = common.Address{}

// Asset is the vault's per-asset ledger entry.
type Asset struct {
	ID                common.Address `json:"id"`
	TotalDeposited    *big.Int       `json:"total_deposited"`
	TotalInStrategies *big.Int       `json:"total_in_strategies"`
	AccumulatedYield  *big.Int       `json:"accumulated_yield"`
	ReserveRatio      uint64         `json:"reserve_ratio"` // bps
	LastHarvestTime   time.Time      `json:"last_harvest_time"`
	IsSupported       bool           `json:"is_supported"`
}

// Clone returns a deep copy safe to hand outside the ledger.
func (a *Asset) Clone() Asset {
	return Asset{
		ID:                a.ID,
		TotalDeposited:    new(big.Int).Set(a.TotalDeposited),
		TotalInStrategies: new(big.Int).Set(a.TotalInStrategies),
		AccumulatedYield:  new(big.Int).Set(a.AccumulatedYield),
		ReserveRatio:      a.ReserveRatio,
		LastHarvestTime:   a.LastHarvestTime,
		IsSupported:       a.IsSupported,
	}
}

// Distribution records one yield report handed to the outbound messenger.
type Distribution struct {
	ReportID    common.Hash    `json:"report_id"`
	Asset       common.Address `json:"asset"`
	Yield       *big.Int       `json:"yield"`
	TotalAssets *big.Int       `json:"total_assets"`
	Timestamp   time.Time      `json:"timestamp"`
	BlockHeight uint64         `json:"block_height"`
	Sequence    uint64         `json:"sequence"`
	Fee         *big.Int       `json:"fee"`
}
