package request

// Amounts are base-unit decimal strings; addresses are 0x-prefixed hex.

type DepositReq struct {
	Asset  string `json:"asset" binding:"required"`
	Amount string `json:"amount" binding:"required"`
}

type WithdrawReq struct {
	Asset     string `json:"asset" binding:"required"`
	Recipient string `json:"recipient" binding:"required"`
	Amount    string `json:"amount" binding:"required"`
}

type ConfirmReq struct {
	ProtocolID string `json:"protocol_id" binding:"required"`
	Sequence   uint64 `json:"sequence"`
	Success    bool   `json:"success"`
}

type YieldReportReq struct {
	ProtocolID     string `json:"protocol_id" binding:"required"`
	Deposited      string `json:"deposited"`
	CurrentValue   string `json:"current_value" binding:"required"`
	PendingRewards string `json:"pending_rewards"`
	APY            uint64 `json:"apy"`
}

type ExchangeRateReq struct {
	ProtocolID string `json:"protocol_id" binding:"required"`
	Rate       string `json:"rate" binding:"required"`
}

type AddAssetReq struct {
	Asset        string `json:"asset" binding:"required"`
	ReserveRatio uint64 `json:"reserve_ratio"`
}

type ReserveRatioReq struct {
	Asset        string `json:"asset" binding:"required"`
	ReserveRatio uint64 `json:"reserve_ratio"`
}

type HarvestIntervalReq struct {
	Interval string `json:"interval" binding:"required"` // e.g. "12h"
}

type AddStrategyReq struct {
	Asset      string `json:"asset" binding:"required"`
	ProtocolID string `json:"protocol_id" binding:"required"`
	Weight     uint64 `json:"weight"`
}

type StrategyIndexReq struct {
	Asset string `json:"asset" binding:"required"`
	Index int    `json:"index"`
}

type StrategyWeightReq struct {
	Asset  string `json:"asset" binding:"required"`
	Index  int    `json:"index"`
	Weight uint64 `json:"weight"`
}

type StrategyActiveReq struct {
	Asset  string `json:"asset" binding:"required"`
	Index  int    `json:"index"`
	Active bool   `json:"active"`
}

type AssetReq struct {
	Asset string `json:"asset" binding:"required"`
}

type FundFeesReq struct {
	// ProtocolID funds a remote adapter; empty funds the vault's report budget.
	ProtocolID string `json:"protocol_id"`
	Amount     string `json:"amount" binding:"required"`
}
