package domain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Treasury is the custody ledger holding the vault's and adapters' tokens.
// It follows ERC20 semantics: TransferFrom spends an allowance granted by Approve.
type Treasury interface {
	BalanceOf(ctx context.Context, asset, holder common.Address) (*big.Int, error)
	Transfer(ctx context.Context, asset, from, to common.Address, amount *big.Int) error
	Approve(ctx context.Context, asset, owner, spender common.Address, amount *big.Int) error
	TransferFrom(ctx context.Context, asset, spender, from, to common.Address, amount *big.Int) error
}

// Messenger is the outbound cross-chain relayer. Send returns the
// relayer-assigned sequence number.
type Messenger interface {
	QuoteDeliveryFee(ctx context.Context, targetDomain uint32, gasLimit uint64) (*big.Int, error)
	Send(ctx context.Context, targetDomain uint32, payload []byte, fee *big.Int) (uint64, error)
}

// HeightSource reports the current block height used in report ids.
type HeightSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
}
