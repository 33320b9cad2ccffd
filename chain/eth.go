package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	wrapErrors "github.com/linlinbupt123-crypto/vault_service/errors"
	"github.com/linlinbupt123-crypto/vault_service/utils"
)

const (
	txBaseGas = 21_000
	// per calldata byte, enough for the EIP-7623 floor on non-zero bytes
	txGasPerByte = 40
	// headroom over the node's estimate, in percent
	gasMargin = 20
)

// Backend is the part of ethclient.Client the relayer uses.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

func Dial(ctx context.Context, rpc string) (*ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rpc)
	if err != nil {
		return nil, wrapErrors.WrapWithCode(wrapErrors.DailChain, "eth dial", err)
	}
	return client, nil
}

// ETHRelayer hands payloads to the per-domain mailbox contract as signed
// dynamic-fee transactions. The delivery fee travels as the transaction value
// and the signer's nonce is the message sequence number.
type ETHRelayer struct {
	mu        sync.Mutex
	backend   Backend
	key       *ecdsa.PrivateKey
	from      common.Address
	mailboxes map[uint32]common.Address
	chainID   *big.Int
	log       *zap.Logger
}

func NewETHRelayer(backend Backend, key *ecdsa.PrivateKey, mailboxes map[uint32]common.Address, log *zap.Logger) *ETHRelayer {
	if log == nil {
		log = zap.NewNop()
	}
	boxes := make(map[uint32]common.Address, len(mailboxes))
	for d, addr := range mailboxes {
		boxes[d] = addr
	}
	from := crypto.PubkeyToAddress(key.PublicKey)
	return &ETHRelayer{
		backend:   backend,
		key:       key,
		from:      from,
		mailboxes: boxes,
		log:       log.Named("relayer").With(zap.String("from", from.Hex())),
	}
}

func (e *ETHRelayer) From() common.Address { return e.from }

func (e *ETHRelayer) BlockNumber(ctx context.Context) (uint64, error) {
	n, err := e.backend.BlockNumber(ctx)
	if err != nil {
		return 0, wrapErrors.WrapWithCode(wrapErrors.CodeChainRPC, "BlockNumber", err)
	}
	return n, nil
}

// QuoteDeliveryFee prices gasLimit units of remote execution at twice the
// current base fee plus the suggested tip.
func (e *ETHRelayer) QuoteDeliveryFee(ctx context.Context, targetDomain uint32, gasLimit uint64) (*big.Int, error) {
	if _, err := e.mailbox(targetDomain); err != nil {
		return nil, err
	}
	_, feeCap, err := e.fees(ctx)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Mul(feeCap, new(big.Int).SetUint64(gasLimit)), nil
}

func (e *ETHRelayer) Send(ctx context.Context, targetDomain uint32, payload []byte, fee *big.Int) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	to, err := e.mailbox(targetDomain)
	if err != nil {
		return 0, err
	}
	if e.chainID == nil {
		id, err := e.backend.ChainID(ctx)
		if err != nil {
			return 0, wrapErrors.WrapWithCode(wrapErrors.GetchainIDErr, "get chainID", err)
		}
		e.chainID = id
	}
	nonce, err := e.backend.PendingNonceAt(ctx, e.from)
	if err != nil {
		return 0, wrapErrors.WrapWithCode(wrapErrors.PendingNonceAt, "PendingNonceAt", err)
	}
	tip, feeCap, err := e.fees(ctx)
	if err != nil {
		return 0, err
	}
	value := new(big.Int).Set(fee)
	gas, err := e.gasLimit(ctx, to, value, payload)
	if err != nil {
		return 0, err
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   e.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     value,
		Data:      payload,
	})
	signed, err := types.SignTx(tx, types.NewLondonSigner(e.chainID), e.key)
	if err != nil {
		return 0, wrapErrors.WrapWithCode(wrapErrors.SignerErr, "SignTx", err)
	}
	if err := e.backend.SendTransaction(ctx, signed); err != nil {
		return 0, wrapErrors.WrapWithCode(wrapErrors.SendTxErr, "SendTransaction", err)
	}

	e.log.Info("message relayed",
		zap.Uint32("domain", targetDomain),
		zap.Uint64("nonce", nonce),
		zap.Uint64("gas", gas),
		zap.String("tx", signed.Hash().Hex()),
		zap.String("fee_eth", utils.WeiToETH(fee)))
	return nonce, nil
}

// gasLimit asks the node what the mailbox call costs and adds gasMargin
// percent, never going below the intrinsic cost of the calldata.
func (e *ETHRelayer) gasLimit(ctx context.Context, to common.Address, value *big.Int, payload []byte) (uint64, error) {
	est, err := e.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:  e.from,
		To:    &to,
		Value: value,
		Data:  payload,
	})
	if err != nil {
		return 0, wrapErrors.WrapWithCode(wrapErrors.CodeGasEstimate, "EstimateGas", err)
	}
	gas := est + est*gasMargin/100
	if floor := txBaseGas + uint64(len(payload))*txGasPerByte; gas < floor {
		gas = floor
	}
	return gas, nil
}

func (e *ETHRelayer) mailbox(targetDomain uint32) (common.Address, error) {
	to, ok := e.mailboxes[targetDomain]
	if !ok {
		return common.Address{}, wrapErrors.WrapWithCode(wrapErrors.CodeChainRPC, "mailbox",
			fmt.Errorf("no mailbox for domain %d", targetDomain))
	}
	return to, nil
}

func (e *ETHRelayer) fees(ctx context.Context) (tip, feeCap *big.Int, err error) {
	tip, err = e.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, nil, wrapErrors.WrapWithCode(wrapErrors.CodeGasEstimate, "SuggestGasTipCap", err)
	}
	header, err := e.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, nil, wrapErrors.WrapWithCode(wrapErrors.CodeChainRPC, "HeaderByNumber", err)
	}
	baseFee := header.BaseFee
	if baseFee == nil {
		baseFee = new(big.Int)
	}
	feeCap = new(big.Int).Add(new(big.Int).Mul(baseFee, big.NewInt(2)), tip)
	return tip, feeCap, nil
}
