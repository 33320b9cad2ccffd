package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	wrapErrors "github.com/linlinbupt123-crypto/vault_service/errors"
)

type fakeBackend struct {
	nonce       uint64
	sent        []*types.Transaction
	sendErr     error
	estimate    uint64
	estimateErr error
	calls       []ethereum.CallMsg
}

func (f *fakeBackend) ChainID(context.Context) (*big.Int, error) { return big.NewInt(11155111), nil }

func (f *fakeBackend) BlockNumber(context.Context) (uint64, error) { return 123, nil }

func (f *fakeBackend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: big.NewInt(10)}, nil
}

func (f *fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) { return big.NewInt(2), nil }

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return f.nonce, nil
}

func (f *fakeBackend) EstimateGas(_ context.Context, msg ethereum.CallMsg) (uint64, error) {
	f.calls = append(f.calls, msg)
	if f.estimateErr != nil {
		return 0, f.estimateErr
	}
	return f.estimate, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	f.nonce++
	return nil
}

var mailbox = common.HexToAddress("0x77")

func newRelayer(t *testing.T) (*ETHRelayer, *fakeBackend) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	b := &fakeBackend{nonce: 5, estimate: 100_000}
	return NewETHRelayer(b, key, map[uint32]common.Address{42161: mailbox}, zap.NewNop()), b
}

func TestQuoteDeliveryFee(t *testing.T) {
	r, _ := newRelayer(t)
	fee, err := r.QuoteDeliveryFee(context.Background(), 42161, 1000)
	require.NoError(t, err)
	// (2*10 + 2) * 1000
	assert.Equal(t, "22000", fee.String())

	_, err = r.QuoteDeliveryFee(context.Background(), 1, 1000)
	assert.Equal(t, wrapErrors.CodeChainRPC, wrapErrors.CodeOf(err))
}

func TestSendSignsMailboxTransaction(t *testing.T) {
	r, b := newRelayer(t)
	payload := []byte{0xca, 0xfe}

	seq, err := r.Send(context.Background(), 42161, payload, big.NewInt(900))
	require.NoError(t, err)
	assert.Equal(t, uint64(5), seq)

	require.Len(t, b.sent, 1)
	tx := b.sent[0]
	assert.Equal(t, mailbox, *tx.To())
	assert.Equal(t, payload, tx.Data())
	assert.Equal(t, "900", tx.Value().String())
	assert.Equal(t, uint64(120_000), tx.Gas())
	assert.Equal(t, "22", tx.GasFeeCap().String())

	from, err := types.Sender(types.NewLondonSigner(big.NewInt(11155111)), tx)
	require.NoError(t, err)
	assert.Equal(t, r.From(), from)

	require.Len(t, b.calls, 1)
	call := b.calls[0]
	assert.Equal(t, r.From(), call.From)
	assert.Equal(t, mailbox, *call.To)
	assert.Equal(t, "900", call.Value.String())
	assert.Equal(t, payload, call.Data)

	seq, err = r.Send(context.Background(), 42161, payload, big.NewInt(1))
	require.NoError(t, err)
	assert.Equal(t, uint64(6), seq)
}

func TestSendGasNeverBelowIntrinsic(t *testing.T) {
	r, b := newRelayer(t)
	b.estimate = 1000
	payload := make([]byte, 10)

	_, err := r.Send(context.Background(), 42161, payload, big.NewInt(1))
	require.NoError(t, err)
	require.Len(t, b.sent, 1)
	assert.Equal(t, uint64(txBaseGas+10*txGasPerByte), b.sent[0].Gas())
}

func TestSendEstimateFailureSendsNothing(t *testing.T) {
	r, b := newRelayer(t)
	b.estimateErr = errors.New("execution reverted")

	_, err := r.Send(context.Background(), 42161, []byte{1}, big.NewInt(1))
	assert.Equal(t, wrapErrors.CodeGasEstimate, wrapErrors.CodeOf(err))
	assert.Empty(t, b.sent)
	assert.Equal(t, uint64(5), b.nonce)
}

func TestSendFailureIsWrapped(t *testing.T) {
	r, b := newRelayer(t)
	b.sendErr = errors.New("nonce too low")
	_, err := r.Send(context.Background(), 42161, nil, big.NewInt(1))
	assert.Equal(t, wrapErrors.SendTxErr, wrapErrors.CodeOf(err))

	n, err := r.BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(123), n)
}
