package repository

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/linlinbupt123-crypto/vault_service/entity"
)

func TestPendingDocRoundTrip(t *testing.T) {
	tx := entity.PendingTransaction{
		Sequence:   7,
		Action:     entity.ActionWithdraw,
		Amount:     new(big.Int).Lsh(big.NewInt(1), 200),
		Shares:     big.NewInt(12),
		IssuedRate: decimal.RequireFromString("1.0375"),
		IssuedAt:   time.Unix(1_700_000_000, 0).UTC(),
		State:      entity.StateConfirmedFailure,
		ResolvedAt: time.Unix(1_700_000_600, 0).UTC(),
	}

	raw, err := bson.Marshal(toPendingDoc("aave", tx))
	require.NoError(t, err)
	var doc pendingDoc
	require.NoError(t, bson.Unmarshal(raw, &doc))
	assert.Equal(t, "aave", doc.ProtocolID)
	assert.Equal(t, "withdraw", doc.Action)

	got, err := fromPendingDoc(doc)
	require.NoError(t, err)
	assert.Equal(t, tx.Amount.String(), got.Amount.String())
	assert.True(t, tx.IssuedRate.Equal(got.IssuedRate))
	assert.Equal(t, tx.State, got.State)
	assert.True(t, tx.ResolvedAt.Equal(got.ResolvedAt))
}

func TestPendingDocRejectsUnknownState(t *testing.T) {
	_, err := fromPendingDoc(pendingDoc{IssuedRate: "1", Action: "deposit", State: "lost"})
	assert.Error(t, err)
}

func TestDistributionDoc(t *testing.T) {
	d := entity.Distribution{
		ReportID:    common.HexToHash("0xabc"),
		Asset:       common.HexToAddress("0xa0"),
		Yield:       big.NewInt(5),
		TotalAssets: big.NewInt(1005),
		BlockHeight: 77,
		Sequence:    3,
	}
	doc := toDistributionDoc(d)
	assert.Equal(t, "0", doc.Fee)
	back := fromDistributionDoc(doc)
	assert.Equal(t, d.ReportID, back.ReportID)
	assert.Equal(t, d.Asset, back.Asset)
	assert.Equal(t, "1005", back.TotalAssets.String())
}
