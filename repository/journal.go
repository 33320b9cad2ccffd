package repository

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/linlinbupt123-crypto/vault_service/db"
	"github.com/linlinbupt123-crypto/vault_service/entity"
)

// Amounts are stored as decimal strings; BSON has no 256-bit integer.

type pendingDoc struct {
	ProtocolID string    `bson:"protocol_id"`
	Sequence   uint64    `bson:"sequence"`
	Action     string    `bson:"action"`
	Amount     string    `bson:"amount"`
	Shares     string    `bson:"shares"`
	IssuedRate string    `bson:"issued_rate"`
	IssuedAt   time.Time `bson:"issued_at"`
	State      string    `bson:"state"`
	ResolvedAt time.Time `bson:"resolved_at,omitempty"`
}

type reportDoc struct {
	ProtocolID     string    `bson:"protocol_id"`
	Deposited      string    `bson:"deposited"`
	CurrentValue   string    `bson:"current_value"`
	PendingRewards string    `bson:"pending_rewards"`
	APY            uint64    `bson:"apy"`
	LastUpdate     time.Time `bson:"last_update"`
}

type distributionDoc struct {
	ReportID    string    `bson:"report_id"`
	Asset       string    `bson:"asset"`
	Yield       string    `bson:"yield"`
	TotalAssets string    `bson:"total_assets"`
	Timestamp   time.Time `bson:"timestamp"`
	BlockHeight uint64    `bson:"block_height"`
	Sequence    uint64    `bson:"sequence"`
	Fee         string    `bson:"fee"`
}

// Journal keeps an audit trail of settlement events and distributions.
// Vault state itself lives in memory; the journal is write-mostly.
type Journal struct {
	pending       *mongo.Collection
	reports       *mongo.Collection
	distributions *mongo.Collection
}

func NewJournal(m *db.MongoRepo) *Journal {
	return &Journal{
		pending:       m.PendingColl,
		reports:       m.ReportColl,
		distributions: m.DistributionColl,
	}
}

// RecordPending upserts tx keyed by protocol and sequence, so the issued and
// resolved events of one transaction end up in one document.
func (j *Journal) RecordPending(ctx context.Context, protocolID string, tx entity.PendingTransaction) error {
	doc := toPendingDoc(protocolID, tx)
	_, err := j.pending.ReplaceOne(ctx,
		bson.M{"protocol_id": protocolID, "sequence": tx.Sequence},
		doc,
		options.Replace().SetUpsert(true))
	return err
}

// Outstanding lists transactions of protocolID still awaiting confirmation.
func (j *Journal) Outstanding(ctx context.Context, protocolID string) ([]entity.PendingTransaction, error) {
	opts := options.Find().SetSort(bson.M{"sequence": 1})
	cur, err := j.pending.Find(ctx, bson.M{
		"protocol_id": protocolID,
		"state":       entity.StateIssued.String(),
	}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []entity.PendingTransaction
	for cur.Next(ctx) {
		var d pendingDoc
		if err := cur.Decode(&d); err != nil {
			return nil, err
		}
		tx, err := fromPendingDoc(d)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, cur.Err()
}

func (j *Journal) RecordReport(ctx context.Context, r entity.YieldReport) error {
	_, err := j.reports.InsertOne(ctx, toReportDoc(r))
	return err
}

func (j *Journal) RecordDistribution(ctx context.Context, d entity.Distribution) error {
	_, err := j.distributions.InsertOne(ctx, toDistributionDoc(d))
	return err
}

// Distributions returns the most recent distributions for asset, newest first.
func (j *Journal) Distributions(ctx context.Context, asset common.Address, limit int64) ([]entity.Distribution, error) {
	opts := options.Find().SetSort(bson.M{"timestamp": -1}).SetLimit(limit)
	cur, err := j.distributions.Find(ctx, bson.M{"asset": asset.Hex()}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []entity.Distribution
	for cur.Next(ctx) {
		var d distributionDoc
		if err := cur.Decode(&d); err != nil {
			return nil, err
		}
		out = append(out, fromDistributionDoc(d))
	}
	return out, cur.Err()
}

func toPendingDoc(protocolID string, tx entity.PendingTransaction) pendingDoc {
	return pendingDoc{
		ProtocolID: protocolID,
		Sequence:   tx.Sequence,
		Action:     tx.Action.String(),
		Amount:     str(tx.Amount),
		Shares:     str(tx.Shares),
		IssuedRate: tx.IssuedRate.String(),
		IssuedAt:   tx.IssuedAt,
		State:      tx.State.String(),
		ResolvedAt: tx.ResolvedAt,
	}
}

func fromPendingDoc(d pendingDoc) (entity.PendingTransaction, error) {
	rate, err := decimal.NewFromString(d.IssuedRate)
	if err != nil {
		return entity.PendingTransaction{}, err
	}
	action, err := entity.ParseAction(d.Action)
	if err != nil {
		return entity.PendingTransaction{}, err
	}
	state, err := entity.ParseSettlementState(d.State)
	if err != nil {
		return entity.PendingTransaction{}, err
	}
	return entity.PendingTransaction{
		Sequence:   d.Sequence,
		Action:     action,
		Amount:     num(d.Amount),
		Shares:     num(d.Shares),
		IssuedRate: rate,
		IssuedAt:   d.IssuedAt,
		State:      state,
		ResolvedAt: d.ResolvedAt,
	}, nil
}

func toReportDoc(r entity.YieldReport) reportDoc {
	return reportDoc{
		ProtocolID:     r.ProtocolID,
		Deposited:      str(r.Deposited),
		CurrentValue:   str(r.CurrentValue),
		PendingRewards: str(r.PendingRewards),
		APY:            r.APY,
		LastUpdate:     r.LastUpdate,
	}
}

func toDistributionDoc(d entity.Distribution) distributionDoc {
	return distributionDoc{
		ReportID:    d.ReportID.Hex(),
		Asset:       d.Asset.Hex(),
		Yield:       str(d.Yield),
		TotalAssets: str(d.TotalAssets),
		Timestamp:   d.Timestamp,
		BlockHeight: d.BlockHeight,
		Sequence:    d.Sequence,
		Fee:         str(d.Fee),
	}
}

func fromDistributionDoc(d distributionDoc) entity.Distribution {
	return entity.Distribution{
		ReportID:    common.HexToHash(d.ReportID),
		Asset:       common.HexToAddress(d.Asset),
		Yield:       num(d.Yield),
		TotalAssets: num(d.TotalAssets),
		Timestamp:   d.Timestamp,
		BlockHeight: d.BlockHeight,
		Sequence:    d.Sequence,
		Fee:         num(d.Fee),
	}
}

func str(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func num(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return new(big.Int)
	}
	return v
}
