package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	OperatorKeys        = "operator_keys"
	PendingTransactions = "pending_transactions"
	YieldReports        = "yield_reports"
	Distributions       = "distributions"
)

type MongoRepo struct {
	Client           *mongo.Client
	DB               *mongo.Database
	KeyColl          *mongo.Collection
	PendingColl      *mongo.Collection
	ReportColl       *mongo.Collection
	DistributionColl *mongo.Collection
}

func NewMongoRepo(ctx context.Context, uri, dbName string) (*MongoRepo, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	db := client.Database(dbName)
	return &MongoRepo{
		Client:           client,
		DB:               db,
		KeyColl:          db.Collection(OperatorKeys),
		PendingColl:      db.Collection(PendingTransactions),
		ReportColl:       db.Collection(YieldReports),
		DistributionColl: db.Collection(Distributions),
	}, nil
}

func (m *MongoRepo) Close(ctx context.Context) error {
	return m.Client.Disconnect(ctx)
}

// Indexes lists the indexes each journal collection needs.
func Indexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		OperatorKeys: {
			{Keys: bson.M{"label": 1}, Options: options.Index().SetUnique(true)},
			{Keys: bson.M{"address": 1}},
		},
		PendingTransactions: {
			{Keys: bson.D{{Key: "protocol_id", Value: 1}, {Key: "sequence", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "protocol_id", Value: 1}, {Key: "state", Value: 1}}},
		},
		YieldReports: {
			{Keys: bson.D{{Key: "protocol_id", Value: 1}, {Key: "last_update", Value: -1}}},
		},
		Distributions: {
			{Keys: bson.M{"report_id": 1}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "asset", Value: 1}, {Key: "timestamp", Value: -1}}},
		},
	}
}

// EnsureIndexes creates every index from Indexes, ignoring ones that exist.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	for name, models := range Indexes() {
		col := db.Collection(name)
		for _, idx := range models {
			if err := createIndexSafe(ctx, col, idx); err != nil {
				return fmt.Errorf("%s index error: %w", name, err)
			}
		}
	}
	return nil
}

func createIndexSafe(ctx context.Context, col *mongo.Collection, index mongo.IndexModel) error {
	_, err := col.Indexes().CreateOne(ctx, index)
	if err != nil && !strings.Contains(strings.ToLower(err.Error()), "already exists") {
		return err
	}
	return nil
}
