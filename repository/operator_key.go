package repository

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/linlinbupt123-crypto/vault_service/db"
	"github.com/linlinbupt123-crypto/vault_service/entity"
)

type OperatorKey struct {
	col *mongo.Collection
}

func NewOperatorKeyRepo(m *db.MongoRepo) *OperatorKey {
	return &OperatorKey{col: m.KeyColl}
}

func (r *OperatorKey) CreateOperatorKey(ctx context.Context, k *entity.OperatorKey) error {
	res, err := r.col.InsertOne(ctx, k)
	if err != nil {
		return err
	}
	if id, ok := res.InsertedID.(primitive.ObjectID); ok {
		k.ID = id.Hex()
	}
	return nil
}

func (r *OperatorKey) OperatorKeyByLabel(ctx context.Context, label string) (*entity.OperatorKey, error) {
	var k entity.OperatorKey
	if err := r.col.FindOne(ctx, bson.M{"label": label}).Decode(&k); err != nil {
		return nil, err
	}
	return &k, nil
}
