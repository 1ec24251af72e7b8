package repository

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/intervo/stream-gateway/internal/domain"
	"github.com/intervo/stream-gateway/internal/persistence/db"
)

type toolRepository struct {
	db *mongo.Database
}

func NewToolRepository(database *mongo.Database) domain.ToolRepository {
	return &toolRepository{
		db: database,
	}
}

func (r *toolRepository) GetAll(ctx context.Context) ([]domain.Tool, error) {
	collection := r.db.Collection(db.ToolsCollection)

	cursor, err := collection.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	tools := make([]domain.Tool, 0)
	if err := cursor.All(ctx, &tools); err != nil {
		return nil, err
	}

	return tools, nil
}
