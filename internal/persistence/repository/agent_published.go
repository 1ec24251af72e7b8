package repository

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/intervo/stream-gateway/internal/domain"
	"github.com/intervo/stream-gateway/internal/persistence/db"
)

type publishedAgentRepository struct {
	db *mongo.Database
}

// NewPublishedAgentRepository is the Mongo-backed agent directory: it
// resolves widget identifiers against the published-agents collection.
func NewPublishedAgentRepository(database *mongo.Database) domain.AgentDirectory {
	return &publishedAgentRepository{
		db: database,
	}
}

func (r *publishedAgentRepository) FindPublishedByWidgetID(ctx context.Context, widgetID string) (*domain.PublishedAgent, error) {
	collection := r.db.Collection(db.AgentsPublishedCollection)

	var agent domain.PublishedAgent
	err := collection.FindOne(ctx, bson.M{"widgetId": widgetID}).Decode(&agent)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrAgentNotFound
		}
		return nil, err
	}

	return &agent, nil
}
