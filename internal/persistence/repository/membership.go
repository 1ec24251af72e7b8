package repository

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/intervo/stream-gateway/internal/infrastructure/broker"
	"github.com/intervo/stream-gateway/internal/persistence/db"
)

type membershipRepository struct {
	db *mongo.Database
}

// NewMembershipRepository keeps the cross-instance membership directory: one
// document per room key holding the set of joined connection IDs. Advisory
// state for observability and presence queries, never read for delivery.
func NewMembershipRepository(database *mongo.Database) broker.MembershipDirectory {
	return &membershipRepository{
		db: database,
	}
}

func (r *membershipRepository) AddMember(ctx context.Context, roomKey, connectionID string) error {
	collection := r.db.Collection(db.RoomMembersCollection)

	update := bson.M{"$addToSet": bson.M{"connectionIds": connectionID}}
	opts := options.Update().SetUpsert(true)

	_, err := collection.UpdateOne(ctx, bson.M{"_id": roomKey}, update, opts)
	return err
}

func (r *membershipRepository) RemoveMember(ctx context.Context, roomKey, connectionID string) error {
	collection := r.db.Collection(db.RoomMembersCollection)

	update := bson.M{"$pull": bson.M{"connectionIds": connectionID}}
	if _, err := collection.UpdateOne(ctx, bson.M{"_id": roomKey}, update); err != nil {
		return err
	}

	// Drop the document once the set is empty, mirroring local room cleanup.
	_, err := collection.DeleteOne(ctx, bson.M{
		"_id":           roomKey,
		"connectionIds": bson.M{"$size": 0},
	})
	return err
}

func (r *membershipRepository) Members(ctx context.Context, roomKey string) ([]string, error) {
	collection := r.db.Collection(db.RoomMembersCollection)

	var doc struct {
		ConnectionIDs []string `bson:"connectionIds"`
	}
	err := collection.FindOne(ctx, bson.M{"_id": roomKey}).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}

	return doc.ConnectionIDs, nil
}
