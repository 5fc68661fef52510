package migrations

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const flightsCollection = "flights"

// EnsureFlightIndexes creates the indexes the payload configuration lookup
// relies on. It is safe to run on every start.
func EnsureFlightIndexes(ctx context.Context, db *mongo.Database) error {
	collection := db.Collection(flightsCollection)

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "type", Value: 1}, {Key: "callsigns", Value: 1}, {Key: "end", Value: 1}},
			Options: options.Index().SetName("idx_flights_type_callsigns_end"),
		},
		{
			Keys:    bson.D{{Key: "start", Value: 1}},
			Options: options.Index().SetName("idx_flights_start"),
		},
		{
			Keys:    bson.D{{Key: "name", Value: 1}},
			Options: options.Index().SetName("idx_flights_name"),
		},
	}

	_, err := collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		if !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("failed to create indexes: %w", err)
		}
	}

	return nil
}
