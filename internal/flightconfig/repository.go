package flightconfig

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"habitat/pkg/errors"
	"habitat/pkg/metrics"
)

const CollectionName = "flights"

type MongoRepository struct {
	collection *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		collection: db.Collection(CollectionName),
	}
}

func (r *MongoRepository) Lookup(ctx context.Context, callsign string, at time.Time) (*Match, error) {
	start := time.Now()
	upper := strings.ToUpper(callsign)

	flight := bson.M{
		"type":      TypeFlight,
		"callsigns": upper,
		"end":       bson.M{"$gte": at},
		"$or": bson.A{
			bson.M{"start": nil},
			bson.M{"start": bson.M{"$lte": at}},
		},
	}
	doc, err := r.findOne(ctx, flight, options.FindOne().SetSort(bson.D{{Key: "end", Value: 1}, {Key: "_id", Value: 1}}))
	if err == nil && doc == nil {
		sandbox := bson.M{"type": TypeSandbox, "callsigns": upper}
		doc, err = r.findOne(ctx, sandbox, options.FindOne().SetSort(bson.D{{Key: "_id", Value: 1}}))
	}

	metrics.ObserveDatabaseQueryDuration("parser", "mongodb", "flight_lookup", time.Since(start))
	if err != nil {
		metrics.IncDatabaseQuery("parser", "mongodb", "flight_lookup", "error")
		return nil, err
	}
	metrics.IncDatabaseQuery("parser", "mongodb", "flight_lookup", "success")

	if doc == nil {
		return nil, errors.ErrNotFound.WithDetail("message", fmt.Sprintf("no configuration for callsign %q", callsign))
	}

	match, ok := newMatch(doc, callsign)
	if !ok {
		return nil, errors.ErrNotFound.WithDetail("message", fmt.Sprintf("document %s lists %q but has no payload for it", doc.ID, upper))
	}
	return match, nil
}

func (r *MongoRepository) findOne(ctx context.Context, filter bson.M, opts *options.FindOneOptions) (*Document, error) {
	var doc Document
	err := r.collection.FindOne(ctx, filter, opts).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find flight document: %w", err)
	}
	return &doc, nil
}

// Upsert stores doc, replacing any document with the same id.
func (r *MongoRepository) Upsert(ctx context.Context, doc *Document) error {
	doc.Normalize()

	_, err := r.collection.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save flight document %s: %w", doc.ID, err)
	}
	return nil
}

func (r *MongoRepository) Get(ctx context.Context, id string) (*Document, error) {
	doc, err := r.findOne(ctx, bson.M{"_id": id}, options.FindOne())
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, errors.ErrNotFound.WithDetail("message", fmt.Sprintf("flight document %s not found", id))
	}
	return doc, nil
}
