package storage

import (
	"context"
	"fmt"
	"time"

	"deal-scraper/internal/types"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ProductsCollection holds one document per (asin, site).
const ProductsCollection = "products"

// MongoSink mirrors run records into MongoDB.
type MongoSink struct {
	client     *mongo.Client
	collection *mongo.Collection
	logger     types.Logger
}

// NewMongoSink connects to uri and verifies the server is reachable.
func NewMongoSink(ctx context.Context, uri, dbName string, logger types.Logger) (*MongoSink, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	return &MongoSink{
		client:     client,
		collection: client.Database(dbName).Collection(ProductsCollection),
		logger:     logger,
	}, nil
}

// Upsert writes records in one unordered bulk operation.
func (s *MongoSink) Upsert(ctx context.Context, records []types.ProductRecord) error {
	models := upsertModels(records)
	if len(models) == 0 {
		return nil
	}

	res, err := s.collection.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return fmt.Errorf("failed to upsert products: %w", err)
	}
	s.logger.Infof("Mongo upsert: %d inserted, %d updated", res.UpsertedCount, res.ModifiedCount)
	return nil
}

// Close disconnects the client.
func (s *MongoSink) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func upsertModels(records []types.ProductRecord) []mongo.WriteModel {
	models := make([]mongo.WriteModel, 0, len(records))
	for _, r := range records {
		filter := bson.M{"asin": r.ID, "site": r.Site}
		update := bson.M{"$set": productDocument(r)}
		models = append(models, mongo.NewUpdateOneModel().SetFilter(filter).SetUpdate(update).SetUpsert(true))
	}
	return models
}

func productDocument(r types.ProductRecord) bson.M {
	return bson.M{
		"asin":             r.ID,
		"title":            r.Title,
		"brand":            r.Brand,
		"image_url":        r.ImageURL,
		"price_current":    r.PriceCurrent,
		"price_original":   r.PriceOriginal,
		"discount_percent": r.DiscountPercent,
		"rating":           r.Rating,
		"review_count":     r.ReviewCount,
		"product_url":      r.ProductURL,
		"affiliate_tag":    r.AffiliateTag,
		"category":         r.Category,
		"site":             r.Site,
		"scraped_at":       r.ScrapedAt,
	}
}
