package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"mls_sync/config"
	"mls_sync/models"
)

// closedRetention drives the TTL index on the closed collection: five years
// from closeDate, after which Mongo reaps the document.
const closedRetention = 5 * 365 * 24 * time.Hour

type MongoStore struct {
	client *mongo.Client
	active *mongo.Collection
	closed *mongo.Collection
	photos *mongo.Collection
}

func NewMongoStore(ctx context.Context, cfg config.MongoConfig) (*MongoStore, error) {
	opts := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetSocketTimeout(cfg.SocketTimeout)

	var client *mongo.Client
	var err error
	for attempt := 1; attempt <= 3; attempt++ {
		client, err = mongo.Connect(ctx, opts)
		if err == nil {
			err = client.Ping(ctx, nil)
		}
		if err == nil {
			break
		}
		log.Printf("Mongo: connect attempt %d failed: %v", attempt, err)
		select {
		case <-time.After(time.Duration(attempt) * 2 * time.Second):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to mongo: %w", err)
	}

	db := client.Database(cfg.Database)
	return &MongoStore{
		client: client,
		active: db.Collection(cfg.ActiveCollection),
		closed: db.Collection(cfg.ClosedCollection),
		photos: db.Collection(cfg.PhotosCollection),
	}, nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// EnsureActiveIndexes builds the active collection's index set. Safe to
// re-run; Mongo treats identical definitions as a no-op.
func (s *MongoStore) EnsureActiveIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "listingKey", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "coordinates", Value: "2dsphere"}}},
		{Keys: bson.D{{Key: "mlsSource", Value: 1}, {Key: "mlsId", Value: 1}}},
		{Keys: bson.D{{Key: "city", Value: 1}, {Key: "standardStatus", Value: 1}}},
		{Keys: bson.D{{Key: "subdivisionName", Value: 1}, {Key: "standardStatus", Value: 1}}, Options: options.Index().SetSparse(true)},
		{Keys: bson.D{{Key: "propertyType", Value: 1}, {Key: "standardStatus", Value: 1}}},
		{Keys: bson.D{{Key: "propertySubType", Value: 1}, {Key: "standardStatus", Value: 1}}, Options: options.Index().SetSparse(true)},
		{Keys: bson.D{{Key: "modificationTimestamp", Value: -1}}},
	}
	_, err := s.active.Indexes().CreateMany(ctx, indexes)
	return err
}

// EnsureClosedIndexes builds the closed collection's index set, including
// the retention TTL on closeDate.
func (s *MongoStore) EnsureClosedIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "listingKey", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "coordinates", Value: "2dsphere"}}},
		{Keys: bson.D{{Key: "mlsSource", Value: 1}, {Key: "closeDate", Value: -1}}},
		{Keys: bson.D{{Key: "city", Value: 1}, {Key: "closeDate", Value: -1}}},
		{Keys: bson.D{{Key: "subdivisionName", Value: 1}, {Key: "closeDate", Value: -1}}, Options: options.Index().SetSparse(true)},
		{Keys: bson.D{{Key: "propertyType", Value: 1}, {Key: "closeDate", Value: -1}}},
		{Keys: bson.D{{Key: "propertySubType", Value: 1}, {Key: "closeDate", Value: -1}}, Options: options.Index().SetSparse(true)},
		{Keys: bson.D{{Key: "closePrice", Value: 1}, {Key: "closeDate", Value: -1}}},
		{Keys: bson.D{{Key: "unparsedAddress", Value: 1}, {Key: "closeDate", Value: -1}}, Options: options.Index().SetSparse(true)},
		{
			Keys:    bson.D{{Key: "closeDate", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(closedRetention.Seconds())),
		},
	}
	_, err := s.closed.Indexes().CreateMany(ctx, indexes)
	return err
}

func (s *MongoStore) EnsurePhotoIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "photoId", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "listingId", Value: 1}}},
	}
	_, err := s.photos.Indexes().CreateMany(ctx, indexes)
	return err
}

// BulkResult summarizes one unordered bulk write.
type BulkResult struct {
	Upserted int
	Modified int
	Failed   int
}

func (s *MongoStore) BulkUpsertActive(ctx context.Context, docs []models.Listing) (BulkResult, error) {
	return bulkUpsert(ctx, s.active, docs)
}

func (s *MongoStore) BulkUpsertClosed(ctx context.Context, docs []models.Listing) (BulkResult, error) {
	return bulkUpsert(ctx, s.closed, docs)
}

// bulkUpsert writes one batch unordered, so a bad document fails alone
// instead of aborting the batch. Partial write errors are counted, not
// raised.
func bulkUpsert(ctx context.Context, coll *mongo.Collection, docs []models.Listing) (BulkResult, error) {
	if len(docs) == 0 {
		return BulkResult{}, nil
	}
	writes := make([]mongo.WriteModel, 0, len(docs))
	for i := range docs {
		writes = append(writes, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"listingKey": docs[i].ListingKey}).
			SetUpdate(bson.M{"$set": docs[i]}).
			SetUpsert(true))
	}

	res, err := coll.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false))
	if err != nil {
		var bwe mongo.BulkWriteException
		if errors.As(err, &bwe) {
			out := BulkResult{Failed: len(bwe.WriteErrors)}
			if res != nil {
				out.Upserted = int(res.UpsertedCount)
				out.Modified = int(res.ModifiedCount)
			}
			for _, we := range bwe.WriteErrors {
				log.Printf("Seed: Warning: write error at index %d: %s", we.Index, we.Message)
			}
			return out, nil
		}
		return BulkResult{Failed: len(docs)}, err
	}
	return BulkResult{Upserted: int(res.UpsertedCount), Modified: int(res.ModifiedCount)}, nil
}

var liveProjection = bson.M{
	"_id":                   0,
	"listingKey":            1,
	"listingId":             1,
	"slug":                  1,
	"mlsId":                 1,
	"mlsSource":             1,
	"standardStatus":        1,
	"statusChangeTimestamp": 1,
}

// LiveListings returns a light projection of every listing still in a
// locally-live status.
func (s *MongoStore) LiveListings(ctx context.Context) ([]models.ListingRef, error) {
	filter := bson.M{"standardStatus": bson.M{"$in": models.LiveStatuses}}
	cur, err := s.active.Find(ctx, filter, options.Find().SetProjection(liveProjection))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var refs []models.ListingRef
	if err := cur.All(ctx, &refs); err != nil {
		return nil, err
	}
	return refs, nil
}

// PhotoTargets returns every active listing the photo cache should consider.
func (s *MongoStore) PhotoTargets(ctx context.Context) ([]models.ListingRef, error) {
	cur, err := s.active.Find(ctx, bson.M{}, options.Find().SetProjection(liveProjection))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var refs []models.ListingRef
	if err := cur.All(ctx, &refs); err != nil {
		return nil, err
	}
	return refs, nil
}

// GetActive loads one full active document. Missing documents come back as
// nil, not an error.
func (s *MongoStore) GetActive(ctx context.Context, listingKey string) (*models.Listing, error) {
	var doc models.Listing
	err := s.active.FindOne(ctx, bson.M{"listingKey": listingKey}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *MongoStore) UpdateActive(ctx context.Context, listingKey string, fields map[string]interface{}) error {
	_, err := s.active.UpdateOne(ctx, bson.M{"listingKey": listingKey}, bson.M{"$set": fields})
	return err
}

func (s *MongoStore) UpsertClosed(ctx context.Context, doc *models.Listing) error {
	_, err := s.closed.UpdateOne(ctx,
		bson.M{"listingKey": doc.ListingKey},
		bson.M{"$set": doc},
		options.Update().SetUpsert(true))
	return err
}

func (s *MongoStore) DeleteActive(ctx context.Context, listingKey string) error {
	_, err := s.active.DeleteOne(ctx, bson.M{"listingKey": listingKey})
	return err
}

// ClosedKeysAmong reports which of the given keys already exist in the
// closed collection. Used to flag listings present in both collections.
func (s *MongoStore) ClosedKeysAmong(ctx context.Context, keys []string) ([]string, error) {
	var dupes []string
	for start := 0; start < len(keys); start += 1000 {
		end := start + 1000
		if end > len(keys) {
			end = len(keys)
		}
		cur, err := s.closed.Find(ctx,
			bson.M{"listingKey": bson.M{"$in": keys[start:end]}},
			options.Find().SetProjection(bson.M{"_id": 0, "listingKey": 1}))
		if err != nil {
			return nil, err
		}
		var chunk []models.ListingRef
		if err := cur.All(ctx, &chunk); err != nil {
			return nil, err
		}
		for _, ref := range chunk {
			dupes = append(dupes, ref.ListingKey)
		}
	}
	return dupes, nil
}

// CachedPhotoListingIDs returns the set of listing ids that already have at
// least one cached photo.
func (s *MongoStore) CachedPhotoListingIDs(ctx context.Context) (map[string]bool, error) {
	ids, err := s.photos.Distinct(ctx, "listingId", bson.M{})
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		if s, ok := id.(string); ok {
			out[s] = true
		}
	}
	return out, nil
}

func (s *MongoStore) UpsertPhoto(ctx context.Context, doc *models.PhotoDoc) error {
	_, err := s.photos.UpdateOne(ctx,
		bson.M{"photoId": doc.PhotoID},
		bson.M{"$set": doc},
		options.Update().SetUpsert(true))
	return err
}
