package seed

import (
	"context"
	"log"
	"time"

	"mls_sync/flatten"
	"mls_sync/models"
	"mls_sync/storage"
)

// UpsertFunc writes one batch of listings, returning per-batch counts.
type UpsertFunc func(ctx context.Context, docs []models.Listing) (storage.BulkResult, error)

type Options struct {
	BatchSize int
	Closed    bool // apply closed-record backfills before writing
}

// Result aggregates counts across every batch of one seeding pass.
type Result struct {
	Updated int
	Skipped int
	Failed  int
}

// Run validates and bulk-upserts listings in batches. Records missing their
// identity fields are skipped and counted; batch-level write errors are
// counted and logged without aborting the remaining batches.
func Run(ctx context.Context, upsert UpsertFunc, docs []models.Listing, opts Options) (Result, error) {
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = 500
	}

	var res Result
	valid := make([]models.Listing, 0, len(docs))
	for i := range docs {
		doc := docs[i]
		if doc.ListingKey == "" || doc.UnparsedAddress == "" || doc.Slug == "" {
			res.Skipped++
			continue
		}
		if doc.Coordinates == nil && doc.Latitude != nil && doc.Longitude != nil {
			doc.Coordinates = models.NewGeoPoint(*doc.Longitude, *doc.Latitude)
		}
		if opts.Closed {
			backfillClosed(&doc)
		}
		valid = append(valid, doc)
	}
	if res.Skipped > 0 {
		log.Printf("Seed: skipped %d records missing listingKey, unparsedAddress or slug", res.Skipped)
	}

	batches := (len(valid) + batchSize - 1) / batchSize
	for i := 0; i < len(valid); i += batchSize {
		end := i + batchSize
		if end > len(valid) {
			end = len(valid)
		}

		bulk, err := upsert(ctx, valid[i:end])
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			// Count the batch as failed and keep going.
			log.Printf("Seed: Warning: batch %d/%d failed: %v", i/batchSize+1, batches, err)
			res.Failed += end - i
			continue
		}
		res.Updated += bulk.Upserted + bulk.Modified
		res.Failed += bulk.Failed
		log.Printf("Seed: batch %d/%d — %d upserted, %d modified, %d failed",
			i/batchSize+1, batches, bulk.Upserted, bulk.Modified, bulk.Failed)
	}

	return res, nil
}

// backfillClosed guarantees the closed-collection invariants: closeDate is
// never null (it drives the TTL index) and closePrice falls back to the
// list price. Provenance fields default rather than disappear.
func backfillClosed(doc *models.Listing) {
	if doc.CloseDate == nil {
		fallback := time.Now().UTC()
		if doc.ModificationTimestamp != "" {
			if t, err := time.Parse(time.RFC3339, doc.ModificationTimestamp); err == nil {
				fallback = t
			}
		}
		doc.CloseDate = &fallback
	}
	if doc.ClosePrice == nil && doc.ListPrice != nil {
		doc.ClosePrice = doc.ListPrice
	}
	if doc.MlsSource == "" {
		doc.MlsSource = flatten.UnknownSource
	}
	if doc.StandardStatus == "" {
		doc.StandardStatus = models.StatusClosed
	}
}
