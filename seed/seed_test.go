package seed

import (
	"context"
	"errors"
	"testing"
	"time"

	"mls_sync/models"
	"mls_sync/storage"
)

func listing(key string) models.Listing {
	price := 500000.0
	return models.Listing{
		ListingKey:      key,
		Slug:            key,
		UnparsedAddress: "123 Main St",
		ListPrice:       &price,
	}
}

// fakeUpserter pretends every first-seen key is an upsert and every
// re-seen key with identical content is untouched.
type fakeUpserter struct {
	seen    map[string]models.Listing
	batches [][]models.Listing
	failAll bool
}

func newFakeUpserter() *fakeUpserter {
	return &fakeUpserter{seen: make(map[string]models.Listing)}
}

func (f *fakeUpserter) upsert(ctx context.Context, docs []models.Listing) (storage.BulkResult, error) {
	if f.failAll {
		return storage.BulkResult{}, errors.New("connection reset")
	}
	f.batches = append(f.batches, docs)
	var res storage.BulkResult
	for _, doc := range docs {
		if _, ok := f.seen[doc.ListingKey]; !ok {
			res.Upserted++
		}
		f.seen[doc.ListingKey] = doc
	}
	return res, nil
}

func TestRunSkipsUnseedableRecords(t *testing.T) {
	docs := []models.Listing{
		listing("k1"),
		{Slug: "no-key", UnparsedAddress: "1 Elm"},
		{ListingKey: "k2", Slug: "k2"}, // no address
		{ListingKey: "k3", UnparsedAddress: "2 Elm"}, // no slug
	}
	up := newFakeUpserter()
	res, err := Run(context.Background(), up.upsert, docs, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Updated != 1 || res.Skipped != 3 || res.Failed != 0 {
		t.Errorf("result = %+v, want 1 updated, 3 skipped", res)
	}
}

func TestRunBatching(t *testing.T) {
	var docs []models.Listing
	for _, k := range []string{"a", "b", "c", "d", "e"} {
		docs = append(docs, listing(k))
	}
	up := newFakeUpserter()
	res, err := Run(context.Background(), up.upsert, docs, Options{BatchSize: 2})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(up.batches) != 3 {
		t.Errorf("batches = %d, want 3", len(up.batches))
	}
	if res.Updated != 5 {
		t.Errorf("updated = %d, want 5", res.Updated)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	docs := []models.Listing{listing("k1"), listing("k2")}
	up := newFakeUpserter()

	first, err := Run(context.Background(), up.upsert, docs, Options{})
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	second, err := Run(context.Background(), up.upsert, docs, Options{})
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if first.Updated != 2 {
		t.Errorf("first updated = %d, want 2", first.Updated)
	}
	if second.Updated != 0 || second.Failed != 0 {
		t.Errorf("second run = %+v, want all no-ops", second)
	}
	if len(up.seen) != 2 {
		t.Errorf("document set = %d, want 2 (no duplicates)", len(up.seen))
	}
}

func TestRunBatchFailureDoesNotAbort(t *testing.T) {
	up := newFakeUpserter()
	up.failAll = true
	res, err := Run(context.Background(), up.upsert, []models.Listing{listing("k1")}, Options{})
	if err != nil {
		t.Fatalf("Run should swallow batch errors, got %v", err)
	}
	if res.Failed != 1 {
		t.Errorf("failed = %d, want 1", res.Failed)
	}
}

func TestClosedBackfills(t *testing.T) {
	doc := listing("k1")
	doc.MlsSource = ""
	up := newFakeUpserter()

	if _, err := Run(context.Background(), up.upsert, []models.Listing{doc}, Options{Closed: true}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := up.seen["k1"]
	if got.CloseDate == nil {
		t.Fatal("closeDate must never be null in the closed collection")
	}
	if got.ClosePrice == nil || *got.ClosePrice != *doc.ListPrice {
		t.Errorf("closePrice = %v, want listPrice fallback", got.ClosePrice)
	}
	if got.MlsSource == "" {
		t.Error("mlsSource should be defaulted, not empty")
	}
	if got.StandardStatus != models.StatusClosed {
		t.Errorf("standardStatus = %q, want Closed", got.StandardStatus)
	}
}

func TestClosedBackfillUsesModificationTimestamp(t *testing.T) {
	doc := listing("k1")
	doc.ModificationTimestamp = "2023-11-05T12:00:00Z"
	up := newFakeUpserter()

	if _, err := Run(context.Background(), up.upsert, []models.Listing{doc}, Options{Closed: true}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := time.Date(2023, 11, 5, 12, 0, 0, 0, time.UTC)
	if got := up.seen["k1"].CloseDate; got == nil || !got.Equal(want) {
		t.Errorf("closeDate = %v, want %v", got, want)
	}
}

func TestClosedKeepsSourceCloseFields(t *testing.T) {
	doc := listing("k1")
	closeDate := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	closePrice := 480000.0
	doc.CloseDate = &closeDate
	doc.ClosePrice = &closePrice
	up := newFakeUpserter()

	if _, err := Run(context.Background(), up.upsert, []models.Listing{doc}, Options{Closed: true}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := up.seen["k1"]
	if !got.CloseDate.Equal(closeDate) || *got.ClosePrice != closePrice {
		t.Errorf("backfill overwrote source close fields: %v %v", got.CloseDate, *got.ClosePrice)
	}
}
