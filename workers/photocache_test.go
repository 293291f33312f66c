package workers

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"mls_sync/models"
	"mls_sync/spark"
)

type fakePhotoFetcher struct {
	mu     sync.Mutex
	photos map[string][]spark.Photo
	denied map[string]bool
	calls  map[string]int
}

func newFakePhotoFetcher() *fakePhotoFetcher {
	return &fakePhotoFetcher{
		photos: make(map[string][]spark.Photo),
		denied: make(map[string]bool),
		calls:  make(map[string]int),
	}
}

func (f *fakePhotoFetcher) Photos(ctx context.Context, listingKey string) ([]spark.Photo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[listingKey]++
	if f.denied[listingKey] {
		return nil, spark.ErrPermissionDenied
	}
	return f.photos[listingKey], nil
}

type fakePhotoStore struct {
	mu      sync.Mutex
	targets []models.ListingRef
	cached  map[string]bool
	saved   map[string]*models.PhotoDoc
}

func newFakePhotoStore() *fakePhotoStore {
	return &fakePhotoStore{
		cached: make(map[string]bool),
		saved:  make(map[string]*models.PhotoDoc),
	}
}

func (s *fakePhotoStore) addTarget(key, id string) {
	s.targets = append(s.targets, models.ListingRef{ListingKey: key, ListingID: id, Slug: key})
}

func (s *fakePhotoStore) PhotoTargets(ctx context.Context) ([]models.ListingRef, error) {
	return s.targets, nil
}

func (s *fakePhotoStore) CachedPhotoListingIDs(ctx context.Context) (map[string]bool, error) {
	return s.cached, nil
}

func (s *fakePhotoStore) UpsertPhoto(ctx context.Context, doc *models.PhotoDoc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved[doc.PhotoID] = doc
	return nil
}

func newTestPhotoWorker(t *testing.T, src PhotoFetcher, store PhotoStore) (*PhotoWorker, *SkipIndex) {
	t.Helper()
	skip, err := LoadSkipIndex(filepath.Join(t.TempDir(), "skip.json"), 100)
	if err != nil {
		t.Fatalf("LoadSkipIndex: %v", err)
	}
	w := NewPhotoWorker(src, store, skip, nil)
	w.Workers = 2
	w.Delay = 0
	w.PauseEvery = 0
	return w, skip
}

func TestPhotoWorkerCachesPrimaryPhoto(t *testing.T) {
	src := newFakePhotoFetcher()
	src.photos["k1"] = []spark.Photo{
		{ID: "p1", Caption: "Side"},
		{ID: "p2", Caption: "Front", Uri800: "http://x/800.jpg", Primary: true},
	}
	store := newFakePhotoStore()
	store.addTarget("k1", "id1")

	w, _ := newTestPhotoWorker(t, src, store)
	summary, err := w.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Cached != 1 {
		t.Errorf("cached = %d, want 1", summary.Cached)
	}

	doc, ok := store.saved["p2"]
	if !ok {
		t.Fatal("expected the flagged primary photo to win")
	}
	if doc.ListingID != "id1" || doc.Uri800 != "http://x/800.jpg" || !doc.Primary {
		t.Errorf("doc = %+v", doc)
	}
}

func TestPhotoWorkerPermissionDeniedIsPermanent(t *testing.T) {
	src := newFakePhotoFetcher()
	src.denied["k1"] = true
	store := newFakePhotoStore()
	store.addTarget("k1", "id1")

	w, skip := newTestPhotoWorker(t, src, store)
	if _, err := w.Run(context.Background()); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if !skip.Contains("id1") {
		t.Fatal("denied listing should be in the skip index")
	}
	if src.calls["k1"] != 1 {
		t.Fatalf("calls = %d, want 1", src.calls["k1"])
	}

	// Second run: the skip index must short-circuit before the network.
	if _, err := w.Run(context.Background()); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if src.calls["k1"] != 1 {
		t.Errorf("calls after second run = %d, want still 1 (zero network)", src.calls["k1"])
	}
}

func TestPhotoWorkerSkipReasons(t *testing.T) {
	src := newFakePhotoFetcher()
	src.photos["no-photos"] = nil
	src.photos["no-id"] = []spark.Photo{{Caption: "nameless"}}

	store := photoStoreWithSkipTargets()
	w, skip := newTestPhotoWorker(t, src, store)

	summary, err := w.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Skipped[SkipNoPhotos] != 1 {
		t.Errorf("no-photos skips = %d, want 1", summary.Skipped[SkipNoPhotos])
	}
	if summary.Skipped[SkipNoPhotoID] != 1 {
		t.Errorf("no-photo-id skips = %d, want 1", summary.Skipped[SkipNoPhotoID])
	}
	if summary.Skipped[SkipMissingFields] != 1 {
		t.Errorf("missing-fields skips = %d, want 1", summary.Skipped[SkipMissingFields])
	}
	if summary.Skipped[SkipAlreadyCached] != 1 {
		t.Errorf("already-cached skips = %d, want 1", summary.Skipped[SkipAlreadyCached])
	}
	for _, id := range []string{"np-id", "ni-id", "cached-id"} {
		if !skip.Contains(id) {
			t.Errorf("%s should be recorded in the skip index", id)
		}
	}
	if src.calls["cached"] != 0 || src.calls["no-listing-id"] != 0 {
		t.Error("locally-resolvable listings must not hit the network")
	}
}

func photoStoreWithSkipTargets() *fakePhotoStore {
	store := newFakePhotoStore()
	store.addTarget("no-photos", "np-id")
	store.addTarget("no-id", "ni-id")
	store.addTarget("no-listing-id", "") // missing required identifier
	store.addTarget("cached", "cached-id")
	store.cached["cached-id"] = true
	return store
}
