package workers

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"mls_sync/logging"
	"mls_sync/models"
	"mls_sync/spark"
)

// PhotoFetcher is the photo-roll side of the feed client.
type PhotoFetcher interface {
	Photos(ctx context.Context, listingKey string) ([]spark.Photo, error)
}

// PhotoStore is what the photo cache needs from the listing store.
type PhotoStore interface {
	PhotoTargets(ctx context.Context) ([]models.ListingRef, error)
	CachedPhotoListingIDs(ctx context.Context) (map[string]bool, error)
	UpsertPhoto(ctx context.Context, doc *models.PhotoDoc) error
}

type PhotoSummary struct {
	Cached  int
	Skipped map[string]int // by reason
	Failed  int
}

// PhotoWorker caches each listing's primary photo. Listings that can never
// yield a photo go into the skip index so later runs don't re-request them.
type PhotoWorker struct {
	src    PhotoFetcher
	store  PhotoStore
	skip   *SkipIndex
	runlog *logging.RunLog

	Workers    int
	Delay      time.Duration
	PauseEvery int
	Pause      time.Duration
}

func NewPhotoWorker(src PhotoFetcher, store PhotoStore, skip *SkipIndex, runlog *logging.RunLog) *PhotoWorker {
	return &PhotoWorker{
		src:        src,
		store:      store,
		skip:       skip,
		runlog:     runlog,
		Workers:    4,
		Delay:      300 * time.Millisecond,
		PauseEvery: 1000,
		Pause:      60 * time.Second,
	}
}

func (w *PhotoWorker) Run(ctx context.Context) (*PhotoSummary, error) {
	targets, err := w.store.PhotoTargets(ctx)
	if err != nil {
		return nil, err
	}
	cached, err := w.store.CachedPhotoListingIDs(ctx)
	if err != nil {
		return nil, err
	}
	log.Printf("Photos: %d listings to consider, %d already cached, %d in skip index",
		len(targets), len(cached), w.skip.Len())

	summary := &PhotoSummary{Skipped: make(map[string]int)}
	var mu sync.Mutex
	skipLocal := func(reason string) {
		mu.Lock()
		summary.Skipped[reason]++
		mu.Unlock()
	}

	// Resolve everything answerable without the network up front; only
	// listings that genuinely need a photo lookup reach the pool.
	var pending []models.ListingRef
	for _, ref := range targets {
		switch {
		case ref.ListingID == "" || ref.ListingKey == "":
			skipLocal(SkipMissingFields)
			w.skip.Add(ref.ListingID, SkipMissingFields)
		case w.skip.Contains(ref.ListingID):
			skipLocal("skip-index")
		case cached[ref.ListingID]:
			skipLocal(SkipAlreadyCached)
			w.skip.Add(ref.ListingID, SkipAlreadyCached)
		default:
			pending = append(pending, ref)
		}
	}

	var wg sync.WaitGroup
	jobs := make(chan models.ListingRef)

	workers := w.Workers
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ref := range jobs {
				reason, cachedOne, err := w.cacheOne(ctx, ref)
				mu.Lock()
				switch {
				case err != nil:
					summary.Failed++
				case cachedOne:
					summary.Cached++
				default:
					summary.Skipped[reason]++
				}
				mu.Unlock()
			}
		}()
	}

dispatch:
	for i, ref := range pending {
		select {
		case jobs <- ref:
		case <-ctx.Done():
			break dispatch
		}
		if w.Delay > 0 {
			select {
			case <-time.After(w.Delay):
			case <-ctx.Done():
				break dispatch
			}
		}
		if w.PauseEvery > 0 && (i+1)%w.PauseEvery == 0 && i+1 < len(pending) {
			log.Printf("Photos: %d/%d processed, pausing %s", i+1, len(pending), w.Pause)
			select {
			case <-time.After(w.Pause):
			case <-ctx.Done():
				break dispatch
			}
		}
	}
	close(jobs)
	wg.Wait()

	if err := w.skip.Flush(); err != nil {
		log.Printf("Photos: Warning: skip index flush failed: %v", err)
	}

	log.Printf("Photos: done — %d cached, %d failed, skips: %v",
		summary.Cached, summary.Failed, summary.Skipped)
	w.runlog.Event("photo_summary", map[string]interface{}{
		"cached": summary.Cached, "failed": summary.Failed, "skipped": summary.Skipped,
	})
	if err := ctx.Err(); err != nil {
		log.Printf("Photos: interrupted, partial results above")
		return summary, err
	}
	return summary, nil
}

// cacheOne fetches a listing's photo roll and upserts its primary photo.
// Returns the skip reason when the listing can never be cached.
func (w *PhotoWorker) cacheOne(ctx context.Context, ref models.ListingRef) (string, bool, error) {
	photos, err := w.src.Photos(ctx, ref.ListingKey)
	if errors.Is(err, spark.ErrPermissionDenied) {
		w.skip.Add(ref.ListingID, SkipPermissionDenied)
		return SkipPermissionDenied, false, nil
	}
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("Photos: Warning: fetch failed for %s: %v", ref.ListingKey, err)
		}
		return "", false, err
	}
	if len(photos) == 0 {
		w.skip.Add(ref.ListingID, SkipNoPhotos)
		return SkipNoPhotos, false, nil
	}

	primary := photos[0]
	for _, p := range photos {
		if p.Primary {
			primary = p
			break
		}
	}
	if primary.ID == "" {
		w.skip.Add(ref.ListingID, SkipNoPhotoID)
		return SkipNoPhotoID, false, nil
	}

	doc := &models.PhotoDoc{
		ListingID: ref.ListingID,
		PhotoID:   primary.ID,
		Caption:   primary.Caption,
		UriThumb:  primary.UriThumb,
		Uri300:    primary.Uri300,
		Uri640:    primary.Uri640,
		Uri800:    primary.Uri800,
		Uri1024:   primary.Uri1024,
		Uri1280:   primary.Uri1280,
		Uri1600:   primary.Uri1600,
		Uri2048:   primary.Uri2048,
		UriLarge:  primary.UriLarge,
		Primary:   true,
	}
	if err := w.store.UpsertPhoto(ctx, doc); err != nil {
		log.Printf("Photos: Warning: upsert failed for %s: %v", ref.ListingKey, err)
		return "", false, err
	}
	return "", true, nil
}
