package workers

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"mls_sync/flatten"
	"mls_sync/logging"
	"mls_sync/models"
	"mls_sync/spark"
)

// StatusChecker is the single-record lookup side of the feed client.
type StatusChecker interface {
	StatusCheck(ctx context.Context, mlsID, listingKey string) (*spark.StatusResult, error)
}

// StatusStore is what reconciliation needs from the listing store.
type StatusStore interface {
	LiveListings(ctx context.Context) ([]models.ListingRef, error)
	GetActive(ctx context.Context, listingKey string) (*models.Listing, error)
	UpdateActive(ctx context.Context, listingKey string, fields map[string]interface{}) error
	UpsertClosed(ctx context.Context, doc *models.Listing) error
	DeleteActive(ctx context.Context, listingKey string) error
	ClosedKeysAmong(ctx context.Context, keys []string) ([]string, error)
}

type StatusSummary struct {
	Checked   int
	Unchanged int
	Updated   int
	Closed    int
	OffMarket int
	Skipped   int
	Failed    int

	// BySource counts checked listings per mlsSource.
	BySource map[string]int
}

// StatusWorker re-checks every locally-live listing against the feed and
// applies the resulting transition: in-place update, close migration, or
// OffMarket marking.
type StatusWorker struct {
	src    StatusChecker
	store  StatusStore
	runlog *logging.RunLog

	Workers    int
	Delay      time.Duration // between individual lookups
	PauseEvery int
	Pause      time.Duration // longer breather every PauseEvery lookups
}

func NewStatusWorker(src StatusChecker, store StatusStore, runlog *logging.RunLog) *StatusWorker {
	return &StatusWorker{
		src:        src,
		store:      store,
		runlog:     runlog,
		Workers:    5,
		Delay:      180 * time.Millisecond,
		PauseEvery: 1000,
		Pause:      60 * time.Second,
	}
}

func (w *StatusWorker) Run(ctx context.Context) (*StatusSummary, error) {
	refs, err := w.store.LiveListings(ctx)
	if err != nil {
		return nil, err
	}
	log.Printf("Status: %d live listings to re-check", len(refs))

	w.auditDualPresence(ctx, refs)

	var (
		summary = StatusSummary{BySource: map[string]int{}}
		mu      sync.Mutex
		wg      sync.WaitGroup
	)
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
				outcome := w.check(ctx, ref)
				mu.Lock()
				summary.Checked++
				source := ref.MlsSource
				if source == "" {
					source = flatten.UnknownSource
				}
				summary.BySource[source]++
				switch outcome {
				case outcomeUnchanged:
					summary.Unchanged++
				case outcomeUpdated:
					summary.Updated++
				case outcomeClosed:
					summary.Closed++
				case outcomeOffMarket:
					summary.OffMarket++
				case outcomeSkipped:
					summary.Skipped++
				case outcomeFailed:
					summary.Failed++
				}
				mu.Unlock()
			}
		}()
	}

	// The dispatcher owns throttling: a micro-delay between lookups and a
	// long pause every PauseEvery, keeping overall request rate flat no
	// matter how many workers drain the channel.
dispatch:
	for i, ref := range refs {
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
		if w.PauseEvery > 0 && (i+1)%w.PauseEvery == 0 && i+1 < len(refs) {
			log.Printf("Status: %d/%d checked, pausing %s", i+1, len(refs), w.Pause)
			select {
			case <-time.After(w.Pause):
			case <-ctx.Done():
				break dispatch
			}
		}
	}
	close(jobs)
	wg.Wait()

	log.Printf("Status: done — %d checked, %d unchanged, %d updated, %d closed, %d off-market, %d skipped, %d failed",
		summary.Checked, summary.Unchanged, summary.Updated, summary.Closed,
		summary.OffMarket, summary.Skipped, summary.Failed)
	sources := make([]string, 0, len(summary.BySource))
	for src := range summary.BySource {
		sources = append(sources, src)
	}
	sort.Strings(sources)
	for _, src := range sources {
		log.Printf("Status: %s: %d checked", src, summary.BySource[src])
	}
	w.runlog.Event("status_summary", map[string]interface{}{
		"checked": summary.Checked, "unchanged": summary.Unchanged,
		"updated": summary.Updated, "closed": summary.Closed,
		"offMarket": summary.OffMarket, "skipped": summary.Skipped,
		"failed": summary.Failed, "bySource": summary.BySource,
	})
	if err := ctx.Err(); err != nil {
		log.Printf("Status: interrupted, partial results above")
		return &summary, err
	}
	return &summary, nil
}

// auditDualPresence flags listings that exist in both collections, which
// means a past close migration upserted but never deleted.
func (w *StatusWorker) auditDualPresence(ctx context.Context, refs []models.ListingRef) {
	keys := make([]string, 0, len(refs))
	for _, ref := range refs {
		keys = append(keys, ref.ListingKey)
	}
	dupes, err := w.store.ClosedKeysAmong(ctx, keys)
	if err != nil {
		log.Printf("Status: Warning: dual-presence audit failed: %v", err)
		return
	}
	for _, key := range dupes {
		log.Printf("Status: Warning: %s present in both active and closed collections", key)
		w.runlog.Event("dual_presence", map[string]interface{}{"listingKey": key})
	}
}

type outcome int

const (
	outcomeUnchanged outcome = iota
	outcomeUpdated
	outcomeClosed
	outcomeOffMarket
	outcomeSkipped
	outcomeFailed
)

func (w *StatusWorker) check(ctx context.Context, ref models.ListingRef) outcome {
	if ref.ListingKey == "" || ref.MlsID == "" {
		return outcomeSkipped
	}

	res, err := w.src.StatusCheck(ctx, ref.MlsID, ref.ListingKey)
	if err != nil {
		if ctx.Err() != nil {
			return outcomeFailed
		}
		log.Printf("Status: Warning: check failed for %s: %v", ref.ListingKey, err)
		return outcomeFailed
	}

	now := time.Now().UTC()
	switch {
	case !res.Found:
		err = w.store.UpdateActive(ctx, ref.ListingKey, map[string]interface{}{
			"standardStatus":    models.StatusOffMarket,
			"statusLastChecked": now,
		})
		if err != nil {
			log.Printf("Status: Warning: off-market update failed for %s: %v", ref.ListingKey, err)
			return outcomeFailed
		}
		w.runlog.Event("off_market", map[string]interface{}{"listingKey": ref.ListingKey})
		return outcomeOffMarket

	case res.StandardStatus == models.StatusClosed:
		if err := w.migrateClosed(ctx, ref, res, now); err != nil {
			log.Printf("Status: Warning: close migration failed for %s: %v", ref.ListingKey, err)
			return outcomeFailed
		}
		w.runlog.Event("closed", map[string]interface{}{"listingKey": ref.ListingKey})
		return outcomeClosed

	case res.StandardStatus != ref.StandardStatus || res.StatusChangeTimestamp != ref.StatusChangeTimestamp:
		err = w.store.UpdateActive(ctx, ref.ListingKey, map[string]interface{}{
			"standardStatus":        res.StandardStatus,
			"statusChangeTimestamp": res.StatusChangeTimestamp,
			"statusLastChecked":     now,
		})
		if err != nil {
			log.Printf("Status: Warning: status update failed for %s: %v", ref.ListingKey, err)
			return outcomeFailed
		}
		return outcomeUpdated

	default:
		return outcomeUnchanged
	}
}

// migrateClosed moves a listing into the closed collection. Two idempotent
// writes with no transaction: a crash in between leaves a dual-presence
// record that the next run's audit surfaces and the next Closed observation
// repairs.
func (w *StatusWorker) migrateClosed(ctx context.Context, ref models.ListingRef, res *spark.StatusResult, now time.Time) error {
	doc, err := w.store.GetActive(ctx, ref.ListingKey)
	if err != nil {
		return err
	}
	if doc == nil {
		// Already migrated by a previous partial run; finish the delete.
		return w.store.DeleteActive(ctx, ref.ListingKey)
	}

	doc.StandardStatus = models.StatusClosed
	if res.StatusChangeTimestamp != "" {
		doc.StatusChangeTimestamp = res.StatusChangeTimestamp
	}
	doc.StatusLastChecked = &now

	if t, ok := parseFeedDate(res.CloseDate); ok {
		doc.CloseDate = &t
	} else if doc.CloseDate == nil {
		fallback := now
		doc.CloseDate = &fallback
	}
	if res.ClosePrice != nil {
		doc.ClosePrice = res.ClosePrice
	} else if doc.ClosePrice == nil {
		doc.ClosePrice = doc.ListPrice
	}
	if doc.MlsSource == "" {
		doc.MlsSource = flatten.UnknownSource
	}
	if doc.MlsID == "" {
		doc.MlsID = ref.MlsID
	}

	if err := w.store.UpsertClosed(ctx, doc); err != nil {
		return err
	}
	return w.store.DeleteActive(ctx, ref.ListingKey)
}

func parseFeedDate(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
