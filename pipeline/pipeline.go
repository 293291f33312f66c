package pipeline

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"mls_sync/config"
	"mls_sync/flatten"
	"mls_sync/logging"
	"mls_sync/models"
	"mls_sync/seed"
	"mls_sync/spark"
	"mls_sync/storage"
	"mls_sync/workers"
)

// Pipeline sequences fetch -> flatten -> seed per source, plus the photo
// cache and status reconciliation passes. A hard failure in any stage stops
// the current source's pipeline.
type Pipeline struct {
	cfg       *config.Config
	client    *spark.Client
	store     *storage.MongoStore
	runs      *storage.RunStore
	flattener *flatten.Flattener

	AutoConfirm bool
	Incremental bool
}

func New(cfg *config.Config, client *spark.Client, store *storage.MongoStore, runs *storage.RunStore) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		client:    client,
		store:     store,
		runs:      runs,
		flattener: flatten.New(cfg.SourceNames(), cfg.Sync.DefaultSource),
	}
}

// RunAll syncs every requested source, then runs the photo cache and status
// reconciliation once across the combined result. Empty sources means all
// enabled sources.
func (p *Pipeline) RunAll(ctx context.Context, sourceIDs []string) error {
	sources, err := p.resolveSources(sourceIDs)
	if err != nil {
		return err
	}

	// One broken source should not starve the rest; its error is reported
	// at the end instead of aborting the run.
	var failed []string
	for _, src := range sources {
		if !p.AutoConfirm && !confirm(fmt.Sprintf("Sync %s (%s)?", src.ID, src.Name)) {
			log.Printf("Pipeline: skipping %s", src.ID)
			continue
		}
		if err := p.RunSource(ctx, src); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("Pipeline: Warning: source %s failed: %v", src.ID, err)
			failed = append(failed, src.ID)
		}
	}

	if err := p.RunPhotos(ctx); err != nil {
		return fmt.Errorf("photo cache: %w", err)
	}
	if err := p.RunStatus(ctx); err != nil {
		return fmt.Errorf("status reconciliation: %w", err)
	}
	if len(failed) > 0 {
		return fmt.Errorf("sources failed: %s", strings.Join(failed, ", "))
	}
	return nil
}

// RunSource executes fetch -> flatten -> seed for one source.
func (p *Pipeline) RunSource(ctx context.Context, src *config.Source) error {
	mode := models.ModeFull
	if p.Incremental {
		mode = models.ModeIncremental
	}
	run, runlog, finish := p.startRun(src.ID, mode)
	defer runlog.Close()

	err := p.syncSource(ctx, src, run, runlog)
	finish(err)
	return err
}

func (p *Pipeline) syncSource(ctx context.Context, src *config.Source, run *models.SyncRun, runlog *logging.RunLog) error {
	log.Printf("Pipeline: === %s (%s) ===", src.ID, src.Name)

	rawPath, fetched, err := p.fetchStage(ctx, src, run, runlog)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	run.Fetched = fetched
	p.logStage(run, "fetch", fmt.Sprintf("%d records staged", fetched))
	if fetched == 0 {
		log.Printf("Pipeline: %s: nothing to sync", src.ID)
		return nil
	}

	flatPath, flattened, dropped, err := p.flattenStage(rawPath, src, runlog)
	if err != nil {
		return fmt.Errorf("flatten: %w", err)
	}
	run.Flattened = flattened
	run.Skipped += dropped
	p.logStage(run, "flatten", fmt.Sprintf("%d normalized, %d dropped", flattened, dropped))

	res, err := p.seedStage(ctx, flatPath, false, runlog)
	if err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	p.logStage(run, "seed", fmt.Sprintf("%d upserted, %d skipped, %d failed", res.Updated, res.Skipped, res.Failed))
	run.Seeded = res.Updated
	run.Skipped += res.Skipped
	run.Failed += res.Failed
	return nil
}

// fetchStage pulls every matching record and stages it as a raw JSON file.
func (p *Pipeline) fetchStage(ctx context.Context, src *config.Source, run *models.SyncRun, runlog *logging.RunLog) (string, int, error) {
	q := spark.ListingQuery{
		MlsIDs:        []string{src.MlsID},
		Statuses:      models.LiveStatuses,
		PropertyTypes: src.PropertyTypes,
		Limit:         p.cfg.Sync.BatchSize,
	}
	if p.Incremental {
		now := time.Now()
		since, err := p.runs.LastSuccessfulSync(src.ID)
		if err != nil {
			log.Printf("Pipeline: Warning: last-sync lookup failed for %s: %v", src.ID, err)
		}
		if since.IsZero() {
			// First incremental run on this host: cover the last hour.
			since = now.Add(-time.Hour)
		}
		q.ModifiedFrom = since.UTC().Format("2006-01-02T15:04:05Z")
		q.ModifiedTo = now.UTC().Format("2006-01-02T15:04:05Z")
		log.Printf("Pipeline: %s: incremental window %s .. %s", src.ID, q.ModifiedFrom, q.ModifiedTo)
	}

	var records []spark.RawListing
	total, err := p.client.FetchAll(ctx, q, func(batch []spark.RawListing) error {
		records = append(records, batch...)
		return nil
	})
	if err != nil {
		return "", total, err
	}

	path := p.stagePath("raw", src.ID, run.Mode)
	if err := writeJSON(path, records); err != nil {
		return "", total, fmt.Errorf("staging raw output: %w", err)
	}
	runlog.Event("fetched", map[string]interface{}{"source": src.ID, "records": total, "file": path})
	return path, total, nil
}

// flattenStage normalizes the staged raw file into a flattened JSON file.
func (p *Pipeline) flattenStage(rawPath string, src *config.Source, runlog *logging.RunLog) (string, int, int, error) {
	var records []map[string]interface{}
	if err := readJSON(rawPath, &records); err != nil {
		return "", 0, 0, err
	}

	listings := make([]models.Listing, 0, len(records))
	dropped := 0
	for _, rec := range records {
		l := p.flattener.Flatten(rec)
		if l == nil {
			dropped++
			continue
		}
		listings = append(listings, *l)
	}
	if dropped > 0 {
		log.Printf("Pipeline: Warning: %s: dropped %d records with no listing key", src.ID, dropped)
	}

	path := strings.Replace(rawPath, "raw-", "flat-", 1)
	if err := writeJSON(path, listings); err != nil {
		return "", 0, dropped, fmt.Errorf("staging flattened output: %w", err)
	}
	runlog.Event("flattened", map[string]interface{}{"source": src.ID, "records": len(listings), "dropped": dropped, "file": path})
	return path, len(listings), dropped, nil
}

// seedStage upserts a flattened file into the active (or closed) collection,
// rebuilding indexes first.
func (p *Pipeline) seedStage(ctx context.Context, flatPath string, closed bool, runlog *logging.RunLog) (seed.Result, error) {
	var listings []models.Listing
	if err := readJSON(flatPath, &listings); err != nil {
		return seed.Result{}, err
	}

	upsert := p.store.BulkUpsertActive
	ensure := p.store.EnsureActiveIndexes
	if closed {
		upsert = p.store.BulkUpsertClosed
		ensure = p.store.EnsureClosedIndexes
	}
	if err := ensure(ctx); err != nil {
		return seed.Result{}, fmt.Errorf("ensuring indexes: %w", err)
	}

	res, err := seed.Run(ctx, upsert, listings, seed.Options{
		BatchSize: p.cfg.Sync.BatchSize,
		Closed:    closed,
	})
	if err != nil {
		return res, err
	}
	runlog.Event("seeded", map[string]interface{}{
		"updated": res.Updated, "skipped": res.Skipped, "failed": res.Failed, "closed": closed,
	})
	return res, nil
}

// RunClosed pulls the last N years of closed sales for the given sources
// and seeds them into the closed collection.
func (p *Pipeline) RunClosed(ctx context.Context, sourceIDs []string) error {
	sources, err := p.resolveSources(sourceIDs)
	if err != nil {
		return err
	}

	to := time.Now().UTC()
	from := to.AddDate(-p.cfg.Sync.ClosedYears, 0, 0)

	for _, src := range sources {
		run, runlog, finish := p.startRun(src.ID, models.ModeClosed)

		err := func() error {
			defer runlog.Close()
			q := spark.ListingQuery{
				MlsIDs:        []string{src.MlsID},
				Statuses:      []string{models.StatusClosed},
				PropertyTypes: src.PropertyTypes,
				ClosedFrom:    from.Format("2006-01-02"),
				ClosedTo:      to.Format("2006-01-02"),
				Limit:         p.cfg.Sync.BatchSize,
			}

			var records []spark.RawListing
			total, err := p.client.FetchAll(ctx, q, func(batch []spark.RawListing) error {
				records = append(records, batch...)
				return nil
			})
			if err != nil {
				return fmt.Errorf("fetch: %w", err)
			}
			run.Fetched = total

			rawPath := p.stagePath("raw", src.ID, models.ModeClosed)
			if err := writeJSON(rawPath, records); err != nil {
				return fmt.Errorf("staging raw output: %w", err)
			}

			flatPath, flattened, dropped, err := p.flattenStage(rawPath, src, runlog)
			if err != nil {
				return fmt.Errorf("flatten: %w", err)
			}
			run.Flattened = flattened
			run.Skipped += dropped

			res, err := p.seedStage(ctx, flatPath, true, runlog)
			if err != nil {
				return fmt.Errorf("seed: %w", err)
			}
			run.Seeded = res.Updated
			run.Skipped += res.Skipped
			run.Failed += res.Failed
			return nil
		}()
		finish(err)
		if err != nil {
			return fmt.Errorf("source %s: %w", src.ID, err)
		}
	}
	return nil
}

// RunStatus reconciles every locally-live listing against the feed.
func (p *Pipeline) RunStatus(ctx context.Context) error {
	run, runlog, finish := p.startRun("ALL", models.ModeStatus)
	defer runlog.Close()

	w := workers.NewStatusWorker(p.client, p.store, runlog)
	w.Workers = p.cfg.Sync.StatusWorkers
	w.Delay = p.cfg.Sync.StatusDelay
	w.PauseEvery = p.cfg.Sync.BatchPauseEvery
	w.Pause = p.cfg.Sync.BatchPause

	summary, err := w.Run(ctx)
	if summary != nil {
		run.Fetched = summary.Checked
		run.Seeded = summary.Updated + summary.Closed + summary.OffMarket
		run.Skipped = summary.Skipped + summary.Unchanged
		run.Failed = summary.Failed
	}
	finish(err)
	return err
}

// RunPhotos caches primary photos for every active listing.
func (p *Pipeline) RunPhotos(ctx context.Context) error {
	run, runlog, finish := p.startRun("ALL", models.ModePhotos)
	defer runlog.Close()

	skip, err := workers.LoadSkipIndex(filepath.Join(p.cfg.LogsDir, "photo-skip-index.json"), 100)
	if err != nil {
		finish(err)
		return err
	}

	w := workers.NewPhotoWorker(p.client, p.store, skip, runlog)
	w.Workers = p.cfg.Sync.PhotoWorkers
	w.Delay = p.cfg.Sync.PhotoDelay
	w.PauseEvery = p.cfg.Sync.BatchPauseEvery
	w.Pause = p.cfg.Sync.BatchPause
	if err := p.store.EnsurePhotoIndexes(ctx); err != nil {
		finish(err)
		return fmt.Errorf("ensuring photo indexes: %w", err)
	}

	summary, err := w.Run(ctx)
	if summary != nil {
		run.Seeded = summary.Cached
		for _, n := range summary.Skipped {
			run.Skipped += n
		}
		run.Failed = summary.Failed
	}
	finish(err)
	return err
}

// RunStage executes one pipeline stage in isolation. fetch stages a raw
// file; flatten and seed pick up the newest staged file for each source, so
// the stages compose across separate invocations.
func (p *Pipeline) RunStage(ctx context.Context, stage string, sourceIDs []string) error {
	switch stage {
	case "", "all":
		return p.RunAll(ctx, sourceIDs)
	case "photos":
		return p.RunPhotos(ctx)
	case "status":
		return p.RunStatus(ctx)
	case "fetch", "flatten", "seed":
	default:
		return fmt.Errorf("unknown stage %q", stage)
	}

	sources, err := p.resolveSources(sourceIDs)
	if err != nil {
		return err
	}
	for _, src := range sources {
		run, runlog, finish := p.startRun(src.ID, stage)

		err := func() error {
			defer runlog.Close()
			switch stage {
			case "fetch":
				_, fetched, err := p.fetchStage(ctx, src, run, runlog)
				run.Fetched = fetched
				return err
			case "flatten":
				rawPath, err := p.latestStageFile("raw", src.ID)
				if err != nil {
					return err
				}
				_, flattened, dropped, err := p.flattenStage(rawPath, src, runlog)
				run.Flattened = flattened
				run.Skipped += dropped
				return err
			default: // seed
				flatPath, err := p.latestStageFile("flat", src.ID)
				if err != nil {
					return err
				}
				res, err := p.seedStage(ctx, flatPath, false, runlog)
				run.Seeded = res.Updated
				run.Skipped += res.Skipped
				run.Failed += res.Failed
				return err
			}
		}()
		finish(err)
		if err != nil {
			return fmt.Errorf("source %s: %w", src.ID, err)
		}
	}
	return nil
}

// latestStageFile finds the newest staged file of the given kind for a
// source. Stage file names embed a sortable timestamp.
func (p *Pipeline) latestStageFile(kind, sourceID string) (string, error) {
	pattern := filepath.Join(p.cfg.LogsDir, fmt.Sprintf("%s-%s-*.json", kind, strings.ToLower(sourceID)))
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no staged %s file for %s under %s", kind, sourceID, p.cfg.LogsDir)
	}
	sort.Strings(matches)
	return matches[len(matches)-1], nil
}

// EnsureIndexes rebuilds every collection's index set without writing data.
func (p *Pipeline) EnsureIndexes(ctx context.Context) error {
	if err := p.store.EnsureActiveIndexes(ctx); err != nil {
		return fmt.Errorf("active indexes: %w", err)
	}
	if err := p.store.EnsureClosedIndexes(ctx); err != nil {
		return fmt.Errorf("closed indexes: %w", err)
	}
	if err := p.store.EnsurePhotoIndexes(ctx); err != nil {
		return fmt.Errorf("photo indexes: %w", err)
	}
	log.Println("Pipeline: indexes rebuilt")
	return nil
}

func (p *Pipeline) startRun(source, mode string) (*models.SyncRun, *logging.RunLog, func(error)) {
	run := &models.SyncRun{
		ID:        uuid.NewString(),
		Source:    source,
		Mode:      mode,
		Status:    models.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	if err := p.runs.CreateRun(run); err != nil {
		log.Printf("Pipeline: Warning: recording run failed: %v", err)
	}

	runlog, err := logging.NewRunLog(p.cfg.LogsDir, fmt.Sprintf("%s-%s", mode, strings.ToLower(source)))
	if err != nil {
		log.Printf("Pipeline: Warning: run log unavailable: %v", err)
		runlog = nil
	}

	finish := func(runErr error) {
		run.Status = models.RunStatusDone
		if runErr != nil {
			run.Status = models.RunStatusFailed
			run.Error = runErr.Error()
		}
		if err := p.runs.FinishRun(run); err != nil {
			log.Printf("Pipeline: Warning: finalizing run failed: %v", err)
		}
		log.Printf("Pipeline: %s/%s %s — fetched %d, flattened %d, seeded %d, skipped %d, failed %d",
			run.Source, run.Mode, run.Status, run.Fetched, run.Flattened,
			run.Seeded, run.Skipped, run.Failed)
	}
	return run, runlog, finish
}

func (p *Pipeline) logStage(run *models.SyncRun, stage, message string) {
	if err := p.runs.LogStage(run.ID, stage, "info", message); err != nil {
		log.Printf("Pipeline: Warning: stage log failed: %v", err)
	}
}

func (p *Pipeline) resolveSources(ids []string) ([]*config.Source, error) {
	if len(ids) == 0 {
		sources := p.cfg.EnabledSources()
		if len(sources) == 0 {
			return nil, fmt.Errorf("no enabled sources configured")
		}
		return sources, nil
	}
	var out []*config.Source
	for _, id := range ids {
		src, ok := p.cfg.Sources[strings.ToUpper(strings.TrimSpace(id))]
		if !ok {
			return nil, fmt.Errorf("unknown source %q", id)
		}
		out = append(out, src)
	}
	return out, nil
}

func (p *Pipeline) stagePath(kind, sourceID, mode string) string {
	name := fmt.Sprintf("%s-%s-%s-%s.json", kind, strings.ToLower(sourceID), mode,
		time.Now().Format("20060102-150405"))
	return filepath.Join(p.cfg.LogsDir, name)
}

func writeJSON(path string, v interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func confirm(prompt string) bool {
	fmt.Printf("%s [y/N] ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	line = strings.ToLower(strings.TrimSpace(line))
	return line == "y" || line == "yes"
}
