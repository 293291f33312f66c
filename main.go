package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"mls_sync/config"
	"mls_sync/httputil"
	"mls_sync/logging"
	"mls_sync/pipeline"
	"mls_sync/scheduler"
	"mls_sync/spark"
	"mls_sync/storage"
)

var (
	mlsFlag     = flag.String("mls", "", "Comma-separated source ids (default: all enabled)")
	yesFlag     = flag.Bool("yes", false, "Skip per-source confirmation prompts")
	incremental = flag.Bool("incremental", false, "Fetch only records modified since the last successful sync")
	statusOnly  = flag.Bool("status", false, "Run status reconciliation only")
	photosOnly  = flag.Bool("photos", false, "Run the photo cache only")
	closedOnly  = flag.Bool("closed", false, "Backfill the closed collection only")
	indexesOnly = flag.Bool("indexes-only", false, "Rebuild indexes without writing data")
	batchSize   = flag.Int("batch-size", 0, "Override records per replication page (max 1000)")
	delay       = flag.Duration("delay", 0, "Override delay between replication pages")
	closedYears = flag.Int("closed-years", 0, "Years of closed sales to backfill (default 5)")
	stage       = flag.String("stage", "", "Run a single stage: fetch|flatten|seed|photos|status|all")
	daemon      = flag.Bool("daemon", false, "Run on the configured cron schedule")
)

func main() {
	flag.BoolVar(yesFlag, "y", false, "Skip per-source confirmation prompts (shorthand)")
	flag.Parse()
	log.SetFlags(log.LstdFlags)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}
	if *batchSize > 0 {
		cfg.Sync.BatchSize = *batchSize
		if cfg.Sync.BatchSize > 1000 {
			cfg.Sync.BatchSize = 1000
		}
	}
	if *delay > 0 {
		cfg.Sync.RequestDelay = *delay
	}
	if *closedYears > 0 {
		cfg.Sync.ClosedYears = *closedYears
	}

	logFile, err := logging.Setup(cfg.LogsDir, "mls_sync.log")
	if err != nil {
		log.Printf("Warning: could not set up file logging: %v", err)
	} else {
		defer logFile.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Println("Shutting down, finishing what is in flight...")
		cancel()
	}()

	runs, err := storage.NewRunStore(cfg.RunDBPath)
	if err != nil {
		log.Fatalf("Run store error: %v", err)
	}
	defer runs.Close()

	store, err := storage.NewMongoStore(ctx, cfg.Mongo)
	if err != nil {
		log.Fatalf("Mongo error: %v", err)
	}
	defer store.Close(context.Background())

	client := spark.NewClient(cfg.Spark, httputil.NewClients(), cfg.Sync.RequestDelay)
	pipe := pipeline.New(cfg, client, store, runs)
	pipe.AutoConfirm = *yesFlag
	pipe.Incremental = *incremental

	var sources []string
	if *mlsFlag != "" {
		sources = strings.Split(*mlsFlag, ",")
	}

	switch {
	case *daemon:
		runDaemon(ctx, cfg, pipe)
	case *indexesOnly:
		fail(pipe.EnsureIndexes(ctx))
	case *statusOnly:
		fail(pipe.RunStatus(ctx))
	case *photosOnly:
		fail(pipe.RunPhotos(ctx))
	case *closedOnly:
		fail(pipe.RunClosed(ctx, sources))
	case *stage != "":
		fail(pipe.RunStage(ctx, *stage, sources))
	default:
		fail(pipe.RunAll(ctx, sources))
	}
}

func runDaemon(ctx context.Context, cfg *config.Config, pipe *pipeline.Pipeline) {
	sched := scheduler.New(cfg, pipe)
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("Scheduler error: %v", err)
	}
	log.Println("Daemon running, Ctrl+C to stop")
	<-ctx.Done()
	sched.Stop()
}

func fail(err error) {
	if err != nil {
		log.Fatalf("Pipeline failed: %v", err)
	}
}
