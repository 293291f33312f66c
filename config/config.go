package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Spark     SparkConfig
	Mongo     MongoConfig
	Scheduler SchedulerConfig
	Sync      SyncConfig
	LogsDir   string
	RunDBPath string
	Sources   map[string]*Source
}

type SparkConfig struct {
	BaseURL     string
	AccessToken string
}

type MongoConfig struct {
	URI              string
	Database         string
	ActiveCollection string
	ClosedCollection string
	PhotosCollection string
	ConnectTimeout   time.Duration
	SocketTimeout    time.Duration
}

type SchedulerConfig struct {
	FullCron        string
	IncrementalCron string
}

type SyncConfig struct {
	BatchSize       int           // records per replication page (API max 1000)
	RequestDelay    time.Duration // courtesy delay between pages
	StatusWorkers   int
	StatusDelay     time.Duration
	PhotoWorkers    int
	PhotoDelay      time.Duration
	BatchPauseEvery int
	BatchPause      time.Duration
	ClosedYears     int
	DefaultSource   string // mlsSource override when run targets a single association
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Spark: SparkConfig{
			BaseURL:     getEnv("SPARK_BASE_URL", "https://replication.sparkapi.com/v1"),
			AccessToken: os.Getenv("SPARK_ACCESS_TOKEN"),
		},
		Mongo: MongoConfig{
			URI:              os.Getenv("MONGODB_URI"),
			Database:         getEnv("MONGODB_DBNAME", "listings"),
			ActiveCollection: getEnv("MONGODB_ACTIVE_COLLECTION", "unified_listings"),
			ClosedCollection: getEnv("MONGODB_CLOSED_COLLECTION", "unified_closed_listings"),
			PhotosCollection: getEnv("MONGODB_PHOTOS_COLLECTION", "photos"),
			ConnectTimeout:   getEnvDuration("MONGODB_CONNECT_TIMEOUT", 10*time.Second),
			SocketTimeout:    getEnvDuration("MONGODB_SOCKET_TIMEOUT", 20*time.Second),
		},
		Scheduler: SchedulerConfig{
			FullCron:        os.Getenv("SYNC_CRON"),
			IncrementalCron: os.Getenv("SYNC_INCREMENTAL_CRON"),
		},
		Sync: SyncConfig{
			BatchSize:       getEnvInt("SYNC_BATCH_SIZE", 500),
			RequestDelay:    getEnvDuration("SYNC_REQUEST_DELAY", 200*time.Millisecond),
			StatusWorkers:   getEnvInt("STATUS_WORKERS", 5),
			StatusDelay:     getEnvDuration("STATUS_DELAY", 180*time.Millisecond),
			PhotoWorkers:    getEnvInt("PHOTO_WORKERS", 4),
			PhotoDelay:      getEnvDuration("PHOTO_DELAY", 300*time.Millisecond),
			BatchPauseEvery: getEnvInt("SYNC_BATCH_PAUSE_EVERY", 1000),
			BatchPause:      getEnvDuration("SYNC_BATCH_PAUSE", 60*time.Second),
			ClosedYears:     getEnvInt("CLOSED_YEARS_BACK", 5),
			DefaultSource:   os.Getenv("DEFAULT_MLS_SOURCE"),
		},
		LogsDir:   getEnv("LOGS_DIR", "local-logs"),
		RunDBPath: getEnv("RUN_DB_PATH", "mls_sync.db"),
	}

	if cfg.Spark.AccessToken == "" {
		return nil, fmt.Errorf("SPARK_ACCESS_TOKEN is not set")
	}
	if cfg.Mongo.URI == "" {
		return nil, fmt.Errorf("MONGODB_URI is not set")
	}

	if cfg.Sync.BatchSize > 1000 {
		cfg.Sync.BatchSize = 1000
	}
	if cfg.Sync.BatchSize <= 0 {
		cfg.Sync.BatchSize = 500
	}

	if err := cfg.loadSources(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
