package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"mls_sync/models"
)

// RunStore keeps pipeline run history in a local SQLite file, so runs can
// be inspected after the fact and incremental pulls know where the last
// successful sync left off.
type RunStore struct {
	db *sql.DB
}

func NewRunStore(path string) (*RunStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening run db: %w", err)
	}
	s := &RunStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *RunStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sync_runs (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		mode TEXT NOT NULL,
		status TEXT NOT NULL,
		fetched INTEGER DEFAULT 0,
		flattened INTEGER DEFAULT 0,
		seeded INTEGER DEFAULT 0,
		skipped INTEGER DEFAULT 0,
		failed INTEGER DEFAULT 0,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP,
		error TEXT DEFAULT ''
	);
	CREATE TABLE IF NOT EXISTS run_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		stage TEXT NOT NULL,
		level TEXT NOT NULL,
		message TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_sync_runs_source ON sync_runs(source, started_at);
	CREATE INDEX IF NOT EXISTS idx_run_logs_run ON run_logs(run_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *RunStore) CreateRun(run *models.SyncRun) error {
	_, err := s.db.Exec(`
		INSERT INTO sync_runs (id, source, mode, status, started_at)
		VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.Source, run.Mode, run.Status, run.StartedAt)
	return err
}

func (s *RunStore) FinishRun(run *models.SyncRun) error {
	now := time.Now()
	run.FinishedAt = &now
	_, err := s.db.Exec(`
		UPDATE sync_runs
		SET status = ?, fetched = ?, flattened = ?, seeded = ?, skipped = ?,
		    failed = ?, finished_at = ?, error = ?
		WHERE id = ?`,
		run.Status, run.Fetched, run.Flattened, run.Seeded, run.Skipped,
		run.Failed, run.FinishedAt, run.Error, run.ID)
	return err
}

func (s *RunStore) LogStage(runID, stage, level, message string) error {
	_, err := s.db.Exec(`
		INSERT INTO run_logs (run_id, stage, level, message)
		VALUES (?, ?, ?, ?)`,
		runID, stage, level, message)
	return err
}

// LastSuccessfulSync returns when the source last completed a full or
// incremental run, for building incremental modification-time filters.
func (s *RunStore) LastSuccessfulSync(source string) (time.Time, error) {
	var finished sql.NullTime
	err := s.db.QueryRow(`
		SELECT finished_at FROM sync_runs
		WHERE source = ? AND status = ? AND mode IN (?, ?)
		ORDER BY finished_at DESC LIMIT 1`,
		source, models.RunStatusDone, models.ModeFull, models.ModeIncremental).Scan(&finished)
	if err == sql.ErrNoRows || !finished.Valid {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return finished.Time, nil
}

// RecentRuns lists the latest runs across all sources, newest first.
func (s *RunStore) RecentRuns(limit int) ([]models.SyncRun, error) {
	rows, err := s.db.Query(`
		SELECT id, source, mode, status, fetched, flattened, seeded, skipped,
		       failed, started_at, finished_at, error
		FROM sync_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.SyncRun
	for rows.Next() {
		var run models.SyncRun
		var finished sql.NullTime
		if err := rows.Scan(&run.ID, &run.Source, &run.Mode, &run.Status,
			&run.Fetched, &run.Flattened, &run.Seeded, &run.Skipped,
			&run.Failed, &run.StartedAt, &finished, &run.Error); err != nil {
			return nil, err
		}
		if finished.Valid {
			run.FinishedAt = &finished.Time
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *RunStore) Close() error {
	return s.db.Close()
}
