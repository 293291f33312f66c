package models

import "time"

const (
	RunStatusRunning = "running"
	RunStatusDone    = "done"
	RunStatusFailed  = "failed"
)

// Run modes, one per pipeline entry point.
const (
	ModeFull        = "full"
	ModeIncremental = "incremental"
	ModeStatus      = "status"
	ModePhotos      = "photos"
	ModeClosed      = "closed"
)

// SyncRun records one pipeline invocation in the local run history.
type SyncRun struct {
	ID         string
	Source     string
	Mode       string
	Status     string
	Fetched    int
	Flattened  int
	Seeded     int
	Skipped    int
	Failed     int
	StartedAt  time.Time
	FinishedAt *time.Time
	Error      string
}

// RunLogEntry is one stage-level log line attached to a run.
type RunLogEntry struct {
	ID        int64
	RunID     string
	Stage     string
	Level     string
	Message   string
	CreatedAt time.Time
}
