package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RunLog appends structured events for one pipeline run to a JSONL file.
// Each line carries the run id, timestamp and event name plus caller fields.
type RunLog struct {
	mu    sync.Mutex
	file  *os.File
	RunID string
}

func NewRunLog(dir, mode string) (*RunLog, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	runID := uuid.NewString()
	name := fmt.Sprintf("%s-%s-%s.jsonl", mode, time.Now().Format("20060102-150405"), runID[:8])

	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return &RunLog{file: f, RunID: runID}, nil
}

// Event writes one line. Fields may be nil.
func (r *RunLog) Event(event string, fields map[string]interface{}) {
	if r == nil {
		return
	}
	entry := map[string]interface{}{
		"ts":    time.Now().UTC().Format(time.RFC3339),
		"runId": r.RunID,
		"event": event,
	}
	for k, v := range fields {
		entry[k] = v
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.file.Write(append(line, '\n'))
}

func (r *RunLog) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.file.Close()
}
