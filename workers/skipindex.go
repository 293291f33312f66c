package workers

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Photo-cache skip reasons. All of them are permanent for the listing, so
// future runs short-circuit without touching the network.
const (
	SkipMissingFields    = "missing-required-fields"
	SkipAlreadyCached    = "already-cached"
	SkipPermissionDenied = "permission-denied"
	SkipNoPhotos         = "no-photos"
	SkipNoPhotoID        = "no-photo-id"
)

// SkipIndex is a persisted set of listing ids the photo cache must never
// retry. It only grows. Writes go to a temp file first so a crash mid-write
// can't corrupt the index.
type SkipIndex struct {
	mu         sync.Mutex
	path       string
	skipped    map[string]string // listing id -> reason
	dirty      int
	flushEvery int
}

type skipIndexFile struct {
	Skipped map[string]string `json:"skipped"`
}

// LoadSkipIndex reads the index at path, or starts empty if it doesn't
// exist yet. Mutations are flushed every flushEvery additions and on Flush.
func LoadSkipIndex(path string, flushEvery int) (*SkipIndex, error) {
	if flushEvery <= 0 {
		flushEvery = 100
	}
	idx := &SkipIndex{
		path:       path,
		skipped:    make(map[string]string),
		flushEvery: flushEvery,
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return idx, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading skip index: %w", err)
	}
	var file skipIndexFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing skip index: %w", err)
	}
	if file.Skipped != nil {
		idx.skipped = file.Skipped
	}
	return idx, nil
}

func (idx *SkipIndex) Contains(id string) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	_, ok := idx.skipped[id]
	return ok
}

// Add records an id with its reason. Re-adding an id never changes its
// original reason.
func (idx *SkipIndex) Add(id, reason string) {
	if id == "" {
		return
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if _, ok := idx.skipped[id]; ok {
		return
	}
	idx.skipped[id] = reason
	idx.dirty++
	if idx.dirty >= idx.flushEvery {
		idx.persistLocked()
	}
}

func (idx *SkipIndex) Len() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return len(idx.skipped)
}

// Flush writes the index to disk if anything changed since the last write.
func (idx *SkipIndex) Flush() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.dirty == 0 {
		return nil
	}
	return idx.persistLocked()
}

func (idx *SkipIndex) persistLocked() error {
	data, err := json.MarshalIndent(skipIndexFile{Skipped: idx.skipped}, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(idx.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	tmp := idx.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, idx.path); err != nil {
		return err
	}
	idx.dirty = 0
	return nil
}
