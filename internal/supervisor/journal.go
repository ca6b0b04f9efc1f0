package supervisor

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Status is the lifecycle state of one journal entry. An entry is created as
// running and moves to exactly one terminal status.
type Status string

const (
	StatusRunning    Status = "running"
	StatusStopped    Status = "stopped"    // graceful signal-triggered shutdown
	StatusCrashed    Status = "crashed"    // uncaught fault
	StatusTerminated Status = "terminated" // killed by another instance
	StatusStale      Status = "stale"      // found running with no live process
	StatusExited     Status = "exited"     // protocol connection closed
)

// Entry is one row of the process journal: a record of every process that
// has ever started against this data directory.
type Entry struct {
	ID        string     `json:"id"`
	PID       int        `json:"pid"`
	CWD       string     `json:"cwd"`
	StartedAt time.Time  `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
	Status    Status     `json:"status"`
}

// Journal is a JSON array on disk, rewritten wholesale on every change.
// Cross-process access is last-writer-wins; by construction only one process
// holds running ownership of any entry at a time.
type Journal struct {
	path string
}

// NewJournal creates a journal backed by the file at path.
func NewJournal(path string) *Journal {
	return &Journal{path: path}
}

// Load reads all entries. A missing file yields an empty journal.
func (j *Journal) Load() ([]Entry, error) {
	data, err := os.ReadFile(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("supervisor: read journal: %w", err)
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("supervisor: parse journal %s: %w", j.path, err)
	}
	return entries, nil
}

// Save overwrites the journal file with entries.
func (j *Journal) Save(entries []Entry) error {
	if entries == nil {
		entries = []Entry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("supervisor: marshal journal: %w", err)
	}
	if err := os.WriteFile(j.path, data, 0o644); err != nil {
		return fmt.Errorf("supervisor: write journal: %w", err)
	}
	return nil
}

// Finalize marks the entry with the given id as ended with status, exactly
// once; an entry already carrying a terminal status is left untouched.
func (j *Journal) Finalize(id string, status Status) error {
	entries, err := j.Load()
	if err != nil {
		return err
	}
	now := time.Now()
	for i := range entries {
		if entries[i].ID != id {
			continue
		}
		if entries[i].Status != StatusRunning {
			return nil
		}
		entries[i].Status = status
		entries[i].EndedAt = &now
		return j.Save(entries)
	}
	return fmt.Errorf("supervisor: journal entry %s not found", id)
}
