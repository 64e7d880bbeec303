package job

import (
	"time"

	"github.com/posterforge/posterforge/internal/item"
)

// State is the lifecycle state of a job.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// TypePosterpackGenerate is the only job type currently supported.
const TypePosterpackGenerate = "posterpack.generate"

// Options are the per-job generation options supplied at submission.
type Options struct {
	MediaType string   `json:"media_type,omitempty"` // movie, show, or empty for all
	Years     string   `json:"years,omitempty"`      // e.g. "2000-2010,2020"
	Genres    []string `json:"genres,omitempty"`
	Ratings   []string `json:"ratings,omitempty"`
	Qualities []string `json:"qualities,omitempty"`
	Limit     int      `json:"limit,omitempty"`
}

// Summary aggregates a finished job's results.
type Summary struct {
	Succeeded  int   `json:"succeeded"`
	Failed     int   `json:"failed"`
	TotalBytes int64 `json:"total_bytes"`
}

// Job is one archive-generation job. Its mutable fields are owned by the
// orchestrator; everyone else only ever sees snapshots.
type Job struct {
	ID         string
	Seq        uint64
	Type       string
	Source     string
	LibraryIDs []string
	Options    Options

	State          State
	TotalItems     int
	ProcessedItems int
	Percent        float64

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	Logs    []string
	Results []item.Result
	Summary Summary
	Error   string
}

// Snapshot is the read-only view of a job handed to status queries and
// event subscribers.
type Snapshot struct {
	ID             string        `json:"id"`
	Type           string        `json:"type"`
	Source         string        `json:"source"`
	LibraryIDs     []string      `json:"library_ids"`
	Options        Options       `json:"options"`
	State          State         `json:"state"`
	TotalItems     int           `json:"total_items"`
	ProcessedItems int           `json:"processed_items"`
	Percent        float64       `json:"percent"`
	CreatedAt      time.Time     `json:"created_at"`
	StartedAt      *time.Time    `json:"started_at,omitempty"`
	CompletedAt    *time.Time    `json:"completed_at,omitempty"`
	Logs           []string      `json:"logs,omitempty"`
	Results        []item.Result `json:"results,omitempty"`
	Summary        Summary       `json:"summary"`
	Error          string        `json:"error,omitempty"`
}

// snapshot deep-copies the job so readers never observe a partially
// updated record.
func (j *Job) snapshot() Snapshot {
	s := Snapshot{
		ID:             j.ID,
		Type:           j.Type,
		Source:         j.Source,
		LibraryIDs:     append([]string(nil), j.LibraryIDs...),
		Options:        j.Options,
		State:          j.State,
		TotalItems:     j.TotalItems,
		ProcessedItems: j.ProcessedItems,
		Percent:        j.Percent,
		CreatedAt:      j.CreatedAt,
		Logs:           append([]string(nil), j.Logs...),
		Results:        append([]item.Result(nil), j.Results...),
		Summary:        j.Summary,
		Error:          j.Error,
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		s.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		s.CompletedAt = &t
	}
	return s
}

// Statistics reports per-state job counts and the concurrency settings.
type Statistics struct {
	Queued        int `json:"queued"`
	Running       int `json:"running"`
	Completed     int `json:"completed"`
	Failed        int `json:"failed"`
	Cancelled     int `json:"cancelled"`
	MaxConcurrent int `json:"max_concurrent"`
}
