// Package async provides the shared run state and work queue for the
// ingestion pipeline.
package async

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Status represents the overall pipeline state.
type Status string

const (
	// StatusIdle indicates no run is in progress and none has completed yet,
	// or the last run was cancelled.
	StatusIdle Status = "idle"
	// StatusRunning indicates a run is in progress.
	StatusRunning Status = "running"
	// StatusDone indicates the last run completed successfully.
	StatusDone Status = "done"
	// StatusError indicates the last run failed.
	StatusError Status = "error"
)

// Mode selects how a run treats existing data.
type Mode string

const (
	// ModeIncremental keeps existing rows, upserts crawled files and prunes
	// rows whose files disappeared from the archive.
	ModeIncremental Mode = "incremental"
	// ModeClean wipes the catalog and index before crawling.
	ModeClean Mode = "clean"
)

// maxLogLines bounds the in-memory run log ring.
const maxLogLines = 1000

// Snapshot is an immutable copy of the run state.
type Snapshot struct {
	Status         Status    `json:"status"`
	Mode           Mode      `json:"mode"`
	RunID          string    `json:"run_id"`
	StartedAt      time.Time `json:"started_at"`
	EndedAt        time.Time `json:"ended_at,omitempty"`
	ScrapeTotal    int       `json:"scrape_total"`
	ScrapeNew      int       `json:"scrape_new"`
	Indexed        int       `json:"indexed"`
	Enriched       int       `json:"enriched"`
	Pruned         int       `json:"pruned"`
	QueueSize      int       `json:"queue_size"`
	ScrapeComplete bool      `json:"scrape_complete"`
	Cancelled      bool      `json:"cancelled"`
	Error          string    `json:"error,omitempty"`
	Log            []string  `json:"log"`
}

// State tracks one pipeline run. It is safe for concurrent use; workers
// update counters while HTTP handlers read snapshots.
type State struct {
	mu sync.RWMutex

	status         Status
	mode           Mode
	runID          string
	startedAt      time.Time
	endedAt        time.Time
	scrapeTotal    int
	scrapeNew      int
	indexed        int
	enriched       int
	pruned         int
	scrapeComplete bool
	cancelled      bool
	errMessage     string
	log            []string

	queue *Queue
}

// NewState creates the state for a fresh run.
func NewState(runID string, mode Mode, queue *Queue) *State {
	return &State{
		status:    StatusRunning,
		mode:      mode,
		runID:     runID,
		startedAt: time.Now().UTC(),
		queue:     queue,
	}
}

// Mode returns the run mode.
func (s *State) Mode() Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// RunID returns the run identifier.
func (s *State) RunID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runID
}

// AddScraped records crawled files: total seen and how many were new rows.
func (s *State) AddScraped(total, fresh int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.scrapeTotal += total
	s.scrapeNew += fresh
}

// AddIndexed records documents written to the search index.
func (s *State) AddIndexed(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.indexed += n
}

// AddEnriched records games the metadata provider was consulted for.
func (s *State) AddEnriched(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.enriched += n
}

// AddPruned records rows removed because their files vanished.
func (s *State) AddPruned(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruned += n
}

// SetScrapeComplete marks the crawl phase finished. Workers drain the
// remaining queue and exit once it is empty.
func (s *State) SetScrapeComplete() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.scrapeComplete = true
}

// ScrapeComplete reports whether the crawl phase has finished.
func (s *State) ScrapeComplete() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scrapeComplete
}

// Cancel requests a graceful stop. Loops observe the flag at their next
// iteration; in-flight requests are allowed to finish.
func (s *State) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelled = true
}

// Cancelled reports whether a stop was requested.
func (s *State) Cancelled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cancelled
}

// SetDone marks the run successfully completed.
func (s *State) SetDone() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status = StatusDone
	s.endedAt = time.Now().UTC()
}

// SetIdle marks the run as cancelled-and-settled.
func (s *State) SetIdle() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status = StatusIdle
	s.endedAt = time.Now().UTC()
}

// SetError marks the run failed.
func (s *State) SetError(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status = StatusError
	s.errMessage = message
	s.endedAt = time.Now().UTC()
}

// Logf appends a timestamped line to the run log ring and mirrors it to
// the process logger. The ring keeps the most recent maxLogLines lines.
func (s *State) Logf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	slog.Info(msg, "run_id", s.RunID())

	s.mu.Lock()
	defer s.mu.Unlock()

	line := time.Now().UTC().Format("15:04:05") + " " + msg
	s.log = append(s.log, line)
	if len(s.log) > maxLogLines {
		s.log = s.log[len(s.log)-maxLogLines:]
	}
}

// Snapshot returns an immutable copy of the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	logCopy := make([]string, len(s.log))
	copy(logCopy, s.log)

	queueSize := 0
	if s.queue != nil {
		queueSize = s.queue.Len()
	}

	return Snapshot{
		Status:         s.status,
		Mode:           s.mode,
		RunID:          s.runID,
		StartedAt:      s.startedAt,
		EndedAt:        s.endedAt,
		ScrapeTotal:    s.scrapeTotal,
		ScrapeNew:      s.scrapeNew,
		Indexed:        s.indexed,
		Enriched:       s.enriched,
		Pruned:         s.pruned,
		QueueSize:      queueSize,
		ScrapeComplete: s.scrapeComplete,
		Cancelled:      s.cancelled,
		Error:          s.errMessage,
		Log:            logCopy,
	}
}
