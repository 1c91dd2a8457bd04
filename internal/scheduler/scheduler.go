// Package scheduler runs the ingestion pipeline on a cron expression
// persisted next to the rest of the instance data.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"

	"github.com/Myrient-Search/Myrient-Search/internal/async"
	"github.com/Myrient-Search/Myrient-Search/internal/pipeline"
)

// DefaultExpression fires a nightly incremental run at 03:00 UTC.
const DefaultExpression = "0 3 * * *"

// Config is the persisted schedule document.
type Config struct {
	Enabled    bool       `json:"enabled"`
	Mode       async.Mode `json:"mode"`
	Expression string     `json:"expression"`
}

// Starter launches a pipeline run. *pipeline.Pipeline satisfies it.
type Starter interface {
	Start(ctx context.Context, mode async.Mode) (string, error)
}

// Scheduler owns the cron job and the persisted schedule config.
type Scheduler struct {
	path string
	pipe Starter

	mu    sync.Mutex
	cfg   Config
	cron  *cron.Cron
	entry cron.EntryID
}

// New creates a scheduler persisting its config at path.
func New(path string, pipe Starter) *Scheduler {
	return &Scheduler{
		path: path,
		pipe: pipe,
		cfg: Config{
			Enabled:    false,
			Mode:       async.ModeIncremental,
			Expression: DefaultExpression,
		},
		cron: cron.New(cron.WithLocation(time.UTC)),
	}
}

// Load reads the persisted config, if any, and registers the job when the
// schedule is enabled. A missing file keeps the defaults.
func (s *Scheduler) Load(ctx context.Context) error {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read schedule config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return fmt.Errorf("parse schedule config: %w", err)
	}
	if err := validate(cfg); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	s.rescheduleLocked(ctx)
	return nil
}

// Config returns the current schedule config.
func (s *Scheduler) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Apply validates the new config, persists it and swaps the cron job.
// An invalid expression is rejected without touching the current state.
func (s *Scheduler) Apply(ctx context.Context, cfg Config) error {
	if cfg.Mode == "" {
		cfg.Mode = async.ModeIncremental
	}
	if err := validate(cfg); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.saveLocked(cfg); err != nil {
		return err
	}
	s.cfg = cfg
	s.rescheduleLocked(ctx)
	return nil
}

// Start begins firing scheduled jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the cron loop; a job in flight finishes on its own.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}

// Watch reloads the config when the persisted file changes on disk, until
// the context ends. Reapplying an unchanged config is a no-op, so the
// scheduler's own saves do not restart the job.
func (s *Scheduler) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("schedule watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(s.path), err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Name != s.path || !ev.Op.Has(fsnotify.Write|fsnotify.Create) {
					continue
				}
				if err := s.reload(ctx); err != nil {
					slog.Warn("schedule reload failed", "error", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("schedule watcher error", "error", err)
			}
		}
	}()
	return nil
}

// reload re-reads the file and reschedules only when the config changed.
func (s *Scheduler) reload(ctx context.Context) error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return err
	}
	if err := validate(cfg); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg == s.cfg {
		return nil
	}
	slog.Info("schedule config changed on disk", "enabled", cfg.Enabled, "expression", cfg.Expression)
	s.cfg = cfg
	s.rescheduleLocked(ctx)
	return nil
}

// rescheduleLocked replaces the registered job to match s.cfg.
func (s *Scheduler) rescheduleLocked(ctx context.Context) {
	if s.entry != 0 {
		s.cron.Remove(s.entry)
		s.entry = 0
	}
	if !s.cfg.Enabled {
		return
	}

	mode := s.cfg.Mode
	entry, err := s.cron.AddFunc(s.cfg.Expression, func() {
		runID, err := s.pipe.Start(ctx, mode)
		if errors.Is(err, pipeline.ErrAlreadyRunning) {
			slog.Info("scheduled run skipped, pipeline already running")
			return
		}
		if err != nil {
			slog.Error("scheduled run failed to start", "error", err)
			return
		}
		slog.Info("scheduled run started", "run_id", runID, "mode", mode)
	})
	if err != nil {
		// validate() ran first, so this only trips on a bug.
		slog.Error("register schedule", "error", err)
		return
	}
	s.entry = entry
}

// saveLocked writes the config atomically next to its final path.
func (s *Scheduler) saveLocked(cfg Config) error {
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode schedule config: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write schedule config: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("write schedule config: %w", err)
	}
	return nil
}

// validate checks the mode and, when the schedule is usable, the cron
// expression (standard five-field syntax).
func validate(cfg Config) error {
	switch cfg.Mode {
	case async.ModeIncremental, async.ModeClean:
	default:
		return fmt.Errorf("unknown schedule mode %q", cfg.Mode)
	}
	if cfg.Expression == "" {
		if cfg.Enabled {
			return fmt.Errorf("schedule enabled without a cron expression")
		}
		return nil
	}
	if _, err := cron.ParseStandard(cfg.Expression); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", cfg.Expression, err)
	}
	return nil
}
