package media

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/el-el-san/discord-Kamui-bot/pkg/kamui/metrics"
)

// SweepConfig controls removal of stale decoded images.
type SweepConfig struct {
	// Schedule is a five-field cron expression or descriptor
	// (default "@every 30m"). Empty disables sweeping.
	Schedule string `yaml:"schedule"`

	// Retention is how old a file must be before it is removed (default 24h).
	Retention time.Duration `yaml:"retention"`

	// Prefix limits sweeping to files whose names start with it.
	Prefix string `yaml:"prefix"`
}

// DefaultSweepConfig returns the default sweeping policy.
func DefaultSweepConfig() SweepConfig {
	return SweepConfig{
		Schedule:  "@every 30m",
		Retention: 24 * time.Hour,
		Prefix:    "generated_image_",
	}
}

// Sweeper periodically deletes decoded media that was never delivered.
type Sweeper struct {
	dir    string
	cfg    SweepConfig
	logger *slog.Logger
	now    func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

// NewSweeper creates a sweeper for dir.
func NewSweeper(dir string, cfg SweepConfig, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if dir == "" {
		dir = "."
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultSweepConfig().Retention
	}
	return &Sweeper{
		dir:    dir,
		cfg:    cfg,
		logger: logger.With("component", "sweeper"),
		now:    time.Now,
	}
}

// Start schedules the sweep. It is a no-op when no schedule is configured.
func (s *Sweeper) Start() error {
	if s.cfg.Schedule == "" {
		s.logger.Info("media sweeper disabled")
		return nil
	}

	c := cron.New(cron.WithParser(cron.NewParser(
		cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)))
	if _, err := c.AddFunc(s.cfg.Schedule, func() { s.Sweep() }); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.cfg.Schedule, err)
	}

	s.mu.Lock()
	s.cron = c
	s.mu.Unlock()
	c.Start()

	s.logger.Info("media sweeper started",
		"schedule", s.cfg.Schedule,
		"retention", s.cfg.Retention,
		"prefix", s.cfg.Prefix,
	)
	return nil
}

// Stop halts scheduling and waits up to 10s for a running sweep.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-time.After(10 * time.Second):
		s.logger.Warn("media sweeper stop timed out")
	}
	s.logger.Info("media sweeper stopped")
}

// Sweep removes matching media files older than the retention period and
// returns how many were deleted.
func (s *Sweeper) Sweep() int {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Error("sweep failed", "dir", s.dir, "error", err)
		return 0
	}

	cutoff := s.now().Add(-s.cfg.Retention)
	var stale []File
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !IsMedia(name) || !strings.HasPrefix(name, s.cfg.Prefix) {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		stale = append(stale, File{
			Path:    filepath.Join(s.dir, name),
			Name:    name,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	if len(stale) == 0 {
		return 0
	}

	removed, err := Delete(stale, s.logger)
	if err != nil {
		s.logger.Warn("some stale files could not be removed", "error", err)
	}
	metrics.FilesSwept.Add(float64(removed))
	s.logger.Info("swept stale media", "removed", removed, "freed", FormatSize(Summarize(stale).TotalSize))
	return removed
}
