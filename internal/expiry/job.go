// Package expiry clears featured flags whose paid window has ended.
//
// Readers already treat a past tuzemoon_until as not featured; the job keeps
// the stored flag in line so queries on is_featured stay cheap.
package expiry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tuzemoon/internal/observability"
	"tuzemoon/internal/storage"
)

// DefaultInterval is how often Run clears expired features.
const DefaultInterval = 5 * time.Minute

// Stats describes the job's activity, for /status.
type Stats struct {
	Runs      int       `json:"runs"`
	Cleared   int64     `json:"cleared"`
	LastRun   time.Time `json:"last_run,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	Running   bool      `json:"running"`
}

// Job periodically unsets expired featured flags.
type Job struct {
	memes    storage.MemeStore
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu    sync.Mutex
	stats Stats
}

// Options contains configuration for creating a Job.
type Options struct {
	Memes    storage.MemeStore
	Interval time.Duration
	Logger   *slog.Logger
	Now      func() time.Time
}

// New creates a new Job.
func New(opts Options) (*Job, error) {
	if opts.Memes == nil {
		return nil, errors.New("expiry: meme store is required")
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Logger == nil {
		opts.Logger = observability.NopLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Job{
		memes:    opts.Memes,
		interval: opts.Interval,
		logger:   opts.Logger.With("component", "expiry"),
		now:      opts.Now,
	}, nil
}

// RunOnce clears every feature that expired before now. Overlapping calls are
// skipped and report zero.
func (j *Job) RunOnce(ctx context.Context) (int64, error) {
	j.mu.Lock()
	if j.stats.Running {
		j.mu.Unlock()
		j.logger.Debug("expiry run already in progress, skipping")
		return 0, nil
	}
	j.stats.Running = true
	j.mu.Unlock()

	now := j.now().UTC()
	cleared, err := j.memes.ClearExpiredFeatures(ctx, now)
	observability.RecordExpiryRun(cleared, err)

	j.mu.Lock()
	j.stats.Running = false
	j.stats.Runs++
	j.stats.LastRun = now
	j.stats.Cleared += cleared
	j.stats.LastError = ""
	if err != nil {
		j.stats.LastError = err.Error()
	}
	j.mu.Unlock()

	if err != nil {
		j.logger.Error("clear expired features failed", "error", err)
		return 0, fmt.Errorf("clear expired features: %w", err)
	}
	if cleared > 0 {
		j.logger.Info("cleared expired features", "count", cleared)
	}
	return cleared, nil
}

// Run clears expired features immediately and then on every tick until ctx
// is done. Failed runs are logged and retried on the next tick.
func (j *Job) Run(ctx context.Context) error {
	j.logger.Info("starting expiry job", "interval", j.interval)

	j.RunOnce(ctx)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

// Stats returns a snapshot of the job's activity.
func (j *Job) Stats() Stats {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.stats
}
