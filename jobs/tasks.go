package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/electrokart/electrokart/internal/auth"
	jobmetrics "github.com/electrokart/electrokart/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskPasscodeSweep removes expired passcode records.
	TaskPasscodeSweep = "auth:passcode_sweep"

	passcodeSweepJob = "passcode_sweep"
)

// NewPasscodeSweepTask constructs the sweep task. Overlapping runs are
// collapsed by asynq's uniqueness lock.
func NewPasscodeSweepTask() *asynq.Task {
	return asynq.NewTask(TaskPasscodeSweep, nil, asynq.MaxRetry(1), asynq.Unique(time.Minute))
}

// PasscodeSweepConfig collects the dependencies of the sweep handler.
type PasscodeSweepConfig struct {
	Sweeper auth.Sweeper
	Store   string
	Metrics *jobmetrics.Metrics
	Logger  *slog.Logger
	Now     func() time.Time
}

// NewPasscodeSweepHandler returns the handler for TaskPasscodeSweep.
func NewPasscodeSweepHandler(cfg PasscodeSweepConfig) asynq.HandlerFunc {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return func(ctx context.Context, t *asynq.Task) error {
		tracker := cfg.Metrics.Track(passcodeSweepJob)
		if cfg.Sweeper == nil {
			return tracker.End(fmt.Errorf("jobs: passcode sweep: no sweeper configured: %w", asynq.SkipRetry))
		}
		removed, err := cfg.Sweeper.DeleteExpired(ctx, cfg.Now())
		if err != nil {
			cfg.Logger.Error("passcode sweep failed", slog.String("store", cfg.Store), slog.Any("error", err))
			return tracker.End(err)
		}
		cfg.Metrics.AddSwept(cfg.Store, removed)
		cfg.Logger.Info("passcode sweep", slog.String("store", cfg.Store), slog.Int64("removed", removed))
		return tracker.End(nil)
	}
}
