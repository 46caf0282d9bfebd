package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/vantage-admin/vantage/internal/jobs"
	"github.com/vantage-admin/vantage/internal/platform/cache"
	"github.com/vantage-admin/vantage/internal/users"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// StatsWarmupJob recomputes the user dashboard statistics so the first
// request after an invalidation does not pay the aggregation cost.
type StatsWarmupJob struct {
	Users   *users.Service
	Cache   *cache.Versioned
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewStatsWarmupJob wires dependencies for the warmup handler.
func NewStatsWarmupJob(usersSvc *users.Service, versioned *cache.Versioned, logger *slog.Logger, metrics *jobmetrics.Metrics) *StatsWarmupJob {
	return &StatsWarmupJob{
		Users:   usersSvc,
		Cache:   versioned,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes stats warmup tasks.
func (j *StatsWarmupJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.Users == nil {
		return errors.New("stats warmup: handler not configured")
	}

	tracker := j.metrics().Track(TaskStatsWarmup)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := j.now()
	logger := j.logger()
	logger.Info("starting stats warmup")

	// Bump first so the loader below repopulates under a fresh version
	// instead of serving the stale entry back.
	if err := j.Cache.Bump(ctx, cache.TagUserStats); err != nil {
		resultErr = err
		logger.Error("bump stats tag", slog.Any("error", err))
		return resultErr
	}

	warmCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	stats, err := j.Users.Stats(warmCtx)
	if err != nil {
		resultErr = err
		logger.Error("warm user stats", slog.Any("error", err))
		return resultErr
	}

	logger.Info("completed stats warmup",
		slog.Int("total_users", stats.Total),
		slog.Duration("duration", time.Since(start)))
	return resultErr
}

func (j *StatsWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskStatsWarmup))
	}
	return slog.Default().With(slog.String("job", TaskStatsWarmup))
}

func (j *StatsWarmupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *StatsWarmupJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
