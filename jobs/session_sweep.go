package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	jobmetrics "github.com/vantage-admin/vantage/internal/jobs"
)

// SessionSweepJob removes the database shadow rows of sessions that expired.
// The Redis entries age out on their own TTL; the sessions table is kept for
// the security audit trail and needs explicit pruning.
type SessionSweepJob struct {
	Pool    *pgxpool.Pool
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewSessionSweepJob wires dependencies for the sweep handler.
func NewSessionSweepJob(pool *pgxpool.Pool, logger *slog.Logger, metrics *jobmetrics.Metrics) *SessionSweepJob {
	return &SessionSweepJob{Pool: pool, Logger: logger, Metrics: metrics}
}

// Handle processes session sweep tasks.
func (j *SessionSweepJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.Pool == nil {
		return errors.New("session sweep: handler not configured")
	}

	tracker := j.metrics().Track(TaskSessionSweep)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	tag, err := j.Pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at < NOW()`)
	if err != nil {
		resultErr = err
		j.logger().Error("sweep sessions", slog.Any("error", err))
		return resultErr
	}
	removed := tag.RowsAffected()
	j.metrics().AddPruned("sessions", removed)

	j.logger().Info("completed session sweep", slog.Int64("removed", removed))
	return resultErr
}

func (j *SessionSweepJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskSessionSweep))
	}
	return slog.Default().With(slog.String("job", TaskSessionSweep))
}

func (j *SessionSweepJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
