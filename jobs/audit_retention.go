package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/vantage-admin/vantage/internal/jobs"
	"github.com/vantage-admin/vantage/internal/shared"
)

// DefaultAuditRetentionDays bounds audit history when the payload does not
// specify a window.
const DefaultAuditRetentionDays = 180

// AuditRetentionJob deletes audit entries older than the retention window.
type AuditRetentionJob struct {
	Audit   *shared.AuditLogger
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewAuditRetentionJob wires dependencies for the retention handler.
func NewAuditRetentionJob(audit *shared.AuditLogger, logger *slog.Logger, metrics *jobmetrics.Metrics) *AuditRetentionJob {
	return &AuditRetentionJob{
		Audit:   audit,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes audit retention tasks.
func (j *AuditRetentionJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Audit == nil {
		return errors.New("audit retention: handler not configured")
	}
	var payload AuditRetentionPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	if payload.RetentionDays <= 0 {
		payload.RetentionDays = DefaultAuditRetentionDays
	}

	tracker := j.metrics().Track(TaskAuditRetention)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	cutoff := j.now().AddDate(0, 0, -payload.RetentionDays)
	logger := j.logger().With(slog.Int("retention_days", payload.RetentionDays))

	removed, err := j.Audit.PruneBefore(ctx, cutoff)
	if err != nil {
		resultErr = err
		logger.Error("prune audit logs", slog.Any("error", err))
		return resultErr
	}
	j.metrics().AddPruned("audit_logs", removed)

	logger.Info("completed audit retention",
		slog.Int64("removed", removed),
		slog.Time("cutoff", cutoff))
	return resultErr
}

func (j *AuditRetentionJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskAuditRetention))
	}
	return slog.Default().With(slog.String("job", TaskAuditRetention))
}

func (j *AuditRetentionJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *AuditRetentionJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
