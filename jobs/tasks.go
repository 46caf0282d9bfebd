package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"

	// TaskStatsWarmup pre-populates the user statistics cache.
	TaskStatsWarmup = "admin:stats_warmup"
	// TaskAuditRetention removes audit entries past the retention window.
	TaskAuditRetention = "admin:audit_retention"
	// TaskSessionSweep removes expired session rows.
	TaskSessionSweep = "admin:session_sweep"
)

// AuditRetentionPayload tunes how far back audit history is kept.
type AuditRetentionPayload struct {
	RetentionDays int `json:"retention_days"`
}

// NewStatsWarmupTask constructs the stats warmup task. The task carries no
// payload; the job recomputes the dashboard statistics from the database.
func NewStatsWarmupTask() *asynq.Task {
	return asynq.NewTask(TaskStatsWarmup, nil)
}

// NewAuditRetentionTask constructs an audit retention task.
func NewAuditRetentionTask(payload AuditRetentionPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditRetention, data), nil
}

// NewSessionSweepTask constructs a session sweep task.
func NewSessionSweepTask() *asynq.Task {
	return asynq.NewTask(TaskSessionSweep, nil)
}
