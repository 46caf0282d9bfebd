package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vantage-admin/vantage/jobs"
)

func TestBuildTaskKnownJobs(t *testing.T) {
	for _, name := range []string{jobs.TaskStatsWarmup, jobs.TaskAuditRetention, jobs.TaskSessionSweep} {
		task, err := BuildTask(name)
		require.NoError(t, err, name)
		require.Equal(t, name, task.Type())
	}
}

func TestBuildTaskRetentionDefaultPayload(t *testing.T) {
	task, err := BuildTask(jobs.TaskAuditRetention)
	require.NoError(t, err)

	var payload jobs.AuditRetentionPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.Equal(t, jobs.DefaultAuditRetentionDays, payload.RetentionDays)
}

func TestBuildTaskUnknownJob(t *testing.T) {
	_, err := BuildTask("admin:does_not_exist")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported job")
}
