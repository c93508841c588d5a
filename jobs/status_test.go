package jobs

import (
	"testing"

	"github.com/Nexora-Open-Source/site-version-jobs/types"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeStatus(t *testing.T) {
	tests := []struct {
		raw  string
		want types.JobStatus
	}{
		{"in_progress", types.JobInProgress},
		{"InProgress", types.JobInProgress},
		{" Running ", types.JobInProgress},
		{"Not Started", types.JobInProgress},
		{"queued", types.JobInProgress},
		{"completed", types.JobCompleted},
		{"Succeeded", types.JobCompleted},
		{"DONE", types.JobCompleted},
		{"failed", types.JobFailed},
		{"Error", types.JobFailed},
		{"canceled", types.JobFailed},
		{"no_report_found", types.JobNotFound},
		{"NoReportFound", types.JobNotFound},
		{"not-found", types.JobNotFound},
		{"", types.JobUnknown},
		{"Paused", types.JobUnknown},
		{"2", types.JobUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeStatus(tt.raw))
		})
	}
}

func TestJobStatusTerminal(t *testing.T) {
	assert.True(t, types.JobCompleted.Terminal())
	assert.True(t, types.JobFailed.Terminal())
	assert.False(t, types.JobInProgress.Terminal())
	assert.False(t, types.JobNotFound.Terminal())
	assert.False(t, types.JobUnknown.Terminal())
}
