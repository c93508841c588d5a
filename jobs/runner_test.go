package jobs

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/Nexora-Open-Source/site-version-jobs/types"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// fakeClock advances only when the runner waits on it
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

// blockingClock never fires, so only cancellation ends a wait
type blockingClock struct{}

func (blockingClock) Now() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
func (blockingClock) After(time.Duration) <-chan time.Time { return nil }

// MockJobClient is a mock for the remote job API
type MockJobClient struct {
	mock.Mock
}

func (m *MockJobClient) SubmitCleanupJob(ctx context.Context, entityURL string, thresholdDays int) (types.JobHandle, error) {
	args := m.Called(ctx, entityURL, thresholdDays)
	return args.Get(0).(types.JobHandle), args.Error(1)
}

func (m *MockJobClient) SubmitReportJob(ctx context.Context, entityURL, destination string) (types.JobHandle, error) {
	args := m.Called(ctx, entityURL, destination)
	return args.Get(0).(types.JobHandle), args.Error(1)
}

func (m *MockJobClient) FetchProgress(ctx context.Context, entityURL string, handle types.JobHandle) (types.RawProgress, error) {
	args := m.Called(ctx, entityURL, handle)
	return args.Get(0).(types.RawProgress), args.Error(1)
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func reportRequest(site string) types.JobRequest {
	return types.JobRequest{EntityURL: site, Mode: types.ModeReport, ReportDestination: site + "/Shared Documents/r.csv"}
}

func reportHandle(site string) types.JobHandle {
	return types.JobHandle{Value: site + "/Shared Documents/r.csv", EntityURL: site, Mode: types.ModeReport}
}

func int64Ptr(v int64) *int64 {
	return &v
}

var defaultRunnerConfig = RunnerConfig{PollInterval: time.Second, MaxWait: 3 * time.Second}

func TestRunnerCleanupFireAndForget(t *testing.T) {
	client := &MockJobClient{}
	site := "https://contoso.example.com/sites/hr"
	client.On("SubmitCleanupJob", mock.Anything, site, 180).
		Return(types.JobHandle{Value: "wi-1", EntityURL: site, Mode: types.ModeCleanup}, nil)

	runner := NewRunner(client, defaultRunnerConfig, testLogger()).WithClock(newFakeClock())
	outcome := runner.Run(context.Background(), types.JobRequest{EntityURL: site, Mode: types.ModeCleanup, DeleteBeforeDays: 180})

	assert.Nil(t, outcome.Err)
	assert.Equal(t, types.OutcomeAccepted, outcome.Record.Status)
	assert.Equal(t, "wi-1", outcome.Record.Handle)
	assert.Equal(t, 0, outcome.Record.Polls)
	assert.Empty(t, outcome.Record.Detail)
	client.AssertNotCalled(t, "FetchProgress", mock.Anything, mock.Anything, mock.Anything)
}

func TestRunnerCleanupWaitPolls(t *testing.T) {
	client := &MockJobClient{}
	site := "https://contoso.example.com/sites/hr"
	handle := types.JobHandle{Value: "wi-1", EntityURL: site, Mode: types.ModeCleanup}
	client.On("SubmitCleanupJob", mock.Anything, site, 30).Return(handle, nil)
	client.On("FetchProgress", mock.Anything, site, handle).
		Return(types.RawProgress{Status: "Completed", VersionsDeleted: int64Ptr(7), StorageReleasedBytes: int64Ptr(2048)}, nil).Once()

	config := defaultRunnerConfig
	config.CleanupWait = true
	runner := NewRunner(client, config, testLogger()).WithClock(newFakeClock())
	outcome := runner.Run(context.Background(), types.JobRequest{EntityURL: site, Mode: types.ModeCleanup, DeleteBeforeDays: 30})

	assert.Equal(t, types.OutcomeCompleted, outcome.Record.Status)
	assert.Equal(t, 1, outcome.Record.Polls)
	assert.Equal(t, int64(7), *outcome.Record.VersionsDeleted)
	assert.Equal(t, int64(2048), *outcome.Record.StorageReleasedBytes)
}

func TestRunnerSubmissionFailure(t *testing.T) {
	client := &MockJobClient{}
	site := "https://contoso.example.com/sites/hr"
	client.On("SubmitReportJob", mock.Anything, site, mock.Anything).
		Return(types.JobHandle{}, errors.New("status 500"))

	runner := NewRunner(client, defaultRunnerConfig, testLogger()).WithClock(newFakeClock())
	outcome := runner.Run(context.Background(), reportRequest(site))

	require.NotNil(t, outcome.Err)
	assert.Equal(t, KindSubmission, outcome.Err.Kind)
	assert.Equal(t, types.OutcomeFailed, outcome.Record.Status)
	assert.Equal(t, string(KindSubmission), outcome.Record.ErrorKind)
	assert.Equal(t, "status 500", outcome.Record.Detail)
	assert.Equal(t, 0, outcome.Record.Polls)
	assert.False(t, outcome.Record.Timestamp.IsZero())
	client.AssertNotCalled(t, "FetchProgress", mock.Anything, mock.Anything, mock.Anything)
}

func TestRunnerReportPolling(t *testing.T) {
	site := "https://contoso.example.com/sites/hr"

	tests := []struct {
		name       string
		responses  []types.RawProgress
		wantStatus types.OutcomeStatus
		wantKind   ErrorKind
		wantPolls  int
		wantDetail string
	}{
		{
			name:       "completed on first poll",
			responses:  []types.RawProgress{{Status: "completed"}},
			wantStatus: types.OutcomeCompleted,
			wantPolls:  1,
		},
		{
			name: "in progress then completed",
			responses: []types.RawProgress{
				{Status: "in_progress"},
				{Status: "completed", VersionsProcessed: int64Ptr(40)},
			},
			wantStatus: types.OutcomeCompleted,
			wantPolls:  2,
		},
		{
			name: "not yet visible then completed",
			responses: []types.RawProgress{
				{Status: "no_report_found"},
				{Status: "Succeeded"},
			},
			wantStatus: types.OutcomeCompleted,
			wantPolls:  2,
		},
		{
			name:       "remote failure with message",
			responses:  []types.RawProgress{{Status: "Failed", ErrorMessage: "access denied"}},
			wantStatus: types.OutcomeFailed,
			wantKind:   KindJobFailed,
			wantPolls:  1,
			wantDetail: "access denied",
		},
		{
			name:       "remote failure without message",
			responses:  []types.RawProgress{{Status: "error"}},
			wantStatus: types.OutcomeFailed,
			wantKind:   KindJobFailed,
			wantPolls:  1,
			wantDetail: "remote job reported failure",
		},
		{
			name: "never terminal",
			responses: []types.RawProgress{
				{Status: "in_progress"}, {Status: "in_progress"}, {Status: "in_progress"},
			},
			wantStatus: types.OutcomeTimedOut,
			wantKind:   KindTimeout,
			wantPolls:  3,
			wantDetail: "in_progress",
		},
		{
			name: "unknown status until deadline",
			responses: []types.RawProgress{
				{Status: "in_progress"}, {Status: "in_progress"}, {Status: "Paused"},
			},
			wantStatus: types.OutcomeTimedOut,
			wantKind:   KindTimeout,
			wantPolls:  3,
			wantDetail: "unknown",
		},
		{
			name: "document without status keeps polling",
			responses: []types.RawProgress{
				{VersionsProcessed: int64Ptr(3)},
				{Status: "completed"},
			},
			wantStatus: types.OutcomeCompleted,
			wantPolls:  2,
		},
		{
			name: "document without status until deadline",
			responses: []types.RawProgress{
				{}, {}, {},
			},
			wantStatus: types.OutcomeTimedOut,
			wantKind:   KindTimeout,
			wantPolls:  3,
			wantDetail: "unknown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &MockJobClient{}
			handle := reportHandle(site)
			client.On("SubmitReportJob", mock.Anything, site, handle.Value).Return(handle, nil)
			for _, resp := range tt.responses {
				client.On("FetchProgress", mock.Anything, site, handle).Return(resp, nil).Once()
			}

			runner := NewRunner(client, defaultRunnerConfig, testLogger()).WithClock(newFakeClock())
			outcome := runner.Run(context.Background(), reportRequest(site))

			assert.Equal(t, tt.wantStatus, outcome.Record.Status)
			assert.Equal(t, tt.wantPolls, outcome.Record.Polls)
			assert.Equal(t, tt.wantDetail, outcome.Record.Detail)
			assert.Equal(t, handle.Value, outcome.Record.Handle)
			if tt.wantKind == "" {
				assert.Nil(t, outcome.Err)
				assert.Empty(t, outcome.Record.ErrorKind)
			} else {
				require.NotNil(t, outcome.Err)
				assert.Equal(t, tt.wantKind, outcome.Err.Kind)
				assert.Equal(t, string(tt.wantKind), outcome.Record.ErrorKind)
			}
			client.AssertNumberOfCalls(t, "FetchProgress", tt.wantPolls)
		})
	}
}

func TestRunnerCountersKeepLastReportedValue(t *testing.T) {
	client := &MockJobClient{}
	site := "https://contoso.example.com/sites/hr"
	handle := reportHandle(site)
	client.On("SubmitReportJob", mock.Anything, site, handle.Value).Return(handle, nil)
	client.On("FetchProgress", mock.Anything, site, handle).
		Return(types.RawProgress{Status: "in_progress", VersionsProcessed: int64Ptr(5)}, nil).Once()
	client.On("FetchProgress", mock.Anything, site, handle).
		Return(types.RawProgress{Status: "completed", VersionsDeleted: int64Ptr(3)}, nil).Once()

	runner := NewRunner(client, defaultRunnerConfig, testLogger()).WithClock(newFakeClock())
	outcome := runner.Run(context.Background(), reportRequest(site))

	require.NotNil(t, outcome.Record.VersionsProcessed)
	assert.Equal(t, int64(5), *outcome.Record.VersionsProcessed)
	assert.Equal(t, int64(3), *outcome.Record.VersionsDeleted)
	assert.Nil(t, outcome.Record.VersionsFailed)
	assert.Equal(t, types.JobCompleted, outcome.Record.LastObserved)
}

func TestRunnerFetchErrorIsImmediateFailure(t *testing.T) {
	client := &MockJobClient{}
	site := "https://contoso.example.com/sites/hr"
	handle := reportHandle(site)
	client.On("SubmitReportJob", mock.Anything, site, handle.Value).Return(handle, nil)
	client.On("FetchProgress", mock.Anything, site, handle).Return(types.RawProgress{}, errors.New("connection reset"))

	runner := NewRunner(client, defaultRunnerConfig, testLogger()).WithClock(newFakeClock())
	outcome := runner.Run(context.Background(), reportRequest(site))

	require.NotNil(t, outcome.Err)
	assert.Equal(t, KindRemote, outcome.Err.Kind)
	assert.Equal(t, types.OutcomeFailed, outcome.Record.Status)
	assert.Equal(t, "connection reset", outcome.Record.Detail)
	assert.Equal(t, 1, outcome.Record.Polls)
	client.AssertNumberOfCalls(t, "FetchProgress", 1)
}

func TestRunnerFetchRetries(t *testing.T) {
	site := "https://contoso.example.com/sites/hr"
	handle := reportHandle(site)
	config := defaultRunnerConfig
	config.PollRetries = 2
	config.PollRetryDelay = time.Millisecond

	t.Run("recovers within budget", func(t *testing.T) {
		client := &MockJobClient{}
		client.On("SubmitReportJob", mock.Anything, site, handle.Value).Return(handle, nil)
		client.On("FetchProgress", mock.Anything, site, handle).Return(types.RawProgress{}, errors.New("timeout")).Twice()
		client.On("FetchProgress", mock.Anything, site, handle).Return(types.RawProgress{Status: "completed"}, nil).Once()

		outcome := NewRunner(client, config, testLogger()).WithClock(newFakeClock()).Run(context.Background(), reportRequest(site))

		assert.Equal(t, types.OutcomeCompleted, outcome.Record.Status)
		assert.Equal(t, 1, outcome.Record.Polls)
		client.AssertNumberOfCalls(t, "FetchProgress", 3)
	})

	t.Run("gives up after budget", func(t *testing.T) {
		client := &MockJobClient{}
		client.On("SubmitReportJob", mock.Anything, site, handle.Value).Return(handle, nil)
		client.On("FetchProgress", mock.Anything, site, handle).Return(types.RawProgress{}, errors.New("timeout"))

		outcome := NewRunner(client, config, testLogger()).WithClock(newFakeClock()).Run(context.Background(), reportRequest(site))

		require.NotNil(t, outcome.Err)
		assert.Equal(t, KindRemote, outcome.Err.Kind)
		client.AssertNumberOfCalls(t, "FetchProgress", 3)
	})
}

func TestRunnerCancellation(t *testing.T) {
	site := "https://contoso.example.com/sites/hr"
	handle := reportHandle(site)

	t.Run("before submission", func(t *testing.T) {
		client := &MockJobClient{}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		outcome := NewRunner(client, defaultRunnerConfig, testLogger()).Run(ctx, reportRequest(site))

		assert.Equal(t, types.OutcomeCancelled, outcome.Record.Status)
		assert.Equal(t, string(KindCancelled), outcome.Record.ErrorKind)
		assert.Equal(t, "cancelled before submission", outcome.Record.Detail)
		client.AssertNotCalled(t, "SubmitReportJob", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("while waiting to poll", func(t *testing.T) {
		client := &MockJobClient{}
		ctx, cancel := context.WithCancel(context.Background())
		client.On("SubmitReportJob", mock.Anything, site, handle.Value).Return(handle, nil).Run(func(mock.Arguments) {
			cancel()
		})

		outcome := NewRunner(client, defaultRunnerConfig, testLogger()).WithClock(blockingClock{}).Run(ctx, reportRequest(site))

		assert.Equal(t, types.OutcomeCancelled, outcome.Record.Status)
		assert.Equal(t, "cancelled before first poll", outcome.Record.Detail)
		assert.Equal(t, handle.Value, outcome.Record.Handle)
		assert.Equal(t, 0, outcome.Record.Polls)
	})
}

func TestRunnerRejectsForeignHandle(t *testing.T) {
	site := "https://contoso.example.com/sites/hr"

	tests := []struct {
		name   string
		handle types.JobHandle
	}{
		{name: "empty handle", handle: types.JobHandle{EntityURL: site, Mode: types.ModeReport}},
		{name: "other entity", handle: types.JobHandle{Value: "h", EntityURL: site + "x", Mode: types.ModeReport}},
		{name: "other mode", handle: types.JobHandle{Value: "h", EntityURL: site, Mode: types.ModeCleanup}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &MockJobClient{}
			client.On("SubmitReportJob", mock.Anything, site, mock.Anything).Return(tt.handle, nil)

			outcome := NewRunner(client, defaultRunnerConfig, testLogger()).WithClock(newFakeClock()).Run(context.Background(), reportRequest(site))

			require.NotNil(t, outcome.Err)
			assert.Equal(t, KindLocal, outcome.Err.Kind)
			assert.Equal(t, types.OutcomeFailed, outcome.Record.Status)
			client.AssertNotCalled(t, "FetchProgress", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestRunnerDeadlineMeasuredFromSubmission(t *testing.T) {
	client := &MockJobClient{}
	site := "https://contoso.example.com/sites/hr"
	handle := reportHandle(site)
	clock := newFakeClock()

	client.On("SubmitReportJob", mock.Anything, site, handle.Value).Return(handle, nil).Run(func(mock.Arguments) {
		clock.After(10 * time.Second)
	})
	client.On("FetchProgress", mock.Anything, site, handle).Return(types.RawProgress{Status: "in_progress"}, nil)

	outcome := NewRunner(client, defaultRunnerConfig, testLogger()).WithClock(clock).Run(context.Background(), reportRequest(site))

	assert.Equal(t, types.OutcomeTimedOut, outcome.Record.Status)
	assert.Equal(t, 3, outcome.Record.Polls)
}
