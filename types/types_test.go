package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTaskResult_Latency(t *testing.T) {
	ok := TaskResult{ID: "a", IsSuccess: true, Latency: 1500 * time.Millisecond, Measured: true}
	ms, measured := ok.LatencyMs()
	require.True(t, measured)
	require.Equal(t, int64(1500), ms)
	require.True(t, ok.IsSlow(time.Second))
	require.False(t, ok.IsSlow(2*time.Second))

	failed := TaskResult{ID: "b"}
	_, measured = failed.LatencyMs()
	require.False(t, measured)
	require.False(t, failed.IsSlow(0), "unmeasured results are never slow")
}

func TestTaskResult_IsSlowComparesWholeMilliseconds(t *testing.T) {
	cases := []struct {
		latency time.Duration
		slow    bool
	}{
		{latency: 1000*time.Millisecond + 400*time.Microsecond, slow: false},
		{latency: 1000*time.Millisecond + 999*time.Microsecond, slow: false},
		{latency: 1001 * time.Millisecond, slow: true},
	}

	for _, tc := range cases {
		res := TaskResult{ID: "a", IsSuccess: true, Latency: tc.latency, Measured: true}
		require.Equal(t, tc.slow, res.IsSlow(time.Second), "latency %s", tc.latency)
	}
}

func TestOutcomeRecord_Apply(t *testing.T) {
	t.Run("first write creates record", func(t *testing.T) {
		rec := OutcomeRecord{}.Apply(OutcomeUpdate{ID: "a", PartitionKey: "2026-10-19", IsSuccess: false, AttemptsDelta: 1})
		require.Equal(t, OutcomeRecord{ID: "a", PartitionKey: "2026-10-19", IsSuccess: false, Attempts: 1}, rec)
	})

	t.Run("success is sticky", func(t *testing.T) {
		rec := OutcomeRecord{ID: "a", PartitionKey: "p", IsSuccess: true, Attempts: 1}
		rec = rec.Apply(OutcomeUpdate{ID: "a", PartitionKey: "p", IsSuccess: false, AttemptsDelta: 1})
		require.True(t, rec.IsSuccess)
		require.Equal(t, 2, rec.Attempts)
	})
}

func TestOutcomeRecord_Resolved(t *testing.T) {
	cases := []struct {
		name     string
		rec      OutcomeRecord
		resolved bool
		poisoned bool
	}{
		{"fresh failure", OutcomeRecord{Attempts: 1}, false, false},
		{"two failures", OutcomeRecord{Attempts: 2}, false, false},
		{"poisoned", OutcomeRecord{Attempts: 3}, true, true},
		{"succeeded", OutcomeRecord{IsSuccess: true, Attempts: 1}, true, false},
		{"succeeded on last attempt", OutcomeRecord{IsSuccess: true, Attempts: 3}, true, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.resolved, tc.rec.Resolved())
			require.Equal(t, tc.poisoned, tc.rec.Poisoned())
		})
	}
}

func TestBatchReport_Health(t *testing.T) {
	// 4 slow + 1 failed out of 6 → 0.83 > 0.5
	r := BatchReport{Pending: 6, Slow: 4, Failed: 1}
	require.True(t, r.Unhealthy())
	require.False(t, r.Healthy())

	// exactly half is not unhealthy
	r = BatchReport{Pending: 4, Slow: 1, Failed: 1}
	require.False(t, r.Unhealthy())
	require.False(t, r.Healthy())

	r = BatchReport{Pending: 5}
	require.True(t, r.Healthy())

	require.False(t, BatchReport{}.Healthy())
	require.False(t, BatchReport{}.Unhealthy())
}

func TestStateString(t *testing.T) {
	require.Equal(t, "Running", StateRunning.String())
	require.Equal(t, "Disabled", StateDisabled.String())
	require.Equal(t, "Unknown", State(99).String())
	require.Equal(t, "stream", EventKindStream.String())
	require.Equal(t, "scheduled", ScheduledEvent().Kind.String())
	require.Equal(t, "unknown", EventKind(0).String())
}
