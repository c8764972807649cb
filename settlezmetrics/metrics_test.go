package settlezmetrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zoobzio/settlez"
)

func durationPtr(d time.Duration) *time.Duration { return &d }

func TestReporterCountsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	var forwarded []string
	r, err := New(reg, func(rec settlez.TraceRecording) { forwarded = append(forwarded, rec.ID) })
	require.NoError(t, err)

	r.Report(settlez.TraceRecording{ID: "a", Name: "ticket", Status: settlez.StatusOK, Duration: durationPtr(100 * time.Millisecond)})
	r.Report(settlez.TraceRecording{ID: "b", Name: "ticket", Status: settlez.StatusOK, Duration: durationPtr(300 * time.Millisecond)})
	r.Report(settlez.TraceRecording{ID: "c", Name: "ticket", Status: settlez.StatusInterrupted, InterruptionReason: settlez.ReasonTimeout})

	assert.Equal(t, []string{"a", "b", "c"}, forwarded)
	assert.InDelta(t, 2, testutil.ToFloat64(r.recordings.WithLabelValues("ticket", "ok", "")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(r.recordings.WithLabelValues("ticket", "interrupted", "timeout")), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(r.duration))
	assert.Equal(t, 0, testutil.CollectAndCount(r.interactive))
}

func TestReporterObservesInteractive(t *testing.T) {
	reg := prometheus.NewRegistry()
	r, err := New(reg, nil)
	require.NoError(t, err)

	r.Report(settlez.TraceRecording{
		Name:     "page",
		Status:   settlez.StatusOK,
		Duration: durationPtr(time.Second),
		AdditionalDurations: settlez.AdditionalDurations{
			StartTillInteractive: durationPtr(2 * time.Second),
		},
	})

	expected := `
# HELP settlez_start_till_interactive_seconds Time from trace start to first CPU idle.
# TYPE settlez_start_till_interactive_seconds histogram
settlez_start_till_interactive_seconds_bucket{trace="page",le="0.05"} 0
settlez_start_till_interactive_seconds_bucket{trace="page",le="0.1"} 0
settlez_start_till_interactive_seconds_bucket{trace="page",le="0.2"} 0
settlez_start_till_interactive_seconds_bucket{trace="page",le="0.4"} 0
settlez_start_till_interactive_seconds_bucket{trace="page",le="0.8"} 0
settlez_start_till_interactive_seconds_bucket{trace="page",le="1.6"} 0
settlez_start_till_interactive_seconds_bucket{trace="page",le="3.2"} 1
settlez_start_till_interactive_seconds_bucket{trace="page",le="6.4"} 1
settlez_start_till_interactive_seconds_bucket{trace="page",le="12.8"} 1
settlez_start_till_interactive_seconds_bucket{trace="page",le="25.6"} 1
settlez_start_till_interactive_seconds_bucket{trace="page",le="51.2"} 1
settlez_start_till_interactive_seconds_bucket{trace="page",le="102.4"} 1
settlez_start_till_interactive_seconds_bucket{trace="page",le="+Inf"} 1
settlez_start_till_interactive_seconds_sum{trace="page"} 2
settlez_start_till_interactive_seconds_count{trace="page"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "settlez_start_till_interactive_seconds"))
}

func TestNewRejectsDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg, nil)
	require.NoError(t, err)

	_, err = New(reg, nil)
	assert.Error(t, err)
}
