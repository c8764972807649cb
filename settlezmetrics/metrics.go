// Package settlezmetrics exports settlez recordings as Prometheus metrics.
package settlezmetrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zoobzio/settlez"
)

const namespace = "settlez"

// Reporter observes every recording and forwards it to the wrapped sink.
type Reporter struct {
	recordings  *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	interactive *prometheus.HistogramVec
	next        settlez.ReportFunc
}

// New registers the settlez collectors on reg. next may be nil.
func New(reg prometheus.Registerer, next settlez.ReportFunc) (*Reporter, error) {
	r := &Reporter{
		recordings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recordings_total",
			Help:      "Finalized trace recordings by outcome.",
		}, []string{"trace", "status", "reason"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recording_duration_seconds",
			Help:      "Duration of traces that completed ok.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"trace"}),
		interactive: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "start_till_interactive_seconds",
			Help:      "Time from trace start to first CPU idle.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"trace"}),
		next: next,
	}
	for _, c := range []prometheus.Collector{r.recordings, r.duration, r.interactive} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Report is a settlez.ReportFunc.
func (r *Reporter) Report(rec settlez.TraceRecording) {
	r.recordings.WithLabelValues(rec.Name, string(rec.Status), string(rec.InterruptionReason)).Inc()
	if rec.Duration != nil {
		r.duration.WithLabelValues(rec.Name).Observe(rec.Duration.Seconds())
	}
	if d := rec.AdditionalDurations.StartTillInteractive; d != nil {
		r.interactive.WithLabelValues(rec.Name).Observe(d.Seconds())
	}
	if r.next != nil {
		r.next(rec)
	}
}
