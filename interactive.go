package settlez

import (
	"errors"
	"math"
	"time"
)

// Interactive capture defaults.
const (
	DefaultInteractiveTimeout    = 10 * time.Second
	DefaultDebounceLongTasksBy   = 500 * time.Millisecond
	DefaultClusterPadding        = time.Second
	DefaultHeavyClusterThreshold = 250 * time.Millisecond
)

// QuietWindowFunc returns the quiet window required at now, measured from a
// reference point in time.
type QuietWindowFunc func(now, reference time.Duration) time.Duration

// NewQuietWindow returns a quiet window decaying exponentially from initial
// towards floor, passing through atX after x has elapsed:
//
//	duration(t) = (initial - floor) * e^(-k*t) + floor
//	k = -ln((atX - floor) / (initial - floor)) / x
func NewQuietWindow(initial, atX, x, floor time.Duration) QuietWindowFunc {
	span := float64(initial - floor)
	k := 0.0
	if span > 0 && atX > floor && x > 0 {
		k = -math.Log(float64(atX-floor)/span) / x.Seconds()
	}
	return func(now, reference time.Duration) time.Duration {
		elapsed := now - reference
		if elapsed < 0 {
			elapsed = 0
		}
		if span <= 0 {
			return floor
		}
		return time.Duration(span*math.Exp(-k*elapsed.Seconds())) + floor
	}
}

// DefaultQuietWindow starts at 5s, is 3s after 15s and approaches 1s.
var DefaultQuietWindow = NewQuietWindow(5*time.Second, 3*time.Second, 15*time.Second, time.Second)

// InteractiveConfig configures CPU idle capture after a trace settles.
// Zero fields take their defaults.
type InteractiveConfig struct {
	// Timeout bounds how long the trace waits for CPU idle.
	Timeout time.Duration
	// DebounceLongTasksBy is the minimum quiet time after the last long task
	// before idle may be declared.
	DebounceLongTasksBy time.Duration
	// ClusterPadding merges long tasks separated by at most this gap.
	ClusterPadding time.Duration
	// HeavyClusterThreshold classifies clusters by summed busy time.
	HeavyClusterThreshold time.Duration
	GetQuietWindowDuration QuietWindowFunc
}

func (c InteractiveConfig) withDefaults() InteractiveConfig {
	if c.Timeout == 0 {
		c.Timeout = DefaultInteractiveTimeout
	}
	if c.DebounceLongTasksBy == 0 {
		c.DebounceLongTasksBy = DefaultDebounceLongTasksBy
	}
	if c.ClusterPadding == 0 {
		c.ClusterPadding = DefaultClusterPadding
	}
	if c.HeavyClusterThreshold == 0 {
		c.HeavyClusterThreshold = DefaultHeavyClusterThreshold
	}
	if c.GetQuietWindowDuration == nil {
		c.GetQuietWindowDuration = DefaultQuietWindow
	}
	return c
}

func (c InteractiveConfig) validate() error {
	if c.Timeout < 0 || c.DebounceLongTasksBy < 0 || c.ClusterPadding < 0 || c.HeavyClusterThreshold < 0 {
		return errors.New("captureInteractive: durations must not be negative")
	}
	return nil
}

// longTaskCluster is a run of long tasks separated by at most the padding.
type longTaskCluster struct {
	start time.Duration
	end   time.Duration
	busy  time.Duration
	count int
}

// cpuIdleDetector finds First CPU Idle after FMP by clustering long tasks.
// Heavy clusters push the idle candidate to their end, light ones are ignored.
type cpuIdleDetector struct {
	cfg             InteractiveConfig
	firstCPUIdle    time.Duration
	lastLongTaskEnd time.Duration
	cluster         longTaskCluster
	open            bool
	nextCheck       time.Duration
}

func newCPUIdleDetector(cfg InteractiveConfig, fmp time.Duration) *cpuIdleDetector {
	return &cpuIdleDetector{
		cfg:             cfg,
		firstCPUIdle:    fmp,
		lastLongTaskEnd: fmp,
	}
}

// observe feeds one span. Only long tasks ending after the candidate matter.
func (d *cpuIdleDetector) observe(span Span) {
	if span.Type != SpanTypeLongTask {
		return
	}
	start, end := span.StartTime.Now, span.End()
	if end <= d.firstCPUIdle {
		return
	}
	if d.open && start-d.cluster.end > d.cfg.ClusterPadding {
		d.closeCluster()
	}
	if !d.open {
		d.cluster = longTaskCluster{start: start, end: end}
		d.open = true
	}
	if end > d.cluster.end {
		d.cluster.end = end
	}
	d.cluster.busy += span.Duration
	d.cluster.count++
	if end > d.lastLongTaskEnd {
		d.lastLongTaskEnd = end
	}
}

func (d *cpuIdleDetector) closeCluster() {
	if d.cluster.busy >= d.cfg.HeavyClusterThreshold && d.cluster.end > d.firstCPUIdle {
		d.firstCPUIdle = d.cluster.end
	}
	d.open = false
	d.cluster = longTaskCluster{}
}

// check reports the idle point if it can be confirmed at now.
func (d *cpuIdleDetector) check(now time.Duration) (time.Duration, bool) {
	if d.open && now-d.cluster.end > d.cfg.ClusterPadding {
		d.closeCluster()
	}
	if d.open {
		return 0, false
	}
	if now-d.lastLongTaskEnd < d.cfg.DebounceLongTasksBy {
		return 0, false
	}
	if now-d.firstCPUIdle < d.cfg.GetQuietWindowDuration(now, d.firstCPUIdle) {
		return 0, false
	}
	return d.firstCPUIdle, true
}

// scheduleCheck returns the earliest time worth checking again. It never
// moves backwards.
func (d *cpuIdleDetector) scheduleCheck(now time.Duration) time.Duration {
	due := d.firstCPUIdle + d.cfg.GetQuietWindowDuration(now, d.firstCPUIdle)
	if t := d.lastLongTaskEnd + d.cfg.DebounceLongTasksBy; t > due {
		due = t
	}
	if d.open {
		// One tick past the padding closes the cluster.
		if t := d.cluster.end + d.cfg.ClusterPadding + 1; t > due {
			due = t
		}
	}
	if due < d.nextCheck {
		due = d.nextCheck
	}
	d.nextCheck = due
	return due
}
