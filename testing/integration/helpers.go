package integration

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/clockz"
	"github.com/zoobzio/settlez"
)

// MockCollector wraps a real collector with test utilities.
// Provides synchronous collection and verification helpers.
//
//nolint:govet // Field alignment optimized for test helper readability
type MockCollector struct {
	exported []settlez.TraceRecording
	*settlez.Collector
	t  *testing.T
	mu sync.Mutex
}

// NewMockCollector creates a collector for testing.
func NewMockCollector(t *testing.T, name string, bufferSize int) *MockCollector {
	collector := settlez.NewCollector(name, bufferSize)
	collector.SetSyncMode(true)
	t.Cleanup(collector.Close)
	return &MockCollector{Collector: collector, t: t}
}

// Export returns collected recordings and clears the buffer.
func (m *MockCollector) Export() []settlez.TraceRecording {
	m.mu.Lock()
	defer m.mu.Unlock()

	recs := m.Collector.Export()
	m.exported = append(m.exported, recs...)
	return recs
}

// GetAll returns every recording exported so far without clearing.
func (m *MockCollector) GetAll() []settlez.TraceRecording {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current := m.Collector.Export(); len(current) > 0 {
		m.exported = append(m.exported, current...)
	}
	all := make([]settlez.TraceRecording, len(m.exported))
	copy(all, m.exported)
	return all
}

// WaitForRecordings waits for expected number of recordings with timeout.
func (m *MockCollector) WaitForRecordings(expected int, timeout time.Duration) []settlez.TraceRecording {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		if all := m.GetAll(); len(all) >= expected {
			return all
		}
		<-ticker.C
	}

	all := m.GetAll()
	m.t.Errorf("Timeout waiting for recordings: expected %d, got %d", expected, len(all))
	return all
}

// AssertNamed returns the single recording with the given trace name.
func (m *MockCollector) AssertNamed(name string) *settlez.TraceRecording {
	var found *settlez.TraceRecording
	all := m.GetAll()
	for i := range all {
		if all[i].Name != name {
			continue
		}
		if found != nil {
			m.t.Errorf("Trace '%s' reported more than once", name)
		}
		found = &all[i]
	}
	if found == nil {
		m.t.Errorf("Trace '%s' not reported", name)
	}
	return found
}

// Reported collects errors and warnings a manager delivers.
type Reported struct {
	mu       sync.Mutex
	errors   []error
	warnings []error
}

func (r *Reported) reportError(err error, _ settlez.ReportContext) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, err)
}

func (r *Reported) reportWarning(err error, _ settlez.ReportContext) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warnings = append(r.warnings, err)
}

// Counts returns the number of errors and warnings seen.
func (r *Reported) Counts() (errs, warnings int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errors), len(r.warnings)
}

// NewHarness creates a manager on a fake clock reporting into a mock
// collector. wrap, when set, decorates the collector's report function.
func NewHarness(t *testing.T, wrap func(next settlez.ReportFunc) settlez.ReportFunc) (*settlez.Manager, *MockCollector, *Reported) {
	t.Helper()
	collector := NewMockCollector(t, "integration", 1000)
	report := settlez.ReportFunc(collector.Report)
	if wrap != nil {
		report = wrap(report)
	}
	reported := &Reported{}
	var n int
	var mu sync.Mutex
	m := settlez.NewManager(settlez.Config{
		Clock: clockz.NewFakeClock(),
		GenerateID: func() string {
			mu.Lock()
			defer mu.Unlock()
			n++
			return fmt.Sprintf("trace-%d", n)
		},
		ReportFn:        report,
		ReportErrorFn:   reported.reportError,
		ReportWarningFn: reported.reportWarning,
	})
	t.Cleanup(m.Close)
	return m, collector, reported
}

// Ms converts milliseconds into a duration.
func Ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// At is a timestamp n milliseconds after the manager origin.
func At(n int) settlez.Timestamp { return settlez.Timestamp{Now: Ms(n)} }

// Measure builds a measure span.
func Measure(name string, startMs, durMs int) settlez.Span {
	return settlez.Span{Name: name, Type: settlez.SpanTypeMeasure, StartTime: At(startMs), Duration: Ms(durMs)}
}

// LongTask builds a long task span.
func LongTask(startMs, durMs int) settlez.Span {
	return settlez.Span{Name: "longtask", Type: settlez.SpanTypeLongTask, StartTime: At(startMs), Duration: Ms(durMs)}
}
