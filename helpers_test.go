package settlez

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/clockz"
)

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func at(n int) Timestamp { return Timestamp{Now: ms(n)} }

func atPtr(n int) *Timestamp {
	ts := at(n)
	return &ts
}

func mark(name string, startMs int) Span {
	return Span{Name: name, Type: SpanTypeMark, StartTime: at(startMs)}
}

type reported struct {
	err error
	ctx ReportContext
}

// sink records every callback a Manager makes.
type sink struct {
	mu       sync.Mutex
	recs     []TraceRecording
	errors   []reported
	warnings []reported
}

func (s *sink) report(rec TraceRecording) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
}

func (s *sink) reportError(err error, ctx ReportContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, reported{err, ctx})
}

func (s *sink) reportWarning(err error, ctx ReportContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.warnings = append(s.warnings, reported{err, ctx})
}

func (s *sink) recordings() []TraceRecording {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]TraceRecording(nil), s.recs...)
}

func (s *sink) only(t *testing.T) TraceRecording {
	t.Helper()
	recs := s.recordings()
	if len(recs) != 1 {
		t.Fatalf("Expected exactly 1 recording, got %d", len(recs))
	}
	return recs[0]
}

func newTestManager(t *testing.T) (*Manager, *sink) {
	t.Helper()
	s := &sink{}
	var n int
	m := NewManager(Config{
		Clock: clockz.NewFakeClock(),
		GenerateID: func() string {
			n++
			return fmt.Sprintf("trace-%d", n)
		},
		ReportFn:        s.report,
		ReportErrorFn:   s.reportError,
		ReportWarningFn: s.reportWarning,
	})
	t.Cleanup(m.Close)
	return m, s
}

func newTestTracer(t *testing.T, m *Manager, def TraceDefinition) *Tracer {
	t.Helper()
	if def.Name == "" {
		def.Name = "test-operation"
	}
	tr, err := m.CreateTracer(def)
	if err != nil {
		t.Fatalf("Expected valid definition, got %v", err)
	}
	return tr
}

func startAt(t *testing.T, tr *Tracer, n int, rel RelatedTo) string {
	t.Helper()
	id, err := tr.Start(StartInput{StartTime: atPtr(n), RelatedTo: rel})
	if err != nil {
		t.Fatalf("Expected trace to start, got %v", err)
	}
	return id
}

func entryNames(rec TraceRecording) []string {
	names := make([]string, len(rec.Entries))
	for i, e := range rec.Entries {
		names[i] = e.Span.Name
	}
	return names
}

func durationMs(d *time.Duration) string {
	if d == nil {
		return "<nil>"
	}
	return d.String()
}
