package reliability

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zoobzio/clockz"
	"github.com/zoobzio/settlez"
)

// Manager lifecycle tests - verify startup, exactly-once reporting under
// churn and resource cleanup.

func TestManagerLifecycle(t *testing.T) {
	config := getReliabilityConfig()

	switch config.Level {
	case "basic":
		t.Run("startup_shutdown", testStartupShutdown)
		t.Run("id_pool_behavior", testIDPoolBehavior)
	case "stress":
		t.Run("rapid_cycling", testRapidCycling)
		t.Run("sustained_churn", func(t *testing.T) { testSustainedChurn(t, config) })
	default:
		t.Skip("SETTLEZ_RELIABILITY_LEVEL not set, skipping reliability tests")
	}
}

type countingSink struct {
	mu    sync.Mutex
	seen  map[string]int
	total atomic.Int64
}

func newCountingSink() *countingSink {
	return &countingSink{seen: map[string]int{}}
}

func (s *countingSink) report(rec settlez.TraceRecording) {
	s.mu.Lock()
	s.seen[rec.ID]++
	s.mu.Unlock()
	s.total.Add(1)
}

func (s *countingSink) duplicates() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for id, n := range s.seen {
		if n != 1 {
			out = append(out, fmt.Sprintf("%s x%d", id, n))
		}
	}
	return out
}

func newTracer(t *testing.T, m *settlez.Manager, name string) *settlez.Tracer {
	t.Helper()
	tr, err := m.CreateTracer(settlez.TraceDefinition{
		Name:            name,
		RequiredSpans:   []settlez.SpanMatcher{settlez.Named("done")},
		DebounceOnSpans: []settlez.SpanMatcher{settlez.Named("more")},
	})
	if err != nil {
		t.Fatalf("Invalid definition: %v", err)
	}
	return tr
}

// testStartupShutdown verifies basic manager lifecycle.
func testStartupShutdown(t *testing.T) {
	sink := newCountingSink()
	m := settlez.NewManager(settlez.Config{ReportFn: sink.report})
	tr := newTracer(t, m, "lifecycle")

	if _, err := tr.Start(settlez.StartInput{}); err != nil {
		t.Fatalf("Start failed immediately after startup: %v", err)
	}
	m.Close()

	if sink.total.Load() != 1 {
		t.Errorf("Expected the active trace to be reported on close, got %d", sink.total.Load())
	}

	// Post-shutdown operations should not panic.
	func() {
		defer func() {
			if r := recover(); r != nil {
				t.Errorf("Panic after manager close: %v", r)
			}
		}()
		m.ProcessSpan(settlez.Span{Name: "done"})
		m.AdvanceTo(time.Hour)
		tr.Interrupt(settlez.InterruptOptions{})
		m.Close()
	}()
}

// testIDPoolBehavior verifies generated IDs stay unique under contention.
func testIDPoolBehavior(t *testing.T) {
	pool := settlez.NewULIDPool(16, clockz.RealClock)
	defer pool.Close()

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = make(map[string]bool)
	)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				id := pool.Get()
				mu.Lock()
				if ids[id] {
					t.Errorf("Duplicate ID %s", id)
				}
				ids[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
}

// testRapidCycling creates and closes managers in a tight loop.
func testRapidCycling(t *testing.T) {
	before := runtime.NumGoroutine()

	for i := 0; i < 500; i++ {
		sink := newCountingSink()
		m := settlez.NewManager(settlez.Config{ReportFn: sink.report})
		tr := newTracer(t, m, "cycle")
		if _, err := tr.Start(settlez.StartInput{}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		m.ProcessSpan(settlez.Span{Name: "done", StartTime: m.Now()})
		m.Close()
		if sink.total.Load() != 1 {
			t.Fatalf("Cycle %d: expected 1 recording, got %d", i, sink.total.Load())
		}
	}

	runtime.GC()
	time.Sleep(50 * time.Millisecond)
	if after := runtime.NumGoroutine(); after > before+10 {
		t.Errorf("Goroutine leak: %d before, %d after", before, after)
	}
}

// testSustainedChurn hammers one manager with starts, spans, interrupts and
// scheduled deadlines, then checks every trace was reported exactly once.
func testSustainedChurn(t *testing.T, config ReliabilityConfig) {
	sink := newCountingSink()
	m := settlez.NewManager(settlez.Config{ReportFn: sink.report, ScheduleDeadlines: true})

	tracers := make([]*settlez.Tracer, config.MaxGoroutines)
	for i := range tracers {
		tracers[i] = newTracer(t, m, fmt.Sprintf("churn-%d", i))
	}

	var (
		wg      sync.WaitGroup
		started atomic.Int64
	)
	stop := time.After(config.Duration)
	done := make(chan struct{})
	for _, tr := range tracers {
		wg.Add(1)
		go func(tr *settlez.Tracer) {
			defer wg.Done()
			for i := 0; ; i++ {
				select {
				case <-done:
					return
				default:
				}
				if _, err := tr.Start(settlez.StartInput{}); err != nil {
					return
				}
				started.Add(1)
				now := m.Now()
				switch i % 4 {
				case 0:
					m.ProcessSpan(settlez.Span{Name: "done", StartTime: now})
				case 1:
					m.ProcessSpan(settlez.Span{Name: "done", StartTime: now})
					m.ProcessSpan(settlez.Span{Name: "more", StartTime: now})
				case 2:
					tr.Interrupt(settlez.InterruptOptions{Error: fmt.Errorf("churn %d", i)})
				}
			}
		}(tr)
	}
	<-stop
	close(done)
	wg.Wait()
	m.Close()

	// A scheduled deadline may still be delivering its report.
	deadline := time.Now().Add(time.Second)
	for sink.total.Load() < started.Load() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if dups := sink.duplicates(); len(dups) > 0 {
		t.Errorf("Traces reported more than once: %v", dups)
	}
	if got := sink.total.Load(); got != started.Load() {
		t.Errorf("Expected %d recordings, got %d", started.Load(), got)
	}
	t.Logf("Started %d traces", started.Load())
}
