package settlez

import (
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type spanRecorder struct {
	mu    sync.Mutex
	spans []Span
}

func (r *spanRecorder) ProcessSpan(span Span) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.spans = append(r.spans, span)
}

func (r *spanRecorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.spans))
	for i, s := range r.spans {
		out[i] = s.Name
	}
	return out
}

func TestSpanBufferFlushOrdersByEnd(t *testing.T) {
	rec := &spanRecorder{}
	buf := NewSpanBuffer(ms(50), rec)

	buf.ProcessSpan(Span{Name: "long", StartTime: at(0), Duration: ms(100)})
	buf.ProcessSpan(mark("early", 20))
	buf.ProcessSpan(mark("late", 300))

	if n := buf.Flush(ms(150)); n != 2 {
		t.Fatalf("Expected 2 spans released, got %d", n)
	}
	if diff := cmp.Diff([]string{"early", "long"}, rec.names()); diff != "" {
		t.Errorf("Order mismatch (-want +got):\n%s", diff)
	}
	if buf.Len() != 1 {
		t.Errorf("Expected 1 span held, got %d", buf.Len())
	}

	if n := buf.Flush(ms(349)); n != 0 {
		t.Errorf("Expected the hold window to keep the late span, got %d released", n)
	}
	if n := buf.FlushAll(); n != 1 || buf.Len() != 0 {
		t.Errorf("Expected FlushAll to drain, got %d released and %d held", n, buf.Len())
	}
}

func TestSpanBufferStableForEqualEnds(t *testing.T) {
	rec := &spanRecorder{}
	buf := NewSpanBuffer(0, rec)

	buf.ProcessSpan(mark("a", 10))
	buf.ProcessSpan(mark("b", 10))
	buf.ProcessSpan(mark("c", 5))
	buf.FlushAll()

	if diff := cmp.Diff([]string{"c", "a", "b"}, rec.names()); diff != "" {
		t.Errorf("Order mismatch (-want +got):\n%s", diff)
	}
}

// blockingRecorder holds up its first delivery until released.
type blockingRecorder struct {
	spanRecorder
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (r *blockingRecorder) ProcessSpan(span Span) {
	r.spanRecorder.ProcessSpan(span)
	r.once.Do(func() {
		close(r.entered)
		<-r.release
	})
}

func TestSpanBufferConcurrentFlushesDoNotInterleave(t *testing.T) {
	rec := &blockingRecorder{entered: make(chan struct{}), release: make(chan struct{})}
	buf := NewSpanBuffer(0, rec)

	buf.ProcessSpan(mark("a1", 10))
	buf.ProcessSpan(mark("a2", 15))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		buf.Flush(ms(15))
	}()

	select {
	case <-rec.entered:
	case <-time.After(time.Second):
		t.Fatal("Expected the first flush to start delivering")
	}

	buf.ProcessSpan(mark("b", 20))
	go func() {
		defer wg.Done()
		buf.FlushAll()
	}()
	time.Sleep(20 * time.Millisecond)
	close(rec.release)
	wg.Wait()

	if diff := cmp.Diff([]string{"a1", "a2", "b"}, rec.names()); diff != "" {
		t.Errorf("Order mismatch (-want +got):\n%s", diff)
	}
}

func TestSpanBufferFeedsManager(t *testing.T) {
	m, s := newTestManager(t)
	tr := newTestTracer(t, m, TraceDefinition{
		RequiredSpans:   []SpanMatcher{Named("end")},
		DebounceOnSpans: []SpanMatcher{Named("debounce")},
	})
	buf := NewSpanBuffer(ms(100), m)

	startAt(t, tr, 0, nil)
	buf.ProcessSpan(mark("end", 100))
	buf.ProcessSpan(Span{Name: "debounce", StartTime: at(50), Duration: ms(40)})
	buf.FlushAll()
	m.AdvanceTo(ms(600))

	rec := s.only(t)
	if diff := cmp.Diff([]string{"debounce", "end"}, entryNames(rec)); diff != "" {
		t.Errorf("Entries mismatch (-want +got):\n%s", diff)
	}
}
