package settlez

import (
	"sort"
	"sync"
	"time"

	"github.com/eapache/queue"
)

// SpanProcessor consumes spans. Manager implements it.
type SpanProcessor interface {
	ProcessSpan(span Span)
}

// SpanBuffer holds spans for a window so late producers can still be
// delivered in end-time order. Safe for concurrent use; concurrent flushes
// deliver their batches one after another.
type SpanBuffer struct {
	// deliverMu is held for a whole flush and always taken before mu.
	deliverMu sync.Mutex
	mu        sync.Mutex
	q         *queue.Queue
	hold      time.Duration
	next      SpanProcessor
}

// NewSpanBuffer creates a buffer that releases a span once the flush time
// is at least hold past its end.
func NewSpanBuffer(hold time.Duration, next SpanProcessor) *SpanBuffer {
	return &SpanBuffer{q: queue.New(), hold: hold, next: next}
}

// ProcessSpan buffers span. It satisfies SpanProcessor so buffers chain.
func (b *SpanBuffer) ProcessSpan(span Span) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.q.Add(span)
}

// Len returns the number of buffered spans.
func (b *SpanBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.q.Length()
}

// Flush delivers every span that ended at or before now minus the hold
// window, ordered by end time. It returns the number delivered.
func (b *SpanBuffer) Flush(now time.Duration) int {
	return b.flush(func(s Span) bool { return s.End()+b.hold <= now })
}

// FlushAll delivers every buffered span.
func (b *SpanBuffer) FlushAll() int {
	return b.flush(func(Span) bool { return true })
}

func (b *SpanBuffer) flush(ready func(Span) bool) int {
	b.deliverMu.Lock()
	defer b.deliverMu.Unlock()

	b.mu.Lock()
	var out, keep []Span
	for b.q.Length() > 0 {
		s, _ := b.q.Remove().(Span)
		if ready(s) {
			out = append(out, s)
		} else {
			keep = append(keep, s)
		}
	}
	for _, s := range keep {
		b.q.Add(s)
	}
	b.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].End() < out[j].End() })
	for _, s := range out {
		b.next.ProcessSpan(s)
	}
	return len(out)
}
