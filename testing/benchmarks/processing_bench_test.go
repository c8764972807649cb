package benchmarks

import (
	"fmt"
	"testing"
	"time"

	"github.com/zoobzio/clockz"
	"github.com/zoobzio/settlez"
)

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func newManager(b *testing.B) *settlez.Manager {
	b.Helper()
	m := settlez.NewManager(settlez.Config{
		Clock:    clockz.NewFakeClock(),
		ReportFn: func(settlez.TraceRecording) {},
	})
	b.Cleanup(m.Close)
	return m
}

func newTracer(b *testing.B, m *settlez.Manager, def settlez.TraceDefinition) *settlez.Tracer {
	b.Helper()
	tr, err := m.CreateTracer(def)
	if err != nil {
		b.Fatalf("Invalid definition: %v", err)
	}
	return tr
}

// BenchmarkProcessSpan measures routing of spans that do not complete the trace.
func BenchmarkProcessSpan(b *testing.B) {
	m := newManager(b)
	tr := newTracer(b, m, settlez.TraceDefinition{
		Name:             "bench",
		Relation:         settlez.RelationSchema{"ticketId": settlez.RelationNumber},
		RequiredSpans:    []settlez.SpanMatcher{settlez.All(settlez.Named("never"), settlez.MatchRelations("ticketId"))},
		InterruptOnSpans: []settlez.SpanMatcher{settlez.MatchName(settlez.MustNameGlob("abort-*"))},
		TimeoutDuration:  time.Duration(1<<62 - 1),
	})
	if _, err := tr.Start(settlez.StartInput{RelatedTo: settlez.RelatedTo{"ticketId": 1}}); err != nil {
		b.Fatalf("Start failed: %v", err)
	}

	span := settlez.Span{Name: "fetch", Type: settlez.SpanTypeResource, RelatedTo: settlez.RelatedTo{"ticketId": 1}}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		span.StartTime = settlez.Timestamp{Now: time.Duration(i)}
		m.ProcessSpan(span)
	}
}

// BenchmarkProcessSpanParallel measures contention on the manager lock.
func BenchmarkProcessSpanParallel(b *testing.B) {
	m := newManager(b)
	tr := newTracer(b, m, settlez.TraceDefinition{
		Name:            "bench-parallel",
		RequiredSpans:   []settlez.SpanMatcher{settlez.Named("never")},
		TimeoutDuration: time.Duration(1<<62 - 1),
	})
	if _, err := tr.Start(settlez.StartInput{}); err != nil {
		b.Fatalf("Start failed: %v", err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		span := settlez.Span{Name: "fetch", StartTime: settlez.Timestamp{Now: ms(1)}}
		for pb.Next() {
			m.ProcessSpan(span)
		}
	})
}

// BenchmarkTraceLifecycle measures a full start, debounce and report cycle.
func BenchmarkTraceLifecycle(b *testing.B) {
	m := newManager(b)
	tr := newTracer(b, m, settlez.TraceDefinition{
		Name:            "lifecycle",
		RequiredSpans:   []settlez.SpanMatcher{settlez.Named("a"), settlez.Named("b")},
		DebounceOnSpans: []settlez.SpanMatcher{settlez.Named("more")},
	})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		base := time.Duration(i) * time.Minute
		start := settlez.Timestamp{Now: base}
		if _, err := tr.Start(settlez.StartInput{ID: "bench", StartTime: &start}); err != nil {
			b.Fatalf("Start failed: %v", err)
		}
		m.ProcessSpan(settlez.Span{Name: "a", StartTime: settlez.Timestamp{Now: base + ms(10)}})
		m.ProcessSpan(settlez.Span{Name: "b", StartTime: settlez.Timestamp{Now: base + ms(20)}})
		m.ProcessSpan(settlez.Span{Name: "more", StartTime: settlez.Timestamp{Now: base + ms(30)}})
		m.AdvanceTo(base + time.Second)
	}
}

// BenchmarkMatchers compares name criteria.
func BenchmarkMatchers(b *testing.B) {
	pattern := settlez.MustNamePattern(`^ticket-\d+-loaded$`)
	matchers := map[string]settlez.SpanMatcher{
		"exact":   settlez.Named("ticket-42-loaded"),
		"glob":    settlez.MatchName(settlez.MustNameGlob("ticket-*-loaded")),
		"pattern": settlez.MatchName(pattern),
		"all": settlez.All(
			settlez.Named("ticket-42-loaded"),
			settlez.MatchType(settlez.SpanTypeMeasure),
			settlez.MatchRelations("ticketId"),
		),
	}
	span := settlez.Span{Name: "ticket-42-loaded", Type: settlez.SpanTypeMeasure, RelatedTo: settlez.RelatedTo{"ticketId": 42}}
	bound := settlez.RelatedTo{"ticketId": float64(42)}

	for name, m := range matchers {
		b.Run(name, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if !m.Match(span, bound) {
					b.Fatal("Expected match")
				}
			}
		})
	}
}

// BenchmarkSpanBuffer measures reordering through the buffer.
func BenchmarkSpanBuffer(b *testing.B) {
	for _, size := range []int{10, 100, 1000} {
		b.Run(fmt.Sprintf("batch-%d", size), func(b *testing.B) {
			var sink discard
			buf := settlez.NewSpanBuffer(0, &sink)
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				for j := size; j > 0; j-- {
					buf.ProcessSpan(settlez.Span{Name: "s", StartTime: settlez.Timestamp{Now: ms(j)}})
				}
				buf.FlushAll()
			}
		})
	}
}

type discard struct{ n int }

func (d *discard) ProcessSpan(settlez.Span) { d.n++ }
