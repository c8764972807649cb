package settlez

import (
	"errors"
	"testing"
)

func TestRenderEmitterLifecycle(t *testing.T) {
	now := at(0)
	rec := &spanRecorder{}
	e := NewRenderEmitter(rec, func() Timestamp { return now })

	c := ComponentState{
		Name:           "TicketView",
		RelatedTo:      RelatedTo{"ticketId": 1},
		RenderedOutput: RenderedOutputLoading,
	}
	now = at(100)
	e.RenderStart(c)
	now = at(140)
	c.RenderedOutput = RenderedOutputContent
	c.IsIdle = true
	e.RenderCommitted(c)
	now = at(200)
	e.Unmount(c)

	if len(rec.spans) != 3 {
		t.Fatalf("Expected 3 spans, got %d", len(rec.spans))
	}
	start, render, unmount := rec.spans[0], rec.spans[1], rec.spans[2]

	if start.Type != SpanTypeComponentRenderStart || start.StartTime != at(100) || start.Duration != 0 {
		t.Errorf("Unexpected render start %+v", start)
	}
	if start.RenderedOutput != RenderedOutputLoading {
		t.Errorf("Expected loading output, got %s", start.RenderedOutput)
	}
	if render.Type != SpanTypeComponentRender || render.StartTime != at(100) || render.Duration != ms(40) {
		t.Errorf("Unexpected render %+v", render)
	}
	if !render.IsIdle || render.RenderedOutput != RenderedOutputContent || render.RelatedTo["ticketId"] != 1 {
		t.Errorf("Expected component state on render, got %+v", render)
	}
	if unmount.Type != SpanTypeComponentUnmount || unmount.StartTime != at(200) {
		t.Errorf("Unexpected unmount %+v", unmount)
	}
}

func TestRenderEmitterCommitWithoutStart(t *testing.T) {
	rec := &spanRecorder{}
	e := NewRenderEmitter(rec, func() Timestamp { return at(70) })

	failure := errors.New("render failed")
	e.RenderCommitted(ComponentState{Name: "Lonely", Error: failure})

	if len(rec.spans) != 1 {
		t.Fatalf("Expected 1 span, got %d", len(rec.spans))
	}
	if s := rec.spans[0]; s.StartTime != at(70) || s.Duration != 0 || !errors.Is(s.Error, failure) {
		t.Errorf("Unexpected span %+v", s)
	}
}

func TestRenderEmitterDrivesIdleRequirement(t *testing.T) {
	m, s := newTestManager(t)
	tr := newTestTracer(t, m, TraceDefinition{
		RequiredSpans: []SpanMatcher{All(Named("TicketView"), MatchType(SpanTypeComponentRender), MatchIdle(true))},
	})
	now := at(0)
	e := NewRenderEmitter(m, func() Timestamp { return now })

	startAt(t, tr, 0, nil)
	now = at(10)
	e.RenderStart(ComponentState{Name: "TicketView"})
	now = at(50)
	e.RenderCommitted(ComponentState{Name: "TicketView", IsIdle: true})
	m.AdvanceTo(ms(50) + DefaultDebounceDuration)

	rec := s.only(t)
	if rec.Status != StatusOK || rec.Duration == nil || *rec.Duration != ms(50) {
		t.Errorf("Expected ok after 50ms, got %s %s", rec.Status, durationMs(rec.Duration))
	}
}
