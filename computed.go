package settlez

import (
	"time"
)

type operationBoundary uint8

const (
	boundaryStart operationBoundary = iota + 1
	boundaryEnd
)

// Match never matches a span; boundaries are resolved by position.
func (operationBoundary) Match(Span, RelatedTo) bool { return false }

// Operation boundary markers for computed span definitions.
var (
	OperationStart SpanMatcher = boundaryStart
	OperationEnd   SpanMatcher = boundaryEnd
)

// ComputeSpans resolves each definition's start and end against entries.
// The first matching entry is used for each side. Definitions that cannot be
// resolved, or that resolve to a negative duration, are omitted.
func ComputeSpans(defs []ComputedSpanDefinition, entries []SpanAndAnnotation, bound RelatedTo, duration *time.Duration) map[string]ComputedSpan {
	return computeSpans(defs, entries, bound, duration)
}

func computeSpans(defs []ComputedSpanDefinition, entries []SpanAndAnnotation, bound RelatedTo, duration *time.Duration) map[string]ComputedSpan {
	out := make(map[string]ComputedSpan, len(defs))
	for _, def := range defs {
		var (
			start, end time.Duration
			ok         bool
		)
		switch {
		case isBoundary(def.StartSpan, boundaryStart):
			start, ok = 0, true
		default:
			if e, found := firstMatch(def.StartSpan, entries, bound); found {
				start, ok = e.Annotation.OperationRelativeStartTime, true
			}
		}
		if !ok {
			continue
		}
		ok = false
		switch {
		case isBoundary(def.EndSpan, boundaryEnd):
			if duration != nil {
				end, ok = *duration, true
			}
		default:
			if e, found := firstMatch(def.EndSpan, entries, bound); found {
				end, ok = e.Annotation.OperationRelativeEndTime, true
			}
		}
		if !ok || end < start {
			continue
		}
		out[def.Name] = ComputedSpan{StartOffset: start, Duration: end - start}
	}
	return out
}

func isBoundary(m SpanMatcher, b operationBoundary) bool {
	have, ok := m.(operationBoundary)
	return ok && have == b
}

func firstMatch(m SpanMatcher, entries []SpanAndAnnotation, bound RelatedTo) (SpanAndAnnotation, bool) {
	for _, e := range entries {
		if m.Match(e.Span, bound) {
			return e, true
		}
	}
	return SpanAndAnnotation{}, false
}

// ComputeValues groups entries by each definition's matchers and reduces
// the groups to one scalar per definition name.
func ComputeValues(defs []ComputedValueDefinition, entries []SpanAndAnnotation, bound RelatedTo) map[string]any {
	return computeValues(defs, entries, bound)
}

func computeValues(defs []ComputedValueDefinition, entries []SpanAndAnnotation, bound RelatedTo) map[string]any {
	out := make(map[string]any, len(defs))
	for _, def := range defs {
		groups := make([][]SpanAndAnnotation, len(def.Matches))
		for i, m := range def.Matches {
			for _, e := range entries {
				if m.Match(e.Span, bound) {
					groups[i] = append(groups[i], e)
				}
			}
		}
		out[def.Name] = def.Compute(groups)
	}
	return out
}

// ComputeRenderBeaconSpans aggregates component render lifecycle entries by
// component name.
func ComputeRenderBeaconSpans(entries []SpanAndAnnotation) map[string]RenderBeaconSpan {
	return computeRenderBeaconSpans(entries)
}

type beaconAccumulator struct {
	start        time.Duration
	renders      int
	sum          time.Duration
	firstLoading *time.Duration
	firstData    *time.Duration
	firstContent *time.Duration
}

func computeRenderBeaconSpans(entries []SpanAndAnnotation) map[string]RenderBeaconSpan {
	acc := map[string]*beaconAccumulator{}
	var order []string

	for _, e := range entries {
		switch e.Span.Type {
		case SpanTypeComponentRenderStart, SpanTypeComponentRender, SpanTypeComponentUnmount:
		default:
			continue
		}
		name := e.Span.Name
		a, ok := acc[name]
		if !ok {
			a = &beaconAccumulator{start: e.Annotation.OperationRelativeStartTime}
			acc[name] = a
			order = append(order, name)
		}
		if e.Annotation.OperationRelativeStartTime < a.start {
			a.start = e.Annotation.OperationRelativeStartTime
		}
		if e.Span.Type != SpanTypeComponentRender {
			continue
		}
		a.renders++
		a.sum += e.Span.Duration
		end := e.Annotation.OperationRelativeEndTime
		switch e.Span.RenderedOutput {
		case RenderedOutputLoading:
			if a.firstLoading == nil {
				a.firstLoading = durationPtr(end)
			}
		case RenderedOutputData:
			if a.firstData == nil {
				a.firstData = durationPtr(end)
			}
		case RenderedOutputContent:
			if a.firstContent == nil {
				a.firstContent = durationPtr(end)
			}
		}
	}

	out := make(map[string]RenderBeaconSpan, len(order))
	for _, name := range order {
		a := acc[name]
		since := func(at *time.Duration) *time.Duration {
			if at == nil {
				return nil
			}
			return durationPtr(*at - a.start)
		}
		out[name] = RenderBeaconSpan{
			StartOffset:            a.start,
			RenderCount:            a.renders,
			SumOfRenderDurations:   a.sum,
			FirstRenderTillLoading: since(a.firstLoading),
			FirstRenderTillData:    since(a.firstData),
			FirstRenderTillContent: since(a.firstContent),
		}
	}
	return out
}
