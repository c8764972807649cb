package settlez

import (
	"time"
)

// Status is the outcome of a finalized trace.
type Status string

// Recording statuses.
const (
	StatusOK          Status = "ok"
	StatusInterrupted Status = "interrupted"
)

// InterruptionReason explains why a trace did not complete normally.
type InterruptionReason string

// Interruption reasons.
const (
	ReasonTimeout                      InterruptionReason = "timeout"
	ReasonWaitingForInteractiveTimeout InterruptionReason = "waiting-for-interactive-timeout"
	ReasonAnotherTraceStarted          InterruptionReason = "another-trace-started"
	ReasonAborted                      InterruptionReason = "aborted"
	ReasonIdleComponentNoLongerIdle    InterruptionReason = "idle-component-no-longer-idle"
	ReasonMatchedOnInterrupt           InterruptionReason = "matched-on-interrupt"
	ReasonDraftCancelled               InterruptionReason = "draft-cancelled"
)

// AdditionalDurations are durations derived beyond the main one.
type AdditionalDurations struct {
	StartTillRequirementsMet *time.Duration `json:"start_till_requirements_met"`
	StartTillInteractive     *time.Duration `json:"start_till_interactive"`
	CompleteTillInteractive  *time.Duration `json:"complete_till_interactive"`
}

// ComputedSpan is a span derived between two entries of a finalized trace.
type ComputedSpan struct {
	StartOffset time.Duration `json:"start_offset"`
	Duration    time.Duration `json:"duration"`
}

// RenderBeaconSpan aggregates the render lifecycle of one component.
type RenderBeaconSpan struct {
	StartOffset            time.Duration  `json:"start_offset"`
	RenderCount            int            `json:"render_count"`
	SumOfRenderDurations   time.Duration  `json:"sum_of_render_durations"`
	FirstRenderTillLoading *time.Duration `json:"first_render_till_loading"`
	FirstRenderTillData    *time.Duration `json:"first_render_till_data"`
	FirstRenderTillContent *time.Duration `json:"first_render_till_content"`
}

// TraceRecording is the immutable finalized output of one trace.
//
//nolint:govet // Field order follows JSON output order
type TraceRecording struct {
	ID                        string                      `json:"id"`
	Name                      string                      `json:"name"`
	Type                      string                      `json:"type"`
	Variant                   string                      `json:"variant,omitempty"`
	StartTime                 Timestamp                   `json:"start_time"`
	RelatedTo                 RelatedTo                   `json:"related_to,omitempty"`
	Attributes                map[Attr]any                `json:"attributes,omitempty"`
	Status                    Status                      `json:"status"`
	InterruptionReason        InterruptionReason          `json:"interruption_reason,omitempty"`
	Duration                  *time.Duration              `json:"duration"`
	AdditionalDurations       AdditionalDurations         `json:"additional_durations"`
	Entries                   []SpanAndAnnotation         `json:"entries"`
	ComputedSpans             map[string]ComputedSpan     `json:"computed_spans"`
	ComputedValues            map[string]any              `json:"computed_values"`
	ComputedRenderBeaconSpans map[string]RenderBeaconSpan `json:"computed_render_beacon_spans"`
}

func durationPtr(d time.Duration) *time.Duration {
	return &d
}

func (t *trace) buildRecording(status Status, reason InterruptionReason, firstCPUIdle *time.Duration) TraceRecording {
	entries := make([]SpanAndAnnotation, len(t.entries))
	copy(entries, t.entries)

	rec := TraceRecording{
		ID:                        t.id,
		Name:                      t.def.def.Name,
		Type:                      t.def.def.Type,
		Variant:                   t.def.variant,
		StartTime:                 t.start,
		RelatedTo:                 copyRelatedTo(t.relatedTo),
		Attributes:                t.attributes,
		Status:                    status,
		InterruptionReason:        reason,
		Entries:                   entries,
		ComputedSpans:             map[string]ComputedSpan{},
		ComputedValues:            map[string]any{},
		ComputedRenderBeaconSpans: map[string]RenderBeaconSpan{},
	}

	if t.lastRequired >= 0 && t.pending == 0 {
		rec.AdditionalDurations.StartTillRequirementsMet = durationPtr(entries[t.lastRequired].Span.End() - t.start.Now)
	}

	if status != StatusOK {
		return rec
	}

	complete := entries[t.lastRelevant].Span.End()
	entries[t.lastRelevant].Annotation.MarkedComplete = true
	rec.Duration = durationPtr(complete - t.start.Now)
	if firstCPUIdle != nil {
		rec.AdditionalDurations.StartTillInteractive = durationPtr(*firstCPUIdle - t.start.Now)
		rec.AdditionalDurations.CompleteTillInteractive = durationPtr(*firstCPUIdle - complete)
	}

	guard := func(what string) {
		if r := recover(); r != nil && t.hooks.onPanic != nil {
			t.hooks.onPanic(t, what, r)
		}
	}
	func() {
		defer guard("computed spans")
		rec.ComputedSpans = computeSpans(t.def.def.ComputedSpanDefinitions, entries, t.relatedTo, rec.Duration)
	}()
	func() {
		defer guard("computed values")
		rec.ComputedValues = computeValues(t.def.def.ComputedValueDefinitions, entries, t.relatedTo)
	}()
	rec.ComputedRenderBeaconSpans = computeRenderBeaconSpans(entries)

	return rec
}
