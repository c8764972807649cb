package main

import (
	"time"

	"github.com/zoobzio/settlez"
)

// recordingOutput mirrors settlez.TraceRecording with times in milliseconds.
type recordingOutput struct {
	ID                        string                  `json:"id"`
	Name                      string                  `json:"name"`
	Type                      string                  `json:"type"`
	Variant                   string                  `json:"variant,omitempty"`
	StartTime                 float64                 `json:"startTime"`
	RelatedTo                 settlez.RelatedTo       `json:"relatedTo,omitempty"`
	Status                    settlez.Status          `json:"status"`
	InterruptionReason        string                  `json:"interruptionReason,omitempty"`
	Duration                  *float64                `json:"duration"`
	StartTillRequirementsMet  *float64                `json:"startTillRequirementsMet"`
	StartTillInteractive      *float64                `json:"startTillInteractive"`
	CompleteTillInteractive   *float64                `json:"completeTillInteractive"`
	Entries                   []entryOutput           `json:"entries"`
	ComputedSpans             map[string]spanOffset   `json:"computedSpans"`
	ComputedValues            map[string]any          `json:"computedValues"`
	ComputedRenderBeaconSpans map[string]beaconOutput `json:"computedRenderBeaconSpans"`
}

type entryOutput struct {
	Name                  string  `json:"name"`
	Type                  string  `json:"type"`
	StartTime             float64 `json:"startTime"`
	Duration              float64 `json:"duration"`
	Occurrence            int     `json:"occurrence"`
	RelativeStart         float64 `json:"operationRelativeStartTime"`
	RelativeEnd           float64 `json:"operationRelativeEndTime"`
	IsRequired            bool    `json:"isRequired,omitempty"`
	MarkedRequirementsMet bool    `json:"markedRequirementsMet,omitempty"`
	MarkedComplete        bool    `json:"markedComplete,omitempty"`
	Error                 string  `json:"error,omitempty"`
}

type spanOffset struct {
	StartOffset float64 `json:"startOffset"`
	Duration    float64 `json:"duration"`
}

type beaconOutput struct {
	StartOffset            float64  `json:"startOffset"`
	RenderCount            int      `json:"renderCount"`
	SumOfRenderDurations   float64  `json:"sumOfRenderDurations"`
	FirstRenderTillLoading *float64 `json:"firstRenderTillLoading"`
	FirstRenderTillData    *float64 `json:"firstRenderTillData"`
	FirstRenderTillContent *float64 `json:"firstRenderTillContent"`
}

func millisPtr(d *time.Duration) *float64 {
	if d == nil {
		return nil
	}
	ms := toMillis(*d)
	return &ms
}

func newRecordingOutput(rec settlez.TraceRecording) recordingOutput {
	out := recordingOutput{
		ID:                        rec.ID,
		Name:                      rec.Name,
		Type:                      rec.Type,
		Variant:                   rec.Variant,
		StartTime:                 toMillis(rec.StartTime.Now),
		RelatedTo:                 rec.RelatedTo,
		Status:                    rec.Status,
		InterruptionReason:        string(rec.InterruptionReason),
		Duration:                  millisPtr(rec.Duration),
		StartTillRequirementsMet:  millisPtr(rec.AdditionalDurations.StartTillRequirementsMet),
		StartTillInteractive:      millisPtr(rec.AdditionalDurations.StartTillInteractive),
		CompleteTillInteractive:   millisPtr(rec.AdditionalDurations.CompleteTillInteractive),
		Entries:                   make([]entryOutput, 0, len(rec.Entries)),
		ComputedSpans:             make(map[string]spanOffset, len(rec.ComputedSpans)),
		ComputedValues:            rec.ComputedValues,
		ComputedRenderBeaconSpans: make(map[string]beaconOutput, len(rec.ComputedRenderBeaconSpans)),
	}
	for _, e := range rec.Entries {
		eo := entryOutput{
			Name:                  e.Span.Name,
			Type:                  string(e.Span.Type),
			StartTime:             toMillis(e.Span.StartTime.Now),
			Duration:              toMillis(e.Span.Duration),
			Occurrence:            e.Annotation.Occurrence,
			RelativeStart:         toMillis(e.Annotation.OperationRelativeStartTime),
			RelativeEnd:           toMillis(e.Annotation.OperationRelativeEndTime),
			IsRequired:            e.Annotation.IsRequired,
			MarkedRequirementsMet: e.Annotation.MarkedRequirementsMet,
			MarkedComplete:        e.Annotation.MarkedComplete,
		}
		if e.Span.Error != nil {
			eo.Error = e.Span.Error.Error()
		}
		out.Entries = append(out.Entries, eo)
	}
	for name, cs := range rec.ComputedSpans {
		out.ComputedSpans[name] = spanOffset{StartOffset: toMillis(cs.StartOffset), Duration: toMillis(cs.Duration)}
	}
	for name, b := range rec.ComputedRenderBeaconSpans {
		out.ComputedRenderBeaconSpans[name] = beaconOutput{
			StartOffset:            toMillis(b.StartOffset),
			RenderCount:            b.RenderCount,
			SumOfRenderDurations:   toMillis(b.SumOfRenderDurations),
			FirstRenderTillLoading: millisPtr(b.FirstRenderTillLoading),
			FirstRenderTillData:    millisPtr(b.FirstRenderTillData),
			FirstRenderTillContent: millisPtr(b.FirstRenderTillContent),
		}
	}
	return out
}
