package settlez

import (
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
)

// Definition defaults.
const (
	DefaultTraceType        = "operation"
	DefaultTimeoutDuration  = 45 * time.Second
	DefaultDebounceDuration = 500 * time.Millisecond

	// NoDebounce settles as soon as requirements are met or the last debounce
	// span ends, with no quiet window after it.
	NoDebounce time.Duration = -1
)

// TraceDefinition is the immutable description of one traced operation.
//
//nolint:govet // Field order follows the order fields are usually declared in
type TraceDefinition struct {
	Name     string
	Type     string
	Relation RelationSchema

	// RequiredSpans must each match at least one span before the trace can finish.
	RequiredSpans []SpanMatcher
	// DebounceOnSpans extend the quiet window once requirements are met.
	DebounceOnSpans []SpanMatcher
	// InterruptOnSpans abort the trace.
	InterruptOnSpans []SpanMatcher

	// DebounceDuration is the quiet window after the last relevant span.
	// Zero selects DefaultDebounceDuration; use NoDebounce for none.
	DebounceDuration time.Duration
	// TimeoutDuration caps the entire lifetime of the trace.
	TimeoutDuration time.Duration

	Variants map[string]Variant

	// CaptureInteractive enables CPU idle detection when non-nil.
	CaptureInteractive *InteractiveConfig

	ComputedSpanDefinitions  []ComputedSpanDefinition
	ComputedValueDefinitions []ComputedValueDefinition
}

// Variant is a named overlay on a definition.
type Variant struct {
	// TimeoutDuration overrides the definition timeout when positive.
	TimeoutDuration           time.Duration
	AdditionalRequiredSpans   []SpanMatcher
	AdditionalDebounceOnSpans []SpanMatcher
}

// ComputedSpanDefinition derives a span between two entries of a finalized trace.
// StartSpan and EndSpan may be the OperationStart and OperationEnd markers.
type ComputedSpanDefinition struct {
	Name      string
	StartSpan SpanMatcher
	EndSpan   SpanMatcher
}

// ComputedValueDefinition derives a scalar from groups of matching entries.
// Compute receives one group per matcher, in declaration order.
type ComputedValueDefinition struct {
	Name    string
	Matches []SpanMatcher
	Compute func(matches [][]SpanAndAnnotation) any
}

// Requirements are matchers added to a live trace only.
type Requirements struct {
	RequiredSpans    []SpanMatcher
	DebounceOnSpans  []SpanMatcher
	InterruptOnSpans []SpanMatcher
}

// ValidateDefinition reports every problem with def. The only fatal problem
// the engine cannot recover from is an empty RequiredSpans list.
func ValidateDefinition(def TraceDefinition) error {
	var result *multierror.Error

	if def.Name == "" {
		result = multierror.Append(result, errors.New("name is required"))
	}
	if len(def.RequiredSpans) == 0 {
		result = multierror.Append(result, ErrNoRequiredSpans)
	}
	if def.TimeoutDuration < 0 {
		result = multierror.Append(result, fmt.Errorf("timeout duration %s is negative", def.TimeoutDuration))
	}
	if def.DebounceDuration < 0 && def.DebounceDuration != NoDebounce {
		result = multierror.Append(result, fmt.Errorf("debounce duration %s is negative", def.DebounceDuration))
	}

	check := func(field string, ms []SpanMatcher) {
		for i, m := range ms {
			if m == nil {
				result = multierror.Append(result, fmt.Errorf("%s[%d]: nil matcher", field, i))
				continue
			}
			for _, k := range relationKeys(m) {
				if _, ok := def.Relation[k]; !ok {
					result = multierror.Append(result, fmt.Errorf("%s[%d]: relation key %q is not in the schema", field, i, k))
				}
			}
		}
	}
	check("requiredSpans", def.RequiredSpans)
	check("debounceOnSpans", def.DebounceOnSpans)
	check("interruptOnSpans", def.InterruptOnSpans)

	for name, v := range def.Variants {
		if name == "" {
			result = multierror.Append(result, errors.New("variant name is required"))
		}
		if v.TimeoutDuration < 0 {
			result = multierror.Append(result, fmt.Errorf("variant %q: timeout duration %s is negative", name, v.TimeoutDuration))
		}
		check(fmt.Sprintf("variants[%s].additionalRequiredSpans", name), v.AdditionalRequiredSpans)
		check(fmt.Sprintf("variants[%s].additionalDebounceOnSpans", name), v.AdditionalDebounceOnSpans)
	}

	for i, c := range def.ComputedSpanDefinitions {
		if c.Name == "" || c.StartSpan == nil || c.EndSpan == nil {
			result = multierror.Append(result, fmt.Errorf("computedSpanDefinitions[%d]: name, start and end are required", i))
		}
	}
	for i, c := range def.ComputedValueDefinitions {
		if c.Name == "" || c.Compute == nil || len(c.Matches) == 0 {
			result = multierror.Append(result, fmt.Errorf("computedValueDefinitions[%d]: name, matches and compute are required", i))
		}
	}

	if def.CaptureInteractive != nil {
		if err := def.CaptureInteractive.validate(); err != nil {
			result = multierror.Append(result, err)
		}
	}

	return result.ErrorOrNil()
}

// withDefaults returns a copy of def with zero fields defaulted.
func (def TraceDefinition) withDefaults() TraceDefinition {
	if def.Type == "" {
		def.Type = DefaultTraceType
	}
	if def.TimeoutDuration == 0 {
		def.TimeoutDuration = DefaultTimeoutDuration
	}
	if def.DebounceDuration == 0 {
		def.DebounceDuration = DefaultDebounceDuration
	}
	if def.CaptureInteractive != nil {
		cfg := def.CaptureInteractive.withDefaults()
		def.CaptureInteractive = &cfg
	}
	return def
}

func (def TraceDefinition) debounceWindow() time.Duration {
	if def.DebounceDuration == NoDebounce {
		return 0
	}
	return def.DebounceDuration
}

// resolvedDefinition is the trace-local view of a definition with one
// variant applied. Requirements added to a live trace extend only this view.
type resolvedDefinition struct {
	def       TraceDefinition
	variant   string
	required  []SpanMatcher
	debounce  []SpanMatcher
	interrupt []SpanMatcher
	timeout   time.Duration
}

func resolveDefinition(def TraceDefinition, variant string) (resolvedDefinition, error) {
	r := resolvedDefinition{
		def:       def,
		variant:   variant,
		required:  append([]SpanMatcher(nil), def.RequiredSpans...),
		debounce:  append([]SpanMatcher(nil), def.DebounceOnSpans...),
		interrupt: append([]SpanMatcher(nil), def.InterruptOnSpans...),
		timeout:   def.TimeoutDuration,
	}
	if variant == "" {
		return r, nil
	}
	v, ok := def.Variants[variant]
	if !ok {
		return resolvedDefinition{}, fmt.Errorf("%w: %q", ErrUnknownVariant, variant)
	}
	if v.TimeoutDuration > 0 {
		r.timeout = v.TimeoutDuration
	}
	r.required = append(r.required, v.AdditionalRequiredSpans...)
	r.debounce = append(r.debounce, v.AdditionalDebounceOnSpans...)
	return r, nil
}

func (r Requirements) validate(schema RelationSchema) error {
	var result *multierror.Error
	for field, ms := range map[string][]SpanMatcher{
		"requiredSpans":    r.RequiredSpans,
		"debounceOnSpans":  r.DebounceOnSpans,
		"interruptOnSpans": r.InterruptOnSpans,
	} {
		for i, m := range ms {
			if m == nil {
				result = multierror.Append(result, fmt.Errorf("%s[%d]: nil matcher", field, i))
				continue
			}
			for _, k := range relationKeys(m) {
				if _, ok := schema[k]; !ok {
					result = multierror.Append(result, fmt.Errorf("%s[%d]: relation key %q is not in the schema", field, i, k))
				}
			}
		}
	}
	return result.ErrorOrNil()
}
