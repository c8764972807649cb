package settlez

import (
	"fmt"
	"reflect"
	"time"
)

// SpanType identifies the kind of entry a span originates from.
type SpanType string

// Well-known span types.
const (
	SpanTypeMark                 SpanType = "mark"
	SpanTypeMeasure              SpanType = "measure"
	SpanTypeResource             SpanType = "resource"
	SpanTypeNavigation           SpanType = "navigation"
	SpanTypePaint                SpanType = "paint"
	SpanTypeElement              SpanType = "element"
	SpanTypeLongTask             SpanType = "longtask"
	SpanTypeComponentRenderStart SpanType = "component-render-start"
	SpanTypeComponentRender      SpanType = "component-render"
	SpanTypeComponentUnmount     SpanType = "component-unmount"
	SpanTypeError                SpanType = "error"
)

// RenderedOutput is the output state a component declared for one render.
type RenderedOutput string

// Declared render output states.
const (
	RenderedOutputNull    RenderedOutput = "null"
	RenderedOutputLoading RenderedOutput = "loading"
	RenderedOutputData    RenderedOutput = "data"
	RenderedOutputContent RenderedOutput = "content"
	RenderedOutputError   RenderedOutput = "error"
)

// Timestamp pairs a monotonic clock reading with the wall clock.
// Now is relative to the owning manager's clock origin.
type Timestamp struct {
	Epoch time.Time     `json:"epoch"`
	Now   time.Duration `json:"now"`
}

// Add returns the timestamp shifted by d on both clocks.
func (ts Timestamp) Add(d time.Duration) Timestamp {
	var epoch time.Time
	if !ts.Epoch.IsZero() {
		epoch = ts.Epoch.Add(d)
	}
	return Timestamp{Epoch: epoch, Now: ts.Now + d}
}

// RelatedTo maps relation keys to scalar values (string, number or boolean).
type RelatedTo map[Key]any

// Span is one immutable timestamped event fed into the engine.
//
//nolint:govet // Field order follows JSON output order
type Span struct {
	Name           string         `json:"name"`
	Type           SpanType       `json:"type"`
	StartTime      Timestamp      `json:"start_time"`
	Duration       time.Duration  `json:"duration"`
	Attributes     map[Attr]any   `json:"attributes,omitempty"`
	RelatedTo      RelatedTo      `json:"related_to,omitempty"`
	Error          error          `json:"-"`
	IsIdle         bool           `json:"is_idle,omitempty"`
	RenderedOutput RenderedOutput `json:"rendered_output,omitempty"`
}

// End returns the monotonic time at which the span ended.
func (s Span) End() time.Duration {
	return s.StartTime.Now + s.Duration
}

// SpanAnnotation is derived information attached to a recorded span.
type SpanAnnotation struct {
	Occurrence                 int           `json:"occurrence"`
	OperationRelativeStartTime time.Duration `json:"operation_relative_start_time"`
	OperationRelativeEndTime   time.Duration `json:"operation_relative_end_time"`
	Duration                   time.Duration `json:"duration"`
	IsRequired                 bool          `json:"is_required,omitempty"`
	MarkedRequirementsMet      bool          `json:"marked_requirements_met,omitempty"`
	MarkedComplete             bool          `json:"marked_complete,omitempty"`
}

// SpanAndAnnotation is a recorded span plus its annotation.
type SpanAndAnnotation struct {
	Span       Span           `json:"span"`
	Annotation SpanAnnotation `json:"annotation"`
}

// RelationKind is the value type a relation key accepts.
type RelationKind string

// Relation value kinds.
const (
	RelationString  RelationKind = "string"
	RelationNumber  RelationKind = "number"
	RelationBoolean RelationKind = "boolean"
)

// RelationSchema declares which relation keys are legal and their kinds.
type RelationSchema map[Key]RelationKind

// Validate checks that every value in rel is declared and of the declared kind.
func (s RelationSchema) Validate(rel RelatedTo) error {
	for k, v := range rel {
		kind, ok := s[k]
		if !ok {
			return fmt.Errorf("%w: undeclared key %q", ErrInvalidRelation, k)
		}
		if have := kindOf(v); have != kind {
			return fmt.Errorf("%w: key %q wants %s, got %T", ErrInvalidRelation, k, kind, v)
		}
	}
	return nil
}

func kindOf(v any) RelationKind {
	switch v.(type) {
	case string:
		return RelationString
	case bool:
		return RelationBoolean
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return RelationNumber
	}
	return ""
}

// normalizeRelationValue folds every numeric kind into float64 so values
// decoded from different sources compare equal.
func normalizeRelationValue(v any) any {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	}
	return v
}

func relationValuesEqual(a, b any) bool {
	a, b = normalizeRelationValue(a), normalizeRelationValue(b)
	if a == nil || b == nil {
		return a == b
	}
	// Spans are not validated against the schema and may carry composites.
	if !reflect.TypeOf(a).Comparable() || !reflect.TypeOf(b).Comparable() {
		return false
	}
	return a == b
}

// copyRelatedTo returns a normalized copy of rel.
func copyRelatedTo(rel RelatedTo) RelatedTo {
	if rel == nil {
		return nil
	}
	out := make(RelatedTo, len(rel))
	for k, v := range rel {
		out[k] = normalizeRelationValue(v)
	}
	return out
}
