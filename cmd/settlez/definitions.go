package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"

	"github.com/zoobzio/settlez"
)

type definitionFile struct {
	Definitions []definitionSpec `mapstructure:"definitions"`
}

type definitionSpec struct {
	Name               string                 `mapstructure:"name"`
	Type               string                 `mapstructure:"type"`
	Relation           map[string]string      `mapstructure:"relation"`
	StartOn            *matcherSpec           `mapstructure:"startOn"`
	RequiredSpans      []matcherSpec          `mapstructure:"requiredSpans"`
	DebounceOnSpans    []matcherSpec          `mapstructure:"debounceOnSpans"`
	InterruptOnSpans   []matcherSpec          `mapstructure:"interruptOnSpans"`
	DebounceDurationMs float64                `mapstructure:"debounceDurationMs"`
	TimeoutDurationMs  float64                `mapstructure:"timeoutDurationMs"`
	Variants           map[string]variantSpec `mapstructure:"variants"`
	CaptureInteractive any                    `mapstructure:"captureInteractive"`
	ComputedSpans      []computedSpanSpec     `mapstructure:"computedSpans"`
	ComputedValues     []computedValueSpec    `mapstructure:"computedValues"`
}

type matcherSpec struct {
	Name        string   `mapstructure:"name"`
	NamePattern string   `mapstructure:"namePattern"`
	NameGlob    string   `mapstructure:"nameGlob"`
	Type        string   `mapstructure:"type"`
	Relations   []string `mapstructure:"relations"`
	IsIdle      *bool    `mapstructure:"isIdle"`
}

type variantSpec struct {
	TimeoutDurationMs         float64       `mapstructure:"timeoutDurationMs"`
	AdditionalRequiredSpans   []matcherSpec `mapstructure:"additionalRequiredSpans"`
	AdditionalDebounceOnSpans []matcherSpec `mapstructure:"additionalDebounceOnSpans"`
}

type interactiveSpec struct {
	TimeoutMs               float64 `mapstructure:"timeoutMs"`
	DebounceLongTasksByMs   float64 `mapstructure:"debounceLongTasksByMs"`
	ClusterPaddingMs        float64 `mapstructure:"clusterPaddingMs"`
	HeavyClusterThresholdMs float64 `mapstructure:"heavyClusterThresholdMs"`
}

type computedSpanSpec struct {
	Name  string `mapstructure:"name"`
	Start any    `mapstructure:"start"`
	End   any    `mapstructure:"end"`
}

type computedValueSpec struct {
	Name    string        `mapstructure:"name"`
	Matches []matcherSpec `mapstructure:"matches"`
	Reduce  string        `mapstructure:"reduce"`
}

// tracerDefinition is a decoded definition plus the matcher that starts it.
type tracerDefinition struct {
	def     settlez.TraceDefinition
	startOn settlez.SpanMatcher
}

func decode(input, output any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      output,
		ErrorUnused: true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}

func loadDefinitions(r io.Reader) ([]tracerDefinition, error) {
	var raw map[string]any
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("parse definitions: %w", err)
	}
	var file definitionFile
	if err := decode(raw, &file); err != nil {
		return nil, fmt.Errorf("decode definitions: %w", err)
	}
	if len(file.Definitions) == 0 {
		return nil, errors.New("no definitions")
	}

	out := make([]tracerDefinition, 0, len(file.Definitions))
	for i, ds := range file.Definitions {
		td, err := ds.build()
		if err != nil {
			return nil, fmt.Errorf("definitions[%d] %q: %w", i, ds.Name, err)
		}
		out = append(out, td)
	}
	return out, nil
}

func millis(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}

func (ds definitionSpec) build() (tracerDefinition, error) {
	if ds.StartOn == nil {
		return tracerDefinition{}, errors.New("startOn is required")
	}
	startOn, err := ds.StartOn.build()
	if err != nil {
		return tracerDefinition{}, fmt.Errorf("startOn: %w", err)
	}

	def := settlez.TraceDefinition{
		Name:             ds.Name,
		Type:             ds.Type,
		DebounceDuration: millis(ds.DebounceDurationMs),
		TimeoutDuration:  millis(ds.TimeoutDurationMs),
	}
	if len(ds.Relation) > 0 {
		def.Relation = settlez.RelationSchema{}
		for k, kind := range ds.Relation {
			switch settlez.RelationKind(kind) {
			case settlez.RelationString, settlez.RelationNumber, settlez.RelationBoolean:
				def.Relation[k] = settlez.RelationKind(kind)
			default:
				return tracerDefinition{}, fmt.Errorf("relation %q: unknown kind %q", k, kind)
			}
		}
	}
	if def.RequiredSpans, err = buildMatchers("requiredSpans", ds.RequiredSpans); err != nil {
		return tracerDefinition{}, err
	}
	if def.DebounceOnSpans, err = buildMatchers("debounceOnSpans", ds.DebounceOnSpans); err != nil {
		return tracerDefinition{}, err
	}
	if def.InterruptOnSpans, err = buildMatchers("interruptOnSpans", ds.InterruptOnSpans); err != nil {
		return tracerDefinition{}, err
	}

	for name, v := range ds.Variants {
		variant := settlez.Variant{TimeoutDuration: millis(v.TimeoutDurationMs)}
		if variant.AdditionalRequiredSpans, err = buildMatchers("additionalRequiredSpans", v.AdditionalRequiredSpans); err != nil {
			return tracerDefinition{}, fmt.Errorf("variant %q: %w", name, err)
		}
		if variant.AdditionalDebounceOnSpans, err = buildMatchers("additionalDebounceOnSpans", v.AdditionalDebounceOnSpans); err != nil {
			return tracerDefinition{}, fmt.Errorf("variant %q: %w", name, err)
		}
		if def.Variants == nil {
			def.Variants = map[string]settlez.Variant{}
		}
		def.Variants[name] = variant
	}

	if def.CaptureInteractive, err = buildInteractive(ds.CaptureInteractive); err != nil {
		return tracerDefinition{}, fmt.Errorf("captureInteractive: %w", err)
	}

	for _, cs := range ds.ComputedSpans {
		start, err := buildBoundary(cs.Start, settlez.OperationStart)
		if err != nil {
			return tracerDefinition{}, fmt.Errorf("computedSpans %q start: %w", cs.Name, err)
		}
		end, err := buildBoundary(cs.End, settlez.OperationEnd)
		if err != nil {
			return tracerDefinition{}, fmt.Errorf("computedSpans %q end: %w", cs.Name, err)
		}
		def.ComputedSpanDefinitions = append(def.ComputedSpanDefinitions, settlez.ComputedSpanDefinition{
			Name:      cs.Name,
			StartSpan: start,
			EndSpan:   end,
		})
	}

	for _, cv := range ds.ComputedValues {
		matches, err := buildMatchers("matches", cv.Matches)
		if err != nil {
			return tracerDefinition{}, fmt.Errorf("computedValues %q: %w", cv.Name, err)
		}
		reduce, ok := reducers[cv.Reduce]
		if !ok {
			return tracerDefinition{}, fmt.Errorf("computedValues %q: unknown reducer %q", cv.Name, cv.Reduce)
		}
		def.ComputedValueDefinitions = append(def.ComputedValueDefinitions, settlez.ComputedValueDefinition{
			Name:    cv.Name,
			Matches: matches,
			Compute: reduce,
		})
	}

	if err := settlez.ValidateDefinition(def); err != nil {
		return tracerDefinition{}, err
	}
	return tracerDefinition{def: def, startOn: startOn}, nil
}

func buildMatchers(field string, specs []matcherSpec) ([]settlez.SpanMatcher, error) {
	var out []settlez.SpanMatcher
	for i, s := range specs {
		m, err := s.build()
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", field, i, err)
		}
		out = append(out, m)
	}
	return out, nil
}

func (s matcherSpec) build() (settlez.SpanMatcher, error) {
	var conds []settlez.SpanMatcher
	if s.Name != "" {
		conds = append(conds, settlez.Named(s.Name))
	}
	if s.NamePattern != "" {
		p, err := settlez.NewNamePattern(s.NamePattern)
		if err != nil {
			return nil, err
		}
		conds = append(conds, settlez.MatchName(p))
	}
	if s.NameGlob != "" {
		g, err := settlez.NewNameGlob(s.NameGlob)
		if err != nil {
			return nil, err
		}
		conds = append(conds, settlez.MatchName(g))
	}
	if s.Type != "" {
		conds = append(conds, settlez.MatchType(settlez.SpanType(s.Type)))
	}
	if len(s.Relations) > 0 {
		conds = append(conds, settlez.MatchRelations(s.Relations...))
	}
	if s.IsIdle != nil {
		conds = append(conds, settlez.MatchIdle(*s.IsIdle))
	}
	switch len(conds) {
	case 0:
		return nil, errors.New("matcher has no conditions")
	case 1:
		return conds[0], nil
	}
	return settlez.All(conds...), nil
}

func buildInteractive(raw any) (*settlez.InteractiveConfig, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case bool:
		if !v {
			return nil, nil
		}
		return &settlez.InteractiveConfig{}, nil
	case map[string]any:
		var ds interactiveSpec
		if err := decode(v, &ds); err != nil {
			return nil, err
		}
		return &settlez.InteractiveConfig{
			Timeout:               millis(ds.TimeoutMs),
			DebounceLongTasksBy:   millis(ds.DebounceLongTasksByMs),
			ClusterPadding:        millis(ds.ClusterPaddingMs),
			HeavyClusterThreshold: millis(ds.HeavyClusterThresholdMs),
		}, nil
	}
	return nil, fmt.Errorf("want bool or object, got %T", raw)
}

// buildBoundary accepts "operation-start", "operation-end" or a matcher object.
func buildBoundary(raw any, fallback settlez.SpanMatcher) (settlez.SpanMatcher, error) {
	switch v := raw.(type) {
	case nil:
		return fallback, nil
	case string:
		switch strings.ToLower(v) {
		case "operation-start":
			return settlez.OperationStart, nil
		case "operation-end":
			return settlez.OperationEnd, nil
		}
		return nil, fmt.Errorf("unknown boundary %q", v)
	case map[string]any:
		var ds matcherSpec
		if err := decode(v, &ds); err != nil {
			return nil, err
		}
		return ds.build()
	}
	return nil, fmt.Errorf("want boundary name or matcher, got %T", raw)
}

func flatten(groups [][]settlez.SpanAndAnnotation) []settlez.SpanAndAnnotation {
	var out []settlez.SpanAndAnnotation
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

func toMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

var reducers = map[string]func([][]settlez.SpanAndAnnotation) any{
	"count": func(groups [][]settlez.SpanAndAnnotation) any {
		return len(flatten(groups))
	},
	"sum-duration": func(groups [][]settlez.SpanAndAnnotation) any {
		var sum time.Duration
		for _, e := range flatten(groups) {
			sum += e.Span.Duration
		}
		return toMillis(sum)
	},
	"max-end": func(groups [][]settlez.SpanAndAnnotation) any {
		var (
			end   time.Duration
			found bool
		)
		for _, e := range flatten(groups) {
			if !found || e.Annotation.OperationRelativeEndTime > end {
				end, found = e.Annotation.OperationRelativeEndTime, true
			}
		}
		if !found {
			return nil
		}
		return toMillis(end)
	},
}
