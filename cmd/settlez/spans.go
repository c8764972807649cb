package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/zoobzio/settlez"
)

// spanRecord is one NDJSON input line. Times are in milliseconds.
type spanRecord struct {
	Name           string         `json:"name"`
	Type           string         `json:"type"`
	StartTime      float64        `json:"startTime"`
	Duration       float64        `json:"duration"`
	RelatedTo      map[string]any `json:"relatedTo"`
	Attributes     map[string]any `json:"attributes"`
	IsIdle         bool           `json:"isIdle"`
	RenderedOutput string         `json:"renderedOutput"`
	Error          string         `json:"error"`
}

func (r spanRecord) span(at func(ms float64) settlez.Timestamp) settlez.Span {
	typ := settlez.SpanType(r.Type)
	if typ == "" {
		typ = settlez.SpanTypeMark
	}
	s := settlez.Span{
		Name:           r.Name,
		Type:           typ,
		StartTime:      at(r.StartTime),
		Duration:       millis(r.Duration),
		Attributes:     r.Attributes,
		RelatedTo:      r.RelatedTo,
		IsIdle:         r.IsIdle,
		RenderedOutput: settlez.RenderedOutput(r.RenderedOutput),
	}
	if r.Error != "" {
		s.Error = errors.New(r.Error)
	}
	return s
}

// readSpans decodes NDJSON spans and hands each to fn until EOF or ctx ends.
// Blank lines are skipped.
func readSpans(ctx context.Context, r io.Reader, at func(ms float64) settlez.Timestamp, fn func(settlez.Span)) (int, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var line, n int
	for sc.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return n, err
		}
		b := sc.Bytes()
		if len(bytes.TrimSpace(b)) == 0 {
			continue
		}
		var rec spanRecord
		if err := json.Unmarshal(b, &rec); err != nil {
			return n, fmt.Errorf("line %d: %w", line, err)
		}
		if rec.Name == "" {
			return n, fmt.Errorf("line %d: span name is required", line)
		}
		fn(rec.span(at))
		n++
	}
	return n, sc.Err()
}

