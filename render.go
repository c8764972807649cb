package settlez

import (
	"sync"
	"time"
)

// ComponentState describes a component at one lifecycle callback.
type ComponentState struct {
	Name           string
	RelatedTo      RelatedTo
	IsIdle         bool
	RenderedOutput RenderedOutput
	Attributes     map[Attr]any
	Error          error
}

// RenderEmitter converts component lifecycle callbacks into spans.
// Safe for concurrent use.
type RenderEmitter struct {
	mu     sync.Mutex
	now    func() Timestamp
	next   SpanProcessor
	starts map[string]Timestamp
}

// NewRenderEmitter creates an emitter pushing spans to next. now is usually
// Manager.Now.
func NewRenderEmitter(next SpanProcessor, now func() Timestamp) *RenderEmitter {
	return &RenderEmitter{now: now, next: next, starts: make(map[string]Timestamp)}
}

// RenderStart emits a component-render-start span and opens a render
// measured by the following RenderCommitted.
func (e *RenderEmitter) RenderStart(c ComponentState) {
	at := e.now()
	e.mu.Lock()
	e.starts[c.Name] = at
	e.mu.Unlock()

	e.next.ProcessSpan(componentSpan(c, SpanTypeComponentRenderStart, at, 0))
}

// RenderCommitted emits a component-render span lasting since the matching
// RenderStart, or zero when there was none.
func (e *RenderEmitter) RenderCommitted(c ComponentState) {
	end := e.now()
	e.mu.Lock()
	start, ok := e.starts[c.Name]
	delete(e.starts, c.Name)
	e.mu.Unlock()
	if !ok || start.Now > end.Now {
		start = end
	}

	e.next.ProcessSpan(componentSpan(c, SpanTypeComponentRender, start, end.Now-start.Now))
}

// Unmount emits a component-unmount span.
func (e *RenderEmitter) Unmount(c ComponentState) {
	at := e.now()
	e.mu.Lock()
	delete(e.starts, c.Name)
	e.mu.Unlock()

	e.next.ProcessSpan(componentSpan(c, SpanTypeComponentUnmount, at, 0))
}

func componentSpan(c ComponentState, typ SpanType, start Timestamp, d time.Duration) Span {
	return Span{
		Name:           c.Name,
		Type:           typ,
		StartTime:      start,
		Duration:       d,
		Attributes:     c.Attributes,
		RelatedTo:      c.RelatedTo,
		Error:          c.Error,
		IsIdle:         c.IsIdle,
		RenderedOutput: c.RenderedOutput,
	}
}
