// Package settlez correlates a stream of timestamped performance spans into
// bounded, named operation traces.
//
// settlez decides, span by span, whether a trace has gathered enough evidence
// to be considered done, whether it should keep waiting because related
// activity is still happening, whether it was invalidated, and when the page
// can be declared settled after the trace nominally finished.
//
// Core Components:.
//   - Manager: Owns the single active trace and routes every span to it.
//   - Tracer: Factory bound to one immutable TraceDefinition.
//   - SpanMatcher: Pure predicate deciding whether a span counts.
//   - TraceRecording: Immutable finalized output handed to the report sink.
//
// Basic Usage:.
//
//	manager := settlez.NewManager(settlez.Config{
//		ReportFn: func(rec settlez.TraceRecording) { ... },
//	})
//	defer manager.Close()
//
//	tracer, err := manager.CreateTracer(settlez.TraceDefinition{
//		Name:          "ticket-opened",
//		RequiredSpans: []settlez.SpanMatcher{settlez.MatchName(settlez.NameExact("ticket-rendered"))},
//	})
//
//	id, err := tracer.Start(settlez.StartInput{})
//	manager.ProcessSpan(span)
//
// Lifecycle:.
//
// A trace moves from draft (optional) to recording, then debouncing once every
// required matcher was satisfied, then waiting-for-interactive when CPU idle
// capture is enabled, and ends either complete or interrupted. The recording
// is reported exactly once.
//
// Time:.
//
// Deadlines are logical points in time, not live timers. Spans advance time to
// their end; Manager.AdvanceTo advances it explicitly. With
// Config.ScheduleDeadlines the manager additionally arms a clock timer so
// deadlines fire in real time.
//
// Thread Safety:.
//
// Manager and Tracer are safe for concurrent use; all calls are serialized on
// the manager. Report functions are invoked outside the manager lock.
package settlez

// Key represents a relation key.
type Key = string

// Attr represents a span attribute key.
type Attr = string
