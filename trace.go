package settlez

import (
	"time"
)

// State is the lifecycle state of a trace.
type State string

// Trace states.
const (
	StateDraft                 State = "draft"
	StateRecording             State = "recording"
	StateDebouncing            State = "debouncing"
	StateWaitingForInteractive State = "waiting-for-interactive"
	StateComplete              State = "complete"
	StateInterrupted           State = "interrupted"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateInterrupted
}

// requirement tracks one required matcher. Each matches once.
type requirement struct {
	matcher  SpanMatcher
	identity SpanMatcher
	idle     bool
	matched  bool
}

func newRequirement(m SpanMatcher) requirement {
	return requirement{matcher: m, identity: withoutIdle(m), idle: requiresIdle(m)}
}

// traceHooks connect a trace to its owner.
type traceHooks struct {
	onTransition func(t *trace, from, to State)
	onEnd        func(t *trace, rec TraceRecording)
	onPanic      func(t *trace, what string, r any)
}

// trace is one active trace instance. It is not safe for concurrent use;
// the owning Manager serializes every call.
//
//nolint:govet // Field order groups related state
type trace struct {
	id         string
	def        resolvedDefinition
	start      Timestamp
	relatedTo  RelatedTo
	attributes map[Attr]any
	state      State
	activated  bool

	entries     []SpanAndAnnotation
	occurrences map[string]int

	requirements []requirement
	pending      int

	deadlines deadlines
	now       time.Duration

	lastRequired int
	lastRelevant int
	cpu          *cpuIdleDetector

	// handled counts entries already passed through handleEntry.
	handled int
	// inflight is a long task being processed whose start has been reached.
	inflight         *Span
	inflightObserved bool

	hooks     traceHooks
	recording *TraceRecording
}

func newTrace(id string, def resolvedDefinition, start Timestamp, rel RelatedTo, attrs map[Attr]any, draft bool, hooks traceHooks) *trace {
	t := &trace{
		id:           id,
		def:          def,
		start:        start,
		relatedTo:    copyRelatedTo(rel),
		attributes:   attrs,
		state:        StateRecording,
		activated:    !draft,
		occurrences:  make(map[string]int),
		now:          start.Now,
		lastRequired: -1,
		lastRelevant: -1,
		hooks:        hooks,
	}
	if draft {
		t.state = StateDraft
	}
	for _, m := range def.required {
		t.requirements = append(t.requirements, newRequirement(m))
	}
	t.pending = len(t.requirements)
	t.deadlines.arm(PurposeTimeout, start.Now+def.timeout)
	return t
}

func (t *trace) name() string { return t.def.def.Name }

func (t *trace) transition(to State) {
	from := t.state
	t.state = to
	if t.hooks.onTransition != nil {
		t.hooks.onTransition(t, from, to)
	}
}

// processSpan is the single entry point for spans.
func (t *trace) processSpan(span Span) {
	if t.state.Terminal() {
		return
	}
	// Stale buffered history must not leak into a newer trace.
	if span.StartTime.Now < t.start.Now {
		return
	}

	end := span.End()
	defer t.clearInflight()
	t.reach(span)
	if t.state.Terminal() {
		return
	}
	if end > t.now {
		t.now = end
	}

	if matchesAny(t.def.interrupt, span, t.relatedTo) {
		t.finalizeInterrupted(ReasonMatchedOnInterrupt)
		return
	}

	t.handleEntry(t.record(span))
}

func (t *trace) record(span Span) int {
	occurrence := t.occurrences[span.Name] + 1
	t.occurrences[span.Name] = occurrence
	t.entries = append(t.entries, SpanAndAnnotation{
		Span: span,
		Annotation: SpanAnnotation{
			Occurrence:                 occurrence,
			OperationRelativeStartTime: span.StartTime.Now - t.start.Now,
			OperationRelativeEndTime:   span.End() - t.start.Now,
			Duration:                   span.Duration,
		},
	})
	return len(t.entries) - 1
}

// reach fires the deadlines due before span ends. A long task is fed to the
// CPU idle detector once its start is reached, since deadlines inside it
// must already see it.
func (t *trace) reach(span Span) {
	if span.Type == SpanTypeLongTask {
		t.advance(span.StartTime.Now, false)
		if t.state.Terminal() {
			return
		}
		t.inflight = &span
		if t.state == StateWaitingForInteractive {
			t.observeInflight()
		}
	}
	t.advance(span.End(), false)
	t.inflight = nil
}

func (t *trace) observeInflight() {
	if t.inflight == nil || t.inflightObserved {
		return
	}
	t.cpu.observe(*t.inflight)
	t.inflightObserved = true
}

func (t *trace) clearInflight() {
	t.inflight = nil
	t.inflightObserved = false
}

// handleEntry applies the current state's rules to an already recorded entry.
func (t *trace) handleEntry(idx int) {
	span := t.entries[idx].Span
	t.handled = idx + 1

	switch t.state {
	case StateDraft:
		// Relations are unbound; matching happens on activation.

	case StateRecording:
		if t.idleRegressed(span) {
			t.finalizeInterrupted(ReasonIdleComponentNoLongerIdle)
			return
		}
		t.matchRequired(idx)
		if t.pending == 0 {
			t.requirementsMet(t.entries[t.lastRequired].Span.End())
		}

	case StateDebouncing:
		if t.idleRegressed(span) {
			t.finalizeInterrupted(ReasonIdleComponentNoLongerIdle)
			return
		}
		if matchesAny(t.def.debounce, span, t.relatedTo) {
			t.lastRelevant = t.later(t.lastRelevant, idx)
			t.deadlines.arm(PurposeDebounce, span.End()+t.def.def.debounceWindow())
		}

	case StateWaitingForInteractive:
		if !t.inflightObserved {
			t.cpu.observe(span)
		}
		t.checkInteractive(t.now)
	}
}

func (t *trace) matchRequired(idx int) {
	e := &t.entries[idx]
	for i := range t.requirements {
		r := &t.requirements[i]
		if r.matched || !r.matcher.Match(e.Span, t.relatedTo) {
			continue
		}
		r.matched = true
		t.pending--
		e.Annotation.IsRequired = true
		t.lastRequired = t.later(t.lastRequired, idx)
		t.lastRelevant = t.later(t.lastRelevant, idx)
	}
}

// later returns whichever entry ended last, preferring idx on ties.
func (t *trace) later(cur, idx int) int {
	if cur < 0 || t.entries[idx].Span.End() >= t.entries[cur].Span.End() {
		return idx
	}
	return cur
}

// idleRegressed reports whether span is a non-idle occurrence of a component
// that satisfied an idle requirement.
func (t *trace) idleRegressed(span Span) bool {
	if span.IsIdle {
		return false
	}
	for _, r := range t.requirements {
		if r.matched && r.idle && r.identity.Match(span, t.relatedTo) {
			return true
		}
	}
	return false
}

func (t *trace) needsDebounce() bool {
	if len(t.def.debounce) > 0 {
		return true
	}
	for _, r := range t.requirements {
		if r.idle {
			return true
		}
	}
	return false
}

func (t *trace) requirementsMet(at time.Duration) {
	t.entries[t.lastRequired].Annotation.MarkedRequirementsMet = true
	if t.needsDebounce() {
		t.transition(StateDebouncing)
		t.deadlines.arm(PurposeDebounce, at+t.def.def.debounceWindow())
		return
	}
	t.settle(at)
}

// settle is reached once the debounce window closed.
func (t *trace) settle(at time.Duration) {
	t.deadlines.disarm(PurposeDebounce)
	cfg := t.def.def.CaptureInteractive
	if cfg == nil {
		t.finalizeComplete("", nil)
		return
	}

	t.transition(StateWaitingForInteractive)
	fmp := t.entries[t.lastRelevant].Span.End()
	t.cpu = newCPUIdleDetector(*cfg, fmp)
	for _, e := range t.entries[:t.handled] {
		t.cpu.observe(e.Span)
	}
	t.observeInflight()

	// The lifetime cap still bounds the wait.
	timeoutAt := at + cfg.Timeout
	if global, ok := t.deadlines.get(PurposeTimeout); ok && global < timeoutAt {
		timeoutAt = global
	}
	t.deadlines.disarm(PurposeTimeout)
	t.deadlines.arm(PurposeInteractiveTimeout, timeoutAt)
	t.checkInteractive(at)
}

func (t *trace) checkInteractive(now time.Duration) {
	if idle, ok := t.cpu.check(now); ok {
		t.finalizeComplete("", &idle)
		return
	}
	due := t.cpu.scheduleCheck(now)
	if due <= now {
		due = now + time.Millisecond
	}
	t.deadlines.arm(PurposeInteractiveCheck, due)
}

// advance fires every deadline before to, or at to when inclusive.
func (t *trace) advance(to time.Duration, inclusive bool) {
	for !t.state.Terminal() {
		d, ok := t.deadlines.next()
		if !ok || d.DueAt > to || (!inclusive && d.DueAt == to) {
			break
		}
		t.deadlines.disarm(d.Purpose)
		if d.DueAt > t.now {
			t.now = d.DueAt
		}
		t.fire(d)
	}
	if inclusive && !t.state.Terminal() && to > t.now {
		t.now = to
	}
}

func (t *trace) fire(d Deadline) {
	switch d.Purpose {
	case PurposeTimeout:
		t.finalizeInterrupted(ReasonTimeout)
	case PurposeDebounce:
		if t.state == StateDebouncing {
			t.settle(d.DueAt)
		}
	case PurposeInteractiveCheck:
		if t.state == StateWaitingForInteractive {
			t.checkInteractive(d.DueAt)
		}
	case PurposeInteractiveTimeout:
		if t.state == StateWaitingForInteractive {
			t.finalizeComplete(ReasonWaitingForInteractiveTimeout, nil)
		}
	}
}

// nextDeadline returns the earliest pending deadline.
func (t *trace) nextDeadline() (Deadline, bool) {
	if t.state.Terminal() {
		return Deadline{}, false
	}
	return t.deadlines.next()
}

// activate binds relation values to a draft and replays what it recorded.
func (t *trace) activate(rel RelatedTo) {
	t.relatedTo = copyRelatedTo(rel)
	t.activated = true
	t.handled = 0
	t.transition(StateRecording)
	defer t.clearInflight()
	for idx := range t.entries {
		t.reach(t.entries[idx].Span)
		if t.state.Terminal() {
			return
		}
		t.handleEntry(idx)
		t.clearInflight()
		if t.state.Terminal() {
			return
		}
	}
	t.advance(t.now, false)
}

// rebind replaces relation values without replaying entries.
func (t *trace) rebind(rel RelatedTo) {
	t.relatedTo = copyRelatedTo(rel)
}

// addRequirements extends this trace only. Required spans can only be added
// while requirements are still being gathered.
func (t *trace) addRequirements(extra Requirements) error {
	t.def.interrupt = append(t.def.interrupt, extra.InterruptOnSpans...)
	t.def.debounce = append(t.def.debounce, extra.DebounceOnSpans...)
	if len(extra.RequiredSpans) == 0 {
		return nil
	}
	if t.state != StateDraft && t.state != StateRecording {
		return ErrRequirementsTooLate
	}
	t.def.required = append(t.def.required, extra.RequiredSpans...)
	for _, m := range extra.RequiredSpans {
		t.requirements = append(t.requirements, newRequirement(m))
	}
	t.pending += len(extra.RequiredSpans)
	return nil
}

// abort finalizes on explicit request. An error is recorded as a terminal
// entry; a draft cancelled without error drops everything it saw.
func (t *trace) abort(err error, at Timestamp) {
	if t.state.Terminal() {
		return
	}
	switch {
	case err != nil:
		if at.Now < t.now {
			at.Now = t.now
		}
		t.record(Span{
			Name:      err.Error(),
			Type:      SpanTypeError,
			StartTime: at,
			Error:     err,
		})
		t.finalizeInterrupted(ReasonAborted)
	case t.state == StateDraft:
		t.entries = nil
		t.finalizeInterrupted(ReasonDraftCancelled)
	default:
		t.finalizeInterrupted(ReasonAborted)
	}
}

func (t *trace) finalizeInterrupted(reason InterruptionReason) {
	t.finalize(StatusInterrupted, reason, nil)
}

func (t *trace) finalizeComplete(reason InterruptionReason, firstCPUIdle *time.Duration) {
	t.finalize(StatusOK, reason, firstCPUIdle)
}

// finalize happens exactly once per trace.
func (t *trace) finalize(status Status, reason InterruptionReason, firstCPUIdle *time.Duration) {
	if t.state.Terminal() {
		return
	}
	t.deadlines.disarmAll()
	if status == StatusOK {
		t.transition(StateComplete)
	} else {
		t.transition(StateInterrupted)
	}

	rec := t.buildRecording(status, reason, firstCPUIdle)
	t.recording = &rec
	if t.hooks.onEnd != nil {
		t.hooks.onEnd(t, rec)
	}
}
