package settlez

import (
	"fmt"

	"go.uber.org/zap"
)

// Tracer starts and controls traces of one definition on its Manager.
// Safe for concurrent use by multiple goroutines.
type Tracer struct {
	m   *Manager
	def TraceDefinition
}

// Definition returns the tracer's definition with defaults applied.
func (tr *Tracer) Definition() TraceDefinition {
	return tr.def
}

// StartInput describes a new trace.
type StartInput struct {
	// ID overrides the generated trace ID.
	ID string
	// RelatedTo binds relation values. Ignored for drafts.
	RelatedTo RelatedTo
	// Variant selects a definition variant.
	Variant string
	// StartTime defaults to the manager's current time.
	StartTime *Timestamp
	// Attributes are copied into the recording.
	Attributes map[Attr]any
}

// PreviouslyActivatedBehavior selects how TransitionDraftToActive handles a
// trace that was already activated.
type PreviouslyActivatedBehavior string

// Behaviors for re-activating a trace.
const (
	// WarnAndContinue rebinds relation values and reports a warning.
	WarnAndContinue PreviouslyActivatedBehavior = "warn-and-continue"
	// ErrorAndContinue rebinds relation values and reports an error.
	ErrorAndContinue PreviouslyActivatedBehavior = "error-and-continue"
	// ErrorAndKeep keeps the current binding and reports an error.
	ErrorAndKeep PreviouslyActivatedBehavior = "error"
)

// TransitionOptions tune TransitionDraftToActive.
type TransitionOptions struct {
	PreviouslyActivatedBehavior PreviouslyActivatedBehavior
}

// InterruptOptions tune Interrupt.
type InterruptOptions struct {
	// Error is recorded as the final entry when set.
	Error error
}

// Start begins an active trace, interrupting any other active trace with
// another-trace-started.
func (tr *Tracer) Start(in StartInput) (string, error) {
	if err := tr.def.Relation.Validate(in.RelatedTo); err != nil {
		return "", err
	}
	return tr.begin(in, false)
}

// CreateDraft begins a trace whose relation values are bound later through
// TransitionDraftToActive. Spans are recorded but not matched meanwhile.
func (tr *Tracer) CreateDraft(in StartInput) (string, error) {
	in.RelatedTo = nil
	return tr.begin(in, true)
}

func (tr *Tracer) begin(in StartInput, draft bool) (string, error) {
	resolved, err := resolveDefinition(tr.def, in.Variant)
	if err != nil {
		return "", err
	}

	var id string
	ran := tr.m.do("start", func() {
		start := tr.m.Now()
		if in.StartTime != nil {
			start = *in.StartTime
		}
		id = in.ID
		if id == "" {
			id = tr.m.cfg.GenerateID()
		}
		if prev := tr.m.active; prev != nil {
			prev.finalizeInterrupted(ReasonAnotherTraceStarted)
		}
		t := newTrace(id, resolved, start, in.RelatedTo, copyAttributes(in.Attributes), draft, tr.m.hooks())
		tr.m.active = t
		tr.m.activeTracer = tr
		tr.m.logger.Debug("trace started",
			zap.String("trace", tr.def.Name),
			zap.String("id", id),
			zap.String("variant", in.Variant),
			zap.String("state", string(t.state)),
		)
	})
	if !ran {
		return "", ErrManagerClosed
	}
	return id, nil
}

// current returns the active trace if this tracer owns it. Caller holds the lock.
func (tr *Tracer) current() *trace {
	if tr.m.active == nil || tr.m.activeTracer != tr {
		return nil
	}
	return tr.m.active
}

// TransitionDraftToActive binds relation values to the draft and replays
// what it recorded. Misuse is reported through the manager callbacks; only
// invalid relation values are returned.
func (tr *Tracer) TransitionDraftToActive(rel RelatedTo, opts TransitionOptions) error {
	if err := tr.def.Relation.Validate(rel); err != nil {
		return err
	}
	ran := tr.m.do("transition draft", func() {
		t := tr.current()
		if t == nil {
			tr.m.queueWarning(fmt.Errorf("%w: %s", ErrNoActiveTrace, tr.def.Name), nil)
			return
		}
		if t.state == StateDraft {
			t.activate(rel)
			return
		}

		err := fmt.Errorf("%w: %s in state %s", ErrTraceAlreadyActive, t.id, t.state)
		switch opts.PreviouslyActivatedBehavior {
		case ErrorAndKeep:
			tr.m.queueError(err, t)
		case ErrorAndContinue:
			tr.m.queueError(err, t)
			t.rebind(rel)
		default:
			tr.m.queueWarning(err, t)
			t.rebind(rel)
		}
	})
	if !ran {
		return ErrManagerClosed
	}
	return nil
}

// Interrupt ends this tracer's active trace. With an error the trace is
// aborted and the error recorded; without one a draft is cancelled and
// discarded, anything else is aborted.
func (tr *Tracer) Interrupt(opts InterruptOptions) {
	tr.m.do("interrupt", func() {
		t := tr.current()
		if t == nil {
			tr.m.queueWarning(fmt.Errorf("%w: %s", ErrNoActiveTrace, tr.def.Name), nil)
			return
		}
		t.abort(opts.Error, tr.m.Now())
	})
}

// AddRequirementsToCurrentTraceOnly extends the active trace without
// changing the definition. Required spans are rejected once requirements
// were met; interrupt and debounce matchers are always added.
func (tr *Tracer) AddRequirementsToCurrentTraceOnly(extra Requirements) {
	tr.m.do("add requirements", func() {
		t := tr.current()
		if t == nil {
			tr.m.queueWarning(fmt.Errorf("%w: %s", ErrNoActiveTrace, tr.def.Name), nil)
			return
		}
		if err := extra.validate(tr.def.Relation); err != nil {
			tr.m.queueError(err, t)
			return
		}
		if err := t.addRequirements(extra); err != nil {
			tr.m.queueWarning(fmt.Errorf("%w: %s in state %s", err, t.id, t.state), t)
		}
	})
}

func copyAttributes(attrs map[Attr]any) map[Attr]any {
	if attrs == nil {
		return nil
	}
	out := make(map[Attr]any, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}
