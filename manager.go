package settlez

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
)

// ReportFunc receives every finalized recording, exactly once per trace.
type ReportFunc func(rec TraceRecording)

// ReportContext identifies the trace a warning or error relates to. The
// fields are empty when no trace was involved.
type ReportContext struct {
	TraceID   string
	TraceName string
	State     State
}

// ReportErrorFunc receives errors and warnings that do not abort the caller.
type ReportErrorFunc func(err error, ctx ReportContext)

// Config configures a Manager. The zero value is usable.
type Config struct {
	// Clock drives Now and deadline scheduling. Defaults to clockz.RealClock.
	Clock clockz.Clock
	// GenerateID produces trace IDs. Defaults to a pooled ULID generator.
	GenerateID func() string
	// ReportFn receives finalized recordings.
	ReportFn ReportFunc
	// ReportErrorFn receives misuse and recovered panics. Defaults to logging.
	ReportErrorFn ReportErrorFunc
	// ReportWarningFn receives recoverable misuse. Defaults to logging.
	ReportWarningFn ReportErrorFunc
	// Logger receives debug lifecycle logs. Defaults to zap.NewNop.
	Logger *zap.Logger
	// ScheduleDeadlines fires deadlines from Clock timers. Without it,
	// deadlines only fire as spans arrive or through AdvanceTo.
	ScheduleDeadlines bool
}

type delivery struct {
	rec     *TraceRecording
	err     error
	ctx     ReportContext
	warning bool
}

// Manager owns the single active trace and routes spans to it.
// Safe for concurrent use by multiple goroutines; calls are serialized and
// reports are delivered outside the lock, in the order they were produced.
//
//nolint:govet // Field order groups related state
type Manager struct {
	cfg    Config
	clock  clockz.Clock
	origin time.Time
	logger *zap.Logger
	ids    *IDPool

	mu           sync.Mutex
	active       *trace
	activeTracer *Tracer
	outbox       []delivery
	closed       bool

	timer      clockz.Timer
	timerTrace *trace
	timerDue   time.Duration
	timerGen   uint64
}

// NewManager creates a manager.
func NewManager(cfg Config) *Manager {
	m := &Manager{cfg: cfg, clock: cfg.Clock, logger: cfg.Logger}
	if m.clock == nil {
		m.clock = clockz.RealClock
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	m.origin = m.clock.Now()
	if m.cfg.GenerateID == nil {
		m.ids = NewULIDPool(runtime.NumCPU()*8, m.clock)
		m.cfg.GenerateID = m.ids.Get
	}
	if m.cfg.ReportErrorFn == nil {
		m.cfg.ReportErrorFn = func(err error, ctx ReportContext) {
			m.logger.Error("settlez error", append(contextFields(ctx), zap.Error(err))...)
		}
	}
	if m.cfg.ReportWarningFn == nil {
		m.cfg.ReportWarningFn = func(err error, ctx ReportContext) {
			m.logger.Warn("settlez warning", append(contextFields(ctx), zap.Error(err))...)
		}
	}
	return m
}

func contextFields(ctx ReportContext) []zap.Field {
	if ctx.TraceID == "" {
		return nil
	}
	return []zap.Field{
		zap.String("trace", ctx.TraceName),
		zap.String("id", ctx.TraceID),
		zap.String("state", string(ctx.State)),
	}
}

// Now returns the current timestamp on the manager's clock.
func (m *Manager) Now() Timestamp {
	now := m.clock.Now()
	return Timestamp{Epoch: now, Now: now.Sub(m.origin)}
}

// TimestampAt converts a monotonic offset into a timestamp.
func (m *Manager) TimestampAt(now time.Duration) Timestamp {
	return Timestamp{Epoch: m.origin.Add(now), Now: now}
}

// CreateTracer validates def and returns a tracer for it.
func (m *Manager) CreateTracer(def TraceDefinition) (*Tracer, error) {
	if err := ValidateDefinition(def); err != nil {
		return nil, err
	}
	return &Tracer{m: m, def: def.withDefaults()}, nil
}

// ProcessSpan feeds one span to the active trace, if any. Panics raised by
// user matchers are recovered and reported through ReportErrorFn.
func (m *Manager) ProcessSpan(span Span) {
	m.do("process span", func() {
		if m.active != nil {
			m.active.processSpan(span)
		}
	})
}

// AdvanceTo fires every deadline of the active trace due at or before now.
func (m *Manager) AdvanceTo(now time.Duration) {
	m.do("advance", func() {
		if m.active != nil {
			m.active.advance(now, true)
		}
	})
}

// TraceInfo is a snapshot of the active trace.
type TraceInfo struct {
	ID        string
	Name      string
	State     State
	Start     Timestamp
	Entries   int
	Deadlines []Deadline
}

// ActiveTrace returns a snapshot of the active trace.
func (m *Manager) ActiveTrace() (TraceInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.active
	if t == nil {
		return TraceInfo{}, false
	}
	return TraceInfo{
		ID:        t.id,
		Name:      t.name(),
		State:     t.state,
		Start:     t.start,
		Entries:   len(t.entries),
		Deadlines: t.deadlines.pending(),
	}, true
}

// Close interrupts the active trace, stops scheduling and releases the ID
// pool. Later calls are ignored.
func (m *Manager) Close() {
	m.do("close", func() {
		if m.active != nil {
			m.active.abort(nil, m.Now())
		}
		m.stopTimerLocked()
		m.closed = true
	})
	if m.ids != nil {
		m.ids.Close()
	}
}

// do runs fn under the lock and flushes produced reports after unlocking.
// It reports false without running fn once the manager is closed.
func (m *Manager) do(what string, fn func()) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.guard(what, fn)
	m.rescheduleLocked()
	out := m.outbox
	m.outbox = nil
	m.mu.Unlock()

	m.deliver(out)
	return true
}

func (m *Manager) guard(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.onPanic(m.active, what, r)
		}
	}()
	fn()
}

func (m *Manager) hooks() traceHooks {
	return traceHooks{
		onTransition: m.onTransition,
		onEnd:        m.onEnd,
		onPanic:      m.onPanic,
	}
}

func (m *Manager) onTransition(t *trace, from, to State) {
	m.logger.Debug("trace transition",
		zap.String("trace", t.name()),
		zap.String("id", t.id),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
}

func (m *Manager) onEnd(t *trace, rec TraceRecording) {
	if m.active == t {
		m.active = nil
		m.activeTracer = nil
	}
	m.logger.Debug("trace finalized",
		zap.String("trace", rec.Name),
		zap.String("id", rec.ID),
		zap.String("status", string(rec.Status)),
		zap.String("reason", string(rec.InterruptionReason)),
		zap.Int("entries", len(rec.Entries)),
	)
	m.outbox = append(m.outbox, delivery{rec: &rec})
}

func (m *Manager) onPanic(t *trace, what string, r any) {
	m.queueError(fmt.Errorf("settlez: panic in %s: %v", what, r), t)
}

func (m *Manager) queueError(err error, t *trace) {
	m.outbox = append(m.outbox, delivery{err: err, ctx: traceContext(t)})
}

func (m *Manager) queueWarning(err error, t *trace) {
	m.outbox = append(m.outbox, delivery{err: err, ctx: traceContext(t), warning: true})
}

func traceContext(t *trace) ReportContext {
	if t == nil {
		return ReportContext{}
	}
	return ReportContext{TraceID: t.id, TraceName: t.name(), State: t.state}
}

func (m *Manager) deliver(out []delivery) {
	for _, d := range out {
		switch {
		case d.rec != nil:
			if m.cfg.ReportFn != nil {
				m.safeCall("report", func() { m.cfg.ReportFn(*d.rec) })
			}
		case d.warning:
			m.safeCall("report warning", func() { m.cfg.ReportWarningFn(d.err, d.ctx) })
		default:
			m.safeCall("report error", func() { m.cfg.ReportErrorFn(d.err, d.ctx) })
		}
	}
}

func (m *Manager) safeCall(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("callback panicked", zap.String("callback", what), zap.Any("panic", r))
		}
	}()
	fn()
}

// rescheduleLocked arms one timer for the next deadline of the active trace.
func (m *Manager) rescheduleLocked() {
	if !m.cfg.ScheduleDeadlines || m.closed {
		return
	}
	var (
		next Deadline
		ok   bool
	)
	if m.active != nil {
		next, ok = m.active.nextDeadline()
	}
	if !ok {
		m.stopTimerLocked()
		return
	}
	if m.timer != nil && m.timerTrace == m.active && m.timerDue == next.DueAt {
		return
	}
	m.stopTimerLocked()

	delay := next.DueAt - m.clock.Now().Sub(m.origin)
	if delay < 0 {
		delay = 0
	}
	t, due := m.active, next.DueAt
	m.timerGen++
	gen := m.timerGen
	m.timer = m.clock.AfterFunc(delay, func() { m.fireScheduled(gen, t, due) })
	m.timerTrace, m.timerDue = t, due
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer, m.timerTrace = nil, nil
}

func (m *Manager) fireScheduled(gen uint64, t *trace, due time.Duration) {
	m.do("scheduled deadline", func() {
		if gen == m.timerGen {
			m.timer, m.timerTrace = nil, nil
		}
		if m.active == t {
			t.advance(due, true)
		}
	})
}
