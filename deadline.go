package settlez

import (
	"fmt"
	"sort"
	"time"
)

// DeadlinePurpose identifies what a deadline does when it is reached.
// Deadlines due at the same time fire in ascending purpose order.
type DeadlinePurpose uint8

// Deadline purposes.
const (
	PurposeDebounce DeadlinePurpose = iota
	PurposeInteractiveCheck
	PurposeInteractiveTimeout
	PurposeTimeout
	purposeCount
)

func (p DeadlinePurpose) String() string {
	switch p {
	case PurposeDebounce:
		return "debounce"
	case PurposeInteractiveCheck:
		return "interactive-check"
	case PurposeInteractiveTimeout:
		return "interactive-timeout"
	case PurposeTimeout:
		return "timeout"
	}
	return fmt.Sprintf("purpose(%d)", uint8(p))
}

// Deadline is a scheduled logical point in time.
type Deadline struct {
	DueAt   time.Duration
	Purpose DeadlinePurpose
}

type deadlineSlot struct {
	at    time.Duration
	armed bool
	used  bool
}

// deadlines holds one slot per purpose. A slot never moves backwards, even
// after it fired.
type deadlines [purposeCount]deadlineSlot

func (d *deadlines) arm(p DeadlinePurpose, at time.Duration) {
	s := &d[p]
	if s.used && at < s.at {
		at = s.at
	}
	s.at, s.armed, s.used = at, true, true
}

func (d *deadlines) disarm(p DeadlinePurpose) {
	d[p].armed = false
}

func (d *deadlines) disarmAll() {
	for i := range d {
		d[i].armed = false
	}
}

func (d *deadlines) get(p DeadlinePurpose) (time.Duration, bool) {
	return d[p].at, d[p].armed
}

// next returns the earliest armed deadline.
func (d *deadlines) next() (Deadline, bool) {
	var (
		best  Deadline
		found bool
	)
	for i := range d {
		s := d[i]
		if !s.armed {
			continue
		}
		if !found || s.at < best.DueAt {
			best = Deadline{DueAt: s.at, Purpose: DeadlinePurpose(i)}
			found = true
		}
	}
	return best, found
}

// pending returns every armed deadline in firing order.
func (d *deadlines) pending() []Deadline {
	var out []Deadline
	for i := range d {
		if d[i].armed {
			out = append(out, Deadline{DueAt: d[i].at, Purpose: DeadlinePurpose(i)})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DueAt < out[j].DueAt })
	return out
}
