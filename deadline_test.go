package settlez

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDeadlinesNeverMoveBackwards(t *testing.T) {
	var d deadlines

	d.arm(PurposeDebounce, ms(500))
	d.arm(PurposeDebounce, ms(300))
	if at, ok := d.get(PurposeDebounce); !ok || at != ms(500) {
		t.Errorf("Expected debounce at 500ms, got %s armed=%v", at, ok)
	}

	d.disarm(PurposeDebounce)
	d.arm(PurposeDebounce, ms(200))
	if at, _ := d.get(PurposeDebounce); at != ms(500) {
		t.Errorf("Expected re-armed debounce to stay at 500ms, got %s", at)
	}

	d.arm(PurposeDebounce, ms(900))
	if at, _ := d.get(PurposeDebounce); at != ms(900) {
		t.Errorf("Expected debounce extended to 900ms, got %s", at)
	}
}

func TestDeadlinesNextBreaksTiesByPurpose(t *testing.T) {
	var d deadlines
	d.arm(PurposeTimeout, ms(100))
	d.arm(PurposeInteractiveTimeout, ms(100))
	d.arm(PurposeDebounce, ms(100))
	d.arm(PurposeInteractiveCheck, ms(150))

	next, ok := d.next()
	if !ok || next.Purpose != PurposeDebounce {
		t.Fatalf("Expected debounce first, got %v", next)
	}

	want := []Deadline{
		{DueAt: ms(100), Purpose: PurposeDebounce},
		{DueAt: ms(100), Purpose: PurposeInteractiveTimeout},
		{DueAt: ms(100), Purpose: PurposeTimeout},
		{DueAt: ms(150), Purpose: PurposeInteractiveCheck},
	}
	if diff := cmp.Diff(want, d.pending()); diff != "" {
		t.Errorf("Pending mismatch (-want +got):\n%s", diff)
	}

	d.disarmAll()
	if _, ok := d.next(); ok {
		t.Error("Expected no deadline after disarmAll")
	}
	if d.pending() != nil {
		t.Error("Expected no pending deadlines after disarmAll")
	}
}

func TestDeadlinePurposeString(t *testing.T) {
	names := map[DeadlinePurpose]string{
		PurposeDebounce:           "debounce",
		PurposeInteractiveCheck:   "interactive-check",
		PurposeInteractiveTimeout: "interactive-timeout",
		PurposeTimeout:            "timeout",
		DeadlinePurpose(9):        "purpose(9)",
	}
	for p, want := range names {
		if p.String() != want {
			t.Errorf("Expected %s, got %s", want, p.String())
		}
	}
}
