package settlez

import "errors"

// Construction and misuse errors.
var (
	// ErrNoRequiredSpans is returned when a definition has no required spans.
	// Such a trace could never complete deterministically.
	ErrNoRequiredSpans = errors.New("trace definition requires at least one required span")

	// ErrNoActiveTrace is reported when an operation targets a trace that
	// does not currently exist.
	ErrNoActiveTrace = errors.New("no active trace")

	// ErrTraceAlreadyActive is reported when a trace is activated twice.
	ErrTraceAlreadyActive = errors.New("trace was already activated")

	// ErrUnknownVariant is returned when a start input names an undeclared variant.
	ErrUnknownVariant = errors.New("unknown trace variant")

	// ErrInvalidRelation is returned when relation values do not satisfy the schema.
	ErrInvalidRelation = errors.New("invalid relation")

	// ErrRequirementsTooLate is reported when required spans are added to a
	// trace that already satisfied its requirements.
	ErrRequirementsTooLate = errors.New("required spans can no longer be added")

	// ErrManagerClosed is returned by operations on a closed manager.
	ErrManagerClosed = errors.New("manager closed")
)
