package extraction

import "errors"

var (
	// ErrNotFound reports an unknown transaction.
	ErrNotFound = errors.New("extraction: transaction not found")
	// ErrElementNotFound reports unknown element targets in a correction
	// batch or grounding lookup.
	ErrElementNotFound = errors.New("extraction: element not found")
	// ErrNotCompleted reports an operation that requires a completed
	// transaction (result, corrections).
	ErrNotCompleted = errors.New("extraction: transaction not completed")
	// ErrInvalidInput reports a rejected request before any state changes.
	ErrInvalidInput = errors.New("extraction: invalid input")
)
