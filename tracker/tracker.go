// Package tracker owns the transaction lifecycle: one transaction per
// uploaded document, advancing through the fixed stage sequence
// pending → parsing → structuring → validating → highlighting → storing
// → completed, with failed as the absorbing error state.
package tracker

import "errors"

var (
	ErrNotFound          = errors.New("tracker: transaction not found")
	ErrInvalidTransition = errors.New("tracker: invalid status transition")
	ErrInvalidInput      = errors.New("tracker: invalid input")
)

// Status is a transaction lifecycle state.
type Status string

const (
	StatusPending      Status = "pending"
	StatusParsing      Status = "parsing"
	StatusStructuring  Status = "structuring"
	StatusValidating   Status = "validating"
	StatusHighlighting Status = "highlighting"
	StatusStoring      Status = "storing"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

// stageOrder is the only legal forward path. Failed is reachable from
// any non-terminal state and is not part of the path.
var stageOrder = []Status{
	StatusPending,
	StatusParsing,
	StatusStructuring,
	StatusValidating,
	StatusHighlighting,
	StatusStoring,
	StatusCompleted,
}

// progressFor maps each status to its reported completion percentage.
// Progress only ever increases along the stage path.
var progressFor = map[Status]int{
	StatusPending:      0,
	StatusParsing:      20,
	StatusStructuring:  40,
	StatusValidating:   60,
	StatusHighlighting: 80,
	StatusStoring:      90,
	StatusCompleted:    100,
	StatusFailed:       0, // progress freezes at its last value on failure
}

// Terminal reports whether no further transitions are allowed from s.
func Terminal(s Status) bool {
	return s == StatusCompleted || s == StatusFailed
}

// Next returns the successor of s on the stage path, or "" when s is
// terminal or unknown.
func Next(s Status) Status {
	for i, st := range stageOrder {
		if st == s && i+1 < len(stageOrder) {
			return stageOrder[i+1]
		}
	}
	return ""
}

// ValidStatus reports whether s is a known lifecycle state.
func ValidStatus(s Status) bool {
	if s == StatusFailed {
		return true
	}
	for _, st := range stageOrder {
		if st == s {
			return true
		}
	}
	return false
}

// Transaction is the lifecycle record of one document extraction.
type Transaction struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Format   string `json:"format,omitempty"`
	FileSize int64  `json:"file_size,omitempty"`
	Status   Status `json:"status"`
	Progress int    `json:"progress"`
	Error    string `json:"error,omitempty"`

	PageCount    int    `json:"page_count,omitempty"`
	ElementCount int    `json:"element_count,omitempty"`
	CreatedAt    int64  `json:"created_at"`
	UpdatedAt    int64  `json:"updated_at"`
	CompletedAt  *int64 `json:"completed_at,omitempty"`
}
