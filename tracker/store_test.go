package tracker

import (
	"context"
	"errors"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/docground/dbopen"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	return NewStore(db)
}

func TestCreateAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	txn, err := s.Create(ctx, "report.pdf", "pdf", 1024)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if txn.Status != StatusPending || txn.Progress != 0 {
		t.Errorf("new transaction: %+v", txn)
	}

	got, err := s.Get(ctx, txn.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Filename != "report.pdf" || got.Format != "pdf" {
		t.Errorf("round trip: %+v", got)
	}

	if _, err := s.Get(ctx, "txn_missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing id: %v", err)
	}
	if _, err := s.Create(ctx, "", "pdf", 10); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("empty filename: %v", err)
	}
}

func TestAdvanceFullPath(t *testing.T) {
	// WHAT: A transaction walks the full stage path with monotonically
	// increasing progress and lands on completed with a timestamp.
	s := openTestStore(t)
	ctx := context.Background()

	txn, err := s.Create(ctx, "doc.pdf", "pdf", 2048)
	if err != nil {
		t.Fatal(err)
	}

	path := []Status{StatusParsing, StatusStructuring, StatusValidating,
		StatusHighlighting, StatusStoring, StatusCompleted}
	lastProgress := 0
	for _, next := range path {
		if err := s.Advance(ctx, txn.ID, next); err != nil {
			t.Fatalf("advance to %s: %v", next, err)
		}
		got, err := s.Get(ctx, txn.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != next {
			t.Errorf("status after advance: %s, want %s", got.Status, next)
		}
		if got.Progress < lastProgress {
			t.Errorf("progress decreased: %d -> %d at %s", lastProgress, got.Progress, next)
		}
		lastProgress = got.Progress
	}

	got, _ := s.Get(ctx, txn.ID)
	if got.Progress != 100 || got.CompletedAt == nil {
		t.Errorf("completed transaction: %+v", got)
	}
}

func TestAdvanceRejectsSkips(t *testing.T) {
	// WHY: The stage sequence is fixed; skipping a stage would report
	// progress for work that never ran.
	s := openTestStore(t)
	ctx := context.Background()

	txn, _ := s.Create(ctx, "doc.pdf", "pdf", 2048)

	if err := s.Advance(ctx, txn.ID, StatusValidating); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("skip pending->validating: %v", err)
	}
	if err := s.Advance(ctx, txn.ID, StatusPending); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("advance to pending: %v", err)
	}
	if err := s.Advance(ctx, txn.ID, StatusFailed); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("advance to failed: %v", err)
	}
	if err := s.Advance(ctx, "txn_missing", StatusParsing); !errors.Is(err, ErrNotFound) {
		t.Errorf("advance missing: %v", err)
	}
}

func TestFail(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	txn, _ := s.Create(ctx, "doc.pdf", "pdf", 2048)
	if err := s.Advance(ctx, txn.ID, StatusParsing); err != nil {
		t.Fatal(err)
	}
	if err := s.Fail(ctx, txn.ID, "parse error: corrupt xref"); err != nil {
		t.Fatalf("fail: %v", err)
	}

	got, _ := s.Get(ctx, txn.ID)
	if got.Status != StatusFailed || got.Error == "" {
		t.Errorf("failed transaction: %+v", got)
	}
	if got.Progress != progressFor[StatusParsing] {
		t.Errorf("progress after failure: %d, want frozen at %d", got.Progress, progressFor[StatusParsing])
	}

	// Terminal states absorb: no further transitions allowed.
	if err := s.Fail(ctx, txn.ID, "again"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("fail a failed transaction: %v", err)
	}
	if err := s.Advance(ctx, txn.ID, StatusStructuring); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("advance a failed transaction: %v", err)
	}
}

func TestFailAfterComplete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	txn, _ := s.Create(ctx, "doc.pdf", "pdf", 2048)
	for _, next := range []Status{StatusParsing, StatusStructuring, StatusValidating,
		StatusHighlighting, StatusStoring, StatusCompleted} {
		if err := s.Advance(ctx, txn.ID, next); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Fail(ctx, txn.ID, "too late"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("fail a completed transaction: %v", err)
	}
}

func TestSetCountsAndDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	txn, _ := s.Create(ctx, "doc.pdf", "pdf", 2048)
	if err := s.SetCounts(ctx, txn.ID, 3, 42); err != nil {
		t.Fatalf("set counts: %v", err)
	}
	got, _ := s.Get(ctx, txn.ID)
	if got.PageCount != 3 || got.ElementCount != 42 {
		t.Errorf("counts: %+v", got)
	}

	if err := s.Delete(ctx, txn.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, txn.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("get after delete: %v", err)
	}
	if err := s.Delete(ctx, txn.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("double delete: %v", err)
	}
}

func TestList(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"a.pdf", "b.png", "c.pdf"} {
		if _, err := s.Create(ctx, name, "", 1); err != nil {
			t.Fatal(err)
		}
	}
	txns, err := s.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(txns) != 3 {
		t.Errorf("list length: %d", len(txns))
	}
}
