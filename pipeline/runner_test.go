package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/docground/dbopen"
	"github.com/hazyhaar/docground/docparse"
	"github.com/hazyhaar/docground/ground"
	"github.com/hazyhaar/docground/tracker"
	"github.com/hazyhaar/docground/vault"
)

type fakeParser struct {
	doc *docparse.Document
	err error
}

func (f *fakeParser) Parse(ctx context.Context, path string) (*docparse.Document, error) {
	return f.doc, f.err
}

func newTestRunner(t *testing.T, p docparse.Parser) (*Runner, *tracker.Store, *vault.Vault) {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(tracker.Schema), dbopen.WithSchema(vault.Schema))
	ts := tracker.NewStore(db)
	v := vault.New(db, t.TempDir())
	return &Runner{Tracker: ts, Vault: v, Parser: p}, ts, v
}

func TestRunnerHappyPath(t *testing.T) {
	// WHAT: A two-page document (table on p1, paragraph on p2) runs the
	// full stage path: one page root per page, table rows as children,
	// completed with final counts.
	r, ts, v := newTestRunner(t, &fakeParser{doc: twoPageDoc()})
	ctx := context.Background()

	txn, err := ts.Create(ctx, "doc.pdf", "pdf", 1000)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Run(ctx, txn.ID, "/ignored/by/fake.pdf"); err != nil {
		t.Fatalf("run: %v", err)
	}

	got, err := ts.Get(ctx, txn.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != tracker.StatusCompleted || got.Progress != 100 {
		t.Fatalf("final state: %+v", got)
	}
	if got.PageCount != 2 {
		t.Errorf("page count: %d", got.PageCount)
	}

	els, err := v.Elements(ctx, txn.ID)
	if err != nil {
		t.Fatal(err)
	}
	if err := ground.ValidateForest(els); err != nil {
		t.Errorf("stored forest: %v", err)
	}

	idx := ground.Index(els)
	var pages, tables, texts int
	for _, e := range els {
		switch e.Type {
		case ground.TypePage:
			pages++
		case ground.TypeTable:
			tables++
			if len(e.Children) != 2 {
				t.Errorf("table rows: %d", len(e.Children))
			}
			for _, id := range e.Children {
				if idx[id].ParentID != e.ID {
					t.Errorf("row %s parent: %s", id, idx[id].ParentID)
				}
			}
		case ground.TypeText:
			texts++
		}
	}
	if pages != 2 || tables != 1 || texts < 3 {
		t.Errorf("pages=%d tables=%d texts=%d", pages, tables, texts)
	}
	if got.ElementCount != len(els) {
		t.Errorf("element count: %d, stored %d", got.ElementCount, len(els))
	}
}

func TestRunnerParseFailure(t *testing.T) {
	// WHAT: A corrupt upload moves pending → parsing → failed with the
	// stage recorded and progress frozen at the parsing value.
	r, ts, _ := newTestRunner(t, &fakeParser{err: errors.New("corrupt xref table")})
	ctx := context.Background()

	txn, _ := ts.Create(ctx, "broken.pdf", "pdf", 10)
	if err := r.Run(ctx, txn.ID, "/x.pdf"); err == nil {
		t.Fatal("run succeeded on corrupt input")
	}

	got, _ := ts.Get(ctx, txn.ID)
	if got.Status != tracker.StatusFailed {
		t.Fatalf("status: %s", got.Status)
	}
	if !strings.HasPrefix(got.Error, "parsing:") {
		t.Errorf("error message: %q, want stage prefix", got.Error)
	}
	if got.Progress != 20 {
		t.Errorf("progress: %d, want frozen at 20", got.Progress)
	}
}

func TestRunnerFailureIsolation(t *testing.T) {
	// WHY: A failed transaction must not disturb a concurrent healthy one.
	rBad, ts, _ := newTestRunner(t, &fakeParser{err: errors.New("boom")})
	rGood := &Runner{Tracker: ts, Vault: rBad.Vault, Parser: &fakeParser{doc: twoPageDoc()}}
	ctx := context.Background()

	bad, _ := ts.Create(ctx, "bad.pdf", "pdf", 1)
	good, _ := ts.Create(ctx, "good.pdf", "pdf", 1)

	done := make(chan error, 2)
	go func() { done <- rBad.Run(ctx, bad.ID, "") }()
	go func() { done <- rGood.Run(ctx, good.ID, "") }()
	<-done
	<-done

	gotBad, _ := ts.Get(ctx, bad.ID)
	gotGood, _ := ts.Get(ctx, good.ID)
	if gotBad.Status != tracker.StatusFailed {
		t.Errorf("bad: %s", gotBad.Status)
	}
	if gotGood.Status != tracker.StatusCompleted {
		t.Errorf("good: %s", gotGood.Status)
	}
}
