package extraction

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/docground/dbopen"
	"github.com/hazyhaar/docground/ground"
	"github.com/hazyhaar/docground/tracker"
	"github.com/hazyhaar/docground/vault"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	return New(db, Config{DataDir: t.TempDir(), MaxConcurrent: 2})
}

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// uploadAndWait uploads a document and blocks until its pipeline run
// reaches a terminal state.
func uploadAndWait(t *testing.T, s *Service, name string, data []byte) *tracker.Transaction {
	t.Helper()
	ctx := context.Background()
	txn, err := s.Upload(ctx, name, int64(len(data)), bytes.NewReader(data))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	s.Wait()
	got, err := s.Status(ctx, txn.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	return got
}

func TestUploadLifecycle(t *testing.T) {
	s := newTestService(t)
	got := uploadAndWait(t, s, "scan.png", testPNG(t, 320, 200))

	if got.Status != tracker.StatusCompleted {
		t.Fatalf("final status: %s (%s)", got.Status, got.Error)
	}
	if got.Progress != 100 || got.PageCount != 1 {
		t.Errorf("completed transaction: %+v", got)
	}
}

func TestUploadRejects(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	if _, err := s.Upload(ctx, "notes.docx", 10, bytes.NewReader([]byte("x"))); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("unsupported extension: %v", err)
	}
	if _, err := s.Upload(ctx, "a.pdf", 0, bytes.NewReader(nil)); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("empty upload: %v", err)
	}
	big := s.cfg.MaxFileSize + 1
	if _, err := s.Upload(ctx, "a.pdf", big, bytes.NewReader([]byte("x"))); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("oversized upload: %v", err)
	}
}

func TestUploadCorrupt(t *testing.T) {
	// WHAT: A file with a PDF name but garbage bytes fails in parsing,
	// not at upload time.
	s := newTestService(t)
	got := uploadAndWait(t, s, "broken.pdf", []byte("%PDF-not really a pdf"))

	if got.Status != tracker.StatusFailed {
		t.Fatalf("status: %s", got.Status)
	}
	if got.Error == "" {
		t.Error("failed transaction without error message")
	}
}

func TestResultGating(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	if _, err := s.Result(ctx, "txn_missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing transaction: %v", err)
	}

	got := uploadAndWait(t, s, "scan.png", testPNG(t, 100, 100))
	res, err := s.Result(ctx, got.ID)
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	if res.StructuredData.Summary.Pages != 1 || res.StructuredData.Summary.TotalElements < 1 {
		t.Errorf("summary: %+v", res.StructuredData.Summary)
	}
	if res.Metadata.Filename != "scan.png" {
		t.Errorf("metadata: %+v", res.Metadata)
	}
	if len(res.StructuredData.ElementsByPage[1]) == 0 {
		t.Errorf("elements_by_page: %+v", res.StructuredData.ElementsByPage)
	}

	failed := uploadAndWait(t, s, "broken.pdf", []byte("garbage"))
	if _, err := s.Result(ctx, failed.ID); !errors.Is(err, ErrNotCompleted) {
		t.Errorf("result of failed transaction: %v", err)
	}
}

func TestGroundingWithCrop(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	got := uploadAndWait(t, s, "scan.png", testPNG(t, 200, 100))

	res, err := s.Result(ctx, got.ID)
	if err != nil {
		t.Fatal(err)
	}
	var target *ground.Element
	for _, e := range res.ExtractedElements {
		if e.Type == ground.TypeImage {
			target = e
		}
	}
	if target == nil {
		t.Fatal("no image element in result")
	}

	info, err := s.Grounding(ctx, got.ID, target.ID, true)
	if err != nil {
		t.Fatalf("grounding: %v", err)
	}
	if info.Grounding == nil || info.Grounding.Page != 1 {
		t.Errorf("grounding: %+v", info.Grounding)
	}
	if info.CropPNG == "" {
		t.Error("crop requested but empty")
	}

	// Second call hits the cache and returns the same bytes.
	again, err := s.Grounding(ctx, got.ID, target.ID, true)
	if err != nil {
		t.Fatal(err)
	}
	if again.CropPNG != info.CropPNG {
		t.Error("cached crop differs from first render")
	}

	if _, err := s.Grounding(ctx, got.ID, "el_ghost", false); !errors.Is(err, ErrElementNotFound) {
		t.Errorf("unknown element: %v", err)
	}
}

func TestPageImage(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	got := uploadAndWait(t, s, "scan.png", testPNG(t, 64, 64))

	img, err := s.PageImage(ctx, got.ID, 1)
	if err != nil || img == "" {
		t.Fatalf("page image: %q, %v", img, err)
	}
	if _, err := s.PageImage(ctx, got.ID, 9); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("out-of-range page: %v", err)
	}
	if _, err := s.PageImage(ctx, "txn_missing", 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing transaction: %v", err)
	}
}

func TestCorrectAndLog(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	got := uploadAndWait(t, s, "scan.png", testPNG(t, 100, 100))

	res, err := s.Result(ctx, got.ID)
	if err != nil {
		t.Fatal(err)
	}
	var img *ground.Element
	for _, e := range res.ExtractedElements {
		if e.Type == ground.TypeImage {
			img = e
		}
	}

	updated, failed, err := s.Correct(ctx, got.ID, []vault.CorrectionRequest{
		{ElementID: img.ID, Content: ground.TextContent("site plan, north elevation"), Note: "describe"},
	})
	if err != nil || len(failed) != 0 {
		t.Fatalf("correct: %v (%v)", err, failed)
	}
	if updated.StructuredData.Summary.ValidatedElements < 1 {
		t.Errorf("summary after correction: %+v", updated.StructuredData.Summary)
	}

	log, err := s.Corrections(ctx, got.ID, img.ID)
	if err != nil || len(log) != 1 {
		t.Fatalf("log: %d, %v", len(log), err)
	}

	// Batch with one unknown ID applies nothing.
	_, failed, err = s.Correct(ctx, got.ID, []vault.CorrectionRequest{
		{ElementID: img.ID, Content: ground.TextContent("other")},
		{ElementID: "el_ghost", Content: ground.TextContent("x")},
	})
	if !errors.Is(err, ErrElementNotFound) || len(failed) != 1 || failed[0] != "el_ghost" {
		t.Errorf("atomic batch: err=%v failed=%v", err, failed)
	}
	log, _ = s.Corrections(ctx, got.ID, img.ID)
	if len(log) != 1 {
		t.Errorf("log grew after rejected batch: %d", len(log))
	}
}

func TestCorrectRequiresCompleted(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	got := uploadAndWait(t, s, "broken.pdf", []byte("garbage"))

	_, _, err := s.Correct(ctx, got.ID, []vault.CorrectionRequest{
		{ElementID: "el_x", Content: ground.TextContent("y")},
	})
	if !errors.Is(err, ErrNotCompleted) {
		t.Errorf("correct on failed transaction: %v", err)
	}
}

func TestDelete(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	got := uploadAndWait(t, s, "scan.png", testPNG(t, 50, 50))

	if err := s.Delete(ctx, got.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Status(ctx, got.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("status after delete: %v", err)
	}
	if err := s.Delete(ctx, got.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: %v", err)
	}
}
