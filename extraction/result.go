package extraction

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"

	"github.com/hazyhaar/docground/ground"
	"github.com/hazyhaar/docground/raster"
	"github.com/hazyhaar/docground/tracker"
	"github.com/hazyhaar/docground/vault"
)

// Metadata describes the source document of a result.
type Metadata struct {
	Filename  string `json:"filename"`
	PageCount int    `json:"page_count"`
	FileSize  int64  `json:"file_size"`
}

// Summary aggregates the extracted hierarchy.
type Summary struct {
	TotalElements     int `json:"total_elements"`
	TextElements      int `json:"text_elements"`
	TableElements     int `json:"table_elements"`
	ValidatedElements int `json:"validated_elements"`
	Pages             int `json:"pages"`
}

// StructuredData groups elements for page-oriented consumers. Pages map
// to element IDs in reading order; the elements themselves live once in
// ExtractedElements.
type StructuredData struct {
	Summary        Summary          `json:"summary"`
	ElementsByPage map[int][]string `json:"elements_by_page"`
}

// Result is the full extraction output of a completed transaction.
type Result struct {
	TransactionID     string            `json:"transaction_id"`
	Metadata          Metadata          `json:"metadata"`
	ExtractedElements []*ground.Element `json:"extracted_elements"`
	StructuredData    StructuredData    `json:"structured_data"`
}

// GroundingInfo locates one element on its page, with an optional
// base64 PNG crop.
type GroundingInfo struct {
	ElementID string            `json:"element_id"`
	Grounding *ground.Grounding `json:"grounding"`
	CropPNG   string            `json:"crop_png,omitempty"` // base64
}

// Result assembles the extraction output. Only completed transactions
// have one; anything earlier returns ErrNotCompleted.
func (s *Service) Result(ctx context.Context, txnID string) (*Result, error) {
	txn, err := s.completed(ctx, txnID)
	if err != nil {
		return nil, err
	}
	els, err := s.vault.Elements(ctx, txnID)
	if err != nil {
		return nil, err
	}
	return buildResult(txn, els), nil
}

func buildResult(txn *tracker.Transaction, els []*ground.Element) *Result {
	sum := Summary{TotalElements: 0, Pages: txn.PageCount}
	byPage := make(map[int][]string)
	for _, e := range els {
		if e.Type == ground.TypePage {
			continue
		}
		sum.TotalElements++
		switch e.Type {
		case ground.TypeTable:
			sum.TableElements++
		case ground.TypeText, ground.TypeHeader:
			sum.TextElements++
		}
		if e.Validated {
			sum.ValidatedElements++
		}
		if e.Grounding != nil {
			byPage[e.Grounding.Page] = append(byPage[e.Grounding.Page], e.ID)
		}
	}
	return &Result{
		TransactionID:     txn.ID,
		Metadata:          Metadata{Filename: txn.Filename, PageCount: txn.PageCount, FileSize: txn.FileSize},
		ExtractedElements: els,
		StructuredData:    StructuredData{Summary: sum, ElementsByPage: byPage},
	}
}

// Grounding returns the page anchor of one element. With withCrop the
// response carries a base64 PNG crop, rendered once and cached in the
// transaction namespace.
func (s *Service) Grounding(ctx context.Context, txnID, elementID string, withCrop bool) (*GroundingInfo, error) {
	if _, err := s.completed(ctx, txnID); err != nil {
		return nil, err
	}
	el, err := s.vault.Element(ctx, txnID, elementID)
	if errors.Is(err, vault.ErrElementNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrElementNotFound, elementID)
	}
	if err != nil {
		return nil, err
	}
	if el.Grounding == nil {
		return nil, fmt.Errorf("%w: element %s has no grounding", ErrElementNotFound, elementID)
	}

	info := &GroundingInfo{ElementID: el.ID, Grounding: el.Grounding}
	if !withCrop {
		return info, nil
	}

	data, err := s.cropFor(ctx, txnID, el)
	if err != nil {
		return nil, err
	}
	info.CropPNG = data
	return info, nil
}

// cropFor returns the base64 crop for an element, producing and caching
// it on first use.
func (s *Service) cropFor(ctx context.Context, txnID string, el *ground.Element) (string, error) {
	cached := s.vault.CropPath(txnID, el.ID, el.Grounding.Page)
	if data, err := os.ReadFile(cached); err == nil {
		return base64.StdEncoding.EncodeToString(data), nil
	}

	docPath, err := s.vault.DocumentPath(txnID)
	if err != nil {
		return "", err
	}
	page, err := s.renderer.RenderPage(ctx, docPath, el.Grounding.Page)
	if err != nil {
		return "", fmt.Errorf("extraction: render page %d: %w", el.Grounding.Page, err)
	}
	crop, err := raster.Crop(page, el.Grounding.Box)
	if err != nil {
		return "", fmt.Errorf("extraction: crop %s: %w", el.ID, err)
	}
	data, err := raster.EncodePNG(crop)
	if err != nil {
		return "", err
	}
	if _, err := s.vault.SaveCrop(txnID, el.ID, el.Grounding.Page, data); err != nil {
		s.logger.Warn("crop cache write failed", "transaction", txnID, "element", el.ID, "error", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// PageImage renders one page of a transaction's document as base64 PNG.
func (s *Service) PageImage(ctx context.Context, txnID string, page int) (string, error) {
	txn, err := s.Status(ctx, txnID)
	if err != nil {
		return "", err
	}
	if page < 1 || (txn.PageCount > 0 && page > txn.PageCount) {
		return "", fmt.Errorf("%w: page %d out of range", ErrInvalidInput, page)
	}
	docPath, err := s.vault.DocumentPath(txnID)
	if errors.Is(err, vault.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	img, err := s.renderer.RenderPage(ctx, docPath, page)
	if err != nil {
		return "", fmt.Errorf("extraction: render page %d: %w", page, err)
	}
	return raster.EncodeBase64PNG(img)
}

// Correct applies a correction batch to a completed transaction and
// returns the refreshed result. All-or-nothing: unknown element IDs are
// returned alongside ErrElementNotFound and nothing is applied.
func (s *Service) Correct(ctx context.Context, txnID string, reqs []vault.CorrectionRequest) (*Result, []string, error) {
	txn, err := s.completed(ctx, txnID)
	if err != nil {
		return nil, nil, err
	}

	l := s.lock(txnID)
	l.Lock()
	defer l.Unlock()

	_, failed, err := s.vault.ApplyCorrections(ctx, txnID, reqs)
	if err != nil {
		switch {
		case errors.Is(err, vault.ErrElementNotFound):
			return nil, failed, fmt.Errorf("%w: %v", ErrElementNotFound, err)
		case errors.Is(err, vault.ErrInvalidInput):
			return nil, nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		case errors.Is(err, vault.ErrNotFound):
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}

	els, err := s.vault.Elements(ctx, txnID)
	if err != nil {
		return nil, nil, err
	}
	return buildResult(txn, els), nil, nil
}

// Corrections returns the correction log for one element (or the whole
// transaction when elementID is empty), oldest first.
func (s *Service) Corrections(ctx context.Context, txnID, elementID string) ([]*vault.Correction, error) {
	if _, err := s.Status(ctx, txnID); err != nil {
		return nil, err
	}
	return s.vault.Corrections(ctx, txnID, elementID)
}

func (s *Service) completed(ctx context.Context, txnID string) (*tracker.Transaction, error) {
	txn, err := s.Status(ctx, txnID)
	if err != nil {
		return nil, err
	}
	if txn.Status != tracker.StatusCompleted {
		return nil, fmt.Errorf("%w: status is %s", ErrNotCompleted, txn.Status)
	}
	return txn, nil
}
