package vault

import (
	"context"
	"fmt"
	"time"

	"github.com/hazyhaar/docground/ground"
)

// CorrectionRequest is one element rewrite submitted by a client.
type CorrectionRequest struct {
	ElementID string         `json:"element_id"`
	Content   ground.Content `json:"content"`
	Note      string         `json:"note,omitempty"`
}

// Correction is one row of the append-only correction log.
type Correction struct {
	ID            string         `json:"id"`
	TransactionID string         `json:"transaction_id"`
	ElementID     string         `json:"element_id"`
	Content       ground.Content `json:"content"`
	Note          string         `json:"note,omitempty"`
	CreatedAt     int64          `json:"created_at"`
}

// ApplyCorrections applies a batch of corrections atomically. If any
// target element does not exist, nothing is applied and the full list of
// failing IDs is returned with ErrElementNotFound. Every applied
// correction replaces the element content, marks it validated, lifts its
// confidence to 1.0 and appends a log row — identical resubmissions leave
// the content unchanged but still log.
func (v *Vault) ApplyCorrections(ctx context.Context, txnID string, reqs []CorrectionRequest) ([]*Correction, []string, error) {
	if len(reqs) == 0 {
		return nil, nil, fmt.Errorf("%w: empty correction batch", ErrInvalidInput)
	}

	elements, err := v.Elements(ctx, txnID)
	if err != nil {
		return nil, nil, err
	}
	idx := ground.Index(elements)

	var failed []string
	for _, r := range reqs {
		if _, ok := idx[r.ElementID]; !ok {
			failed = append(failed, r.ElementID)
		}
	}
	if len(failed) > 0 {
		return nil, failed, fmt.Errorf("%w: %d unknown element(s)", ErrElementNotFound, len(failed))
	}

	for _, r := range reqs {
		if err := r.Content.Validate(); err != nil {
			return nil, nil, fmt.Errorf("%w: element %s: %v", ErrInvalidInput, r.ElementID, err)
		}
		el := idx[r.ElementID]
		if el.Type == ground.TypePage {
			return nil, nil, fmt.Errorf("%w: element %s is a page container", ErrInvalidInput, r.ElementID)
		}
		want := ground.KindText
		if el.Type == ground.TypeTable {
			want = ground.KindTable
		}
		if r.Content.Kind != want {
			return nil, nil, fmt.Errorf("%w: element %s (%s) cannot take %s content",
				ErrInvalidInput, r.ElementID, el.Type, r.Content.Kind)
		}
	}

	tx, err := v.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("vault: begin: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UnixMilli()
	var applied []*Correction
	touched := map[string]bool{}

	for _, r := range reqs {
		el := idx[r.ElementID]
		el.Content = r.Content
		el.Validated = true
		el.Confidence = 1.0 // human-verified

		contentJSON, err := ground.MarshalContent(el.Content)
		if err != nil {
			return nil, nil, err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE elements SET content_json=?, validated=1, confidence=1.0
			WHERE transaction_id=? AND id=?`,
			contentJSON, txnID, el.ID); err != nil {
			return nil, nil, fmt.Errorf("vault: update element %s: %w", el.ID, err)
		}

		cor := &Correction{
			ID:            v.NewID(),
			TransactionID: txnID,
			ElementID:     r.ElementID,
			Content:       r.Content,
			Note:          r.Note,
			CreatedAt:     now,
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO corrections (id, transaction_id, element_id, content_json, note, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			cor.ID, txnID, cor.ElementID, contentJSON, cor.Note, cor.CreatedAt); err != nil {
			return nil, nil, fmt.Errorf("vault: append correction: %w", err)
		}
		applied = append(applied, cor)

		for _, anc := range ground.Ancestors(idx, el.ID) {
			touched[anc] = true
		}
	}

	// Ancestor aggregate: minimum confidence over grounded descendants.
	for ancID := range touched {
		minConf := 1.0
		seen := false
		for _, d := range ground.Descendants(idx, ancID) {
			if d.Grounding == nil {
				continue
			}
			seen = true
			if d.Confidence < minConf {
				minConf = d.Confidence
			}
		}
		if !seen {
			continue
		}
		idx[ancID].Confidence = minConf
		if _, err := tx.ExecContext(ctx,
			`UPDATE elements SET confidence=? WHERE transaction_id=? AND id=?`,
			minConf, txnID, ancID); err != nil {
			return nil, nil, fmt.Errorf("vault: update ancestor %s: %w", ancID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("vault: commit: %w", err)
	}
	return applied, nil, nil
}

// Corrections returns the correction log for one element, oldest first.
// An empty elementID returns the whole transaction log.
func (v *Vault) Corrections(ctx context.Context, txnID, elementID string) ([]*Correction, error) {
	q := `SELECT id, transaction_id, element_id, content_json, note, created_at
		FROM corrections WHERE transaction_id = ?`
	args := []any{txnID}
	if elementID != "" {
		q += ` AND element_id = ?`
		args = append(args, elementID)
	}
	q += ` ORDER BY created_at, id`

	rows, err := v.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Correction
	for rows.Next() {
		var c Correction
		var contentJSON string
		if err := rows.Scan(&c.ID, &c.TransactionID, &c.ElementID, &contentJSON, &c.Note, &c.CreatedAt); err != nil {
			return nil, err
		}
		if c.Content, err = ground.UnmarshalContent(contentJSON); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}
