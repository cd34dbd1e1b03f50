// Package vault persists extraction results: the element hierarchy and
// correction log in SQLite, plus a per-transaction file namespace for the
// raw upload and cached crops. Deleting a transaction removes all of it.
package vault

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hazyhaar/docground/ground"
	"github.com/hazyhaar/docground/idgen"
)

var (
	ErrNotFound        = errors.New("vault: not found")
	ErrElementNotFound = errors.New("vault: element not found")
	ErrInvalidInput    = errors.New("vault: invalid input")
)

// Schema holds the element hierarchy and the append-only correction log.
const Schema = `
CREATE TABLE IF NOT EXISTS elements (
    transaction_id TEXT NOT NULL,
    id             TEXT NOT NULL,
    type           TEXT NOT NULL,
    content_json   TEXT NOT NULL,
    confidence     REAL NOT NULL DEFAULT 0,
    validated      INTEGER NOT NULL DEFAULT 0,
    page           INTEGER,
    box_x          REAL, box_y REAL, box_w REAL, box_h REAL,
    crop_path      TEXT NOT NULL DEFAULT '',
    parent_id      TEXT NOT NULL DEFAULT '',
    caption_of     TEXT NOT NULL DEFAULT '',
    flags_json     TEXT NOT NULL DEFAULT '[]',
    position       INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (transaction_id, id)
);
CREATE INDEX IF NOT EXISTS idx_elements_txn ON elements(transaction_id, position);

CREATE TABLE IF NOT EXISTS corrections (
    id             TEXT PRIMARY KEY,
    transaction_id TEXT NOT NULL,
    element_id     TEXT NOT NULL,
    content_json   TEXT NOT NULL,
    note           TEXT NOT NULL DEFAULT '',
    created_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_corrections_element ON corrections(transaction_id, element_id, created_at);
`

// Vault wraps the results database and the on-disk file namespace root.
type Vault struct {
	DB    *sql.DB
	Root  string // directory holding one subdirectory per transaction
	NewID idgen.Generator
}

// New creates a Vault rooted at dir.
func New(db *sql.DB, dir string) *Vault {
	return &Vault{DB: db, Root: dir, NewID: idgen.Correction}
}

// Dir returns the file namespace of one transaction.
func (v *Vault) Dir(txnID string) string {
	return filepath.Join(v.Root, txnID)
}

// SaveUpload streams the raw upload into the transaction namespace and
// returns the stored path. The original extension is kept so renderers
// can dispatch on it.
func (v *Vault) SaveUpload(txnID, filename string, r io.Reader) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return "", fmt.Errorf("%w: filename without extension", ErrInvalidInput)
	}
	dir := v.Dir(txnID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("vault: mkdir namespace: %w", err)
	}
	path := filepath.Join(dir, "document"+ext)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("vault: create upload: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("vault: write upload: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("vault: close upload: %w", err)
	}
	return path, nil
}

// DocumentPath locates the stored upload for a transaction.
func (v *Vault) DocumentPath(txnID string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(v.Dir(txnID), "document.*"))
	if err != nil || len(matches) == 0 {
		return "", fmt.Errorf("%w: no document for %s", ErrNotFound, txnID)
	}
	return matches[0], nil
}

// CropPath returns the cache location for one element's crop.
func (v *Vault) CropPath(txnID, elementID string, page int) string {
	return filepath.Join(v.Dir(txnID), "crops", fmt.Sprintf("%s_p%d.png", elementID, page))
}

// SaveCrop writes crop bytes to the cache location and returns the path.
func (v *Vault) SaveCrop(txnID, elementID string, page int, data []byte) (string, error) {
	path := v.CropPath(txnID, elementID, page)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("vault: mkdir crops: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("vault: write crop: %w", err)
	}
	return path, nil
}

// SaveElements replaces the stored hierarchy of a transaction in one
// database transaction. Slice order is the reading order.
func (v *Vault) SaveElements(ctx context.Context, txnID string, elements []*ground.Element) error {
	if err := ground.ValidateForest(elements); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	tx, err := v.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("vault: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM elements WHERE transaction_id = ?`, txnID); err != nil {
		return fmt.Errorf("vault: clear elements: %w", err)
	}
	for i, e := range elements {
		if err := insertElement(ctx, tx, txnID, e, i); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("vault: commit: %w", err)
	}
	return nil
}

func insertElement(ctx context.Context, tx *sql.Tx, txnID string, e *ground.Element, pos int) error {
	contentJSON, err := ground.MarshalContent(e.Content)
	if err != nil {
		return err
	}
	flagsJSON, err := json.Marshal(e.Flags)
	if err != nil {
		return fmt.Errorf("vault: marshal flags: %w", err)
	}

	var page any
	var bx, by, bw, bh any
	var cropPath string
	if e.Grounding != nil {
		page = e.Grounding.Page
		bx, by = e.Grounding.Box.X, e.Grounding.Box.Y
		bw, bh = e.Grounding.Box.Width, e.Grounding.Box.Height
		cropPath = e.Grounding.CropPath
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO elements (transaction_id, id, type, content_json, confidence,
		validated, page, box_x, box_y, box_w, box_h, crop_path, parent_id,
		caption_of, flags_json, position)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		txnID, e.ID, e.Type, contentJSON, e.Confidence,
		e.Validated, page, bx, by, bw, bh, cropPath, e.ParentID,
		e.CaptionOf, string(flagsJSON), pos,
	)
	if err != nil {
		return fmt.Errorf("vault: insert element %s: %w", e.ID, err)
	}
	return nil
}

// Elements loads the full hierarchy of a transaction in reading order,
// with child lists rebuilt from parent references.
func (v *Vault) Elements(ctx context.Context, txnID string) ([]*ground.Element, error) {
	rows, err := v.DB.QueryContext(ctx,
		`SELECT id, type, content_json, confidence, validated, page,
		box_x, box_y, box_w, box_h, crop_path, parent_id, caption_of, flags_json
		FROM elements WHERE transaction_id = ? ORDER BY position`, txnID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var elements []*ground.Element
	for rows.Next() {
		e, err := scanElement(rows)
		if err != nil {
			return nil, err
		}
		elements = append(elements, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(elements) == 0 {
		return nil, fmt.Errorf("%w: no elements for %s", ErrNotFound, txnID)
	}

	idx := ground.Index(elements)
	for _, e := range elements {
		if e.ParentID != "" {
			if p, ok := idx[e.ParentID]; ok {
				p.Children = append(p.Children, e.ID)
			}
		}
	}
	return elements, nil
}

// Element loads a single element by ID. Children are not populated.
func (v *Vault) Element(ctx context.Context, txnID, elementID string) (*ground.Element, error) {
	row := v.DB.QueryRowContext(ctx,
		`SELECT id, type, content_json, confidence, validated, page,
		box_x, box_y, box_w, box_h, crop_path, parent_id, caption_of, flags_json
		FROM elements WHERE transaction_id = ? AND id = ?`, txnID, elementID)
	e, err := scanElement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrElementNotFound, elementID)
	}
	return e, err
}

// DeleteTransaction removes the element rows, correction rows and the
// file namespace. Row deletion commits before files go; a crash between
// the two leaves only orphan files, never orphan rows.
func (v *Vault) DeleteTransaction(ctx context.Context, txnID string) error {
	tx, err := v.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("vault: begin: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM elements WHERE transaction_id = ?`, txnID); err != nil {
		return fmt.Errorf("vault: delete elements: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM corrections WHERE transaction_id = ?`, txnID); err != nil {
		return fmt.Errorf("vault: delete corrections: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("vault: commit: %w", err)
	}
	if err := os.RemoveAll(v.Dir(txnID)); err != nil {
		return fmt.Errorf("vault: remove namespace: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanElement(row scanner) (*ground.Element, error) {
	var e ground.Element
	var contentJSON, flagsJSON string
	var page sql.NullInt64
	var bx, by, bw, bh sql.NullFloat64
	var cropPath string

	err := row.Scan(&e.ID, &e.Type, &contentJSON, &e.Confidence, &e.Validated,
		&page, &bx, &by, &bw, &bh, &cropPath, &e.ParentID, &e.CaptionOf, &flagsJSON)
	if err != nil {
		return nil, err
	}

	if e.Content, err = ground.UnmarshalContent(contentJSON); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(flagsJSON), &e.Flags); err != nil {
		return nil, fmt.Errorf("vault: unmarshal flags: %w", err)
	}
	if page.Valid {
		e.Grounding = &ground.Grounding{
			Page: int(page.Int64),
			Box: ground.BoundingBox{
				X: bx.Float64, Y: by.Float64,
				Width: bw.Float64, Height: bh.Float64,
			},
			CropPath: cropPath,
		}
	}
	return &e, nil
}
