// Package extraction is the public surface of the document extraction
// system: upload, status polling, results, groundings, corrections and
// deletion, over the tracker/vault/pipeline internals.
package extraction

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/hazyhaar/docground/docparse"
	"github.com/hazyhaar/docground/pipeline"
	"github.com/hazyhaar/docground/raster"
	"github.com/hazyhaar/docground/tracker"
	"github.com/hazyhaar/docground/vault"
)

// Schema is everything the service persists.
const Schema = tracker.Schema + vault.Schema

// Config tunes the service.
type Config struct {
	// DataDir is the root of per-transaction file namespaces.
	DataDir string
	// MaxFileSize caps uploads in bytes. Default 50 MiB.
	MaxFileSize int64
	// MaxConcurrent bounds simultaneously processing transactions.
	// Default 4.
	MaxConcurrent int

	Pipeline pipeline.Config
	Parser   docparse.Parser // default docparse.New
	Renderer raster.Renderer // default raster.PageRenderer
	Logger   *slog.Logger
}

func (c *Config) defaults() {
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = 50 << 20
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 4
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Parser == nil {
		c.Parser = docparse.New(docparse.Config{MaxFileSize: c.MaxFileSize, Logger: c.Logger})
	}
	if c.Renderer == nil {
		c.Renderer = &raster.PageRenderer{}
	}
}

// Service orchestrates the extraction pipeline and owns all access to
// transactions, elements and corrections.
type Service struct {
	cfg      Config
	tracker  *tracker.Store
	vault    *vault.Vault
	renderer raster.Renderer
	logger   *slog.Logger

	sem chan struct{} // bounds concurrent pipeline runs
	wg  sync.WaitGroup

	mu    sync.Mutex
	locks map[string]*sync.Mutex // per-transaction writer lock
}

// New creates a Service over an opened database (Schema must be applied).
func New(db *sql.DB, cfg Config) *Service {
	cfg.defaults()
	return &Service{
		cfg:      cfg,
		tracker:  tracker.NewStore(db),
		vault:    vault.New(db, cfg.DataDir),
		renderer: cfg.Renderer,
		logger:   cfg.Logger,
		sem:      make(chan struct{}, cfg.MaxConcurrent),
		locks:    make(map[string]*sync.Mutex),
	}
}

// lock returns the per-transaction writer mutex, creating it on first use.
// Single writer per transaction; readers go straight to the stores.
func (s *Service) lock(txnID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.locks[txnID]
	if !ok {
		m = &sync.Mutex{}
		s.locks[txnID] = m
	}
	return m
}

func (s *Service) dropLock(txnID string) {
	s.mu.Lock()
	delete(s.locks, txnID)
	s.mu.Unlock()
}

// Upload validates and stores a document, creates its transaction and
// launches the pipeline in the background. The returned transaction is
// in pending; clients poll Status.
func (s *Service) Upload(ctx context.Context, filename string, size int64, r io.Reader) (*tracker.Transaction, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: empty upload", ErrInvalidInput)
	}
	if size > s.cfg.MaxFileSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds the %d byte limit",
			ErrInvalidInput, size, s.cfg.MaxFileSize)
	}
	format, err := docparse.DetectFormat(filename, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	txn, err := s.tracker.Create(ctx, filename, string(format), size)
	if err != nil {
		if errors.Is(err, tracker.ErrInvalidInput) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return nil, err
	}

	docPath, err := s.vault.SaveUpload(txn.ID, filename, io.LimitReader(r, s.cfg.MaxFileSize))
	if err != nil {
		if ferr := s.tracker.Fail(ctx, txn.ID, fmt.Sprintf("upload: %v", err)); ferr != nil {
			s.logger.Error("recording upload failure", "transaction", txn.ID, "error", ferr)
		}
		return nil, err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.sem <- struct{}{}
		defer func() { <-s.sem }()

		l := s.lock(txn.ID)
		l.Lock()
		defer l.Unlock()

		runner := &pipeline.Runner{
			Tracker: s.tracker,
			Vault:   s.vault,
			Parser:  s.cfg.Parser,
			Config:  s.cfg.Pipeline,
			Logger:  s.logger,
		}
		// Detached from the request context: the upload response has
		// long been sent by the time stages run.
		if err := runner.Run(context.Background(), txn.ID, docPath); err != nil {
			s.logger.Warn("pipeline run ended with failure", "transaction", txn.ID, "error", err)
		}
	}()

	return txn, nil
}

// Status returns the lifecycle snapshot of one transaction.
func (s *Service) Status(ctx context.Context, txnID string) (*tracker.Transaction, error) {
	txn, err := s.tracker.Get(ctx, txnID)
	if errors.Is(err, tracker.ErrNotFound) {
		return nil, ErrNotFound
	}
	return txn, err
}

// Delete removes a transaction and all its artifacts. It waits for a
// running pipeline stage or correction to release the writer lock; it
// never preempts one mid-stage.
func (s *Service) Delete(ctx context.Context, txnID string) error {
	l := s.lock(txnID)
	l.Lock()
	defer l.Unlock()

	err := s.tracker.Delete(ctx, txnID)
	if errors.Is(err, tracker.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if err := s.vault.DeleteTransaction(ctx, txnID); err != nil {
		return err
	}
	s.dropLock(txnID)
	return nil
}

// Wait blocks until all background pipeline runs have finished. Used on
// shutdown so in-flight transactions reach a terminal state.
func (s *Service) Wait() {
	s.wg.Wait()
}
