package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/docground/docparse"
	"github.com/hazyhaar/docground/tracker"
	"github.com/hazyhaar/docground/vault"
)

// Runner drives one transaction through the stage sequence. Stages are
// strictly sequential; any stage error moves the transaction to failed
// with the stage name in the message and stops.
type Runner struct {
	Tracker *tracker.Store
	Vault   *vault.Vault
	Parser  docparse.Parser
	Config  Config
	Logger  *slog.Logger
}

// Run processes the stored document of one pending transaction.
// Completed becomes observable only after the vault write returns.
func (r *Runner) Run(ctx context.Context, txnID, docPath string) error {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	fail := func(stage tracker.Status, err error) error {
		logger.Error("stage failed", "transaction", txnID, "stage", stage, "error", err)
		// Failure must be recorded even when the stage died of a
		// cancelled context.
		if ferr := r.Tracker.Fail(context.WithoutCancel(ctx), txnID, fmt.Sprintf("%s: %v", stage, err)); ferr != nil {
			logger.Error("recording failure", "transaction", txnID, "error", ferr)
		}
		return fmt.Errorf("pipeline: %s: %w", stage, err)
	}

	if err := r.Tracker.Advance(ctx, txnID, tracker.StatusParsing); err != nil {
		return fmt.Errorf("pipeline: advance: %w", err)
	}
	doc, err := r.Parser.Parse(ctx, docPath)
	if err != nil {
		return fail(tracker.StatusParsing, err)
	}
	els, err := r.Config.Normalize(doc)
	if err != nil {
		return fail(tracker.StatusParsing, err)
	}
	logger.Info("parsed document", "transaction", txnID,
		"pages", len(doc.Pages), "elements", len(els))

	if err := r.Tracker.Advance(ctx, txnID, tracker.StatusStructuring); err != nil {
		return fmt.Errorf("pipeline: advance: %w", err)
	}
	els, err = r.Config.Structure(els)
	if err != nil {
		return fail(tracker.StatusStructuring, err)
	}

	if err := r.Tracker.Advance(ctx, txnID, tracker.StatusValidating); err != nil {
		return fmt.Errorf("pipeline: advance: %w", err)
	}
	r.Config.Validate(els)

	if err := r.Tracker.Advance(ctx, txnID, tracker.StatusHighlighting); err != nil {
		return fmt.Errorf("pipeline: advance: %w", err)
	}
	r.Config.Highlight(els)

	if err := r.Tracker.Advance(ctx, txnID, tracker.StatusStoring); err != nil {
		return fmt.Errorf("pipeline: advance: %w", err)
	}
	if err := r.Vault.SaveElements(ctx, txnID, els); err != nil {
		return fail(tracker.StatusStoring, err)
	}
	if err := r.Tracker.SetCounts(ctx, txnID, len(doc.Pages), len(els)); err != nil {
		return fail(tracker.StatusStoring, err)
	}
	if err := r.Tracker.Complete(ctx, txnID); err != nil {
		return fail(tracker.StatusStoring, err)
	}

	logger.Info("transaction completed", "transaction", txnID, "elements", len(els))
	return nil
}
