package traceability

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"qrtrace/internal/models"
)

var logger = logrus.StandardLogger().WithField("package", "traceability")

// SubmitRequest is the batch a scan session hands to the server.
type SubmitRequest struct {
	DownstreamID       string   `json:"downstreamId,omitempty"`
	SourceOrderID      string   `json:"sourceOrderId,omitempty"`
	CompletionIDs      []string `json:"completionIds"`
	TargetDocumentType string   `json:"targetDocumentType"`
}

// Validate checks the request shape before any store is touched.
func (r SubmitRequest) Validate() error {
	var problems []string
	if len(r.CompletionIDs) == 0 {
		problems = append(problems, "completionIds is required")
	}
	if strings.TrimSpace(r.TargetDocumentType) == "" {
		problems = append(problems, "targetDocumentType is required")
	}
	if r.DownstreamID == "" && r.SourceOrderID == "" {
		problems = append(problems, "one of downstreamId or sourceOrderId is required")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(problems, "; "))
	}
	return nil
}

// SkippedScan is a completion in the batch that matched no line.
type SkippedScan struct {
	CompletionID string `json:"completionId"`
	Reason       string `json:"reason"`
}

// SubmitResult is the response of the submission channel.
type SubmitResult struct {
	Success         bool          `json:"success"`
	SavedDocumentID string        `json:"savedDocumentId,omitempty"`
	Error           string        `json:"error,omitempty"`
	Code            string        `json:"code,omitempty"`
	Matched         []string      `json:"matched,omitempty"`
	Skipped         []SkippedScan `json:"skipped,omitempty"`
}

// ValidateScannedQuantity reports whether a scan fits within the line quantity.
// A line without a quantity accepts anything.
func ValidateScannedQuantity(scanned, lineQty decimal.Decimal) bool {
	return !lineQty.IsPositive() || scanned.LessThanOrEqual(lineQty)
}

// ReconcileLine writes assignments onto doc.Lines[lineIndex]. Every assignment
// without an internal id is resolved first; a single miss aborts before the
// line is touched. On success the line's prior assignments are replaced, in
// input order, and the line is flagged fulfilled.
func ReconcileLine(ctx context.Context, doc *models.DownstreamDocument, lineIndex int, assignments []models.InventoryAssignment, lots LotResolver) error {
	if doc == nil || lineIndex < 0 || lineIndex >= len(doc.Lines) {
		return fmt.Errorf("%w: %d", ErrLineIndex, lineIndex)
	}
	line := &doc.Lines[lineIndex]
	resolved, err := resolveAssignments(ctx, line, assignments, lots)
	if err != nil {
		return err
	}
	line.InventoryAssignments = resolved
	line.Fulfilled = true
	return nil
}

// resolveAssignments turns completion assignments into line assignments,
// looking up every number without an internal id against the line's item.
func resolveAssignments(ctx context.Context, line *models.DocumentLine, assignments []models.InventoryAssignment, lots LotResolver) ([]models.LineAssignment, error) {
	resolved := make([]models.LineAssignment, 0, len(assignments))
	for _, a := range assignments {
		id := ""
		if a.Resolved() {
			id = *a.LotOrSerialID
		} else {
			if lots == nil {
				return nil, &LotNotFoundError{Number: a.LotOrSerialNumber, ItemID: line.Item.ID}
			}
			var err error
			id, err = lots.ResolveInventoryNumber(ctx, a.LotOrSerialNumber, line.Item.ID, line.Location.ID)
			if err != nil {
				return nil, err
			}
		}
		la := models.LineAssignment{
			InternalID: id,
			Number:     a.LotOrSerialNumber,
			Quantity:   a.Quantity,
		}
		if a.BinID != nil {
			la.BinID = *a.BinID
		}
		if a.Bin != nil {
			la.Bin = *a.Bin
		}
		resolved = append(resolved, la)
	}
	return resolved, nil
}

// ClearUnscannedLines drops the fulfilled flag on every line not in touched.
// Inventory assignments on those lines are left as they are.
func ClearUnscannedLines(doc *models.DownstreamDocument, touched map[int]bool) {
	for i := range doc.Lines {
		if !touched[i] {
			doc.Lines[i].Fulfilled = false
		}
	}
}

// Reconciler runs the server-side half of the protocol: it applies a batch of
// scanned completions to a downstream document and commits it once.
type Reconciler struct {
	Documents   DocumentStore
	Completions CompletionSource
	Status      StatusChecker
	Lots        LotResolver
	Committer   Committer
	Locker      Locker
}

// Process reconciles a submitted batch. Any batch-level failure returns an
// error and leaves the stored document untouched.
func (r *Reconciler) Process(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	if err := req.Validate(); err != nil {
		return failed(err)
	}

	if r.Locker != nil {
		unlock, err := r.Locker.Lock(ctx, lockKey(req))
		if err != nil {
			return failed(fmt.Errorf("lock document: %w", err))
		}
		defer unlock()
	}

	doc, err := r.loadTarget(ctx, req)
	if err != nil {
		return failed(err)
	}
	work := doc.Clone()

	touched := map[int]bool{}
	lineTotals := map[int]decimal.Decimal{}
	seen := map[string]bool{}
	var consumed []string
	var skipped []SkippedScan
	for _, id := range req.CompletionIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if seen[id] {
			skipped = append(skipped, SkippedScan{CompletionID: id, Reason: "duplicate completion in batch"})
			continue
		}
		seen[id] = true

		c, err := r.Completions.GetCompletion(ctx, id)
		if err != nil {
			return failed(fmt.Errorf("load completion %s: %w", id, err))
		}
		st, err := r.Status.GetStatus(ctx, id)
		if err != nil {
			return failed(fmt.Errorf("check completion %s: %w", id, err))
		}
		if st.Scanned {
			return failed(&AlreadyScannedError{CompletionID: id, LinkedDownstreamID: st.LinkedDownstreamID})
		}

		idx, err := FindLine(work, c.Item.ID, c.Location.ID)
		if err != nil {
			nf := &LineNotFoundError{ItemID: c.Item.ID, ItemName: c.Item.Name}
			skipped = append(skipped, SkippedScan{CompletionID: id, Reason: nf.Error()})
			logger.WithFields(logrus.Fields{"completion": id, "item": c.Item.ID}).Info("scan matched no line")
			continue
		}
		total := lineTotals[idx].Add(c.Quantity)
		if !ValidateScannedQuantity(total, work.Lines[idx].Quantity) {
			return failed(&QuantityExceededError{
				CompletionID: id,
				Scanned:      total.String(),
				LineQty:      work.Lines[idx].Quantity.String(),
			})
		}
		// The first completion on a line replaces what the document held;
		// later ones in the same batch add to it.
		if touched[idx] {
			line := &work.Lines[idx]
			extra, err := resolveAssignments(ctx, line, c.InventoryDetail, r.Lots)
			if err != nil {
				return failed(err)
			}
			line.InventoryAssignments = append(line.InventoryAssignments, extra...)
		} else if err := ReconcileLine(ctx, work, idx, c.InventoryDetail, r.Lots); err != nil {
			return failed(err)
		}
		lineTotals[idx] = total
		touched[idx] = true
		consumed = append(consumed, id)
	}

	if len(consumed) == 0 {
		return failed(ErrNoLinesMatched)
	}
	ClearUnscannedLines(work, touched)
	work.ScanRefs = nil

	savedID, err := r.Committer.Commit(ctx, work, consumed)
	if err != nil {
		return failed(err)
	}
	logger.WithFields(logrus.Fields{
		"document": savedID,
		"consumed": len(consumed),
		"skipped":  len(skipped),
		"doc_type": req.TargetDocumentType,
	}).Info("batch reconciled")

	return SubmitResult{Success: true, SavedDocumentID: savedID, Matched: consumed, Skipped: skipped}, nil
}

func (r *Reconciler) loadTarget(ctx context.Context, req SubmitRequest) (*models.DownstreamDocument, error) {
	if req.DownstreamID != "" {
		doc, err := r.Documents.LoadDocument(ctx, req.TargetDocumentType, req.DownstreamID)
		if err != nil {
			return nil, fmt.Errorf("load document %s: %w", req.DownstreamID, err)
		}
		return doc, nil
	}
	doc, err := r.Documents.TransformFromOrder(ctx, req.SourceOrderID, req.TargetDocumentType)
	if err != nil {
		return nil, fmt.Errorf("transform order %s: %w", req.SourceOrderID, err)
	}
	return doc, nil
}

func lockKey(req SubmitRequest) string {
	if req.DownstreamID != "" {
		return "doc:" + req.TargetDocumentType + ":" + req.DownstreamID
	}
	return "order:" + req.SourceOrderID + ":" + req.TargetDocumentType
}

func failed(err error) (SubmitResult, error) {
	return SubmitResult{Success: false, Error: OperatorMessage(err)}, err
}

// OperatorMessage turns a batch or scan error into the text shown to an operator.
func OperatorMessage(err error) string {
	var (
		scanned *AlreadyScannedError
		line    *LineNotFoundError
		lot     *LotNotFoundError
		decode  *DecodeError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &scanned):
		if scanned.LinkedDownstreamID == "" {
			return "This completion has already been fulfilled"
		}
		return "This completion has already been fulfilled (Fulfillment #" + scanned.LinkedDownstreamID + ")"
	case errors.As(err, &line):
		name := line.ItemName
		if name == "" {
			name = line.ItemID
		}
		return `Item "` + name + `" is not on this fulfillment`
	case errors.As(err, &lot):
		return `Lot number "` + lot.Number + `" not found in inventory`
	case errors.As(err, &decode):
		return "Invalid QR code: " + decode.Error()
	case errors.Is(err, ErrNoLinesMatched):
		return "None of the scanned completions match a line on this document"
	}
	return "Error processing QR code: " + err.Error()
}
