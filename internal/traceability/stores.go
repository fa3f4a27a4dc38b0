package traceability

import (
	"context"

	"qrtrace/internal/models"
)

// Status is the consumption state of one completion.
type Status struct {
	Scanned            bool   `json:"scanned"`
	LinkedDownstreamID string `json:"linked_downstream_id,omitempty"`
}

// StatusChecker reads completion status. Implementations must return the
// latest committed state; status gates irreversible inventory writes.
type StatusChecker interface {
	GetStatus(ctx context.Context, completionID string) (Status, error)
}

// StatusStore adds the conditional write. MarkScanned must behave as a
// compare-and-set and return ErrAlreadyScanned when the completion was
// already consumed, without relinking it.
type StatusStore interface {
	StatusChecker
	MarkScanned(ctx context.Context, completionID, downstreamID string) error
}

// LotResolver looks up the internal id of a lot or serial number.
// A miss is reported as a *LotNotFoundError.
type LotResolver interface {
	ResolveInventoryNumber(ctx context.Context, number, itemID, locationID string) (string, error)
}

// CompletionSource loads completion records by id.
type CompletionSource interface {
	GetCompletion(ctx context.Context, id string) (*models.CompletionRecord, error)
}

// DocumentStore loads downstream documents or builds a new one from a source order.
type DocumentStore interface {
	LoadDocument(ctx context.Context, docType, id string) (*models.DownstreamDocument, error)
	TransformFromOrder(ctx context.Context, orderID, toType string) (*models.DownstreamDocument, error)
}

// Committer persists a reconciled document and marks every consumed
// completion as scanned against the saved id in a single unit of work.
// If any mark fails nothing is persisted.
type Committer interface {
	Commit(ctx context.Context, doc *models.DownstreamDocument, consumed []string) (string, error)
}

// Locker serializes reconciliations of the same document.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}
