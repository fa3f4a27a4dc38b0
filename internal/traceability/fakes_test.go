package traceability

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"qrtrace/internal/models"
)

type fakeStatus struct {
	mu     sync.Mutex
	status map[string]Status
	err    error
}

func newFakeStatus() *fakeStatus { return &fakeStatus{status: map[string]Status{}} }

func (f *fakeStatus) GetStatus(_ context.Context, id string) (Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return Status{}, f.err
	}
	return f.status[id], nil
}

func (f *fakeStatus) MarkScanned(_ context.Context, id, doc string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.status[id].Scanned {
		return ErrAlreadyScanned
	}
	f.status[id] = Status{Scanned: true, LinkedDownstreamID: doc}
	return nil
}

type fakeLots map[string]string

func (f fakeLots) ResolveInventoryNumber(_ context.Context, number, itemID, _ string) (string, error) {
	if id, ok := f[itemID+"/"+number]; ok {
		return id, nil
	}
	return "", &LotNotFoundError{Number: number, ItemID: itemID}
}

type fakeCompletions map[string]*models.CompletionRecord

func (f fakeCompletions) GetCompletion(_ context.Context, id string) (*models.CompletionRecord, error) {
	if c, ok := f[id]; ok {
		return c, nil
	}
	return nil, ErrCompletionNotFound
}

type fakeDocuments struct {
	docs   map[string]*models.DownstreamDocument
	orders map[string]*models.DownstreamDocument
}

func (f *fakeDocuments) LoadDocument(_ context.Context, _, id string) (*models.DownstreamDocument, error) {
	if d, ok := f.docs[id]; ok {
		return d, nil
	}
	return nil, ErrDocumentNotFound
}

func (f *fakeDocuments) TransformFromOrder(_ context.Context, orderID, toType string) (*models.DownstreamDocument, error) {
	if d, ok := f.orders[orderID]; ok {
		c := d.Clone()
		c.Type = toType
		return c, nil
	}
	return nil, ErrDocumentNotFound
}

// fakeCommitter mimics a transactional store: every mark must succeed or
// nothing is saved.
type fakeCommitter struct {
	status *fakeStatus
	docs   *fakeDocuments
	saved  []*models.DownstreamDocument
	nextID string
}

func (f *fakeCommitter) Commit(ctx context.Context, doc *models.DownstreamDocument, consumed []string) (string, error) {
	id := doc.ID
	if id == "" {
		id = f.nextID
	}
	f.status.mu.Lock()
	for _, c := range consumed {
		if f.status.status[c].Scanned {
			f.status.mu.Unlock()
			return "", &AlreadyScannedError{CompletionID: c, LinkedDownstreamID: f.status.status[c].LinkedDownstreamID}
		}
	}
	for _, c := range consumed {
		f.status.status[c] = Status{Scanned: true, LinkedDownstreamID: id}
	}
	f.status.mu.Unlock()

	saved := doc.Clone()
	saved.ID = id
	f.saved = append(f.saved, saved)
	if f.docs != nil {
		f.docs.docs[id] = saved
	}
	return id, nil
}

func qty(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

func twoLineDoc() *models.DownstreamDocument {
	return &models.DownstreamDocument{
		ID:   "F1",
		Type: "fulfillment",
		Lines: []models.DocumentLine{
			{Index: 0, Item: models.Ref{ID: "I1", Name: "Widget"}, Location: models.Ref{ID: "L1"}, Quantity: qty(5), Fulfilled: true},
			{Index: 1, Item: models.Ref{ID: "I2", Name: "Gadget"}, Location: models.Ref{ID: "L1"}, Quantity: qty(2), Fulfilled: true,
				InventoryAssignments: []models.LineAssignment{{InternalID: "old", Number: "OLD", Quantity: qty(2)}}},
		},
	}
}
