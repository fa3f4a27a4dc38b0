package traceability

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qrtrace/internal/models"
)

type reconcileFixture struct {
	status      *fakeStatus
	docs        *fakeDocuments
	completions fakeCompletions
	committer   *fakeCommitter
	rec         *Reconciler
}

func newReconcileFixture() *reconcileFixture {
	f := &reconcileFixture{
		status: newFakeStatus(),
		docs: &fakeDocuments{
			docs:   map[string]*models.DownstreamDocument{"F1": twoLineDoc()},
			orders: map[string]*models.DownstreamDocument{},
		},
		completions: fakeCompletions{
			"C1": {
				ID: "C1", Item: models.Ref{ID: "I1", Name: "Widget"}, Location: models.Ref{ID: "L1"}, Quantity: qty(5),
				InventoryDetail: []models.InventoryAssignment{{LotOrSerialNumber: "LOT-A", Quantity: qty(5)}},
			},
			"C2": {
				ID: "C2", Item: models.Ref{ID: "I2", Name: "Gadget"}, Location: models.Ref{ID: "L1"}, Quantity: qty(2),
				InventoryDetail: []models.InventoryAssignment{{LotOrSerialNumber: "LOT-MISSING", Quantity: qty(2)}},
			},
			"C3": {
				ID: "C3", Item: models.Ref{ID: "I7", Name: "Stranger"}, Quantity: qty(1),
			},
			"C4": {
				ID: "C4", Item: models.Ref{ID: "I1", Name: "Widget"}, Quantity: qty(9),
			},
		},
	}
	f.committer = &fakeCommitter{status: f.status, docs: f.docs, nextID: "F-NEW"}
	f.rec = &Reconciler{
		Documents:   f.docs,
		Completions: f.completions,
		Status:      f.status,
		Lots:        fakeLots{"I1/LOT-A": "9001"},
		Committer:   f.committer,
	}
	return f
}

func TestProcessEndToEnd(t *testing.T) {
	f := newReconcileFixture()

	res, err := f.rec.Process(context.Background(), SubmitRequest{
		DownstreamID:       "F1",
		CompletionIDs:      []string{"C1"},
		TargetDocumentType: "fulfillment",
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "F1", res.SavedDocumentID)
	assert.Equal(t, []string{"C1"}, res.Matched)

	require.Len(t, f.committer.saved, 1)
	saved := f.committer.saved[0]
	assert.True(t, saved.Lines[0].Fulfilled)
	require.Len(t, saved.Lines[0].InventoryAssignments, 1)
	assert.Equal(t, "9001", saved.Lines[0].InventoryAssignments[0].InternalID)
	assert.Equal(t, "LOT-A", saved.Lines[0].InventoryAssignments[0].Number)
	assert.True(t, saved.Lines[0].InventoryAssignments[0].Quantity.Equal(qty(5)))

	// Line 1 was not scanned: fulfilled flag cleared, assignments untouched.
	assert.False(t, saved.Lines[1].Fulfilled)
	assert.Len(t, saved.Lines[1].InventoryAssignments, 1)
	assert.Nil(t, saved.ScanRefs)

	st, _ := f.status.GetStatus(context.Background(), "C1")
	assert.True(t, st.Scanned)
	assert.Equal(t, "F1", st.LinkedDownstreamID)
}

func TestProcessAlreadyScannedAbortsBatch(t *testing.T) {
	f := newReconcileFixture()
	f.status.status["C1"] = Status{Scanned: true, LinkedDownstreamID: "F0"}

	res, err := f.rec.Process(context.Background(), SubmitRequest{
		DownstreamID: "F1", CompletionIDs: []string{"C1"}, TargetDocumentType: "fulfillment",
	})
	assert.ErrorIs(t, err, ErrAlreadyScanned)
	assert.False(t, res.Success)
	assert.Equal(t, "This completion has already been fulfilled (Fulfillment #F0)", res.Error)
	assert.Empty(t, f.committer.saved)
}

func TestProcessLotMissAbortsWholeBatch(t *testing.T) {
	f := newReconcileFixture()

	res, err := f.rec.Process(context.Background(), SubmitRequest{
		DownstreamID: "F1", CompletionIDs: []string{"C1", "C2"}, TargetDocumentType: "fulfillment",
	})
	assert.ErrorIs(t, err, ErrLotNotFound)
	assert.Equal(t, `Lot number "LOT-MISSING" not found in inventory`, res.Error)
	assert.Empty(t, f.committer.saved)

	// Neither completion was consumed and the stored document is unchanged.
	for _, id := range []string{"C1", "C2"} {
		st, _ := f.status.GetStatus(context.Background(), id)
		assert.False(t, st.Scanned, id)
	}
	assert.True(t, f.docs.docs["F1"].Lines[1].Fulfilled)
	assert.Empty(t, f.docs.docs["F1"].Lines[0].InventoryAssignments)
}

func TestProcessSkipsUnmatchedAndDuplicates(t *testing.T) {
	f := newReconcileFixture()

	res, err := f.rec.Process(context.Background(), SubmitRequest{
		DownstreamID: "F1", CompletionIDs: []string{"C3", "C1", "C1"}, TargetDocumentType: "fulfillment",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"C1"}, res.Matched)
	require.Len(t, res.Skipped, 2)
	assert.Equal(t, "C3", res.Skipped[0].CompletionID)
	assert.Equal(t, "C1", res.Skipped[1].CompletionID)

	st, _ := f.status.GetStatus(context.Background(), "C3")
	assert.False(t, st.Scanned)
}

func TestProcessNoLinesMatched(t *testing.T) {
	f := newReconcileFixture()

	res, err := f.rec.Process(context.Background(), SubmitRequest{
		DownstreamID: "F1", CompletionIDs: []string{"C3"}, TargetDocumentType: "fulfillment",
	})
	assert.ErrorIs(t, err, ErrNoLinesMatched)
	assert.False(t, res.Success)
	assert.Empty(t, f.committer.saved)
}

func TestProcessQuantityExceeded(t *testing.T) {
	f := newReconcileFixture()

	_, err := f.rec.Process(context.Background(), SubmitRequest{
		DownstreamID: "F1", CompletionIDs: []string{"C4"}, TargetDocumentType: "fulfillment",
	})
	var qe *QuantityExceededError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, "9", qe.Scanned)
	assert.Equal(t, "5", qe.LineQty)
}

func TestProcessMergesCompletionsOnOneLine(t *testing.T) {
	f := newReconcileFixture()
	f.rec.Lots = fakeLots{"I1/LOT-A": "9001", "I1/LOT-B": "9002"}
	f.docs.docs["F1"].Lines[0].InventoryAssignments = []models.LineAssignment{{InternalID: "old", Number: "OLD", Quantity: qty(1)}}
	f.completions["CA"] = &models.CompletionRecord{
		ID: "CA", Item: models.Ref{ID: "I1"}, Location: models.Ref{ID: "L1"}, Quantity: qty(2),
		InventoryDetail: []models.InventoryAssignment{{LotOrSerialNumber: "LOT-A", Quantity: qty(2), Kind: models.KindLot}},
	}
	f.completions["CB"] = &models.CompletionRecord{
		ID: "CB", Item: models.Ref{ID: "I1"}, Location: models.Ref{ID: "L1"}, Quantity: qty(2),
		InventoryDetail: []models.InventoryAssignment{{LotOrSerialNumber: "LOT-B", Quantity: qty(2), Kind: models.KindLot}},
	}

	res, err := f.rec.Process(context.Background(), SubmitRequest{
		DownstreamID: "F1", CompletionIDs: []string{"CA", "CB"}, TargetDocumentType: "fulfillment",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"CA", "CB"}, res.Matched)

	require.Len(t, f.committer.saved, 1)
	got := f.committer.saved[0].Lines[0].InventoryAssignments
	require.Len(t, got, 2, "stored assignments are replaced once, then every completion is kept")
	assert.Equal(t, "LOT-A", got[0].Number)
	assert.Equal(t, "9001", got[0].InternalID)
	assert.Equal(t, "LOT-B", got[1].Number)
	assert.Equal(t, "9002", got[1].InternalID)

	for _, id := range []string{"CA", "CB"} {
		st, _ := f.status.GetStatus(context.Background(), id)
		assert.Equal(t, Status{Scanned: true, LinkedDownstreamID: "F1"}, st, id)
	}
}

func TestProcessQuantityGuardUsesLineTotal(t *testing.T) {
	f := newReconcileFixture()
	for _, id := range []string{"CA", "CB", "CC"} {
		f.completions[id] = &models.CompletionRecord{
			ID: id, Item: models.Ref{ID: "I1"}, Location: models.Ref{ID: "L1"}, Quantity: qty(2),
			InventoryDetail: []models.InventoryAssignment{{LotOrSerialNumber: "LOT-A", Quantity: qty(2), Kind: models.KindLot}},
		}
	}

	res, err := f.rec.Process(context.Background(), SubmitRequest{
		DownstreamID: "F1", CompletionIDs: []string{"CA", "CB", "CC"}, TargetDocumentType: "fulfillment",
	})
	var qe *QuantityExceededError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, "CC", qe.CompletionID)
	assert.Equal(t, "6", qe.Scanned)
	assert.Equal(t, "5", qe.LineQty)
	assert.False(t, res.Success)
	assert.Empty(t, f.committer.saved)
	for _, id := range []string{"CA", "CB", "CC"} {
		st, _ := f.status.GetStatus(context.Background(), id)
		assert.False(t, st.Scanned, id)
	}
}

func TestProcessTransformsFromOrder(t *testing.T) {
	f := newReconcileFixture()
	order := twoLineDoc()
	order.ID = ""
	f.docs.orders["SO-1"] = order

	res, err := f.rec.Process(context.Background(), SubmitRequest{
		SourceOrderID: "SO-1", CompletionIDs: []string{"C1"}, TargetDocumentType: "fulfillment",
	})
	require.NoError(t, err)
	assert.Equal(t, "F-NEW", res.SavedDocumentID)
}

func TestProcessConcurrentCommitLoses(t *testing.T) {
	f := newReconcileFixture()
	f.docs.docs["F2"] = twoLineDoc()
	f.docs.docs["F2"].ID = "F2"

	req := SubmitRequest{DownstreamID: "F1", CompletionIDs: []string{"C1"}, TargetDocumentType: "fulfillment"}
	_, err := f.rec.Process(context.Background(), req)
	require.NoError(t, err)

	req.DownstreamID = "F2"
	_, err = f.rec.Process(context.Background(), req)
	assert.ErrorIs(t, err, ErrAlreadyScanned)

	st, _ := f.status.GetStatus(context.Background(), "C1")
	assert.Equal(t, "F1", st.LinkedDownstreamID)
}

func TestSubmitRequestValidate(t *testing.T) {
	tests := []struct {
		name string
		req  SubmitRequest
		ok   bool
	}{
		{"complete", SubmitRequest{DownstreamID: "F1", CompletionIDs: []string{"C1"}, TargetDocumentType: "fulfillment"}, true},
		{"order target", SubmitRequest{SourceOrderID: "SO", CompletionIDs: []string{"C1"}, TargetDocumentType: "fulfillment"}, true},
		{"no ids", SubmitRequest{DownstreamID: "F1", TargetDocumentType: "fulfillment"}, false},
		{"no type", SubmitRequest{DownstreamID: "F1", CompletionIDs: []string{"C1"}}, false},
		{"no target", SubmitRequest{CompletionIDs: []string{"C1"}, TargetDocumentType: "fulfillment"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidRequest)
			}
		})
	}
}

func TestReconcileLine(t *testing.T) {
	t.Run("replaces assignments in order", func(t *testing.T) {
		doc := twoLineDoc()
		err := ReconcileLine(context.Background(), doc, 1, []models.InventoryAssignment{
			{LotOrSerialNumber: "SN-1", LotOrSerialID: strp("11"), Quantity: qty(1), BinID: strp("31"), Bin: strp("B-01")},
			{LotOrSerialNumber: "SN-2", LotOrSerialID: strp("12"), Quantity: qty(1)},
		}, nil)
		require.NoError(t, err)
		got := doc.Lines[1].InventoryAssignments
		require.Len(t, got, 2)
		assert.Equal(t, "11", got[0].InternalID)
		assert.Equal(t, "31", got[0].BinID)
		assert.Equal(t, "12", got[1].InternalID)
		assert.True(t, doc.Lines[1].Fulfilled)
	})

	t.Run("miss leaves line untouched", func(t *testing.T) {
		doc := twoLineDoc()
		err := ReconcileLine(context.Background(), doc, 1, []models.InventoryAssignment{
			{LotOrSerialNumber: "SN-1", LotOrSerialID: strp("11"), Quantity: qty(1)},
			{LotOrSerialNumber: "NOPE", Quantity: qty(1)},
		}, fakeLots{})
		assert.ErrorIs(t, err, ErrLotNotFound)
		require.Len(t, doc.Lines[1].InventoryAssignments, 1)
		assert.Equal(t, "old", doc.Lines[1].InventoryAssignments[0].InternalID)
	})

	t.Run("bad index", func(t *testing.T) {
		err := ReconcileLine(context.Background(), twoLineDoc(), 5, nil, nil)
		assert.ErrorIs(t, err, ErrLineIndex)
	})
}

func TestValidateScannedQuantity(t *testing.T) {
	assert.True(t, ValidateScannedQuantity(qty(5), qty(5)))
	assert.True(t, ValidateScannedQuantity(qty(1), qty(5)))
	assert.False(t, ValidateScannedQuantity(qty(6), qty(5)))
	assert.True(t, ValidateScannedQuantity(qty(6), decimal.Zero))
}

func TestClearUnscannedLines(t *testing.T) {
	doc := twoLineDoc()
	ClearUnscannedLines(doc, map[int]bool{0: true})
	assert.True(t, doc.Lines[0].Fulfilled)
	assert.False(t, doc.Lines[1].Fulfilled)
	assert.Len(t, doc.Lines[1].InventoryAssignments, 1)
}
