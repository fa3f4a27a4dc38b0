package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"qrtrace/internal/traceability"
)

// GetStatus reads the committed scan state of a completion. There is no
// cache in front of it.
func (s *Store) GetStatus(ctx context.Context, completionID string) (traceability.Status, error) {
	return getStatus(ctx, s.db, completionID)
}

// MarkScanned links a completion to a downstream document. It only succeeds
// on a completion that is not yet scanned.
func (s *Store) MarkScanned(ctx context.Context, completionID, downstreamID string) error {
	return markScanned(ctx, s.db, completionID, downstreamID, s.timestamp())
}

func getStatus(ctx context.Context, q queryer, completionID string) (traceability.Status, error) {
	var scanned int
	var linked sql.NullString
	err := q.QueryRowContext(ctx, "SELECT scanned, linked_downstream_id FROM completions WHERE id=?", completionID).
		Scan(&scanned, &linked)
	if errors.Is(err, sql.ErrNoRows) {
		return traceability.Status{}, fmt.Errorf("%w: %s", traceability.ErrCompletionNotFound, completionID)
	}
	if err != nil {
		return traceability.Status{}, fmt.Errorf("get status %s: %w", completionID, err)
	}
	return traceability.Status{Scanned: scanned == 1, LinkedDownstreamID: linked.String}, nil
}

func markScanned(ctx context.Context, q queryer, completionID, downstreamID, now string) error {
	res, err := q.ExecContext(ctx,
		"UPDATE completions SET scanned=1, linked_downstream_id=?, updated_at=? WHERE id=? AND scanned=0",
		downstreamID, now, completionID)
	if err != nil {
		return fmt.Errorf("mark scanned %s: %w", completionID, err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	st, err := getStatus(ctx, q, completionID)
	if err != nil {
		return err
	}
	return &traceability.AlreadyScannedError{CompletionID: completionID, LinkedDownstreamID: st.LinkedDownstreamID}
}
