package shares

import (
	"context"
	"fmt"
	"time"
)

// UpdateHeartbeat refreshes the heartbeat timestamp for an in-flight share.
func (s *Store) UpdateHeartbeat(ctx context.Context, id string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE shares SET last_heartbeat = ?, updated_at = ? WHERE id = ?`,
		now,
		now,
		id,
	)
	if err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// ReclaimStaleInFlight returns shares stuck in an in-flight status back to
// pending when their worker's heartbeat has expired, so the scheduler's
// redelivered job finds a consistent starting state.
func (s *Store) ReclaimStaleInFlight(ctx context.Context, cutoff time.Time) (int64, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE shares
         SET status = ?, last_heartbeat = NULL, updated_at = ?
         WHERE status IN (?, ?) AND last_heartbeat IS NOT NULL AND last_heartbeat < ?`,
		StatusPending,
		now.Format(time.RFC3339Nano),
		StatusProcessing,
		StatusFetching,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale shares: %w", err)
	}
	return res.RowsAffected()
}

// RetryErrored moves errored shares back to pending for reprocessing. With no
// ids, every errored share is retried.
func (s *Store) RetryErrored(ctx context.Context, ids ...string) (int64, error) {
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	if len(ids) == 0 {
		res, err := s.db.ExecContext(
			ctx,
			`UPDATE shares
             SET status = ?, error_code = NULL, error_message = NULL, attempts = 0, updated_at = ?
             WHERE status = ?`,
			StatusPending,
			timestamp,
			StatusError,
		)
		if err != nil {
			return 0, fmt.Errorf("retry errored shares: %w", err)
		}
		return res.RowsAffected()
	}

	args := make([]any, 0, len(ids)+2)
	args = append(args, StatusPending, timestamp)
	for _, id := range ids {
		args = append(args, id)
	}
	query := `UPDATE shares
        SET status = ?, error_code = NULL, error_message = NULL, attempts = 0, updated_at = ?
        WHERE id IN (` + makePlaceholders(len(ids)) + `) AND status = '` + string(StatusError) + `'`
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("retry selected shares: %w", err)
	}
	return res.RowsAffected()
}
