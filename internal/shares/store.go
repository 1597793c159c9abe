package shares

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"sharepipe/internal/config"
	"sharepipe/internal/services"
)

// Store manages share persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the share database and applies migrations.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := filepath.Join(cfg.Paths.DataDir, "shares.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location for diagnostics.
func (s *Store) Path() string {
	return s.path
}

// NewShare inserts a pending share for a fresh user submission.
func (s *Store) NewShare(ctx context.Context, id, userID, url, platform string, tier UserTier) (*Share, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("share id is required")
	}
	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("user id is required")
	}
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("url is required")
	}
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO shares (
            id, user_id, url, platform, user_tier, status, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		userID,
		url,
		platform,
		string(tier),
		StatusPending,
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert share: %w", err)
	}
	return s.GetByID(ctx, id)
}

// GetByID fetches a share by identifier.
func (s *Store) GetByID(ctx context.Context, id string) (*Share, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+shareColumns+` FROM shares WHERE id = ?`, id)
	share, err := scanShare(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "shares", "get",
			fmt.Sprintf("share %s not found", id), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get share: %w", err)
	}
	return share, nil
}

// FindByUserAndURL returns the first share matching a (user, url) pair.
// Callers use this for submission idempotency.
func (s *Store) FindByUserAndURL(ctx context.Context, userID, url string) (*Share, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+shareColumns+` FROM shares WHERE user_id = ? AND url = ? ORDER BY created_at LIMIT 1`,
		userID,
		url,
	)
	share, err := scanShare(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find by user and url: %w", err)
	}
	return share, nil
}

// Update persists changes to an existing share.
func (s *Store) Update(ctx context.Context, share *Share) error {
	if share == nil {
		return errors.New("share is nil")
	}
	share.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE shares
         SET user_id = ?, url = ?, platform = ?, user_tier = ?, content_type = ?,
             status = ?, workflow_state = ?, title = ?, description = ?, media_url = ?,
             has_captions = ?, duration_seconds = ?, error_code = ?, error_message = ?,
             attempts = ?, updated_at = ?, last_heartbeat = ?
         WHERE id = ?`,
		share.UserID,
		share.URL,
		share.Platform,
		string(share.UserTier),
		nullableString(string(share.ContentType)),
		share.Status,
		nullableString(string(share.WorkflowState)),
		nullableString(share.Title),
		nullableString(share.Description),
		nullableString(share.MediaURL),
		boolToInt(share.HasCaptions),
		share.DurationSeconds,
		nullableString(share.ErrorCode),
		nullableString(share.ErrorMessage),
		share.Attempts,
		share.UpdatedAt.Format(time.RFC3339Nano),
		nullableTime(share.LastHeartbeat),
		share.ID,
	)
	if err != nil {
		return fmt.Errorf("update share: %w", err)
	}
	return nil
}

// UpdateStatusIf moves a share between lifecycle statuses only when the
// current status matches one of the expected values. Returns
// services.ErrConflict when the share has moved underneath the caller.
func (s *Store) UpdateStatusIf(ctx context.Context, id string, to Status, expected ...Status) error {
	if len(expected) == 0 {
		return errors.New("expected statuses are required")
	}
	args := make([]any, 0, len(expected)+3)
	args = append(args, to, time.Now().UTC().Format(time.RFC3339Nano), id)
	for _, status := range expected {
		args = append(args, status)
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE shares SET status = ?, updated_at = ? WHERE id = ? AND status IN (`+makePlaceholders(len(expected))+`)`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return services.Wrap(services.ErrConflict, "shares", "update status",
			fmt.Sprintf("share %s is not in an expected status", id), nil)
	}
	return nil
}

// TransitionWorkflow advances the workflow state only from the expected prior
// state, enforcing the single-writer ordering per share.
func (s *Store) TransitionWorkflow(ctx context.Context, id string, from, to WorkflowState) error {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE shares SET workflow_state = ?, updated_at = ?
         WHERE id = ? AND COALESCE(workflow_state, '') = ?`,
		string(to),
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
		string(from),
	)
	if err != nil {
		return fmt.Errorf("transition workflow: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return services.Wrap(services.ErrConflict, "shares", "transition workflow",
			fmt.Sprintf("share %s is not in state %q", id, from), nil)
	}
	return nil
}

// SetError marks a share errored with a stable code for user-facing status.
func (s *Store) SetError(ctx context.Context, id, code, message string) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE shares SET status = ?, error_code = ?, error_message = ?,
             last_heartbeat = NULL, updated_at = ? WHERE id = ?`,
		StatusError,
		code,
		message,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return fmt.Errorf("set share error: %w", err)
	}
	return nil
}

// IncrementAttempts bumps the persisted failure-attempt counter and returns
// the new total. The counter tracks genuine failed attempts only; callers
// requeuing for slot or budget contention must not pass through here.
func (s *Store) IncrementAttempts(ctx context.Context, id string) (int, error) {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE shares SET attempts = attempts + 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return 0, fmt.Errorf("increment attempts: %w", err)
	}
	var attempts int
	if err := s.db.QueryRowContext(ctx, `SELECT attempts FROM shares WHERE id = ?`, id).Scan(&attempts); err != nil {
		return 0, fmt.Errorf("read attempts: %w", err)
	}
	return attempts, nil
}

// Stats returns a count of shares grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM shares GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("share stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Health aggregates share state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for status, count := range stats {
		health.Total += count
		switch status {
		case StatusPending:
			health.Pending += count
		case StatusDone:
			health.Done += count
		case StatusError:
			health.Errored += count
		default:
			if IsInFlightStatus(status) {
				health.InFlight += count
			}
		}
	}
	return health, nil
}

const shareColumns = "id, user_id, url, platform, user_tier, content_type, status, workflow_state, title, description, media_url, has_captions, duration_seconds, error_code, error_message, attempts, created_at, updated_at, last_heartbeat"

func scanShare(scanner interface{ Scan(dest ...any) error }) (*Share, error) {
	var (
		id              string
		userID          string
		url             string
		platform        string
		userTier        string
		contentType     sql.NullString
		statusStr       string
		workflowState   sql.NullString
		title           sql.NullString
		description     sql.NullString
		mediaURL        sql.NullString
		hasCaptions     sql.NullInt64
		durationSeconds sql.NullInt64
		errorCode       sql.NullString
		errorMessage    sql.NullString
		attempts        sql.NullInt64
		createdRaw      sql.NullString
		updatedRaw      sql.NullString
		heartbeatRaw    sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&userID,
		&url,
		&platform,
		&userTier,
		&contentType,
		&statusStr,
		&workflowState,
		&title,
		&description,
		&mediaURL,
		&hasCaptions,
		&durationSeconds,
		&errorCode,
		&errorMessage,
		&attempts,
		&createdRaw,
		&updatedRaw,
		&heartbeatRaw,
	); err != nil {
		return nil, err
	}

	share := &Share{
		ID:              id,
		UserID:          userID,
		URL:             url,
		Platform:        platform,
		UserTier:        UserTier(userTier),
		ContentType:     ContentType(contentType.String),
		Status:          Status(statusStr),
		WorkflowState:   WorkflowState(workflowState.String),
		Title:           title.String,
		Description:     description.String,
		MediaURL:        mediaURL.String,
		DurationSeconds: int(durationSeconds.Int64),
		ErrorCode:       errorCode.String,
		ErrorMessage:    errorMessage.String,
		Attempts:        int(attempts.Int64),
	}
	if hasCaptions.Valid {
		share.HasCaptions = hasCaptions.Int64 != 0
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		share.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		share.UpdatedAt = updated
	}
	if heartbeatRaw.Valid {
		if heartbeat, err := parseTimeString(heartbeatRaw.String); err == nil {
			share.LastHeartbeat = &heartbeat
		}
	}
	return share, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
