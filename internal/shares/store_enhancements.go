package shares

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// EnsureEnhancement returns the enhancement record for a share, creating it
// lazily when the share first enters the enhancement path.
func (s *Store) EnsureEnhancement(ctx context.Context, shareID string) (*EnhancementRecord, error) {
	record, err := s.GetEnhancement(ctx, shareID)
	if err != nil {
		return nil, err
	}
	if record != nil {
		return record, nil
	}

	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO enhancement_records (share_id, created_at, updated_at) VALUES (?, ?, ?)
             ON CONFLICT (share_id) DO NOTHING`,
		shareID,
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert enhancement record: %w", err)
	}
	return s.GetEnhancement(ctx, shareID)
}

// GetEnhancement fetches the enhancement record for a share, nil when absent.
func (s *Store) GetEnhancement(ctx context.Context, shareID string) (*EnhancementRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+enhancementColumns+` FROM enhancement_records WHERE share_id = ?`, shareID)
	record, err := scanEnhancement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get enhancement record: %w", err)
	}
	return record, nil
}

// UpdateEnhancement persists changes to an enhancement record.
func (s *Store) UpdateEnhancement(ctx context.Context, record *EnhancementRecord) error {
	if record == nil {
		return errors.New("enhancement record is nil")
	}
	record.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE enhancement_records
         SET download_status = ?, transcription_status = ?, summary_status = ?, embedding_status = ?,
             retry_count = ?, last_error = ?, active_phase = ?, active_correlation_id = ?,
             fast_embedded_at = ?, enhanced_embedded_at = ?, embeddings_generated = ?,
             chapters_generated = ?, updated_at = ?
         WHERE share_id = ?`,
		string(record.Download),
		string(record.Transcription),
		string(record.Summary),
		string(record.Embedding),
		record.RetryCount,
		nullableString(record.LastError),
		nullableString(string(record.ActivePhase)),
		nullableString(record.ActiveCorrelationID),
		nullableTime(record.FastEmbeddedAt),
		nullableTime(record.EnhancedEmbeddedAt),
		record.EmbeddingsGenerated,
		record.ChaptersGenerated,
		record.UpdatedAt.Format(time.RFC3339Nano),
		record.ShareID,
	)
	if err != nil {
		return fmt.Errorf("update enhancement record: %w", err)
	}
	return nil
}

// ActiveEnhancements returns records with an in-flight phase joined with the
// share fields the timeout sweep needs to compute content-type deadlines.
func (s *Store) ActiveEnhancements(ctx context.Context) ([]*ActiveEnhancement, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+prefixedEnhancementColumns+`, s.content_type, s.platform, s.user_id, s.user_tier
         FROM enhancement_records r
         JOIN shares s ON s.id = r.share_id
         WHERE r.active_phase IS NOT NULL AND r.active_phase != ''
         ORDER BY r.updated_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("query active enhancements: %w", err)
	}
	defer rows.Close()

	var active []*ActiveEnhancement
	for rows.Next() {
		entry, err := scanActiveEnhancement(rows)
		if err != nil {
			return nil, err
		}
		active = append(active, entry)
	}
	return active, rows.Err()
}

const enhancementColumns = "share_id, download_status, transcription_status, summary_status, embedding_status, retry_count, last_error, active_phase, active_correlation_id, fast_embedded_at, enhanced_embedded_at, embeddings_generated, chapters_generated, created_at, updated_at"

const prefixedEnhancementColumns = "r.share_id, r.download_status, r.transcription_status, r.summary_status, r.embedding_status, r.retry_count, r.last_error, r.active_phase, r.active_correlation_id, r.fast_embedded_at, r.enhanced_embedded_at, r.embeddings_generated, r.chapters_generated, r.created_at, r.updated_at"

func scanEnhancement(scanner interface{ Scan(dest ...any) error }) (*EnhancementRecord, error) {
	var (
		shareID       string
		download      string
		transcription string
		summary       string
		embedding     string
		retryCount    int
		lastError     sql.NullString
		activePhase   sql.NullString
		activeCorrID  sql.NullString
		fastRaw       sql.NullString
		enhancedRaw   sql.NullString
		embeddingsGen int
		chaptersGen   int
		createdRaw    sql.NullString
		updatedRaw    sql.NullString
	)

	if err := scanner.Scan(
		&shareID,
		&download,
		&transcription,
		&summary,
		&embedding,
		&retryCount,
		&lastError,
		&activePhase,
		&activeCorrID,
		&fastRaw,
		&enhancedRaw,
		&embeddingsGen,
		&chaptersGen,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	record := &EnhancementRecord{
		ShareID:             shareID,
		Download:            PhaseStatus(download),
		Transcription:       PhaseStatus(transcription),
		Summary:             PhaseStatus(summary),
		Embedding:           PhaseStatus(embedding),
		RetryCount:          retryCount,
		LastError:           lastError.String,
		ActivePhase:         Phase(activePhase.String),
		ActiveCorrelationID: activeCorrID.String,
		EmbeddingsGenerated: embeddingsGen,
		ChaptersGenerated:   chaptersGen,
	}
	if fastRaw.Valid {
		if t, err := parseTimeString(fastRaw.String); err == nil {
			record.FastEmbeddedAt = &t
		}
	}
	if enhancedRaw.Valid {
		if t, err := parseTimeString(enhancedRaw.String); err == nil {
			record.EnhancedEmbeddedAt = &t
		}
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		record.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		record.UpdatedAt = updated
	}
	return record, nil
}

func scanActiveEnhancement(scanner interface{ Scan(dest ...any) error }) (*ActiveEnhancement, error) {
	var (
		shareID       string
		download      string
		transcription string
		summary       string
		embedding     string
		retryCount    int
		lastError     sql.NullString
		activePhase   sql.NullString
		activeCorrID  sql.NullString
		fastRaw       sql.NullString
		enhancedRaw   sql.NullString
		embeddingsGen int
		chaptersGen   int
		createdRaw    sql.NullString
		updatedRaw    sql.NullString
		contentType   sql.NullString
		platform      string
		userID        string
		userTier      string
	)

	if err := scanner.Scan(
		&shareID,
		&download,
		&transcription,
		&summary,
		&embedding,
		&retryCount,
		&lastError,
		&activePhase,
		&activeCorrID,
		&fastRaw,
		&enhancedRaw,
		&embeddingsGen,
		&chaptersGen,
		&createdRaw,
		&updatedRaw,
		&contentType,
		&platform,
		&userID,
		&userTier,
	); err != nil {
		return nil, err
	}

	record := &EnhancementRecord{
		ShareID:             shareID,
		Download:            PhaseStatus(download),
		Transcription:       PhaseStatus(transcription),
		Summary:             PhaseStatus(summary),
		Embedding:           PhaseStatus(embedding),
		RetryCount:          retryCount,
		LastError:           lastError.String,
		ActivePhase:         Phase(activePhase.String),
		ActiveCorrelationID: activeCorrID.String,
		EmbeddingsGenerated: embeddingsGen,
		ChaptersGenerated:   chaptersGen,
	}
	if fastRaw.Valid {
		if t, err := parseTimeString(fastRaw.String); err == nil {
			record.FastEmbeddedAt = &t
		}
	}
	if enhancedRaw.Valid {
		if t, err := parseTimeString(enhancedRaw.String); err == nil {
			record.EnhancedEmbeddedAt = &t
		}
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		record.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		record.UpdatedAt = updated
	}

	return &ActiveEnhancement{
		Record:      record,
		ContentType: ContentType(contentType.String),
		Platform:    platform,
		UserID:      userID,
		UserTier:    UserTier(userTier),
	}, nil
}
