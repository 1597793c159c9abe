package shares

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

// ListFilter narrows List results. Zero-valued fields are not applied.
type ListFilter struct {
	Statuses []Status
	Platform string
	UserID   string
	Limit    uint64
}

// List returns shares matching the filter ordered by creation time.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]*Share, error) {
	builder := sq.Select(shareColumns).
		From("shares").
		OrderBy("created_at")

	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, status := range filter.Statuses {
			statuses = append(statuses, string(status))
		}
		builder = builder.Where(sq.Eq{"status": statuses})
	}
	if filter.Platform != "" {
		builder = builder.Where(sq.Eq{"platform": filter.Platform})
	}
	if filter.UserID != "" {
		builder = builder.Where(sq.Eq{"user_id": filter.UserID})
	}
	if filter.Limit > 0 {
		builder = builder.Limit(filter.Limit)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list shares: %w", err)
	}
	defer rows.Close()

	var items []*Share
	for rows.Next() {
		share, err := scanShare(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, share)
	}
	return items, rows.Err()
}
