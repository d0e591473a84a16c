package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

const listActiveContentSizes = `
SELECT size_bytes
FROM content_items
WHERE user_id = $1
  AND deleted_at IS NULL
`

// ListActiveContentSizes returns the recorded size of every content item owned
// by userID that has not been soft-deleted. Sizes may be NULL.
func (q *Queries) ListActiveContentSizes(ctx context.Context, userID uuid.UUID) ([]sql.NullInt64, error) {
	rows, err := q.db.QueryContext(ctx, listActiveContentSizes, userID)
	if err != nil {
		return nil, fmt.Errorf("list content sizes: %w", err)
	}
	defer rows.Close()

	var sizes []sql.NullInt64
	for rows.Next() {
		var size sql.NullInt64
		if err := rows.Scan(&size); err != nil {
			return nil, fmt.Errorf("scan content size: %w", err)
		}
		sizes = append(sizes, size)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate content sizes: %w", err)
	}
	return sizes, nil
}

const createContentItem = `
INSERT INTO content_items (id, user_id, size_bytes)
VALUES ($1, $2, $3)
`

// CreateContentItemParams holds the columns for a new content record.
type CreateContentItemParams struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	SizeBytes sql.NullInt64
}

// CreateContentItem inserts a content record.
func (q *Queries) CreateContentItem(ctx context.Context, arg CreateContentItemParams) error {
	if _, err := q.db.ExecContext(ctx, createContentItem, arg.ID, arg.UserID, arg.SizeBytes); err != nil {
		return fmt.Errorf("create content item: %w", err)
	}
	return nil
}

const softDeleteContentItem = `
UPDATE content_items
SET deleted_at = NOW()
WHERE id = $1 AND deleted_at IS NULL
`

// SoftDeleteContentItem marks a content record as deleted.
func (q *Queries) SoftDeleteContentItem(ctx context.Context, id uuid.UUID) error {
	if _, err := q.db.ExecContext(ctx, softDeleteContentItem, id); err != nil {
		return fmt.Errorf("soft delete content item: %w", err)
	}
	return nil
}
