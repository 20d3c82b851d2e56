package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/replicant/internal/ir"
)

// AppendMessage appends a message to the topic's log and returns the
// watermark assigned to it. The first message of a topic gets watermark 0.
//
// The watermark is computed and inserted in one statement, so concurrent
// appenders (including other processes sharing the file) serialize on the
// SQLite write lock and never observe the same MAX.
func (s *Store) AppendMessage(ctx context.Context, topic, requestID string, payload []byte, publishedAt time.Time) (ir.Watermark, error) {
	if payload == nil {
		payload = []byte{}
	}

	var w int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO messages (topic, watermark, request_id, payload, published_at)
		SELECT ?, COALESCE(MAX(watermark), -1) + 1, ?, ?, ?
		FROM messages WHERE topic = ?
		RETURNING watermark
	`,
		topic,
		requestID,
		payload,
		publishedAt.UnixNano(),
		topic,
	).Scan(&w)
	if err != nil {
		return ir.NoWatermark, fmt.Errorf("append message: %w", err)
	}

	return ir.Watermark(w), nil
}

// PutBlob inserts a blob if no blob with the same name exists in the
// container. Uses ON CONFLICT DO NOTHING - inserted=false reports that the
// name was already taken and the existing content was left untouched.
func (s *Store) PutBlob(ctx context.Context, container, name string, data []byte, modified time.Time) (inserted bool, err error) {
	if data == nil {
		data = []byte{}
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO blobs (container, name, data, last_modified)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(container, name) DO NOTHING
	`,
		container,
		name,
		data,
		modified.UnixNano(),
	)
	if err != nil {
		return false, fmt.Errorf("put blob: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("put blob: rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// DeleteBlob removes a blob. Deleting a missing blob is not an error.
func (s *Store) DeleteBlob(ctx context.Context, container, name string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM blobs WHERE container = ? AND name = ?
	`, container, name)
	if err != nil {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}
