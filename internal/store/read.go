package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/replicant/internal/ir"
)

// BlobInfo describes one stored blob without its content.
type BlobInfo struct {
	Name         string
	LastModified time.Time
	Size         int64
}

// ReadMessages returns up to limit messages of a topic starting at from
// (inclusive), ordered by watermark. limit <= 0 means no limit.
//
// Returns an empty slice (not nil) if no messages exist at or after from.
func (s *Store) ReadMessages(ctx context.Context, topic string, from ir.Watermark, limit int) ([]ir.Message, error) {
	if limit <= 0 {
		limit = -1 // SQLite: negative LIMIT means unbounded
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT watermark, request_id, payload
		FROM messages
		WHERE topic = ? AND watermark >= ?
		ORDER BY watermark ASC
		LIMIT ?
	`, topic, int64(from), limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := []ir.Message{}
	for rows.Next() {
		var (
			w   int64
			msg ir.Message
		)
		if err := rows.Scan(&w, &msg.RequestID, &msg.Payload); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Watermark = ir.Watermark(w)
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return messages, nil
}

// HeadWatermark returns the watermark of the newest message in a topic, or
// ir.NoWatermark when the topic is empty.
func (s *Store) HeadWatermark(ctx context.Context, topic string) (ir.Watermark, error) {
	var w sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(watermark) FROM messages WHERE topic = ?
	`, topic).Scan(&w)
	if err != nil {
		return ir.NoWatermark, fmt.Errorf("head watermark: %w", err)
	}
	if !w.Valid {
		return ir.NoWatermark, nil
	}
	return ir.Watermark(w.Int64), nil
}

// GetBlob returns a blob's content. found=false when the name is absent.
func (s *Store) GetBlob(ctx context.Context, container, name string) (data []byte, found bool, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT data FROM blobs WHERE container = ? AND name = ?
	`, container, name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get blob: %w", err)
	}
	return data, true, nil
}

// ListBlobs returns metadata for every blob in a container, ordered by name.
//
// Returns an empty slice (not nil) if the container is empty.
func (s *Store) ListBlobs(ctx context.Context, container string) ([]BlobInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, last_modified, length(data)
		FROM blobs
		WHERE container = ?
		ORDER BY name COLLATE BINARY ASC
	`, container)
	if err != nil {
		return nil, fmt.Errorf("query blobs: %w", err)
	}
	defer rows.Close()

	infos := []BlobInfo{}
	for rows.Next() {
		var (
			info     BlobInfo
			modified int64
		)
		if err := rows.Scan(&info.Name, &modified, &info.Size); err != nil {
			return nil, fmt.Errorf("scan blob: %w", err)
		}
		info.LastModified = time.Unix(0, modified).UTC()
		infos = append(infos, info)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate blobs: %w", err)
	}

	return infos, nil
}
