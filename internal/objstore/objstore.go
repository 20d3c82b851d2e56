// Package objstore defines the named-blob storage the core consumes and
// provides implementations for it.
//
// Contract:
//   - PutIfAbsent is write-once: a second write under an existing name
//     returns ErrAlreadyExists and leaves the original content untouched
//   - Delete is idempotent: deleting a missing object returns nil
//   - List reports every object with its last-modified time
//
// These two guarantees are the only coordination the pump relies on when
// several processes snapshot and sweep the same store.
package objstore

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrAlreadyExists is returned by PutIfAbsent when the name is taken.
	ErrAlreadyExists = errors.New("object already exists")

	// ErrNotFound is returned by Get when the name is absent.
	ErrNotFound = errors.New("object not found")
)

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Name         string
	LastModified time.Time
	Size         int64
}

// Store is a named-blob store.
type Store interface {
	PutIfAbsent(ctx context.Context, name string, data []byte) error
	Get(ctx context.Context, name string) ([]byte, error)
	List(ctx context.Context) ([]ObjectInfo, error)
	Delete(ctx context.Context, name string) error
}
