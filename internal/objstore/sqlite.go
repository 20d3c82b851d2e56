package objstore

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/replicant/internal/store"
)

// SQLite is a Store over one container of the blobs table.
type SQLite struct {
	st        *store.Store
	container string
	now       func() time.Time
}

// NewSQLite returns a Store over container in st.
func NewSQLite(st *store.Store, container string) *SQLite {
	return &SQLite{st: st, container: container, now: time.Now}
}

// PutIfAbsent implements Store.
func (s *SQLite) PutIfAbsent(ctx context.Context, name string, data []byte) error {
	inserted, err := s.st.PutBlob(ctx, s.container, name, data, s.now())
	if err != nil {
		return fmt.Errorf("objstore %s: %w", s.container, err)
	}
	if !inserted {
		return ErrAlreadyExists
	}
	return nil
}

// Get implements Store.
func (s *SQLite) Get(ctx context.Context, name string) ([]byte, error) {
	data, found, err := s.st.GetBlob(ctx, s.container, name)
	if err != nil {
		return nil, fmt.Errorf("objstore %s: %w", s.container, err)
	}
	if !found {
		return nil, ErrNotFound
	}
	return data, nil
}

// List implements Store.
func (s *SQLite) List(ctx context.Context) ([]ObjectInfo, error) {
	blobs, err := s.st.ListBlobs(ctx, s.container)
	if err != nil {
		return nil, fmt.Errorf("objstore %s: %w", s.container, err)
	}
	infos := make([]ObjectInfo, len(blobs))
	for i, b := range blobs {
		infos[i] = ObjectInfo{Name: b.Name, LastModified: b.LastModified, Size: b.Size}
	}
	return infos, nil
}

// Delete implements Store.
func (s *SQLite) Delete(ctx context.Context, name string) error {
	if err := s.st.DeleteBlob(ctx, s.container, name); err != nil {
		return fmt.Errorf("objstore %s: %w", s.container, err)
	}
	return nil
}
