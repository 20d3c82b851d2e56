package objstore

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memObject struct {
	data     []byte
	modified time.Time
}

// Memory is an in-process Store. Several pumps sharing one Memory behave
// like processes sharing a bucket.
type Memory struct {
	mu      sync.Mutex
	objects map[string]memObject
	now     func() time.Time
}

// NewMemory returns an empty store. now supplies last-modified times; nil
// means time.Now.
func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{objects: make(map[string]memObject), now: now}
}

// PutIfAbsent implements Store.
func (m *Memory) PutIfAbsent(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.objects[name]; ok {
		return ErrAlreadyExists
	}
	m.objects[name] = memObject{data: append([]byte(nil), data...), modified: m.now()}
	return nil
}

// Get implements Store.
func (m *Memory) Get(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	obj, ok := m.objects[name]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), obj.data...), nil
}

// List implements Store. Results are ordered by name.
func (m *Memory) List(ctx context.Context) ([]ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	infos := make([]ObjectInfo, 0, len(m.objects))
	for name, obj := range m.objects {
		infos = append(infos, ObjectInfo{Name: name, LastModified: obj.modified, Size: int64(len(obj.data))})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

// Delete implements Store.
func (m *Memory) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.objects, name)
	return nil
}

// Corrupt overwrites an object in place, bypassing write-once. Tests use it
// to simulate a damaged snapshot.
func (m *Memory) Corrupt(name string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj := m.objects[name]
	obj.data = data
	if obj.modified.IsZero() {
		obj.modified = m.now()
	}
	m.objects[name] = obj
}
