package directory

import (
	"context"
	"fmt"

	gocache "github.com/patrickmn/go-cache"
)

// memoryStore 进程内存储
type memoryStore struct {
	cache *gocache.Cache
}

// newMemoryStore 创建内存存储，条目不过期，由房间删除事件移除
func newMemoryStore() Store {
	return &memoryStore{
		cache: gocache.New(gocache.NoExpiration, 0),
	}
}

func (m *memoryStore) Put(_ context.Context, e Entry) error {
	m.cache.Set(e.RoomID, e, gocache.NoExpiration)
	return nil
}

func (m *memoryStore) Get(_ context.Context, roomID string) (Entry, error) {
	v, found := m.cache.Get(roomID)
	if !found {
		return Entry{}, ErrNotFound
	}
	e, ok := v.(Entry)
	if !ok {
		return Entry{}, fmt.Errorf("%w: invalid entry type %T", ErrSerialization, v)
	}
	return e, nil
}

func (m *memoryStore) Delete(_ context.Context, roomID string) error {
	m.cache.Delete(roomID)
	return nil
}

func (m *memoryStore) List(_ context.Context) ([]Entry, error) {
	items := m.cache.Items()
	out := make([]Entry, 0, len(items))
	for _, item := range items {
		if e, ok := item.Object.(Entry); ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memoryStore) Reset(_ context.Context) error {
	m.cache.Flush()
	return nil
}

func (m *memoryStore) Ping(context.Context) error { return nil }

func (m *memoryStore) Close() error {
	m.cache.Flush()
	return nil
}
