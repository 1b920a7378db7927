package memory

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/Keyring-Network/newslens/internal/gateway"
	"github.com/Keyring-Network/newslens/internal/store"
)

type MemoryStore struct {
	mu         sync.RWMutex
	entries    map[string]*list.Element
	recency    *list.List
	maxEntries int
	now        func() time.Time
}

// New returns an in-process cache. maxEntries <= 0 disables eviction.
func New(maxEntries int) *MemoryStore {
	if maxEntries < 0 {
		maxEntries = 0
	}
	return &MemoryStore{
		entries:    map[string]*list.Element{},
		recency:    list.New(),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

func (m *MemoryStore) Get(ctx context.Context, url string) (gateway.RelatedArticleSet, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	elem, ok := m.entries[store.Key(url)]
	if !ok {
		return nil, false, nil
	}
	m.recency.MoveToFront(elem)
	entry := elem.Value.(store.Entry)
	return entry.Articles.Clone(), true, nil
}

func (m *MemoryStore) Put(ctx context.Context, url string, articles gateway.RelatedArticleSet) error {
	if articles == nil {
		articles = gateway.RelatedArticleSet{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := store.Key(url)
	entry := store.Entry{
		Key:      key,
		URL:      url,
		Articles: articles.Clone(),
		StoredAt: m.now().UTC(),
	}
	if elem, ok := m.entries[key]; ok {
		elem.Value = entry
		m.recency.MoveToFront(elem)
		return nil
	}
	m.entries[key] = m.recency.PushFront(entry)
	m.evictLocked()
	return nil
}

func (m *MemoryStore) Len(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries), nil
}

// Entry returns the stored entry for url without touching its recency.
func (m *MemoryStore) Entry(url string) (store.Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	elem, ok := m.entries[store.Key(url)]
	if !ok {
		return store.Entry{}, false
	}
	entry := elem.Value.(store.Entry)
	entry.Articles = entry.Articles.Clone()
	return entry, true
}

func (m *MemoryStore) Close() error {
	return nil
}

func (m *MemoryStore) evictLocked() {
	if m.maxEntries == 0 {
		return
	}
	for len(m.entries) > m.maxEntries {
		oldest := m.recency.Back()
		if oldest == nil {
			return
		}
		m.recency.Remove(oldest)
		delete(m.entries, oldest.Value.(store.Entry).Key)
	}
}
