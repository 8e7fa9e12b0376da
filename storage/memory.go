package storage

import (
	"context"
	"fmt"
	"sync"

	"prism-board/domain"
)

// MemoryStore keeps the document in process memory. Every save is pushed to
// the subscribers of the same store.
type MemoryStore struct {
	mu   sync.Mutex
	doc  *domain.Document
	subs map[int]ChangeFunc
	next int
}

// NewMemory returns an empty store; its first Load reports domain.ErrNoData.
func NewMemory() *MemoryStore {
	return &MemoryStore{subs: make(map[int]ChangeFunc)}
}

// NewMemoryWith returns a store already holding doc.
func NewMemoryWith(doc domain.Document) *MemoryStore {
	m := NewMemory()
	cp := domain.Clone(domain.Normalize(doc))
	m.doc = &cp
	return m
}

func (m *MemoryStore) Load(ctx context.Context) (domain.Document, error) {
	if err := ctx.Err(); err != nil {
		return domain.Document{}, fmt.Errorf("%w: %v", domain.ErrLoad, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.doc == nil {
		return domain.Document{}, domain.ErrNoData
	}
	return domain.Clone(*m.doc), nil
}

func (m *MemoryStore) Save(ctx context.Context, doc domain.Document) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSave, err)
	}
	m.mu.Lock()
	m.store(doc)
	m.mu.Unlock()
	m.publish(doc)
	return nil
}

func (m *MemoryStore) SaveIfVersion(ctx context.Context, doc domain.Document, expected int64) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSave, err)
	}
	m.mu.Lock()
	var current int64
	if m.doc != nil {
		current = m.doc.Version
	}
	if current != expected {
		m.mu.Unlock()
		return fmt.Errorf("%w: stored version %d, expected %d", domain.ErrVersionConflict, current, expected)
	}
	m.store(doc)
	m.mu.Unlock()
	m.publish(doc)
	return nil
}

func (m *MemoryStore) store(doc domain.Document) {
	cp := domain.Clone(domain.Normalize(doc))
	m.doc = &cp
}

func (m *MemoryStore) publish(doc domain.Document) {
	m.mu.Lock()
	subs := make([]ChangeFunc, 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()
	for _, fn := range subs {
		fn(domain.Clone(domain.Normalize(doc)))
	}
}

func (m *MemoryStore) Subscribe(_ context.Context, onChange ChangeFunc, _ func(error)) (func(), error) {
	m.mu.Lock()
	id := m.next
	m.next++
	m.subs[id] = onChange
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}, nil
}
