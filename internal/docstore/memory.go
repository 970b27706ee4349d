package docstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Memory is an in-process Store used by unit tests and local
// development. It mirrors the semantics of the persistent backends.
type Memory struct {
	mu   sync.RWMutex
	docs map[string]Doc
}

func NewMemory() *Memory {
	return &Memory{docs: make(map[string]Doc)}
}

func (m *Memory) Get(ctx context.Context, path string) (Doc, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[path]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneDoc(doc), nil
}

func (m *Memory) Create(ctx context.Context, path string, doc Doc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[path]; ok {
		return fmt.Errorf("create %s: %w", path, ErrExists)
	}
	m.docs[path] = cloneDoc(doc)
	return nil
}

func (m *Memory) Set(ctx context.Context, path string, doc Doc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing := m.docs[path]
	m.docs[path] = merge(existing, cloneDoc(doc))
	return nil
}

func (m *Memory) Delete(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, path)
	return nil
}

func (m *Memory) DeleteCollection(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := path + "/"
	for docPath := range m.docs {
		if strings.HasPrefix(docPath, prefix) {
			delete(m.docs, docPath)
		}
	}
	return nil
}

func (m *Memory) Query(ctx context.Context, collection string, q Query) ([]Document, error) {
	m.mu.RLock()
	docs := make([]Document, 0)
	for path, doc := range m.docs {
		if Parent(path) == collection {
			docs = append(docs, Document{ID: LastSegment(path), Data: cloneDoc(doc)})
		}
	}
	m.mu.RUnlock()

	// Stable input order so unordered queries are deterministic.
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return applyQuery(docs, q), nil
}

func (m *Memory) Batch() Batch {
	return &memoryBatch{store: m}
}

func (m *Memory) Ping(ctx context.Context) error {
	return nil
}

type memoryBatch struct {
	store  *Memory
	writes []Document
	paths  []string
}

func (b *memoryBatch) Set(path string, doc Doc) {
	b.paths = append(b.paths, path)
	b.writes = append(b.writes, Document{ID: path, Data: cloneDoc(doc)})
}

func (b *memoryBatch) Commit(ctx context.Context) error {
	if len(b.writes) > MaxBatchSize {
		return fmt.Errorf("batch of %d exceeds max of %d operations", len(b.writes), MaxBatchSize)
	}
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	for i, path := range b.paths {
		b.store.docs[path] = b.writes[i].Data
	}
	return nil
}

func cloneDoc(doc Doc) Doc {
	if doc == nil {
		return nil
	}
	cloned := make(Doc, len(doc))
	for k, v := range doc {
		cloned[k] = cloneValue(v)
	}
	return cloned
}

func cloneValue(v any) any {
	switch value := v.(type) {
	case Doc:
		return cloneDoc(value)
	case []any:
		cloned := make([]any, len(value))
		for i, element := range value {
			cloned[i] = cloneValue(element)
		}
		return cloned
	case []string:
		return append([]string(nil), value...)
	default:
		return v
	}
}
