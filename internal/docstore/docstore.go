// Package docstore provides a small document-store abstraction: JSON
// documents addressed by slash-separated paths, grouped into collections
// (the path minus its last segment), with merge upserts, recursive
// collection deletes, filtered queries and batched writes.
package docstore

import (
	"context"
	"errors"
	"strings"
)

// MaxBatchSize is the maximum number of staged writes a single batch
// commit will accept.
const MaxBatchSize = 500

var (
	ErrNotFound = errors.New("document not found")
	ErrExists   = errors.New("document already exists")
)

// Doc is the decoded JSON object of a document.
type Doc = map[string]any

// Document pairs a document's id (last path segment) with its data.
type Document struct {
	ID   string
	Data Doc
}

// Filter is a single conjunctive query predicate. Supported ops:
// ==, !=, <, <=, >, >= and array-contains.
type Filter struct {
	Field string `json:"field"`
	Op    string `json:"op"`
	Value any    `json:"value"`
}

// Query describes a collection read: zero or more filters ANDed
// together, an optional single-field ordering and an optional limit.
type Query struct {
	Where   []Filter
	OrderBy string
	Order   string // "asc" (default) or "desc"
	Limit   int
}

// Batch stages full-document writes to be committed together. Unlike
// Store.Set, a batched Set replaces the document wholesale.
type Batch interface {
	Set(path string, doc Doc)
	Commit(ctx context.Context) error
}

type Store interface {
	// Get returns the document at path, or ErrNotFound.
	Get(ctx context.Context, path string) (Doc, error)
	// Create writes a new document, failing with ErrExists if the path
	// is already taken.
	Create(ctx context.Context, path string, doc Doc) error
	// Set upserts, shallow-merging doc into any existing document.
	Set(ctx context.Context, path string, doc Doc) error
	Delete(ctx context.Context, path string) error
	// DeleteCollection removes every document under path, recursively.
	DeleteCollection(ctx context.Context, path string) error
	Query(ctx context.Context, collection string, q Query) ([]Document, error)
	Batch() Batch
	Ping(ctx context.Context) error
}

// Parent returns the collection a document path belongs to.
func Parent(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return ""
	}
	return path[:idx]
}

// LastSegment returns the document id portion of a path.
func LastSegment(path string) string {
	idx := strings.LastIndex(path, "/")
	return path[idx+1:]
}

// merge shallow-merges patch over base, returning a new map.
func merge(base, patch Doc) Doc {
	merged := make(Doc, len(base)+len(patch))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range patch {
		merged[k] = v
	}
	return merged
}
