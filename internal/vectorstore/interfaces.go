// Package vectorstore defines the VectorStore collaborator contract (C9)
// and reference adapters implementing it.
package vectorstore

import (
	"context"

	"github.com/indexforge/ingestcore/internal/chunk"
)

// BatchObject is one object submitted to a batch write.
type BatchObject struct {
	ID     string
	Vector []float32
	Object map[string]any
}

// Query describes a similarity search request.
type Query struct {
	Vector []float32
	Filter map[string]any
}

// SearchResult is the page of hits returned by Search.
type SearchResult struct {
	Hits       []map[string]any
	NextCursor *string
}

// Store is the external vector-store collaborator the batch engine writes
// through.
type Store interface {
	Create(ctx context.Context, collection string, obj map[string]any, id *string) (string, error)
	Get(ctx context.Context, collection, id string) (map[string]any, bool, error)
	Update(ctx context.Context, collection, id string, obj map[string]any) (bool, error)
	Delete(ctx context.Context, collection, id string) (bool, error)
	BatchInsert(ctx context.Context, collection string, items []BatchObject, size int, dynamic bool) ([]chunk.ItemOutcome, error)
	BatchDelete(ctx context.Context, collection string, ids []string, size int) ([]chunk.ItemOutcome, error)
	Search(ctx context.Context, collection string, query Query, limit int, cursor *string) (SearchResult, error)
	Stats(ctx context.Context, collection string) (chunk.DocumentStats, error)
	HealthCheck(ctx context.Context) bool
}
