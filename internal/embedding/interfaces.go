// Package embedding defines the EmbeddingModel collaborator contract (C9)
// and reference adapters implementing it.
package embedding

import "context"

// Model turns text into a dense vector.
type Model interface {
	Encode(ctx context.Context, text string) ([]float32, error)
	EncodeBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	Close() error
}
