// Package embedding converts DNA barcode sequences into dense vectors.
package embedding

import "context"

// Embedder converts sequences to vectors.
type Embedder interface {
	// Embed converts sequences to embedding vectors.
	Embed(ctx context.Context, seqs []string) ([][]float32, error)

	// Dimensions returns the embedding dimensionality.
	Dimensions() int

	// Name returns the embedder name.
	Name() string
}
