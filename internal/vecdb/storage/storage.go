// Package storage persists reference vectors and index graph snapshots,
// partitioned by taxonomy rank.
package storage

import "context"

// Vector represents a single indexed reference sequence at one rank.
// Metadata carries at least "label" (the taxonomy label at that rank);
// reference records may add "sh" (UNITE species hypothesis).
type Vector struct {
	ID        string
	Embedding []float32
	Metadata  map[string]string
}

// Storage persists per-rank vectors and index graph snapshots.
type Storage interface {
	// Vector operations
	Save(ctx context.Context, rank string, vectors []Vector) error
	Load(ctx context.Context, rank string) ([]Vector, error)

	// Graph snapshot operations, one snapshot per rank
	SaveGraph(ctx context.Context, rank string, data []byte) error
	LoadGraph(ctx context.Context, rank string) ([]byte, error)

	// Ranks lists ranks that have a stored graph snapshot.
	Ranks(ctx context.Context) ([]string, error)

	// Lifecycle
	Close() error
}
