// Package vecdb manages per-model vector databases. Each database is one
// SQLite file holding a nearest-neighbor index per taxonomy rank.
package vecdb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"taxotag/internal/vecdb/index"
	"taxotag/internal/vecdb/storage"
)

// Common errors
var (
	ErrNoDatabase  = errors.New("vecdb: database not found")
	ErrUnknownRank = errors.New("vecdb: unknown rank")
	ErrDimMismatch = errors.New("vecdb: vector dimension mismatch")
	ErrEmptyQuery  = errors.New("vecdb: empty query")
)

// Error wraps errors with operation context.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("vecdb.%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WrapError wraps an error with operation context.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// Database is a per-model vector database: one index per taxonomy rank over
// shared storage. Searches are read-only; Insert and Snapshot are used by the
// offline build path.
type Database struct {
	store   storage.Storage
	indexes map[string]*index.HNSW
	cfg     index.Config
	dims    int
	mu      sync.RWMutex
}

// Open loads an existing database file and all of its rank indexes.
// A missing file returns ErrNoDatabase; databases are pre-built, never
// created implicitly on the search path.
func Open(ctx context.Context, path string, cfg index.Config) (*Database, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, WrapError("Open", fmt.Errorf("%w: %s", ErrNoDatabase, path))
	}

	store, err := storage.NewSQLite(path)
	if err != nil {
		return nil, WrapError("Open", err)
	}

	db := &Database{store: store, indexes: make(map[string]*index.HNSW), cfg: cfg}
	if err := db.loadIndexes(ctx); err != nil {
		store.Close()
		return nil, WrapError("Open", err)
	}
	return db, nil
}

// Create makes a new database file for building. The file may already exist;
// its contents are extended, not replaced.
func Create(ctx context.Context, path string, cfg index.Config) (*Database, error) {
	store, err := storage.NewSQLite(path)
	if err != nil {
		return nil, WrapError("Create", err)
	}

	db := &Database{store: store, indexes: make(map[string]*index.HNSW), cfg: cfg}
	if err := db.loadIndexes(ctx); err != nil {
		store.Close()
		return nil, WrapError("Create", err)
	}
	return db, nil
}

// NewWithStorage builds a database over existing storage. Used by tests and
// anywhere a non-SQLite backend is wanted.
func NewWithStorage(ctx context.Context, store storage.Storage, cfg index.Config) (*Database, error) {
	db := &Database{store: store, indexes: make(map[string]*index.HNSW), cfg: cfg}
	if err := db.loadIndexes(ctx); err != nil {
		return nil, WrapError("New", err)
	}
	return db, nil
}

// loadIndexes restores every stored rank graph.
func (db *Database) loadIndexes(ctx context.Context) error {
	ranks, err := db.store.Ranks(ctx)
	if err != nil {
		return fmt.Errorf("failed to list ranks: %w", err)
	}
	for _, rank := range ranks {
		data, err := db.store.LoadGraph(ctx, rank)
		if err != nil {
			return fmt.Errorf("failed to load graph for rank %s: %w", rank, err)
		}
		if data == nil {
			continue
		}
		idx := index.New(db.cfg)
		if err := idx.Unmarshal(data); err != nil {
			return fmt.Errorf("failed to restore index for rank %s: %w", rank, err)
		}
		db.indexes[rank] = idx
		if db.dims == 0 {
			db.dims = idx.Dims()
		}
	}
	return nil
}

// Insert adds vectors to a rank's index and persists them. The first insert
// fixes the database dimensionality.
func (db *Database) Insert(ctx context.Context, rank string, vectors []storage.Vector) error {
	if len(vectors) == 0 {
		return nil
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if db.dims == 0 {
		db.dims = len(vectors[0].Embedding)
	}
	for _, v := range vectors {
		if len(v.Embedding) != db.dims {
			return WrapError("Insert", fmt.Errorf("%w: got %d, want %d", ErrDimMismatch, len(v.Embedding), db.dims))
		}
	}

	idx, ok := db.indexes[rank]
	if !ok {
		idx = index.New(db.cfg)
		db.indexes[rank] = idx
	}
	if err := idx.Add(vectors); err != nil {
		return WrapError("Insert", err)
	}
	if err := db.store.Save(ctx, rank, vectors); err != nil {
		return WrapError("Insert", err)
	}
	return nil
}

// Snapshot persists every rank's index graph.
func (db *Database) Snapshot(ctx context.Context) error {
	db.mu.RLock()
	defer db.mu.RUnlock()

	for rank, idx := range db.indexes {
		data, err := idx.Marshal()
		if err != nil {
			return WrapError("Snapshot", fmt.Errorf("rank %s: %w", rank, err))
		}
		if err := db.store.SaveGraph(ctx, rank, data); err != nil {
			return WrapError("Snapshot", fmt.Errorf("rank %s: %w", rank, err))
		}
	}
	return nil
}

// Search returns the k nearest neighbors in one rank's index.
func (db *Database) Search(ctx context.Context, rank string, query []float32, k int) ([]index.SearchResult, error) {
	if len(query) == 0 {
		return nil, WrapError("Search", ErrEmptyQuery)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	db.mu.RLock()
	dims := db.dims
	idx, ok := db.indexes[rank]
	db.mu.RUnlock()
	if !ok {
		return nil, WrapError("Search", fmt.Errorf("%w: %s", ErrUnknownRank, rank))
	}
	if dims != 0 && len(query) != dims {
		return nil, WrapError("Search", fmt.Errorf("%w: query has %d dimensions, index has %d", ErrDimMismatch, len(query), dims))
	}

	results, err := idx.Search(query, k)
	if err != nil {
		return nil, WrapError("Search", err)
	}
	return results, nil
}

// Ranks returns the ranks with an index, sorted.
func (db *Database) Ranks() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	ranks := make([]string, 0, len(db.indexes))
	for r := range db.indexes {
		ranks = append(ranks, r)
	}
	sort.Strings(ranks)
	return ranks
}

// Counts returns the number of indexed vectors per rank.
func (db *Database) Counts() map[string]int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	counts := make(map[string]int, len(db.indexes))
	for r, idx := range db.indexes {
		counts[r] = idx.Len()
	}
	return counts
}

// Close closes the underlying storage.
func (db *Database) Close() error {
	return db.store.Close()
}
