package vecdb

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"taxotag/internal/vecdb/index"
	"taxotag/internal/vecdb/storage"
)

func TestOpenMissingDatabase(t *testing.T) {
	_, err := Open(context.Background(), filepath.Join(t.TempDir(), "nope.db"), index.Config{})
	if !errors.Is(err, ErrNoDatabase) {
		t.Fatalf("expected ErrNoDatabase, got %v", err)
	}
}

func TestInsertSearchAcrossRanks(t *testing.T) {
	ctx := context.Background()
	db, err := NewWithStorage(ctx, storage.NewMemory(), index.Config{})
	if err != nil {
		t.Fatalf("NewWithStorage: %v", err)
	}
	defer db.Close()

	err = db.Insert(ctx, "phylum", []storage.Vector{
		{ID: "seq1", Embedding: []float32{1, 0, 0}, Metadata: map[string]string{"label": "Ascomycota"}},
		{ID: "seq2", Embedding: []float32{0, 1, 0}, Metadata: map[string]string{"label": "Basidiomycota"}},
	})
	if err != nil {
		t.Fatalf("Insert phylum: %v", err)
	}
	err = db.Insert(ctx, "species", []storage.Vector{
		{ID: "seq1", Embedding: []float32{1, 0, 0}, Metadata: map[string]string{"label": "Amanita_muscaria"}},
	})
	if err != nil {
		t.Fatalf("Insert species: %v", err)
	}

	results, err := db.Search(ctx, "phylum", []float32{0.9, 0.1, 0}, 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Metadata["label"] != "Ascomycota" {
		t.Errorf("unexpected results: %v", results)
	}

	ranks := db.Ranks()
	if len(ranks) != 2 || ranks[0] != "phylum" || ranks[1] != "species" {
		t.Errorf("Ranks = %v", ranks)
	}
	counts := db.Counts()
	if counts["phylum"] != 2 || counts["species"] != 1 {
		t.Errorf("Counts = %v", counts)
	}
}

func TestSearchUnknownRank(t *testing.T) {
	ctx := context.Background()
	db, _ := NewWithStorage(ctx, storage.NewMemory(), index.Config{})
	defer db.Close()

	_, err := db.Search(ctx, "genus", []float32{1, 0}, 1)
	if !errors.Is(err, ErrUnknownRank) {
		t.Fatalf("expected ErrUnknownRank, got %v", err)
	}

	_, err = db.Search(ctx, "genus", nil, 1)
	if !errors.Is(err, ErrEmptyQuery) {
		t.Fatalf("expected ErrEmptyQuery, got %v", err)
	}
}

func TestInsertDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	db, _ := NewWithStorage(ctx, storage.NewMemory(), index.Config{})
	defer db.Close()

	if err := db.Insert(ctx, "phylum", []storage.Vector{{ID: "a", Embedding: []float32{1, 0, 0}}}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	err := db.Insert(ctx, "genus", []storage.Vector{{ID: "b", Embedding: []float32{1, 0}}})
	if !errors.Is(err, ErrDimMismatch) {
		t.Fatalf("expected ErrDimMismatch, got %v", err)
	}
}

func TestSearchDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	db, _ := NewWithStorage(ctx, storage.NewMemory(), index.Config{})
	defer db.Close()

	if err := db.Insert(ctx, "species", []storage.Vector{{ID: "a", Embedding: []float32{1, 0, 0}}}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	_, err := db.Search(ctx, "species", []float32{1, 0}, 1)
	if !errors.Is(err, ErrDimMismatch) {
		t.Fatalf("expected ErrDimMismatch, got %v", err)
	}
}

func TestSearchDimensionMismatchAfterReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "kmer6-raw.db")

	db, err := Create(ctx, path, index.Config{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	err = db.Insert(ctx, "genus", []storage.Vector{
		{ID: "seq1", Embedding: []float32{1, 0, 0, 0}, Metadata: map[string]string{"label": "Amanita"}},
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := db.Snapshot(ctx); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	db.Close()

	// Reopen fixes the dimensionality from the stored index; a query of the
	// wrong width must be rejected, not walked out of bounds.
	db2, err := Open(ctx, path, index.Config{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db2.Close()

	_, err = db2.Search(ctx, "genus", []float32{1, 0}, 1)
	if !errors.Is(err, ErrDimMismatch) {
		t.Fatalf("expected ErrDimMismatch, got %v", err)
	}

	// Matching width still works.
	if _, err := db2.Search(ctx, "genus", []float32{1, 0, 0, 0}, 1); err != nil {
		t.Fatalf("Search: %v", err)
	}
}

func TestSnapshotAndReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "MycoAI-CNN.db")

	db, err := Create(ctx, path, index.Config{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	err = db.Insert(ctx, "species", []storage.Vector{
		{ID: "seq1", Embedding: []float32{1, 0, 0}, Metadata: map[string]string{"label": "Amanita_muscaria", "sh": "SH123"}},
		{ID: "seq2", Embedding: []float32{0, 1, 0}, Metadata: map[string]string{"label": "Boletus_edulis"}},
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := db.Snapshot(ctx); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	db.Close()

	// Reopen read-only and search.
	db2, err := Open(ctx, path, index.Config{EfSearch: 50})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db2.Close()

	results, err := db2.Search(ctx, "species", []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("Search after reopen: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ID != "seq1" || results[0].Metadata["sh"] != "SH123" {
		t.Errorf("unexpected top result: %+v", results[0])
	}
}

func TestErrorWrapping(t *testing.T) {
	err := WrapError("Open", ErrNoDatabase)
	var e *Error
	if !errors.As(err, &e) || e.Op != "Open" {
		t.Fatalf("unexpected wrap: %v", err)
	}
	if !errors.Is(err, ErrNoDatabase) {
		t.Fatal("wrapped sentinel lost")
	}
	if WrapError("Open", nil) != nil {
		t.Fatal("WrapError(nil) should be nil")
	}
}
