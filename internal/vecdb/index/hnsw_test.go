package index

import (
	"fmt"
	"math"
	"testing"

	"taxotag/internal/vecdb/storage"
)

func TestAddAndLen(t *testing.T) {
	h := New(Config{})

	vectors := []storage.Vector{
		{ID: "seq1", Embedding: []float32{1, 0, 0}},
		{ID: "seq2", Embedding: []float32{0, 1, 0}},
		{ID: "seq3", Embedding: []float32{0, 0, 1}},
	}

	if err := h.Add(vectors); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	if h.Len() != 3 {
		t.Errorf("expected Len()=3, got %d", h.Len())
	}
}

func TestSearch(t *testing.T) {
	h := New(Config{})

	vectors := []storage.Vector{
		{ID: "seq1", Embedding: []float32{1, 0, 0}, Metadata: map[string]string{"label": "Ascomycota"}},
		{ID: "seq2", Embedding: []float32{0.9, 0.1, 0}, Metadata: map[string]string{"label": "Ascomycota"}},
		{ID: "seq3", Embedding: []float32{0, 1, 0}, Metadata: map[string]string{"label": "Basidiomycota"}},
		{ID: "seq4", Embedding: []float32{0, 0, 1}, Metadata: map[string]string{"label": "Mucoromycota"}},
	}
	h.Add(vectors)

	// Query similar to seq1
	results, err := h.Search([]float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}

	// First result should be the exact match
	if results[0].ID != "seq1" {
		t.Errorf("expected first result seq1, got %s", results[0].ID)
	}
	if math.Abs(float64(results[0].Distance)) > 0.0001 {
		t.Errorf("exact match distance = %v, want 0", results[0].Distance)
	}
	if results[0].Metadata["label"] != "Ascomycota" {
		t.Errorf("metadata lost: %v", results[0].Metadata)
	}

	// Second should be seq2 (most similar)
	if results[1].ID != "seq2" {
		t.Errorf("expected second result seq2, got %s", results[1].ID)
	}
}

func TestSearchEmptyIndex(t *testing.T) {
	h := New(Config{})
	results, err := h.Search([]float32{1, 0, 0}, 5)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if results != nil {
		t.Errorf("expected nil results on empty index, got %v", results)
	}
}

func TestSearchReturnsAtMostK(t *testing.T) {
	h := New(Config{})
	var vectors []storage.Vector
	for i := 0; i < 50; i++ {
		vectors = append(vectors, storage.Vector{
			ID:        fmt.Sprintf("seq%d", i),
			Embedding: []float32{float32(i), float32(50 - i), 1},
		})
	}
	h.Add(vectors)

	results, err := h.Search([]float32{25, 25, 1}, 5)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 5 {
		t.Fatalf("expected 5 results, got %d", len(results))
	}
	// Results sorted by ascending distance.
	for i := 1; i < len(results); i++ {
		if results[i].Distance < results[i-1].Distance {
			t.Errorf("results not sorted: %v before %v", results[i-1].Distance, results[i].Distance)
		}
	}
}

func TestMarshalUnmarshal(t *testing.T) {
	h1 := New(Config{})
	h1.Add([]storage.Vector{
		{ID: "seq1", Embedding: []float32{1, 0, 0}},
		{ID: "seq2", Embedding: []float32{0, 1, 0}},
	})

	data, err := h1.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	h2 := New(Config{})
	if err := h2.Unmarshal(data); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if h2.Len() != 2 {
		t.Errorf("expected Len()=2 after unmarshal, got %d", h2.Len())
	}

	// Search should work on restored index
	results, _ := h2.Search([]float32{1, 0, 0}, 1)
	if len(results) != 1 || results[0].ID != "seq1" {
		t.Errorf("search after unmarshal failed: %v", results)
	}
}

func TestUnmarshalKeepsCurrentEfSearch(t *testing.T) {
	h1 := New(Config{EfSearch: 50})
	h1.Add([]storage.Vector{{ID: "seq1", Embedding: []float32{1, 0, 0}}})
	data, err := h1.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	h2 := New(Config{EfSearch: 200})
	if err := h2.Unmarshal(data); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if h2.cfg.EfSearch != 200 {
		t.Errorf("EfSearch = %d, want 200", h2.cfg.EfSearch)
	}
	// Structural parameters come from the snapshot.
	if h2.cfg.M != 16 {
		t.Errorf("M = %d, want 16", h2.cfg.M)
	}
}
