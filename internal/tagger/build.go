package tagger

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"taxotag/internal/fasta"
	"taxotag/internal/vecdb"
	"taxotag/internal/vecdb/index"
	"taxotag/internal/vecdb/storage"
)

// insertBatchSize bounds memory during reference builds.
const insertBatchSize = 512

// Build constructs the vector database for a model from a UNITE-style
// reference FASTA file. Every sequence is embedded once and inserted into
// the index of each rank its header labels.
func (s *Service) Build(ctx context.Context, refPath, modelName string) (map[string]int, error) {
	if modelName == "" {
		modelName = s.cfg.DefaultModel
	}
	model, err := s.cfg.Registry.Get(modelName)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(refPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read reference FASTA: %w", err)
	}
	records, err := fasta.Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse reference FASTA: %w", err)
	}
	// Reference releases are large; no sequence-count cap applies here.
	if err := fasta.Validate(records, 0); err != nil {
		return nil, err
	}

	emb, err := s.embedder(ctx, model)
	if err != nil {
		return nil, err
	}

	dbPath := s.cfg.DataDir.DatabasePath(model.Name)
	db, err := vecdb.Create(ctx, dbPath, index.Config{EfSearch: s.cfg.EfSearch})
	if err != nil {
		return nil, err
	}
	defer db.Close()

	log.Printf("[Tagger] Building %s from %d reference sequences", filepath.Base(dbPath), len(records))

	for start := 0; start < len(records); start += insertBatchSize {
		end := min(start+insertBatchSize, len(records))
		batch := records[start:end]

		seqs := make([]string, len(batch))
		for i, rec := range batch {
			seqs[i] = rec.Sequence
		}
		vectors, err := emb.Embed(ctx, seqs)
		if err != nil {
			return nil, fmt.Errorf("failed to embed reference batch: %w", err)
		}

		// Group by rank so each Insert is one transaction.
		perRank := make(map[string][]storage.Vector)
		for i, rec := range batch {
			for _, rank := range fasta.Ranks {
				label, ok := rec.Labels[rank]
				if !ok {
					continue
				}
				meta := map[string]string{"label": label}
				if rec.SH != "" {
					meta["sh"] = rec.SH
				}
				perRank[rank] = append(perRank[rank], storage.Vector{
					ID:        rec.ID,
					Embedding: vectors[i],
					Metadata:  meta,
				})
			}
		}
		for rank, vecs := range perRank {
			if err := db.Insert(ctx, rank, vecs); err != nil {
				return nil, err
			}
		}
	}

	if err := db.Snapshot(ctx); err != nil {
		return nil, err
	}

	counts := db.Counts()
	log.Printf("[Tagger] Built %s: %v", filepath.Base(dbPath), counts)
	return counts, nil
}

// DatabaseInfo describes one pre-built database on disk.
type DatabaseInfo struct {
	Model string         `json:"model"`
	Path  string         `json:"path"`
	Ranks map[string]int `json:"ranks,omitempty"` // indexed vectors per rank, when the DB is open
}

// ListDatabases discovers the pre-built databases under the data directory.
// Rank counts are reported for databases this service already has open;
// discovery never opens databases itself.
func (s *Service) ListDatabases() ([]DatabaseInfo, error) {
	pattern := filepath.Join(s.cfg.DataDir.DatabasesDir(), "*.db")
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to scan databases directory: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]DatabaseInfo, 0, len(paths))
	for _, p := range paths {
		model := strings.TrimSuffix(filepath.Base(p), ".db")
		info := DatabaseInfo{Model: model, Path: p}
		if db, ok := s.databases[model]; ok {
			info.Ranks = db.Counts()
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// DatabaseCounts opens a model's database if needed and returns its per-rank
// vector counts. Used by the db info CLI.
func (s *Service) DatabaseCounts(ctx context.Context, modelName string) (map[string]int, error) {
	if modelName == "" {
		modelName = s.cfg.DefaultModel
	}
	db, err := s.database(ctx, modelName)
	if err != nil {
		return nil, err
	}
	return db.Counts(), nil
}
