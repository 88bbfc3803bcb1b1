// Package tagger wires embedders and per-model vector databases into the
// taxonomy identification service: FASTA in, ranked taxonomy matches out.
package tagger

import (
	"context"
	"fmt"
	"log"
	"sync"

	"golang.org/x/sync/errgroup"

	"taxotag/internal/datadir"
	"taxotag/internal/embedding"
	"taxotag/internal/fasta"
	"taxotag/internal/models"
	"taxotag/internal/vecdb"
	"taxotag/internal/vecdb/index"
)

// Config holds configuration for the tagger service.
type Config struct {
	DataDir      *datadir.DataDir
	Registry     *models.Registry
	Downloader   *models.Downloader
	DefaultModel string
	DefaultLimit int // Top-N matches per rank when a request names none
	MaxLimit     int // Hard cap on top-N
	MaxSequences int // Max sequences per request
	EfSearch     int // HNSW query search depth
}

// DefaultConfig returns sensible defaults for the tagger service.
func DefaultConfig() Config {
	return Config{
		DefaultModel: "kmer6-raw",
		DefaultLimit: 2,
		MaxLimit:     5,
		MaxSequences: 100,
		EfSearch:     50,
	}
}

// Match is one nearest-neighbor hit at one rank.
type Match struct {
	Label      string  `json:"label"`
	HitID      string  `json:"hit_id"`
	Similarity float64 `json:"similarity"` // 1 - cosine distance, clamped to [0,1]
}

// SequenceResult holds the per-rank matches for one query sequence.
type SequenceResult struct {
	ID    string             `json:"id"`
	Ranks map[string][]Match `json:"ranks"`
}

// Result is a complete search outcome.
type Result struct {
	Model       string           `json:"model"`
	Limit       int              `json:"limit"`
	Ranks       []string         `json:"ranks"`
	Sequences   []SequenceResult `json:"sequences"`
	Unprocessed []string         `json:"unprocessed,omitempty"` // sequence IDs with no match at any rank
}

// Request describes a search.
type Request struct {
	FASTA string
	Model string // empty selects the configured default
	Limit int    // clamped to 1..MaxLimit; 0 selects the default

	// Progress, if set, is called after each sequence finishes searching.
	Progress func(done, total int, seqID string)
}

// Service performs taxonomy searches. Open databases and resolved embedders
// are cached per model.
type Service struct {
	cfg       Config
	mu        sync.Mutex
	databases map[string]*vecdb.Database
	embedders map[string]embedding.Embedder
}

// NewService creates a tagger service.
func NewService(cfg Config) (*Service, error) {
	def := DefaultConfig()
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = def.DefaultModel
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = def.DefaultLimit
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = def.MaxLimit
	}
	if cfg.MaxSequences <= 0 {
		cfg.MaxSequences = def.MaxSequences
	}
	if cfg.EfSearch <= 0 {
		cfg.EfSearch = def.EfSearch
	}
	if cfg.DataDir == nil {
		return nil, fmt.Errorf("tagger: data directory is required")
	}
	if cfg.Registry == nil {
		cfg.Registry = models.DefaultRegistry()
	}
	return &Service{
		cfg:       cfg,
		databases: make(map[string]*vecdb.Database),
		embedders: make(map[string]embedding.Embedder),
	}, nil
}

// ClampLimit applies the request limit bounds.
func (s *Service) ClampLimit(limit int) int {
	if limit <= 0 {
		return s.cfg.DefaultLimit
	}
	if limit > s.cfg.MaxLimit {
		return s.cfg.MaxLimit
	}
	return limit
}

// Search parses and validates FASTA input, embeds every sequence once, then
// searches all taxonomy ranks of the model's database.
func (s *Service) Search(ctx context.Context, req Request) (*Result, error) {
	records, err := fasta.Parse(req.FASTA)
	if err != nil {
		return nil, err
	}
	if err := fasta.Validate(records, s.cfg.MaxSequences); err != nil {
		return nil, err
	}

	modelName := req.Model
	if modelName == "" {
		modelName = s.cfg.DefaultModel
	}
	model, err := s.cfg.Registry.Get(modelName)
	if err != nil {
		return nil, err
	}
	limit := s.ClampLimit(req.Limit)

	// Open the database before touching the embedder: an unprovisioned model
	// must fail fast, not after a weight download.
	db, err := s.database(ctx, model.Name)
	if err != nil {
		return nil, err
	}
	emb, err := s.embedder(ctx, model)
	if err != nil {
		return nil, err
	}
	ranks := db.Ranks()
	if len(ranks) == 0 {
		return nil, vecdb.WrapError("Search", fmt.Errorf("database for model %s holds no rank indexes", model.Name))
	}

	seqs := make([]string, len(records))
	for i, rec := range records {
		seqs[i] = rec.Sequence
	}
	queries, err := emb.Embed(ctx, seqs)
	if err != nil {
		return nil, fmt.Errorf("failed to embed sequences: %w", err)
	}

	result := &Result{
		Model:     model.Name,
		Limit:     limit,
		Ranks:     ranks,
		Sequences: make([]SequenceResult, len(records)),
	}

	for i, rec := range records {
		seqResult := SequenceResult{ID: rec.ID, Ranks: make(map[string][]Match, len(ranks))}
		var mu sync.Mutex

		// All ranks of one sequence are searched concurrently.
		g, gctx := errgroup.WithContext(ctx)
		for _, rank := range ranks {
			rank := rank
			query := queries[i]
			g.Go(func() error {
				hits, err := db.Search(gctx, rank, query, limit)
				if err != nil {
					return fmt.Errorf("rank %s: %w", rank, err)
				}
				matches := make([]Match, len(hits))
				for j, h := range hits {
					matches[j] = Match{
						Label:      h.Metadata["label"],
						HitID:      h.ID,
						Similarity: similarity(h.Distance),
					}
				}
				mu.Lock()
				seqResult.Ranks[rank] = matches
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		result.Sequences[i] = seqResult
		if req.Progress != nil {
			req.Progress(i+1, len(records), rec.ID)
		}
	}

	// Every input sequence must come back with matches; report the ones the
	// search could not place.
	for _, seq := range result.Sequences {
		matched := false
		for _, matches := range seq.Ranks {
			if len(matches) > 0 {
				matched = true
				break
			}
		}
		if !matched {
			result.Unprocessed = append(result.Unprocessed, seq.ID)
		}
	}
	if len(result.Unprocessed) > 0 {
		log.Printf("[Tagger] WARNING: %d of %d sequences could not be processed: %v",
			len(result.Unprocessed), len(records), result.Unprocessed)
	}

	return result, nil
}

// similarity converts cosine distance to similarity, clamped to [0,1].
func similarity(distance float32) float64 {
	sim := 1 - float64(distance)
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return sim
}

// embedder resolves and caches the embedder for a model, downloading weights
// on first use.
func (s *Service) embedder(ctx context.Context, m models.Model) (embedding.Embedder, error) {
	s.mu.Lock()
	if emb, ok := s.embedders[m.Name]; ok {
		s.mu.Unlock()
		return emb, nil
	}
	s.mu.Unlock()

	kmer := embedding.NewKmer(embedding.DefaultK)
	var emb embedding.Embedder
	if !m.HasWeights() {
		emb = kmer
	} else {
		if s.cfg.Downloader == nil {
			return nil, fmt.Errorf("model %s needs weights but no downloader is configured", m.Name)
		}
		path, err := s.cfg.Downloader.Ensure(ctx, m)
		if err != nil {
			return nil, err
		}
		weights, err := embedding.LoadWeights(path)
		if err != nil {
			return nil, err
		}
		proj, err := embedding.NewProjection(m.Name, kmer, weights)
		if err != nil {
			return nil, err
		}
		emb = proj
	}

	s.mu.Lock()
	s.embedders[m.Name] = emb
	s.mu.Unlock()
	return emb, nil
}

// database opens and caches the pre-built database for a model.
func (s *Service) database(ctx context.Context, model string) (*vecdb.Database, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if db, ok := s.databases[model]; ok {
		return db, nil
	}

	path := s.cfg.DataDir.DatabasePath(model)
	db, err := vecdb.Open(ctx, path, index.Config{EfSearch: s.cfg.EfSearch})
	if err != nil {
		return nil, err
	}
	s.databases[model] = db
	return db, nil
}

// Close closes all cached databases.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for name, db := range s.databases {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close database %s: %w", name, err)
		}
		delete(s.databases, name)
	}
	return firstErr
}
