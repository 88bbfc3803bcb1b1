// Package index implements approximate nearest neighbor search with a
// Hierarchical Navigable Small World graph over cosine distance.
package index

import (
	"bytes"
	"encoding/gob"
	"math"
	"math/rand"
	"sort"
	"sync"

	"taxotag/internal/vecdb/mathutil"
	"taxotag/internal/vecdb/storage"
)

// SearchResult represents a nearest neighbor match.
type SearchResult struct {
	ID       string
	Distance float32
	Metadata map[string]string
}

// Config configures the HNSW index.
type Config struct {
	M              int     // Max connections per node (default 16)
	EfConstruction int     // Construction search depth (default 200)
	EfSearch       int     // Query search depth (default 50)
	LevelMult      float64 // Level multiplier (default 1/ln(M))
}

func (c Config) withDefaults() Config {
	if c.M == 0 {
		c.M = 16
	}
	if c.EfConstruction == 0 {
		c.EfConstruction = 200
	}
	if c.EfSearch == 0 {
		c.EfSearch = 50
	}
	if c.LevelMult == 0 {
		c.LevelMult = 1.0 / math.Log(float64(c.M))
	}
	return c
}

// node is an HNSW graph node. Fields are exported for gob serialization.
type node struct {
	ID        string
	Vector    []float32
	Metadata  map[string]string
	Level     int
	Neighbors [][]uint32 // Neighbors[level] = list of neighbor indices
}

// HNSW is a Hierarchical Navigable Small World graph index.
type HNSW struct {
	nodes      []node
	idToIndex  map[string]uint32
	entryPoint int32 // -1 if empty
	maxLevel   int
	cfg        Config
	rng        *rand.Rand
	mu         sync.RWMutex
}

// New creates a new HNSW index.
func New(cfg Config) *HNSW {
	cfg = cfg.withDefaults()
	return &HNSW{
		idToIndex:  make(map[string]uint32),
		entryPoint: -1,
		cfg:        cfg,
		rng:        rand.New(rand.NewSource(rand.Int63())),
	}
}

// Add inserts vectors into the index.
func (h *HNSW) Add(vectors []storage.Vector) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, v := range vectors {
		h.addOne(v)
	}
	return nil
}

func (h *HNSW) addOne(v storage.Vector) {
	level := h.randomLevel()
	idx := uint32(len(h.nodes))

	n := node{
		ID:        v.ID,
		Vector:    v.Embedding,
		Metadata:  v.Metadata,
		Level:     level,
		Neighbors: make([][]uint32, level+1),
	}
	for i := range n.Neighbors {
		n.Neighbors[i] = make([]uint32, 0, h.cfg.M)
	}

	h.nodes = append(h.nodes, n)
	h.idToIndex[v.ID] = idx

	if h.entryPoint < 0 {
		h.entryPoint = int32(idx)
		h.maxLevel = level
		return
	}

	// Find entry point at top level and descend
	currNode := uint32(h.entryPoint)
	for l := h.maxLevel; l > level; l-- {
		currNode = h.searchLayerOne(v.Embedding, currNode, l)
	}

	// Insert at each level from level down to 0
	for l := min(level, h.maxLevel); l >= 0; l-- {
		neighbors := h.searchLayer(v.Embedding, currNode, h.cfg.EfConstruction, l)
		h.selectAndConnect(idx, neighbors, l)
		if len(neighbors) > 0 {
			currNode = neighbors[0]
		}
	}

	if level > h.maxLevel {
		h.maxLevel = level
		h.entryPoint = int32(idx)
	}
}

func (h *HNSW) randomLevel() int {
	r := h.rng.Float64()
	return int(-math.Log(r) * h.cfg.LevelMult)
}

// searchLayerOne greedily walks one layer toward the query.
func (h *HNSW) searchLayerOne(query []float32, entry uint32, level int) uint32 {
	curr := entry
	currDist := mathutil.CosineDistance(query, h.nodes[curr].Vector)

	for {
		changed := false
		if level < len(h.nodes[curr].Neighbors) {
			for _, neighbor := range h.nodes[curr].Neighbors[level] {
				dist := mathutil.CosineDistance(query, h.nodes[neighbor].Vector)
				if dist < currDist {
					curr = neighbor
					currDist = dist
					changed = true
				}
			}
		}
		if !changed {
			break
		}
	}
	return curr
}

// searchLayer performs a beam search of width ef within one layer.
func (h *HNSW) searchLayer(query []float32, entry uint32, ef, level int) []uint32 {
	visited := make(map[uint32]bool)
	candidates := &distHeap{}
	results := &distHeap{}

	dist := mathutil.CosineDistance(query, h.nodes[entry].Vector)
	candidates.push(distItem{idx: entry, dist: dist})
	results.push(distItem{idx: entry, dist: dist})
	visited[entry] = true

	for candidates.len() > 0 {
		curr := candidates.pop()

		if results.len() > 0 && curr.dist > results.peek().dist && results.len() >= ef {
			break
		}

		if level < len(h.nodes[curr.idx].Neighbors) {
			for _, neighbor := range h.nodes[curr.idx].Neighbors[level] {
				if visited[neighbor] {
					continue
				}
				visited[neighbor] = true

				nDist := mathutil.CosineDistance(query, h.nodes[neighbor].Vector)
				if results.len() < ef || nDist < results.peek().dist {
					candidates.push(distItem{idx: neighbor, dist: nDist})
					results.push(distItem{idx: neighbor, dist: nDist})
					if results.len() > ef {
						results.popLast()
					}
				}
			}
		}
	}

	result := make([]uint32, results.len())
	for i := range result {
		result[i] = results.items[i].idx
	}
	return result
}

func (h *HNSW) selectAndConnect(idx uint32, neighbors []uint32, level int) {
	m := h.cfg.M
	if level == 0 {
		m = h.cfg.M * 2
	}

	// Select up to M neighbors
	selected := neighbors
	if len(selected) > m {
		selected = selected[:m]
	}

	// Connect bidirectionally
	h.nodes[idx].Neighbors[level] = append(h.nodes[idx].Neighbors[level], selected...)
	for _, n := range selected {
		if level < len(h.nodes[n].Neighbors) {
			h.nodes[n].Neighbors[level] = append(h.nodes[n].Neighbors[level], idx)
			// Prune if too many
			if len(h.nodes[n].Neighbors[level]) > m {
				h.pruneConnections(n, level, m)
			}
		}
	}
}

func (h *HNSW) pruneConnections(idx uint32, level, m int) {
	neighbors := h.nodes[idx].Neighbors[level]
	if len(neighbors) <= m {
		return
	}

	// Sort by distance to idx and keep closest M
	type nd struct {
		n    uint32
		dist float32
	}
	nds := make([]nd, len(neighbors))
	for i, n := range neighbors {
		nds[i] = nd{n: n, dist: mathutil.CosineDistance(h.nodes[idx].Vector, h.nodes[n].Vector)}
	}
	sort.Slice(nds, func(i, j int) bool { return nds[i].dist < nds[j].dist })

	h.nodes[idx].Neighbors[level] = make([]uint32, m)
	for i := 0; i < m; i++ {
		h.nodes[idx].Neighbors[level][i] = nds[i].n
	}
}

// Search returns the k nearest neighbors to the query.
func (h *HNSW) Search(query []float32, k int) ([]SearchResult, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.entryPoint < 0 {
		return nil, nil
	}

	// Descend from top to level 0
	currNode := uint32(h.entryPoint)
	for l := h.maxLevel; l > 0; l-- {
		currNode = h.searchLayerOne(query, currNode, l)
	}

	// Search at level 0
	neighbors := h.searchLayer(query, currNode, max(h.cfg.EfSearch, k), 0)

	// Convert to results
	results := make([]SearchResult, 0, len(neighbors))
	for _, idx := range neighbors {
		n := h.nodes[idx]
		results = append(results, SearchResult{
			ID:       n.ID,
			Distance: mathutil.CosineDistance(query, n.Vector),
			Metadata: n.Metadata,
		})
	}

	// Sort by distance
	sort.Slice(results, func(i, j int) bool {
		return results[i].Distance < results[j].Distance
	})

	if len(results) > k {
		results = results[:k]
	}

	return results, nil
}

// Len returns the number of vectors in the index.
func (h *HNSW) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.nodes)
}

// Dims returns the dimensionality of the indexed vectors, 0 when empty.
func (h *HNSW) Dims() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.nodes) == 0 {
		return 0
	}
	return len(h.nodes[0].Vector)
}

// graphState is the serializable representation of the index.
type graphState struct {
	Nodes      []node
	IdToIndex  map[string]uint32
	EntryPoint int32
	MaxLevel   int
	Cfg        Config
}

// Marshal serializes the index.
func (h *HNSW) Marshal() ([]byte, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	data := graphState{
		Nodes:      h.nodes,
		IdToIndex:  h.idToIndex,
		EntryPoint: h.entryPoint,
		MaxLevel:   h.maxLevel,
		Cfg:        h.cfg,
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal deserializes the index. The stored config is kept except for
// EfSearch, which the current config overrides so that operators can tune
// query depth without rebuilding.
func (h *HNSW) Unmarshal(data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var d graphState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&d); err != nil {
		return err
	}

	efSearch := h.cfg.EfSearch
	h.nodes = d.Nodes
	h.idToIndex = d.IdToIndex
	h.entryPoint = d.EntryPoint
	h.maxLevel = d.MaxLevel
	h.cfg = d.Cfg
	if efSearch > 0 {
		h.cfg.EfSearch = efSearch
	}

	return nil
}
