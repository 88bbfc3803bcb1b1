package embedding

import (
	"context"
	"math"
	"strings"
)

// DefaultK is the k-mer length. 4^6 = 4096 dimensions.
const DefaultK = 6

// Kmer embeds a DNA sequence as its L2-normalized k-mer frequency profile.
// Ambiguity codes (anything outside ACGT) break a k-mer window; only
// unambiguous windows contribute.
type Kmer struct {
	k    int
	dims int
}

// NewKmer creates a k-mer profile embedder. k <= 0 selects DefaultK.
func NewKmer(k int) *Kmer {
	if k <= 0 {
		k = DefaultK
	}
	dims := 1
	for i := 0; i < k; i++ {
		dims *= 4
	}
	return &Kmer{k: k, dims: dims}
}

// Embed converts sequences to normalized k-mer frequency vectors.
func (e *Kmer) Embed(ctx context.Context, seqs []string) ([][]float32, error) {
	vectors := make([][]float32, len(seqs))
	for i, seq := range seqs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vectors[i] = e.profile(seq)
	}
	return vectors, nil
}

// profile computes a single normalized k-mer frequency vector.
func (e *Kmer) profile(seq string) []float32 {
	vec := make([]float32, e.dims)
	seq = strings.ToUpper(seq)

	// Rolling k-mer index: two bits per base, reset on ambiguity.
	idx := 0
	valid := 0 // consecutive unambiguous bases in the current window
	mask := e.dims - 1
	for i := 0; i < len(seq); i++ {
		code, ok := baseCode(seq[i])
		if !ok {
			idx = 0
			valid = 0
			continue
		}
		idx = ((idx << 2) | code) & mask
		valid++
		if valid >= e.k {
			vec[idx]++
		}
	}

	normalize(vec)
	return vec
}

// Dimensions returns 4^k.
func (e *Kmer) Dimensions() int { return e.dims }

// Name returns the embedder name.
func (e *Kmer) Name() string { return "kmer" }

// baseCode maps an unambiguous nucleotide to its two-bit code.
func baseCode(b byte) (int, bool) {
	switch b {
	case 'A':
		return 0, true
	case 'C':
		return 1, true
	case 'G':
		return 2, true
	case 'T', 'U':
		return 3, true
	default:
		return 0, false
	}
}

// normalize scales a vector to unit L2 length in place.
func normalize(vec []float32) {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm > 0 {
		norm = float32(math.Sqrt(float64(norm)))
		for i := range vec {
			vec[i] /= norm
		}
	}
}
