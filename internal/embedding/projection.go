package embedding

import (
	"context"
	"encoding/gob"
	"fmt"
	"os"
)

// Weights is the on-disk weight format for projection embedders. Matrix is
// row-major with InputDims rows of OutputDims values each.
type Weights struct {
	Model      string
	InputDims  int
	OutputDims int
	Matrix     []float32
}

// Validate checks internal consistency of the weight data.
func (w *Weights) Validate() error {
	if w.InputDims <= 0 || w.OutputDims <= 0 {
		return fmt.Errorf("invalid weight dimensions %dx%d", w.InputDims, w.OutputDims)
	}
	if len(w.Matrix) != w.InputDims*w.OutputDims {
		return fmt.Errorf("weight matrix has %d values, want %d", len(w.Matrix), w.InputDims*w.OutputDims)
	}
	return nil
}

// Projection embeds a sequence by projecting its k-mer profile through a
// pretrained weight matrix, then L2-normalizing. This is how the pretrained
// models (MycoAI-CNN, MycoAI-BERT) produce their dense embeddings.
type Projection struct {
	name    string
	kmer    *Kmer
	weights *Weights
}

// NewProjection creates a projection embedder over a k-mer profile.
// The weight matrix input dimension must match the k-mer profile dimension.
func NewProjection(name string, kmer *Kmer, weights *Weights) (*Projection, error) {
	if err := weights.Validate(); err != nil {
		return nil, fmt.Errorf("invalid weights for model %s: %w", name, err)
	}
	if weights.InputDims != kmer.Dimensions() {
		return nil, fmt.Errorf("model %s expects %d input dims, k-mer profile has %d",
			name, weights.InputDims, kmer.Dimensions())
	}
	return &Projection{name: name, kmer: kmer, weights: weights}, nil
}

// LoadWeights reads a gob-encoded weight file from the model cache.
func LoadWeights(path string) (*Weights, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open weight file: %w", err)
	}
	defer f.Close()

	var w Weights
	if err := gob.NewDecoder(f).Decode(&w); err != nil {
		return nil, fmt.Errorf("failed to decode weight file %s: %w", path, err)
	}
	if err := w.Validate(); err != nil {
		return nil, fmt.Errorf("weight file %s: %w", path, err)
	}
	return &w, nil
}

// SaveWeights writes a gob-encoded weight file.
func SaveWeights(path string, w *Weights) error {
	if err := w.Validate(); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create weight file: %w", err)
	}
	defer f.Close()

	if err := gob.NewEncoder(f).Encode(w); err != nil {
		return fmt.Errorf("failed to encode weights: %w", err)
	}
	return nil
}

// Embed projects k-mer profiles through the weight matrix.
func (p *Projection) Embed(ctx context.Context, seqs []string) ([][]float32, error) {
	profiles, err := p.kmer.Embed(ctx, seqs)
	if err != nil {
		return nil, err
	}

	out := p.weights.OutputDims
	vectors := make([][]float32, len(profiles))
	for i, profile := range profiles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vec := make([]float32, out)
		for row, v := range profile {
			if v == 0 {
				continue // profiles are sparse
			}
			base := row * out
			for col := 0; col < out; col++ {
				vec[col] += v * p.weights.Matrix[base+col]
			}
		}
		normalize(vec)
		vectors[i] = vec
	}
	return vectors, nil
}

// Dimensions returns the projected dimensionality.
func (p *Projection) Dimensions() int { return p.weights.OutputDims }

// Name returns the model name.
func (p *Projection) Name() string { return p.name }
