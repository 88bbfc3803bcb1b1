package models

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taxotag/internal/config"
)

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry()

	list := r.List()
	require.Len(t, list, 3)
	// Sorted by name.
	assert.Equal(t, "MycoAI-BERT", list[0].Name)
	assert.Equal(t, "MycoAI-CNN", list[1].Name)
	assert.Equal(t, "kmer6-raw", list[2].Name)

	cnn, err := r.Get("MycoAI-CNN")
	require.NoError(t, err)
	assert.True(t, cnn.HasWeights())
	assert.Equal(t, 512, cnn.Dimensions)

	raw, err := r.Get("kmer6-raw")
	require.NoError(t, err)
	assert.False(t, raw.HasWeights())
	assert.Equal(t, 4096, raw.Dimensions)

	_, err = r.Get("nope")
	assert.ErrorIs(t, err, ErrUnknownModel)
}

// The shipped default model must work without a manifest override or a
// weight download, or a fresh install cannot search at all.
func TestShippedDefaultModelNeedsNoWeights(t *testing.T) {
	m, err := DefaultRegistry().Get(config.Default().Search.DefaultModel)
	require.NoError(t, err)
	assert.False(t, m.HasWeights())
}

func TestLoadManifestMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.yaml")
	manifest := `
models:
  - name: MycoAI-CNN
    description: custom build
    dimensions: 256
    weights_file: custom-cnn.weights.zst
    sha256: abc123
  - name: extra-model
    dimensions: 128
`
	require.NoError(t, os.WriteFile(path, []byte(manifest), 0644))

	r, err := LoadManifest(path)
	require.NoError(t, err)

	cnn, err := r.Get("MycoAI-CNN")
	require.NoError(t, err)
	assert.Equal(t, 256, cnn.Dimensions)
	assert.Equal(t, "custom-cnn.weights.zst", cnn.WeightsFile)

	extra, err := r.Get("extra-model")
	require.NoError(t, err)
	assert.Equal(t, 128, extra.Dimensions)

	// Untouched defaults survive the merge.
	_, err = r.Get("kmer6-raw")
	assert.NoError(t, err)
}

func TestLoadManifestRejectsBadEntries(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "noname.yaml")
	require.NoError(t, os.WriteFile(path, []byte("models:\n  - dimensions: 64\n"), 0644))
	_, err := LoadManifest(path)
	assert.Error(t, err)

	path = filepath.Join(dir, "baddims.yaml")
	require.NoError(t, os.WriteFile(path, []byte("models:\n  - name: x\n    dimensions: 0\n"), 0644))
	_, err = LoadManifest(path)
	assert.Error(t, err)

	_, err = LoadManifest(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

// compressPayload zstd-compresses raw bytes and returns the artifact plus
// its hex SHA-256 (computed over the compressed bytes, as verified on download).
func compressPayload(t *testing.T, raw []byte) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	_, err = zw.Write(raw)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	sum := sha256.Sum256(buf.Bytes())
	return buf.Bytes(), hex.EncodeToString(sum[:])
}

func TestDownloaderEnsure(t *testing.T) {
	raw := []byte("weight payload")
	artifact, sum := compressPayload(t, raw)

	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		assert.Equal(t, "/weights/test-v1.weights.zst", r.URL.Path)
		w.Write(artifact)
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := NewDownloader(srv.URL+"/weights", dir, 30*time.Second)
	m := Model{Name: "test", Dimensions: 8, WeightsFile: "test-v1.weights.zst", SHA256: sum}

	assert.False(t, d.Cached(m))

	path, err := d.Ensure(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "test.weights"), path)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, raw, got)
	assert.True(t, d.Cached(m))

	// Second call hits the cache, not the server.
	_, err = d.Ensure(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, 1, hits)
}

func TestDownloaderChecksumMismatch(t *testing.T) {
	artifact, _ := compressPayload(t, []byte("payload"))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(artifact)
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := NewDownloader(srv.URL, dir, 30*time.Second)
	m := Model{Name: "bad", Dimensions: 8, WeightsFile: "bad.weights.zst", SHA256: "deadbeef"}

	_, err := d.Ensure(context.Background(), m)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrChecksumMismatch))

	// Nothing lands in the cache on failure.
	_, statErr := os.Stat(d.Path(m))
	assert.True(t, os.IsNotExist(statErr))
}

func TestDownloaderServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	d := NewDownloader(srv.URL, t.TempDir(), 30*time.Second)
	_, err := d.Ensure(context.Background(), Model{Name: "x", WeightsFile: "x.zst"})
	assert.Error(t, err)
}

func TestDownloaderNoWeightsModel(t *testing.T) {
	d := NewDownloader("", t.TempDir(), 0)
	m := Model{Name: "kmer6-raw", Dimensions: 4096}

	assert.True(t, d.Cached(m))
	path, err := d.Ensure(context.Background(), m)
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestDownloaderNoBaseURL(t *testing.T) {
	d := NewDownloader("", t.TempDir(), 0)
	_, err := d.Ensure(context.Background(), Model{Name: "x", WeightsFile: "x.zst"})
	assert.Error(t, err)
}
