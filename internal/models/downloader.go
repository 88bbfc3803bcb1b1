package models

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"taxotag/internal/version"
)

// Downloader fetches compressed model weights into the local cache.
// Weights are downloaded once; subsequent calls hit the cache.
type Downloader struct {
	client  *http.Client
	baseURL string
	dir     string // {datadir}/models
}

// NewDownloader creates a weight downloader caching into dir.
func NewDownloader(baseURL, dir string, timeout time.Duration) *Downloader {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Downloader{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		dir:     dir,
	}
}

// Path returns the cache path for a model's decompressed weight file.
func (d *Downloader) Path(m Model) string {
	return filepath.Join(d.dir, m.Name+".weights")
}

// Cached reports whether the model's weights are already in the cache.
func (d *Downloader) Cached(m Model) bool {
	if !m.HasWeights() {
		return true
	}
	_, err := os.Stat(d.Path(m))
	return err == nil
}

// Ensure returns the path to the model's decompressed weight file,
// downloading and verifying it on first use. Models without weights
// return an empty path and no error.
func (d *Downloader) Ensure(ctx context.Context, m Model) (string, error) {
	if !m.HasWeights() {
		return "", nil
	}

	dest := d.Path(m)
	if _, err := os.Stat(dest); err == nil {
		return dest, nil
	}

	if d.baseURL == "" {
		return "", fmt.Errorf("model %s needs weights but no download base URL is configured", m.Name)
	}
	src, err := url.JoinPath(d.baseURL, m.WeightsFile)
	if err != nil {
		return "", fmt.Errorf("invalid weight URL for model %s: %w", m.Name, err)
	}

	log.Printf("[Models] Downloading weights for %s from %s", m.Name, src)
	if err := d.fetch(ctx, src, m, dest); err != nil {
		return "", fmt.Errorf("failed to download weights for %s from %s: %w", m.Name, src, err)
	}
	log.Printf("[Models] Cached weights for %s at %s", m.Name, dest)
	return dest, nil
}

// fetch downloads, verifies and decompresses a weight artifact.
// The compressed bytes land in a .part file first; the decompressed result
// is renamed into place only after the checksum passes.
func (d *Downloader) fetch(ctx context.Context, src string, m Model, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	part := dest + ".part"
	f, err := os.Create(part)
	if err != nil {
		return fmt.Errorf("failed to create partial file: %w", err)
	}
	defer os.Remove(part) // no-op once renamed away or on success

	hasher := sha256.New()
	if _, err := io.Copy(io.MultiWriter(f, hasher), resp.Body); err != nil {
		f.Close()
		return fmt.Errorf("download interrupted: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}

	if m.SHA256 != "" {
		sum := hex.EncodeToString(hasher.Sum(nil))
		if !strings.EqualFold(sum, m.SHA256) {
			return fmt.Errorf("%w: got %s, want %s", ErrChecksumMismatch, sum, m.SHA256)
		}
	}

	return decompress(part, dest)
}

// decompress unpacks a zstd artifact into its final cache location.
func decompress(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	zr, err := zstd.NewReader(in)
	if err != nil {
		return fmt.Errorf("failed to open zstd stream: %w", err)
	}
	defer zr.Close()

	tmp := dest + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, zr); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to decompress weights: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}

	return os.Rename(tmp, dest)
}
