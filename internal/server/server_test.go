package server

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taxotag/internal/config"
	"taxotag/internal/datadir"
	"taxotag/internal/fasta"
	"taxotag/internal/tagger"
)

const refFASTA = `>REF001|k__Fungi;p__Basidiomycota;c__Agaricomycetes;o__Agaricales;f__Amanitaceae;g__Amanita;s__Amanita_muscaria|SH0000001.09FU
ACGTACGTGGCCATTGCATGCAACGTGCATGCAGTACCATGGACCA
>REF002|k__Fungi;p__Ascomycota;c__Sordariomycetes;o__Hypocreales;f__Nectriaceae;g__Fusarium;s__Fusarium_oxysporum|SH0000002.09FU
TTGGAACCTTAACCGGTTAAGGCCTTAAGGCCAATTGGCCAATTGG
>REF003|k__Fungi;p__Basidiomycota;c__Agaricomycetes;o__Boletales;f__Boletaceae;g__Boletus;s__Boletus_edulis|SH0000003.09FU
GGGCCCAAATTTGGGCCCAAATTTGGGTTTCCCAAAGGGTTTCCCA
`

const queryFASTA = ">query1\nACGTACGTGGCCATTGCATGCAACGTGCATGCAGTACCATGGACCA\n"

// newTestServer builds a server over a temp data directory with the
// kmer6-raw reference database pre-built.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	t.Setenv(datadir.EnvVar, t.TempDir())

	cfg := config.Default()
	cfg.Search.DefaultModel = "kmer6-raw"
	cfg.RateLimiting.Enabled = false

	srv, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { srv.tagger.Close() })

	ref := filepath.Join(t.TempDir(), "unite_ref.fasta")
	require.NoError(t, os.WriteFile(ref, []byte(refFASTA), 0644))
	_, err = srv.tagger.Build(context.Background(), ref, "kmer6-raw")
	require.NoError(t, err)

	return srv
}

func postSearch(t *testing.T, srv *Server, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/search", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	srv.handleSearch(rec, req)
	return rec
}

func TestHandleSearch(t *testing.T) {
	srv := newTestServer(t)

	rec := postSearch(t, srv, searchRequest{FASTA: queryFASTA, Limit: 2})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp searchResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.NotEmpty(t, resp.ID)
	require.NotNil(t, resp.Result)
	assert.Equal(t, "kmer6-raw", resp.Result.Model)
	require.Len(t, resp.Result.Sequences, 1)

	species := resp.Result.Sequences[0].Ranks["species"]
	require.NotEmpty(t, species)
	assert.Equal(t, "Amanita_muscaria", species[0].Label)

	// The result is stored for export.
	assert.NotNil(t, srv.results.Get(resp.ID))
	assert.Equal(t, int64(1), srv.metrics.Snapshot().CompletedSearches)
}

func TestHandleSearchErrors(t *testing.T) {
	srv := newTestServer(t)

	t.Run("invalid JSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/search", strings.NewReader("{nope"))
		rec := httptest.NewRecorder()
		srv.handleSearch(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing fasta", func(t *testing.T) {
		rec := postSearch(t, srv, searchRequest{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("invalid sequence characters", func(t *testing.T) {
		rec := postSearch(t, srv, searchRequest{FASTA: ">q1\nACGT123\n"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown model", func(t *testing.T) {
		rec := postSearch(t, srv, searchRequest{FASTA: queryFASTA, Model: "nope"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("model without database", func(t *testing.T) {
		// MycoAI-CNN is registered but its database was never built, so the
		// service is not provisioned for it.
		rec := postSearch(t, srv, searchRequest{FASTA: queryFASTA, Model: "MycoAI-CNN"})
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("wrong method", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/search", nil)
		rec := httptest.NewRecorder()
		srv.handleSearch(rec, req)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestHandleCSVExport(t *testing.T) {
	srv := newTestServer(t)

	rec := postSearch(t, srv, searchRequest{FASTA: queryFASTA, Limit: 2})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp searchResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))

	req := httptest.NewRequest(http.MethodGet, "/api/search/csv?id="+resp.ID, nil)
	exportRec := httptest.NewRecorder()
	srv.handleCSVExport(exportRec, req)
	require.Equal(t, http.StatusOK, exportRec.Code)
	assert.Equal(t, "text/csv", exportRec.Header().Get("Content-Type"))
	assert.Contains(t, exportRec.Header().Get("Content-Disposition"), "attachment")

	rows, err := csv.NewReader(exportRec.Body).ReadAll()
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	assert.Equal(t, []string{"sequence_id", "rank", "n", "label", "hit_id", "similarity"}, rows[0])
	// One query, six ranks, limit 2, three reference records per rank.
	assert.Equal(t, 1+len(fasta.Ranks)*2, len(rows))

	// The export is also persisted for the maintenance cleaner to expire.
	_, err = os.Stat(filepath.Join(srv.dataDir.ExportsDir(), resp.ID+".csv"))
	assert.NoError(t, err)
	assert.Equal(t, int64(1), srv.metrics.Snapshot().ExportsServed)

	t.Run("unknown id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/search/csv?id=nope", nil)
		rec := httptest.NewRecorder()
		srv.handleCSVExport(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("missing id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/search/csv", nil)
		rec := httptest.NewRecorder()
		srv.handleCSVExport(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandleModels(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/models", nil)
	rec := httptest.NewRecorder()
	srv.handleModels(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Models []modelInfo `json:"models"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotEmpty(t, resp.Models)

	byName := make(map[string]modelInfo)
	for _, m := range resp.Models {
		byName[m.Name] = m
	}
	kmer, ok := byName["kmer6-raw"]
	require.True(t, ok)
	assert.True(t, kmer.Default)
	assert.True(t, kmer.Cached, "weight-free model is always available")

	cnn, ok := byName["MycoAI-CNN"]
	require.True(t, ok)
	assert.False(t, cnn.Cached, "weights were never downloaded")
}

func TestHandleDatabases(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/databases", nil)
	rec := httptest.NewRecorder()
	srv.handleDatabases(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Databases []tagger.DatabaseInfo `json:"databases"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Databases, 1)
	assert.Equal(t, "kmer6-raw", resp.Databases[0].Model)
}

func TestHandleHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.handleHealth(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var health HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&health))
	assert.Equal(t, "healthy", health.Status)
	assert.NotEmpty(t, health.Uptime)

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec = httptest.NewRecorder()
	srv.handleMetrics(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleIndex(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	srv.handleIndex(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "Taxonomy Identification")
	assert.Contains(t, body, `value="kmer6-raw" selected`)

	// FASTA can be uploaded as files, not only pasted.
	assert.Contains(t, body, `type="file"`)
	assert.Contains(t, body, "multiple")

	// Result cells carry the hit ID next to the label, and untrusted result
	// text is escaped before it reaches innerHTML.
	assert.Contains(t, body, "m.hit_id")
	assert.Contains(t, body, "function esc(")
	assert.Contains(t, body, "esc(seq.id)")

	req = httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec = httptest.NewRecorder()
	srv.handleIndex(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSearchStream(t *testing.T) {
	srv := newTestServer(t)
	srv.ctx = context.Background()

	ts := httptest.NewServer(srv.routes())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/search"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	multi := queryFASTA + ">query2\nTTGGAACCTTAACCGGTTAAGGCCTTAAGGCCAATTGGCCAATTGG\n"
	require.NoError(t, conn.WriteJSON(searchRequest{FASTA: multi, Limit: 1}))

	var progress int
	for {
		var frame wsFrame
		require.NoError(t, conn.ReadJSON(&frame))
		switch frame.Type {
		case "progress":
			progress++
			assert.Equal(t, 2, frame.Total)
			assert.Equal(t, progress, frame.Done)
		case "result":
			assert.Equal(t, 2, progress)
			assert.NotEmpty(t, frame.ID)
			require.NotNil(t, frame.Result)
			assert.Len(t, frame.Result.Sequences, 2)
			assert.NotNil(t, srv.results.Get(frame.ID))
			return
		default:
			t.Fatalf("unexpected frame: %+v", frame)
		}
	}
}

func TestSearchStreamError(t *testing.T) {
	srv := newTestServer(t)
	srv.ctx = context.Background()

	ts := httptest.NewServer(srv.routes())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/search"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(searchRequest{FASTA: ">q1\nACGT999\n"}))

	var frame wsFrame
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "error", frame.Type)
	assert.Equal(t, http.StatusBadRequest, frame.Status)
}

func TestSearchStreamIdleClientDoesNotBlockShutdown(t *testing.T) {
	srv := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	srv.ctx = ctx

	ts := httptest.NewServer(srv.routes())
	defer ts.Close()

	// Upgrade the stream but never send a request frame.
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/search"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return srv.metrics.Snapshot().ActiveStreams == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Stopping the server must unblock the stream goroutine even though the
	// client is still connected.
	cancel()

	done := make(chan struct{})
	go func() {
		srv.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("idle stream kept the server from shutting down")
	}
	assert.Equal(t, 0, srv.metrics.Snapshot().ActiveStreams)
}

func TestResultStoreEviction(t *testing.T) {
	store := newResultStore(2)

	first := store.Put(&tagger.Result{Model: "a"})
	second := store.Put(&tagger.Result{Model: "b"})
	third := store.Put(&tagger.Result{Model: "c"})

	assert.Nil(t, store.Get(first), "oldest result should be evicted")
	assert.NotNil(t, store.Get(second))
	assert.NotNil(t, store.Get(third))
	assert.Equal(t, 2, store.Len())
}
