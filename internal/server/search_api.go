package server

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"taxotag/internal/fasta"
	"taxotag/internal/models"
	"taxotag/internal/tagger"
	"taxotag/internal/vecdb"
)

// searchRequest is the body of POST /api/search.
type searchRequest struct {
	FASTA string `json:"fasta"`
	Model string `json:"model,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

// searchResponse wraps a search result with its export ID.
type searchResponse struct {
	ID     string         `json:"id"`
	Result *tagger.Result `json:"result"`
}

// handleSearch handles POST /api/search
// Request: {"fasta": ">SEQ1|...\nACGT...", "model": "MycoAI-CNN", "limit": 2}
// Response: {"id": "...", "result": {...}}
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.FASTA == "" {
		writeJSONError(w, http.StatusBadRequest, "fasta is required")
		return
	}

	result, err := s.tagger.Search(r.Context(), tagger.Request{
		FASTA: req.FASTA,
		Model: req.Model,
		Limit: req.Limit,
	})
	if err != nil {
		s.metrics.RecordSearchFailure()
		status := statusForSearchError(err)
		if status == http.StatusInternalServerError {
			log.Printf("[Server] Search failed: %v", err)
		}
		writeJSONError(w, status, err.Error())
		return
	}

	s.metrics.RecordSearch(len(result.Sequences))
	id := s.results.Put(result)

	writeJSON(w, http.StatusOK, searchResponse{ID: id, Result: result})
}

// handleCSVExport handles GET /api/search/csv?id=<export id>
// The export is streamed to the client and also written under the exports
// directory, where the maintenance cleaner expires it.
func (s *Server) handleCSVExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		writeJSONError(w, http.StatusBadRequest, "id is required")
		return
	}
	result := s.results.Get(id)
	if result == nil {
		writeJSONError(w, http.StatusNotFound, "unknown or expired result id")
		return
	}

	records := resultToCSV(result)

	path := filepath.Join(s.dataDir.ExportsDir(), id+".csv")
	if err := writeCSVFile(path, records); err != nil {
		log.Printf("[Server] WARNING: Failed to persist export %s: %v", id, err)
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "taxonomy_"+id+".csv"))
	cw := csv.NewWriter(w)
	if err := cw.WriteAll(records); err != nil {
		log.Printf("[Server] CSV export write error: %v", err)
		return
	}

	s.metrics.RecordExport()
}

// modelInfo is one entry of the GET /api/models response.
type modelInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Dimensions  int    `json:"dimensions"`
	Default     bool   `json:"default"`
	Cached      bool   `json:"cached"` // weights present on disk (or none needed)
}

// handleModels handles GET /api/models
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	list := s.registry.List()
	infos := make([]modelInfo, len(list))
	for i, m := range list {
		infos[i] = modelInfo{
			Name:        m.Name,
			Description: m.Description,
			Dimensions:  m.Dimensions,
			Default:     m.Name == s.config.Search.DefaultModel,
			Cached:      !m.HasWeights() || s.downloader.Cached(m),
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"models": infos,
	})
}

// handleDatabases handles GET /api/databases
func (s *Server) handleDatabases(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	dbs, err := s.tagger.ListDatabases()
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to list databases: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"databases": dbs,
	})
}

// resultToCSV flattens a search result into header + rows.
func resultToCSV(result *tagger.Result) [][]string {
	records := [][]string{{"sequence_id", "rank", "n", "label", "hit_id", "similarity"}}
	for _, seq := range result.Sequences {
		for _, rank := range result.Ranks {
			for n, match := range seq.Ranks[rank] {
				records = append(records, []string{
					seq.ID,
					rank,
					strconv.Itoa(n + 1),
					match.Label,
					match.HitID,
					strconv.FormatFloat(match.Similarity, 'f', 4, 64),
				})
			}
		}
	}
	return records
}

func writeCSVFile(path string, records [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if err := cw.WriteAll(records); err != nil {
		return err
	}
	return f.Close()
}

// statusForSearchError maps tagger errors to HTTP status codes: bad input is
// the client's fault, a missing database means the service is not provisioned
// for that model yet.
func statusForSearchError(err error) int {
	switch {
	case errors.Is(err, vecdb.ErrNoDatabase):
		return http.StatusServiceUnavailable
	case errors.Is(err, models.ErrUnknownModel):
		return http.StatusBadRequest
	case errors.Is(err, fasta.ErrNoRecords),
		errors.Is(err, fasta.ErrMissingHeader),
		errors.Is(err, fasta.ErrEmptyHeader),
		errors.Is(err, fasta.ErrEmptySequence),
		errors.Is(err, fasta.ErrDuplicateID),
		errors.Is(err, fasta.ErrTooManySequences),
		errors.Is(err, fasta.ErrInvalidSequence):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeJSONError writes a JSON error response.
func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
