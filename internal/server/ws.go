package server

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"taxotag/internal/tagger"
)

const (
	wsWriteTimeout = 10 * time.Second

	// How long a client may sit on an open stream before sending its
	// request frame.
	wsRequestTimeout = 30 * time.Second

	// A full search over 100 sequences, including a first-use weight
	// download, has to finish within this.
	wsSearchTimeout = 10 * time.Minute
)

// wsFrame is the envelope for every message the stream sends.
type wsFrame struct {
	Type string `json:"type"` // "progress", "result" or "error"

	// progress fields
	Done       int    `json:"done,omitempty"`
	Total      int    `json:"total,omitempty"`
	SequenceID string `json:"sequence_id,omitempty"`

	// result fields
	ID     string         `json:"id,omitempty"`
	Result *tagger.Result `json:"result,omitempty"`

	// error fields
	Status  int    `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
}

// handleSearchStream handles GET /ws/search. The client sends one search
// request as JSON, receives a progress frame per finished sequence, then a
// final result or error frame.
func (s *Server) handleSearchStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Server] WebSocket upgrade failed: %v", err)
		return
	}

	s.metrics.StreamStarted()
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		defer s.metrics.StreamEnded()
		defer conn.Close()

		// Shutdown does not close hijacked connections; force the blocked
		// read out when the server stops.
		done := make(chan struct{})
		defer close(done)
		if s.ctx != nil {
			go func() {
				select {
				case <-s.ctx.Done():
					conn.Close()
				case <-done:
				}
			}()
		}

		s.runSearchStream(conn)
	}()
}

func (s *Server) runSearchStream(conn *websocket.Conn) {
	var req searchRequest
	conn.SetReadDeadline(time.Now().Add(wsRequestTimeout))
	if err := conn.ReadJSON(&req); err != nil {
		log.Printf("[Server] WebSocket read error: %v", err)
		return
	}
	conn.SetReadDeadline(time.Time{})
	if req.FASTA == "" {
		s.sendFrame(conn, wsFrame{Type: "error", Status: http.StatusBadRequest, Message: "fasta is required"})
		return
	}

	// The upgrade request's context died with the handler; searches run
	// against the server lifecycle instead.
	parent := s.ctx
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, wsSearchTimeout)
	defer cancel()

	result, err := s.tagger.Search(ctx, tagger.Request{
		FASTA: req.FASTA,
		Model: req.Model,
		Limit: req.Limit,
		Progress: func(done, total int, seqID string) {
			s.sendFrame(conn, wsFrame{Type: "progress", Done: done, Total: total, SequenceID: seqID})
		},
	})
	if err != nil {
		s.metrics.RecordSearchFailure()
		status := statusForSearchError(err)
		if status == http.StatusInternalServerError {
			log.Printf("[Server] Streamed search failed: %v", err)
		}
		s.sendFrame(conn, wsFrame{Type: "error", Status: status, Message: err.Error()})
		return
	}

	s.metrics.RecordSearch(len(result.Sequences))
	id := s.results.Put(result)
	s.sendFrame(conn, wsFrame{Type: "result", ID: id, Result: result})
}

func (s *Server) sendFrame(conn *websocket.Conn, frame wsFrame) {
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(frame); err != nil {
		log.Printf("[Server] WebSocket write error: %v", err)
	}
}
