package server

import (
	"encoding/json"
	"io"
	"net/http"

	"rankgofer/internal/lookup"
)

// maxBodySize bounds a lookup request body
const maxBodySize = 1 << 20

// Service is the lookup surface served over HTTP
type Service interface {
	ResolveMany(items []string) map[string]float64
	Resolve(item string) (float64, bool)
	AddObserver(obs lookup.Observer) func()
}

type lookupRequest struct {
	Items []string `json:"items"`
}

type lookupResponse struct {
	Ranks map[string]float64 `json:"ranks"`
}

type rankResponse struct {
	Item string  `json:"item"`
	Rank float64 `json:"rank"`
}

func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if len(body) > maxBodySize {
		s.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	var req lookupRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.Items) == 0 {
		s.writeError(w, http.StatusBadRequest, "items must not be empty")
		return
	}

	ranks := s.service.ResolveMany(req.Items)
	s.writeJSON(w, http.StatusOK, lookupResponse{Ranks: ranks})
}

func (s *Server) handleLookupOne(w http.ResponseWriter, r *http.Request) {
	item := r.PathValue("item")
	rank, ok := s.service.Resolve(item)
	if !ok {
		s.writeError(w, http.StatusNotFound, "rank not found")
		return
	}
	s.writeJSON(w, http.StatusOK, rankResponse{Item: item, Rank: rank})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON writes v as a JSON body
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to marshal response")
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError writes a plain HTTP error
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	http.Error(w, message, status)
}
