package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/cdpedia/cdpindex/internal/index"
	"github.com/cdpedia/cdpindex/internal/models"
	"github.com/cdpedia/cdpindex/internal/search"
)

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var query models.SearchQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.search(w, r, &query)
}

func (s *Server) handleSearchQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := models.SearchQuery{Query: q.Get("q")}
	var err error
	if v := q.Get("partial"); v != "" {
		if query.Partial, err = strconv.ParseBool(v); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid partial")
			return
		}
	}
	for name, dst := range map[string]*int{"limit": &query.Limit, "offset": &query.Offset} {
		if v := q.Get(name); v != "" {
			if *dst, err = strconv.Atoi(v); err != nil {
				s.respondError(w, http.StatusBadRequest, "invalid "+name)
				return
			}
		}
	}
	s.search(w, r, &query)
}

func (s *Server) search(w http.ResponseWriter, r *http.Request, query *models.SearchQuery) {
	s.logger.Debug("search request",
		zap.String("query", query.Query),
		zap.Bool("partial", query.Partial),
		zap.Int("limit", query.Limit))
	response, err := s.engine.Search(r.Context(), query)
	if err != nil {
		s.fail(w, "search", err)
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleRandom(w http.ResponseWriter, r *http.Request) {
	doc, err := s.engine.Random(r.Context())
	if err != nil {
		s.fail(w, "random", err)
		return
	}
	s.respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleContains(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	ok, err := s.engine.Contains(r.Context(), token)
	if err != nil {
		s.fail(w, "contains", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"token": token, "contains": ok})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.Stats(r.Context())
	if err != nil {
		s.fail(w, "status", err)
		return
	}
	s.respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if !s.engine.Ready() {
		status = "no index"
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": status})
}

// fail maps an engine error to a status code: bad input is 400, a missing
// index 503, and anything else 500.
func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case search.IsBadQuery(err):
		s.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, index.ErrMissingIndex):
		s.respondError(w, http.StatusServiceUnavailable, "index not available")
	default:
		s.logger.Error(op+" failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
