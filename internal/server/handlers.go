package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/hyperjump/mitsukeru/internal/builder"
	"github.com/hyperjump/mitsukeru/internal/embedding"
	"github.com/hyperjump/mitsukeru/internal/models"
	"github.com/hyperjump/mitsukeru/internal/search"
)

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req models.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.QueryPath == "" {
		s.respondError(w, http.StatusBadRequest, "query_path is required")
		return
	}
	engine := s.currentEngine()
	if engine == nil {
		s.respondError(w, http.StatusNotFound, "no index available")
		return
	}
	s.logger.Debug("search request", zap.String("query_path", req.QueryPath), zap.Int("k", req.K))
	response, err := engine.Search(r.Context(), req.QueryPath, req.K)
	if err != nil {
		var unavailable *search.IndexUnavailableError
		switch {
		case errors.As(err, &unavailable):
			s.respondError(w, http.StatusNotFound, "no index available")
		case embedding.IsImageError(err):
			s.respondError(w, http.StatusBadRequest, err.Error())
		default:
			s.logger.Error("search failed", zap.Error(err))
			s.respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleIndexBuild(w http.ResponseWriter, r *http.Request) {
	var req models.BuildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var roots []string
	switch {
	case req.All:
		roots = s.roots()
	case req.Root != "":
		abs, err := filepath.Abs(req.Root)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid root path")
			return
		}
		info, err := os.Stat(abs)
		if err != nil {
			if os.IsNotExist(err) {
				s.respondError(w, http.StatusNotFound, "root directory not found")
				return
			}
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if !info.IsDir() {
			s.respondError(w, http.StatusBadRequest, "root is not a directory")
			return
		}
		roots = []string{abs}
	}

	s.logger.Debug("index build request", zap.Strings("roots", roots), zap.Bool("all", req.All))
	id, err := s.TriggerRebuild(r.Context(), roots)
	if err != nil {
		if errors.Is(err, builder.ErrBuildInProgress) {
			s.respondError(w, http.StatusConflict, err.Error())
			return
		}
		s.logger.Error("build start failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusAccepted, map[string]string{"job_id": id, "status": "started"})
}

func (s *Server) handleIndexProgress(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.manager.Status())
}

func (s *Server) handleIndexCancel(w http.ResponseWriter, r *http.Request) {
	if !s.manager.Cancel() {
		s.respondError(w, http.StatusConflict, "no build in progress")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"index_available": false,
		"indexed_images":  0,
	}
	if engine := s.currentEngine(); engine != nil {
		resp["index_available"] = true
		resp["indexed_images"] = engine.Size()
	}
	if stats, err := s.store.Stats(r.Context()); err == nil {
		resp["dimensions"] = stats.Dimensions
		resp["disk_usage_bytes"] = stats.DiskBytes
	}
	resp["config"] = map[string]interface{}{
		"data_dir":             s.config.Storage.DataDir,
		"embedding_dimensions": s.config.Embedding.Dimensions,
		"extensions":           s.config.Scan.Extensions,
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
