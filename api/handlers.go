package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"ttts/models"
)

// queryBool reports whether query parameter name is present and truthy
// ("true" or "1"), matching config.getEnvBool's convention.
func queryBool(r *http.Request, name string) bool {
	v := r.URL.Query().Get(name)
	return v == "true" || v == "1"
}

func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// handleSearch implements GET /search.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	cfg := s.engine.Config()
	query := r.URL.Query().Get("query")
	if query == "" {
		respondError(w, http.StatusBadRequest, "query is required")
		return
	}
	locale := r.URL.Query().Get("locale")
	if locale == "" {
		locale = cfg.DefaultLocale
	}
	limit := queryInt(r, "limit", cfg.DefaultSearchLimit)
	offset := queryInt(r, "offset", 0)
	timeout := cfg.DefaultSearchTimeout
	if ms := queryInt(r, "timeout", 0); ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	ids, err := s.engine.Search(ctx, query, locale, limit, offset, timeout)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ids)
}

// handleSearchFetch implements GET /search-fetch.
func (s *Server) handleSearchFetch(w http.ResponseWriter, r *http.Request) {
	cfg := s.engine.Config()
	query := r.URL.Query().Get("query")
	if query == "" {
		respondError(w, http.StatusBadRequest, "query is required")
		return
	}
	locale := r.URL.Query().Get("locale")
	if locale == "" {
		locale = cfg.DefaultLocale
	}
	limit := queryInt(r, "limit", cfg.DefaultSearchLimit)
	offset := queryInt(r, "offset", 0)
	timeout := cfg.DefaultSearchTimeout
	if ms := queryInt(r, "timeout", 0); ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}
	omitBodyText := queryBool(r, "omitBodyText")
	omitAttrs := queryBool(r, "omitAttrs")

	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	ids, err := s.engine.Search(ctx, query, locale, limit, offset, timeout)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	docs, err := s.engine.FetchDocuments(ids, omitBodyText, omitAttrs)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, docs)
}

// handleTokenize implements GET /tokenize.
func (s *Server) handleTokenize(w http.ResponseWriter, r *http.Request) {
	text := r.URL.Query().Get("text")
	if text == "" {
		respondError(w, http.StatusBadRequest, "text is required")
		return
	}
	locale := r.URL.Query().Get("locale")
	if locale == "" {
		locale = s.engine.Config().DefaultLocale
	}
	tokens, err := s.engine.Tokenize(text, locale)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, tokens)
}

// handleGetDocument implements GET /:docId.
func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	docID := mux.Vars(r)["docId"]
	omitBodyText := queryBool(r, "omitBodyText")
	omitAttrs := queryBool(r, "omitAttrs")

	docs, err := s.engine.FetchDocuments([]string{docID}, omitBodyText, omitAttrs)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	if len(docs) == 0 {
		respondError(w, http.StatusNotFound, "document not found")
		return
	}
	respondJSON(w, http.StatusOK, docs[0])
}

// putDocumentRequest is the body of PUT /:docId.
type putDocumentRequest struct {
	Text      string  `json:"text"`
	Timestamp int64   `json:"timestamp"`
	Locale    string  `json:"locale,omitempty"`
	Attrs     *string `json:"attrs,omitempty"`
}

// handlePutDocument implements PUT /:docId (enqueues ADD).
func (s *Server) handlePutDocument(w http.ResponseWriter, r *http.Request) {
	docID := mux.Vars(r)["docId"]

	var req putDocumentRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	taskID, err := s.engine.Enqueue(models.TaskADD, models.AddPayload{
		DocID:     docID,
		Timestamp: req.Timestamp,
		BodyText:  req.Text,
		Locale:    req.Locale,
		Attrs:     req.Attrs,
	})
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondDataTask(w, s.engine, taskID, queryOrBodyWait(r))
}

// handleDeleteDocument implements DELETE /:docId (enqueues REMOVE).
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	docID := mux.Vars(r)["docId"]

	var req struct {
		Timestamp int64 `json:"timestamp"`
	}
	if r.ContentLength != 0 {
		if err := decodeJSON(r.Body, &req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}

	taskID, err := s.engine.Enqueue(models.TaskREMOVE, models.RemovePayload{
		DocID:     docID,
		Timestamp: req.Timestamp,
	})
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondDataTask(w, s.engine, taskID, queryOrBodyWait(r))
}

// handleMaintenanceGet implements GET /maintenance.
func (s *Server) handleMaintenanceGet(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]bool{"maintenance": s.engine.CheckMaintenanceMode()})
}

// handleMaintenancePost implements POST /maintenance.
func (s *Server) handleMaintenancePost(w http.ResponseWriter, r *http.Request) {
	s.engine.StartMaintenanceMode()
	respondJSON(w, http.StatusOK, map[string]bool{"maintenance": true})
}

// handleMaintenanceDelete implements DELETE /maintenance.
func (s *Server) handleMaintenanceDelete(w http.ResponseWriter, r *http.Request) {
	s.engine.EndMaintenanceMode()
	respondJSON(w, http.StatusOK, map[string]bool{"maintenance": false})
}

// handleReconstruct implements POST /reconstruct.
func (s *Server) handleReconstruct(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Timestamp     int64 `json:"timestamp"`
		NewInitialID  int64 `json:"newInitialId,omitempty"`
		UseExternalID bool  `json:"useExternalId,omitempty"`
	}
	if err := decodeJSON(r.Body, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if !s.engine.CheckMaintenanceMode() {
		respondError(w, http.StatusConflict, "maintenance mode required")
		return
	}

	taskID, err := s.engine.Enqueue(models.TaskRECONSTRUCT, models.ReconstructPayload{
		TargetTimestamp: req.Timestamp,
		NewInitialID:    req.NewInitialID,
		UseExternalID:   req.UseExternalID,
	})
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondManagementTask(w, s.engine, taskID, queryOrBodyWait(r))
}

// handleReserve implements POST /reserve.
func (s *Server) handleReserve(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Timestamp int64    `json:"timestamp"`
		IDs       []string `json:"ids"`
	}
	if err := decodeJSON(r.Body, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if !s.engine.CheckMaintenanceMode() {
		respondError(w, http.StatusConflict, "maintenance mode required")
		return
	}

	taskID, err := s.engine.Enqueue(models.TaskRESERVE, models.ReservePayload{
		TargetTimestamp: req.Timestamp,
		IDs:             req.IDs,
	})
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondManagementTask(w, s.engine, taskID, queryOrBodyWait(r))
}

// handleDropShard implements DELETE /shards/:timestamp.
func (s *Server) handleDropShard(w http.ResponseWriter, r *http.Request) {
	tsStr := mux.Vars(r)["timestamp"]
	ts, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid timestamp")
		return
	}
	if !s.engine.CheckMaintenanceMode() {
		respondError(w, http.StatusConflict, "maintenance mode required")
		return
	}

	taskID, enqErr := s.engine.Enqueue(models.TaskDropShard, models.DropShardPayload{TargetTimestamp: ts})
	if enqErr != nil {
		respondEngineError(w, enqErr)
		return
	}
	respondManagementTask(w, s.engine, taskID, queryOrBodyWait(r))
}

// handleListShards implements GET /shards.
func (s *Server) handleListShards(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.ListShards()
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// handleFlush implements POST /flush (enqueues SYNC).
func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	taskID, err := s.engine.Enqueue(models.TaskSYNC, struct{}{})
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondManagementTask(w, s.engine, taskID, queryOrBodyWait(r))
}

// handleOptimize implements POST /optimize.
func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Timestamp int64 `json:"timestamp"`
	}
	if r.ContentLength != 0 {
		if err := decodeJSON(r.Body, &req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}

	taskID, err := s.engine.Enqueue(models.TaskOPTIMIZE, models.OptimizePayload{TargetTimestamp: req.Timestamp})
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondManagementTask(w, s.engine, taskID, queryOrBodyWait(r))
}
