package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"ttts/engine"
)

// Server wires HTTP handlers to a running engine.Engine.
type Server struct {
	engine *engine.Engine
}

// NewServer constructs a Server bound to eng.
func NewServer(eng *engine.Engine) *Server {
	return &Server{engine: eng}
}

// Router builds the mux.Router exposing the engine's HTTP surface.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/search", s.handleSearch).Methods("GET")
	router.HandleFunc("/search-fetch", s.handleSearchFetch).Methods("GET")
	router.HandleFunc("/tokenize", s.handleTokenize).Methods("GET")

	router.HandleFunc("/maintenance", s.handleMaintenanceGet).Methods("GET")
	router.HandleFunc("/maintenance", s.handleMaintenancePost).Methods("POST")
	router.HandleFunc("/maintenance", s.handleMaintenanceDelete).Methods("DELETE")

	router.HandleFunc("/reconstruct", s.handleReconstruct).Methods("POST")
	router.HandleFunc("/reserve", s.handleReserve).Methods("POST")
	router.HandleFunc("/shards", s.handleListShards).Methods("GET")
	router.HandleFunc("/shards/{timestamp}", s.handleDropShard).Methods("DELETE")
	router.HandleFunc("/flush", s.handleFlush).Methods("POST")
	router.HandleFunc("/optimize", s.handleOptimize).Methods("POST")

	router.HandleFunc("/{docId}", s.handleGetDocument).Methods("GET")
	router.HandleFunc("/{docId}", s.handlePutDocument).Methods("PUT")
	router.HandleFunc("/{docId}", s.handleDeleteDocument).Methods("DELETE")

	router.Use(requestIDMiddleware)

	return router
}
