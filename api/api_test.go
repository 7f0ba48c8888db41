package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ttts/config"
	"ttts/engine"
	"ttts/fileman"
	"ttts/taskqueue"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Load()
	cfg.BaseDir = dir
	cfg.Prefix = "apitest"
	cfg.BucketDurationSeconds = 3600
	cfg.InitialDocumentID = 1000
	cfg.AutoCommitUpdateCount = 1000
	cfg.AutoCommitDurationSeconds = 3600
	cfg.MaxGeneration = 1
	cfg.ReadConnectionCounts = []int{1, 0}

	files := fileman.New(dir, cfg.Prefix)
	if err := files.EnsureBaseDir(); err != nil {
		t.Fatalf("ensure base dir: %v", err)
	}
	queue, err := taskqueue.Open(files.CommonDBPath())
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	t.Cleanup(func() { queue.Close() })

	eng := engine.New(cfg, files, queue)
	if err := eng.Start(); err != nil {
		t.Fatalf("start engine: %v", err)
	}
	t.Cleanup(func() { eng.Close() })

	return NewServer(eng)
}

func TestSearchRequiresQuery(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest("GET", "/search", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestPutThenGetDocumentWithWait(t *testing.T) {
	s := newTestServer(t)
	router := s.Router()

	body := strings.NewReader(`{"text":"the quick brown fox","timestamp":1000}`)
	req := httptest.NewRequest("PUT", "/doc1?wait=true", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("PUT status = %d, want 202, body=%s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest("GET", "/doc1", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	var doc struct {
		ID       string `json:"id"`
		BodyText string `json:"bodyText"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc.ID != "doc1" || doc.BodyText == "" {
		t.Fatalf("doc = %+v", doc)
	}
}

func TestGetMissingDocumentReturns404(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest("GET", "/missing", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestReconstructWithoutMaintenanceModeReturns409(t *testing.T) {
	s := newTestServer(t)
	body := strings.NewReader(`{"timestamp":1000}`)
	req := httptest.NewRequest("POST", "/reconstruct", body)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409, body=%s", rec.Code, rec.Body.String())
	}
}

func TestMaintenanceModeLifecycle(t *testing.T) {
	s := newTestServer(t)
	router := s.Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/maintenance", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("POST maintenance status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/maintenance", nil))
	var state struct {
		Maintenance bool `json:"maintenance"`
	}
	json.Unmarshal(rec.Body.Bytes(), &state)
	if !state.Maintenance {
		t.Fatal("expected maintenance mode on")
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("DELETE", "/maintenance", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("DELETE maintenance status = %d", rec.Code)
	}
}

func TestFlushEnqueuesSyncTask(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest("POST", "/flush?wait=true", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
}

func TestListShardsEmpty(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest("GET", "/shards", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var shards []interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &shards); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(shards) != 0 {
		t.Fatalf("expected no shards, got %v", shards)
	}
}
