package engine

import (
	"context"
	"testing"
	"time"

	"ttts/config"
	"ttts/fileman"
	"ttts/models"
	"ttts/taskqueue"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Load()
	cfg.BaseDir = dir
	cfg.Prefix = "test"
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

	e := New(cfg, files, queue)
	if err := e.Start(); err != nil {
		t.Fatalf("start engine: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func addAndWait(t *testing.T, e *Engine, docID, body string, ts int64) {
	t.Helper()
	id, err := e.Enqueue(models.TaskADD, models.AddPayload{
		DocID:     docID,
		Timestamp: ts,
		BodyText:  body,
	})
	if err != nil {
		t.Fatalf("enqueue add: %v", err)
	}
	if err := e.WaitTask(id); err != nil {
		t.Fatalf("wait add: %v", err)
	}
}

func TestAddThenSearchFindsDocument(t *testing.T) {
	e := newTestEngine(t)
	addAndWait(t, e, "doc1", "the quick brown fox", 1000)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ids, err := e.Search(ctx, "quick fox", "en", 10, 0, time.Second)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(ids) != 1 || ids[0] != "doc1" {
		t.Fatalf("search = %v, want [doc1]", ids)
	}
}

func TestAddThenRemoveDropsFromSearch(t *testing.T) {
	e := newTestEngine(t)
	addAndWait(t, e, "doc1", "the quick brown fox", 1000)

	id, err := e.Enqueue(models.TaskREMOVE, models.RemovePayload{DocID: "doc1", Timestamp: 1000})
	if err != nil {
		t.Fatalf("enqueue remove: %v", err)
	}
	if err := e.WaitTask(id); err != nil {
		t.Fatalf("wait remove: %v", err)
	}

	ctx := context.Background()
	ids, err := e.Search(ctx, "quick", "en", 10, 0, time.Second)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("search after remove = %v, want empty", ids)
	}
}

func TestFetchDocumentsPreservesCallerOrder(t *testing.T) {
	e := newTestEngine(t)
	addAndWait(t, e, "a", "alpha text", 1000)
	addAndWait(t, e, "b", "beta text", 1000)

	docs, err := e.FetchDocuments([]string{"b", "a", "missing"}, false, false)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(docs) != 2 || docs[0].ID != "b" || docs[1].ID != "a" {
		t.Fatalf("fetch order = %+v, want [b a]", docs)
	}
}

func TestReserveRequiresMaintenanceMode(t *testing.T) {
	e := newTestEngine(t)
	id, err := e.Enqueue(models.TaskRESERVE, models.ReservePayload{
		TargetTimestamp: 1000,
		IDs:             []string{"r1", "r2"},
	})
	if err != nil {
		t.Fatalf("enqueue reserve: %v", err)
	}
	if err := e.WaitTask(id); err != nil {
		t.Fatalf("wait reserve: %v", err)
	}

	docs, err := e.FetchDocuments([]string{"r1"}, false, false)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(docs) != 0 {
		t.Fatalf("reserve applied without maintenance mode: %+v", docs)
	}
}

func TestReserveAllocatesDistinctDescendingIDs(t *testing.T) {
	e := newTestEngine(t)
	e.StartMaintenanceMode()

	id, err := e.Enqueue(models.TaskRESERVE, models.ReservePayload{
		TargetTimestamp: 1000,
		IDs:             []string{"r1", "r2", "r3"},
	})
	if err != nil {
		t.Fatalf("enqueue reserve: %v", err)
	}
	if err := e.WaitTask(id); err != nil {
		t.Fatalf("wait reserve: %v", err)
	}
	e.EndMaintenanceMode()

	bucketTs := models.BucketTimestamp(1000, e.cfg.BucketDurationSeconds)
	conn, err := e.getOrOpenShard(bucketTs)
	if err != nil {
		t.Fatalf("open shard: %v", err)
	}
	rows, err := conn.Writer().Query(`SELECT internal_id FROM id_tuples ORDER BY internal_id DESC`)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			t.Fatalf("scan: %v", err)
		}
		ids = append(ids, id)
	}
	if len(ids) != 3 {
		t.Fatalf("expected 3 reserved ids, got %v", ids)
	}
	seen := make(map[int64]bool)
	for _, id := range ids {
		if seen[id] {
			t.Fatalf("duplicate reserved id %d in %v", id, ids)
		}
		seen[id] = true
	}
}

func TestDuplicateExternalIDAcrossShardsRejected(t *testing.T) {
	e := newTestEngine(t)
	// bucketDuration is 3600s; these two timestamps land in different buckets.
	addAndWait(t, e, "dup", "first shard body", 1000)

	id, err := e.Enqueue(models.TaskADD, models.AddPayload{
		DocID:     "dup",
		Timestamp: 100000,
		BodyText:  "second shard body",
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := e.WaitTask(id); err != nil {
		t.Fatalf("wait: %v", err)
	}

	docs, err := e.FetchDocuments([]string{"dup"}, false, false)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(docs) != 1 || docs[0].BodyText == "" {
		t.Fatalf("expected original doc untouched, got %+v", docs)
	}
}

func TestTokenizeDoesNotRequireMaintenanceMode(t *testing.T) {
	e := newTestEngine(t)
	tokens, err := e.Tokenize("hello world", "en")
	if err != nil {
		t.Fatalf("tokenize: %v", err)
	}
	if len(tokens) != 2 {
		t.Fatalf("tokenize = %v, want 2 tokens", tokens)
	}
}

func TestDropShardRequiresMaintenanceMode(t *testing.T) {
	e := newTestEngine(t)
	addAndWait(t, e, "doc1", "content", 1000)
	bucketTs := models.BucketTimestamp(1000, e.cfg.BucketDurationSeconds)

	id, err := e.Enqueue(models.TaskDropShard, models.DropShardPayload{TargetTimestamp: 1000})
	if err != nil {
		t.Fatalf("enqueue drop: %v", err)
	}
	if err := e.WaitTask(id); err != nil {
		t.Fatalf("wait drop: %v", err)
	}

	e.shardsMu.RLock()
	_, stillOpen := e.shards[bucketTs]
	e.shardsMu.RUnlock()
	if !stillOpen {
		t.Fatal("drop_shard applied without maintenance mode")
	}
}
