package shard

import (
	"path/filepath"
	"testing"
	"time"

	"ttts/models"
)

func testTuning() Tuning {
	return Tuning{
		Generation:        0,
		CacheSizeKiB:      1024,
		MmapSizeBytes:     0,
		Automerge:         8,
		ReadConnections:   2,
		WALSizeLimitBytes: 1 << 20,
		PageSizeBytes:     4096,
	}
}

func openTestShard(t *testing.T) *Connection {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shard-100.db")
	c, err := Open(path, testTuning(), true, true, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestBeginIfNeededIdempotent(t *testing.T) {
	c := openTestShard(t)
	if err := c.BeginIfNeeded(); err != nil {
		t.Fatal(err)
	}
	tx1 := c.Tx()
	if err := c.BeginIfNeeded(); err != nil {
		t.Fatal(err)
	}
	if c.Tx() != tx1 {
		t.Error("BeginIfNeeded should reuse the open transaction")
	}
}

func TestShouldAutoCommitByUpdateCount(t *testing.T) {
	c := openTestShard(t)
	c.BeginIfNeeded()
	for i := 0; i < 5; i++ {
		c.NotePendingMutation()
	}
	if c.ShouldAutoCommit(5, 3600) != true {
		t.Error("expected auto-commit once update count threshold reached")
	}
}

func TestShouldAutoCommitByDuration(t *testing.T) {
	c := openTestShard(t)
	c.BeginIfNeeded()
	c.NotePendingMutation()
	c.lastTxStart = time.Now().Add(-10 * time.Second)
	if c.ShouldAutoCommit(1000, 2) != true {
		t.Error("expected auto-commit once duration threshold reached")
	}
}

func TestShouldAutoCommitNoOpenTransaction(t *testing.T) {
	c := openTestShard(t)
	if c.ShouldAutoCommit(1, 0) {
		t.Error("should not auto-commit with no open transaction")
	}
}

func TestCommitResetsState(t *testing.T) {
	c := openTestShard(t)
	c.BeginIfNeeded()
	c.NotePendingMutation()
	if err := c.Commit(); err != nil {
		t.Fatal(err)
	}
	if c.HasOpenTransaction() {
		t.Error("expected no open transaction after commit")
	}
	if c.PendingCount() != 0 {
		t.Error("expected pending count reset after commit")
	}
}

func TestPickReaderFallsBackToWriterWhenIdle(t *testing.T) {
	c := openTestShard(t)
	// no open transaction, no recent read: should use writer
	db := c.PickReader()
	if db != c.writer {
		t.Error("expected writer connection when idle and no recent reads")
	}
}

func TestPickReaderUsesReadersUnderOpenTransaction(t *testing.T) {
	c := openTestShard(t)
	c.BeginIfNeeded()
	db := c.PickReader()
	if db == c.writer {
		t.Error("expected a pooled reader while a write transaction is open")
	}
}

func TestLogAndReplayBatchTasks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shard-200.db")
	c, err := Open(path, testTuning(), true, true, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.LogBatchTask("doc1", "hello world", "en", nil); err != nil {
		t.Fatal(err)
	}
	c.Close()

	var replayed []models.AddPayload
	c2, err := Open(path, testTuning(), true, true, func(p models.AddPayload) error {
		replayed = append(replayed, p)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	defer c2.Close()

	if len(replayed) != 1 || replayed[0].DocID != "doc1" {
		t.Errorf("expected replay of doc1, got %+v", replayed)
	}
}
