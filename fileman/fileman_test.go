package fileman

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"ttts/models"
)

func TestShardPath(t *testing.T) {
	m := New("/data/ttts", "docs")
	got := m.ShardPath(172800)
	want := filepath.Join("/data/ttts", "docs-172800.db")
	if got != want {
		t.Errorf("ShardPath = %q, want %q", got, want)
	}
}

func TestCommonDBPath(t *testing.T) {
	m := New("/data/ttts", "docs")
	want := filepath.Join("/data/ttts", "docs-common.db")
	if got := m.CommonDBPath(); got != want {
		t.Errorf("CommonDBPath = %q, want %q", got, want)
	}
}

func TestListShardFilesSortedDescending(t *testing.T) {
	dir := t.TempDir()
	m := New(dir, "docs")

	for _, name := range []string{
		"docs-100.db",
		"docs-300.db",
		"docs-200.db",
		"docs-common.db",    // not a shard
		"docs-100.db-wal",   // not a shard file itself
		"other-100.db",      // different prefix
		"docs-abc.db",       // non-numeric, ignored
	} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	shards, err := m.ListShardFiles()
	if err != nil {
		t.Fatal(err)
	}
	if len(shards) != 3 {
		t.Fatalf("expected 3 shards, got %d: %+v", len(shards), shards)
	}
	want := []int64{300, 200, 100}
	for i, ts := range want {
		if shards[i].BucketTimestamp != ts {
			t.Errorf("shards[%d].BucketTimestamp = %d, want %d", i, shards[i].BucketTimestamp, ts)
		}
	}
}

func TestListShardFilesEmptyBaseDir(t *testing.T) {
	m := New(filepath.Join(t.TempDir(), "does-not-exist"), "docs")
	shards, err := m.ListShardFiles()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if shards != nil {
		t.Errorf("expected nil shards, got %+v", shards)
	}
}

func TestDeleteShardFilesMissingMembersNotError(t *testing.T) {
	dir := t.TempDir()
	m := New(dir, "docs")
	path := m.ShardPath(500)
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	// no -wal or -shm file present
	if err := m.DeleteShardFiles(500); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("shard file should have been removed")
	}
}

func TestStatsUnhealthySkipsFTSProbe(t *testing.T) {
	m := New(t.TempDir(), "docs")
	stats := m.Stats(models.ShardFile{BucketTimestamp: 100, Path: m.ShardPath(100), Healthy: false})
	if stats.Healthy {
		t.Error("expected stats to report unhealthy")
	}
	if stats.DocumentCount != 0 {
		t.Error("expected no document count probing for unhealthy shard")
	}
}

func TestStatsHealthyShardReportsPerTableBytes(t *testing.T) {
	m := New(t.TempDir(), "docs")
	path := m.ShardPath(100)

	db, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`
CREATE TABLE id_tuples (internal_id INTEGER PRIMARY KEY, external_id TEXT UNIQUE NOT NULL);
CREATE VIRTUAL TABLE docs USING fts5(tokens, detail=none);
`); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`INSERT INTO id_tuples (internal_id, external_id) VALUES (1, 'doc-a'), (2, 'doc-b')`); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`INSERT INTO docs (rowid, tokens) VALUES (1, 'hello world'), (2, 'another document body')`); err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	stats := m.Stats(models.ShardFile{BucketTimestamp: 100, Path: path, Healthy: true})
	if !stats.Healthy {
		t.Fatal("expected stats to report healthy")
	}
	if stats.DocumentCount != 2 {
		t.Errorf("DocumentCount = %d, want 2", stats.DocumentCount)
	}
	if stats.DocsDataBytes <= 0 {
		t.Error("expected DocsDataBytes > 0 for a populated shard")
	}
	if stats.DocsDocsizeBytes <= 0 {
		t.Error("expected DocsDocsizeBytes > 0 for a populated shard")
	}
	if stats.DocsContentBytes <= 0 {
		t.Error("expected DocsContentBytes > 0: fts5 stores the original column text here by default")
	}
	if stats.DocsConfigBytes <= 0 {
		t.Error("expected DocsConfigBytes > 0 for a populated shard (fts5 always writes its version key)")
	}
}
