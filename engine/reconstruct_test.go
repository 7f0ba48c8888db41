package engine

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// openReconstructSource builds a shard file with the real schema and three
// documents inserted oldest-first, with internal_ids assigned in strictly
// descending order as the engine's ADD path does.
func openReconstructSource(t *testing.T, path string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(schemaDDLForReconstruct(false)); err != nil {
		t.Fatal(err)
	}
	// internal_id 30 is the oldest insert, 10 is the newest.
	rows := []struct {
		internalID int64
		externalID string
	}{
		{30, "doc-oldest"},
		{20, "doc-middle"},
		{10, "doc-newest"},
	}
	for _, r := range rows {
		if _, err := db.Exec(`INSERT INTO id_tuples(internal_id, external_id) VALUES (?, ?)`, r.internalID, r.externalID); err != nil {
			t.Fatal(err)
		}
		if _, err := db.Exec(`INSERT INTO docs(rowid, tokens) VALUES (?, ?)`, r.internalID, r.externalID); err != nil {
			t.Fatal(err)
		}
	}
	return db
}

func TestReconstructPreservesNewestFirstOrdering(t *testing.T) {
	dir := t.TempDir()
	src := openReconstructSource(t, filepath.Join(dir, "src.db"))
	defer src.Close()

	destPath := filepath.Join(dir, "dest.db")
	if err := reconstructInto(src, destPath, 1000, false, 100, false); err != nil {
		t.Fatalf("reconstructInto: %v", err)
	}

	dest, err := sql.Open("sqlite3", "file:"+destPath)
	if err != nil {
		t.Fatal(err)
	}
	defer dest.Close()

	rows, err := dest.Query(`SELECT internal_id, external_id FROM id_tuples ORDER BY internal_id ASC`)
	if err != nil {
		t.Fatal(err)
	}
	defer rows.Close()

	var externalIDsNewestFirst []string
	for rows.Next() {
		var internalID int64
		var externalID string
		if err := rows.Scan(&internalID, &externalID); err != nil {
			t.Fatal(err)
		}
		externalIDsNewestFirst = append(externalIDsNewestFirst, externalID)
	}

	want := []string{"doc-newest", "doc-middle", "doc-oldest"}
	if len(externalIDsNewestFirst) != len(want) {
		t.Fatalf("got %v, want %v", externalIDsNewestFirst, want)
	}
	for i, id := range want {
		if externalIDsNewestFirst[i] != id {
			t.Errorf("position %d: got %q, want %q (ascending-rowid-is-newest-first invariant broken)", i, externalIDsNewestFirst[i], id)
		}
	}
}

func TestReconstructUseExternalIDOrdersByExternalIDAscending(t *testing.T) {
	dir := t.TempDir()
	src := openReconstructSource(t, filepath.Join(dir, "src.db"))
	defer src.Close()

	destPath := filepath.Join(dir, "dest.db")
	if err := reconstructInto(src, destPath, 1000, true, 100, false); err != nil {
		t.Fatalf("reconstructInto: %v", err)
	}

	dest, err := sql.Open("sqlite3", "file:"+destPath)
	if err != nil {
		t.Fatal(err)
	}
	defer dest.Close()

	rows, err := dest.Query(`SELECT internal_id, external_id FROM id_tuples ORDER BY internal_id DESC`)
	if err != nil {
		t.Fatal(err)
	}
	defer rows.Close()

	var got []string
	for rows.Next() {
		var internalID int64
		var externalID string
		if err := rows.Scan(&internalID, &externalID); err != nil {
			t.Fatal(err)
		}
		got = append(got, externalID)
	}

	want := []string{"doc-middle", "doc-newest", "doc-oldest"}
	for i, id := range want {
		if got[i] != id {
			t.Errorf("position %d: got %q, want %q", i, got[i], id)
		}
	}
}
