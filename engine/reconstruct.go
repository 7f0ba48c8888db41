package engine

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// reconstructInto implements RECONSTRUCT's rebuild step: it reads every row
// out of src in the requested order and writes a fresh shard file at
// destPath with newly assigned, strictly descending internal_ids starting
// at newInitialID. The destination's docs table is created with
// detail=full when recordPositions is true, else detail=none; src's own
// schema is not inspected.
//
// Ordering: internal_ids are allocated in strictly descending order at ADD
// time, so the oldest document in a shard holds the numerically largest
// internal_id. By default rows are read oldest-first (internal_id
// descending) so that as nextID counts down from newInitialID, the newest
// documents land on the smallest new ids, preserving "ascending rowid is
// newest-first" across reconstruction. useExternalID instead orders by
// external_id ascending, letting an operator normalize shard contents to
// external-id order.
func reconstructInto(src *sql.DB, destPath string, newInitialID int64, useExternalID bool, batchSize int, recordPositions bool) error {
	dest, err := sql.Open("sqlite3", "file:"+destPath)
	if err != nil {
		return fmt.Errorf("reconstruct: open dest %s: %w", destPath, err)
	}
	defer dest.Close()
	dest.SetMaxOpenConns(1)

	if _, err := dest.Exec(schemaDDLForReconstruct(recordPositions)); err != nil {
		return fmt.Errorf("reconstruct: create schema: %w", err)
	}

	order := "t.internal_id DESC"
	if useExternalID {
		order = "t.external_id ASC"
	}
	rows, err := src.Query(fmt.Sprintf(`
		SELECT t.external_id, d.tokens, a.attrs
		FROM id_tuples t
		LEFT JOIN docs d ON d.rowid = t.internal_id
		LEFT JOIN extra_attrs a ON a.external_id = t.external_id
		ORDER BY %s`, order))
	if err != nil {
		return fmt.Errorf("reconstruct: read source: %w", err)
	}
	defer rows.Close()

	tx, err := dest.Begin()
	if err != nil {
		return fmt.Errorf("reconstruct: begin: %w", err)
	}

	nextID := newInitialID
	pending := 0
	for rows.Next() {
		var externalID string
		var tokens, attrs sql.NullString
		if err := rows.Scan(&externalID, &tokens, &attrs); err != nil {
			tx.Rollback()
			return fmt.Errorf("reconstruct: scan: %w", err)
		}

		if _, err := tx.Exec(`INSERT INTO id_tuples(internal_id, external_id) VALUES (?, ?)`, nextID, externalID); err != nil {
			tx.Rollback()
			return fmt.Errorf("reconstruct: insert id_tuples: %w", err)
		}
		if tokens.Valid {
			if _, err := tx.Exec(`INSERT INTO docs(rowid, tokens) VALUES (?, ?)`, nextID, tokens.String); err != nil {
				tx.Rollback()
				return fmt.Errorf("reconstruct: insert docs: %w", err)
			}
		}
		if attrs.Valid {
			if _, err := tx.Exec(`INSERT INTO extra_attrs(external_id, attrs) VALUES (?, ?)`, externalID, attrs.String); err != nil {
				tx.Rollback()
				return fmt.Errorf("reconstruct: insert extra_attrs: %w", err)
			}
		}

		nextID--
		pending++
		if pending >= batchSize {
			if err := tx.Commit(); err != nil {
				return fmt.Errorf("reconstruct: commit batch: %w", err)
			}
			tx, err = dest.Begin()
			if err != nil {
				return fmt.Errorf("reconstruct: begin next batch: %w", err)
			}
			pending = 0
		}
	}
	if err := rows.Err(); err != nil {
		tx.Rollback()
		return fmt.Errorf("reconstruct: iterate source: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("reconstruct: final commit: %w", err)
	}

	if _, err := dest.Exec(`INSERT INTO docs(docs) VALUES('optimize')`); err != nil {
		return fmt.Errorf("reconstruct: optimize: %w", err)
	}
	_, err = dest.Exec(`PRAGMA wal_checkpoint(TRUNCATE)`)
	return err
}

// schemaDDLForReconstruct mirrors shard.schemaDDL; duplicated here (rather
// than exported from package shard) since the reconstruction target is a
// bare file the shard package never opens through Connection until after
// the rename.
func schemaDDLForReconstruct(recordPositions bool) string {
	detail := "none"
	if recordPositions {
		detail = "full"
	}
	return fmt.Sprintf(`
CREATE TABLE id_tuples (
	internal_id INTEGER PRIMARY KEY,
	external_id TEXT UNIQUE NOT NULL
);
CREATE VIRTUAL TABLE docs USING fts5(
	tokens,
	detail=%s,
	tokenize="unicode61 categories 'L* N* M* P* S*'"
);
CREATE TABLE extra_attrs (
	external_id TEXT PRIMARY KEY,
	attrs TEXT
);
CREATE TABLE batch_tasks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	doc_id TEXT NOT NULL,
	body TEXT NOT NULL,
	locale TEXT,
	attrs TEXT,
	created_at INTEGER NOT NULL
);
`, detail)
}
