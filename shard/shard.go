// Package shard implements a single time-bucket shard connection: one
// writer plus N read-only connections per shard file, pragma tuning by
// generation, schema bootstrap, and the crash-recovery batch log that lets
// an in-flight mutation survive a restart between being accepted and being
// committed.
//
// Grounded on the connection-lifecycle bookkeeping of the retrieved
// osakka-entitydb ReaderPool (storage/binary/reader_pool.go) for the
// reader fan-out, generalized from a single shared data file to one pool
// per shard, opened and torn down with shard lifetime rather than process
// lifetime.
package shard

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"ttts/logger"
	"ttts/models"
)

// Tuning carries the per-generation pragma values a Connection is opened
// with. Generation 0 is hot.
type Tuning struct {
	Generation        int
	CacheSizeKiB      int64
	MmapSizeBytes     int64
	Automerge         int
	ReadConnections   int
	WALSizeLimitBytes int64
	PageSizeBytes     int
}

// Connection is one shard's writer plus its reader pool. Exactly one
// Connection exists per open shard; the engine owns the map from bucket
// timestamp to Connection.
type Connection struct {
	BucketTimestamp int64
	Path            string
	RecordPositions bool
	RecordContents  bool

	writer *sql.DB

	readersMu sync.Mutex
	readers   []*sql.DB
	readIdx   int
	lastRead  time.Time

	txMu           sync.Mutex
	tx             *sql.Tx
	pendingTxCount int
	lastTxStart    time.Time
	isCommitting   bool

	tuning Tuning
}

// schemaDDL creates a shard's tables. The docs table uses detail=full when
// positions are recorded, else detail=none.
func schemaDDL(recordPositions bool) string {
	detail := "none"
	if recordPositions {
		detail = "full"
	}
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS id_tuples (
	internal_id INTEGER PRIMARY KEY,
	external_id TEXT UNIQUE NOT NULL
);
CREATE VIRTUAL TABLE IF NOT EXISTS docs USING fts5(
	tokens,
	detail=%s,
	tokenize="unicode61 categories 'L* N* M* P* S*'"
);
CREATE TABLE IF NOT EXISTS extra_attrs (
	external_id TEXT PRIMARY KEY,
	attrs TEXT
);
CREATE TABLE IF NOT EXISTS batch_tasks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	doc_id TEXT NOT NULL,
	body TEXT NOT NULL,
	locale TEXT,
	attrs TEXT,
	created_at INTEGER NOT NULL
);
`, detail)
}

// Open opens (creating if needed) the shard file at path with the given
// tuning, ensures its schema, applies pragmas, and replays any leftover
// batch_tasks rows from a prior crash via replayFn. replayFn is supplied by
// the caller (the engine) since replaying a row means re-running the ADD
// path, which needs the tokenizer.
func Open(path string, tuning Tuning, recordPositions, recordContents bool, replayFn func(doc models.AddPayload) error) (*Connection, error) {
	writer, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("shard: open writer %s: %w", path, err)
	}
	writer.SetMaxOpenConns(1)

	if err := applyPragmas(writer, tuning, true); err != nil {
		writer.Close()
		return nil, fmt.Errorf("shard: apply pragmas %s: %w", path, err)
	}
	if _, err := writer.Exec(schemaDDL(recordPositions)); err != nil {
		writer.Close()
		return nil, fmt.Errorf("shard: ensure schema %s: %w", path, err)
	}
	if err := setAutomerge(writer, tuning.Automerge); err != nil {
		logger.Warn("shard: set automerge failed for %s: %v", path, err)
	}

	c := &Connection{
		BucketTimestamp: 0,
		Path:            path,
		RecordPositions: recordPositions,
		RecordContents:  recordContents,
		writer:          writer,
		tuning:          tuning,
	}

	if err := c.openReaders(tuning.ReadConnections); err != nil {
		writer.Close()
		return nil, err
	}

	if replayFn != nil {
		if err := c.replayBatchTasks(replayFn); err != nil {
			logger.Warn("shard: batch task replay failed for %s: %v", path, err)
		}
	}

	return c, nil
}

func (c *Connection) openReaders(count int) error {
	c.readers = make([]*sql.DB, 0, count)
	for i := 0; i < count; i++ {
		db, err := sql.Open("sqlite3", "file:"+c.Path+"?mode=ro")
		if err != nil {
			return fmt.Errorf("shard: open reader %d for %s: %w", i, c.Path, err)
		}
		db.SetMaxOpenConns(1)
		c.readers = append(c.readers, db)
	}
	return nil
}

func applyPragmas(db *sql.DB, tuning Tuning, isWriter bool) error {
	stmts := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		fmt.Sprintf("PRAGMA cache_size=-%d", tuning.CacheSizeKiB),
		fmt.Sprintf("PRAGMA mmap_size=%d", tuning.MmapSizeBytes),
	}
	if isWriter {
		stmts = append(stmts,
			fmt.Sprintf("PRAGMA journal_size_limit=%d", tuning.WALSizeLimitBytes),
			fmt.Sprintf("PRAGMA page_size=%d", tuning.PageSizeBytes),
		)
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("pragma %q: %w", stmt, err)
		}
	}
	return nil
}

// setAutomerge sets the FTS5 automerge knob via the docs_config shadow
// table.
func setAutomerge(db *sql.DB, level int) error {
	_, err := db.Exec(`INSERT INTO docs(docs, rank) VALUES('automerge', ?)`, level)
	if err != nil {
		// fall back to the documented config-table form; driver/version
		// dependent which incantation the fts5 module accepts.
		_, err = db.Exec(`INSERT OR REPLACE INTO docs_config(k, v) VALUES ('automerge', ?)`, level)
	}
	return err
}

// Retune re-applies pragmas and automerge for a generation change (hot
// promotion/demotion). Read connection count changes are handled by the
// caller closing/reopening readers, since sql.DB pools can't shrink.
func (c *Connection) Retune(tuning Tuning) error {
	c.tuning = tuning
	if err := applyPragmas(c.writer, tuning, true); err != nil {
		return err
	}
	return setAutomerge(c.writer, tuning.Automerge)
}

// ResizeReaders closes the existing reader pool and opens a new one sized
// for the given generation. Used on hot promotion/demotion, where
// readConnectionCounts[generation] changes.
func (c *Connection) ResizeReaders(count int) error {
	c.readersMu.Lock()
	defer c.readersMu.Unlock()

	for _, r := range c.readers {
		r.Close()
	}
	c.readers = nil
	c.readIdx = 0

	for i := 0; i < count; i++ {
		db, err := sql.Open("sqlite3", "file:"+c.Path+"?mode=ro")
		if err != nil {
			return fmt.Errorf("shard: resize readers for %s: %w", c.Path, err)
		}
		db.SetMaxOpenConns(1)
		c.readers = append(c.readers, db)
	}
	return nil
}

// Generation returns the tuning generation this connection was last opened
// or retuned with.
func (c *Connection) Generation() int { return c.tuning.Generation }

// --- write-transaction lifecycle ---------------------------------------

// BeginIfNeeded opens a write transaction if the writer is idle, recording
// the open time. Mutations within the same auto-commit window reuse it.
func (c *Connection) BeginIfNeeded() error {
	c.txMu.Lock()
	defer c.txMu.Unlock()
	if c.tx != nil {
		return nil
	}
	tx, err := c.writer.Begin()
	if err != nil {
		return fmt.Errorf("shard: begin: %w", err)
	}
	c.tx = tx
	c.lastTxStart = time.Now()
	return nil
}

// Tx returns the open write transaction. Callers must have called
// BeginIfNeeded first.
func (c *Connection) Tx() *sql.Tx {
	c.txMu.Lock()
	defer c.txMu.Unlock()
	return c.tx
}

// NotePendingMutation increments the pending mutation counter used by the
// auto-commit policy.
func (c *Connection) NotePendingMutation() {
	c.txMu.Lock()
	c.pendingTxCount++
	c.txMu.Unlock()
}

// ShouldAutoCommit reports whether the open transaction has crossed either
// the update-count or duration threshold.
func (c *Connection) ShouldAutoCommit(updateCountThreshold int, durationThresholdSeconds int64) bool {
	c.txMu.Lock()
	defer c.txMu.Unlock()
	if c.tx == nil || c.isCommitting || c.pendingTxCount == 0 {
		return false
	}
	if c.pendingTxCount >= updateCountThreshold {
		return true
	}
	return time.Since(c.lastTxStart) >= time.Duration(durationThresholdSeconds)*time.Second
}

// HasOpenTransaction reports whether a write transaction is currently open,
// used by the reader-selection rule, which sends reads to the reader pool
// (when there is one) while a write transaction is open.
func (c *Connection) HasOpenTransaction() bool {
	c.txMu.Lock()
	defer c.txMu.Unlock()
	return c.tx != nil
}

// PendingCount returns the current pending-mutation counter.
func (c *Connection) PendingCount() int {
	c.txMu.Lock()
	defer c.txMu.Unlock()
	return c.pendingTxCount
}

// Commit commits the open write transaction (if any) and purges its
// shard-level batch_tasks rows, resetting the pending counters.
func (c *Connection) Commit() error {
	c.txMu.Lock()
	tx := c.tx
	c.isCommitting = true
	c.txMu.Unlock()

	defer func() {
		c.txMu.Lock()
		c.tx = nil
		c.pendingTxCount = 0
		c.isCommitting = false
		c.txMu.Unlock()
	}()

	if tx == nil {
		return nil
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("shard: commit %s: %w", c.Path, err)
	}
	if _, err := c.writer.Exec(`DELETE FROM batch_tasks`); err != nil {
		logger.Warn("shard: purge batch_tasks failed for %s: %v", c.Path, err)
	}
	return nil
}

// Rollback discards the open write transaction without purging batch_tasks,
// leaving the raw mutation log in place for replay on next open.
func (c *Connection) Rollback() error {
	c.txMu.Lock()
	tx := c.tx
	c.tx = nil
	c.pendingTxCount = 0
	c.isCommitting = false
	c.txMu.Unlock()

	if tx == nil {
		return nil
	}
	return tx.Rollback()
}

// LogBatchTask records a raw mutation in the shard's own batch_tasks table,
// committed independently of the main write transaction so it survives a
// crash that loses the in-progress transaction.
func (c *Connection) LogBatchTask(docID, body, locale string, attrs *string) error {
	var attrsVal interface{}
	if attrs != nil {
		attrsVal = *attrs
	}
	_, err := c.writer.Exec(
		`INSERT INTO batch_tasks (doc_id, body, locale, attrs, created_at) VALUES (?, ?, ?, ?, ?)`,
		docID, body, locale, attrsVal, time.Now().Unix())
	return err
}

// replayBatchTasks re-applies any batch_tasks rows left from a prior crash
// via replayFn, then clears the table. Errors from an individual row are
// logged and that row is skipped rather than aborting shard open.
func (c *Connection) replayBatchTasks(replayFn func(models.AddPayload) error) error {
	rows, err := c.writer.Query(`SELECT id, doc_id, body, locale, attrs, created_at FROM batch_tasks ORDER BY id ASC`)
	if err != nil {
		return err
	}
	type row struct {
		id        int64
		docID     string
		body      string
		locale    string
		attrs     sql.NullString
		createdAt int64
	}
	var pending []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.docID, &r.body, &r.locale, &r.attrs, &r.createdAt); err != nil {
			rows.Close()
			return err
		}
		pending = append(pending, r)
	}
	rows.Close()

	for _, r := range pending {
		payload := models.AddPayload{
			DocID:     r.docID,
			Timestamp: r.createdAt,
			BodyText:  r.body,
			Locale:    r.locale,
		}
		if r.attrs.Valid {
			v := r.attrs.String
			payload.Attrs = &v
		}
		if err := replayFn(payload); err != nil {
			logger.Error("shard: replay of batch task %d failed for %s: %v", r.id, c.Path, err)
			continue
		}
	}
	_, err = c.writer.Exec(`DELETE FROM batch_tasks`)
	return err
}

// --- reading -------------------------------------------------------------

// defaultReaderStaleness is how recently a read must have happened for
// the round-robin reader pool to be preferred over the writer connection.
// It is a fixed package-level value with no setter.
var defaultReaderStaleness = 100 * time.Millisecond

// PickReader selects a connection to read through: round-robin over the
// reader pool when one exists and either a write transaction is open or
// the last read was recent, else the writer connection itself.
func (c *Connection) PickReader() *sql.DB {
	c.readersMu.Lock()
	defer c.readersMu.Unlock()

	useReaders := len(c.readers) > 0 && (c.HasOpenTransaction() || time.Since(c.lastRead) < defaultReaderStaleness)
	c.lastRead = time.Now()

	if !useReaders {
		return c.writer
	}
	db := c.readers[c.readIdx%len(c.readers)]
	c.readIdx++
	return db
}

// --- lifecycle -----------------------------------------------------------

// Flush commits any open write transaction.
func (c *Connection) Flush() error {
	return c.Commit()
}

// Optimize runs the FTS-module optimize command, checkpoints the WAL, and
// vacuums. Best-effort.
func (c *Connection) Optimize() error {
	if err := c.Flush(); err != nil {
		logger.Warn("shard: optimize flush failed for %s: %v", c.Path, err)
	}
	if _, err := c.writer.Exec(`INSERT INTO docs(docs) VALUES('optimize')`); err != nil {
		logger.Warn("shard: fts optimize failed for %s: %v", c.Path, err)
	}
	if _, err := c.writer.Exec(`PRAGMA wal_checkpoint(PASSIVE)`); err != nil {
		logger.Warn("shard: wal checkpoint failed for %s: %v", c.Path, err)
	}
	if _, err := c.writer.Exec(`VACUUM`); err != nil {
		logger.Warn("shard: vacuum failed for %s: %v", c.Path, err)
	}
	return nil
}

// Close flushes, checkpoints the WAL to TRUNCATE, and closes every
// connection (readers then writer).
func (c *Connection) Close() error {
	if err := c.Flush(); err != nil {
		logger.Warn("shard: close flush failed for %s: %v", c.Path, err)
	}
	if _, err := c.writer.Exec(`PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		logger.Warn("shard: checkpoint on close failed for %s: %v", c.Path, err)
	}

	c.readersMu.Lock()
	for _, r := range c.readers {
		r.Close()
	}
	c.readers = nil
	c.readersMu.Unlock()

	return c.writer.Close()
}

// Writer exposes the underlying writer handle for mutation statements
// executed by the engine within the open transaction.
func (c *Connection) Writer() *sql.DB { return c.writer }
