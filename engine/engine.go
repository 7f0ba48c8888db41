// Package engine implements the search engine's core actor: the single
// dispatch loop that serializes every mutation, owns the shard
// map, and performs search/fetch/reserve/reconstruct/optimize/drop, plus
// hot-shard promotion and maintenance-mode admission control.
//
// Grounded on the dispatch-loop/queue bookkeeping of the retrieved
// osakka-entitydb SingleWriterQueue (storage/binary/single_writer_queue.go):
// a single consumer goroutine draining a work queue, reporting completion
// through per-request channels. Here the queue is the durable SQL-backed
// taskqueue.Queue rather than an in-memory channel, since tasks must
// survive a restart.
package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"ttts/cache"
	"ttts/config"
	"ttts/fileman"
	"ttts/logger"
	"ttts/models"
	"ttts/query"
	"ttts/services"
	"ttts/shard"
	"ttts/storage/pools"
	"ttts/taskqueue"
	"ttts/tokenizer"
)

const shardListCacheKey = "sorted-shards"

// Engine is the single logical worker coordinating an index's shards. All
// mutations flow through its dispatch loop; reads (search, fetchDocuments)
// bypass the queue and talk to shards directly.
type Engine struct {
	cfg   *config.Config
	files *fileman.Manager
	queue *taskqueue.Queue

	shardsMu  sync.RWMutex
	shards    map[int64]*shard.Connection
	hotBucket int64
	hasHot    bool

	maintenance int32

	shardListCache *cache.QueryCache
	optimizer      *services.Optimizer

	stopCh chan struct{}
	wg     sync.WaitGroup

	idleTick time.Duration
}

// New constructs an Engine over the given config, file manager, and
// already-open task queue. Call Start to begin the dispatch loop.
func New(cfg *config.Config, files *fileman.Manager, queue *taskqueue.Queue) *Engine {
	e := &Engine{
		cfg:            cfg,
		files:          files,
		queue:          queue,
		shards:         make(map[int64]*shard.Connection),
		shardListCache: cache.NewQueryCache(1, time.Hour),
		stopCh:         make(chan struct{}),
		idleTick:       cfg.IdleTickInterval,
	}
	e.optimizer = services.NewOptimizer(e.optimizeBucket, services.OptimizerConfig{
		RetryInterval: 5 * time.Second,
		MaxRetries:    2,
	})
	return e
}

// Start drains any batch tasks left from a prior crash, launches the
// background optimizer, and begins the dispatch loop goroutine.
func (e *Engine) Start() error {
	if err := e.files.EnsureBaseDir(); err != nil {
		return err
	}
	if err := e.optimizer.Start(); err != nil {
		return err
	}

	pending, err := e.queue.GetPendingBatchTasks()
	if err != nil {
		return fmt.Errorf("engine: load pending batch tasks: %w", err)
	}
	for _, task := range pending {
		if err := e.applyTask(task); err != nil {
			logger.Error("engine: replay of task %s failed: %v", task.ID, err)
			continue
		}
		if err := e.queue.RemoveFromBatch(task.RowID); err != nil {
			logger.Error("engine: remove replayed batch task %s failed: %v", task.ID, err)
		}
	}

	e.wg.Add(1)
	go e.dispatchLoop()
	return nil
}

// Close stops the dispatch loop, flushes and closes every shard, and
// checkpoints each WAL to TRUNCATE so a restart finds a clean file.
func (e *Engine) Close() error {
	close(e.stopCh)
	e.wg.Wait()
	e.optimizer.Stop()

	e.shardsMu.Lock()
	defer e.shardsMu.Unlock()
	var firstErr error
	for bucketTs, conn := range e.shards {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("engine: close shard %d: %w", bucketTs, err)
		}
	}
	e.shards = make(map[int64]*shard.Connection)
	return firstErr
}

// --- dispatch loop --------------------------------------------------------

func (e *Engine) dispatchLoop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.stopCh:
			return
		default:
		}

		task, err := e.queue.FetchFirst()
		if err != nil {
			logger.Error("engine: fetchFirst failed: %v", err)
			time.Sleep(e.idleTick)
			continue
		}
		if task == nil {
			e.autoCommitTick()
			time.Sleep(e.idleTick)
			continue
		}

		e.dispatch(task)
	}
}

func (e *Engine) dispatch(task *models.Task) {
	if task.Kind.IsData() {
		if err := e.queue.MoveToBatch(task); err != nil {
			logger.Error("engine: moveToBatch failed for %s: %v", task.ID, err)
			return
		}
		if err := e.applyTask(task); err != nil {
			if errors.Is(err, models.ErrTransient) {
				logger.Error("engine: task %s failed transiently, left in batch_tasks for replay: %v", task.ID, err)
				return
			}
			// Permanent failure (bad input, duplicate id, contentless
			// violation): acknowledge the task so WaitTask callers don't
			// block forever on something a restart can't fix.
			logger.Error("engine: task %s failed permanently: %v", task.ID, err)
		}
		if err := e.queue.RemoveFromBatch(task.RowID); err != nil {
			logger.Error("engine: removeFromBatch failed for %s: %v", task.ID, err)
		}
		return
	}

	if err := e.applyTask(task); err != nil {
		logger.Error("engine: management task %s failed: %v", task.ID, err)
	}
	if err := e.queue.RemoveFromInput(task.RowID); err != nil {
		logger.Error("engine: removeFromInput failed for %s: %v", task.ID, err)
	}
}

func (e *Engine) applyTask(task *models.Task) error {
	switch task.Kind {
	case models.TaskADD:
		var p models.AddPayload
		if err := json.Unmarshal(task.Payload, &p); err != nil {
			return fmt.Errorf("%w: %v", models.ErrConfig, err)
		}
		_, err := e.applyAdd(p)
		return err
	case models.TaskREMOVE:
		var p models.RemovePayload
		if err := json.Unmarshal(task.Payload, &p); err != nil {
			return fmt.Errorf("%w: %v", models.ErrConfig, err)
		}
		return e.applyRemove(p)
	case models.TaskSYNC:
		return e.applySync()
	case models.TaskOPTIMIZE:
		var p models.OptimizePayload
		if err := json.Unmarshal(task.Payload, &p); err != nil {
			return fmt.Errorf("%w: %v", models.ErrConfig, err)
		}
		return e.applyOptimize(p)
	case models.TaskRECONSTRUCT:
		var p models.ReconstructPayload
		if err := json.Unmarshal(task.Payload, &p); err != nil {
			return fmt.Errorf("%w: %v", models.ErrConfig, err)
		}
		return e.applyReconstruct(p)
	case models.TaskRESERVE:
		var p models.ReservePayload
		if err := json.Unmarshal(task.Payload, &p); err != nil {
			return fmt.Errorf("%w: %v", models.ErrConfig, err)
		}
		return e.applyReserve(p)
	case models.TaskDropShard:
		var p models.DropShardPayload
		if err := json.Unmarshal(task.Payload, &p); err != nil {
			return fmt.Errorf("%w: %v", models.ErrConfig, err)
		}
		return e.applyDropShard(p)
	default:
		return fmt.Errorf("engine: unknown task kind %v", task.Kind)
	}
}

// --- enqueue helpers (called from the HTTP layer) -------------------------

// Enqueue submits a task and returns its prefixed id; the worker applies it
// asynchronously.
func (e *Engine) Enqueue(kind models.TaskKind, payload interface{}) (string, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrConfig, err)
	}
	return e.queue.Enqueue(kind, buf)
}

// WaitTask blocks until taskID's row is gone from both queue tables.
func (e *Engine) WaitTask(taskID string) error {
	rowID, err := taskqueue.RowIDFromTaskID(taskID)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrConfig, err)
	}
	return e.queue.WaitTask(rowID)
}

// Config exposes the engine's configuration for callers (the HTTP layer)
// that need access to default search parameters.
func (e *Engine) Config() *config.Config { return e.cfg }

// --- maintenance mode ------------------------------------------------------

// StartMaintenanceMode admits RESERVE/RECONSTRUCT/DROP_SHARD tasks. It does
// not pause ADD/REMOVE dispatch; operators are expected to stop sending
// data tasks for the affected shard themselves before reconstructing it.
func (e *Engine) StartMaintenanceMode() { atomic.StoreInt32(&e.maintenance, 1) }

// EndMaintenanceMode clears the maintenance flag, so RESERVE/RECONSTRUCT/
// DROP_SHARD tasks are refused again.
func (e *Engine) EndMaintenanceMode() { atomic.StoreInt32(&e.maintenance, 0) }

// CheckMaintenanceMode reports the current maintenance flag.
func (e *Engine) CheckMaintenanceMode() bool { return atomic.LoadInt32(&e.maintenance) == 1 }

// RequireMaintenanceMode returns ErrAdmissionDenied unless maintenance mode
// is active, the admission check guarding every maintenance-only operation.
func (e *Engine) RequireMaintenanceMode() error {
	if !e.CheckMaintenanceMode() {
		return models.ErrAdmissionDenied
	}
	return nil
}

// --- shard map / hot promotion --------------------------------------------

// getOrOpenShard returns the shard owning bucketTs, opening and tuning it
// if necessary, applying hot-shard promotion/demotion as the newest
// bucket changes.
func (e *Engine) getOrOpenShard(bucketTs int64) (*shard.Connection, error) {
	e.shardsMu.Lock()
	defer e.shardsMu.Unlock()

	if conn, ok := e.shards[bucketTs]; ok {
		return conn, nil
	}

	promotingToHot := !e.hasHot || bucketTs > e.hotBucket
	generation := 0
	if !promotingToHot {
		generation = models.Generation(e.hotBucket, bucketTs, e.cfg.BucketDurationSeconds, e.cfg.MaxGeneration)
	}

	tuning := e.tuningFor(generation)
	conn, err := shard.Open(e.files.ShardPath(bucketTs), tuning, e.cfg.RecordPositions, e.cfg.RecordContents, e.replayAdd)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrTransient, err)
	}

	e.shards[bucketTs] = conn
	e.shardListCache.Invalidate(shardListCacheKey)

	if promotingToHot {
		e.demoteCurrentHotLocked()
		e.hotBucket = bucketTs
		e.hasHot = true
	}

	return conn, nil
}

func (e *Engine) tuningFor(generation int) shard.Tuning {
	return shard.Tuning{
		Generation:        generation,
		CacheSizeKiB:      e.cfg.CacheSizeKiBFor(generation),
		MmapSizeBytes:     e.cfg.MmapSizeBytesFor(generation),
		Automerge:         e.cfg.AutomergeFor(generation),
		ReadConnections:   e.cfg.ReadConnectionCountFor(generation),
		WALSizeLimitBytes: e.cfg.WALSizeLimitBytes,
		PageSizeBytes:     e.cfg.PageSizeBytes,
	}
}

// demoteCurrentHotLocked retunes the outgoing hot shard to an archive
// profile and schedules it for background optimization. Caller holds
// shardsMu.
func (e *Engine) demoteCurrentHotLocked() {
	if !e.hasHot {
		return
	}
	conn, ok := e.shards[e.hotBucket]
	if !ok {
		return
	}
	tuning := e.tuningFor(1)
	if err := conn.Retune(tuning); err != nil {
		logger.Warn("engine: retune demoted shard %d failed: %v", e.hotBucket, err)
	}
	if err := conn.ResizeReaders(tuning.ReadConnections); err != nil {
		logger.Warn("engine: resize readers for demoted shard %d failed: %v", e.hotBucket, err)
	}
	e.optimizer.Schedule(e.hotBucket)
}

// replayAdd re-applies one ADD payload recovered from a shard's own
// batch_tasks table during crash recovery.
func (e *Engine) replayAdd(p models.AddPayload) error {
	_, err := e.applyAdd(p)
	return err
}

// --- mutations -------------------------------------------------------------

// applyAdd implements the ADD task: tokenize, assign an internal_id, and
// write the document into its owning shard.
func (e *Engine) applyAdd(p models.AddPayload) (int64, error) {
	if p.DocID == "" {
		return 0, fmt.Errorf("%w: docId required", models.ErrConfig)
	}

	bucketTs := models.BucketTimestamp(p.Timestamp, e.cfg.BucketDurationSeconds)
	conn, err := e.getOrOpenShard(bucketTs)
	if err != nil {
		return 0, err
	}

	if foundElsewhere, err := e.existsInOtherShard(p.DocID, bucketTs); err != nil {
		return 0, err
	} else if foundElsewhere {
		return 0, models.ErrDuplicateExternalID
	}

	if err := conn.BeginIfNeeded(); err != nil {
		return 0, fmt.Errorf("%w: %v", models.ErrTransient, err)
	}
	tx := conn.Tx()

	internalID, isNew, err := e.resolveOrAllocate(conn, tx, p.DocID)
	if err != nil {
		return 0, err
	}
	if !isNew && !conn.RecordContents {
		return 0, models.ErrContentless
	}

	locale := p.Locale
	if locale == "" {
		locale = e.cfg.DefaultLocale
	}

	if err := conn.LogBatchTask(p.DocID, p.BodyText, locale, p.Attrs); err != nil {
		logger.Warn("engine: log batch task failed for %s: %v", p.DocID, err)
	}

	tk, err := tokenizer.Get()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", models.ErrTransient, err)
	}
	if locale == "" || locale == e.cfg.DefaultLocale {
		locale = tk.GuessLocale(p.BodyText, locale)
	}
	tokens := tk.Tokenize(p.BodyText, locale)
	tokens = tokenizer.LimitTokens(tokens, e.cfg.MaxDocumentTokenCount, conn.RecordPositions)

	tokensJoined := joinTokens(tokens)
	if _, err := tx.Exec(`INSERT OR REPLACE INTO docs(rowid, tokens) VALUES (?, ?)`, internalID, tokensJoined); err != nil {
		return 0, fmt.Errorf("%w: %v", models.ErrTransient, err)
	}

	if isNew {
		if _, err := tx.Exec(`INSERT INTO id_tuples(internal_id, external_id) VALUES (?, ?)`, internalID, p.DocID); err != nil {
			return 0, fmt.Errorf("%w: %v", models.ErrTransient, err)
		}
	}

	if p.Attrs != nil {
		if _, err := tx.Exec(`INSERT OR REPLACE INTO extra_attrs(external_id, attrs) VALUES (?, ?)`, p.DocID, *p.Attrs); err != nil {
			return 0, fmt.Errorf("%w: %v", models.ErrTransient, err)
		}
	}

	conn.NotePendingMutation()
	e.maybeAutoCommit(conn, bucketTs)
	return internalID, nil
}

// resolveOrAllocate looks up p.DocID's internal_id; if absent, allocates
// min(internal_id)-1 (or InitialDocumentID if the shard is empty).
func (e *Engine) resolveOrAllocate(conn *shard.Connection, tx *sql.Tx, externalID string) (int64, bool, error) {
	var internalID int64
	err := tx.QueryRow(`SELECT internal_id FROM id_tuples WHERE external_id = ?`, externalID).Scan(&internalID)
	if err == nil {
		return internalID, false, nil
	}
	if err != sql.ErrNoRows {
		return 0, false, fmt.Errorf("%w: %v", models.ErrTransient, err)
	}

	var minID sql.NullInt64
	if err := tx.QueryRow(`SELECT min(internal_id) FROM id_tuples`).Scan(&minID); err != nil {
		return 0, false, fmt.Errorf("%w: %v", models.ErrTransient, err)
	}

	next := e.cfg.InitialDocumentID
	if minID.Valid {
		next = minID.Int64 - 1
	}
	if next <= 0 {
		return 0, false, models.ErrResourceExhausted
	}
	return next, true, nil
}

// existsInOtherShard reports whether externalID is already present in any
// open shard other than excludeBucket. External ids are unique across the
// whole index, not just within one bucket, so cross-shard duplicates are
// forbidden.
func (e *Engine) existsInOtherShard(externalID string, excludeBucket int64) (bool, error) {
	e.shardsMu.RLock()
	defer e.shardsMu.RUnlock()

	for bucketTs, conn := range e.shards {
		if bucketTs == excludeBucket {
			continue
		}
		var exists int
		err := conn.Writer().QueryRow(`SELECT 1 FROM id_tuples WHERE external_id = ? LIMIT 1`, externalID).Scan(&exists)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("%w: %v", models.ErrTransient, err)
		}
		return true, nil
	}
	return false, nil
}

// applyRemove implements the REMOVE task: deletes a document's rows from
// the shard of the bucket that p.Timestamp falls in.
func (e *Engine) applyRemove(p models.RemovePayload) error {
	bucketTs := models.BucketTimestamp(p.Timestamp, e.cfg.BucketDurationSeconds)
	conn, err := e.getOrOpenShard(bucketTs)
	if err != nil {
		return err
	}
	if !conn.RecordContents {
		return models.ErrContentless
	}

	if err := conn.BeginIfNeeded(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrTransient, err)
	}
	tx := conn.Tx()

	var internalID int64
	err = tx.QueryRow(`SELECT internal_id FROM id_tuples WHERE external_id = ?`, p.DocID).Scan(&internalID)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrTransient, err)
	}

	if _, err := tx.Exec(`DELETE FROM docs WHERE rowid = ?`, internalID); err != nil {
		return fmt.Errorf("%w: %v", models.ErrTransient, err)
	}
	if _, err := tx.Exec(`DELETE FROM id_tuples WHERE internal_id = ?`, internalID); err != nil {
		return fmt.Errorf("%w: %v", models.ErrTransient, err)
	}
	if _, err := tx.Exec(`DELETE FROM extra_attrs WHERE external_id = ?`, p.DocID); err != nil {
		return fmt.Errorf("%w: %v", models.ErrTransient, err)
	}

	conn.NotePendingMutation()
	e.maybeAutoCommit(conn, bucketTs)
	return nil
}

// applySync implements SYNC: force-commit every shard with an open
// transaction, acting as a barrier between everything enqueued before it
// and everything enqueued after.
func (e *Engine) applySync() error {
	e.shardsMu.RLock()
	conns := make([]*shard.Connection, 0, len(e.shards))
	for _, conn := range e.shards {
		conns = append(conns, conn)
	}
	e.shardsMu.RUnlock()

	var firstErr error
	for _, conn := range conns {
		if conn.PendingCount() == 0 {
			continue
		}
		if err := conn.Commit(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%w: %v", models.ErrTransient, err)
		}
	}
	return firstErr
}

// maybeAutoCommit applies the auto-commit policy to one shard after a
// mutation.
func (e *Engine) maybeAutoCommit(conn *shard.Connection, bucketTs int64) {
	if conn.ShouldAutoCommit(e.cfg.AutoCommitUpdateCount, e.cfg.AutoCommitDurationSeconds) {
		if err := conn.Commit(); err != nil {
			logger.Error("engine: auto-commit failed for shard %d: %v", bucketTs, err)
		}
	}
}

// autoCommitTick runs the auto-commit policy across all open shards; called
// on idle dispatch-loop ticks.
func (e *Engine) autoCommitTick() {
	e.shardsMu.RLock()
	conns := make(map[int64]*shard.Connection, len(e.shards))
	for ts, conn := range e.shards {
		conns[ts] = conn
	}
	e.shardsMu.RUnlock()

	for bucketTs, conn := range conns {
		e.maybeAutoCommit(conn, bucketTs)
	}
}

// --- reserve / optimize / reconstruct / drop -------------------------------

// applyReserve implements RESERVE: requires maintenance mode.
func (e *Engine) applyReserve(p models.ReservePayload) error {
	if err := e.RequireMaintenanceMode(); err != nil {
		return err
	}

	byBucket := make(map[int64][]models.ReserveDocument)
	for _, doc := range p.Normalize() {
		bucketTs := models.BucketTimestamp(doc.Timestamp, e.cfg.BucketDurationSeconds)
		byBucket[bucketTs] = append(byBucket[bucketTs], doc)
	}

	for bucketTs, docs := range byBucket {
		conn, err := e.getOrOpenShard(bucketTs)
		if err != nil {
			return err
		}
		if err := conn.BeginIfNeeded(); err != nil {
			return fmt.Errorf("%w: %v", models.ErrTransient, err)
		}
		tx := conn.Tx()
		for _, doc := range docs {
			// resolveOrAllocate only computes the next id; insert it here,
			// within the loop, so the next doc's min(internal_id) query
			// sees it and doesn't reallocate the same id: RESERVE claims
			// ids without writing a corresponding docs row.
			internalID, isNew, err := e.resolveOrAllocate(conn, tx, doc.ID)
			if err != nil {
				conn.Rollback()
				return err
			}
			if !isNew {
				continue
			}
			if _, err := tx.Exec(`INSERT INTO id_tuples(internal_id, external_id) VALUES (?, ?)`, internalID, doc.ID); err != nil {
				conn.Rollback()
				return fmt.Errorf("%w: %v", models.ErrTransient, err)
			}
		}
		if err := conn.Commit(); err != nil {
			return fmt.Errorf("%w: %v", models.ErrTransient, err)
		}
	}
	return nil
}

// applyOptimize implements OPTIMIZE. Best-effort.
func (e *Engine) applyOptimize(p models.OptimizePayload) error {
	bucketTs := models.BucketTimestamp(p.TargetTimestamp, e.cfg.BucketDurationSeconds)
	return e.optimizeBucket(bucketTs)
}

func (e *Engine) optimizeBucket(bucketTs int64) error {
	e.shardsMu.RLock()
	conn, ok := e.shards[bucketTs]
	e.shardsMu.RUnlock()
	if !ok {
		return nil
	}
	return conn.Optimize()
}

// applyDropShard implements DROP_SHARD: requires maintenance mode.
func (e *Engine) applyDropShard(p models.DropShardPayload) error {
	if err := e.RequireMaintenanceMode(); err != nil {
		return err
	}

	bucketTs := models.BucketTimestamp(p.TargetTimestamp, e.cfg.BucketDurationSeconds)

	e.shardsMu.Lock()
	conn, ok := e.shards[bucketTs]
	if !ok {
		e.shardsMu.Unlock()
		return nil
	}
	delete(e.shards, bucketTs)
	wasHot := e.hasHot && e.hotBucket == bucketTs
	if wasHot {
		e.hasHot = false
	}
	e.shardListCache.Invalidate(shardListCacheKey)
	e.shardsMu.Unlock()

	if err := conn.Close(); err != nil {
		logger.Warn("engine: close before drop failed for %d: %v", bucketTs, err)
	}
	if err := e.files.DeleteShardFiles(bucketTs); err != nil {
		return fmt.Errorf("%w: %v", models.ErrTransient, err)
	}

	if wasHot {
		e.promoteNewestRemaining()
	}
	return nil
}

// promoteNewestRemaining selects the newest still-open shard as the new
// hot shard after the previous hot shard was dropped.
func (e *Engine) promoteNewestRemaining() {
	e.shardsMu.Lock()
	defer e.shardsMu.Unlock()

	var newest int64
	found := false
	for ts := range e.shards {
		if !found || ts > newest {
			newest = ts
			found = true
		}
	}
	if !found {
		return
	}
	conn := e.shards[newest]
	tuning := e.tuningFor(0)
	if err := conn.Retune(tuning); err != nil {
		logger.Warn("engine: retune new hot shard %d failed: %v", newest, err)
	}
	if err := conn.ResizeReaders(tuning.ReadConnections); err != nil {
		logger.Warn("engine: resize readers for new hot shard %d failed: %v", newest, err)
	}
	e.hotBucket = newest
	e.hasHot = true
}

// applyReconstruct implements RECONSTRUCT: requires maintenance mode.
// Rebuilds the shard into a sibling temp file with fresh
// descending internal_ids, then renames it over the original.
func (e *Engine) applyReconstruct(p models.ReconstructPayload) error {
	if err := e.RequireMaintenanceMode(); err != nil {
		return err
	}

	bucketTs := models.BucketTimestamp(p.TargetTimestamp, e.cfg.BucketDurationSeconds)
	e.shardsMu.Lock()
	conn, ok := e.shards[bucketTs]
	e.shardsMu.Unlock()
	if !ok {
		return models.ErrNotFound
	}
	if err := conn.Flush(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrTransient, err)
	}

	newInitialID := p.NewInitialID
	if newInitialID == 0 {
		newInitialID = e.cfg.ReconstructInitialID
	}

	originalPath := e.files.ShardPath(bucketTs)
	tempPath := originalPath + ".reconstruct.tmp"
	os.Remove(tempPath)
	os.Remove(tempPath + "-wal")
	os.Remove(tempPath + "-shm")

	if err := reconstructInto(conn.Writer(), tempPath, newInitialID, p.UseExternalID, e.cfg.ReconstructBatchSize, e.cfg.RecordPositions); err != nil {
		os.Remove(tempPath)
		os.Remove(tempPath + "-wal")
		os.Remove(tempPath + "-shm")
		return fmt.Errorf("%w: %v", models.ErrTransient, err)
	}

	e.shardsMu.Lock()
	defer e.shardsMu.Unlock()

	if err := conn.Close(); err != nil {
		logger.Warn("engine: close before reconstruct rename failed for %d: %v", bucketTs, err)
	}
	for _, suffix := range []string{"", "-wal", "-shm"} {
		os.Remove(originalPath + suffix)
	}
	if err := os.Rename(tempPath, originalPath); err != nil {
		return fmt.Errorf("%w: rename reconstructed shard: %v", models.ErrTransient, err)
	}

	generation := 0
	if e.hasHot && e.hotBucket != bucketTs {
		generation = models.Generation(e.hotBucket, bucketTs, e.cfg.BucketDurationSeconds, e.cfg.MaxGeneration)
	}
	newConn, err := shard.Open(originalPath, e.tuningFor(generation), e.cfg.RecordPositions, e.cfg.RecordContents, e.replayAdd)
	if err != nil {
		return fmt.Errorf("%w: reopen reconstructed shard: %v", models.ErrTransient, err)
	}
	e.shards[bucketTs] = newConn
	e.shardListCache.Invalidate(shardListCacheKey)
	return nil
}

// --- search / fetch --------------------------------------------------------

// sortedShardsDescending returns shard bucket timestamps newest first,
// using the cached list when available.
func (e *Engine) sortedShardsDescending() []int64 {
	if cached, ok := e.shardListCache.Get(shardListCacheKey); ok {
		return cached.([]int64)
	}

	e.shardsMu.RLock()
	buckets := make([]int64, 0, len(e.shards))
	for ts := range e.shards {
		buckets = append(buckets, ts)
	}
	e.shardsMu.RUnlock()

	sort.Slice(buckets, func(i, j int) bool { return buckets[i] > buckets[j] })
	e.shardListCache.Set(shardListCacheKey, buckets)
	return buckets
}

// Search runs a compiled query across shards newest-first, merging
// matches until limit+offset results are collected or every shard has
// been consulted.
func (e *Engine) Search(ctx context.Context, rawQuery, locale string, limit, offset int, timeout time.Duration) ([]string, error) {
	compiled := query.Compile(rawQuery, locale, e.cfg.MaxQueryTokenCount, e.cfg.RecordPositions)
	if compiled.FtsQuery == "" {
		return nil, fmt.Errorf("%w: query tokenizes to nothing", models.ErrConfig)
	}

	deadline := time.Now().Add(timeout)
	seen := make(map[string]struct{})
	var ordered []string

	for _, bucketTs := range e.sortedShardsDescending() {
		if len(ordered) >= limit+offset || time.Now().After(deadline) {
			break
		}

		e.shardsMu.RLock()
		conn, ok := e.shards[bucketTs]
		e.shardsMu.RUnlock()
		if !ok {
			continue
		}

		ids, tokensByID, err := e.searchShard(conn, compiled.FtsQuery, limit+offset)
		if err != nil {
			logger.Warn("engine: search of shard %d failed, skipping: %v", bucketTs, err)
			continue
		}

		for _, id := range ids {
			if _, dup := seen[id]; dup {
				continue
			}
			if len(compiled.FilteringPhrases) > 0 {
				tokens := splitTokens(tokensByID[id])
				if !query.MatchesPostFilter(tokens, compiled.FilteringPhrases) {
					continue
				}
			}
			seen[id] = struct{}{}
			ordered = append(ordered, id)
		}
	}

	if offset >= len(ordered) {
		return []string{}, nil
	}
	end := offset + limit
	if end > len(ordered) {
		end = len(ordered)
	}
	return ordered[offset:end], nil
}

func (e *Engine) searchShard(conn *shard.Connection, ftsQuery string, limit int) ([]string, map[string]string, error) {
	db := conn.PickReader()
	rows, err := db.Query(`
		SELECT t.external_id, docs.tokens
		FROM docs JOIN id_tuples t ON docs.rowid = t.internal_id
		WHERE docs MATCH ?
		ORDER BY docs.rowid ASC
		LIMIT ?`, ftsQuery, limit)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var ids []string
	tokensByID := make(map[string]string)
	for rows.Next() {
		var id, tokens string
		if err := rows.Scan(&id, &tokens); err != nil {
			return nil, nil, err
		}
		ids = append(ids, id)
		tokensByID[id] = tokens
	}
	return ids, tokensByID, rows.Err()
}

// FetchDocuments loads documents by external id across whichever shards
// hold them. Results preserve the caller's id ordering.
func (e *Engine) FetchDocuments(ids []string, omitBodyText, omitAttrs bool) ([]models.Document, error) {
	found := make(map[string]models.Document, len(ids))
	remaining := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		remaining[id] = struct{}{}
	}

	for _, bucketTs := range e.sortedShardsDescending() {
		if len(remaining) == 0 {
			break
		}
		e.shardsMu.RLock()
		conn, ok := e.shards[bucketTs]
		e.shardsMu.RUnlock()
		if !ok {
			continue
		}

		docs, err := e.fetchFromShard(conn, remaining, omitBodyText, omitAttrs)
		if err != nil {
			logger.Warn("engine: fetch from shard %d failed, skipping: %v", bucketTs, err)
			continue
		}
		for id, doc := range docs {
			found[id] = doc
			delete(remaining, id)
		}
	}

	results := make([]models.Document, 0, len(ids))
	for _, id := range ids {
		if doc, ok := found[id]; ok {
			results = append(results, doc)
		}
	}
	return results, nil
}

func (e *Engine) fetchFromShard(conn *shard.Connection, wanted map[string]struct{}, omitBodyText, omitAttrs bool) (map[string]models.Document, error) {
	ids := make([]string, 0, len(wanted))
	for id := range wanted {
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders, args := inClause(ids)
	q := fmt.Sprintf(`
		SELECT t.external_id, docs.tokens, a.attrs
		FROM id_tuples t
		LEFT JOIN docs ON docs.rowid = t.internal_id
		LEFT JOIN extra_attrs a ON a.external_id = t.external_id
		WHERE t.external_id IN (%s)`, placeholders)

	db := conn.PickReader()
	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make(map[string]models.Document)
	for rows.Next() {
		var id string
		var tokens, attrs sql.NullString
		if err := rows.Scan(&id, &tokens, &attrs); err != nil {
			return nil, err
		}
		doc := models.Document{ID: id}
		if !omitBodyText && tokens.Valid {
			doc.BodyText = tokens.String
		}
		if !omitAttrs && attrs.Valid {
			v := attrs.String
			doc.Attrs = &v
		}
		results[id] = doc
	}
	return results, rows.Err()
}

// Tokenize exposes the tokenizer directly for GET /tokenize, which does
// not go through the task queue.
func (e *Engine) Tokenize(text, locale string) ([]string, error) {
	tk, err := tokenizer.Get()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrTransient, err)
	}
	if locale == "" {
		locale = tk.GuessLocale(text, e.cfg.DefaultLocale)
	}
	return tk.Tokenize(text, locale), nil
}

// --- shard listing ---------------------------------------------------------

// ListShards returns on-disk shard statistics, marking the current hot
// bucket.
func (e *Engine) ListShards() ([]models.ShardStats, error) {
	files, err := e.files.ListShardFiles()
	if err != nil {
		return nil, err
	}

	e.shardsMu.RLock()
	hotBucket, hasHot := e.hotBucket, e.hasHot
	e.shardsMu.RUnlock()

	stats := make([]models.ShardStats, 0, len(files))
	for _, f := range files {
		s := e.files.Stats(f)
		s.IsHot = hasHot && f.BucketTimestamp == hotBucket
		stats = append(stats, s)
	}
	return stats, nil
}

// --- helpers ---------------------------------------------------------------

func joinTokens(tokens []string) string {
	return strings.Join(tokens, " ")
}

func splitTokens(s string) []string {
	return strings.Fields(s)
}

func inClause(ids []string) (string, []interface{}) {
	placeholders := pools.GetByteSlice()
	defer pools.PutByteSlice(placeholders)

	args := make([]interface{}, len(ids))
	for i, id := range ids {
		if i > 0 {
			*placeholders = append(*placeholders, ',')
		}
		*placeholders = append(*placeholders, '?')
		args[i] = id
	}
	return string(*placeholders), args
}
