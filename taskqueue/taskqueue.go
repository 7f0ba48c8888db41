// Package taskqueue implements a durable task FIFO: two tables in the
// shared "<prefix>-common.db" database, prefixed ids distinguishing the
// data and management partitions, and a
// condition-variable-keyed-by-task-id wait primitive.
//
// Grounded on the channel/mutex bookkeeping of the retrieved
// osakka-entitydb SingleWriterQueue (storage/binary/single_writer_queue.go),
// adapted from an in-memory channel queue to a SQL-backed durable one since
// tasks must survive a process restart.
package taskqueue

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"ttts/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS input_tasks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	kind INTEGER NOT NULL,
	payload TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS batch_tasks (
	id INTEGER PRIMARY KEY,
	kind INTEGER NOT NULL,
	payload TEXT NOT NULL
);
`

// Queue is the durable FIFO over input_tasks/batch_tasks in the shared
// common database. Enqueue is safe for concurrent callers; the worker is
// expected to be the sole caller of fetchFirst/moveToBatch/remove*.
type Queue struct {
	db *sql.DB

	mu       sync.Mutex
	waiters  map[int64][]chan struct{}
}

// Open opens (creating if necessary) the common task database at path and
// ensures its schema.
func Open(path string) (*Queue, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("taskqueue: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("taskqueue: ensure schema: %w", err)
	}

	return &Queue{
		db:      db,
		waiters: make(map[int64][]chan struct{}),
	}, nil
}

// Close releases the underlying database handle.
func (q *Queue) Close() error {
	return q.db.Close()
}

// idPrefix returns "d" for data-partition kinds and "m" for management
// ones.
func idPrefix(kind models.TaskKind) string {
	if kind.IsData() {
		return "d"
	}
	return "m"
}

// formatID renders a raw rowid as the prefixed, partition-tagged task id.
func formatID(kind models.TaskKind, rowID int64) string {
	return fmt.Sprintf("%s-%d", idPrefix(kind), rowID)
}

// Enqueue inserts a new task into input_tasks and returns its prefixed id.
func (q *Queue) Enqueue(kind models.TaskKind, payload []byte) (string, error) {
	res, err := q.db.Exec(`INSERT INTO input_tasks (kind, payload) VALUES (?, ?)`, int(kind), string(payload))
	if err != nil {
		return "", fmt.Errorf("taskqueue: enqueue: %w", err)
	}
	rowID, err := res.LastInsertId()
	if err != nil {
		return "", fmt.Errorf("taskqueue: enqueue: %w", err)
	}
	return formatID(kind, rowID), nil
}

// FetchFirst peeks the oldest pending task in input_tasks without removing
// it. Returns (nil, nil) when the queue is empty.
func (q *Queue) FetchFirst() (*models.Task, error) {
	row := q.db.QueryRow(`SELECT id, kind, payload FROM input_tasks ORDER BY id ASC LIMIT 1`)
	var rowID int64
	var kind int
	var payload string
	if err := row.Scan(&rowID, &kind, &payload); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("taskqueue: fetchFirst: %w", err)
	}
	k := models.TaskKind(kind)
	return &models.Task{
		ID:      formatID(k, rowID),
		RowID:   rowID,
		Kind:    k,
		Payload: []byte(payload),
	}, nil
}

// MoveToBatch atomically transfers a data task from input_tasks into
// batch_tasks, preserving its rowid so waiters keyed by it keep working.
// Called by the worker before applying an idempotent-on-replay mutation.
func (q *Queue) MoveToBatch(task *models.Task) error {
	tx, err := q.db.Begin()
	if err != nil {
		return fmt.Errorf("taskqueue: moveToBatch: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT INTO batch_tasks (id, kind, payload) VALUES (?, ?, ?)`,
		task.RowID, int(task.Kind), string(task.Payload)); err != nil {
		return fmt.Errorf("taskqueue: moveToBatch insert: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM input_tasks WHERE id = ?`, task.RowID); err != nil {
		return fmt.Errorf("taskqueue: moveToBatch delete: %w", err)
	}
	return tx.Commit()
}

// RemoveFromInput completes a control task by deleting its input_tasks row
// and waking any waiters.
func (q *Queue) RemoveFromInput(rowID int64) error {
	if _, err := q.db.Exec(`DELETE FROM input_tasks WHERE id = ?`, rowID); err != nil {
		return fmt.Errorf("taskqueue: removeFromInput: %w", err)
	}
	q.wake(rowID)
	return nil
}

// RemoveFromBatch completes a data task by deleting its batch_tasks row and
// waking any waiters.
func (q *Queue) RemoveFromBatch(rowID int64) error {
	if _, err := q.db.Exec(`DELETE FROM batch_tasks WHERE id = ?`, rowID); err != nil {
		return fmt.Errorf("taskqueue: removeFromBatch: %w", err)
	}
	q.wake(rowID)
	return nil
}

// GetPendingBatchTasks returns data tasks left over from a prior crash,
// oldest (lowest rowid) first, for replay on startup.
func (q *Queue) GetPendingBatchTasks() ([]*models.Task, error) {
	rows, err := q.db.Query(`SELECT id, kind, payload FROM batch_tasks ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("taskqueue: getPendingBatchTasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		var rowID int64
		var kind int
		var payload string
		if err := rows.Scan(&rowID, &kind, &payload); err != nil {
			return nil, fmt.Errorf("taskqueue: getPendingBatchTasks scan: %w", err)
		}
		k := models.TaskKind(kind)
		tasks = append(tasks, &models.Task{
			ID:      formatID(k, rowID),
			RowID:   rowID,
			Kind:    k,
			Payload: []byte(payload),
		})
	}
	return tasks, rows.Err()
}

// IsPending reports whether rowID is present in either input_tasks or
// batch_tasks.
func (q *Queue) IsPending(rowID int64) (bool, error) {
	var exists int
	err := q.db.QueryRow(`
		SELECT EXISTS(SELECT 1 FROM input_tasks WHERE id = ?)
		OR EXISTS(SELECT 1 FROM batch_tasks WHERE id = ?)`, rowID, rowID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("taskqueue: isPending: %w", err)
	}
	return exists != 0, nil
}

// WaitTask blocks until rowID is absent from both input_tasks and
// batch_tasks, i.e. until the task has been completed. It double-checks
// state after registering a waiter to close
// the race where completion happened between the check and the register.
func (q *Queue) WaitTask(rowID int64) error {
	for {
		pending, err := q.IsPending(rowID)
		if err != nil {
			return err
		}
		if !pending {
			return nil
		}

		ch := make(chan struct{})
		q.mu.Lock()
		q.waiters[rowID] = append(q.waiters[rowID], ch)
		q.mu.Unlock()

		pending, err = q.IsPending(rowID)
		if err != nil {
			return err
		}
		if !pending {
			q.wake(rowID)
			return nil
		}

		<-ch
	}
}

// wake signals and clears all waiters registered on rowID.
func (q *Queue) wake(rowID int64) {
	q.mu.Lock()
	chans := q.waiters[rowID]
	delete(q.waiters, rowID)
	q.mu.Unlock()

	for _, ch := range chans {
		close(ch)
	}
}

// RowIDFromTaskID parses back the rowid embedded in a prefixed task id,
// e.g. "d-42" -> 42. Used by engine.WaitTask, which only sees string ids.
func RowIDFromTaskID(taskID string) (int64, error) {
	var rowID int64
	var prefix byte
	if len(taskID) < 3 || taskID[1] != '-' {
		return 0, fmt.Errorf("taskqueue: malformed task id %q", taskID)
	}
	prefix = taskID[0]
	if prefix != 'd' && prefix != 'm' {
		return 0, fmt.Errorf("taskqueue: malformed task id %q", taskID)
	}
	if _, err := fmt.Sscanf(taskID[2:], "%d", &rowID); err != nil {
		return 0, fmt.Errorf("taskqueue: malformed task id %q: %w", taskID, err)
	}
	return rowID, nil
}
