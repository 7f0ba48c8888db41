// Package fileman implements the on-disk layout conventions for ttts shard
// files: path derivation from a bucket timestamp, discovery of existing
// shards, statistics gathering, and deletion of a shard's file set.
//
// Grounded on the path-and-stat patterns in the retrieved
// osakka-entitydb storage layer, generalized from its binary page format
// to the "<prefix>-<bucketTs>.db[-wal|-shm]" triplet sqlite produces for
// a WAL-mode database.
package fileman

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	_ "github.com/mattn/go-sqlite3"

	"ttts/logger"
	"ttts/models"
)

// shardFilePattern matches shard database filenames: "<prefix>-<bucketTs>.db".
var shardFilePatternCache = map[string]*regexp.Regexp{}

func shardFilePattern(prefix string) *regexp.Regexp {
	if re, ok := shardFilePatternCache[prefix]; ok {
		return re
	}
	re := regexp.MustCompile("^" + regexp.QuoteMeta(prefix) + `-(\d+)\.db$`)
	shardFilePatternCache[prefix] = re
	return re
}

// Manager maps bucket timestamps to shard file paths and reports what
// exists on disk under BaseDir.
type Manager struct {
	BaseDir string
	Prefix  string
}

// New returns a Manager rooted at baseDir using the given shard file prefix.
func New(baseDir, prefix string) *Manager {
	return &Manager{BaseDir: baseDir, Prefix: prefix}
}

// ShardPath returns the path of the shard database file owning bucketTs.
// It does not imply the file exists.
func (m *Manager) ShardPath(bucketTs int64) string {
	return filepath.Join(m.BaseDir, fmt.Sprintf("%s-%d.db", m.Prefix, bucketTs))
}

// CommonDBPath returns the path of the shared task-queue database.
func (m *Manager) CommonDBPath() string {
	return filepath.Join(m.BaseDir, m.Prefix+"-common.db")
}

// EnsureBaseDir creates BaseDir if it does not already exist.
func (m *Manager) EnsureBaseDir() error {
	return os.MkdirAll(m.BaseDir, 0o755)
}

// ListShardFiles enumerates shard files in BaseDir matching
// "<prefix>-(\d+)\.db", sorted by bucket timestamp descending.
// A file that exists but cannot be opened and probed is still returned,
// marked unhealthy, rather than dropped from the listing.
func (m *Manager) ListShardFiles() ([]models.ShardFile, error) {
	entries, err := os.ReadDir(m.BaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("fileman: read base dir: %w", err)
	}

	pattern := shardFilePattern(m.Prefix)
	var shards []models.ShardFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := pattern.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		bucketTs, err := strconv.ParseInt(match[1], 10, 64)
		if err != nil {
			continue
		}
		path := filepath.Join(m.BaseDir, entry.Name())
		healthy := probeHealthy(path)
		shards = append(shards, models.ShardFile{
			BucketTimestamp: bucketTs,
			Path:            path,
			Healthy:         healthy,
		})
	}

	sort.Slice(shards, func(i, j int) bool {
		return shards[i].BucketTimestamp > shards[j].BucketTimestamp
	})
	return shards, nil
}

// probeHealthy opens the shard read-only and checks that the schema it
// expects is present. Any failure marks the shard unhealthy but does not
// remove it from the listing.
func probeHealthy(path string) bool {
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro&_query_only=1")
	if err != nil {
		return false
	}
	defer db.Close()

	var count int
	err = db.QueryRow(`SELECT count(*) FROM sqlite_master WHERE name IN ('docs', 'id_tuples')`).Scan(&count)
	if err != nil {
		logger.Warn("fileman: shard %s failed health probe: %v", path, err)
		return false
	}
	return count >= 2
}

// Stats gathers on-disk and FTS payload statistics for the shard at path,
// as surfaced by GET /shards?detailed=true.
func (m *Manager) Stats(shard models.ShardFile) models.ShardStats {
	stats := models.ShardStats{
		BucketTimestamp: shard.BucketTimestamp,
		Healthy:         shard.Healthy,
	}

	if info, err := os.Stat(shard.Path); err == nil {
		stats.FileSizeBytes = info.Size()
	}
	if info, err := os.Stat(shard.Path + "-wal"); err == nil {
		stats.WALSizeBytes = info.Size()
	}

	if !shard.Healthy {
		return stats
	}

	db, err := sql.Open("sqlite3", "file:"+shard.Path+"?mode=ro")
	if err != nil {
		logger.Warn("fileman: stats open failed for %s: %v", shard.Path, err)
		stats.Healthy = false
		return stats
	}
	defer db.Close()

	_ = db.QueryRow(`PRAGMA page_size`).Scan(&stats.PageSize)
	_ = db.QueryRow(`PRAGMA page_count`).Scan(&stats.PageCount)
	_ = db.QueryRow(`SELECT count(*) FROM id_tuples`).Scan(&stats.DocumentCount)

	for table, expr := range map[string]struct {
		sizeExpr string
		dst      *int64
	}{
		"docs_data":    {"sum(length(block))", &stats.DocsDataBytes},
		"docs_docsize": {"sum(length(sz))", &stats.DocsDocsizeBytes},
		"docs_content": {"sum(length(c0))", &stats.DocsContentBytes},
		"docs_config":  {"sum(length(k) + length(v))", &stats.DocsConfigBytes},
	} {
		var size sql.NullInt64
		q := fmt.Sprintf(`SELECT %s FROM %s`, expr.sizeExpr, table)
		if err := db.QueryRow(q).Scan(&size); err == nil && size.Valid {
			*expr.dst = size.Int64
		}
	}

	return stats
}

// DeleteShardFiles removes the {.db, -wal, -shm} triplet for a shard with
// three separate os.Remove calls. The deletion is not atomic: it attempts
// all three and returns the first error, so a failure can leave some
// members removed and others in place. Missing members are not an error;
// callers should have already closed all connections to the shard before
// calling this.
func (m *Manager) DeleteShardFiles(bucketTs int64) error {
	base := m.ShardPath(bucketTs)
	var firstErr error
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := os.Remove(base + suffix); err != nil && !os.IsNotExist(err) {
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
