// Package config provides centralized configuration management for ttts.
//
// Configuration is read from environment variables only, and every value
// has a documented default. All values are loaded once at
// startup; there is no hot-reload since shard tuning vectors are sized
// arrays indexed by generation and must not change shape mid-process.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every tunable named by the engine's data model and
// concurrency sections. Per-generation vectors (CacheSizeKiB, MmapSizeBytes,
// Automerge, ReadConnectionCounts) are indexed by generation, where 0 is
// the hot shard; index 1 is the first demoted generation, and so on.
// Lookups past the end of a vector clamp to the last element.
type Config struct {
	// Storage layout
	// ==============

	// BaseDir is the directory holding all shard files and the shared task
	// queue database.
	// Environment: TTTS_BASE_DIR
	// Default: "./var/ttts"
	BaseDir string

	// Prefix names this resource's shard files: "<prefix>-<bucketTs>.db".
	// Environment: TTTS_PREFIX
	// Default: "ttts"
	Prefix string

	// Bucketing and allocation
	// ========================

	// BucketDurationSeconds is the width of one shard's time bucket.
	// Environment: TTTS_BUCKET_DURATION_SECONDS
	// Default: 86400 (1 day)
	BucketDurationSeconds int64

	// InitialDocumentID is the starting internal_id for a fresh shard;
	// allocation decrements from here. Must be positive.
	// Environment: TTTS_INITIAL_DOCUMENT_ID
	// Default: 2097151
	InitialDocumentID int64

	// ReconstructInitialID is the default newInitialId used by RECONSTRUCT
	// when the caller does not specify one.
	// Environment: TTTS_RECONSTRUCT_INITIAL_ID
	// Default: 268435455
	ReconstructInitialID int64

	// Index semantics
	// ===============

	// RecordPositions enables FTS5 detail=full (native phrase queries) on
	// newly created shards; false uses detail=none with pseudo-phrase
	// post-filtering.
	// Environment: TTTS_RECORD_POSITIONS
	// Default: false
	RecordPositions bool

	// RecordContents marks newly opened shards as content-recording. When
	// false, an ADD for an existing external id and every REMOVE are
	// rejected with ErrContentless. The shard schema is the same either way:
	// the tokens column is stored even when this is false.
	// Environment: TTTS_RECORD_CONTENTS
	// Default: true
	RecordContents bool

	// Token caps
	// ==========

	// MaxQueryTokenCount bounds tokens considered per query piece.
	// Environment: TTTS_MAX_QUERY_TOKEN_COUNT
	// Default: 5
	MaxQueryTokenCount int

	// MaxDocumentTokenCount bounds tokens retained per document.
	// Environment: TTTS_MAX_DOCUMENT_TOKEN_COUNT
	// Default: 10000
	MaxDocumentTokenCount int

	// Auto-commit
	// ===========

	// AutoCommitUpdateCount commits a shard's open transaction once this
	// many pending mutations have accumulated.
	// Environment: TTTS_AUTO_COMMIT_UPDATE_COUNT
	// Default: 200
	AutoCommitUpdateCount int

	// AutoCommitDurationSeconds commits a shard's open transaction once
	// this many seconds have elapsed since it was opened.
	// Environment: TTTS_AUTO_COMMIT_DURATION_SECONDS
	// Default: 2
	AutoCommitDurationSeconds int64

	// IdleTickInterval is how often the worker wakes when the task queue
	// is empty, to run the auto-commit check.
	// Environment: TTTS_IDLE_TICK_INTERVAL_MS
	// Default: 200ms
	IdleTickInterval time.Duration

	// MaintenanceTickInterval is loaded from the environment but not read
	// by the engine; the dispatch loop does not pause in maintenance mode.
	// Environment: TTTS_MAINTENANCE_TICK_INTERVAL_MS
	// Default: 500ms
	MaintenanceTickInterval time.Duration

	// Per-generation tuning
	// =====================

	// MaxGeneration is the highest generation index the vectors below are
	// sized for; generations beyond this clamp to the last entry.
	// Environment: TTTS_MAX_GENERATION
	// Default: 1 (hot + one archive profile)
	MaxGeneration int

	// CacheSizeKiB is SQLite's cache_size per generation, in KiB.
	// Environment: TTTS_CACHE_SIZE_KIB (comma-separated)
	// Default: "24576,400" (24 MiB hot, 400 KiB archive)
	CacheSizeKiB []int64

	// MmapSizeBytes is SQLite's mmap_size per generation, in bytes.
	// Environment: TTTS_MMAP_SIZE_BYTES (comma-separated)
	// Default: "268435456,0" (256 MiB hot, disabled archive)
	MmapSizeBytes []int64

	// Automerge is the FTS5 automerge level per generation.
	// Environment: TTTS_AUTOMERGE (comma-separated)
	// Default: "8,2"
	Automerge []int

	// ReadConnectionCounts is the number of read-only connections opened
	// per generation; generation 0 (hot) typically gets several, archive
	// generations get none.
	// Environment: TTTS_READ_CONNECTION_COUNTS (comma-separated)
	// Default: "4,0"
	ReadConnectionCounts []int

	// WALSizeLimitBytes caps the writer's WAL file via journal_size_limit.
	// Environment: TTTS_WAL_SIZE_LIMIT_BYTES
	// Default: 67108864 (64 MiB)
	WALSizeLimitBytes int64

	// PageSizeBytes is the SQLite page size for newly created shards.
	// Environment: TTTS_PAGE_SIZE_BYTES
	// Default: 8192
	PageSizeBytes int

	// Search
	// ======

	// DefaultSearchTimeout bounds a search call that does not specify its
	// own timeout.
	// Environment: TTTS_DEFAULT_SEARCH_TIMEOUT_MS
	// Default: 1000ms
	DefaultSearchTimeout time.Duration

	// DefaultSearchLimit is the result count used when a caller omits limit.
	// Environment: TTTS_DEFAULT_SEARCH_LIMIT
	// Default: 100
	DefaultSearchLimit int

	// ReaderStalenessWindow is loaded from the environment but not read by
	// the engine; reader selection uses the shard package's own fixed
	// 100ms window.
	// Environment: TTTS_READER_STALENESS_WINDOW_MS
	// Default: 100ms
	ReaderStalenessWindow time.Duration

	// DefaultLocale is used when a caller does not specify a locale.
	// Environment: TTTS_DEFAULT_LOCALE
	// Default: "en"
	DefaultLocale string

	// Task queue
	// ==========

	// TaskQueueBusyRetryInterval is loaded from the environment but not
	// read by the engine. A task that fails with a transient error stays in
	// batch_tasks and is replayed at the next engine Start; the worker does
	// not retry it in-process.
	// Environment: TTTS_TASK_RETRY_INTERVAL_MS
	// Default: 1000ms
	TaskQueueBusyRetryInterval time.Duration

	// MaxConsecutiveTaskFailures is loaded from the environment but not
	// read by the engine; there is no failure count per batch task.
	// Environment: TTTS_MAX_CONSECUTIVE_TASK_FAILURES
	// Default: 5
	MaxConsecutiveTaskFailures int

	// Reconstruct batching
	// ====================

	// ReconstructBatchSize is the row count RECONSTRUCT copies per
	// transaction while rebuilding a shard.
	// Environment: TTTS_RECONSTRUCT_BATCH_SIZE
	// Default: 10000
	ReconstructBatchSize int

	// Logging
	// =======

	// LogLevel sets the minimum log level for message output.
	// Environment: TTTS_LOG_LEVEL
	// Default: "info"
	LogLevel string

	// HTTP server
	// ===========

	// Port is the TCP port the HTTP surface listens on.
	// Environment: TTTS_PORT
	// Default: 8095
	Port int

	// HTTPReadTimeout bounds reading an entire request, including the body.
	// Environment: TTTS_HTTP_READ_TIMEOUT_MS
	// Default: 15s
	HTTPReadTimeout time.Duration

	// HTTPWriteTimeout bounds writing the response.
	// Environment: TTTS_HTTP_WRITE_TIMEOUT_MS
	// Default: 15s
	HTTPWriteTimeout time.Duration

	// HTTPIdleTimeout bounds how long to keep an idle keep-alive connection.
	// Environment: TTTS_HTTP_IDLE_TIMEOUT_MS
	// Default: 60s
	HTTPIdleTimeout time.Duration

	// ShutdownTimeout bounds how long graceful shutdown waits for in-flight
	// requests and the engine's final flush before forcing close.
	// Environment: TTTS_SHUTDOWN_TIMEOUT_MS
	// Default: 10s
	ShutdownTimeout time.Duration
}

// Load builds a Config from environment variables, falling back to
// documented defaults for anything unset or unparsable.
func Load() *Config {
	return &Config{
		BaseDir:               getEnv("TTTS_BASE_DIR", "./var/ttts"),
		Prefix:                getEnv("TTTS_PREFIX", "ttts"),
		BucketDurationSeconds: getEnvInt64("TTTS_BUCKET_DURATION_SECONDS", 86400),
		InitialDocumentID:     getEnvInt64("TTTS_INITIAL_DOCUMENT_ID", 2097151),
		ReconstructInitialID:  getEnvInt64("TTTS_RECONSTRUCT_INITIAL_ID", 268435455),

		RecordPositions: getEnvBool("TTTS_RECORD_POSITIONS", false),
		RecordContents:  getEnvBool("TTTS_RECORD_CONTENTS", true),

		MaxQueryTokenCount:    getEnvInt("TTTS_MAX_QUERY_TOKEN_COUNT", 5),
		MaxDocumentTokenCount: getEnvInt("TTTS_MAX_DOCUMENT_TOKEN_COUNT", 10000),

		AutoCommitUpdateCount:     getEnvInt("TTTS_AUTO_COMMIT_UPDATE_COUNT", 200),
		AutoCommitDurationSeconds: getEnvInt64("TTTS_AUTO_COMMIT_DURATION_SECONDS", 2),
		IdleTickInterval:          getEnvDurationMS("TTTS_IDLE_TICK_INTERVAL_MS", 200),
		MaintenanceTickInterval:   getEnvDurationMS("TTTS_MAINTENANCE_TICK_INTERVAL_MS", 500),

		MaxGeneration:        getEnvInt("TTTS_MAX_GENERATION", 1),
		CacheSizeKiB:         getEnvInt64Slice("TTTS_CACHE_SIZE_KIB", []int64{24576, 400}),
		MmapSizeBytes:        getEnvInt64Slice("TTTS_MMAP_SIZE_BYTES", []int64{268435456, 0}),
		Automerge:            getEnvIntSlice("TTTS_AUTOMERGE", []int{8, 2}),
		ReadConnectionCounts: getEnvIntSlice("TTTS_READ_CONNECTION_COUNTS", []int{4, 0}),
		WALSizeLimitBytes:    getEnvInt64("TTTS_WAL_SIZE_LIMIT_BYTES", 64*1024*1024),
		PageSizeBytes:        getEnvInt("TTTS_PAGE_SIZE_BYTES", 8192),

		DefaultSearchTimeout:  getEnvDurationMS("TTTS_DEFAULT_SEARCH_TIMEOUT_MS", 1000),
		DefaultSearchLimit:    getEnvInt("TTTS_DEFAULT_SEARCH_LIMIT", 100),
		ReaderStalenessWindow: getEnvDurationMS("TTTS_READER_STALENESS_WINDOW_MS", 100),
		DefaultLocale:         getEnv("TTTS_DEFAULT_LOCALE", "en"),

		TaskQueueBusyRetryInterval: getEnvDurationMS("TTTS_TASK_RETRY_INTERVAL_MS", 1000),
		MaxConsecutiveTaskFailures: getEnvInt("TTTS_MAX_CONSECUTIVE_TASK_FAILURES", 5),

		ReconstructBatchSize: getEnvInt("TTTS_RECONSTRUCT_BATCH_SIZE", 10000),

		LogLevel: getEnv("TTTS_LOG_LEVEL", "info"),

		Port:             getEnvInt("TTTS_PORT", 8095),
		HTTPReadTimeout:  getEnvDurationMS("TTTS_HTTP_READ_TIMEOUT_MS", 15000),
		HTTPWriteTimeout: getEnvDurationMS("TTTS_HTTP_WRITE_TIMEOUT_MS", 15000),
		HTTPIdleTimeout:  getEnvDurationMS("TTTS_HTTP_IDLE_TIMEOUT_MS", 60000),
		ShutdownTimeout:  getEnvDurationMS("TTTS_SHUTDOWN_TIMEOUT_MS", 10000),
	}
}

// CommonDBPath returns the path to the shared task-queue database.
func (c *Config) CommonDBPath() string {
	return c.BaseDir + "/" + c.Prefix + "-common.db"
}

// ShardPath returns the path to the shard file for the given bucket
// timestamp.
func (c *Config) ShardPath(bucketTs int64) string {
	return c.BaseDir + "/" + c.Prefix + "-" + strconv.FormatInt(bucketTs, 10) + ".db"
}

// clampIdx clamps generation to the range of a per-generation vector.
func clampIdx(generation, length int) int {
	if length == 0 {
		return 0
	}
	if generation >= length {
		return length - 1
	}
	if generation < 0 {
		return 0
	}
	return generation
}

// CacheSizeKiBFor returns the cache_size tuning for a generation.
func (c *Config) CacheSizeKiBFor(generation int) int64 {
	return c.CacheSizeKiB[clampIdx(generation, len(c.CacheSizeKiB))]
}

// MmapSizeBytesFor returns the mmap_size tuning for a generation.
func (c *Config) MmapSizeBytesFor(generation int) int64 {
	return c.MmapSizeBytes[clampIdx(generation, len(c.MmapSizeBytes))]
}

// AutomergeFor returns the FTS5 automerge level for a generation.
func (c *Config) AutomergeFor(generation int) int {
	return c.Automerge[clampIdx(generation, len(c.Automerge))]
}

// ReadConnectionCountFor returns the reader-pool size for a generation.
func (c *Config) ReadConnectionCountFor(generation int) int {
	return c.ReadConnectionCounts[clampIdx(generation, len(c.ReadConnectionCounts))]
}

// -----------------------------------------------------------------------
// Environment variable parsing helpers
// -----------------------------------------------------------------------

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

func getEnvDurationMS(key string, defaultMS int) time.Duration {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return time.Duration(n) * time.Millisecond
		}
	}
	return time.Duration(defaultMS) * time.Millisecond
}

func getEnvIntSlice(key string, defaultValue []int) []int {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]int, 0, len(parts))
		for _, part := range parts {
			if n, err := strconv.Atoi(strings.TrimSpace(part)); err == nil {
				result = append(result, n)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}

func getEnvInt64Slice(key string, defaultValue []int64) []int64 {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]int64, 0, len(parts))
		for _, part := range parts {
			if n, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64); err == nil {
				result = append(result, n)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
