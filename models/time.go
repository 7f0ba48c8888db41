package models

import "time"

// Centralized time utilities for ttts. All shard-routing code should go
// through these functions so that bucket arithmetic stays in one place.

// Now returns the current time as whole seconds since the Unix epoch.
func Now() int64 {
	return time.Now().Unix()
}

// BucketTimestamp floors ts to the start of the bucket of width
// bucketDurationSeconds that contains it. Buckets are half-open intervals
// [bucketTs, bucketTs+bucketDurationSeconds).
func BucketTimestamp(ts, bucketDurationSeconds int64) int64 {
	if bucketDurationSeconds <= 0 {
		return ts
	}
	return (ts / bucketDurationSeconds) * bucketDurationSeconds
}

// Generation computes a shard's tuning generation relative to the newest
// known bucket: 0 for the hot shard, increasing for older buckets. Used to
// index into per-generation cache/mmap/automerge/read-connection-count
// configuration vectors.
func Generation(latestBucketTs, bucketTs, bucketDurationSeconds int64, maxGeneration int) int {
	if bucketDurationSeconds <= 0 || latestBucketTs < bucketTs {
		return 0
	}
	gen := int((latestBucketTs - bucketTs) / bucketDurationSeconds)
	if gen < 0 {
		gen = 0
	}
	if gen > maxGeneration {
		gen = maxGeneration
	}
	return gen
}
