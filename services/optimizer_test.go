package services

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestOptimizerRunsScheduledBucket(t *testing.T) {
	var called int64
	opt := NewOptimizer(func(bucketTimestamp int64) error {
		atomic.AddInt64(&called, 1)
		return nil
	}, OptimizerConfig{RetryInterval: time.Millisecond})

	if err := opt.Start(); err != nil {
		t.Fatal(err)
	}
	defer opt.Stop()

	opt.Schedule(1000)

	deadline := time.Now().Add(time.Second)
	for atomic.LoadInt64(&called) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if atomic.LoadInt64(&called) != 1 {
		t.Fatalf("expected optimize to run once, ran %d times", called)
	}
	if opt.Stats().Completed != 1 {
		t.Errorf("expected Completed=1, got %d", opt.Stats().Completed)
	}
}

func TestOptimizerRetriesOnError(t *testing.T) {
	var attempts int64
	opt := NewOptimizer(func(bucketTimestamp int64) error {
		n := atomic.AddInt64(&attempts, 1)
		if n < 2 {
			return errors.New("transient failure")
		}
		return nil
	}, OptimizerConfig{RetryInterval: time.Millisecond, MaxRetries: 3})

	opt.Start()
	defer opt.Stop()

	opt.Schedule(2000)

	deadline := time.Now().Add(time.Second)
	for opt.Stats().Completed == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if atomic.LoadInt64(&attempts) < 2 {
		t.Errorf("expected at least 2 attempts, got %d", attempts)
	}
	if opt.Stats().Completed != 1 {
		t.Errorf("expected eventual completion, stats=%+v", opt.Stats())
	}
}

func TestOptimizerStopIsIdempotent(t *testing.T) {
	opt := NewOptimizer(func(int64) error { return nil }, OptimizerConfig{})
	opt.Start()
	if err := opt.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := opt.Stop(); err != nil {
		t.Fatal(err)
	}
}
