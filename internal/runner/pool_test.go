package runner

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolRunsSubmittedJobs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := NewPool(ctx, "test-pool", WithPoolWorkers(2))

	var ran atomic.Int64
	for range 5 {
		job := NewJob("cache", func(ctx context.Context, job *Job) error {
			ran.Add(1)
			return nil
		})
		if err := pool.Submit(job); err != nil {
			t.Fatalf("Failed to submit job: %v", err)
		}
	}

	for range 5 {
		job, err := pool.Wait()
		if err != nil {
			t.Fatalf("Wait failed: %v", err)
		}
		if !job.Tracker().IsSucceeded() {
			t.Fatalf("Job %s did not succeed: %v", job.Name(), job.Tracker().Err())
		}
	}

	if ran.Load() != 5 {
		t.Fatalf("Expected 5 jobs to run, got %d", ran.Load())
	}
}

func TestPoolJobFailureStaysInJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := NewPool(ctx, "test-pool")

	boom := errors.New("boom")
	job := NewJob("cache", func(ctx context.Context, job *Job) error {
		return boom
	})
	if err := pool.Submit(job); err != nil {
		t.Fatalf("Failed to submit job: %v", err)
	}

	done, err := pool.Wait()
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if !done.Tracker().IsFailed() {
		t.Fatalf("Expected failed status, got %s", done.Tracker().Status())
	}
	if !errors.Is(done.Tracker().Err(), boom) {
		t.Fatalf("Expected job error to be recorded, got %v", done.Tracker().Err())
	}
}

func TestPoolSubmitDropsWhenFull(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// One worker, queue of one, and a job that blocks the worker
	pool := NewPool(ctx, "test-pool", WithPoolWorkers(1), WithPoolQueueSize(1))

	release := make(chan struct{})
	blocker := NewJob("blocker", func(ctx context.Context, job *Job) error {
		<-release
		return nil
	})
	if err := pool.Submit(blocker); err != nil {
		t.Fatalf("Failed to submit blocker: %v", err)
	}

	// Give the worker time to pick up the blocker, then fill the queue
	time.Sleep(50 * time.Millisecond)
	filler := NewJob("filler", func(ctx context.Context, job *Job) error { return nil })
	if err := pool.Submit(filler); err != nil {
		t.Fatalf("Failed to submit filler: %v", err)
	}

	// The queue is now full; the next submit is dropped, not queued
	dropped := NewJob("dropped", func(ctx context.Context, job *Job) error { return nil })
	if err := pool.Submit(dropped); err == nil {
		t.Fatalf("Expected submit to reject when queue is full")
	}

	close(release)
}

func TestPoolRejectsAfterClose(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pool := NewPool(ctx, "test-pool")
	cancel()

	// Let workers observe cancellation
	time.Sleep(20 * time.Millisecond)

	job := NewJob("late", func(ctx context.Context, job *Job) error { return nil })
	if err := pool.Submit(job); err == nil {
		t.Fatalf("Expected submit to fail after pool close")
	}
}
