package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueEnqueueBeforeStart(t *testing.T) {
	q := NewQueue("test", func(context.Context, Job) error { return nil }, QueueConfig{})
	err := q.Enqueue(Job{ID: "j1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not started")
}

func TestQueueProcessesJobs(t *testing.T) {
	done := make(chan Job, 1)
	q := NewQueue("test", func(_ context.Context, job Job) error {
		done <- job
		return nil
	}, QueueConfig{Workers: 1})

	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "j1", Type: "certificate_generation"}))

	select {
	case job := <-done:
		assert.Equal(t, "j1", job.ID)
		assert.False(t, job.Enqueued.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("job was not processed")
	}
}

func TestQueueRetriesFailedJob(t *testing.T) {
	attempts := make(chan int, 4)
	q := NewQueue("test", func(_ context.Context, job Job) error {
		attempts <- job.Attempt
		if job.Attempt == 0 {
			return errors.New("transient")
		}
		return nil
	}, QueueConfig{Workers: 1, MaxRetries: 2, RetryDelay: time.Millisecond})

	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "j1"}))

	var seen []int
	for len(seen) < 2 {
		select {
		case a := <-attempts:
			seen = append(seen, a)
		case <-time.After(2 * time.Second):
			t.Fatalf("expected 2 attempts, saw %v", seen)
		}
	}
	assert.Equal(t, []int{0, 1}, seen)
}
