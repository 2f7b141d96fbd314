package runner

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/sells-group/oficio-pipeline/internal/model"
	"github.com/sells-group/oficio-pipeline/internal/queue"
)

func newTestQueue(t *testing.T, maxDeliveries int) *queue.SQLQueue {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() }) //nolint:errcheck
	require.NoError(t, queue.Migrate(context.Background(), db))

	q, err := queue.NewSQL(db, "sqlite", queue.SQLQueueConfig{
		Name:          queue.ExtractQueue,
		Visibility:    time.Minute,
		MaxDeliveries: maxDeliveries,
	})
	require.NoError(t, err)
	return q
}

func fastOptions() Options {
	return Options{
		ReceiveBatch:  10,
		IdleWait:      10 * time.Millisecond,
		HandleTimeout: time.Second,
		RetryDelay:    time.Millisecond,
	}
}

// runUntil drives the runner until the condition holds, then shuts it down.
func runUntil(t *testing.T, r *Runner, cond func() bool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	deadline := time.After(3 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			cancel()
			<-done
			t.Fatal("condition not reached in time")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	require.NoError(t, <-done)
}

func TestRunnerProcessesMessages(t *testing.T) {
	q := newTestQueue(t, 3)
	ctx := context.Background()
	for _, id := range []string{"u1", "u2", "u3"} {
		require.NoError(t, q.Send(ctx, queue.Message{BatchID: "b", UnitID: id}))
	}

	var mu sync.Mutex
	seen := map[string]int{}
	r := New(fastOptions(), Stage{
		Name:        "extract",
		Queue:       q,
		Concurrency: 2,
		Handle: func(ctx context.Context, msg queue.Message) error {
			mu.Lock()
			defer mu.Unlock()
			seen[msg.UnitID]++
			return nil
		},
	})

	runUntil(t, r, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 3
	})

	// Successful messages are acked; nothing left to receive.
	got, err := q.Receive(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRunnerFailedMessageReachesDeadLetters(t *testing.T) {
	q := newTestQueue(t, 2)
	ctx := context.Background()
	require.NoError(t, q.Send(ctx, queue.Message{BatchID: "b", UnitID: "u1"}))

	var mu sync.Mutex
	attempts := 0
	r := New(fastOptions(), Stage{
		Name:  "extract",
		Queue: q,
		Handle: func(ctx context.Context, msg queue.Message) error {
			mu.Lock()
			defer mu.Unlock()
			attempts++
			return errors.New("handler always fails")
		},
	})

	runUntil(t, r, func() bool {
		dead, err := q.DeadLetters(ctx, 10)
		require.NoError(t, err)
		return len(dead) == 1
	})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, attempts)
}

func TestRunnerStaleErrorIsAcked(t *testing.T) {
	q := newTestQueue(t, 3)
	ctx := context.Background()
	require.NoError(t, q.Send(ctx, queue.Message{BatchID: "b", UnitID: "u1"}))

	var mu sync.Mutex
	calls := 0
	r := New(fastOptions(), Stage{
		Name:  "integrate",
		Queue: q,
		Handle: func(ctx context.Context, msg queue.Message) error {
			mu.Lock()
			defer mu.Unlock()
			calls++
			return &model.StaleStatusError{
				UnitID:   msg.UnitID,
				Dim:      model.DimIntegration,
				Expected: model.StatusPending,
				Actual:   model.StatusCompleted,
			}
		},
	})

	runUntil(t, r, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls >= 1
	})

	// Stale means duplicate delivery; the message is acked, not retried.
	got, err := q.Receive(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, got)
	dead, err := q.DeadLetters(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, dead)
}

func TestRunnerStopsOnCancel(t *testing.T) {
	q := newTestQueue(t, 3)
	r := New(fastOptions(), Stage{
		Name:   "extract",
		Queue:  q,
		Handle: func(ctx context.Context, msg queue.Message) error { return nil },
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop after cancel")
	}
}
