package queue

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func newTestQueue(t *testing.T, cfg SQLQueueConfig) *SQLQueue {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() }) //nolint:errcheck
	require.NoError(t, Migrate(context.Background(), db))

	if cfg.Name == "" {
		cfg.Name = ExtractQueue
	}
	q, err := NewSQL(db, "sqlite", cfg)
	require.NoError(t, err)
	return q
}

func TestSQLQueue_SendReceiveAck(t *testing.T) {
	q := newTestQueue(t, SQLQueueConfig{Visibility: time.Minute, MaxDeliveries: 3})
	ctx := context.Background()

	msg := Message{BatchID: "b1", UnitID: "b1_unit_001", ArtifactKey: "a.pdf"}
	require.NoError(t, q.Send(ctx, msg))

	got, err := q.Receive(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, msg, got[0].Msg)
	assert.Equal(t, 1, got[0].Deliveries)

	require.NoError(t, q.Ack(ctx, got[0]))

	// Acked messages are gone for good.
	got, err = q.Receive(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSQLQueue_InFlightInvisible(t *testing.T) {
	q := newTestQueue(t, SQLQueueConfig{Visibility: time.Minute, MaxDeliveries: 3})
	ctx := context.Background()

	require.NoError(t, q.Send(ctx, Message{BatchID: "b1", UnitID: "u1"}))

	first, err := q.Receive(ctx, 10)
	require.NoError(t, err)
	require.Len(t, first, 1)

	// Within the visibility window the message is hidden.
	second, err := q.Receive(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, second)
}

func TestSQLQueue_VisibilityTimeoutRedelivers(t *testing.T) {
	q := newTestQueue(t, SQLQueueConfig{Visibility: 10 * time.Millisecond, MaxDeliveries: 5})
	ctx := context.Background()

	require.NoError(t, q.Send(ctx, Message{BatchID: "b1", UnitID: "u1"}))

	first, err := q.Receive(ctx, 10)
	require.NoError(t, err)
	require.Len(t, first, 1)

	time.Sleep(20 * time.Millisecond)

	second, err := q.Receive(ctx, 10)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, 2, second[0].Deliveries)
}

func TestSQLQueue_NackRedelivers(t *testing.T) {
	q := newTestQueue(t, SQLQueueConfig{Visibility: time.Minute, MaxDeliveries: 5})
	ctx := context.Background()

	require.NoError(t, q.Send(ctx, Message{BatchID: "b1", UnitID: "u1"}))

	first, err := q.Receive(ctx, 10)
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.NoError(t, q.Nack(ctx, first[0], 0))

	second, err := q.Receive(ctx, 10)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, 2, second[0].Deliveries)
}

func TestSQLQueue_ExhaustedGoesToDLQ(t *testing.T) {
	q := newTestQueue(t, SQLQueueConfig{Visibility: time.Minute, MaxDeliveries: 2})
	ctx := context.Background()

	require.NoError(t, q.Send(ctx, Message{BatchID: "b1", UnitID: "u1"}))

	for i := 0; i < 2; i++ {
		got, err := q.Receive(ctx, 10)
		require.NoError(t, err)
		require.Len(t, got, 1)
		require.NoError(t, q.Nack(ctx, got[0], 0))
	}

	// Third receive routes the message to the DLQ instead of returning it.
	got, err := q.Receive(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	dead, err := q.DeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "u1", dead[0].Msg.UnitID)
}

func TestSQLQueue_Redrive(t *testing.T) {
	q := newTestQueue(t, SQLQueueConfig{Visibility: time.Minute, MaxDeliveries: 1})
	ctx := context.Background()

	require.NoError(t, q.Send(ctx, Message{BatchID: "b1", UnitID: "u1"}))

	got, err := q.Receive(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.NoError(t, q.Nack(ctx, got[0], 0))

	got, err = q.Receive(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	moved, err := q.Redrive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	// Redriven messages start over with a fresh delivery budget.
	got, err = q.Receive(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].Deliveries)
}

func TestSQLQueue_QueuesAreIsolated(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() }) //nolint:errcheck
	require.NoError(t, Migrate(context.Background(), db))

	extract, err := NewSQL(db, "sqlite", SQLQueueConfig{Name: ExtractQueue})
	require.NoError(t, err)
	integrate, err := NewSQL(db, "sqlite", SQLQueueConfig{Name: IntegrateQueue})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, extract.Send(ctx, Message{BatchID: "b1", UnitID: "u1"}))

	got, err := integrate.Receive(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = extract.Receive(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
