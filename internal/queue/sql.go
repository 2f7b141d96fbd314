package queue

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// SQLQueue is a database-backed queue. It shares the tracking database, so
// sqlite deployments need no extra infrastructure. Visibility is tracked as
// a unix-millisecond timestamp.
type SQLQueue struct {
	db            *sql.DB
	driver        string // "sqlite" or "postgres"
	name          string
	visibility    time.Duration
	maxDeliveries int
}

// SQLQueueConfig configures one named SQL queue.
type SQLQueueConfig struct {
	Name          string
	Visibility    time.Duration
	MaxDeliveries int
}

func NewSQL(db *sql.DB, driver string, cfg SQLQueueConfig) (*SQLQueue, error) {
	if cfg.Name == "" {
		return nil, eris.New("queue: name is required")
	}
	if cfg.Visibility <= 0 {
		cfg.Visibility = 2 * time.Minute
	}
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = 3
	}
	return &SQLQueue{
		db:            db,
		driver:        driver,
		name:          cfg.Name,
		visibility:    cfg.Visibility,
		maxDeliveries: cfg.MaxDeliveries,
	}, nil
}

const sqlQueueMigration = `
CREATE TABLE IF NOT EXISTS queue_messages (
	id         TEXT PRIMARY KEY,
	queue      TEXT NOT NULL,
	payload    TEXT NOT NULL,
	deliveries INTEGER NOT NULL DEFAULT 0,
	visible_at BIGINT NOT NULL,
	dead       INTEGER NOT NULL DEFAULT 0,
	created_at BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_queue_messages_queue_visible ON queue_messages(queue, dead, visible_at);
`

// Migrate creates the queue table. Safe to call once per database even when
// several named queues share it.
func Migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, sqlQueueMigration)
	return eris.Wrap(err, "queue: migrate")
}

// bind rewrites ? placeholders for postgres.
func (q *SQLQueue) bind(query string) string {
	if q.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func nowMillis() int64 { return time.Now().UnixMilli() }

func (q *SQLQueue) Send(ctx context.Context, msg Message) error {
	payload, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	now := nowMillis()
	_, err = q.db.ExecContext(ctx,
		q.bind(`INSERT INTO queue_messages (id, queue, payload, deliveries, visible_at, dead, created_at) VALUES (?, ?, ?, 0, ?, 0, ?)`),
		uuid.NewString(), q.name, payload, now, now,
	)
	return eris.Wrapf(err, "queue %s: send", q.name)
}

func (q *SQLQueue) Receive(ctx context.Context, max int) ([]*Delivery, error) {
	if max <= 0 {
		max = 1
	}
	now := nowMillis()

	rows, err := q.db.QueryContext(ctx,
		q.bind(`SELECT id, payload, deliveries FROM queue_messages
			WHERE queue = ? AND dead = 0 AND visible_at <= ?
			ORDER BY created_at LIMIT ?`),
		q.name, now, max,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "queue %s: select", q.name)
	}

	type candidate struct {
		id         string
		payload    string
		deliveries int
	}
	var candidates []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.id, &c.payload, &c.deliveries); err != nil {
			rows.Close()
			return nil, eris.Wrapf(err, "queue %s: scan", q.name)
		}
		candidates = append(candidates, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrapf(err, "queue %s: iterate", q.name)
	}

	var out []*Delivery
	for _, c := range candidates {
		// Messages past the delivery budget go to the dead-letter side and
		// are never handed out again.
		if c.deliveries >= q.maxDeliveries {
			if _, err := q.db.ExecContext(ctx,
				q.bind(`UPDATE queue_messages SET dead = 1 WHERE id = ? AND dead = 0`), c.id); err != nil {
				return nil, eris.Wrapf(err, "queue %s: dead-letter %s", q.name, c.id)
			}
			continue
		}

		// Optimistic claim. A concurrent receiver loses the race and skips.
		res, err := q.db.ExecContext(ctx,
			q.bind(`UPDATE queue_messages SET deliveries = deliveries + 1, visible_at = ? WHERE id = ? AND dead = 0 AND visible_at <= ?`),
			now+q.visibility.Milliseconds(), c.id, now,
		)
		if err != nil {
			return nil, eris.Wrapf(err, "queue %s: claim %s", q.name, c.id)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, eris.Wrap(err, "queue: rows affected")
		}
		if n == 0 {
			continue
		}

		msg, err := decodeMessage(c.payload)
		if err != nil {
			return nil, err
		}
		out = append(out, &Delivery{ID: c.id, Msg: msg, Deliveries: c.deliveries + 1})
	}
	return out, nil
}

func (q *SQLQueue) Ack(ctx context.Context, d *Delivery) error {
	_, err := q.db.ExecContext(ctx, q.bind(`DELETE FROM queue_messages WHERE id = ?`), d.ID)
	return eris.Wrapf(err, "queue %s: ack %s", q.name, d.ID)
}

func (q *SQLQueue) Nack(ctx context.Context, d *Delivery, delay time.Duration) error {
	_, err := q.db.ExecContext(ctx,
		q.bind(`UPDATE queue_messages SET visible_at = ? WHERE id = ?`),
		nowMillis()+delay.Milliseconds(), d.ID,
	)
	return eris.Wrapf(err, "queue %s: nack %s", q.name, d.ID)
}

func (q *SQLQueue) DeadLetters(ctx context.Context, max int) ([]*Delivery, error) {
	if max <= 0 {
		max = 10
	}
	rows, err := q.db.QueryContext(ctx,
		q.bind(`SELECT id, payload, deliveries FROM queue_messages WHERE queue = ? AND dead = 1 ORDER BY created_at LIMIT ?`),
		q.name, max,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "queue %s: dead letters", q.name)
	}
	defer rows.Close()

	var out []*Delivery
	for rows.Next() {
		var id, payload string
		var deliveries int
		if err := rows.Scan(&id, &payload, &deliveries); err != nil {
			return nil, eris.Wrapf(err, "queue %s: scan dead letter", q.name)
		}
		msg, err := decodeMessage(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, &Delivery{ID: id, Msg: msg, Deliveries: deliveries})
	}
	return out, eris.Wrapf(rows.Err(), "queue %s: iterate dead letters", q.name)
}

func (q *SQLQueue) Redrive(ctx context.Context) (int, error) {
	res, err := q.db.ExecContext(ctx,
		q.bind(`UPDATE queue_messages SET dead = 0, deliveries = 0, visible_at = ? WHERE queue = ? AND dead = 1`),
		nowMillis(), q.name,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "queue %s: redrive", q.name)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "queue: rows affected")
	}
	return int(n), nil
}

var _ Queue = (*SQLQueue)(nil)
