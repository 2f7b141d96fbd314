// Package queue provides the durable at-least-once stage queues that link
// the pipeline workers, each with a dead-letter queue for messages that
// exhaust their delivery budget.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
)

// Queue names.
const (
	ExtractQueue   = "extract"
	IntegrateQueue = "integrate"
)

// Message is the payload passed between pipeline stages.
type Message struct {
	BatchID     string `json:"batch_id"`
	UnitID      string `json:"unit_id"`
	ArtifactKey string `json:"artifact_key,omitempty"`
}

// Delivery is one received message. Deliveries counts how many times the
// message has been handed out, this receive included.
type Delivery struct {
	ID         string
	Msg        Message
	Deliveries int

	// receipt is transport-specific (SQS receipt handle).
	receipt string
}

// Queue is a durable at-least-once message queue. A message that is neither
// acked nor nacked reappears after the visibility timeout; one that exceeds
// the maximum delivery count lands on the dead-letter queue.
type Queue interface {
	Send(ctx context.Context, msg Message) error
	Receive(ctx context.Context, max int) ([]*Delivery, error)
	Ack(ctx context.Context, d *Delivery) error
	// Nack makes the message visible again after delay.
	Nack(ctx context.Context, d *Delivery, delay time.Duration) error
	DeadLetters(ctx context.Context, max int) ([]*Delivery, error)
	// Redrive moves all dead-lettered messages back onto the queue and
	// returns how many it moved.
	Redrive(ctx context.Context) (int, error)
}

func encodeMessage(msg Message) (string, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return "", eris.Wrap(err, "queue: encode message")
	}
	return string(b), nil
}

func decodeMessage(payload string) (Message, error) {
	var msg Message
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return Message{}, eris.Wrap(err, "queue: decode message")
	}
	return msg, nil
}
