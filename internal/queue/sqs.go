package queue

import (
	"context"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/rotisserie/eris"

	"github.com/sells-group/oficio-pipeline/internal/resilience"
)

// SQSQueue implements Queue on AWS SQS. Visibility timeout and max receive
// count live in the queue and redrive policy configuration on the AWS side;
// the DLQ is the queue named by dlqURL.
type SQSQueue struct {
	client *sqs.Client
	url    string
	dlqURL string
}

func NewSQS(ctx context.Context, region, queueURL, dlqURL string) (*SQSQueue, error) {
	if queueURL == "" {
		return nil, eris.New("queue: sqs queue url is required")
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, eris.Wrap(err, "queue: load aws config")
	}
	return &SQSQueue{client: sqs.NewFromConfig(cfg), url: queueURL, dlqURL: dlqURL}, nil
}

func (q *SQSQueue) Send(ctx context.Context, msg Message) error {
	payload, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.url),
		MessageBody: aws.String(payload),
	})
	if err != nil {
		return resilience.MarkTransient(eris.Wrap(err, "queue: sqs send"), 0)
	}
	return nil
}

func (q *SQSQueue) Receive(ctx context.Context, max int) ([]*Delivery, error) {
	if max <= 0 {
		max = 1
	}
	if max > 10 {
		max = 10 // SQS ceiling per call
	}
	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.url),
		MaxNumberOfMessages: int32(max),
		WaitTimeSeconds:     5,
		MessageSystemAttributeNames: []sqstypes.MessageSystemAttributeName{
			sqstypes.MessageSystemAttributeNameApproximateReceiveCount,
		},
	})
	if err != nil {
		return nil, resilience.MarkTransient(eris.Wrap(err, "queue: sqs receive"), 0)
	}

	deliveries := make([]*Delivery, 0, len(out.Messages))
	for _, m := range out.Messages {
		msg, err := decodeMessage(aws.ToString(m.Body))
		if err != nil {
			return nil, err
		}
		count := 1
		if raw, ok := m.Attributes[string(sqstypes.MessageSystemAttributeNameApproximateReceiveCount)]; ok {
			if n, err := strconv.Atoi(raw); err == nil {
				count = n
			}
		}
		deliveries = append(deliveries, &Delivery{
			ID:         aws.ToString(m.MessageId),
			Msg:        msg,
			Deliveries: count,
			receipt:    aws.ToString(m.ReceiptHandle),
		})
	}
	return deliveries, nil
}

func (q *SQSQueue) Ack(ctx context.Context, d *Delivery) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.url),
		ReceiptHandle: aws.String(d.receipt),
	})
	return eris.Wrapf(err, "queue: sqs ack %s", d.ID)
}

func (q *SQSQueue) Nack(ctx context.Context, d *Delivery, delay time.Duration) error {
	secs := int32(delay / time.Second)
	if secs < 0 {
		secs = 0
	}
	_, err := q.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(q.url),
		ReceiptHandle:     aws.String(d.receipt),
		VisibilityTimeout: secs,
	})
	return eris.Wrapf(err, "queue: sqs nack %s", d.ID)
}

func (q *SQSQueue) DeadLetters(ctx context.Context, max int) ([]*Delivery, error) {
	if q.dlqURL == "" {
		return nil, eris.New("queue: no dlq url configured")
	}
	if max <= 0 {
		max = 10
	}
	if max > 10 {
		max = 10
	}
	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.dlqURL),
		MaxNumberOfMessages: int32(max),
		VisibilityTimeout:   0, // peek without hiding from redrive
	})
	if err != nil {
		return nil, eris.Wrap(err, "queue: sqs dead letters")
	}
	deliveries := make([]*Delivery, 0, len(out.Messages))
	for _, m := range out.Messages {
		msg, err := decodeMessage(aws.ToString(m.Body))
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, &Delivery{
			ID:      aws.ToString(m.MessageId),
			Msg:     msg,
			receipt: aws.ToString(m.ReceiptHandle),
		})
	}
	return deliveries, nil
}

// Redrive drains the DLQ back onto the main queue.
func (q *SQSQueue) Redrive(ctx context.Context) (int, error) {
	if q.dlqURL == "" {
		return 0, eris.New("queue: no dlq url configured")
	}
	moved := 0
	for {
		out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(q.dlqURL),
			MaxNumberOfMessages: 10,
		})
		if err != nil {
			return moved, eris.Wrap(err, "queue: sqs redrive receive")
		}
		if len(out.Messages) == 0 {
			return moved, nil
		}
		for _, m := range out.Messages {
			_, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
				QueueUrl:    aws.String(q.url),
				MessageBody: m.Body,
			})
			if err != nil {
				return moved, eris.Wrap(err, "queue: sqs redrive send")
			}
			_, err = q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
				QueueUrl:      aws.String(q.dlqURL),
				ReceiptHandle: m.ReceiptHandle,
			})
			if err != nil {
				return moved, eris.Wrap(err, "queue: sqs redrive delete")
			}
			moved++
		}
	}
}

var _ Queue = (*SQSQueue)(nil)
