// Package runner drives the stage workers: it pulls messages off a queue
// and dispatches them to stateless handlers under a concurrency bound.
package runner

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/oficio-pipeline/internal/model"
	"github.com/sells-group/oficio-pipeline/internal/queue"
)

// HandlerFunc processes one message. Returning a StaleStatusError counts as
// success; the message is acked without side effects.
type HandlerFunc func(ctx context.Context, msg queue.Message) error

// Stage binds a queue to its handler.
type Stage struct {
	Name        string
	Queue       queue.Queue
	Handle      HandlerFunc
	Concurrency int
}

// Options tune the consume loop.
type Options struct {
	// ReceiveBatch is the maximum number of messages pulled per poll.
	ReceiveBatch int
	// IdleWait is the pause after an empty poll.
	IdleWait time.Duration
	// HandleTimeout bounds one handler invocation end to end.
	HandleTimeout time.Duration
	// RetryDelay is the redelivery delay applied when a handler fails. It
	// grows linearly with the delivery count.
	RetryDelay time.Duration
}

func (o Options) normalized() Options {
	if o.ReceiveBatch <= 0 {
		o.ReceiveBatch = 10
	}
	if o.IdleWait <= 0 {
		o.IdleWait = 5 * time.Second
	}
	if o.HandleTimeout <= 0 {
		o.HandleTimeout = 10 * time.Minute
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 30 * time.Second
	}
	return o
}

// Runner consumes one or more stages until its context is cancelled.
type Runner struct {
	stages []Stage
	opts   Options
}

func New(opts Options, stages ...Stage) *Runner {
	return &Runner{stages: stages, opts: opts.normalized()}
}

// Run blocks until ctx is cancelled. Each stage polls independently;
// in-flight handlers finish before Run returns.
func (r *Runner) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)
	for _, stage := range r.stages {
		g.Go(func() error {
			return r.consume(gCtx, stage)
		})
	}
	return g.Wait()
}

func (r *Runner) consume(ctx context.Context, stage Stage) error {
	concurrency := stage.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	zap.L().Info("stage consumer started",
		zap.String("stage", stage.Name),
		zap.Int("concurrency", concurrency))

	for {
		if err := ctx.Err(); err != nil {
			zap.L().Info("stage consumer stopped", zap.String("stage", stage.Name))
			return nil
		}

		deliveries, err := stage.Queue.Receive(ctx, r.opts.ReceiveBatch)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			zap.L().Error("receive failed",
				zap.String("stage", stage.Name), zap.Error(err))
			r.idle(ctx)
			continue
		}
		if len(deliveries) == 0 {
			r.idle(ctx)
			continue
		}

		g := new(errgroup.Group)
		g.SetLimit(concurrency)
		for _, d := range deliveries {
			g.Go(func() error {
				r.dispatch(ctx, stage, d)
				return nil
			})
		}
		g.Wait() //nolint:errcheck
	}
}

func (r *Runner) dispatch(ctx context.Context, stage Stage, d *queue.Delivery) {
	handleCtx, cancel := context.WithTimeout(ctx, r.opts.HandleTimeout)
	defer cancel()

	err := stage.Handle(handleCtx, d.Msg)
	switch {
	case err == nil:
		r.ack(ctx, stage, d)
	case model.IsStale(err):
		// Duplicate delivery; the unit already moved on.
		zap.L().Debug("duplicate delivery acked",
			zap.String("stage", stage.Name),
			zap.String("unit_id", d.Msg.UnitID))
		r.ack(ctx, stage, d)
	default:
		zap.L().Warn("handler failed",
			zap.String("stage", stage.Name),
			zap.String("unit_id", d.Msg.UnitID),
			zap.Int("deliveries", d.Deliveries),
			zap.Error(err))
		delay := time.Duration(d.Deliveries) * r.opts.RetryDelay
		if nackErr := stage.Queue.Nack(ctx, d, delay); nackErr != nil {
			zap.L().Error("nack failed",
				zap.String("stage", stage.Name), zap.Error(nackErr))
		}
	}
}

func (r *Runner) ack(ctx context.Context, stage Stage, d *queue.Delivery) {
	if err := stage.Queue.Ack(ctx, d); err != nil {
		zap.L().Error("ack failed",
			zap.String("stage", stage.Name),
			zap.String("unit_id", d.Msg.UnitID),
			zap.Error(err))
	}
}

func (r *Runner) idle(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(r.opts.IdleWait):
	}
}
