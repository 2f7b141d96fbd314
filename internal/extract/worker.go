package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/oficio-pipeline/internal/document"
	"github.com/sells-group/oficio-pipeline/internal/model"
	"github.com/sells-group/oficio-pipeline/internal/queue"
	"github.com/sells-group/oficio-pipeline/internal/resilience"
	"github.com/sells-group/oficio-pipeline/internal/storage"
	"github.com/sells-group/oficio-pipeline/internal/track"
)

// Worker handles one extraction message: claim the unit, analyze its
// artifact, persist the structured record, and enqueue integration.
type Worker struct {
	store          track.Store
	objects        storage.ObjectStore
	provider       Provider
	integrateQueue queue.Queue
	retry          resilience.Policy
}

func NewWorker(store track.Store, objects storage.ObjectStore, provider Provider, integrateQueue queue.Queue) *Worker {
	return &Worker{
		store:          store,
		objects:        objects,
		provider:       provider,
		integrateQueue: integrateQueue,
		retry:          resilience.DefaultPolicy(),
	}
}

// Handle processes one message. A StaleStatusError means a duplicate
// delivery of an already-settled unit and is returned untouched so the
// caller can ack without side effects; any other failure is recorded on the
// unit before being returned for nack/redelivery.
func (w *Worker) Handle(ctx context.Context, msg queue.Message) error {
	if err := w.claim(ctx, msg); err != nil {
		return err
	}

	if err := w.process(ctx, msg); err != nil {
		if model.IsStale(err) {
			return err
		}
		if recErr := w.store.RecordError(ctx, msg.BatchID, msg.UnitID, model.DimExtraction, err.Error()); recErr != nil {
			zap.L().Error("failed to record extraction error",
				zap.String("unit_id", msg.UnitID), zap.Error(recErr))
		}
		return err
	}
	return nil
}

// claim moves the unit's extraction dimension to processing. A unit left in
// error by an earlier delivery is reclaimed and retried; the queue's delivery
// ceiling decides when it stops coming back and dead-letters instead.
func (w *Worker) claim(ctx context.Context, msg queue.Message) error {
	err := w.store.AdvanceUnitStatus(ctx, msg.BatchID, msg.UnitID, model.DimExtraction, model.StatusPending, model.StatusProcessing)
	var stale *model.StaleStatusError
	if errors.As(err, &stale) && stale.Actual == model.StatusError {
		return w.store.AdvanceUnitStatus(ctx, msg.BatchID, msg.UnitID, model.DimExtraction, model.StatusError, model.StatusProcessing)
	}
	return err
}

func (w *Worker) process(ctx context.Context, msg queue.Message) error {
	data, err := w.objects.Get(ctx, msg.ArtifactKey)
	if err != nil {
		return eris.Wrapf(err, "extract: load artifact %s", msg.ArtifactKey)
	}

	text, err := artifactText(data)
	if err != nil {
		return err
	}

	record, err := resilience.Do(ctx, w.retry, "extract.analyze", func(ctx context.Context) (*model.OficioRecord, error) {
		return w.provider.Analyze(ctx, text)
	})
	if err != nil {
		return eris.Wrapf(err, "extract: analyze %s", msg.UnitID)
	}

	recordJSON, err := json.Marshal(record)
	if err != nil {
		return eris.Wrap(err, "extract: marshal record")
	}
	recordKey := fmt.Sprintf("oficios/results/%s.json", msg.UnitID)
	if err := w.objects.Put(ctx, recordKey, recordJSON, "application/json"); err != nil {
		return eris.Wrapf(err, "extract: store record %s", recordKey)
	}
	if err := w.store.SetUnitPointer(ctx, msg.BatchID, msg.UnitID, track.PointerRecord, recordKey); err != nil {
		return err
	}

	if err := w.store.AdvanceUnitStatus(ctx, msg.BatchID, msg.UnitID, model.DimExtraction, model.StatusProcessing, model.StatusCompleted); err != nil {
		return err
	}

	if err := w.integrateQueue.Send(ctx, queue.Message{BatchID: msg.BatchID, UnitID: msg.UnitID}); err != nil {
		return eris.Wrapf(err, "extract: enqueue integration for %s", msg.UnitID)
	}

	zap.L().Info("extraction completed",
		zap.String("batch_id", msg.BatchID),
		zap.String("unit_id", msg.UnitID),
		zap.String("classification", record.Classification),
	)
	return nil
}

func artifactText(data []byte) (string, error) {
	doc, err := document.Open(data)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for p := 1; p <= doc.PageCount(); p++ {
		text, err := doc.PageText(p)
		if err != nil {
			return "", err
		}
		if p > 1 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(text)
	}
	return sb.String(), nil
}
