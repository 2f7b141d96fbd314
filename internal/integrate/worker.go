package integrate

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/oficio-pipeline/internal/model"
	"github.com/sells-group/oficio-pipeline/internal/queue"
	"github.com/sells-group/oficio-pipeline/internal/resilience"
	"github.com/sells-group/oficio-pipeline/internal/storage"
	"github.com/sells-group/oficio-pipeline/internal/track"
)

// Worker handles one integration message: claim the unit, load its
// extraction record, and create the case plus person records externally.
type Worker struct {
	store   track.Store
	objects storage.ObjectStore
	crm     CRM
	retry   resilience.Policy
}

func NewWorker(store track.Store, objects storage.ObjectStore, crm CRM) *Worker {
	return &Worker{
		store:   store,
		objects: objects,
		crm:     crm,
		retry:   resilience.DefaultPolicy(),
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
		if recErr := w.store.RecordError(ctx, msg.BatchID, msg.UnitID, model.DimIntegration, err.Error()); recErr != nil {
			zap.L().Error("failed to record integration error",
				zap.String("unit_id", msg.UnitID), zap.Error(recErr))
		}
		return err
	}
	return nil
}

// claim moves the unit's integration dimension to processing. A unit left in
// error by an earlier delivery is reclaimed and retried; the queue's delivery
// ceiling decides when it stops coming back and dead-letters instead.
func (w *Worker) claim(ctx context.Context, msg queue.Message) error {
	err := w.store.AdvanceUnitStatus(ctx, msg.BatchID, msg.UnitID, model.DimIntegration, model.StatusPending, model.StatusProcessing)
	var stale *model.StaleStatusError
	if errors.As(err, &stale) && stale.Actual == model.StatusError {
		return w.store.AdvanceUnitStatus(ctx, msg.BatchID, msg.UnitID, model.DimIntegration, model.StatusError, model.StatusProcessing)
	}
	return err
}

func (w *Worker) process(ctx context.Context, msg queue.Message) error {
	unit, err := w.store.GetUnit(ctx, msg.UnitID)
	if err != nil {
		return err
	}
	if unit.RecordKey == "" {
		return eris.Errorf("integrate: unit %s has no extraction record", msg.UnitID)
	}

	data, err := w.objects.Get(ctx, unit.RecordKey)
	if err != nil {
		return eris.Wrapf(err, "integrate: load record %s", unit.RecordKey)
	}
	var record model.OficioRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return eris.Wrapf(err, "integrate: parse record %s", unit.RecordKey)
	}

	// The unit id keys the create so a redelivered message after a partial
	// success can be reconciled against the original case.
	caseFields := CaseFields(&record, msg.BatchID, msg.UnitID)
	caseID, err := resilience.Do(ctx, w.retry, "integrate.create_case", func(ctx context.Context) (string, error) {
		return w.crm.CreateCase(ctx, caseFields, msg.UnitID)
	})
	if err != nil {
		return eris.Wrapf(err, "integrate: create case for %s", msg.UnitID)
	}

	for _, person := range record.Persons {
		fields := PersonFields(person)
		if _, err := resilience.Do(ctx, w.retry, "integrate.create_person", func(ctx context.Context) (string, error) {
			return w.crm.CreatePerson(ctx, caseID, fields)
		}); err != nil {
			return eris.Wrapf(err, "integrate: create person %d for %s", person.Sequence, msg.UnitID)
		}
	}

	if err := w.store.SetUnitPointer(ctx, msg.BatchID, msg.UnitID, track.PointerCRMCase, caseID); err != nil {
		return err
	}
	if err := w.store.AdvanceUnitStatus(ctx, msg.BatchID, msg.UnitID, model.DimIntegration, model.StatusProcessing, model.StatusCompleted); err != nil {
		return err
	}

	zap.L().Info("integration completed",
		zap.String("batch_id", msg.BatchID),
		zap.String("unit_id", msg.UnitID),
		zap.String("crm_case_id", caseID),
		zap.Int("persons", len(record.Persons)),
	)
	return nil
}
