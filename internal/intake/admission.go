package intake

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/oficio-pipeline/internal/document"
	"github.com/sells-group/oficio-pipeline/internal/model"
	"github.com/sells-group/oficio-pipeline/internal/queue"
	"github.com/sells-group/oficio-pipeline/internal/storage"
	"github.com/sells-group/oficio-pipeline/internal/track"
)

// Admitter runs batch admission: parse the header, split the composite
// artifact, validate the declared count, persist unit artifacts, create the
// tracking records atomically, and enqueue extraction work.
type Admitter struct {
	store           track.Store
	objects         storage.ObjectStore
	extractQueue    queue.Queue
	defaultOperator string
}

func NewAdmitter(store track.Store, objects storage.ObjectStore, extractQueue queue.Queue, defaultOperator string) *Admitter {
	return &Admitter{
		store:           store,
		objects:         objects,
		extractQueue:    extractQueue,
		defaultOperator: defaultOperator,
	}
}

// Result describes an admitted batch.
type Result struct {
	Batch *model.Batch  `json:"batch"`
	Units []*model.Unit `json:"units"`
}

// Admit processes one composite artifact. Rejections (bad header, count
// mismatch, zero units) happen before anything is persisted, so a failed
// admission leaves no batch or unit records behind.
func (a *Admitter) Admit(ctx context.Context, data []byte, origin model.Origin, sourceKey, operatorHint string) (*Result, error) {
	doc, err := document.Open(data)
	if err != nil {
		return nil, err
	}

	firstPage, err := doc.PageText(1)
	if err != nil {
		return nil, eris.Wrap(err, "intake: read header page")
	}

	hint := operatorHint
	if hint == "" {
		hint = a.defaultOperator
	}
	header, err := ParseHeader(firstPage, hint)
	if err != nil {
		return nil, err
	}

	artifacts, err := Split(doc)
	if err != nil {
		return nil, err
	}

	if len(artifacts) != header.DeclaredCount {
		return nil, &model.CountMismatchError{Declared: header.DeclaredCount, Actual: len(artifacts)}
	}

	batchID := newBatchID()
	ext, contentType := artifactFormat(data)

	batch := &model.Batch{
		ID:            batchID,
		DeclaredCount: header.DeclaredCount,
		ActualCount:   len(artifacts),
		Origin:        origin,
		Company:       header.Company,
		OriginPlace:   header.Origin,
		Notes:         header.Notes,
		Operator:      header.Operator,
		SourceKey:     sourceKey,
		CreatedAt:     time.Now().UTC(),
	}

	units := make([]*model.Unit, len(artifacts))
	for i := range artifacts {
		seq := i + 1
		unitID := model.UnitID(batchID, seq)
		key := fmt.Sprintf("oficios/lotes/%s/%s.%s", batchID, unitID, ext)
		if err := a.objects.Put(ctx, key, artifacts[i], contentType); err != nil {
			return nil, eris.Wrapf(err, "intake: store artifact %s", unitID)
		}
		units[i] = &model.Unit{
			BatchID:           batchID,
			ID:                unitID,
			Sequence:          seq,
			IngestionStatus:   model.StatusPending,
			ExtractionStatus:  model.StatusPending,
			IntegrationStatus: model.StatusPending,
			ArtifactKey:       key,
		}
	}

	if err := a.store.CreateBatch(ctx, batch, units); err != nil {
		a.removeArtifacts(ctx, units)
		return nil, err
	}

	// Artifacts are already persisted, so ingestion completes immediately.
	for _, u := range units {
		if err := a.store.AdvanceUnitStatus(ctx, batchID, u.ID, model.DimIngestion, model.StatusPending, model.StatusProcessing); err != nil {
			return nil, err
		}
		if err := a.store.AdvanceUnitStatus(ctx, batchID, u.ID, model.DimIngestion, model.StatusProcessing, model.StatusCompleted); err != nil {
			return nil, err
		}
		u.IngestionStatus = model.StatusCompleted
	}

	for _, u := range units {
		msg := queue.Message{BatchID: batchID, UnitID: u.ID, ArtifactKey: u.ArtifactKey}
		if err := a.extractQueue.Send(ctx, msg); err != nil {
			return nil, eris.Wrapf(err, "intake: enqueue extraction for %s", u.ID)
		}
	}

	zap.L().Info("batch admitted",
		zap.String("batch_id", batchID),
		zap.Int("units", len(units)),
		zap.String("company", header.Company),
		zap.String("origin", string(origin)),
	)

	return &Result{Batch: batch, Units: units}, nil
}

// removeArtifacts deletes the objects stored for a batch that failed to
// create. Best effort; a leftover is logged, not fatal.
func (a *Admitter) removeArtifacts(ctx context.Context, units []*model.Unit) {
	for _, u := range units {
		if err := a.objects.Delete(ctx, u.ArtifactKey); err != nil {
			zap.L().Warn("failed to remove artifact of rejected batch",
				zap.String("artifact_key", u.ArtifactKey), zap.Error(err))
		}
	}
}

func newBatchID() string {
	return fmt.Sprintf("batch_%s_%s",
		time.Now().UTC().Format("20060102_150405"),
		uuid.NewString()[:8])
}

func artifactFormat(data []byte) (ext, contentType string) {
	if bytes.HasPrefix(data, []byte("%PDF")) {
		return "pdf", "application/pdf"
	}
	return "txt", "text/plain; charset=utf-8"
}
