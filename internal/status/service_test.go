package status

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/oficio-pipeline/internal/model"
	"github.com/sells-group/oficio-pipeline/internal/track"
)

func newTestService(t *testing.T) (*Service, *track.SQLiteStore) {
	t.Helper()
	st, err := track.NewSQLite(filepath.Join(t.TempDir(), "track.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return NewService(st), st
}

func seedBatch(t *testing.T, st *track.SQLiteStore, batchID string, unitCount int) []*model.Unit {
	t.Helper()
	batch := &model.Batch{
		ID:            batchID,
		DeclaredCount: unitCount,
		ActualCount:   unitCount,
		Origin:        model.OriginDirect,
		Company:       "Banco Provincial",
	}
	units := make([]*model.Unit, unitCount)
	for i := range units {
		seq := i + 1
		units[i] = &model.Unit{
			BatchID:           batchID,
			ID:                model.UnitID(batchID, seq),
			Sequence:          seq,
			IngestionStatus:   model.StatusCompleted,
			ExtractionStatus:  model.StatusPending,
			IntegrationStatus: model.StatusPending,
		}
	}
	require.NoError(t, st.CreateBatch(context.Background(), batch, units))
	return units
}

func completeUnit(t *testing.T, st *track.SQLiteStore, batchID, unitID string) {
	t.Helper()
	ctx := context.Background()
	for _, dim := range []model.Dimension{model.DimExtraction, model.DimIntegration} {
		require.NoError(t, st.AdvanceUnitStatus(ctx, batchID, unitID, dim, model.StatusPending, model.StatusProcessing))
		require.NoError(t, st.AdvanceUnitStatus(ctx, batchID, unitID, dim, model.StatusProcessing, model.StatusCompleted))
	}
}

func TestGetBatchStatusProcessing(t *testing.T) {
	svc, st := newTestService(t)
	seedBatch(t, st, "batch_p", 2)

	bs, err := svc.GetBatchStatus(context.Background(), "batch_p")
	require.NoError(t, err)

	assert.Equal(t, model.BatchProcessing, bs.Overall)
	assert.Equal(t, 2, bs.TotalUnits)
	assert.Zero(t, bs.ErroredUnits)
	assert.Equal(t, 2, bs.Dimensions[model.DimIngestion].Completed)
	assert.Equal(t, 2, bs.Dimensions[model.DimExtraction].Pending)
}

func TestGetBatchStatusCompleted(t *testing.T) {
	svc, st := newTestService(t)
	units := seedBatch(t, st, "batch_c", 2)
	for _, u := range units {
		completeUnit(t, st, "batch_c", u.ID)
	}

	bs, err := svc.GetBatchStatus(context.Background(), "batch_c")
	require.NoError(t, err)
	assert.Equal(t, model.BatchCompleted, bs.Overall)
	assert.Equal(t, 2, bs.Dimensions[model.DimIntegration].Completed)
}

func TestGetBatchStatusOneErrorWins(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	units := seedBatch(t, st, "batch_e", 5)
	for _, u := range units[:4] {
		completeUnit(t, st, "batch_e", u.ID)
	}
	require.NoError(t, st.RecordError(ctx, "batch_e", units[4].ID, model.DimExtraction, "boom"))

	bs, err := svc.GetBatchStatus(ctx, "batch_e")
	require.NoError(t, err)

	// Four completed and one errored unit makes the whole batch errored.
	assert.Equal(t, model.BatchError, bs.Overall)
	assert.Equal(t, 1, bs.ErroredUnits)
	assert.Equal(t, 4, bs.Dimensions[model.DimExtraction].Completed)
	assert.Equal(t, 1, bs.Dimensions[model.DimExtraction].Error)
}

func TestGetBatchStatusUnknownBatch(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.GetBatchStatus(context.Background(), "batch_missing")
	assert.True(t, model.IsNotFound(err))
}

func TestGetUnitStatus(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	units := seedBatch(t, st, "batch_u", 1)
	require.NoError(t, st.RecordError(ctx, "batch_u", units[0].ID, model.DimExtraction, "parse failed"))

	unit, err := svc.GetUnitStatus(ctx, units[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusError, unit.ExtractionStatus)
	assert.Equal(t, "parse failed", unit.ErrorMessage)

	_, err = svc.GetUnitStatus(ctx, "nope")
	assert.True(t, model.IsNotFound(err))
}
