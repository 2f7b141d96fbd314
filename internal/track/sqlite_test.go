package track

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/oficio-pipeline/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedBatch(t *testing.T, st *SQLiteStore, batchID string, unitCount int) []*model.Unit {
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
			IngestionStatus:   model.StatusPending,
			ExtractionStatus:  model.StatusPending,
			IntegrationStatus: model.StatusPending,
			ArtifactKey:       "oficios/lotes/" + batchID + "/" + model.UnitID(batchID, seq) + ".pdf",
		}
	}
	require.NoError(t, st.CreateBatch(context.Background(), batch, units))
	return units
}

func TestSQLite_CreateBatchAndView(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedBatch(t, st, "batch_a", 3)

	batch, units, err := st.GetBatchView(ctx, "batch_a")
	require.NoError(t, err)
	assert.Equal(t, "batch_a", batch.ID)
	assert.Equal(t, 3, batch.ActualCount)
	require.Len(t, units, 3)
	assert.Equal(t, "batch_a_unit_001", units[0].ID)
	assert.Equal(t, "batch_a_unit_003", units[2].ID)
	assert.Equal(t, model.StatusPending, units[0].ExtractionStatus)
}

func TestSQLite_CreateBatchDuplicate(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedBatch(t, st, "batch_dup", 1)

	err := st.CreateBatch(ctx, &model.Batch{ID: "batch_dup", Origin: model.OriginEmail, Company: "x"}, nil)
	var dup *model.DuplicateBatchError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "batch_dup", dup.BatchID)

	// The failed attempt must not have touched the original units.
	_, units, err := st.GetBatchView(ctx, "batch_dup")
	require.NoError(t, err)
	assert.Len(t, units, 1)
}

func TestSQLite_AdvanceUnitStatus(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	units := seedBatch(t, st, "batch_b", 1)
	id := units[0].ID

	require.NoError(t, st.AdvanceUnitStatus(ctx, "batch_b", id, model.DimExtraction, model.StatusPending, model.StatusProcessing))
	require.NoError(t, st.AdvanceUnitStatus(ctx, "batch_b", id, model.DimExtraction, model.StatusProcessing, model.StatusCompleted))

	u, err := st.GetUnit(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, u.ExtractionStatus)
	assert.Equal(t, model.StatusPending, u.IntegrationStatus)
	assert.Nil(t, u.CompletedAt)
}

func TestSQLite_AdvanceStale(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	units := seedBatch(t, st, "batch_c", 1)
	id := units[0].ID

	require.NoError(t, st.AdvanceUnitStatus(ctx, "batch_c", id, model.DimExtraction, model.StatusPending, model.StatusProcessing))

	// A duplicate delivery trying the same CAS again must get a stale error.
	err := st.AdvanceUnitStatus(ctx, "batch_c", id, model.DimExtraction, model.StatusPending, model.StatusProcessing)
	var stale *model.StaleStatusError
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, model.StatusPending, stale.Expected)
	assert.Equal(t, model.StatusProcessing, stale.Actual)
	assert.True(t, model.IsStale(err))
}

func TestSQLite_AdvanceUnknownUnit(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedBatch(t, st, "batch_d", 1)

	err := st.AdvanceUnitStatus(ctx, "batch_d", "batch_d_unit_099", model.DimExtraction, model.StatusPending, model.StatusProcessing)
	assert.True(t, model.IsNotFound(err))
}

func TestSQLite_AdvanceInvalidTransition(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	units := seedBatch(t, st, "batch_e", 1)

	err := st.AdvanceUnitStatus(ctx, "batch_e", units[0].ID, model.DimExtraction, model.StatusPending, model.StatusCompleted)
	assert.Error(t, err)
}

func TestSQLite_IntegrationCompletedSetsCompletedAt(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	units := seedBatch(t, st, "batch_f", 1)
	id := units[0].ID

	require.NoError(t, st.AdvanceUnitStatus(ctx, "batch_f", id, model.DimExtraction, model.StatusPending, model.StatusProcessing))
	require.NoError(t, st.AdvanceUnitStatus(ctx, "batch_f", id, model.DimExtraction, model.StatusProcessing, model.StatusCompleted))
	require.NoError(t, st.AdvanceUnitStatus(ctx, "batch_f", id, model.DimIntegration, model.StatusPending, model.StatusProcessing))
	require.NoError(t, st.AdvanceUnitStatus(ctx, "batch_f", id, model.DimIntegration, model.StatusProcessing, model.StatusCompleted))

	u, err := st.GetUnit(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, u.CompletedAt)
}

func TestSQLite_IntegrationRequiresExtractionCompleted(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	units := seedBatch(t, st, "batch_f2", 1)
	id := units[0].ID

	err := st.AdvanceUnitStatus(ctx, "batch_f2", id, model.DimIntegration, model.StatusPending, model.StatusProcessing)
	var stale *model.StaleStatusError
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, model.DimExtraction, stale.Dim)
	assert.Equal(t, model.StatusCompleted, stale.Expected)
	assert.Equal(t, model.StatusPending, stale.Actual)

	u, getErr := st.GetUnit(ctx, id)
	require.NoError(t, getErr)
	assert.Equal(t, model.StatusPending, u.IntegrationStatus)
}

func TestSQLite_RedeliveryReclaimClearsError(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	units := seedBatch(t, st, "batch_f3", 1)
	id := units[0].ID

	require.NoError(t, st.RecordError(ctx, "batch_f3", id, model.DimExtraction, "ocr backend down"))
	require.NoError(t, st.AdvanceUnitStatus(ctx, "batch_f3", id, model.DimExtraction, model.StatusError, model.StatusProcessing))

	u, err := st.GetUnit(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessing, u.ExtractionStatus)
	assert.Empty(t, u.ErrorMessage)
}

func TestSQLite_RecordErrorIdempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	units := seedBatch(t, st, "batch_g", 1)
	id := units[0].ID

	require.NoError(t, st.RecordError(ctx, "batch_g", id, model.DimExtraction, "ocr timeout"))
	require.NoError(t, st.RecordError(ctx, "batch_g", id, model.DimExtraction, "ocr timeout again"))

	u, err := st.GetUnit(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusError, u.ExtractionStatus)
	assert.Equal(t, "ocr timeout again", u.ErrorMessage)
}

func TestSQLite_RearmUnit(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	units := seedBatch(t, st, "batch_h", 1)
	id := units[0].ID

	require.NoError(t, st.RecordError(ctx, "batch_h", id, model.DimExtraction, "boom"))
	require.NoError(t, st.RearmUnit(ctx, "batch_h", id, model.DimExtraction, 3))

	u, err := st.GetUnit(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, u.ExtractionStatus)
	assert.Equal(t, 1, u.RetryCount)
	assert.Empty(t, u.ErrorMessage)
}

func TestSQLite_RearmNotErrored(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	units := seedBatch(t, st, "batch_i", 1)

	err := st.RearmUnit(ctx, "batch_i", units[0].ID, model.DimExtraction, 3)
	assert.True(t, model.IsStale(err))
}

func TestSQLite_RearmExhausted(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	units := seedBatch(t, st, "batch_j", 1)
	id := units[0].ID

	for i := 0; i < 2; i++ {
		require.NoError(t, st.RecordError(ctx, "batch_j", id, model.DimExtraction, "boom"))
		require.NoError(t, st.RearmUnit(ctx, "batch_j", id, model.DimExtraction, 2))
	}
	require.NoError(t, st.RecordError(ctx, "batch_j", id, model.DimExtraction, "boom"))

	err := st.RearmUnit(ctx, "batch_j", id, model.DimExtraction, 2)
	var exhausted *model.RetryExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 2, exhausted.Attempts)

	// The unit stays errored for manual triage.
	u, err := st.GetUnit(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusError, u.ExtractionStatus)
}

func TestSQLite_SetUnitPointer(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	units := seedBatch(t, st, "batch_k", 1)
	id := units[0].ID

	require.NoError(t, st.SetUnitPointer(ctx, "batch_k", id, PointerRecord, "oficios/results/"+id+".json"))
	require.NoError(t, st.SetUnitPointer(ctx, "batch_k", id, PointerCRMCase, "case-42"))

	u, err := st.GetUnit(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "oficios/results/"+id+".json", u.RecordKey)
	assert.Equal(t, "case-42", u.CRMCaseID)

	err = st.SetUnitPointer(ctx, "batch_k", id, Pointer("bogus"), "x")
	assert.Error(t, err)
}

func TestSQLite_GetBatchNotFound(t *testing.T) {
	st := newTestSQLiteStore(t)
	_, err := st.GetBatch(context.Background(), "missing")
	assert.True(t, model.IsNotFound(err))

	_, _, err = st.GetBatchView(context.Background(), "missing")
	assert.True(t, model.IsNotFound(err))
}
