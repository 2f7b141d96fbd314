package track

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/oficio-pipeline/internal/model"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresWithPool(mock), mock
}

func TestPostgres_CreateBatch(t *testing.T) {
	st, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO batches").
		WithArgs("batch_x", 2, 2, "direct", "Banco Provincial", "", "", "", "", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO units").
		WithArgs("batch_x_unit_001", "batch_x", 1, "pending", "pending", "pending", "a1.pdf",
			pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO units").
		WithArgs("batch_x_unit_002", "batch_x", 2, "pending", "pending", "pending", "a2.pdf",
			pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	batch := &model.Batch{ID: "batch_x", DeclaredCount: 2, ActualCount: 2, Origin: model.OriginDirect, Company: "Banco Provincial"}
	units := []*model.Unit{
		{BatchID: "batch_x", ID: "batch_x_unit_001", Sequence: 1, IngestionStatus: model.StatusPending, ExtractionStatus: model.StatusPending, IntegrationStatus: model.StatusPending, ArtifactKey: "a1.pdf"},
		{BatchID: "batch_x", ID: "batch_x_unit_002", Sequence: 2, IngestionStatus: model.StatusPending, ExtractionStatus: model.StatusPending, IntegrationStatus: model.StatusPending, ArtifactKey: "a2.pdf"},
	}
	require.NoError(t, st.CreateBatch(ctx, batch, units))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_AdvanceUnitStatus(t *testing.T) {
	st, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec("UPDATE units SET extraction_status").
		WithArgs("processing", pgxmock.AnyArg(), "b", "b_unit_001", "pending").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := st.AdvanceUnitStatus(ctx, "b", "b_unit_001", model.DimExtraction, model.StatusPending, model.StatusProcessing)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_AdvanceStale(t *testing.T) {
	st, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec("UPDATE units SET extraction_status").
		WithArgs("processing", pgxmock.AnyArg(), "b", "b_unit_001", "pending").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT extraction_status FROM units").
		WithArgs("b", "b_unit_001").
		WillReturnRows(pgxmock.NewRows([]string{"extraction_status"}).AddRow("processing"))

	err := st.AdvanceUnitStatus(ctx, "b", "b_unit_001", model.DimExtraction, model.StatusPending, model.StatusProcessing)
	var stale *model.StaleStatusError
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, model.StatusProcessing, stale.Actual)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_AdvanceUnknownUnit(t *testing.T) {
	st, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec("UPDATE units SET integration_status").
		WithArgs("processing", pgxmock.AnyArg(), "b", "b_unit_009", "pending", "completed").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT integration_status, extraction_status FROM units").
		WithArgs("b", "b_unit_009").
		WillReturnRows(pgxmock.NewRows([]string{"integration_status", "extraction_status"}))

	err := st.AdvanceUnitStatus(ctx, "b", "b_unit_009", model.DimIntegration, model.StatusPending, model.StatusProcessing)
	assert.True(t, model.IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_AdvanceIntegrationBlocked(t *testing.T) {
	st, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec("UPDATE units SET integration_status").
		WithArgs("processing", pgxmock.AnyArg(), "b", "b_unit_001", "pending", "completed").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT integration_status, extraction_status FROM units").
		WithArgs("b", "b_unit_001").
		WillReturnRows(pgxmock.NewRows([]string{"integration_status", "extraction_status"}).AddRow("pending", "processing"))

	err := st.AdvanceUnitStatus(ctx, "b", "b_unit_001", model.DimIntegration, model.StatusPending, model.StatusProcessing)
	var stale *model.StaleStatusError
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, model.DimExtraction, stale.Dim)
	assert.Equal(t, model.StatusProcessing, stale.Actual)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_RedeliveryReclaimClearsError(t *testing.T) {
	st, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec("UPDATE units SET extraction_status = \\$1, updated_at = \\$2, error_message = ''").
		WithArgs("processing", pgxmock.AnyArg(), "b", "b_unit_001", "error").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := st.AdvanceUnitStatus(ctx, "b", "b_unit_001", model.DimExtraction, model.StatusError, model.StatusProcessing)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_RecordError(t *testing.T) {
	st, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec("UPDATE units SET extraction_status").
		WithArgs("error", "ocr failed", pgxmock.AnyArg(), "b", "b_unit_001").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, st.RecordError(ctx, "b", "b_unit_001", model.DimExtraction, "ocr failed"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_RearmUnit(t *testing.T) {
	st, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec("UPDATE units SET extraction_status").
		WithArgs("pending", pgxmock.AnyArg(), "b", "b_unit_001", "error", 3).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, st.RearmUnit(ctx, "b", "b_unit_001", model.DimExtraction, 3))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_RearmExhausted(t *testing.T) {
	st, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec("UPDATE units SET extraction_status").
		WithArgs("pending", pgxmock.AnyArg(), "b", "b_unit_001", "error", 2).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT extraction_status, retry_count FROM units").
		WithArgs("b", "b_unit_001").
		WillReturnRows(pgxmock.NewRows([]string{"extraction_status", "retry_count"}).AddRow("error", 2))

	err := st.RearmUnit(ctx, "b", "b_unit_001", model.DimExtraction, 2)
	var exhausted *model.RetryExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 2, exhausted.Attempts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_SetUnitPointer(t *testing.T) {
	st, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec("UPDATE units SET crm_case_id").
		WithArgs("case-7", pgxmock.AnyArg(), "b", "b_unit_001").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, st.SetUnitPointer(ctx, "b", "b_unit_001", PointerCRMCase, "case-7"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
