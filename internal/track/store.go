// Package track is the state machine core: batch and unit records, atomic
// single-field status transitions, and aggregate reads.
package track

import (
	"context"

	"github.com/sells-group/oficio-pipeline/internal/model"
)

// Pointer names a unit column holding an external reference.
type Pointer string

const (
	// PointerRecord points at the structured extraction record in object
	// storage.
	PointerRecord Pointer = "record_key"
	// PointerCRMCase holds the case identifier assigned by the external
	// case-management system.
	PointerCRMCase Pointer = "crm_case_id"
)

// Store defines the persistence interface for batch and unit tracking.
type Store interface {
	// CreateBatch writes the batch and all its units in one transaction.
	// No unit exists without its parent batch. Fails with
	// DuplicateBatchError if the batch identifier already exists.
	CreateBatch(ctx context.Context, batch *model.Batch, units []*model.Unit) error

	// AdvanceUnitStatus performs a compare-and-set on one status dimension.
	// Fails with StaleStatusError when the current value does not match
	// from, and NotFoundError when the unit is unknown.
	AdvanceUnitStatus(ctx context.Context, batchID, unitID string, dim model.Dimension, from, to model.UnitStatus) error

	// RecordError sets the dimension to error and stores the message.
	// Calling it again overwrites; it never fails on repeat calls.
	RecordError(ctx context.Context, batchID, unitID string, dim model.Dimension, message string) error

	// RearmUnit moves an errored dimension back to pending and increments
	// the retry counter. Fails with RetryExhaustedError past maxRetries and
	// StaleStatusError when the dimension is not in error.
	RearmUnit(ctx context.Context, batchID, unitID string, dim model.Dimension, maxRetries int) error

	// SetUnitPointer stores an external reference on the unit.
	SetUnitPointer(ctx context.Context, batchID, unitID string, ptr Pointer, value string) error

	// Reads
	GetBatch(ctx context.Context, batchID string) (*model.Batch, error)
	GetUnit(ctx context.Context, unitID string) (*model.Unit, error)
	GetBatchView(ctx context.Context, batchID string) (*model.Batch, []*model.Unit, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

func dimColumn(dim model.Dimension) string {
	switch dim {
	case model.DimIngestion:
		return "ingestion_status"
	case model.DimExtraction:
		return "extraction_status"
	case model.DimIntegration:
		return "integration_status"
	}
	return ""
}
