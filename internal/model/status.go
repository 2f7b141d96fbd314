// Package model defines the batch/unit tracking entities, the per-dimension
// status state machine, and the error taxonomy shared across the pipeline.
package model

// UnitStatus is the closed set of states a single tracking dimension can be in.
type UnitStatus string

const (
	StatusPending    UnitStatus = "pending"
	StatusProcessing UnitStatus = "processing"
	StatusCompleted  UnitStatus = "completed"
	StatusError      UnitStatus = "error"
)

// Valid reports whether s is a member of the closed enumeration.
func (s UnitStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusError:
		return true
	}
	return false
}

// Terminal reports whether s ends processing for its dimension once the
// message stops being redelivered. An error unit can still be re-armed
// through the audited retry path.
func (s UnitStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Dimension names one of the three independent progress axes of a unit.
type Dimension string

const (
	DimIngestion   Dimension = "ingestion"
	DimExtraction  Dimension = "extraction"
	DimIntegration Dimension = "integration"
)

// Dimensions lists all tracking dimensions in pipeline order.
var Dimensions = []Dimension{DimIngestion, DimExtraction, DimIntegration}

// Valid reports whether d names a known dimension.
func (d Dimension) Valid() bool {
	switch d {
	case DimIngestion, DimExtraction, DimIntegration:
		return true
	}
	return false
}

// transitions is the per-dimension state machine:
// pending → processing → {completed | error}. An errored dimension can be
// reclaimed back to processing when the queue redelivers its message; the
// error → pending edge is deliberately absent here, it exists only via the
// retry operation, which audits the re-arm and enforces the attempt ceiling.
var transitions = map[UnitStatus][]UnitStatus{
	StatusPending:    {StatusProcessing, StatusError},
	StatusProcessing: {StatusCompleted, StatusError},
	StatusCompleted:  {},
	StatusError:      {StatusProcessing},
}

// CanTransition reports whether from → to is a legal automatic transition.
func CanTransition(from, to UnitStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// BatchStatus is the derived aggregate status of a batch.
type BatchStatus string

const (
	BatchProcessing BatchStatus = "processing"
	BatchCompleted  BatchStatus = "completed"
	BatchError      BatchStatus = "error"
)
