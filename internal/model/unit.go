package model

import "time"

// Unit is one oficio tracked within a batch. The three status fields are
// independent dimensions; each obeys the state machine in status.go.
type Unit struct {
	BatchID  string `json:"batch_id"`
	ID       string `json:"id"`
	Sequence int    `json:"sequence"`

	IngestionStatus   UnitStatus `json:"ingestion_status"`
	ExtractionStatus  UnitStatus `json:"extraction_status"`
	IntegrationStatus UnitStatus `json:"integration_status"`

	// ArtifactKey points at the unit's individual artifact in object storage.
	// RecordKey points at the structured extraction result once produced.
	// CRMCaseID holds the external system's record identifier once integrated.
	ArtifactKey string `json:"artifact_key"`
	RecordKey   string `json:"record_key,omitempty"`
	CRMCaseID   string `json:"crm_case_id,omitempty"`

	// ErrorMessage retains the last failure detail. It is cleared only by a
	// successful retry, never by the passage of time.
	ErrorMessage string `json:"error_message,omitempty"`
	RetryCount   int    `json:"retry_count"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Status returns the value of the named dimension.
func (u *Unit) Status(dim Dimension) UnitStatus {
	switch dim {
	case DimIngestion:
		return u.IngestionStatus
	case DimExtraction:
		return u.ExtractionStatus
	case DimIntegration:
		return u.IntegrationStatus
	}
	return ""
}

// SetStatus sets the value of the named dimension.
func (u *Unit) SetStatus(dim Dimension, s UnitStatus) {
	switch dim {
	case DimIngestion:
		u.IngestionStatus = s
	case DimExtraction:
		u.ExtractionStatus = s
	case DimIntegration:
		u.IntegrationStatus = s
	}
}

// Failed reports whether any dimension is terminally errored.
func (u *Unit) Failed() bool {
	return u.IngestionStatus == StatusError ||
		u.ExtractionStatus == StatusError ||
		u.IntegrationStatus == StatusError
}

// Done reports whether the unit has fully traversed the pipeline.
func (u *Unit) Done() bool {
	return u.IntegrationStatus == StatusCompleted
}
