// Package status is the read-only projection over batch and unit tracking
// state.
package status

import (
	"context"

	"github.com/sells-group/oficio-pipeline/internal/model"
	"github.com/sells-group/oficio-pipeline/internal/track"
)

// DimensionCounts breaks one status dimension down across a batch's units.
type DimensionCounts struct {
	Pending    int `json:"pending" yaml:"pending"`
	Processing int `json:"processing" yaml:"processing"`
	Completed  int `json:"completed" yaml:"completed"`
	Error      int `json:"error" yaml:"error"`
}

// BatchStatus is the aggregate view of one batch.
type BatchStatus struct {
	Batch        *model.Batch                        `json:"batch" yaml:"batch"`
	Overall      model.BatchStatus                   `json:"overall" yaml:"overall"`
	Dimensions   map[model.Dimension]DimensionCounts `json:"dimensions" yaml:"dimensions"`
	Units        []*model.Unit                       `json:"units" yaml:"units"`
	TotalUnits   int                                 `json:"total_units" yaml:"total_units"`
	ErroredUnits int                                 `json:"errored_units" yaml:"errored_units"`
}

// Service answers status queries against the tracking store.
type Service struct {
	store track.Store
}

func NewService(store track.Store) *Service {
	return &Service{store: store}
}

// GetBatchStatus aggregates a batch's units into per-dimension counts and an
// overall status. The batch is completed only when every unit's integration
// is completed; any terminal error short of that marks the batch errored;
// everything else is processing.
func (s *Service) GetBatchStatus(ctx context.Context, batchID string) (*BatchStatus, error) {
	batch, units, err := s.store.GetBatchView(ctx, batchID)
	if err != nil {
		return nil, err
	}

	dims := map[model.Dimension]DimensionCounts{}
	errored := 0
	allIntegrated := true
	anyError := false

	for _, u := range units {
		unitErrored := false
		for _, dim := range model.Dimensions {
			c := dims[dim]
			switch u.Status(dim) {
			case model.StatusPending:
				c.Pending++
			case model.StatusProcessing:
				c.Processing++
			case model.StatusCompleted:
				c.Completed++
			case model.StatusError:
				c.Error++
				unitErrored = true
				anyError = true
			}
			dims[dim] = c
		}
		if unitErrored {
			errored++
		}
		if u.IntegrationStatus != model.StatusCompleted {
			allIntegrated = false
		}
	}

	overall := model.BatchProcessing
	switch {
	case len(units) > 0 && allIntegrated:
		overall = model.BatchCompleted
	case anyError:
		overall = model.BatchError
	}

	return &BatchStatus{
		Batch:        batch,
		Overall:      overall,
		Dimensions:   dims,
		Units:        units,
		TotalUnits:   len(units),
		ErroredUnits: errored,
	}, nil
}

// GetUnitStatus returns the raw unit record.
func (s *Service) GetUnitStatus(ctx context.Context, unitID string) (*model.Unit, error) {
	return s.store.GetUnit(ctx, unitID)
}
