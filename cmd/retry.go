package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/oficio-pipeline/internal/model"
	"github.com/sells-group/oficio-pipeline/internal/queue"
)

var retryDimension string

var retryCmd = &cobra.Command{
	Use:   "retry <unit-id>",
	Short: "Re-arm an errored unit dimension and re-enqueue its work",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		unitID := args[0]

		var dim model.Dimension
		switch retryDimension {
		case "ingestion":
			return eris.New("ingestion cannot be retried; re-ingest the artifact instead")
		case "extraction":
			dim = model.DimExtraction
		case "integration":
			dim = model.DimIntegration
		default:
			return eris.Errorf("unknown dimension %q (want extraction or integration)", retryDimension)
		}

		env, err := initEnv(ctx, "migrate")
		if err != nil {
			return err
		}
		defer env.Close()

		unit, err := env.Store.GetUnit(ctx, unitID)
		if err != nil {
			return err
		}

		if err := env.Store.RearmUnit(ctx, unit.BatchID, unitID, dim, cfg.Store.MaxRetries); err != nil {
			return err
		}

		msg := queue.Message{BatchID: unit.BatchID, UnitID: unitID}
		target := env.Integrate
		if dim == model.DimExtraction {
			msg.ArtifactKey = unit.ArtifactKey
			target = env.Extract
		}
		if err := target.Send(ctx, msg); err != nil {
			return eris.Wrapf(err, "re-enqueue %s", unitID)
		}

		zap.L().Info("unit re-armed",
			zap.String("unit_id", unitID),
			zap.String("dimension", string(dim)),
			zap.Int("retry_count", unit.RetryCount+1))
		return nil
	},
}

func init() {
	retryCmd.Flags().StringVar(&retryDimension, "dimension", "extraction", "dimension to re-arm (extraction or integration)")
	rootCmd.AddCommand(retryCmd)
}
