package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/oficio-pipeline/internal/intake"
	"github.com/sells-group/oficio-pipeline/internal/model"
)

var (
	ingestOrigin   string
	ingestOperator string
	ingestSource   string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>",
	Short: "Admit one composite oficio artifact as a batch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		origin := model.Origin(ingestOrigin)
		if origin != model.OriginEmail && origin != model.OriginDirect {
			return eris.Errorf("invalid origin %q (want email or direct)", ingestOrigin)
		}

		data, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrap(err, "read artifact")
		}

		env, err := initEnv(ctx, "ingest")
		if err != nil {
			return err
		}
		defer env.Close()

		sourceKey := ingestSource
		if sourceKey == "" {
			sourceKey = args[0]
		}

		admitter := intake.NewAdmitter(env.Store, env.Objects, env.Extract, cfg.Intake.DefaultOperator)
		res, err := admitter.Admit(ctx, data, origin, sourceKey, ingestOperator)
		if err != nil {
			return err
		}

		zap.L().Info("batch admitted",
			zap.String("batch_id", res.Batch.ID),
			zap.Int("units", len(res.Units)))

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestOrigin, "origin", "direct", "ingress channel (email or direct)")
	ingestCmd.Flags().StringVar(&ingestOperator, "operator", "", "operator hint when the header omits one")
	ingestCmd.Flags().StringVar(&ingestSource, "source-key", "", "source location recorded on the batch (default: file path)")
	rootCmd.AddCommand(ingestCmd)
}
