package main

import (
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/oficio-pipeline/internal/status"
)

var statusOutput string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query batch and unit processing status",
}

var statusBatchCmd = &cobra.Command{
	Use:   "batch <batch-id>",
	Short: "Show the aggregate status of one batch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "migrate")
		if err != nil {
			return err
		}
		defer env.Close()

		bs, err := status.NewService(env.Store).GetBatchStatus(ctx, args[0])
		if err != nil {
			return err
		}
		return writeOutput(cmd.OutOrStdout(), bs)
	},
}

var statusUnitCmd = &cobra.Command{
	Use:   "unit <unit-id>",
	Short: "Show the raw record of one unit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "migrate")
		if err != nil {
			return err
		}
		defer env.Close()

		unit, err := status.NewService(env.Store).GetUnitStatus(ctx, args[0])
		if err != nil {
			return err
		}
		return writeOutput(cmd.OutOrStdout(), unit)
	},
}

func writeOutput(w io.Writer, v any) error {
	switch statusOutput {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		return yaml.NewEncoder(w).Encode(v)
	default:
		return eris.Errorf("unknown output format %q (want json or yaml)", statusOutput)
	}
}

func init() {
	statusCmd.PersistentFlags().StringVarP(&statusOutput, "output", "o", "json", "output format (json or yaml)")
	statusCmd.AddCommand(statusBatchCmd)
	statusCmd.AddCommand(statusUnitCmd)
	rootCmd.AddCommand(statusCmd)
}
