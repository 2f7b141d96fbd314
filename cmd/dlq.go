package main

import (
	"encoding/json"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/oficio-pipeline/internal/queue"
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect and redrive dead-lettered messages",
}

func stageQueue(env *pipelineEnv, stage string) (queue.Queue, error) {
	switch stage {
	case "extract":
		return env.Extract, nil
	case "integrate":
		return env.Integrate, nil
	default:
		return nil, eris.Errorf("unknown stage %q (want extract or integrate)", stage)
	}
}

var dlqListCmd = &cobra.Command{
	Use:   "list <stage>",
	Short: "List dead-lettered messages for a stage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "migrate")
		if err != nil {
			return err
		}
		defer env.Close()

		q, err := stageQueue(env, args[0])
		if err != nil {
			return err
		}
		dead, err := q.DeadLetters(ctx, 100)
		if err != nil {
			return err
		}

		type deadEntry struct {
			ID         string        `json:"id"`
			Deliveries int           `json:"deliveries"`
			Message    queue.Message `json:"message"`
		}
		out := make([]deadEntry, len(dead))
		for i, d := range dead {
			out[i] = deadEntry{ID: d.ID, Deliveries: d.Deliveries, Message: d.Msg}
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

var dlqRedriveCmd = &cobra.Command{
	Use:   "redrive <stage>",
	Short: "Move a stage's dead-lettered messages back onto its queue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "migrate")
		if err != nil {
			return err
		}
		defer env.Close()

		q, err := stageQueue(env, args[0])
		if err != nil {
			return err
		}
		moved, err := q.Redrive(ctx)
		if err != nil {
			return err
		}

		zap.L().Info("dead letters redriven",
			zap.String("stage", args[0]),
			zap.Int("moved", moved))
		return nil
	},
}

func init() {
	dlqCmd.AddCommand(dlqListCmd)
	dlqCmd.AddCommand(dlqRedriveCmd)
	rootCmd.AddCommand(dlqCmd)
}
