package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/oficio-pipeline/internal/extract"
	"github.com/sells-group/oficio-pipeline/internal/integrate"
	"github.com/sells-group/oficio-pipeline/internal/runner"
)

var workerStage string

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the extraction and integration stage workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "worker")
		if err != nil {
			return err
		}
		defer env.Close()

		var stages []runner.Stage

		if workerStage == "all" || workerStage == "extract" {
			provider, err := extract.NewProvider(cfg.Extract)
			if err != nil {
				return err
			}
			w := extract.NewWorker(env.Store, env.Objects, provider, env.Integrate)
			stages = append(stages, runner.Stage{
				Name:        "extract",
				Queue:       env.Extract,
				Handle:      w.Handle,
				Concurrency: cfg.Worker.ExtractConcurrency,
			})
		}

		if workerStage == "all" || workerStage == "integrate" {
			crm, err := integrate.NewCRM(cfg.CRM)
			if err != nil {
				return err
			}
			w := integrate.NewWorker(env.Store, env.Objects, crm)
			stages = append(stages, runner.Stage{
				Name:        "integrate",
				Queue:       env.Integrate,
				Handle:      w.Handle,
				Concurrency: cfg.Worker.IntegrateConcurrency,
			})
		}

		if len(stages) == 0 {
			zap.L().Warn("no stages selected", zap.String("stage", workerStage))
			return nil
		}

		r := runner.New(runner.Options{
			ReceiveBatch: cfg.Worker.ReceiveBatch,
			IdleWait:     time.Duration(cfg.Worker.IdleWaitSecs) * time.Second,
		}, stages...)

		zap.L().Info("worker started", zap.String("stage", workerStage))
		return r.Run(ctx)
	},
}

func init() {
	workerCmd.Flags().StringVar(&workerStage, "stage", "all", "stages to run (all, extract, integrate)")
	rootCmd.AddCommand(workerCmd)
}
