package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/oficio-pipeline/internal/queue"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the tracking and queue schemas",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("migrate"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return err
		}

		if cfg.Queue.Driver == "sql" {
			db, _, err := openQueueDB()
			if err != nil {
				return err
			}
			defer db.Close() //nolint:errcheck
			if err := queue.Migrate(ctx, db); err != nil {
				return err
			}
		}

		zap.L().Info("migrations applied",
			zap.String("store", cfg.Store.Driver),
			zap.String("queue", cfg.Queue.Driver))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
