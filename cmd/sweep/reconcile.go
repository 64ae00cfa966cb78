package sweep

import (
	"github.com/estimatehq/followup-engine/internal/engine"
	"github.com/estimatehq/followup-engine/internal/logger"
	"github.com/estimatehq/followup-engine/internal/repository"
	"github.com/spf13/cobra"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Pull recent estimates from the field-service platform and fold option outcomes",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		dbx, err := connectMySQL(cfg)
		if err != nil {
			return err
		}
		defer dbx.Close()

		job := engine.NewReconciler(
			repository.NewEstimatesRepository(dbx),
			repository.NewOptionsRepository(dbx),
			repository.NewEventsRepository(dbx),
			repository.NewCustomersRepository(dbx),
			repository.NewUsersRepository(dbx),
			buildNotifier(dbx, cfg),
			buildPlatform(cfg),
			cfg.Automation.AutoDeclineDays,
			cfg.Automation.DefaultSequenceID,
			logger.Log,
		)

		sum, err := job.Run(cmd.Context())
		if err != nil {
			return err
		}
		return printSummary(sum)
	},
}
