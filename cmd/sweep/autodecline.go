package sweep

import (
	"github.com/estimatehq/followup-engine/internal/engine"
	"github.com/estimatehq/followup-engine/internal/logger"
	"github.com/estimatehq/followup-engine/internal/repository"
	"github.com/spf13/cobra"
)

var autoDeclineCmd = &cobra.Command{
	Use:   "autodecline",
	Short: "Decline estimates past their deadline and warn expiring ones",
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

		job := engine.NewAutoDecline(
			repository.NewEstimatesRepository(dbx),
			repository.NewOptionsRepository(dbx),
			buildNotifier(dbx, cfg),
			buildPlatform(cfg),
			cfg.Automation.WarningDays,
			logger.Log,
		)

		sum, err := job.Run(cmd.Context())
		if err != nil {
			return err
		}
		return printSummary(sum)
	},
}
