package sweep

import (
	"fmt"

	"github.com/estimatehq/followup-engine/internal/claim"
	"github.com/estimatehq/followup-engine/internal/db"
	"github.com/estimatehq/followup-engine/internal/engine"
	"github.com/estimatehq/followup-engine/internal/logger"
	"github.com/estimatehq/followup-engine/internal/repository"
	"github.com/spf13/cobra"
)

var followUpsCmd = &cobra.Command{
	Use:   "followups",
	Short: "Materialize due steps and dispatch reviewed events",
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

		redisClient, err := db.NewRedisClient(db.RedisOpts{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			DialTimeout: cfg.Redis.DialTimeout,
		})
		if err != nil {
			return fmt.Errorf("redis connect: %w", err)
		}
		defer func() { _ = redisClient.Close() }()

		chDB, err := db.NewClickHouseConnection(db.ClickHouseOpts{
			DSN:             cfg.ClickHouse.DSN,
			MaxOpenConns:    cfg.ClickHouse.MaxOpenConns,
			MaxIdleConns:    cfg.ClickHouse.MaxIdleConns,
			ConnMaxLifetime: cfg.ClickHouse.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.ClickHouse.ConnMaxIdleTime,
			PingTimeout:     cfg.ClickHouse.PingTimeout,
		})
		if err != nil {
			return fmt.Errorf("clickhouse connect: %w", err)
		}
		defer func() { _ = chDB.Close() }()

		gw, err := buildGateway(cfg)
		if err != nil {
			return err
		}

		estimatesRepo := repository.NewEstimatesRepository(dbx)
		eventsRepo := repository.NewEventsRepository(dbx)
		sequencesRepo := repository.NewSequencesRepository(dbx)
		historyRepo := repository.NewHistoryRepository(chDB)
		claims := claim.NewRedisLocker(redisClient, cfg.Automation.ClaimTTL)
		notifier := buildNotifier(dbx, cfg)

		scheduler := engine.NewScheduler(estimatesRepo, sequencesRepo, eventsRepo, notifier,
			cfg.Automation.PendingReviewDelay, logger.Log)
		executor := engine.NewExecutor(estimatesRepo, eventsRepo, gw, historyRepo, claims, logger.Log)

		ctx := cmd.Context()

		schedSum, err := scheduler.Run(ctx)
		if err != nil {
			return err
		}
		execSum, err := executor.Run(ctx)
		if err != nil {
			return err
		}

		return printSummary(map[string]engine.FollowUpSummary{
			"scheduler": schedSum,
			"executor":  execSum,
		})
	},
}
