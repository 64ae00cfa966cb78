package worker

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/estimatehq/followup-engine/internal/config"
	"github.com/estimatehq/followup-engine/internal/db"
	"github.com/estimatehq/followup-engine/internal/kafka"
	"github.com/estimatehq/followup-engine/internal/logger"
	"github.com/estimatehq/followup-engine/internal/metrics"
	"github.com/estimatehq/followup-engine/internal/repository"
	"github.com/estimatehq/followup-engine/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run the notification outbox relay",
	RunE:  runRelay,
}

func runRelay(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger.Init(cfg.Log.Level)
	metrics.MustRegister(prometheus.DefaultRegisterer)

	if len(cfg.Kafka.Brokers) == 0 {
		return fmt.Errorf("no kafka brokers configured")
	}

	dbx, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
		MaxOpenConns:    cfg.MySQL.MaxOpenConns,
		MaxIdleConns:    cfg.MySQL.MaxIdleConns,
		ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
		PingTimeout:     cfg.MySQL.PingTimeout,
	})
	if err != nil {
		return fmt.Errorf("mysql connect: %w", err)
	}
	defer dbx.Close()

	outboxRepo := repository.NewOutboxRepository(dbx)

	producer := kafka.NewProducerFromConfig(kafka.ProducerConfig{
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.NotificationsTopic,
	})
	defer producer.Close()

	r := worker.NewRelay(outboxRepo, producer, logger.Log)

	// tune knobs
	if cfg.Kafka.RelayBatchSize > 0 {
		r.BatchSize = cfg.Kafka.RelayBatchSize
	}
	if cfg.Kafka.RelayInterval > 0 {
		r.Interval = cfg.Kafka.RelayInterval
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf(">> relay started topic=%s batchSize=%d interval=%s",
		cfg.Kafka.NotificationsTopic, r.BatchSize, r.Interval)

	return r.Run(ctx)
}
