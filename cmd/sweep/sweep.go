package sweep

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/estimatehq/followup-engine/internal/config"
	"github.com/estimatehq/followup-engine/internal/db"
	"github.com/estimatehq/followup-engine/internal/fieldservice"
	"github.com/estimatehq/followup-engine/internal/gateway"
	"github.com/estimatehq/followup-engine/internal/logger"
	"github.com/estimatehq/followup-engine/internal/metrics"
	"github.com/estimatehq/followup-engine/internal/model"
	"github.com/estimatehq/followup-engine/internal/notify"
	"github.com/estimatehq/followup-engine/internal/repository"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

// NewSweepCmd returns the parent "sweep" command. Each subcommand runs
// one periodic job once and prints its summary, for cron setups that
// prefer a binary over hitting the /jobs endpoints.
func NewSweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run a periodic job once and exit",
	}
	cmd.AddCommand(followUpsCmd)
	cmd.AddCommand(autoDeclineCmd)
	cmd.AddCommand(reconcileCmd)

	return cmd
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}

	logger.Init(cfg.Log.Level)
	metrics.MustRegister(prometheus.DefaultRegisterer)

	return cfg, nil
}

func connectMySQL(cfg config.Config) (*sqlx.DB, error) {
	dbx, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
		MaxOpenConns:    cfg.MySQL.MaxOpenConns,
		MaxIdleConns:    cfg.MySQL.MaxIdleConns,
		ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
		PingTimeout:     cfg.MySQL.PingTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("mysql connect: %w", err)
	}
	return dbx, nil
}

func buildNotifier(dbx *sqlx.DB, cfg config.Config) notify.Notifier {
	return notify.New(
		dbx,
		repository.NewNotificationsRepository(dbx),
		repository.NewOutboxRepository(dbx),
		cfg.Kafka.NotificationsTopic,
	)
}

func buildPlatform(cfg config.Config) fieldservice.Client {
	return fieldservice.NewHTTPClient(cfg.FieldService.BaseURL, cfg.FieldService.Token, cfg.FieldService.Timeout).
		WithPageSize(cfg.FieldService.PageSize)
}

func buildGateway(cfg config.Config) (*gateway.Dispatcher, error) {
	var provs []gateway.Provider
	for _, pc := range cfg.Providers {
		if !pc.Enabled || strings.TrimSpace(pc.BaseURL) == "" {
			continue
		}
		var chs []model.Channel
		for _, raw := range pc.Channels {
			if ch, ok := model.ParseChannel(raw); ok {
				chs = append(chs, ch)
			}
		}
		provs = append(provs,
			gateway.NewHTTPProvider(
				pc.Name,
				strings.TrimRight(pc.BaseURL, "/"),
				pc.SendPath,
				chs,
				pc.TimeoutMs,
				pc.Breaker.FailThreshold,
				pc.Breaker.OpenForMs,
			),
		)
	}
	if len(provs) == 0 {
		return nil, fmt.Errorf("no providers enabled in config")
	}
	return gateway.NewDispatcher(provs, 2), nil
}

func printSummary(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
