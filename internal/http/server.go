package http

import (
	"context"
	"log"
	"net/http"
	"strings"

	"github.com/estimatehq/followup-engine/internal/claim"
	"github.com/estimatehq/followup-engine/internal/config"
	"github.com/estimatehq/followup-engine/internal/engine"
	"github.com/estimatehq/followup-engine/internal/fieldservice"
	"github.com/estimatehq/followup-engine/internal/gateway"
	"github.com/estimatehq/followup-engine/internal/http/middleware"
	"github.com/estimatehq/followup-engine/internal/logger"
	"github.com/estimatehq/followup-engine/internal/metrics"
	"github.com/estimatehq/followup-engine/internal/model"
	"github.com/estimatehq/followup-engine/internal/notify"
	"github.com/estimatehq/followup-engine/internal/repository"
	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

type Server struct{ e *echo.Echo }

// NewGatewayFromConfig builds the messaging dispatcher from the enabled
// provider entries of the configuration.
func NewGatewayFromConfig(cfg config.Config) *gateway.Dispatcher {
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
		provs = append(provs, gateway.NewHTTPProvider(
			pc.Name,
			strings.TrimRight(pc.BaseURL, "/"),
			pc.SendPath,
			chs,
			pc.TimeoutMs,
			pc.Breaker.FailThreshold,
			pc.Breaker.OpenForMs,
		))
	}
	return gateway.NewDispatcher(provs, 2)
}

func NewServer(cfg config.Config, mysqlDB, clickhouseDB *sqlx.DB, rds *redis.Client) *Server {
	estimatesRepo := repository.NewEstimatesRepository(mysqlDB)
	eventsRepo := repository.NewEventsRepository(mysqlDB)
	optionsRepo := repository.NewOptionsRepository(mysqlDB)
	sequencesRepo := repository.NewSequencesRepository(mysqlDB)
	customersRepo := repository.NewCustomersRepository(mysqlDB)
	usersRepo := repository.NewUsersRepository(mysqlDB)
	notificationsRepo := repository.NewNotificationsRepository(mysqlDB)
	outboxRepo := repository.NewOutboxRepository(mysqlDB)
	historyRepo := repository.NewHistoryRepository(clickhouseDB)

	notifier := notify.New(mysqlDB, notificationsRepo, outboxRepo, cfg.Kafka.NotificationsTopic)
	claims := claim.NewRedisLocker(rds, cfg.Automation.ClaimTTL)
	platform := fieldservice.NewHTTPClient(cfg.FieldService.BaseURL, cfg.FieldService.Token, cfg.FieldService.Timeout).
		WithPageSize(cfg.FieldService.PageSize)
	gw := NewGatewayFromConfig(cfg)

	scheduler := engine.NewScheduler(estimatesRepo, sequencesRepo, eventsRepo, notifier,
		cfg.Automation.PendingReviewDelay, logger.Log)
	executor := engine.NewExecutor(estimatesRepo, eventsRepo, gw, historyRepo, claims, logger.Log)
	autoDecline := engine.NewAutoDecline(estimatesRepo, optionsRepo, notifier, platform,
		cfg.Automation.WarningDays, logger.Log)
	reconciler := engine.NewReconciler(estimatesRepo, optionsRepo, eventsRepo, customersRepo,
		usersRepo, notifier, platform,
		cfg.Automation.AutoDeclineDays, cfg.Automation.DefaultSequenceID, logger.Log)
	manual := engine.NewManual(estimatesRepo, sequencesRepo, eventsRepo, gw, historyRepo,
		claims, notifier, logger.Log)

	e := echo.New()
	e.HideBanner = true
	e.Use(echoMid.Recover(), echoMid.Logger())

	metrics.MustRegister(prometheus.DefaultRegisterer)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// periodic job triggers, hit by an external scheduler
	jobs := e.Group("/jobs", middleware.JobTokenMiddleware(cfg.Jobs.Token))
	jobs.GET("/followups", followUpsJobHandler(scheduler, executor))
	jobs.GET("/autodecline", autoDeclineJobHandler(autoDecline))
	jobs.GET("/reconcile", reconcileJobHandler(reconciler))

	// user-triggered actions
	v1 := e.Group("/v1")
	v1.POST("/estimates/:id/steps/next", sendNextStepHandler(manual))
	v1.POST("/estimates/:id/steps/:index/execute", executeStepHandler(manual))
	v1.GET("/estimates/:id/messages", listMessagesHandler(historyRepo))

	return &Server{e: e}
}

func (s *Server) Start(addr string) error {
	log.Printf("http: listening on %s", addr)
	return s.e.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }
