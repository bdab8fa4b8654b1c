package main

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"deliverybot/internal/config"
	"deliverybot/internal/infrastructure"
	"deliverybot/internal/interfaces"
	"deliverybot/internal/interfaces/http"
	"deliverybot/internal/interfaces/slackapp"
	"deliverybot/internal/logger"
	"deliverybot/internal/metrics"
	"deliverybot/internal/repository"
	"deliverybot/internal/usecases"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("deliverybot_failed", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.Register()

	slackClient := infrastructure.NewSlackClient(cfg.Slack.BotToken, cfg.Slack.AppToken, log)
	identity, err := slackClient.Identify(ctx)
	if err != nil {
		return err
	}
	log.Info("slack_identified",
		zap.String("user_id", identity.UserID),
		zap.String("bot_id", identity.BotID),
		zap.String("team", identity.Team),
	)

	orders, closeOrders, err := newOrderStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeOrders()

	svc := usecases.NewDeliveryService(slackClient, orders, log)
	svc.Guard = infrastructure.NewDecisionGuard(cfg.DedupeWindow)

	dispatcher := slackapp.NewDispatcher(identity, log)
	if err := slackapp.Register(dispatcher, svc, cfg.DeliveryPattern); err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	handler := http.NewHandler(dispatcher, log)
	http.SetupRoutes(r, handler, http.NewMiddleware(cfg.Slack.SigningSecret, log), http.RouteOptions{
		SlackEndpoints: cfg.Slack.Mode == config.ModeHTTP,
		RateLimit:      rate.Limit(cfg.RateLimitRPS),
		RateBurst:      cfg.RateLimitBurst,
	})

	server := &stdhttp.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		log.Info("http_server_started", zap.String("addr", cfg.HTTPAddr), zap.String("mode", cfg.Slack.Mode))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	socketErr := make(chan error, 1)
	socketDone := make(chan struct{})
	if cfg.Slack.Mode == config.ModeSocket {
		runner := infrastructure.NewSocketModeRunner(slackClient.API, dispatcher, log)
		go func() {
			defer close(socketDone)
			socketErr <- runner.Run(ctx)
		}()
	} else {
		close(socketDone)
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown_signal_received")
	case err := <-serverErr:
		runErr = err
	case err := <-socketErr:
		if err != nil {
			runErr = fmt.Errorf("socket mode: %w", err)
		}
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http_shutdown_failed", zap.Error(err))
	}
	<-socketDone
	handler.Wait()
	log.Info("deliverybot_stopped")
	return runErr
}

// newOrderStore builds the CRM backend. The none backend returns a nil
// store so approvals only post the summary.
func newOrderStore(ctx context.Context, cfg config.Config, log *zap.Logger) (interfaces.OrderStore, func(), error) {
	noop := func() {}
	switch cfg.CRMBackend {
	case config.BackendSalesforce:
		client, err := infrastructure.NewSalesforceClient(cfg.Salesforce, nil, log)
		if err != nil {
			return nil, noop, err
		}
		return client, noop, nil

	case config.BackendPostgres:
		pg, err := infrastructure.NewPostgresClient(ctx, cfg.DatabaseURL, cfg.DatabaseMigrate, log)
		if err != nil {
			return nil, noop, err
		}
		return repository.NewOrderRepository(pg.Pool), pg.Close, nil
	}

	log.Warn("crm_backend_disabled", zap.String("hint", "set CRM_BACKEND or SF_USERNAME to update orders"))
	return nil, noop, nil
}
