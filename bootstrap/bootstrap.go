// Package bootstrap wires configuration, storage, the payment gateway and
// the HTTP server into a runnable application.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/promptforge/tokengate/adapters/clock"
	"github.com/promptforge/tokengate/adapters/idgen"
	"github.com/promptforge/tokengate/adapters/memory"
	"github.com/promptforge/tokengate/adapters/metrics"
	"github.com/promptforge/tokengate/adapters/payment"
	"github.com/promptforge/tokengate/adapters/sqlite"
	"github.com/promptforge/tokengate/app"
	"github.com/promptforge/tokengate/config"
	"github.com/promptforge/tokengate/ports"
	"github.com/promptforge/tokengate/web"
)

// App represents the running application.
type App struct {
	Logger     zerolog.Logger
	Config     *config.Holder
	DB         *sqlite.DB
	HTTPServer *http.Server
	Metrics    *metrics.Collector

	gateway ports.PaymentGateway
}

// New creates and initializes the application from an already-loaded
// configuration holder.
func New(holder *config.Holder) (*App, error) {
	cfg := holder.Get()
	logger := setupLogger(cfg.Logging)

	logger.Info().Msg("initializing tokengate")

	a := &App{
		Logger: logger,
		Config: holder,
	}

	var ledgerStore ports.LedgerStore
	var subscriptionStore ports.SubscriptionStore

	idGen := idgen.UUID{}
	clk := clock.System{}

	switch cfg.Database.Driver {
	case "memory":
		logger.Warn().Msg("using in-memory storage, data is lost on restart")
		ledgerStore = memory.NewLedgerStore(idGen, clk)
		subscriptionStore = memory.NewSubscriptionStore()
	default:
		db, err := sqlite.Open(cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}
		a.DB = db
		ledgerStore = sqlite.NewLedgerStore(db, idGen, clk)
		subscriptionStore = sqlite.NewSubscriptionStore(db, clk)
		logger.Info().Str("dsn", cfg.Database.DSN).Msg("database ready")
	}

	if cfg.Metrics.Enabled {
		a.Metrics = metrics.New()
		holder.OnChange(func(*config.Config) {
			a.Metrics.ConfigReloads.Inc()
			a.Metrics.ConfigLastReload.SetToCurrentTime()
		})
		logger.Info().Msg("prometheus metrics enabled")
	}

	gateway, err := payment.NewGateway(cfg.Gateway)
	if err != nil {
		return nil, fmt.Errorf("init payment gateway: %w", err)
	}
	if a.Metrics != nil {
		gateway = payment.NewInstrumentedGateway(gateway, a.Metrics)
	}
	a.gateway = gateway
	logger.Info().Str("gateway", gateway.Name()).Msg("payment gateway ready")

	billingService := app.NewBillingService(holder, subscriptionStore, ledgerStore, gateway, idGen, clk, logger)
	webhookService := app.NewWebhookService(holder, subscriptionStore, ledgerStore, clk, logger)
	usageService := app.NewUsageService(holder, ledgerStore, logger)

	handler := web.NewHandler(web.Deps{
		Config:   holder,
		Billing:  billingService,
		Webhooks: webhookService,
		Usage:    usageService,
		Metrics:  a.Metrics,
		Logger:   logger,
	})

	a.HTTPServer = &http.Server{
		Addr:         cfg.Server.Host + ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return a, nil
}

// Run starts the HTTP server and blocks until shutdown.
func (a *App) Run() error {
	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().
			Str("addr", a.HTTPServer.Addr).
			Msg("starting http server")
		if err := a.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	return a.Shutdown()
}

// Shutdown gracefully stops the application.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a.Config.Stop()

	if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("http server shutdown error")
		}
	}

	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("database close error")
		}
	}

	a.Logger.Info().Msg("shutdown complete")
	return nil
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
