package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/pesalend/loan-intake/internal"
	"github.com/pesalend/loan-intake/internal/core/events"
	"github.com/pesalend/loan-intake/internal/currency"
	"github.com/pesalend/loan-intake/internal/gateway"
	"github.com/pesalend/loan-intake/internal/gateway/flutterwave"
	"github.com/pesalend/loan-intake/internal/gateway/paystack"
	"github.com/pesalend/loan-intake/internal/payment"
	paymentpostgres "github.com/pesalend/loan-intake/internal/payment/postgres"
	"github.com/pesalend/loan-intake/internal/transport"
	"github.com/pesalend/loan-intake/internal/transport/rest"
	"github.com/pesalend/loan-intake/pkg/logger"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server to handle checkout, callback and webhook requests`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

type Dependencies struct {
	Config         *internal.Config
	DB             *sqlx.DB
	Router         *chi.Mux
	PaymentHandler *payment.Handler
	WebhookHandler *payment.WebhookHandler
	Logger         *slog.Logger
}

func startHTTPServer() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	rest.RegisterAllRoutes(
		deps.Router,
		deps.DB.DB,
		deps.Config.Server.AllowedOrigins,
		deps.PaymentHandler,
		deps.WebhookHandler,
		deps.Logger,
	)

	addr := fmt.Sprintf(":%d", deps.Config.Server.Port)
	slog.Info("Starting HTTP server", "address", addr)

	server := &http.Server{
		Addr:         addr,
		Handler:      deps.Router,
		ReadTimeout:  deps.Config.Server.ReadTimeout,
		WriteTimeout: deps.Config.Server.WriteTimeout,
		IdleTimeout:  deps.Config.Server.IdleTimeout,
	}

	// Signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		slog.Info("Received signal, shutting down...", "signal", sig)
		ctx, cancel := internal.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}
		if err := deps.DB.Close(); err != nil {
			slog.Error("Database close error", "error", err)
		}
	case err := <-serverErrChan:
		if err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}

	slog.Info("Server stopped")
}

func initializeDependencies() (*Dependencies, error) {
	config, err := loadConfig(".")
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.Init(os.Getenv("APP_ENV"))
	log := logger.L()

	db, err := initDB(config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	gormDB, err := gorm.Open(gormpostgres.New(gormpostgres.Config{Conn: db.DB}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize gorm: %w", err)
	}

	currencySvc := currency.NewService(currency.Config{
		APIURL:          config.Currency.APIURL,
		FetchTimeout:    config.Currency.FetchTimeout,
		FreshnessWindow: config.Currency.FreshnessWindow,
		CacheSize:       config.Currency.CacheSize,
		FallbackRates:   config.Currency.FallbackRates,
	}, log)

	registry := buildRegistry(config.Payments, log)

	eventBus := events.NewEventBus(log)

	feeAmount, err := decimal.NewFromString(config.Payments.FeeAmount)
	if err != nil {
		return nil, fmt.Errorf("invalid fee amount %q: %w", config.Payments.FeeAmount, err)
	}

	repo := paymentpostgres.NewPaymentRepository(gormDB)
	paymentSvc := payment.NewService(registry, repo, currencySvc, eventBus, payment.Config{
		FeeAmount:   feeAmount,
		FeeCurrency: config.Payments.FeeCurrency,
	}, log)

	baseHandler := transport.NewBaseHandler(log)

	return &Dependencies{
		Config:         config,
		Logger:         log,
		DB:             db,
		Router:         chi.NewRouter(),
		PaymentHandler: payment.NewHandler(baseHandler, paymentSvc, log),
		WebhookHandler: payment.NewWebhookHandler(baseHandler, paymentSvc, log),
	}, nil
}

// buildRegistry registers every provider whose credentials are complete.
// Incomplete providers are skipped with a warning so a misconfigured adapter
// can never be selected at checkout.
func buildRegistry(cfg internal.PaymentsConfig, log *slog.Logger) *gateway.Registry {
	registry := gateway.NewRegistry(cfg.DefaultGateway, log)

	for name, gwCfg := range cfg.Gateways {
		if !gwCfg.Complete() {
			log.Warn("skipping gateway with incomplete credentials", "gateway", name)
			continue
		}

		log.Info("configuring payment gateway",
			"gateway", name,
			"environment", gwCfg.Environment)

		switch name {
		case paystack.Name:
			registry.Register(paystack.New(paystack.Config{
				SecretKey:     gwCfg.SecretKey,
				WebhookSecret: gwCfg.WebhookSecret,
				BaseURL:       gwCfg.BaseURL,
				CallbackURL:   gwCfg.CallbackURL,
			}, log))
		case flutterwave.Name:
			registry.Register(flutterwave.New(flutterwave.Config{
				SecretKey:     gwCfg.SecretKey,
				WebhookSecret: gwCfg.WebhookSecret,
				BaseURL:       gwCfg.BaseURL,
				CallbackURL:   gwCfg.CallbackURL,
			}, log))
		default:
			log.Warn("unknown gateway in configuration, skipping", "gateway", name)
		}
	}

	return registry
}

// initDB initializes the database connection
func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// verify connection; close underlying *sql.DB on failure
	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return dbConn, nil
}
