package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	paymentpostgres "github.com/pesalend/loan-intake/internal/payment/postgres"
	"github.com/pesalend/loan-intake/pkg/logger"
)

// sweepCmd runs the periodic job that moves abandoned pending payments to
// expired. A payer closing the browser leaves a pending record forever unless
// the provider reports cancellation; this sweep is the retention backstop.
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Expire stale pending payments",
	Long:  `Periodically mark pending payment records older than the retention window as expired`,
	Run: func(cmd *cobra.Command, args []string) {
		startSweep()
	},
}

var sweepOnce bool

func init() {
	sweepCmd.Flags().BoolVar(&sweepOnce, "once", false, "Run a single sweep and exit")
}

func startSweep() {
	config, err := loadConfig(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(os.Getenv("APP_ENV"))
	log := logger.L()

	db, err := initDB(config.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	gormDB, err := gorm.Open(gormpostgres.New(gormpostgres.Config{Conn: db.DB}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize gorm: %v\n", err)
		os.Exit(1)
	}

	repo := paymentpostgres.NewPaymentRepository(gormDB)
	retention := config.Payments.PendingRetention
	interval := config.Payments.SweepInterval

	runOnce := func() {
		cutoff := time.Now().Add(-retention)
		count, err := repo.ExpireStale(cutoff)
		if err != nil {
			log.Error("sweep failed", "error", err)
			return
		}
		log.Info("sweep completed", "expired", count, "older_than", cutoff)
	}

	runOnce()
	if sweepOnce {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	log.Info("sweep worker running", "interval", interval, "retention", retention)

	for {
		select {
		case <-ticker.C:
			runOnce()
		case sig := <-sigChan:
			log.Info("received signal, stopping sweep worker", "signal", sig)
			return
		}
	}
}
