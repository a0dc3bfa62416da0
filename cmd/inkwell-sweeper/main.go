package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/inkwellhq/inkwell/pkg/observability"
	"github.com/inkwellhq/inkwell/pkg/permissions"
)

var (
	dbURL         = flag.String("db-url", getEnv("INKWELL_POSTGRES_URL", "postgres://localhost/inkwell?sslmode=disable"), "PostgreSQL connection URL")
	sweepSchedule = flag.String("sweep-schedule", "* * * * *", "Cron schedule for the expiry sweep (default: every minute)")
	runOnce       = flag.Bool("run-once", false, "Run one sweep and exit (for testing and manual cleanup)")
	logLevel      = flag.String("log-level", getEnv("INKWELL_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
)

// inkwell-sweeper deletes expired guest permission rows on a cron schedule.
// It is a standalone alternative to the sweeper embedded in inkwell-permd,
// for deployments that prefer a single writer for cleanup. The resolver
// filters expired rows on every read either way, so sweep cadence affects
// table hygiene only, never access.
func main() {
	flag.Parse()

	logger := observability.NewLogger(observability.ParseLogLevel(*logLevel), os.Stdout)

	db, err := sql.Open("postgres", *dbURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}

	metrics := permissions.NewMetrics(prometheus.NewRegistry())
	store := permissions.NewStore(db)
	sweeper := permissions.NewSweeper(store, 0, logger, metrics)

	if *runOnce {
		removed, err := sweeper.SweepOnce(context.Background())
		if err != nil {
			log.Fatalf("Sweep failed: %v", err)
		}
		log.Printf("Sweep completed, %d expired rows removed", removed)
		return
	}

	c := cron.New()
	_, err = c.AddFunc(*sweepSchedule, func() {
		if _, err := sweeper.SweepOnce(context.Background()); err != nil {
			log.Printf("Sweep failed: %v", err)
		}
	})
	if err != nil {
		log.Fatalf("Failed to schedule sweep: %v", err)
	}

	c.Start()
	log.Println("Inkwell expiry sweeper started")
	log.Printf("Sweep schedule: %s", *sweepSchedule)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	log.Println("Shutting down gracefully...")

	ctx := c.Stop()
	<-ctx.Done()

	log.Println("Sweeper stopped")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
