package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	v1 "carbon-scribe/report-engine/api/v1"
	"carbon-scribe/report-engine/internal/config"
	"carbon-scribe/report-engine/internal/reports/scheduler"
	"carbon-scribe/report-engine/internal/telemetry"
)

// ReportWorker runs configured report schedules without serving HTTP
type ReportWorker struct {
	api    *v1.ReportsAPI
	logger *zap.Logger
	config ReportWorkerConfig
	done   chan struct{}
}

// ReportWorkerConfig configuration for the report worker
type ReportWorkerConfig struct {
	// StatusInterval controls how often upcoming runs are logged
	StatusInterval time.Duration
	Schedules      []scheduler.Schedule
}

// DefaultReportWorkerConfig returns default configuration
func DefaultReportWorkerConfig() ReportWorkerConfig {
	return ReportWorkerConfig{
		StatusInterval: 5 * time.Minute,
	}
}

// NewReportWorker creates a new report worker
func NewReportWorker(api *v1.ReportsAPI, logger *zap.Logger, config ReportWorkerConfig) *ReportWorker {
	return &ReportWorker{
		api:    api,
		logger: logger,
		config: config,
		done:   make(chan struct{}),
	}
}

// Start registers the schedules and blocks until ctx ends or Stop is called
func (w *ReportWorker) Start(ctx context.Context) error {
	if err := w.api.StartBackground(ctx, true); err != nil {
		return err
	}
	w.logger.Info("Starting report worker",
		zap.Int("schedules", w.api.Scheduler.GetActiveJobs()),
		zap.Duration("status_interval", w.config.StatusInterval))

	ticker := time.NewTicker(w.config.StatusInterval)
	defer ticker.Stop()

	w.logStatus()
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Report worker shutting down")
			return nil
		case <-w.done:
			w.logger.Info("Report worker stopped")
			return nil
		case <-ticker.C:
			w.logStatus()
		}
	}
}

// Stop stops the report worker
func (w *ReportWorker) Stop() {
	close(w.done)
}

// logStatus logs the next activation of every registered schedule
func (w *ReportWorker) logStatus() {
	for _, s := range w.config.Schedules {
		status, err := w.api.Scheduler.GetJobStatus(s.ID)
		if err != nil {
			continue
		}
		w.logger.Info("Schedule status",
			zap.String("schedule_id", status.ScheduleID),
			zap.String("report_code", status.ReportCode),
			zap.Time("next_run", status.NextRun),
			zap.Time("prev_run", status.PrevRun))
	}
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	// the worker exists to run schedules
	cfg.Scheduler.Enabled = true

	logger, err := cfg.Logging.NewLogger()
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry, "worker")
	if err != nil {
		logger.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	defer shutdownTelemetry(context.Background())

	api, err := v1.SetupReportsAPI(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to set up report engine", zap.Error(err))
	}
	defer api.Close()

	workerConfig := DefaultReportWorkerConfig()
	workerConfig.Schedules = cfg.Scheduler.Schedules
	worker := NewReportWorker(api, logger, workerConfig)

	logger.Info("Report worker starting")
	if err := worker.Start(ctx); err != nil {
		logger.Error("Worker error", zap.Error(err))
	}

	logger.Info("Report worker stopped")
}
