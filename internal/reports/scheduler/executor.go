package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"carbon-scribe/report-engine/internal/reports"
	"carbon-scribe/report-engine/internal/reports/engine"
)

// Generator produces reports and stores their artifacts
type Generator interface {
	Generate(ctx context.Context, req engine.GenerateRequest) (*reports.RenderedResult, error)
	StoreArtifact(ctx context.Context, result *reports.RenderedResult) error
}

// ExecutionRequest represents a report execution request
type ExecutionRequest struct {
	ScheduleID string         `json:"schedule_id,omitempty"`
	ReportCode string         `json:"report_code"`
	Format     string         `json:"format"`
	Params     map[string]any `json:"params,omitempty"`
	WebhookURL string         `json:"webhook_url,omitempty"`
}

// ExecutionResult represents the result of report execution
type ExecutionResult struct {
	ExecutionID    uuid.UUID `json:"execution_id"`
	Status         string    `json:"status"`
	FileName       string    `json:"file_name,omitempty"`
	FileSizeBytes  int64     `json:"file_size_bytes"`
	FilePath       string    `json:"file_path,omitempty"`
	DownloadURL    string    `json:"download_url,omitempty"`
	DeliveryStatus string    `json:"delivery_status,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	CompletedAt    time.Time `json:"completed_at"`
	DurationMs     int64     `json:"duration_ms"`
	Error          string    `json:"error,omitempty"`
}

// ExecutorConfig configuration for the executor
type ExecutorConfig struct {
	Timeout          time.Duration `json:"timeout"`
	WebhookRetries   int           `json:"webhook_retries"`
	MaxFileSizeBytes int64         `json:"max_file_size_bytes"`
}

// DefaultExecutorConfig returns default configuration
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		Timeout:          30 * time.Minute,
		WebhookRetries:   3,
		MaxFileSizeBytes: 100 * 1024 * 1024, // 100MB
	}
}

// Executor runs scheduled generations as the system principal and
// delivers the outcome
type Executor struct {
	generator Generator
	delivery  *DeliveryManager
	logger    *zap.Logger
	config    ExecutorConfig
}

// NewExecutor creates a new executor
func NewExecutor(generator Generator, delivery *DeliveryManager, logger *zap.Logger, config ExecutorConfig) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if delivery == nil {
		delivery = NewDeliveryManager(nil, logger)
	}
	return &Executor{
		generator: generator,
		delivery:  delivery,
		logger:    logger,
		config:    config,
	}
}

// Execute generates a report, bypassing the result cache, and posts it to
// the request's webhook when one is set
func (e *Executor) Execute(ctx context.Context, req *ExecutionRequest) (*ExecutionResult, error) {
	executionID := uuid.New()
	startTime := time.Now()

	e.logger.Info("Starting report execution",
		zap.String("execution_id", executionID.String()),
		zap.String("report_code", req.ReportCode),
		zap.String("format", req.Format))

	result := &ExecutionResult{
		ExecutionID: executionID,
		Status:      "processing",
		StartedAt:   startTime,
	}
	fail := func(err error) (*ExecutionResult, error) {
		result.Status = "failed"
		result.Error = err.Error()
		result.CompletedAt = time.Now()
		result.DurationMs = time.Since(startTime).Milliseconds()
		return result, err
	}

	if e.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.Timeout)
		defer cancel()
	}

	report, err := e.generator.Generate(ctx, engine.GenerateRequest{
		Code:          req.ReportCode,
		Params:        req.Params,
		Format:        req.Format,
		Principal:     reports.SystemPrincipal(),
		SkipCache:     true,
		DeferArtifact: true,
	})
	if err != nil {
		return fail(fmt.Errorf("report generation failed: %w", err))
	}

	result.FileName = report.FileName
	result.FileSizeBytes = int64(len(report.Content))

	if e.config.MaxFileSizeBytes > 0 && result.FileSizeBytes > e.config.MaxFileSizeBytes {
		return fail(fmt.Errorf("report is %s, above the %s limit",
			humanize.IBytes(uint64(result.FileSizeBytes)), humanize.IBytes(uint64(e.config.MaxFileSizeBytes))))
	}

	if err := e.generator.StoreArtifact(ctx, report); err != nil {
		e.logger.Warn("Report artifact not stored", zap.String("report_code", req.ReportCode), zap.Error(err))
	}
	result.FilePath = report.FilePath
	result.DownloadURL = report.DownloadURL

	if req.WebhookURL != "" {
		err := e.delivery.DeliverByWebhook(ctx, &WebhookDelivery{
			URL:        req.WebhookURL,
			Payload:    webhookPayload(req, executionID, report),
			RetryCount: e.config.WebhookRetries,
		})
		if err != nil {
			e.logger.Error("Failed to deliver report", zap.Error(err))
			result.DeliveryStatus = fmt.Sprintf("failed: %v", err)
		} else {
			result.DeliveryStatus = "sent"
		}
	}

	result.Status = "completed"
	result.CompletedAt = time.Now()
	result.DurationMs = time.Since(startTime).Milliseconds()

	e.logger.Info("Report execution completed",
		zap.String("execution_id", executionID.String()),
		zap.String("report_code", req.ReportCode),
		zap.String("size", humanize.IBytes(uint64(result.FileSizeBytes))),
		zap.Int64("duration_ms", result.DurationMs))

	return result, nil
}

// webhookPayload describes a finished report. JSON results are embedded;
// files are referenced by their download URL.
func webhookPayload(req *ExecutionRequest, executionID uuid.UUID, report *reports.RenderedResult) map[string]any {
	payload := map[string]any{
		"execution_id": executionID.String(),
		"schedule_id":  req.ScheduleID,
		"report_code":  report.Metadata.ReportCode,
		"report_name":  report.Metadata.ReportName,
		"format":       string(report.Format),
		"generated_at": report.GeneratedAt.Format(time.RFC3339),
		"parameters":   report.Metadata.Parameters,
	}
	if report.IsFile() {
		payload["file_name"] = report.FileName
		payload["download_url"] = report.DownloadURL
		payload["size_bytes"] = len(report.Content)
	} else {
		payload["document"] = report.Data
	}
	return payload
}

// ExecuteAsync executes a report in the background
func (e *Executor) ExecuteAsync(req *ExecutionRequest) uuid.UUID {
	executionID := uuid.New()

	go func() {
		timeout := e.config.Timeout
		if timeout <= 0 {
			timeout = DefaultExecutorConfig().Timeout
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		result, err := e.Execute(ctx, req)
		if err != nil {
			e.logger.Error("Async execution failed",
				zap.String("execution_id", executionID.String()),
				zap.Error(err))
			return
		}
		e.logger.Info("Async execution completed",
			zap.String("execution_id", executionID.String()),
			zap.String("status", result.Status))
	}()

	return executionID
}
