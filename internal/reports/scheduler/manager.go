package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Schedule runs one report on a cron expression
type Schedule struct {
	ID         string         `json:"id" mapstructure:"id"`
	ReportCode string         `json:"report_code" mapstructure:"report_code"`
	Cron       string         `json:"cron" mapstructure:"cron"`
	Timezone   string         `json:"timezone,omitempty" mapstructure:"timezone"`
	Format     string         `json:"format,omitempty" mapstructure:"format"`
	Params     map[string]any `json:"params,omitempty" mapstructure:"params"`
	WebhookURL string         `json:"webhook_url,omitempty" mapstructure:"webhook_url"`
	Enabled    bool           `json:"enabled" mapstructure:"enabled"`
}

// Validate checks the schedule's identity, cron expression and timezone
func (s *Schedule) Validate() error {
	if s.ID == "" {
		return errors.New("schedule id is required")
	}
	if s.ReportCode == "" {
		return fmt.Errorf("schedule %s: report_code is required", s.ID)
	}
	if err := ValidateCronExpression(s.Cron); err != nil {
		return fmt.Errorf("schedule %s: invalid cron expression: %w", s.ID, err)
	}
	if s.Timezone != "" {
		if _, err := time.LoadLocation(s.Timezone); err != nil {
			return fmt.Errorf("schedule %s: invalid timezone: %w", s.ID, err)
		}
	}
	return nil
}

// spec returns the expression with its timezone prefix
func (s *Schedule) spec() string {
	if s.Timezone == "" {
		return s.Cron
	}
	return "CRON_TZ=" + s.Timezone + " " + s.Cron
}

// JobStatus represents the status of a scheduled job
type JobStatus struct {
	ScheduleID string    `json:"schedule_id"`
	ReportCode string    `json:"report_code"`
	NextRun    time.Time `json:"next_run"`
	PrevRun    time.Time `json:"prev_run"`
}

// Sweeper drops expired cache entries, returning how many were removed
type Sweeper interface {
	Sweep() int
}

// ScheduleManager runs report schedules and housekeeping jobs on cron
type ScheduleManager struct {
	cron      *cron.Cron
	executor  *Executor
	logger    *zap.Logger
	jobs      map[string]cron.EntryID
	schedules map[string]*Schedule
	mu        sync.RWMutex
	running   bool
}

// NewScheduleManager creates a new schedule manager
func NewScheduleManager(executor *Executor, logger *zap.Logger) *ScheduleManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScheduleManager{
		cron:      cron.New(cron.WithParser(cronParser)),
		executor:  executor,
		logger:    logger,
		jobs:      make(map[string]cron.EntryID),
		schedules: make(map[string]*Schedule),
	}
}

// Start starts the cron scheduler
func (m *ScheduleManager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return fmt.Errorf("schedule manager already running")
	}
	m.running = true

	m.logger.Info("Starting schedule manager", zap.Int("jobs", len(m.jobs)))
	m.cron.Start()
	return nil
}

// Stop stops the scheduler and waits for running jobs, bounded by ctx
func (m *ScheduleManager) Stop(ctx context.Context) {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()

	m.logger.Info("Stopping schedule manager")
	select {
	case <-m.cron.Stop().Done():
	case <-ctx.Done():
		m.logger.Warn("Schedule manager stopped before jobs finished")
	}
}

// LoadSchedules registers every enabled schedule, collecting failures
func (m *ScheduleManager) LoadSchedules(schedules []Schedule) error {
	var errs []error
	for i := range schedules {
		s := schedules[i]
		if !s.Enabled {
			continue
		}
		if err := m.AddSchedule(&s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AddSchedule registers or replaces a schedule
func (m *ScheduleManager) AddSchedule(schedule *Schedule) error {
	if err := schedule.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if entryID, ok := m.jobs[schedule.ID]; ok {
		m.cron.Remove(entryID)
	}

	s := *schedule
	entryID, err := m.cron.AddFunc(s.spec(), func() {
		m.executeSchedule(context.Background(), &s)
	})
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	m.jobs[s.ID] = entryID
	m.schedules[s.ID] = &s

	m.logger.Info("Added schedule",
		zap.String("schedule_id", s.ID),
		zap.String("report_code", s.ReportCode),
		zap.String("cron", s.Cron),
		zap.String("description", DescribeCronExpression(s.Cron)))
	return nil
}

// RemoveSchedule removes a schedule from the manager
func (m *ScheduleManager) RemoveSchedule(scheduleID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entryID, ok := m.jobs[scheduleID]; ok {
		m.cron.Remove(entryID)
		delete(m.jobs, scheduleID)
		delete(m.schedules, scheduleID)
		m.logger.Info("Removed schedule", zap.String("schedule_id", scheduleID))
	}
}

// AddCacheSweep purges expired cache entries every interval
func (m *ScheduleManager) AddCacheSweep(interval time.Duration, sweeper Sweeper) error {
	if interval <= 0 {
		return fmt.Errorf("sweep interval must be positive")
	}
	_, err := m.cron.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		if n := sweeper.Sweep(); n > 0 {
			m.logger.Debug("Expired cache entries removed", zap.Int("count", n))
		}
	})
	if err != nil {
		return fmt.Errorf("failed to add cache sweep: %w", err)
	}
	return nil
}

// RunNow executes a registered schedule immediately
func (m *ScheduleManager) RunNow(ctx context.Context, scheduleID string) (*ExecutionResult, error) {
	m.mu.RLock()
	s, ok := m.schedules[scheduleID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("schedule %s not found", scheduleID)
	}
	return m.executor.Execute(ctx, executionRequest(s))
}

func executionRequest(s *Schedule) *ExecutionRequest {
	return &ExecutionRequest{
		ScheduleID: s.ID,
		ReportCode: s.ReportCode,
		Format:     s.Format,
		Params:     s.Params,
		WebhookURL: s.WebhookURL,
	}
}

// executeSchedule executes a single scheduled report
func (m *ScheduleManager) executeSchedule(ctx context.Context, schedule *Schedule) {
	m.logger.Info("Executing scheduled report",
		zap.String("schedule_id", schedule.ID),
		zap.String("report_code", schedule.ReportCode))

	result, err := m.executor.Execute(ctx, executionRequest(schedule))
	if err != nil {
		m.logger.Error("Failed to execute scheduled report",
			zap.String("schedule_id", schedule.ID),
			zap.Error(err))
		return
	}

	m.logger.Info("Scheduled report execution completed",
		zap.String("schedule_id", schedule.ID),
		zap.String("execution_id", result.ExecutionID.String()),
		zap.String("delivery", result.DeliveryStatus))
}

// GetActiveJobs returns the number of registered schedules
func (m *ScheduleManager) GetActiveJobs() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.jobs)
}

// GetJobStatus returns the status of a scheduled job
func (m *ScheduleManager) GetJobStatus(scheduleID string) (*JobStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entryID, ok := m.jobs[scheduleID]
	if !ok {
		return nil, fmt.Errorf("job not found")
	}

	entry := m.cron.Entry(entryID)
	return &JobStatus{
		ScheduleID: scheduleID,
		ReportCode: m.schedules[scheduleID].ReportCode,
		NextRun:    entry.Next,
		PrevRun:    entry.Prev,
	}, nil
}

// NextRun returns the first activation of expr after from, in timezone
func NextRun(expr, timezone string, from time.Time) (time.Time, error) {
	loc := time.UTC
	if timezone != "" {
		l, err := time.LoadLocation(timezone)
		if err != nil {
			return time.Time{}, err
		}
		loc = l
	}
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	return schedule.Next(from.In(loc)), nil
}

// ValidateCronExpression validates a five-field cron expression or descriptor
func ValidateCronExpression(expr string) error {
	_, err := cronParser.Parse(expr)
	return err
}

// DescribeCronExpression returns a human-readable description of a cron expression
func DescribeCronExpression(expr string) string {
	switch expr {
	case "0 * * * *", "@hourly":
		return "Every hour"
	case "0 0 * * *", "@daily", "@midnight":
		return "Every day at midnight"
	case "0 0 * * 0", "@weekly":
		return "Every Sunday at midnight"
	case "0 0 1 * *", "@monthly":
		return "First day of every month at midnight"
	case "0 9 * * 1-5":
		return "Every weekday at 9:00 AM"
	default:
		return expr
	}
}
