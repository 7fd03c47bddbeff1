package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
)

// jobEntry is one registered maintenance job with its runtime state.
type jobEntry struct {
	name        string
	schedule    string
	description string
	handler     func() error
	enabled     bool
	cronID      cron.EntryID
	lastRun     *time.Time
	isRunning   bool
	lastError   string
}

// JobStatus is the observable state of one job, surfaced by the status
// endpoint.
type JobStatus struct {
	Name        string     `json:"name"`
	Schedule    string     `json:"schedule"`
	Description string     `json:"description"`
	Enabled     bool       `json:"enabled"`
	IsRunning   bool       `json:"is_running"`
	LastRun     *time.Time `json:"last_run,omitempty"`
	NextRun     *time.Time `json:"next_run,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}

// Service runs registered maintenance jobs on cron schedules. One job never
// runs concurrently with itself; distinct jobs may overlap.
type Service struct {
	cron    *cron.Cron
	logger  arbor.ILogger
	jobMu   sync.Mutex
	jobs    map[string]*jobEntry
	running bool
}

func NewService(logger arbor.ILogger) *Service {
	return &Service{
		cron:   cron.New(),
		logger: logger,
		jobs:   make(map[string]*jobEntry),
	}
}

// RegisterJob adds a named job on the given cron schedule. Registration
// before or after Start both work; the schedule takes effect immediately.
func (s *Service) RegisterJob(name, schedule, description string, handler func() error) error {
	if name == "" || handler == nil {
		return fmt.Errorf("job name and handler are required")
	}

	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %s already registered", name)
	}

	entry := &jobEntry{
		name:        name,
		schedule:    schedule,
		description: description,
		handler:     handler,
		enabled:     true,
	}

	cronID, err := s.cron.AddFunc(schedule, func() { s.executeJob(name) })
	if err != nil {
		return fmt.Errorf("invalid schedule %q for job %s: %w", schedule, name, err)
	}

	entry.cronID = cronID
	s.jobs[name] = entry

	s.logger.Info().
		Str("job_name", name).
		Str("schedule", schedule).
		Msg("Maintenance job registered")
	return nil
}

// Start begins schedule evaluation.
func (s *Service) Start() error {
	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	s.cron.Start()
	s.running = true

	s.jobMu.Lock()
	count := len(s.jobs)
	s.jobMu.Unlock()

	s.logger.Info().Int("jobs", count).Msg("Scheduler started")
	return nil
}

// Stop halts schedule evaluation and waits for in-flight jobs to return.
func (s *Service) Stop() {
	if !s.running {
		return
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.running = false
	s.logger.Info().Msg("Scheduler stopped")
}

// IsRunning reports whether schedules are being evaluated.
func (s *Service) IsRunning() bool {
	return s.running
}

// RunJobNow triggers one job outside its schedule. Used by operators; the
// same no-self-overlap rule applies.
func (s *Service) RunJobNow(name string) error {
	s.jobMu.Lock()
	_, exists := s.jobs[name]
	s.jobMu.Unlock()
	if !exists {
		return fmt.Errorf("job %s not found", name)
	}

	go s.executeJob(name)
	return nil
}

// JobStatuses snapshots all registered jobs for observability.
func (s *Service) JobStatuses() []JobStatus {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	entries := s.cron.Entries()
	statuses := make([]JobStatus, 0, len(s.jobs))
	for _, entry := range s.jobs {
		status := JobStatus{
			Name:        entry.name,
			Schedule:    entry.schedule,
			Description: entry.description,
			Enabled:     entry.enabled,
			IsRunning:   entry.isRunning,
			LastRun:     entry.lastRun,
			LastError:   entry.lastError,
		}
		for _, ce := range entries {
			if ce.ID == entry.cronID {
				next := ce.Next
				status.NextRun = &next
				break
			}
		}
		statuses = append(statuses, status)
	}
	return statuses
}

// executeJob runs one job with panic recovery and self-overlap protection.
func (s *Service) executeJob(name string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("job_name", name).
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("Panic recovered in maintenance job")

			s.jobMu.Lock()
			if entry, exists := s.jobs[name]; exists {
				entry.isRunning = false
				entry.lastError = fmt.Sprintf("panic: %v", r)
			}
			s.jobMu.Unlock()
		}
	}()

	s.jobMu.Lock()
	entry, exists := s.jobs[name]
	if !exists {
		s.jobMu.Unlock()
		return
	}
	if entry.isRunning {
		s.jobMu.Unlock()
		s.logger.Warn().Str("job_name", name).Msg("Job still running, skipping this tick")
		return
	}
	entry.isRunning = true
	handler := entry.handler
	s.jobMu.Unlock()

	start := time.Now()
	err := handler()

	completed := time.Now()
	s.jobMu.Lock()
	entry.isRunning = false
	entry.lastRun = &completed
	if err != nil {
		entry.lastError = err.Error()
	} else {
		entry.lastError = ""
	}
	s.jobMu.Unlock()

	if err != nil {
		s.logger.Warn().
			Str("job_name", name).
			Err(err).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Msg("Maintenance job failed")
		return
	}
	s.logger.Debug().
		Str("job_name", name).
		Int64("duration_ms", time.Since(start).Milliseconds()).
		Msg("Maintenance job completed")
}
