package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// SchedulerService runs the engine's background jobs (decay sweep, entity
// prune, digest delivery) on a shared clock. With Redis available, a
// per-run advisory lock keeps multi-instance deployments from running the
// same sweep twice.
type SchedulerService struct {
	scheduler  gocron.Scheduler
	redis      *RedisService // nil = single instance, no cross-instance dedup
	instanceID string
	mu         sync.RWMutex
	jobs       map[string]gocron.Job
	tasks      map[string]func(ctx context.Context) error
}

// NewSchedulerService creates a new scheduler service
func NewSchedulerService(redis *RedisService) (*SchedulerService, error) {
	scheduler, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	return &SchedulerService{
		scheduler:  scheduler,
		redis:      redis,
		instanceID: uuid.New().String(),
		jobs:       make(map[string]gocron.Job),
		tasks:      make(map[string]func(ctx context.Context) error),
	}, nil
}

// RegisterInterval registers a named job that runs on a fixed interval
func (s *SchedulerService) RegisterInterval(name string, every time.Duration, task func(ctx context.Context) error) error {
	if every <= 0 {
		return fmt.Errorf("interval for job %s must be positive", name)
	}

	job, err := s.scheduler.NewJob(
		gocron.DurationJob(every),
		gocron.NewTask(func() {
			s.runExclusive(name, task)
		}),
		gocron.WithName(name),
	)
	if err != nil {
		return fmt.Errorf("failed to register job %s: %w", name, err)
	}

	s.mu.Lock()
	s.jobs[name] = job
	s.tasks[name] = task
	s.mu.Unlock()

	log.Printf("📅 Registered job %s (every %s)", name, every)
	return nil
}

// RegisterCron registers a named job on a standard five-field cron
// expression, evaluated in UTC
func (s *SchedulerService) RegisterCron(name, expression string, task func(ctx context.Context) error) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(expression); err != nil {
		return fmt.Errorf("invalid cron expression for job %s: %w", name, err)
	}

	job, err := s.scheduler.NewJob(
		gocron.CronJob(expression, false),
		gocron.NewTask(func() {
			s.runExclusive(name, task)
		}),
		gocron.WithName(name),
	)
	if err != nil {
		return fmt.Errorf("failed to register job %s: %w", name, err)
	}

	s.mu.Lock()
	s.jobs[name] = job
	s.tasks[name] = task
	s.mu.Unlock()

	log.Printf("📅 Registered job %s (cron: %s)", name, expression)
	return nil
}

// Start starts the scheduler
func (s *SchedulerService) Start() {
	log.Println("⏰ Starting scheduler service...")
	s.scheduler.Start()
	log.Println("✅ Scheduler service started")
}

// Stop stops the scheduler
func (s *SchedulerService) Stop() error {
	log.Println("⏹️ Stopping scheduler service...")
	return s.scheduler.Shutdown()
}

// TriggerNow runs a registered job immediately, bypassing its schedule but
// not the cross-instance lock
func (s *SchedulerService) TriggerNow(name string) error {
	s.mu.RLock()
	task, exists := s.tasks[name]
	s.mu.RUnlock()

	if !exists {
		return fmt.Errorf("unknown job: %s", name)
	}

	go s.runExclusive(name, task)
	return nil
}

// JobNames returns the registered job names
func (s *SchedulerService) JobNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	return names
}

// runExclusive runs one job occurrence, deduplicated across instances.
// The lock key carries minute granularity so a retried schedule inside the
// same minute never double-runs.
func (s *SchedulerService) runExclusive(name string, task func(ctx context.Context) error) {
	ctx := context.Background()

	if s.redis != nil {
		lockKey := fmt.Sprintf("job-lock:%s:%d", name, time.Now().Unix()/60)

		acquired, err := s.redis.AcquireLock(ctx, lockKey, s.instanceID, 5*time.Minute)
		if err != nil {
			log.Printf("⚠️ Failed to acquire lock for job %s, running anyway: %v", name, err)
		} else if !acquired {
			log.Printf("⏭️ Job %s already running on another instance", name)
			return
		} else {
			defer func() {
				if _, err := s.redis.ReleaseLock(ctx, lockKey, s.instanceID); err != nil {
					log.Printf("⚠️ Failed to release lock for job %s: %v", name, err)
				}
			}()
		}
	}

	start := time.Now()
	if err := task(ctx); err != nil {
		log.Printf("❌ Job %s failed after %s: %v", name, time.Since(start).Round(time.Millisecond), err)
		return
	}
	log.Printf("✅ Job %s completed in %s", name, time.Since(start).Round(time.Millisecond))
}
