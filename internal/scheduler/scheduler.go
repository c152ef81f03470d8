// Package scheduler runs the engine's periodic tasks, each on its own interval.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"alertengine/internal/logger"
	"alertengine/internal/telemetry"
)

// Task is one periodic unit of work.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context)
}

// Scheduler owns a cron runner. Overlapping runs of the same task are skipped
// and a panicking run is logged without taking the process down.
type Scheduler struct {
	cron       *cron.Cron
	chain      cron.Chain
	metrics    *telemetry.Metrics
	runOnStart bool

	mu      sync.Mutex
	tasks   []Task
	jobs    []cron.Job
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	wg      sync.WaitGroup
}

// New creates a scheduler. When runOnStart is set every task also runs once
// immediately on Start.
func New(metrics *telemetry.Metrics, runOnStart bool) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	log := cronLogger{}
	return &Scheduler{
		cron:       cron.New(cron.WithLogger(log)),
		chain:      cron.NewChain(cron.Recover(log), cron.SkipIfStillRunning(log)),
		metrics:    metrics,
		runOnStart: runOnStart,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Add registers a task. Tasks must be added before Start.
func (s *Scheduler) Add(task Task) error {
	if task.Run == nil {
		return fmt.Errorf("task %s has no run function", task.Name)
	}
	if task.Interval < time.Second {
		return fmt.Errorf("task %s interval %s is below one second", task.Name, task.Interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("scheduler already started")
	}

	// Scheduled and run-on-start invocations share one chain, so they also
	// share the skip guard.
	job := s.chain.Then(s.wrap(task))
	s.cron.Schedule(cron.Every(task.Interval), job)
	s.tasks = append(s.tasks, task)
	s.jobs = append(s.jobs, job)
	logger.Infof("Scheduled task %s every %s", task.Name, task.Interval)
	return nil
}

// Tasks returns the registered tasks.
func (s *Scheduler) Tasks() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Task(nil), s.tasks...)
}

// Start begins running tasks in the background.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()

	if s.runOnStart {
		for _, job := range s.jobs {
			job := job
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				job.Run()
			}()
		}
	}
}

// Stop prevents further runs, signals running tasks to wind down and waits
// for them until ctx expires.
func (s *Scheduler) Stop(ctx context.Context) error {
	stopped := s.cron.Stop()
	s.cancel()

	done := make(chan struct{})
	go func() {
		<-stopped.Done()
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Infof("Scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

func (s *Scheduler) wrap(task Task) cron.Job {
	return cron.FuncJob(func() {
		if s.ctx.Err() != nil {
			return
		}
		start := time.Now()
		task.Run(s.ctx)
		elapsed := time.Since(start)
		s.metrics.ObserveTask(task.Name, elapsed)
		logger.Debugf("Task %s finished in %s", task.Name, elapsed)
	})
}

type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.Debugf("cron: %s %v", msg, keysAndValues)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.Errorf("cron: %s: %v %v", msg, err, keysAndValues)
}
