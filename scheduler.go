package alloy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"
)

// Job is a periodic agent run. Every sets a fixed interval; Cron, when
// non-empty, takes precedence and is evaluated as a standard cron
// expression. OnResult receives each run's outcome.
type Job struct {
	Name      string
	Every     time.Duration
	Cron      string
	Prompt    string
	Provider  Provider
	AgentOpts []AgentOption
	OnResult  func(Result, error)
}

type scheduledJob struct {
	job        Job
	generation int64
	timer      *time.Timer
	running    bool
}

// Scheduler runs jobs periodically with overlap protection: a tick that
// lands while the previous run is still going is skipped and rescheduled.
// Each job name carries a monotonic generation counter so results of runs
// that outlive a RemoveJob or re-AddJob are dropped silently.
type Scheduler struct {
	logger *slog.Logger
	cron   *gronx.Gronx

	mu      sync.Mutex
	jobs    map[string]*scheduledJob
	nextGen int64
	stopped bool
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// SchedulerLogger sets the structured logger.
func SchedulerLogger(l *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewScheduler creates an empty Scheduler.
func NewScheduler(opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		logger: nopLogger,
		cron:   gronx.New(),
		jobs:   make(map[string]*scheduledJob),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddJob registers a job and schedules its first tick. Re-adding a name
// replaces the job under a new generation; a still-running old run's result
// is dropped when it completes.
func (s *Scheduler) AddJob(job Job) error {
	if job.Name == "" {
		return fmt.Errorf("job name required")
	}
	if job.Provider == nil {
		return fmt.Errorf("job %q: provider required", job.Name)
	}
	if job.Cron != "" {
		if !s.cron.IsValid(job.Cron) {
			return fmt.Errorf("job %q: invalid cron expression %q", job.Name, job.Cron)
		}
	} else if job.Every <= 0 {
		return fmt.Errorf("job %q: interval or cron expression required", job.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return fmt.Errorf("scheduler stopped")
	}
	if old, ok := s.jobs[job.Name]; ok && old.timer != nil {
		old.timer.Stop()
	}
	s.nextGen++
	sj := &scheduledJob{job: job, generation: s.nextGen}
	s.jobs[job.Name] = sj
	s.scheduleLocked(sj)
	s.logger.Info("job added", "job", job.Name, "generation", sj.generation)
	return nil
}

// RemoveJob cancels the pending timer and forgets the job. A concurrently
// running run's result is dropped by the generation check.
func (s *Scheduler) RemoveJob(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sj, ok := s.jobs[name]; ok {
		if sj.timer != nil {
			sj.timer.Stop()
		}
		delete(s.jobs, name)
		s.logger.Info("job removed", "job", name)
	}
}

// Trigger runs the named job immediately. Returns ErrAlreadyRunning when a
// run is in flight and ErrUnknownRequest-like error for unknown names.
func (s *Scheduler) Trigger(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sj, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}
	if sj.running {
		return ErrAlreadyRunning
	}
	sj.running = true
	go s.runJob(sj.job, sj.generation)
	return nil
}

// Stop cancels all timers. Running jobs finish but their results are
// dropped by the generation check once their entries are gone.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for name, sj := range s.jobs {
		if sj.timer != nil {
			sj.timer.Stop()
		}
		delete(s.jobs, name)
	}
}

// scheduleLocked arms the job's next tick. Caller holds s.mu.
func (s *Scheduler) scheduleLocked(sj *scheduledJob) {
	delay := sj.job.Every
	if sj.job.Cron != "" {
		next, err := gronx.NextTick(sj.job.Cron, false)
		if err != nil {
			s.logger.Warn("cron evaluation failed, job paused", "job", sj.job.Name, "error", err)
			return
		}
		delay = time.Until(next)
		if delay < 0 {
			delay = 0
		}
	}
	name, gen := sj.job.Name, sj.generation
	sj.timer = time.AfterFunc(delay, func() { s.tick(name, gen) })
}

// tick fires on the job's schedule: it always re-arms the next tick, then
// starts a run unless one is still in flight.
func (s *Scheduler) tick(name string, generation int64) {
	s.mu.Lock()
	sj, ok := s.jobs[name]
	if !ok || sj.generation != generation || s.stopped {
		s.mu.Unlock()
		return
	}
	s.scheduleLocked(sj)
	if sj.running {
		s.logger.Info("job still running, tick skipped", "job", name)
		s.mu.Unlock()
		return
	}
	sj.running = true
	job, gen := sj.job, sj.generation
	s.mu.Unlock()

	go s.runJob(job, gen)
}

// runJob performs one run and delivers the result unless the job was
// removed or replaced while it ran.
func (s *Scheduler) runJob(job Job, generation int64) {
	res, err := Run(context.Background(), job.Provider, job.Prompt, job.AgentOpts...)

	s.mu.Lock()
	sj, ok := s.jobs[job.Name]
	stale := !ok || sj.generation != generation
	if !stale {
		sj.running = false
	}
	s.mu.Unlock()

	if stale {
		s.logger.Debug("stale job result dropped", "job", job.Name, "generation", generation)
		return
	}
	if job.OnResult != nil {
		job.OnResult(res, err)
	}
}
