package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"iplfleet/services/fleet"
)

// Task is the work a scheduled job runs.
type Task func(ctx context.Context) error

// TargetSource lists the enabled fleet rows for bootstrap. *fleet.Repo
// satisfies this.
type TargetSource interface {
	Enabled(ctx context.Context) ([]fleet.Target, error)
}

type job struct {
	tag      string
	taskName string
	task     Task
	spec     Spec
	lastRun  time.Time
	nextRun  time.Time
}

// JobInfo is a read-only view of one registered job. Interval counts units
// between fires and is always 1 here (specs pin a single time of day), so
// Period is exactly one Unit.
type JobInfo struct {
	Tag      string        `json:"tag"`
	Task     string        `json:"task"`
	LastRun  *time.Time    `json:"last_run"`
	NextRun  time.Time     `json:"next_run"`
	Unit     string        `json:"unit"`
	Interval int           `json:"interval"`
	Period   time.Duration `json:"period"`
}

// Scheduler keeps a tag-keyed registry of recurring jobs and fires them
// from a once-per-second tick loop. Due jobs run on their own goroutine so
// a slow deployment never stalls the loop.
type Scheduler struct {
	log  zerolog.Logger
	now  func() time.Time
	tick time.Duration

	mu   sync.Mutex
	jobs []*job

	runMu   sync.Mutex
	running sync.WaitGroup
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates an empty scheduler.
func New(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		log:  log,
		now:  time.Now,
		tick: time.Second,
	}
}

// Schedule registers a job under tag. When cancelAll is set the whole
// registry is wiped first. Registering an existing tag does not replace the
// prior job for that tag; callers clear explicitly.
func (s *Scheduler) Schedule(tag, taskName string, spec Spec, task Task, cancelAll bool) error {
	if task == nil {
		return errors.New("task is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cancelAll {
		s.jobs = nil
	}
	s.jobs = append(s.jobs, &job{
		tag:      tag,
		taskName: taskName,
		task:     task,
		spec:     spec,
		nextRun:  spec.Next(s.now()),
	})
	return nil
}

// Clear removes jobs matching any of the given tags, or every job when no
// tag is given.
func (s *Scheduler) Clear(tags ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(tags) == 0 {
		s.jobs = nil
		return
	}

	keep := s.jobs[:0]
	for _, j := range s.jobs {
		matched := false
		for _, tag := range tags {
			if j.tag == tag {
				matched = true
				break
			}
		}
		if !matched {
			keep = append(keep, j)
		}
	}
	s.jobs = keep
}

// Jobs returns a snapshot of the registry.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]JobInfo, 0, len(s.jobs))
	for _, j := range s.jobs {
		info := JobInfo{
			Tag:      j.tag,
			Task:     j.taskName,
			NextRun:  j.nextRun,
			Unit:     j.spec.Unit(),
			Interval: 1,
			Period:   j.spec.Period(),
		}
		if !j.lastRun.IsZero() {
			last := j.lastRun
			info.LastRun = &last
		}
		infos = append(infos, info)
	}
	return infos
}

// Bootstrap registers one job per enabled target that carries a schedule.
// Malformed schedules are logged and skipped so one bad row cannot keep the
// rest of the fleet off the calendar.
func (s *Scheduler) Bootstrap(ctx context.Context, targets TargetSource, run func(ctx context.Context, target fleet.Target) error) error {
	if targets == nil {
		return errors.New("target source is required")
	}
	if run == nil {
		return errors.New("run func is required")
	}

	rows, err := targets.Enabled(ctx)
	if err != nil {
		return err
	}

	for _, target := range rows {
		if target.Schedule == nil || *target.Schedule == "" {
			continue
		}
		spec, err := ParseSpec(*target.Schedule)
		if err != nil {
			s.log.Warn().Err(err).Str("lpar", target.Lpar).Msg("skipping target with malformed schedule")
			continue
		}

		target := target
		task := func(ctx context.Context) error { return run(ctx, target) }
		if err := s.Schedule(target.Lpar, fmt.Sprintf("deploy %s", target.Hostname), spec, task, false); err != nil {
			return err
		}
	}
	return nil
}

// Start launches the tick loop. It returns immediately; the loop stops when
// ctx is cancelled or Close is called.
func (s *Scheduler) Start(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}

	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.done != nil {
		return errors.New("scheduler already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.tick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.fireDue(ctx)
			}
		}
	}()
	return nil
}

// Close stops the tick loop and waits for in-flight jobs to settle.
func (s *Scheduler) Close() error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.done == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.running.Wait()
	s.cancel = nil
	s.done = nil
	return nil
}

// fireDue launches every job whose nextRun has elapsed, recomputing its
// nextRun first so a long-running task cannot double-fire.
func (s *Scheduler) fireDue(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	var due []*job
	for _, j := range s.jobs {
		if !j.nextRun.After(now) {
			j.lastRun = now
			j.nextRun = j.spec.Next(now)
			due = append(due, j)
		}
	}
	s.mu.Unlock()

	for _, j := range due {
		s.running.Add(1)
		go func(j *job) {
			defer s.running.Done()
			if err := j.task(ctx); err != nil {
				s.log.Error().Err(err).Str("tag", j.tag).Str("task", j.taskName).Msg("scheduled task failed")
				return
			}
			s.log.Info().Str("tag", j.tag).Str("task", j.taskName).Msg("scheduled task completed")
		}(j)
	}
}
