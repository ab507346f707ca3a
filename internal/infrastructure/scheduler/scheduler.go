package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Logger is the structured subset of *zap.SugaredLogger the scheduler needs.
type Logger interface {
	Debugw(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
}

type Option func(*Scheduler)

func WithLogger(l Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) { s.loc = loc }
}

// Scheduler keeps at most one recurring job per key. Registering a key that
// already exists replaces the previous job.
type Scheduler struct {
	cron   *cron.Cron
	parser cron.Parser
	log    Logger
	loc    *time.Location

	mu      sync.Mutex
	entries map[string]cron.EntryID
	// guards outlive entries so a replaced job's in-flight run still
	// blocks the first firing of its replacement.
	guards map[string]*sync.Mutex
}

func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		// 5- or 6-field specs plus descriptors such as "@every 5m".
		parser:  cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		log:     zap.NewNop().Sugar(),
		loc:     time.Local,
		entries: make(map[string]cron.EntryID),
		guards:  make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}

	cl := cronLogger{s.log}
	s.cron = cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(s.loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl)),
	)
	return s
}

// Validate reports whether spec is accepted by the trigger parser.
func (s *Scheduler) Validate(spec string) error {
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return nil
}

// Schedule registers job under key, cancelling any job already registered
// for it. A firing is skipped while the previous run for the same key is
// still in progress.
func (s *Scheduler) Schedule(key, spec string, job func(context.Context) error) error {
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.entries[key]; ok {
		s.cron.Remove(old)
		delete(s.entries, key)
	}

	guard, ok := s.guards[key]
	if !ok {
		guard = &sync.Mutex{}
		s.guards[key] = guard
	}

	id := s.cron.Schedule(sched, cron.FuncJob(func() {
		if !guard.TryLock() {
			s.log.Warnw("previous run still in progress, skipping", "job", key)
			return
		}
		defer guard.Unlock()

		if err := job(context.Background()); err != nil {
			s.log.Errorw("job failed", "job", key, "error", err)
		}
	}))
	s.entries[key] = id
	return nil
}

// Cancel removes the job for key. A run already in progress is not
// interrupted.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.entries[key]
	if !ok {
		return false
	}
	s.cron.Remove(id)
	delete(s.entries, key)
	return true
}

func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, id := range s.entries {
		s.cron.Remove(id)
		delete(s.entries, key)
	}
}

func (s *Scheduler) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	return ok
}

func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Next returns the next activation of key. It is zero before Start.
func (s *Scheduler) Next(key string) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.entries[key]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(id).Next, true
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts triggering and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// cronLogger routes robfig/cron's chatter to the scheduler logger.
type cronLogger struct {
	log Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
