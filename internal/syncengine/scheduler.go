package syncengine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultMinInterval is the floor an interval is clamped to.
const DefaultMinInterval = 5 * time.Second

// Syncer runs one pass. Implemented by *Engine.
type Syncer interface {
	Sync(ctx context.Context, dir Direction) (*Report, error)
}

// State is the scheduler's lifecycle state.
type State string

const (
	StateIdle      State = "idle"
	StateScheduled State = "scheduled"
	StateRunning   State = "running"
)

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithMinInterval overrides the interval floor.
func WithMinInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		s.minInterval = d
	}
}

// WithPassHook registers a function called after every pass.
func WithPassHook(fn func(*Report, error)) SchedulerOption {
	return func(s *Scheduler) {
		s.onPass = fn
	}
}

// WithSchedulerLogger sets the scheduler's logger.
func WithSchedulerLogger(l *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		s.logger = l
	}
}

// Scheduler invokes a Syncer at a fixed interval without overlapping passes.
//
// State machine:
//
//	Idle -> Scheduled (Start) -> Running (tick) -> Scheduled (pass done) -> ... -> Idle (Stop)
//
// A tick that fires while a pass is running is dropped, not queued.
// Stop cancels future ticks and waits for an in-flight pass to finish;
// the pass itself is never cancelled.
type Scheduler struct {
	syncer      Syncer
	minInterval time.Duration
	onPass      func(*Report, error)
	logger      *slog.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	loopDone chan struct{}
	interval time.Duration

	running  atomic.Bool
	inflight sync.WaitGroup
	passes   atomic.Int64
	skipped  atomic.Int64
}

// NewScheduler creates an idle scheduler for syncer.
func NewScheduler(syncer Syncer, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		syncer:      syncer,
		minInterval: DefaultMinInterval,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins periodic passes at interval, clamped to the floor. The first
// pass starts immediately. Calling Start again replaces the schedule.
// Returns the effective interval.
//
// Cancelling ctx stops future ticks like Stop does, without waiting for an
// in-flight pass; the scheduler then returns to Idle.
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) time.Duration {
	if interval < s.minInterval {
		s.logger.Info("sync interval clamped", "requested", interval, "interval", s.minInterval)
		interval = s.minInterval
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLoopLocked()

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.loopDone = done
	s.interval = interval

	passCtx := context.WithoutCancel(ctx)
	go s.loop(loopCtx, passCtx, interval, done)

	s.logger.Info("sync scheduled", "interval", interval)
	return interval
}

// Stop cancels the schedule and waits for any in-flight pass.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopLoopLocked()
	s.mu.Unlock()

	s.inflight.Wait()
}

// stopLoopLocked cancels the tick loop and waits for it to exit.
// In-flight passes are left running. Callers hold s.mu.
func (s *Scheduler) stopLoopLocked() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.loopDone
	s.cancel = nil
	s.loopDone = nil
	s.interval = 0
}

// State reports the scheduler's lifecycle state.
func (s *Scheduler) State() State {
	if s.running.Load() {
		return StateRunning
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return StateScheduled
	}
	return StateIdle
}

// Interval returns the effective interval, or zero when idle.
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Passes returns the number of passes started.
func (s *Scheduler) Passes() int64 {
	return s.passes.Load()
}

// Skipped returns the number of ticks dropped because a pass was running.
func (s *Scheduler) Skipped() int64 {
	return s.skipped.Load()
}

func (s *Scheduler) loop(loopCtx, passCtx context.Context, interval time.Duration, done chan struct{}) {
	defer s.release(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.tick(passCtx)
	for {
		select {
		case <-loopCtx.Done():
			return
		case <-ticker.C:
			s.tick(passCtx)
		}
	}
}

// release marks the loop finished. When the loop ended because the Start
// context was cancelled, the schedule it owned is cleared so the scheduler
// reads as idle. done is closed before s.mu is taken; stopLoopLocked waits
// on it while holding s.mu.
func (s *Scheduler) release(done chan struct{}) {
	close(done)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loopDone != done {
		return
	}
	s.cancel()
	s.cancel = nil
	s.loopDone = nil
	s.interval = 0
}

// tick starts a pass unless one is already running.
func (s *Scheduler) tick(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		s.logger.Debug("sync pass still running, skipping tick")
		return
	}

	s.inflight.Add(1)
	s.passes.Add(1)
	go func() {
		defer s.inflight.Done()
		defer s.running.Store(false)

		report, err := s.syncer.Sync(ctx, "")
		if err != nil {
			s.logger.Error("sync pass failed", "error", err)
		}
		if s.onPass != nil {
			s.onPass(report, err)
		}
	}()
}
