package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultErrorThreshold is how many consecutive task failures stop the
// scheduler.
const DefaultErrorThreshold = 5

// State is a point-in-time view of the scheduler.
type State struct {
	Running           bool          `json:"running"`
	Halted            bool          `json:"halted"`
	Interval          time.Duration `json:"interval"`
	NextRun           time.Time     `json:"next_run"`
	LastRun           time.Time     `json:"last_run"`
	RunCount          uint64        `json:"run_count"`
	ConsecutiveErrors int           `json:"consecutive_errors"`
	TotalErrors       uint64        `json:"total_errors"`
}

// Scheduler invokes a task on a fixed interval. Intervals of a minute or
// more are aligned to wall-clock minute boundaries so that analysis runs
// land just after each candle closes. A run of consecutive task failures
// reaching the error threshold halts the scheduler; a single success
// resets the streak.
type Scheduler struct {
	task   func(context.Context) error
	onHalt func(error)

	mu                sync.Mutex
	interval          time.Duration
	nextRun           time.Time
	lastRun           time.Time
	runCount          uint64
	consecutiveErrors int
	totalErrors       uint64
	running           bool
	halted            bool

	errorThreshold int
	pollInterval   time.Duration
	now            func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a stopped scheduler. onHalt may be nil; when set
// it is invoked once if the error threshold is reached.
func NewScheduler(interval time.Duration, task func(context.Context) error, onHalt func(error)) (*Scheduler, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("scheduler: interval must be positive, got %s", interval)
	}
	if task == nil {
		return nil, fmt.Errorf("scheduler: task is required")
	}
	return &Scheduler{
		task:           task,
		onHalt:         onHalt,
		interval:       interval,
		errorThreshold: DefaultErrorThreshold,
		pollInterval:   time.Second,
		now:            time.Now,
	}, nil
}

// Start begins the polling loop. Starting a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.halted = false
	s.consecutiveErrors = 0
	s.nextRun = nextRunAfter(s.now(), s.interval)
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	slog.Info("Scheduler started",
		slog.Duration("interval", s.interval),
		slog.Time("next_run", s.nextRun))

	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop halts the polling loop and waits for an in-flight run to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.running = false
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

// SetInterval changes the interval and recomputes the next run time.
func (s *Scheduler) SetInterval(interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("scheduler: interval must be positive, got %s", interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.interval = interval
	if s.running {
		s.nextRun = nextRunAfter(s.now(), interval)
	}
	slog.Info("Scheduler interval changed", slog.Duration("interval", interval))
	return nil
}

// Status returns the current scheduler state.
func (s *Scheduler) Status() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return State{
		Running:           s.running,
		Halted:            s.halted,
		Interval:          s.interval,
		NextRun:           s.nextRun,
		LastRun:           s.lastRun,
		RunCount:          s.runCount,
		ConsecutiveErrors: s.consecutiveErrors,
		TotalErrors:       s.totalErrors,
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		due := !s.now().Before(s.nextRun)
		s.mu.Unlock()
		if !due {
			continue
		}

		err := s.task(ctx)
		if ctx.Err() != nil {
			continue
		}

		s.mu.Lock()
		s.lastRun = s.now()
		s.runCount++
		if err != nil {
			s.consecutiveErrors++
			s.totalErrors++
			streak := s.consecutiveErrors
			s.mu.Unlock()

			slog.Error("Scheduled analysis failed",
				slog.Any("err", err),
				slog.Int("consecutive", streak))

			if streak >= s.errorThreshold {
				s.halt(fmt.Errorf("scheduler: %d consecutive failures, last: %w", streak, err))
				return
			}
		} else {
			s.consecutiveErrors = 0
			s.mu.Unlock()
		}

		s.mu.Lock()
		s.nextRun = nextRunAfter(s.now(), s.interval)
		s.mu.Unlock()
	}
}

func (s *Scheduler) halt(err error) {
	s.mu.Lock()
	s.halted = true
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	slog.Error("Scheduler halted", slog.Any("err", err))
	if cancel != nil {
		cancel()
	}
	if s.onHalt != nil {
		s.onHalt(err)
	}
}

// nextRunAfter computes the first run time strictly after now. Intervals
// of a minute or more are aligned to minute boundaries.
func nextRunAfter(now time.Time, interval time.Duration) time.Time {
	if interval < time.Minute {
		return now.Add(interval)
	}

	next := now.Truncate(time.Minute).Add(interval)
	for !next.After(now) {
		next = next.Add(interval)
	}
	return next
}
