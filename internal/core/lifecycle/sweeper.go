package lifecycle

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultSweepInterval = 5 * time.Minute
	DefaultRetention     = 24 * time.Hour
	sweepTimeout         = 15 * time.Second
)

// SweepRecorder is told about every test the sweeper expires.
type SweepRecorder interface {
	TestTimedOut(ctx context.Context, testID, reason string)
}

// SweepObserver receives the outcome of each sweep pass.
type SweepObserver interface {
	ObserveSweep(expired int, purged int64)
}

// SweepResult is what one sweep pass changed.
type SweepResult struct {
	Expired []string
	Purged  int64
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithInterval sets how often the sweeper runs.
func WithInterval(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithRetention sets the age after which tests are purged. Zero disables purging.
func WithRetention(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d >= 0 {
			s.retention = d
		}
	}
}

// WithRecorder routes expirations to the event log.
func WithRecorder(r SweepRecorder) SweeperOption {
	return func(s *Sweeper) { s.recorder = r }
}

// WithObserver routes pass totals to metrics.
func WithObserver(o SweepObserver) SweeperOption {
	return func(s *Sweeper) { s.observer = o }
}

// WithSweepLogger sets the logger.
func WithSweepLogger(log *zap.Logger) SweeperOption {
	return func(s *Sweeper) {
		if log != nil {
			s.log = log
		}
	}
}

// Sweeper periodically expires overdue tests and purges old ones.
type Sweeper struct {
	store     *Store
	interval  time.Duration
	retention time.Duration
	recorder  SweepRecorder
	observer  SweepObserver
	log       *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper creates a sweeper over store.
func NewSweeper(store *Store, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		store:     store,
		interval:  DefaultSweepInterval,
		retention: DefaultRetention,
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(zap.String("component", "sweeper"))
	return s
}

// Start launches the sweep loop. It is a no-op while already running.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		s.log.Debug("sweeper already running")
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx, s.done)
}

// Stop ends the loop and waits for an in-flight pass to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Sweeper) run(ctx context.Context, done chan struct{}) {
	defer func() {
		// A cancelled parent ctx ends the loop without Stop; clear the
		// handle so a later Start can run again.
		s.mu.Lock()
		if s.done == done {
			s.cancel()
			s.cancel, s.done = nil, nil
		}
		s.mu.Unlock()
		close(done)
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info("sweeper started", zap.Duration("interval", s.interval), zap.Duration("retention", s.retention))
	for {
		select {
		case <-ctx.Done():
			s.log.Info("sweeper stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single pass. Failures are logged, never returned.
func (s *Sweeper) RunOnce(parent context.Context) SweepResult {
	timeout := sweepTimeout
	if s.interval < timeout {
		timeout = s.interval
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	now := s.store.now()
	var res SweepResult

	expired, err := s.store.ExpireOverdue(ctx, now)
	if err != nil {
		s.log.Warn("failed to expire overdue tests", zap.Error(err))
	}
	res.Expired = expired
	if s.recorder != nil {
		for _, id := range expired {
			s.recorder.TestTimedOut(ctx, id, SweepReason)
		}
	}

	if s.retention > 0 {
		purged, err := s.store.PurgeOlderThan(ctx, now.Add(-s.retention))
		if err != nil {
			s.log.Warn("failed to purge old tests", zap.Error(err))
		}
		res.Purged = purged
	}

	if s.observer != nil {
		s.observer.ObserveSweep(len(res.Expired), res.Purged)
	}
	if len(res.Expired) > 0 || res.Purged > 0 {
		s.log.Info("sweep finished",
			zap.Int("expired", len(res.Expired)),
			zap.Int64("purged", res.Purged))
	}
	return res
}
