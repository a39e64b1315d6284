package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tracyhatemice/mailbot/internal/state"
)

// DefaultWorkers bounds how many users are swept at once.
const DefaultWorkers = 4

// Summary aggregates the results of a sweep.
type Summary struct {
	Users       int
	Addresses   int
	Messages    int
	Attachments int
}

func (s *Summary) add(o Summary) {
	s.Users += o.Users
	s.Addresses += o.Addresses
	s.Messages += o.Messages
	s.Attachments += o.Attachments
}

// Scheduler sweeps every tracked address of every user, on a timer and on
// demand.
type Scheduler struct {
	registry *state.Registry
	poller   *Poller
	interval time.Duration
	workers  int
	logger   *slog.Logger

	sweeping sync.Mutex
}

// NewScheduler creates a Scheduler. A non-positive workers selects the
// default.
func NewScheduler(registry *state.Registry, poller *Poller, interval time.Duration, workers int, logger *slog.Logger) *Scheduler {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Scheduler{
		registry: registry,
		poller:   poller,
		interval: interval,
		workers:  workers,
		logger:   logger,
	}
}

// Run sweeps immediately, then on every tick until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("starting scheduler", "interval", s.interval, "workers", s.workers)

	s.SweepAll(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.SweepAll(ctx)
		}
	}
}

// SweepAll polls every address of every user. It returns false without doing
// anything if another SweepAll is still running.
func (s *Scheduler) SweepAll(ctx context.Context) (Summary, bool) {
	if !s.sweeping.TryLock() {
		s.logger.Warn("previous sweep still running, skipping this one")
		return Summary{}, false
	}
	defer s.sweeping.Unlock()

	sweepID := uuid.NewString()
	logger := s.logger.With("sweep_id", sweepID)
	start := time.Now()

	users := s.registry.Users()
	logger.Debug("sweep started", "users", len(users))

	jobs := make(chan state.UserID)
	results := make(chan Summary)

	var wg sync.WaitGroup
	for i := 0; i < min(s.workers, len(users)); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				results <- s.SweepUser(ctx, id)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, id := range users {
			select {
			case jobs <- id:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	var total Summary
	for r := range results {
		total.add(r)
	}

	logger.Info("sweep finished",
		"users", total.Users,
		"addresses", total.Addresses,
		"messages", total.Messages,
		"attachments", total.Attachments,
		"took", time.Since(start).Round(time.Millisecond),
	)
	return total, true
}

// SweepUser polls every address of one user while holding that user's lock.
func (s *Scheduler) SweepUser(ctx context.Context, user state.UserID) Summary {
	unlock := s.registry.LockUser(user)
	defer unlock()

	sum := Summary{Users: 1}
	for _, addr := range s.registry.Emails(user) {
		if ctx.Err() != nil {
			break
		}
		r := s.poller.Poll(ctx, user, addr)
		sum.Addresses++
		sum.Messages += r.Messages
		sum.Attachments += r.Attachments
	}
	return sum
}
