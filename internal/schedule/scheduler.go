package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/pillbox/internal/model"
)

// Scheduler sweeps all medications once a minute and hands due ones to the
// lifecycle. The first tick of each calendar date, normally 00:00, first
// clears skips recorded on earlier dates.
type Scheduler struct {
	mu        sync.RWMutex
	resetDay  string
	store     MedicationStore
	lifecycle *Lifecycle
	cfg       Config
	ticker    *Ticker
	logger    *slog.Logger
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewScheduler creates a scheduler that drives lc from a minute ticker in
// cfg.Location.
func NewScheduler(store MedicationStore, lc *Lifecycle, cfg Config, logger *slog.Logger) *Scheduler {
	cfg = cfg.withDefaults()
	return &Scheduler{
		store:     store,
		lifecycle: lc,
		cfg:       cfg,
		ticker:    NewTicker(cfg.Location, time.Minute, cfg.Now),
		logger:    logger,
	}
}

// Start reconciles reminders left outstanding by a previous run, then begins
// the ticker loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.mu.Unlock()

	now := s.cfg.Now()
	s.lifecycle.Reconcile(now)
	s.resetSkipped(now.In(s.cfg.Location))
	s.logger.Info("scheduler started", "timezone", s.cfg.Location.String(), "recipients", len(s.cfg.Recipients))

	go func() {
		defer close(s.done)
		s.ticker.Run(ctx, s.Tick)
	}()
}

// Stop stops the ticker loop and waits for the current tick to finish.
func (s *Scheduler) Stop() {
	s.mu.RLock()
	cancel := s.cancel
	done := s.done
	s.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Tick runs one sweep for the minute containing now. Each due medication is
// processed on its own goroutine; Tick returns when all of them are done.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	now = now.In(s.cfg.Location)
	clock := Clock(now)

	s.resetSkipped(now)

	meds, err := s.store.ListAll()
	if err != nil {
		s.logger.Error("list medications, skipping sweep", "clock", clock, "error", err)
		return
	}

	var wg sync.WaitGroup
	for _, m := range meds {
		if !IsDue(m, clock, now) {
			continue
		}
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			s.lifecycle.Send(ctx, id, now)
		}(m.ID)
	}
	wg.Wait()
}

// resetSkipped runs once per calendar date. A failed reset is retried on
// the next tick.
func (s *Scheduler) resetSkipped(now time.Time) {
	day := model.DateKey(now)
	s.mu.RLock()
	done := s.resetDay == day
	s.mu.RUnlock()
	if done {
		return
	}

	n, err := s.store.ResetSkipped(day)
	if err != nil {
		s.logger.Error("reset skipped medications", "date", day, "error", err)
		return
	}

	s.mu.Lock()
	s.resetDay = day
	s.mu.Unlock()

	if n > 0 {
		s.logger.Info("reset skipped medications", "date", day, "count", n)
		s.cfg.OnEvent(Event{Action: EventReset})
	}
}
