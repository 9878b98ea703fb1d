package schedule

import (
	"context"
	"time"
)

// Ticker fires once per period boundary (a minute in production) in a fixed
// location. The handler runs synchronously on the ticker goroutine, so ticks
// never overlap; boundaries that pass while the handler is still running are
// dropped, not queued. Missed boundaries are never replayed.
type Ticker struct {
	loc    *time.Location
	period time.Duration
	now    func() time.Time
}

func NewTicker(loc *time.Location, period time.Duration, now func() time.Time) *Ticker {
	if loc == nil {
		loc = time.UTC
	}
	if period <= 0 {
		period = time.Minute
	}
	if now == nil {
		now = time.Now
	}
	return &Ticker{loc: loc, period: period, now: now}
}

// Run blocks until ctx is cancelled, calling fn at each boundary with the
// current time in the ticker's location.
func (t *Ticker) Run(ctx context.Context, fn func(context.Context, time.Time)) {
	// The slot in progress when Run starts has already begun; only later
	// boundaries count.
	last := t.now().Truncate(t.period)

	for {
		now := t.now()
		next := now.Truncate(t.period).Add(t.period)

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		fired := t.now().In(t.loc)
		slot := fired.Truncate(t.period)
		if !slot.After(last) {
			// Woke before the boundary, or the wall clock stepped back.
			continue
		}
		last = slot

		fn(ctx, fired)
	}
}
