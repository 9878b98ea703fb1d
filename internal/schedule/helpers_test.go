package schedule

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/pillbox/internal/database"
	"github.com/dukerupert/pillbox/internal/model"
	"github.com/dukerupert/pillbox/internal/store"
)

var london = mustLoad("Europe/London")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// fakeTimers records armed timers and fires them on demand.
type fakeTimers struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	mu      sync.Mutex
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (ft *fakeTimers) AfterFunc(d time.Duration, f func()) Timer {
	t := &fakeTimer{d: d, f: f}
	ft.mu.Lock()
	ft.timers = append(ft.timers, t)
	ft.mu.Unlock()
	return t
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// FireAll runs every live timer synchronously and returns how many fired.
func (ft *fakeTimers) FireAll() int {
	ft.mu.Lock()
	timers := append([]*fakeTimer(nil), ft.timers...)
	ft.mu.Unlock()

	n := 0
	for _, t := range timers {
		t.mu.Lock()
		live := !t.stopped && !t.fired
		t.fired = t.fired || live
		t.mu.Unlock()
		if live {
			t.f()
			n++
		}
	}
	return n
}

func (ft *fakeTimers) Count() int {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return len(ft.timers)
}

func (ft *fakeTimers) Last() *fakeTimer {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	if len(ft.timers) == 0 {
		return nil
	}
	return ft.timers[len(ft.timers)-1]
}

// recordingNotifier records deliveries and can fail or block per recipient.
type recordingNotifier struct {
	mu        sync.Mutex
	reminders []string
	followUps []string
	failFor   map[string]bool
	block     map[string]chan struct{}
	seq       int
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{failFor: map[string]bool{}, block: map[string]chan struct{}{}}
}

var errUnreachable = errors.New("recipient unreachable")

func (n *recordingNotifier) SendReminder(ctx context.Context, userID string, med model.Medication) (string, error) {
	n.mu.Lock()
	wait := n.block[med.ID]
	n.mu.Unlock()
	if wait != nil {
		select {
		case <-wait:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failFor[userID] {
		return "", errUnreachable
	}
	n.seq++
	n.reminders = append(n.reminders, userID+":"+med.ID)
	return fmt.Sprintf("msg-%d", n.seq), nil
}

func (n *recordingNotifier) SendFollowUp(ctx context.Context, userID string, med model.Medication) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failFor[userID] {
		return errUnreachable
	}
	n.followUps = append(n.followUps, userID+":"+med.ID)
	return nil
}

func (n *recordingNotifier) Reminders() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.reminders...)
}

func (n *recordingNotifier) FollowUps() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.followUps...)
}

type testEnv struct {
	store     *store.MedicationStore
	notifier  *recordingNotifier
	timers    *fakeTimers
	lifecycle *Lifecycle
	scheduler *Scheduler
	events    *eventLog
	cfg       Config
	logger    *slog.Logger

	mu  sync.Mutex
	now time.Time
}

func (e *testEnv) Now() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.now
}

func (e *testEnv) SetNow(t time.Time) {
	e.mu.Lock()
	e.now = t
	e.mu.Unlock()
}

// TickAt moves the clock to t and runs one sweep.
func (e *testEnv) TickAt(t time.Time) {
	e.SetNow(t)
	e.scheduler.Tick(context.Background(), t)
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) record(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) Actions() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, ev := range l.events {
		out = append(out, ev.Action)
	}
	return out
}

func setupEnv(t *testing.T, recipients ...string) *testEnv {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if len(recipients) == 0 {
		recipients = []string{"alice", "bob"}
	}

	env := &testEnv{
		store:    store.NewMedicationStore(db),
		notifier: newRecordingNotifier(),
		timers:   &fakeTimers{},
		events:   &eventLog{},
		now:      time.Date(2026, 3, 10, 7, 0, 0, 0, london),
	}
	cfg := Config{
		Location:      london,
		Recipients:    recipients,
		FollowUpDelay: time.Hour,
		Now:           env.Now,
		AfterFunc:     env.timers.AfterFunc,
		OnEvent:       env.events.record,
	}
	env.cfg = cfg
	env.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	env.lifecycle = NewLifecycle(env.store, env.notifier, cfg, env.logger)
	env.scheduler = NewScheduler(env.store, env.lifecycle, cfg, env.logger)
	t.Cleanup(env.lifecycle.Stop)
	return env
}

// restart stops the running lifecycle and replaces it and the scheduler with
// fresh ones over the same store, as a process restart would.
func (e *testEnv) restart(t *testing.T) {
	t.Helper()
	e.lifecycle.Stop()
	e.lifecycle = NewLifecycle(e.store, e.notifier, e.cfg, e.logger)
	e.scheduler = NewScheduler(e.store, e.lifecycle, e.cfg, e.logger)
	t.Cleanup(e.lifecycle.Stop)
}

func (e *testEnv) addMedication(t *testing.T, name, clock string) *model.Medication {
	t.Helper()
	m, err := e.store.Create(model.Medication{
		Name:      name,
		Dose:      50,
		Amount:    1,
		Time:      clock,
		Type:      model.TypePill,
		UserID:    "alice",
		CreatedAt: e.Now(),
	})
	if err != nil {
		t.Fatalf("create medication: %v", err)
	}
	return m
}

func (e *testEnv) get(t *testing.T, id string) *model.Medication {
	t.Helper()
	m, err := e.store.Get(id)
	if err != nil {
		t.Fatalf("get medication: %v", err)
	}
	if m == nil {
		t.Fatalf("medication %s not found", id)
	}
	return m
}

func at(day, hour, minute int) time.Time {
	return time.Date(2026, 3, day, hour, minute, 0, 0, london)
}
