package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/pillbox/internal/model"
	"github.com/google/uuid"
)

// followUp is a registry entry for an outstanding reminder.
type followUp struct {
	token string
	timer Timer
	fired bool
}

// Lifecycle owns the reminder state machine for every medication:
// Idle -> Sent -> FollowUpPending -> Resolved (-> Idle). The persisted
// active reminder token marks a medication as outstanding; whether the
// follow-up has fired is kept in the timer registry.
//
// Transitions for one medication are serialized by a per-medication lock and
// always re-read the record before writing.
type Lifecycle struct {
	store    MedicationStore
	notifier Notifier
	cfg      Config
	logger   *slog.Logger

	locks keyedMutex

	ctx     context.Context
	stopCtx context.CancelFunc

	mu       sync.Mutex
	pending  map[string]*followUp
	stopped  bool
	inflight sync.WaitGroup
}

// NewLifecycle creates the lifecycle. Call Stop to disarm all timers.
func NewLifecycle(store MedicationStore, notifier Notifier, cfg Config, logger *slog.Logger) *Lifecycle {
	ctx, cancel := context.WithCancel(context.Background())
	return &Lifecycle{
		store:    store,
		notifier: notifier,
		cfg:      cfg.withDefaults(),
		logger:   logger,
		ctx:      ctx,
		stopCtx:  cancel,
		pending:  make(map[string]*followUp),
	}
}

// Send issues a reminder for the medication if it is still due at now.
// It reports whether a reminder was issued.
func (l *Lifecycle) Send(ctx context.Context, id string, now time.Time) bool {
	unlock := l.locks.Lock(id)
	defer unlock()

	med, err := l.store.Get(id)
	if err != nil {
		l.logger.Error("load medication for reminder", "medication_id", id, "error", err)
		return false
	}
	if med == nil {
		l.logger.Debug("medication removed before reminder", "medication_id", id)
		return false
	}
	now = now.In(l.cfg.Location)
	if !IsDue(*med, Clock(now), now) {
		return false
	}

	token := l.deliverReminder(ctx, *med)

	ok, err := l.store.Update(id, model.MedicationUpdate{
		ActiveReminder: &token,
		ReminderSentAt: &now,
	})
	if err != nil {
		l.logger.Error("mark reminder active", "medication_id", id, "error", err)
		return false
	}
	if !ok {
		l.logger.Info("medication removed while reminding", "medication_id", id)
		return false
	}

	l.arm(id, token, l.cfg.FollowUpDelay)
	l.logger.Info("reminder sent", "medication_id", id, "name", med.Name, "token", token)
	l.cfg.OnEvent(Event{Action: EventReminded, MedicationID: id})
	return true
}

// deliverReminder sends to every recipient and returns the first delivery
// token. If no delivery succeeded the reminder still counts as issued and a
// local token is returned.
func (l *Lifecycle) deliverReminder(ctx context.Context, med model.Medication) string {
	var token string
	for _, userID := range l.cfg.Recipients {
		dctx, cancel := context.WithTimeout(ctx, l.cfg.DeliveryTimeout)
		t, err := l.notifier.SendReminder(dctx, userID, med)
		cancel()
		if err != nil {
			derr := &DeliveryError{UserID: userID, MedicationID: med.ID, Err: err}
			l.logger.Warn("reminder delivery failed", "error", derr)
			continue
		}
		if token == "" {
			token = t
		}
	}
	if token == "" {
		token = uuid.NewString()
	}
	return token
}

func (l *Lifecycle) arm(id, token string, d time.Duration) {
	if d < 0 {
		d = 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopped {
		return
	}
	if prev, ok := l.pending[id]; ok {
		prev.timer.Stop()
	}
	fu := &followUp{token: token}
	l.pending[id] = fu
	fu.timer = l.cfg.AfterFunc(d, func() { l.followUp(id, token) })
}

// followUp runs when a follow-up timer fires. It is a no-op unless the same
// reminder is still outstanding in the store.
func (l *Lifecycle) followUp(id, token string) {
	l.mu.Lock()
	fu, ok := l.pending[id]
	if l.stopped || !ok || fu.token != token || fu.fired {
		l.mu.Unlock()
		return
	}
	fu.fired = true
	l.inflight.Add(1)
	l.mu.Unlock()
	defer l.inflight.Done()

	unlock := l.locks.Lock(id)
	defer unlock()

	med, err := l.store.Get(id)
	if err != nil {
		l.logger.Error("load medication for follow-up", "medication_id", id, "error", err)
		return
	}
	if med == nil || med.ActiveReminder == nil || *med.ActiveReminder != token || med.FollowUpSentAt != nil {
		l.drop(id, token)
		return
	}

	for _, userID := range l.cfg.Recipients {
		ctx, cancel := context.WithTimeout(l.ctx, l.cfg.DeliveryTimeout)
		err := l.notifier.SendFollowUp(ctx, userID, *med)
		cancel()
		if err != nil {
			derr := &DeliveryError{UserID: userID, MedicationID: id, Err: err}
			l.logger.Warn("follow-up delivery failed", "error", derr)
		}
	}

	sentAt := l.cfg.Now()
	if _, err := l.store.Update(id, model.MedicationUpdate{FollowUpSentAt: &sentAt}); err != nil {
		l.logger.Error("mark follow-up sent", "medication_id", id, "error", err)
	}

	l.logger.Info("follow-up sent", "medication_id", id, "name", med.Name)
	l.cfg.OnEvent(Event{Action: EventFollowUp, MedicationID: id})
}

// Resolve records a user response. Unknown medications are ignored. Calling
// it again for the same medication re-applies the same fields.
func (l *Lifecycle) Resolve(id string, action model.Action) error {
	if !action.Valid() {
		return fmt.Errorf("unknown action %q", action)
	}

	unlock := l.locks.Lock(id)
	defer unlock()

	l.cancel(id)

	med, err := l.store.Get(id)
	if err != nil {
		l.logger.Error("load medication for response", "medication_id", id, "error", err)
		return nil
	}
	if med == nil {
		l.logger.Info("response for unknown medication", "medication_id", id, "action", string(action))
		return nil
	}

	var (
		u     model.MedicationUpdate
		event string
	)
	switch action {
	case model.ActionTaken:
		now := l.cfg.Now()
		skipped := false
		u = model.MedicationUpdate{LastTaken: &now, SkippedToday: &skipped, ClearReminder: true}
		event = EventTaken
	case model.ActionSkip:
		skipped := true
		day := model.DateKey(l.cfg.Now().In(l.cfg.Location))
		u = model.MedicationUpdate{SkippedToday: &skipped, SkippedOn: day, ClearReminder: true}
		event = EventSkipped
	}

	ok, err := l.store.Update(id, u)
	if err != nil {
		l.logger.Error("record response", "medication_id", id, "action", string(action), "error", err)
		return nil
	}
	if !ok {
		return nil
	}

	l.logger.Info("reminder resolved", "medication_id", id, "action", string(action))
	l.cfg.OnEvent(Event{Action: event, MedicationID: id})
	return nil
}

// Forget disarms any follow-up for a medication that is being removed.
func (l *Lifecycle) Forget(id string) {
	unlock := l.locks.Lock(id)
	defer unlock()
	l.cancel(id)
}

func (l *Lifecycle) cancel(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if fu, ok := l.pending[id]; ok {
		fu.timer.Stop()
		delete(l.pending, id)
	}
}

func (l *Lifecycle) drop(id, token string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if fu, ok := l.pending[id]; ok && fu.token == token {
		delete(l.pending, id)
	}
}

// State returns the reminder state of a medication, combining the persisted
// token with the in-memory follow-up flag.
func (l *Lifecycle) State(id string) model.ReminderState {
	med, err := l.store.Get(id)
	if err != nil || med == nil {
		return model.Idle{}
	}
	st := med.State()
	out, ok := st.(model.Outstanding)
	if !ok {
		return st
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if fu, ok := l.pending[id]; ok && fu.token == out.Token && fu.fired {
		out.FollowUpSent = true
	}
	return out
}

// Armed reports whether a follow-up timer is registered for the medication.
func (l *Lifecycle) Armed(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	fu, ok := l.pending[id]
	return ok && !fu.fired
}

// Reconcile restores follow-up timers after a restart. Reminders issued on
// an earlier date are cleared so the medication becomes due again. Reminders
// issued today get a timer for whatever remains of the follow-up delay,
// unless their follow-up was already sent.
func (l *Lifecycle) Reconcile(now time.Time) {
	meds, err := l.store.ListAll()
	if err != nil {
		l.logger.Error("list medications for reconcile", "error", err)
		return
	}

	now = now.In(l.cfg.Location)
	for _, m := range meds {
		if _, ok := m.State().(model.Outstanding); !ok {
			continue
		}
		l.reconcileOne(m.ID, now)
	}
}

func (l *Lifecycle) reconcileOne(id string, now time.Time) {
	unlock := l.locks.Lock(id)
	defer unlock()

	med, err := l.store.Get(id)
	if err != nil {
		l.logger.Error("load medication for reconcile", "medication_id", id, "error", err)
		return
	}
	if med == nil {
		return
	}
	out, ok := med.State().(model.Outstanding)
	if !ok {
		return
	}

	sentAt := med.ReminderSentAt
	if sentAt == nil || !model.SameDate(sentAt.In(l.cfg.Location), now) {
		if _, err := l.store.Update(id, model.MedicationUpdate{ClearReminder: true}); err != nil {
			l.logger.Error("clear stale reminder", "medication_id", id, "error", err)
			return
		}
		l.logger.Info("cleared stale reminder", "medication_id", id)
		return
	}

	if out.FollowUpSent {
		l.logger.Info("follow-up already sent, awaiting response", "medication_id", id)
		return
	}

	remaining := l.cfg.FollowUpDelay - now.Sub(*sentAt)
	l.arm(id, out.Token, remaining)
	l.logger.Info("re-armed follow-up", "medication_id", id, "in", remaining.Round(time.Second))
}

// Stop disarms every follow-up timer, aborts in-flight follow-up deliveries
// and waits for them to return.
func (l *Lifecycle) Stop() {
	l.mu.Lock()
	l.stopped = true
	for id, fu := range l.pending {
		fu.timer.Stop()
		delete(l.pending, id)
	}
	l.mu.Unlock()

	l.stopCtx()
	l.inflight.Wait()
}
