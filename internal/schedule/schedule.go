// Package schedule runs the medication reminder engine: a minute ticker, the
// due-medication sweep, the per-medication reminder lifecycle with its
// follow-up timers, and the midnight reset of skipped flags.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/dukerupert/pillbox/internal/model"
)

// MedicationStore is the persistence the engine reads and mutates.
type MedicationStore interface {
	ListAll() ([]model.Medication, error)
	Get(id string) (*model.Medication, error)
	Update(id string, u model.MedicationUpdate) (bool, error)
	ResetSkipped(today string) (int64, error)
}

// Notifier delivers reminders to a single recipient.
type Notifier interface {
	// SendReminder returns a token identifying the delivered reminder.
	SendReminder(ctx context.Context, userID string, med model.Medication) (string, error)
	SendFollowUp(ctx context.Context, userID string, med model.Medication) error
}

// DeliveryError records a failed delivery to one recipient.
type DeliveryError struct {
	UserID       string
	MedicationID string
	Err          error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver medication %s to %s: %v", e.MedicationID, e.UserID, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Event actions emitted through Config.OnEvent.
const (
	EventReminded = "reminded"
	EventFollowUp = "follow_up"
	EventTaken    = "taken"
	EventSkipped  = "skipped"
	EventReset    = "reset"
)

// Event describes a reminder state change.
type Event struct {
	Action       string
	MedicationID string
}

// EventCallback is called after a state change has been persisted.
type EventCallback func(Event)

// Timer is a cancellable one-shot timer. *time.Timer satisfies it.
type Timer interface {
	Stop() bool
}

// AfterFunc arms a one-shot timer that calls f after d.
type AfterFunc func(d time.Duration, f func()) Timer

// Config is the fixed configuration shared by the ticker, the sweep and the
// lifecycle.
type Config struct {
	Location        *time.Location
	Recipients      []string
	FollowUpDelay   time.Duration
	DeliveryTimeout time.Duration

	// Now and AfterFunc default to the wall clock and time.AfterFunc.
	Now       func() time.Time
	AfterFunc AfterFunc
	OnEvent   EventCallback
}

const (
	DefaultFollowUpDelay   = time.Hour
	DefaultDeliveryTimeout = 15 * time.Second
)

func (c Config) withDefaults() Config {
	if c.Location == nil {
		c.Location = time.UTC
	}
	if c.FollowUpDelay <= 0 {
		c.FollowUpDelay = DefaultFollowUpDelay
	}
	if c.DeliveryTimeout <= 0 {
		c.DeliveryTimeout = DefaultDeliveryTimeout
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.AfterFunc == nil {
		c.AfterFunc = func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		}
	}
	if c.OnEvent == nil {
		c.OnEvent = func(Event) {}
	}
	c.Recipients = append([]string(nil), c.Recipients...)
	return c
}
