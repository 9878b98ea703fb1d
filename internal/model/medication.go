package model

import "time"

// MedicationType is the form a medication is taken in.
type MedicationType string

const (
	TypePill      MedicationType = "pill"
	TypeInjection MedicationType = "injection"
)

// Valid reports whether t is a known medication type.
func (t MedicationType) Valid() bool {
	return t == TypePill || t == TypeInjection
}

// Medication is a single scheduled medication owned by a user.
type Medication struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Dose           float64        `json:"dose"`
	Amount         int            `json:"amount"`
	Time           string         `json:"time"`
	Type           MedicationType `json:"type"`
	UserID         string         `json:"user_id"`
	LastTaken      *time.Time     `json:"last_taken,omitempty"`
	SkippedToday   bool           `json:"skipped_today"`
	SkippedOn      string         `json:"skipped_on,omitempty"`
	ActiveReminder *string        `json:"active_reminder,omitempty"`
	ReminderSentAt *time.Time     `json:"reminder_sent_at,omitempty"`
	FollowUpSentAt *time.Time     `json:"follow_up_sent_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// State returns the persisted view of the reminder state.
func (m Medication) State() ReminderState {
	if m.ActiveReminder == nil || *m.ActiveReminder == "" {
		return Idle{}
	}
	return Outstanding{Token: *m.ActiveReminder, FollowUpSent: m.FollowUpSentAt != nil}
}

// TakenOn reports whether the medication was last taken on the same calendar
// date as day, compared in day's location.
func (m Medication) TakenOn(day time.Time) bool {
	if m.LastTaken == nil {
		return false
	}
	return SameDate(m.LastTaken.In(day.Location()), day)
}

// SkippedOnDate reports whether the skip applies to day's calendar date. A
// skip recorded on an earlier date has expired even if the flag was never
// reset. A skip without a date counts until it is reset.
func (m Medication) SkippedOnDate(day time.Time) bool {
	if !m.SkippedToday {
		return false
	}
	return m.SkippedOn == "" || m.SkippedOn >= DateKey(day)
}

// DateKey formats t's calendar date as YYYY-MM-DD.
func DateKey(t time.Time) string {
	return t.Format(time.DateOnly)
}

// SameDate reports whether a and b fall on the same calendar date.
func SameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// MedicationUpdate carries the fields the scheduler mutates. Nil fields are
// left untouched. ClearReminder wins over ActiveReminder, which wins over
// FollowUpSentAt. Setting ActiveReminder starts a new cycle and clears the
// follow-up mark; clearing SkippedToday clears SkippedOn.
type MedicationUpdate struct {
	LastTaken      *time.Time
	SkippedToday   *bool
	SkippedOn      string
	ActiveReminder *string
	ReminderSentAt *time.Time
	FollowUpSentAt *time.Time
	ClearReminder  bool
}

// Action is a user response to an outstanding reminder.
type Action string

const (
	ActionTaken Action = "taken"
	ActionSkip  Action = "skip"
)

// Valid reports whether a is a known response action.
func (a Action) Valid() bool {
	return a == ActionTaken || a == ActionSkip
}
