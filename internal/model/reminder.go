package model

// ReminderState is either Idle or Outstanding. The unexported method keeps
// the set of variants closed to this package.
type ReminderState interface {
	reminderState()
}

// Idle means no reminder is outstanding for the medication.
type Idle struct{}

// Outstanding means a reminder was issued and has not been resolved.
// FollowUpSent distinguishes Sent from FollowUpPending.
type Outstanding struct {
	Token        string
	FollowUpSent bool
}

func (Idle) reminderState()        {}
func (Outstanding) reminderState() {}
