// Package notify combines delivery channels (web push, email) into the single
// notifier the reminder engine talks to, and holds the reminder wording they
// share.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukerupert/pillbox/internal/model"
)

// ErrNoChannel means the recipient cannot be reached on a channel, for
// example because they have no push subscription or no email address.
var ErrNoChannel = errors.New("recipient not reachable on channel")

// Channel delivers to one recipient over one transport.
type Channel interface {
	Name() string
	SendReminder(ctx context.Context, userID string, med model.Medication) (string, error)
	SendFollowUp(ctx context.Context, userID string, med model.Medication) error
}

// Fanout sends every message over all channels. A delivery succeeds if any
// channel succeeds.
type Fanout struct {
	channels []Channel
	logger   *slog.Logger
}

func NewFanout(logger *slog.Logger, channels ...Channel) *Fanout {
	return &Fanout{channels: channels, logger: logger}
}

// SendReminder returns the token of the first channel that delivered.
func (f *Fanout) SendReminder(ctx context.Context, userID string, med model.Medication) (string, error) {
	var (
		token string
		errs  []error
	)
	for _, ch := range f.channels {
		t, err := ch.SendReminder(ctx, userID, med)
		if err != nil {
			errs = append(errs, f.channelError(ch, userID, err))
			continue
		}
		if token == "" {
			token = ch.Name() + ":" + t
		}
	}
	if token == "" {
		return "", joinErrors(errs)
	}
	return token, nil
}

func (f *Fanout) SendFollowUp(ctx context.Context, userID string, med model.Medication) error {
	delivered := false
	var errs []error
	for _, ch := range f.channels {
		if err := ch.SendFollowUp(ctx, userID, med); err != nil {
			errs = append(errs, f.channelError(ch, userID, err))
			continue
		}
		delivered = true
	}
	if delivered {
		return nil
	}
	return joinErrors(errs)
}

func (f *Fanout) channelError(ch Channel, userID string, err error) error {
	if errors.Is(err, ErrNoChannel) {
		f.logger.Debug("recipient not on channel", "channel", ch.Name(), "user_id", userID)
	}
	return fmt.Errorf("%s: %w", ch.Name(), err)
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return ErrNoChannel
	}
	return errors.Join(errs...)
}

// ReminderTitle is the headline of a reminder.
const ReminderTitle = "Medication Reminder"

// FollowUpTitle is the headline of a follow-up.
const FollowUpTitle = "Medication Follow-up"

// ReminderBody describes the dose to take.
func ReminderBody(med model.Medication) string {
	return fmt.Sprintf("%s: %smg, %d %s(s) at %s", med.Name, formatDose(med.Dose), med.Amount, med.Type, med.Time)
}

// FollowUpBody nudges the user about an unanswered reminder.
func FollowUpBody(med model.Medication) string {
	return fmt.Sprintf("Reminder to take your %s", med.Name)
}

// ActionURL is the endpoint that records a response to a reminder.
func ActionURL(baseURL, medicationID string, action model.Action) string {
	return fmt.Sprintf("%s/api/medications/%s/%s", strings.TrimRight(baseURL, "/"), medicationID, action)
}

func formatDose(d float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.2f", d), "0"), ".")
}
