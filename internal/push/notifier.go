package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukerupert/pillbox/internal/model"
	"github.com/dukerupert/pillbox/internal/notify"

	"github.com/google/uuid"
)

// SubscriptionStore lists and prunes a user's push endpoints.
type SubscriptionStore interface {
	ListByUser(userID string) ([]model.PushSubscription, error)
	DeleteByEndpoint(endpoint string) error
}

// Notifier delivers medication reminders to every device a user has
// subscribed.
type Notifier struct {
	service *Service
	subs    SubscriptionStore
	baseURL string
	logger  *slog.Logger
}

func NewNotifier(service *Service, subs SubscriptionStore, baseURL string, logger *slog.Logger) *Notifier {
	return &Notifier{
		service: service,
		subs:    subs,
		baseURL: baseURL,
		logger:  logger,
	}
}

func (n *Notifier) Name() string { return "push" }

// SendReminder pushes the reminder with taken and skip actions. The returned
// token is generated per reminder, since push services do not return a
// message id.
func (n *Notifier) SendReminder(ctx context.Context, userID string, med model.Medication) (string, error) {
	token := uuid.NewString()
	payload := Payload{
		Title: notify.ReminderTitle,
		Body:  notify.ReminderBody(med),
		URL:   n.baseURL,
		Tag:   "medication-" + med.ID,
		Token: token,
		Actions: []Action{
			{Action: string(model.ActionTaken), Title: "Taken", URL: notify.ActionURL(n.baseURL, med.ID, model.ActionTaken)},
			{Action: string(model.ActionSkip), Title: "Skip", URL: notify.ActionURL(n.baseURL, med.ID, model.ActionSkip)},
		},
	}
	if err := n.sendAll(ctx, userID, payload); err != nil {
		return "", err
	}
	return token, nil
}

func (n *Notifier) SendFollowUp(ctx context.Context, userID string, med model.Medication) error {
	return n.sendAll(ctx, userID, Payload{
		Title: notify.FollowUpTitle,
		Body:  notify.FollowUpBody(med),
		URL:   n.baseURL,
		Tag:   "medication-" + med.ID,
	})
}

// sendAll succeeds if at least one device received the payload. Expired
// subscriptions are removed.
func (n *Notifier) sendAll(ctx context.Context, userID string, payload Payload) error {
	subs, err := n.subs.ListByUser(userID)
	if err != nil {
		return fmt.Errorf("list push subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return notify.ErrNoChannel
	}

	var errs []error
	sent := 0
	for i := range subs {
		sub := &subs[i]
		err := n.service.Send(ctx, sub, payload)
		switch {
		case err == nil:
			sent++
		case errors.Is(err, ErrExpired):
			n.logger.Info("removing expired subscription", "user_id", userID, "subscription_id", sub.ID)
			if derr := n.subs.DeleteByEndpoint(sub.Endpoint); derr != nil {
				n.logger.Error("delete expired subscription", "subscription_id", sub.ID, "error", derr)
			}
			errs = append(errs, err)
		default:
			n.logger.Warn("push send failed", "user_id", userID, "subscription_id", sub.ID, "error", err)
			errs = append(errs, err)
		}
	}
	if sent == 0 {
		return errors.Join(errs...)
	}
	return nil
}
