package email

import (
	"context"
	"fmt"
	"html"

	"github.com/dukerupert/pillbox/internal/model"
	"github.com/dukerupert/pillbox/internal/notify"
)

// Notifier emails reminders to users with a configured address.
type Notifier struct {
	client    *Client
	addresses map[string]string
	baseURL   string
}

// NewNotifier maps user ids to email addresses. Users without an address
// are not reachable by email.
func NewNotifier(client *Client, addresses map[string]string, baseURL string) *Notifier {
	copied := make(map[string]string, len(addresses))
	for user, addr := range addresses {
		copied[user] = addr
	}
	return &Notifier{client: client, addresses: copied, baseURL: baseURL}
}

func (n *Notifier) Name() string { return "email" }

// SendReminder returns the Postmark message id as the reminder token.
func (n *Notifier) SendReminder(ctx context.Context, userID string, med model.Medication) (string, error) {
	to, ok := n.addresses[userID]
	if !ok {
		return "", notify.ErrNoChannel
	}

	body := notify.ReminderBody(med)
	text := fmt.Sprintf("%s\n\nOpen Pillbox to mark it taken or skipped:\n%s", body, n.baseURL)
	htmlBody := fmt.Sprintf(
		`<p>%s</p><p><a href="%s">Open Pillbox</a> to mark it taken or skipped.</p>`,
		html.EscapeString(body), html.EscapeString(n.baseURL),
	)

	return n.client.Send(ctx, Message{
		To:       to,
		Subject:  fmt.Sprintf("%s: %s", notify.ReminderTitle, med.Name),
		TextBody: text,
		HtmlBody: htmlBody,
		Tag:      "reminder",
	})
}

func (n *Notifier) SendFollowUp(ctx context.Context, userID string, med model.Medication) error {
	to, ok := n.addresses[userID]
	if !ok {
		return notify.ErrNoChannel
	}

	body := notify.FollowUpBody(med)
	_, err := n.client.Send(ctx, Message{
		To:       to,
		Subject:  notify.FollowUpTitle,
		TextBody: body,
		HtmlBody: "<p>" + html.EscapeString(body) + "</p>",
		Tag:      "follow-up",
	})
	return err
}
