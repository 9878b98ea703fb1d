package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/dukerupert/pillbox/internal/model"
)

type stubChannel struct {
	name      string
	token     string
	err       error
	reminders int
	followUps int
}

func (s *stubChannel) Name() string { return s.name }

func (s *stubChannel) SendReminder(ctx context.Context, userID string, med model.Medication) (string, error) {
	s.reminders++
	if s.err != nil {
		return "", s.err
	}
	return s.token, nil
}

func (s *stubChannel) SendFollowUp(ctx context.Context, userID string, med model.Medication) error {
	s.followUps++
	return s.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFanoutFirstTokenWins(t *testing.T) {
	push := &stubChannel{name: "push", token: "abc"}
	mail := &stubChannel{name: "email", token: "xyz"}
	f := NewFanout(quietLogger(), push, mail)

	token, err := f.SendReminder(context.Background(), "alice", model.Medication{ID: "m1"})
	if err != nil {
		t.Fatalf("send reminder: %v", err)
	}
	if token != "push:abc" {
		t.Errorf("token = %q, want %q", token, "push:abc")
	}
	if push.reminders != 1 || mail.reminders != 1 {
		t.Errorf("deliveries = %d/%d, want 1/1", push.reminders, mail.reminders)
	}
}

func TestFanoutFallsBackToWorkingChannel(t *testing.T) {
	push := &stubChannel{name: "push", err: ErrNoChannel}
	mail := &stubChannel{name: "email", token: "xyz"}
	f := NewFanout(quietLogger(), push, mail)

	token, err := f.SendReminder(context.Background(), "alice", model.Medication{ID: "m1"})
	if err != nil {
		t.Fatalf("send reminder: %v", err)
	}
	if token != "email:xyz" {
		t.Errorf("token = %q, want %q", token, "email:xyz")
	}
	if err := f.SendFollowUp(context.Background(), "alice", model.Medication{ID: "m1"}); err != nil {
		t.Errorf("follow-up: %v", err)
	}
	if push.followUps != 1 || mail.followUps != 1 {
		t.Errorf("follow-ups = %d/%d, want 1/1", push.followUps, mail.followUps)
	}
}

func TestFanoutAllChannelsFail(t *testing.T) {
	boom := errors.New("boom")
	f := NewFanout(quietLogger(), &stubChannel{name: "push", err: ErrNoChannel}, &stubChannel{name: "email", err: boom})

	_, err := f.SendReminder(context.Background(), "alice", model.Medication{ID: "m1"})
	if err == nil {
		t.Fatal("expected error when every channel fails")
	}
	if !errors.Is(err, boom) || !errors.Is(err, ErrNoChannel) {
		t.Errorf("err = %v, want both channel errors joined", err)
	}
}

func TestFanoutNoChannels(t *testing.T) {
	f := NewFanout(quietLogger())
	if _, err := f.SendReminder(context.Background(), "alice", model.Medication{}); !errors.Is(err, ErrNoChannel) {
		t.Errorf("err = %v, want %v", err, ErrNoChannel)
	}
}

func TestReminderBody(t *testing.T) {
	med := model.Medication{Name: "Sertraline", Dose: 50, Amount: 2, Type: model.TypePill, Time: "08:00"}
	want := "Sertraline: 50mg, 2 pill(s) at 08:00"
	if got := ReminderBody(med); got != want {
		t.Errorf("body = %q, want %q", got, want)
	}

	med.Dose = 0.25
	want = "Sertraline: 0.25mg, 2 pill(s) at 08:00"
	if got := ReminderBody(med); got != want {
		t.Errorf("body = %q, want %q", got, want)
	}
}

func TestActionURL(t *testing.T) {
	got := ActionURL("https://pillbox.example/", "abc123", model.ActionSkip)
	want := "https://pillbox.example/api/medications/abc123/skip"
	if got != want {
		t.Errorf("url = %q, want %q", got, want)
	}
}
