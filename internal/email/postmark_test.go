package email

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dukerupert/pillbox/internal/model"
	"github.com/dukerupert/pillbox/internal/notify"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	transport := &rewriteTransport{base: http.DefaultTransport, target: server.URL}
	return NewClient("test-token", "noreply@example.com", WithHTTPClient(&http.Client{Transport: transport}))
}

func TestSend(t *testing.T) {
	var received postmarkEmail
	var gotToken string

	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-Postmark-Server-Token")
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"MessageID": "test-id", "ErrorCode": 0}`))
	})

	id, err := client.Send(context.Background(), Message{To: "alice@example.com", Subject: "Hi", TextBody: "hello"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if id != "test-id" {
		t.Errorf("message id = %q, want %q", id, "test-id")
	}
	if gotToken != "test-token" {
		t.Errorf("server token = %q, want %q", gotToken, "test-token")
	}
	if received.To != "alice@example.com" {
		t.Errorf("To = %q, want %q", received.To, "alice@example.com")
	}
	if received.From != "noreply@example.com" {
		t.Errorf("From = %q, want %q", received.From, "noreply@example.com")
	}
}

func TestSendNotConfigured(t *testing.T) {
	client := NewClient("", "noreply@example.com")

	if _, err := client.Send(context.Background(), Message{To: "alice@example.com"}); err == nil {
		t.Fatal("expected error for unconfigured client")
	}
}

func TestSendAPIError(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	})

	if _, err := client.Send(context.Background(), Message{To: "alice@example.com"}); err == nil {
		t.Fatal("expected error for API failure")
	}
}

func TestSendPostmarkErrorCode(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ErrorCode": 406, "Message": "Inactive recipient"}`))
	})

	_, err := client.Send(context.Background(), Message{To: "alice@example.com"})
	if err == nil || !strings.Contains(err.Error(), "Inactive recipient") {
		t.Errorf("err = %v, want postmark error message", err)
	}
}

func TestNotifierReminder(t *testing.T) {
	var received postmarkEmail
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&received)
		w.Write([]byte(`{"MessageID": "msg-42"}`))
	})
	n := NewNotifier(client, map[string]string{"alice": "alice@example.com"}, "https://pillbox.test")

	med := model.Medication{ID: "abc", Name: "Sertraline", Dose: 50, Amount: 1, Type: model.TypePill, Time: "08:00"}
	token, err := n.SendReminder(context.Background(), "alice", med)
	if err != nil {
		t.Fatalf("send reminder: %v", err)
	}
	if token != "msg-42" {
		t.Errorf("token = %q, want %q", token, "msg-42")
	}
	if received.Subject != "Medication Reminder: Sertraline" {
		t.Errorf("Subject = %q", received.Subject)
	}
	if !strings.Contains(received.TextBody, "Sertraline: 50mg, 1 pill(s) at 08:00") {
		t.Errorf("TextBody = %q, want reminder details", received.TextBody)
	}
}

func TestNotifierUnknownRecipient(t *testing.T) {
	n := NewNotifier(NewClient("test-token", "noreply@example.com"), nil, "https://pillbox.test")

	if _, err := n.SendReminder(context.Background(), "bob", model.Medication{}); !errors.Is(err, notify.ErrNoChannel) {
		t.Errorf("err = %v, want %v", err, notify.ErrNoChannel)
	}
	if err := n.SendFollowUp(context.Background(), "bob", model.Medication{}); !errors.Is(err, notify.ErrNoChannel) {
		t.Errorf("err = %v, want %v", err, notify.ErrNoChannel)
	}
}

// rewriteTransport redirects all requests to a test server URL.
type rewriteTransport struct {
	base   http.RoundTripper
	target string
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = "http"
	req.URL.Host = t.target[len("http://"):]
	return t.base.RoundTrip(req)
}
