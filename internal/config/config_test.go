package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PILLBOX_AUTHORIZED_USERS", "alice, bob")
	t.Setenv("PILLBOX_PORT", "9090")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Timezone != "Europe/London" {
		t.Errorf("timezone = %q, want %q", cfg.Timezone, "Europe/London")
	}
	if cfg.FollowUpDelay != time.Hour {
		t.Errorf("follow-up delay = %v, want %v", cfg.FollowUpDelay, time.Hour)
	}
	if cfg.DeliveryTimeout != 15*time.Second {
		t.Errorf("delivery timeout = %v, want 15s", cfg.DeliveryTimeout)
	}
	if cfg.BaseURL != "http://localhost:9090" {
		t.Errorf("base url = %q, want %q", cfg.BaseURL, "http://localhost:9090")
	}
	if len(cfg.AuthorizedUsers) != 2 || cfg.AuthorizedUsers[1] != "bob" {
		t.Errorf("authorized users = %v, want [alice bob]", cfg.AuthorizedUsers)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("validate: %v", err)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PILLBOX_AUTHORIZED_USERS", `["123456789", "987654321"]`)
	t.Setenv("PILLBOX_FOLLOW_UP_DELAY", "30m")
	t.Setenv("PILLBOX_RECIPIENT_EMAILS", "123456789=alice@example.com")
	t.Setenv("PILLBOX_BASE_URL", "https://pills.example.com/")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.FollowUpDelay != 30*time.Minute {
		t.Errorf("follow-up delay = %v, want 30m", cfg.FollowUpDelay)
	}
	if got := cfg.RecipientEmails["123456789"]; got != "alice@example.com" {
		t.Errorf("email = %q, want %q", got, "alice@example.com")
	}
	if cfg.BaseURL != "https://pills.example.com" {
		t.Errorf("base url = %q, want trailing slash trimmed", cfg.BaseURL)
	}
	if len(cfg.AuthorizedUsers) != 2 || cfg.AuthorizedUsers[0] != "123456789" {
		t.Errorf("authorized users = %v", cfg.AuthorizedUsers)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("PILLBOX_AUTHORIZED_USERS", "alice")
	t.Setenv("PILLBOX_FOLLOW_UP_DELAY", "soon")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "PILLBOX_FOLLOW_UP_DELAY") {
		t.Errorf("err = %v, want duration error", err)
	}

	t.Setenv("PILLBOX_FOLLOW_UP_DELAY", "")
	t.Setenv("PILLBOX_RECIPIENT_EMAILS", "alice")
	if _, err := Load(); err == nil {
		t.Error("expected error for malformed recipient emails")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Timezone:        "Europe/London",
			AuthorizedUsers: []string{"alice"},
			FollowUpDelay:   time.Hour,
			DeliveryTimeout: time.Second,
		}
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	cases := map[string]func(*Config){
		"bad timezone":     func(c *Config) { c.Timezone = "Mars/Olympus" },
		"no users":         func(c *Config) { c.AuthorizedUsers = nil },
		"zero delay":       func(c *Config) { c.FollowUpDelay = 0 },
		"negative timeout": func(c *Config) { c.DeliveryTimeout = -time.Second },
		"half vapid pair":  func(c *Config) { c.VAPIDPublicKey = "pub" },
		"email no sender":  func(c *Config) { c.PostmarkToken = "tok" },
	}
	for name, mutate := range cases {
		c := valid()
		mutate(c)
		if err := c.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestParseUserList(t *testing.T) {
	ids, err := ParseUserList(`[" alice ", "", "bob"]`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(ids) != 2 || ids[0] != "alice" || ids[1] != "bob" {
		t.Errorf("ids = %v, want [alice bob]", ids)
	}

	if _, err := ParseUserList(`["alice"`); err == nil {
		t.Error("expected error for malformed JSON")
	}

	if ids, _ := ParseUserList(""); len(ids) != 0 {
		t.Errorf("ids = %v, want empty", ids)
	}
}
