package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port     string
	DBPath   string
	BaseURL  string
	Timezone string

	AuthorizedUsers []string
	FollowUpDelay   time.Duration
	DeliveryTimeout time.Duration

	VAPIDPublicKey  string
	VAPIDPrivateKey string

	PostmarkToken   string
	FromEmail       string
	RecipientEmails map[string]string

	WebSocketOrigins []string

	LogLevel  string
	LogFormat string
}

// Load reads configuration from the environment, after loading a .env file
// from the working directory if one exists.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	port := getEnvWithDefault("PILLBOX_PORT", "8080")
	cfg := &Config{
		Port:             port,
		DBPath:           getEnvWithDefault("PILLBOX_DB_PATH", "pillbox.db"),
		BaseURL:          strings.TrimRight(getEnvWithDefault("PILLBOX_BASE_URL", "http://localhost:"+port), "/"),
		Timezone:         getEnvWithDefault("PILLBOX_TIMEZONE", "Europe/London"),
		VAPIDPublicKey:   os.Getenv("PILLBOX_VAPID_PUBLIC_KEY"),
		VAPIDPrivateKey:  os.Getenv("PILLBOX_VAPID_PRIVATE_KEY"),
		PostmarkToken:    os.Getenv("PILLBOX_POSTMARK_TOKEN"),
		FromEmail:        os.Getenv("PILLBOX_FROM_EMAIL"),
		WebSocketOrigins: splitList(os.Getenv("PILLBOX_WS_ORIGINS")),
		LogLevel:         getEnvWithDefault("LOG_LEVEL", "info"),
		LogFormat:        getEnvWithDefault("LOG_FORMAT", "text"),
	}

	var err error
	if cfg.AuthorizedUsers, err = ParseUserList(os.Getenv("PILLBOX_AUTHORIZED_USERS")); err != nil {
		return nil, fmt.Errorf("PILLBOX_AUTHORIZED_USERS: %w", err)
	}
	if cfg.FollowUpDelay, err = getEnvDuration("PILLBOX_FOLLOW_UP_DELAY", time.Hour); err != nil {
		return nil, err
	}
	if cfg.DeliveryTimeout, err = getEnvDuration("PILLBOX_DELIVERY_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.RecipientEmails, err = parseEmails(os.Getenv("PILLBOX_RECIPIENT_EMAILS")); err != nil {
		return nil, fmt.Errorf("PILLBOX_RECIPIENT_EMAILS: %w", err)
	}

	return cfg, nil
}

// Validate checks the values the reminder engine cannot run without.
func (c *Config) Validate() error {
	if _, err := c.Location(); err != nil {
		return err
	}
	if len(c.AuthorizedUsers) == 0 {
		return errors.New("PILLBOX_AUTHORIZED_USERS must list at least one user")
	}
	if c.FollowUpDelay <= 0 {
		return fmt.Errorf("follow-up delay must be positive, got %s", c.FollowUpDelay)
	}
	if c.DeliveryTimeout <= 0 {
		return fmt.Errorf("delivery timeout must be positive, got %s", c.DeliveryTimeout)
	}
	if (c.VAPIDPublicKey == "") != (c.VAPIDPrivateKey == "") {
		return errors.New("PILLBOX_VAPID_PUBLIC_KEY and PILLBOX_VAPID_PRIVATE_KEY must be set together")
	}
	if c.PostmarkToken != "" && c.FromEmail == "" {
		return errors.New("PILLBOX_FROM_EMAIL is required when PILLBOX_POSTMARK_TOKEN is set")
	}
	return nil
}

// Location resolves the scheduling timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// EmailEnabled reports whether the email channel is configured.
func (c *Config) EmailEnabled() bool {
	return c.PostmarkToken != ""
}

// LogValue keeps secrets out of startup logs.
func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("port", c.Port),
		slog.String("db_path", c.DBPath),
		slog.String("base_url", c.BaseURL),
		slog.String("timezone", c.Timezone),
		slog.Int("authorized_users", len(c.AuthorizedUsers)),
		slog.Duration("follow_up_delay", c.FollowUpDelay),
		slog.Duration("delivery_timeout", c.DeliveryTimeout),
		slog.Bool("email", c.EmailEnabled()),
	)
}

// ParseUserList accepts either a JSON array of ids or a comma-separated list.
func ParseUserList(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "[") {
		var ids []string
		if err := json.Unmarshal([]byte(raw), &ids); err != nil {
			return nil, fmt.Errorf("parse user list: %w", err)
		}
		out := ids[:0]
		for _, id := range ids {
			if id = strings.TrimSpace(id); id != "" {
				out = append(out, id)
			}
		}
		return out, nil
	}
	return splitList(raw), nil
}

func parseEmails(raw string) (map[string]string, error) {
	emails := map[string]string{}
	for _, pair := range splitList(raw) {
		user, addr, ok := strings.Cut(pair, "=")
		user, addr = strings.TrimSpace(user), strings.TrimSpace(addr)
		if !ok || user == "" || !strings.Contains(addr, "@") {
			return nil, fmt.Errorf("invalid entry %q, want user=address", pair)
		}
		emails[user] = addr
	}
	return emails, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
