package model

import "time"

// PushSubscription is a browser push endpoint registered by a user.
type PushSubscription struct {
	ID         int64     `json:"id"`
	UserID     string    `json:"user_id"`
	Endpoint   string    `json:"endpoint"`
	P256dhKey  string    `json:"p256dh_key"`
	AuthKey    string    `json:"auth_key"`
	DeviceName string    `json:"device_name"`
	CreatedAt  time.Time `json:"created_at"`
}

// APIKey is the stored (hashed) credential for a user.
type APIKey struct {
	UserID    string    `json:"user_id"`
	KeyHash   string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}
