package models

import (
	"time"
)

// PresenceStatus is whether a user currently has at least one live connection.
type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceOffline PresenceStatus = "offline"
)

// User is an account row from PostgreSQL. The chat core only mutates Status and LastSeen.
type User struct {
	ID           string         `json:"id"`
	Username     string         `json:"username"`
	PasswordHash string         `json:"-"` // never serialized
	Status       PresenceStatus `json:"status"`
	LastSeen     *time.Time     `json:"lastSeen,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// PresenceChange is broadcast to every connection as user-status-change.
type PresenceChange struct {
	UserID   string         `json:"userId"`
	Status   PresenceStatus `json:"status"`
	LastSeen time.Time      `json:"lastSeen"`
}
