package storage

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("storage: not found")
	// ErrConflict is returned by PutCorrelation when the relay id is taken.
	ErrConflict = errors.New("storage: conflict")
	ErrClosed   = errors.New("storage: closed")
)

// Config configures storage.
type Config struct {
	Driver      string
	Path        string        // file, sqlite
	DSN         string        // postgres
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// User is a registry entry. Banned survives profile refreshes.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username,omitempty"`
	FirstName    string    `json:"first_name,omitempty"`
	Banned       bool      `json:"banned"`
	RegisteredAt time.Time `json:"registered_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type UserFilter struct {
	ExcludeBanned bool
}

type UserCounts struct {
	Total  int
	Banned int
}

// Correlation maps a relayed copy back to the user who sent the original.
type Correlation struct {
	RelayID       string    `json:"relay_id"`
	SenderID      int64     `json:"sender_id"`
	DestinationID int64     `json:"destination_id"`
	Mode          string    `json:"mode"`
	CreatedAt     time.Time `json:"created_at"`
}

// AuditEntry records an operator action.
type AuditEntry struct {
	At      time.Time `json:"at"`
	ActorID int64     `json:"actor_id"`
	Action  string    `json:"action"`
	Target  string    `json:"target,omitempty"`
	OK      int       `json:"ok,omitempty"`
	Fail    int       `json:"fail,omitempty"`
	Error   string    `json:"error,omitempty"`
}
