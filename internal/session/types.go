package session

import (
	"errors"
	"time"
)

// State is the connection lifecycle state. Exactly one Supervisor owns it;
// everyone else reads it through Status()/Ready().
type State string

const (
	StateDisconnected    State = "disconnected"
	StateAwaitingPairing State = "awaiting_pairing"
	StateConnected       State = "connected"
	StateReconnecting    State = "reconnecting"
	StateExhausted       State = "exhausted"
)

// ErrNotReady is returned by Send when the session is not connected.
// Sends are never queued.
var ErrNotReady = errors.New("session: not connected")

// Config bounds the reconnect policy.
//
// The delay doubles on every failed attempt starting at ReconnectBase,
// capped at ReconnectCap. Once the attempt count reaches MaxAttempts the
// supervisor goes Exhausted and stops scheduling; only Repair() (or a
// process restart) recovers.
type Config struct {
	ReconnectBase time.Duration
	ReconnectCap  time.Duration
	MaxAttempts   int

	// ProbeText is sent to the transport broadcast target right after a
	// session opens. Failure is logged, never fatal.
	ProbeText string

	// SendTimeout bounds a single delivery attempt.
	SendTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.ReconnectBase <= 0 {
		c.ReconnectBase = 3 * time.Second
	}
	if c.ReconnectCap <= 0 {
		c.ReconnectCap = 60 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 30 * time.Second
	}
	return c
}

// Status is a point-in-time snapshot for display/polling.
type Status struct {
	State          State     `json:"state"`
	Connected      bool      `json:"connected"`
	PairingCode    string    `json:"qr,omitempty"`
	LastDisconnect string    `json:"last_error,omitempty"`
	Attempts       int       `json:"reconnect_attempts"`
	ConnectedAt    time.Time `json:"connected_at,omitempty"`
}
