// Package transport defines the boundary to the underlying messaging
// session. The core never talks to the wire directly; it consumes a
// Client and reacts to its event stream.
package transport

import (
	"context"
	"errors"
)

// BroadcastTarget is the pseudo-recipient used for the connectivity probe
// emitted right after a session opens.
const BroadcastTarget = "status@broadcast"

var (
	// ErrNotConnected is returned by Send when the session is down.
	ErrNotConnected = errors.New("transport: not connected")
	// ErrSendTimeout marks a delivery that exceeded its acknowledgment window.
	ErrSendTimeout = errors.New("transport: send timed out")
)

type EventKind string

const (
	// EventPairing carries a fresh pairing code; the previous one is void.
	EventPairing EventKind = "pairing"
	// EventOpen signals the session is established and authenticated.
	EventOpen EventKind = "open"
	// EventClose signals the session dropped; Close describes why.
	EventClose EventKind = "close"
)

// Event is a connection lifecycle notification from the session client.
type Event struct {
	Kind    EventKind
	Pairing string // EventPairing only
	Close   *CloseInfo
}

// CloseInfo classifies a session drop.
//
// LoggedOut means the server invalidated the credentials (explicit logout
// or unauthorized); reconnecting is pointless until the user pairs again.
// Anything else is treated as transient.
type CloseInfo struct {
	Code      int
	LoggedOut bool
	Err       error
}

// Message is the payload delivered to one recipient: an image with a
// rendered caption.
type Message struct {
	Image   []byte
	Mime    string
	Caption string
}

// Client is the opaque session capability.
//
// Connect starts (or restarts) session establishment and returns the event
// stream for that attempt. The stream is closed when the underlying session
// ends; a subsequent Connect yields a new stream. Credentials persist
// across restarts inside the client.
type Client interface {
	Connect(ctx context.Context) (<-chan Event, error)
	Send(ctx context.Context, target string, msg Message) error
	// ClearCredentials wipes the persisted pairing so the next Connect
	// issues a fresh pairing code. Used after a logout-classified close.
	ClearCredentials(ctx context.Context) error
	Close() error
}
