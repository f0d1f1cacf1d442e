// Package protocol defines the capability surface the gateway consumes from
// the underlying messaging network. The gateway never speaks the network's
// wire protocol itself; it drives a Client obtained from a Dialer and reacts
// to the lifecycle events the Client emits.
package protocol

import (
	"context"
	"time"
)

// EventKind identifies a lifecycle event emitted by a Client.
type EventKind int

const (
	// EventPairingCode carries a fresh pairing challenge that must be
	// presented to the user as a scannable code.
	EventPairingCode EventKind = iota
	// EventConnected signals that the session is authenticated and ready
	// to send. It may arrive without a preceding pairing event when stored
	// credentials are reused.
	EventConnected
	// EventClosed signals that the connection ended. Reason distinguishes
	// a deliberate logout from everything else.
	EventClosed
)

// CloseReason describes why a connection ended.
type CloseReason string

const (
	// ReasonLoggedOut means the account was unlinked; credentials are no
	// longer valid and must not be reused.
	ReasonLoggedOut CloseReason = "logged-out"
	// ReasonConnectionLost covers transport-level failures where a
	// reconnect with the same credentials is expected to work.
	ReasonConnectionLost CloseReason = "connection-lost"
)

// Event is one lifecycle notification from the protocol layer. Only the
// fields relevant to the Kind are populated.
type Event struct {
	Kind        EventKind
	PairingCode string
	Reason      CloseReason
}

// Ack is the network's acknowledgment of an accepted message.
type Ack struct {
	MessageID string    `json:"messageId"`
	Timestamp time.Time `json:"timestamp"`
}

// Client is one live connection to the messaging network on behalf of a
// single session. Implementations must be safe for concurrent use; the
// lifecycle manager and the dispatch engine call into the same handle.
type Client interface {
	// Open starts the connection handshake and returns the event stream.
	// The channel is closed when the connection is gone for good; an
	// EventClosed is delivered first when the reason is known.
	Open(ctx context.Context) (<-chan Event, error)

	// QueryExists reports whether the address is registered on the network.
	QueryExists(ctx context.Context, address string) (bool, error)

	// SendText delivers a plain text message.
	SendText(ctx context.Context, address, text string) (Ack, error)

	// SendImage delivers an image with an optional caption.
	SendImage(ctx context.Context, address string, data []byte, caption string) (Ack, error)

	// Logout unlinks the session from the account. The server side reacts
	// with EventClosed carrying ReasonLoggedOut.
	Logout(ctx context.Context) error

	// Close tears down the connection without unlinking. Idempotent.
	Close() error
}

// Dialer creates protocol clients. credentialDir is the session's private
// directory; implementations load stored credential material from it and
// persist refreshed material back into it.
type Dialer interface {
	Dial(ctx context.Context, sessionID, credentialDir string) (Client, error)
}
