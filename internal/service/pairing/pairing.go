// Package pairing turns the protocol layer's pairing challenge into a
// retrievable image with a bounded wait. It is a read/wait adapter on top of
// the lifecycle manager and the artifact store; it mutates nothing itself.
package pairing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wagate/internal/service/session"
	"wagate/internal/store"
)

var (
	// ErrAlreadyConnected is the short-circuit result for sessions that
	// no longer need pairing.
	ErrAlreadyConnected = errors.New("session already connected")
	// ErrTimeout is returned when no pairing image appears within the
	// configured wait.
	ErrTimeout = errors.New("pairing image not ready before timeout")
)

// Options configures the artifact wait.
type Options struct {
	// PollInterval is how often the artifact store is checked.
	PollInterval time.Duration
	// Timeout bounds the whole wait.
	Timeout time.Duration
}

// DefaultOptions returns the gateway defaults: poll every 500ms, give up
// after 10s.
func DefaultOptions() Options {
	return Options{PollInterval: 500 * time.Millisecond, Timeout: 10 * time.Second}
}

// Provider serves pairing images for sessions.
type Provider struct {
	sessions  *session.Manager
	artifacts *store.ArtifactStore
	opts      Options
}

// New creates a Provider. Zero option fields fall back to the defaults.
func New(sessions *session.Manager, artifacts *store.ArtifactStore, opts Options) *Provider {
	def := DefaultOptions()
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	return &Provider{sessions: sessions, artifacts: artifacts, opts: opts}
}

// Artifact returns the session's current pairing image, creating the session
// first when needed. Connected sessions short-circuit with
// ErrAlreadyConnected. When the protocol layer has not issued a challenge
// within the timeout the result is ErrTimeout, never an indefinite block.
func (p *Provider) Artifact(ctx context.Context, id string) ([]byte, error) {
	if st, ok := p.sessions.State(id); ok && st == session.StateConnected {
		return nil, ErrAlreadyConnected
	}

	if _, err := p.sessions.Ensure(ctx, id); err != nil {
		return nil, fmt.Errorf("pairing %q: %w", id, err)
	}

	deadline := time.NewTimer(p.opts.Timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()

	for {
		if data, err := p.artifacts.Read(id); err == nil {
			return data, nil
		}
		// The session may connect while we wait (credential reuse); in
		// that case no challenge will ever be issued.
		if st, ok := p.sessions.State(id); ok && st == session.StateConnected {
			return nil, ErrAlreadyConnected
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, ErrTimeout
		case <-ticker.C:
		}
	}
}
