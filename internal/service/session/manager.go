// Package session owns the per-id lifecycle state machine: it creates
// protocol handles, reacts to lifecycle events, supervises reconnection and
// performs teardown. Exactly one live handle exists per session id.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"wagate/internal/metrics"
	"wagate/internal/protocol"
	"wagate/internal/service/ratelimit"
	"wagate/internal/store"
)

var (
	// ErrNotReady is returned when an operation requires a connected
	// session and the session is in any other state.
	ErrNotReady = errors.New("session not connected")
	// ErrUnknownSession is returned for operations on ids the manager has
	// never seen (or has fully torn down).
	ErrUnknownSession = errors.New("unknown session")
)

// Config bounds the automatic reconnect loop.
type Config struct {
	ReconnectInitialInterval time.Duration
	ReconnectMaxInterval     time.Duration
	// ReconnectMaxElapsed caps the total time spent retrying before the
	// session is parked in StateExhausted.
	ReconnectMaxElapsed time.Duration
}

// DefaultConfig returns the reconnect policy used when fields are unset.
func DefaultConfig() Config {
	return Config{
		ReconnectInitialInterval: 2 * time.Second,
		ReconnectMaxInterval:     30 * time.Second,
		ReconnectMaxElapsed:      5 * time.Minute,
	}
}

// Session is one registry entry. All mutation goes through its mutex so no
// two lifecycle transitions for the same id interleave.
type Session struct {
	ID string

	mu     sync.Mutex
	state  State
	client protocol.Client
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Manager is the process-wide session registry.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	dialer    protocol.Dialer
	creds     *store.CredentialStore
	artifacts *store.ArtifactStore
	limiter   *ratelimit.Limiter
	cfg       Config
}

// NewManager wires the lifecycle manager to its collaborators.
func NewManager(dialer protocol.Dialer, creds *store.CredentialStore, artifacts *store.ArtifactStore, limiter *ratelimit.Limiter, cfg Config) *Manager {
	def := DefaultConfig()
	if cfg.ReconnectInitialInterval <= 0 {
		cfg.ReconnectInitialInterval = def.ReconnectInitialInterval
	}
	if cfg.ReconnectMaxInterval <= 0 {
		cfg.ReconnectMaxInterval = def.ReconnectMaxInterval
	}
	if cfg.ReconnectMaxElapsed <= 0 {
		cfg.ReconnectMaxElapsed = def.ReconnectMaxElapsed
	}
	return &Manager{
		sessions:  make(map[string]*Session),
		dialer:    dialer,
		creds:     creds,
		artifacts: artifacts,
		limiter:   limiter,
		cfg:       cfg,
	}
}

// Ensure returns the live session for id, creating it when absent. Racing
// callers for the same id are serialized on the session entry; only one
// protocol handle is ever created. Handle or credential failures propagate
// to the caller and leave no live handle behind.
func (m *Manager) Ensure(ctx context.Context, id string) (*Session, error) {
	for {
		m.mu.Lock()
		s, ok := m.sessions[id]
		if !ok {
			s = &Session{ID: id, state: StateUninitialized}
			m.sessions[id] = s
		}
		m.mu.Unlock()

		s.mu.Lock()

		// The entry may have been torn down and replaced between the
		// registry lookup and acquiring the entry lock.
		m.mu.Lock()
		current := m.sessions[id]
		m.mu.Unlock()
		if current != s {
			s.mu.Unlock()
			continue
		}

		if s.client != nil {
			s.mu.Unlock()
			return s, nil
		}

		// Terminal states clear on the next Ensure.
		if s.state == StateLoggedOut || s.state == StateExhausted {
			s.state = StateUninitialized
		}

		dir, err := m.creds.EnsureDir(id)
		if err != nil {
			s.mu.Unlock()
			return nil, fmt.Errorf("ensure session %q: %w", id, err)
		}

		client, err := m.dialer.Dial(ctx, id, dir)
		if err != nil {
			s.mu.Unlock()
			return nil, fmt.Errorf("ensure session %q: %w", id, err)
		}

		events, err := client.Open(ctx)
		if err != nil {
			client.Close()
			s.mu.Unlock()
			return nil, fmt.Errorf("ensure session %q: open: %w", id, err)
		}

		s.client = client
		s.mu.Unlock()

		metrics.ActiveSessions.Inc()
		go m.pump(s, client, events)
		return s, nil
	}
}

// State reports the lifecycle state for id.
func (m *Manager) State(id string) (State, bool) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return StateUninitialized, false
	}
	return s.State(), true
}

// Handle returns the protocol client for id when the session is connected.
func (m *Manager) Handle(id string) (protocol.Client, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return nil, ErrNotReady
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnected || s.client == nil {
		return nil, ErrNotReady
	}
	return s.client, nil
}

// Logout unlinks the session and performs the destructive teardown:
// protocol handle, credential directory, pairing image and rate window are
// all discarded. The id can be ensured again from scratch afterwards.
func (m *Manager) Logout(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return ErrUnknownSession
	}

	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client != nil {
		if err := client.Logout(ctx); err != nil {
			log.Printf("[session] logout call for %s failed: %v", id, err)
		}
	}

	m.teardown(s, true)
	return nil
}

// Shutdown closes every live handle. Used on process exit.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	open := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		open = append(open, s)
	}
	m.mu.Unlock()

	for _, s := range open {
		s.mu.Lock()
		client := s.client
		s.client = nil
		s.mu.Unlock()
		if client != nil {
			client.Close()
			metrics.ActiveSessions.Dec()
		}
	}
}

// pump consumes the handle's lifecycle events. One pump goroutine exists per
// live handle; it exits when the handle closes.
func (m *Manager) pump(s *Session, client protocol.Client, events <-chan protocol.Event) {
	for ev := range events {
		switch ev.Kind {
		case protocol.EventPairingCode:
			metrics.SessionEvents.WithLabelValues("pairing").Inc()
			if err := m.artifacts.Write(s.ID, ev.PairingCode); err != nil {
				log.Printf("[session] persisting pairing image for %s: %v", s.ID, err)
			}
			s.setState(StateAwaitingPairing)
			log.Printf("[session] %s awaiting pairing", s.ID)

		case protocol.EventConnected:
			metrics.SessionEvents.WithLabelValues("connected").Inc()
			s.setState(StateConnected)
			log.Printf("[session] %s connected", s.ID)

		case protocol.EventClosed:
			metrics.SessionEvents.WithLabelValues("closed").Inc()
			if ev.Reason == protocol.ReasonLoggedOut {
				log.Printf("[session] %s logged out, removing credentials", s.ID)
				m.teardown(s, true)
				return
			}
			log.Printf("[session] %s disconnected (%s), scheduling reconnect", s.ID, ev.Reason)
			m.teardown(s, false)
			go m.reconnect(s.ID)
			return
		}
	}

	// Event stream ended without a close event. If the session still owns
	// this handle nobody tore it down; treat it as a lost connection.
	s.mu.Lock()
	owned := s.client == client
	s.mu.Unlock()
	if owned {
		log.Printf("[session] %s event stream ended, scheduling reconnect", s.ID)
		m.teardown(s, false)
		go m.reconnect(s.ID)
	}
}

// teardown releases everything the session holds. Safe to call repeatedly;
// a second call on an already-removed session is a no-op.
func (m *Manager) teardown(s *Session, loggedOut bool) {
	s.mu.Lock()
	client := s.client
	s.client = nil
	if loggedOut {
		s.state = StateLoggedOut
	} else {
		s.state = StateDisconnectedRetry
	}
	s.mu.Unlock()

	if client != nil {
		client.Close()
		metrics.ActiveSessions.Dec()
	}

	if err := m.artifacts.Delete(s.ID); err != nil {
		log.Printf("[session] deleting pairing image for %s: %v", s.ID, err)
	}
	m.limiter.Forget(s.ID)
	if loggedOut {
		if err := m.creds.Delete(s.ID); err != nil {
			log.Printf("[session] deleting credentials for %s: %v", s.ID, err)
		}
	}

	m.mu.Lock()
	if m.sessions[s.ID] == s {
		delete(m.sessions, s.ID)
	}
	m.mu.Unlock()
}

// reconnect re-establishes a session after an unexpected disconnect. The
// retry loop is bounded: exponential backoff up to the configured ceiling,
// then the session is parked in StateExhausted until the next Ensure.
func (m *Manager) reconnect(id string) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = m.cfg.ReconnectInitialInterval
	policy.MaxInterval = m.cfg.ReconnectMaxInterval
	policy.MaxElapsedTime = m.cfg.ReconnectMaxElapsed

	err := backoff.RetryNotify(func() error {
		metrics.ReconnectAttempts.Inc()
		_, err := m.Ensure(context.Background(), id)
		return err
	}, policy, func(err error, next time.Duration) {
		log.Printf("[session] reconnect %s failed: %v (next attempt in %s)", id, err, next.Round(time.Millisecond))
	})
	if err == nil {
		return
	}

	log.Printf("[session] reconnect %s exhausted: %v", id, err)
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		s = &Session{ID: id}
		m.sessions[id] = s
	}
	m.mu.Unlock()

	s.mu.Lock()
	if s.client == nil {
		s.state = StateExhausted
	}
	s.mu.Unlock()
}
