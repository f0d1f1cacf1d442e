// Package protocoltest provides in-memory fakes for the protocol port used
// by service tests.
package protocoltest

import (
	"context"
	"sync"

	"wagate/internal/protocol"
)

// TextCall records one SendText invocation.
type TextCall struct {
	Address string
	Text    string
}

// ImageCall records one SendImage invocation.
type ImageCall struct {
	Address string
	Data    []byte
	Caption string
}

// FakeClient implements protocol.Client. Behavior is overridden per test via
// the *Fn fields; unset functions fall back to permissive defaults.
type FakeClient struct {
	ExistsFn    func(address string) (bool, error)
	SendTextFn  func(address, text string) (protocol.Ack, error)
	SendImageFn func(address string, data []byte, caption string) (protocol.Ack, error)
	LogoutFn    func() error

	mu         sync.Mutex
	events     chan protocol.Event
	closed     bool
	TextCalls  []TextCall
	ImageCalls []ImageCall
}

// NewFakeClient returns a fake with a buffered event channel so tests can
// emit without a running consumer.
func NewFakeClient() *FakeClient {
	return &FakeClient{events: make(chan protocol.Event, 16)}
}

func (c *FakeClient) Open(ctx context.Context) (<-chan protocol.Event, error) {
	return c.events, nil
}

func (c *FakeClient) QueryExists(ctx context.Context, address string) (bool, error) {
	if c.ExistsFn != nil {
		return c.ExistsFn(address)
	}
	return true, nil
}

func (c *FakeClient) SendText(ctx context.Context, address, text string) (protocol.Ack, error) {
	c.mu.Lock()
	c.TextCalls = append(c.TextCalls, TextCall{Address: address, Text: text})
	c.mu.Unlock()
	if c.SendTextFn != nil {
		return c.SendTextFn(address, text)
	}
	return protocol.Ack{MessageID: "fake-" + address}, nil
}

func (c *FakeClient) SendImage(ctx context.Context, address string, data []byte, caption string) (protocol.Ack, error) {
	c.mu.Lock()
	c.ImageCalls = append(c.ImageCalls, ImageCall{Address: address, Data: data, Caption: caption})
	c.mu.Unlock()
	if c.SendImageFn != nil {
		return c.SendImageFn(address, data, caption)
	}
	return protocol.Ack{MessageID: "fake-img-" + address}, nil
}

func (c *FakeClient) Logout(ctx context.Context) error {
	if c.LogoutFn != nil {
		return c.LogoutFn()
	}
	return nil
}

func (c *FakeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.events)
	}
	return nil
}

// Emit delivers a lifecycle event to the consumer. No-op after Close.
func (c *FakeClient) Emit(ev protocol.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.events <- ev
}

// Closed reports whether Close was called.
func (c *FakeClient) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// SentTexts returns a copy of the recorded SendText calls.
func (c *FakeClient) SentTexts() []TextCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]TextCall, len(c.TextCalls))
	copy(out, c.TextCalls)
	return out
}

// FakeDialer hands out FakeClients and counts dials.
type FakeDialer struct {
	// DialFn, when set, fully replaces the default behavior.
	DialFn func(sessionID, credentialDir string) (protocol.Client, error)

	mu      sync.Mutex
	clients []*FakeClient
	dials   int
}

func (d *FakeDialer) Dial(ctx context.Context, sessionID, credentialDir string) (protocol.Client, error) {
	d.mu.Lock()
	d.dials++
	d.mu.Unlock()
	if d.DialFn != nil {
		return d.DialFn(sessionID, credentialDir)
	}
	c := NewFakeClient()
	d.mu.Lock()
	d.clients = append(d.clients, c)
	d.mu.Unlock()
	return c, nil
}

// Dials returns how many times Dial was invoked.
func (d *FakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// Client returns the i-th client created by the default Dial behavior.
func (d *FakeDialer) Client(i int) *FakeClient {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i < 0 || i >= len(d.clients) {
		return nil
	}
	return d.clients[i]
}

// LastClient returns the most recently created client, or nil.
func (d *FakeDialer) LastClient() *FakeClient {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.clients) == 0 {
		return nil
	}
	return d.clients[len(d.clients)-1]
}
