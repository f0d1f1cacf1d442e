// Package wsbridge implements the protocol port against a websocket bridge:
// a long-lived JSON-framed connection per session that carries lifecycle
// events downstream and request/response calls upstream.
package wsbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"wagate/internal/protocol"
)

// credentialFile is the blob persisted inside the session's credential
// directory whenever the bridge pushes refreshed material.
const credentialFile = "creds.json"

// clientVersion is sent in the open frame so the bridge can gate features.
const clientVersion = "wagate/1.0"

// ErrClosed is returned for calls made after the connection is gone.
var ErrClosed = errors.New("wsbridge: connection closed")

// Options tunes the bridge connection.
type Options struct {
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	// CallTimeout bounds each request/response round trip when the
	// caller's context carries no deadline.
	CallTimeout time.Duration
}

// DefaultOptions returns production defaults.
func DefaultOptions() Options {
	return Options{
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     30 * time.Second,
		ReadTimeout:      75 * time.Second,
		WriteTimeout:     10 * time.Second,
		CallTimeout:      30 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = def.HandshakeTimeout
	}
	if o.PingInterval <= 0 {
		o.PingInterval = def.PingInterval
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = def.ReadTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = def.WriteTimeout
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = def.CallTimeout
	}
	return o
}

// Dialer connects sessions to the bridge endpoint.
type Dialer struct {
	// URL is the bridge base URL, e.g. "wss://bridge.internal".
	URL string
	// Token, when set, is sent as a bearer token on the handshake.
	Token string
	Opts  Options
}

// Dial opens the websocket for one session. The connection is not usable
// until Open completes the handshake.
func (d *Dialer) Dial(ctx context.Context, sessionID, credentialDir string) (protocol.Client, error) {
	opts := d.Opts.withDefaults()
	dialer := &websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout}

	header := http.Header{}
	if d.Token != "" {
		header.Set("Authorization", "Bearer "+d.Token)
	}

	url := strings.TrimRight(d.URL, "/") + "/session/" + sessionID
	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("wsbridge: dial %s: %w", url, err)
	}

	return &Client{
		sessionID: sessionID,
		credDir:   credentialDir,
		conn:      conn,
		opts:      opts,
		pending:   make(map[string]chan frame),
		events:    make(chan protocol.Event, 8),
		done:      make(chan struct{}),
	}, nil
}

// frame is every message the bridge sends us.
type frame struct {
	Type        string          `json:"type"` // "event" or "response"
	Event       string          `json:"event,omitempty"`
	Code        string          `json:"code,omitempty"`
	Reason      string          `json:"reason,omitempty"`
	Credentials []byte          `json:"credentials,omitempty"`
	ID          string          `json:"id,omitempty"`
	OK          bool            `json:"ok,omitempty"`
	Error       string          `json:"error,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
}

// request is every message we send to the bridge.
type request struct {
	Type        string `json:"type"` // "open" or "request"
	ID          string `json:"id,omitempty"`
	Method      string `json:"method,omitempty"`
	Session     string `json:"session,omitempty"`
	Client      string `json:"client,omitempty"`
	Credentials []byte `json:"credentials,omitempty"`
	To          string `json:"to,omitempty"`
	Text        string `json:"text,omitempty"`
	Image       []byte `json:"image,omitempty"`
	Caption     string `json:"caption,omitempty"`
}

// Client is one live bridge connection. Safe for concurrent use.
type Client struct {
	sessionID string
	credDir   string
	conn      *websocket.Conn
	opts      Options

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan frame

	events    chan protocol.Event
	eventsEnd sync.Once
	done      chan struct{}
	closeOnce sync.Once
}

// Open sends the open frame, carrying any stored credential material, and
// starts the read and ping loops.
func (c *Client) Open(ctx context.Context) (<-chan protocol.Event, error) {
	open := request{
		Type:    "open",
		Session: c.sessionID,
		Client:  clientVersion,
	}
	if data, err := os.ReadFile(filepath.Join(c.credDir, credentialFile)); err == nil {
		open.Credentials = data
	}

	if err := c.write(open); err != nil {
		return nil, fmt.Errorf("wsbridge: open %s: %w", c.sessionID, err)
	}

	c.conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
		return nil
	})

	go c.readLoop()
	go c.pingLoop()
	return c.events, nil
}

func (c *Client) readLoop() {
	defer c.finish()
	for {
		var f frame
		if err := c.conn.ReadJSON(&f); err != nil {
			select {
			case <-c.done:
				// deliberate close, nothing to report
			default:
				log.Printf("[wsbridge] %s read ended: %v", c.sessionID, err)
			}
			return
		}

		switch f.Type {
		case "event":
			c.handleEvent(f)
		case "response":
			c.mu.Lock()
			ch, ok := c.pending[f.ID]
			if ok {
				delete(c.pending, f.ID)
			}
			c.mu.Unlock()
			if ok {
				ch <- f
			}
		}
	}
}

func (c *Client) handleEvent(f frame) {
	switch f.Event {
	case "qr":
		c.emit(protocol.Event{Kind: protocol.EventPairingCode, PairingCode: f.Code})
	case "connected":
		c.emit(protocol.Event{Kind: protocol.EventConnected})
	case "credentials":
		// Refreshed material is persisted immediately so a restart can
		// resume the session without re-pairing.
		path := filepath.Join(c.credDir, credentialFile)
		if err := os.WriteFile(path, f.Credentials, 0o600); err != nil {
			log.Printf("[wsbridge] %s persisting credentials: %v", c.sessionID, err)
		}
	case "closed":
		reason := protocol.CloseReason(f.Reason)
		if reason != protocol.ReasonLoggedOut {
			reason = protocol.ReasonConnectionLost
		}
		c.emit(protocol.Event{Kind: protocol.EventClosed, Reason: reason})
	}
}

// emit never blocks the read loop: once the consumer stops draining (it has
// seen a close event) further events are dropped.
func (c *Client) emit(ev protocol.Event) {
	select {
	case c.events <- ev:
	default:
		log.Printf("[wsbridge] %s dropping event %d, consumer gone", c.sessionID, ev.Kind)
	}
}

// finish fails all pending calls and ends the event stream.
func (c *Client) finish() {
	c.mu.Lock()
	for id, ch := range c.pending {
		delete(c.pending, id)
		close(ch)
	}
	c.mu.Unlock()
	c.eventsEnd.Do(func() { close(c.events) })
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *Client) write(req request) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	return c.conn.WriteJSON(req)
}

// call performs one request/response round trip.
func (c *Client) call(ctx context.Context, req request) (json.RawMessage, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.CallTimeout)
		defer cancel()
	}

	req.Type = "request"
	req.ID = uuid.NewString()

	ch := make(chan frame, 1)
	c.mu.Lock()
	c.pending[req.ID] = ch
	c.mu.Unlock()

	if err := c.write(req); err != nil {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
		return nil, fmt.Errorf("wsbridge: %s: %w", req.Method, err)
	}

	select {
	case f, ok := <-ch:
		if !ok {
			return nil, ErrClosed
		}
		if !f.OK {
			return nil, fmt.Errorf("wsbridge: %s: %s", req.Method, f.Error)
		}
		return f.Result, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrClosed
	}
}

func (c *Client) QueryExists(ctx context.Context, address string) (bool, error) {
	result, err := c.call(ctx, request{Method: "exists", To: address})
	if err != nil {
		return false, err
	}
	var out struct {
		Exists bool `json:"exists"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		return false, fmt.Errorf("wsbridge: exists result: %w", err)
	}
	return out.Exists, nil
}

func (c *Client) SendText(ctx context.Context, address, text string) (protocol.Ack, error) {
	result, err := c.call(ctx, request{Method: "sendText", To: address, Text: text})
	if err != nil {
		return protocol.Ack{}, err
	}
	return decodeAck(result)
}

func (c *Client) SendImage(ctx context.Context, address string, data []byte, caption string) (protocol.Ack, error) {
	result, err := c.call(ctx, request{Method: "sendImage", To: address, Image: data, Caption: caption})
	if err != nil {
		return protocol.Ack{}, err
	}
	return decodeAck(result)
}

func (c *Client) Logout(ctx context.Context) error {
	_, err := c.call(ctx, request{Method: "logout"})
	return err
}

// Close tears down the transport. Idempotent; the read loop ends the event
// stream.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
	return nil
}

func decodeAck(result json.RawMessage) (protocol.Ack, error) {
	var out struct {
		MessageID string `json:"messageId"`
		Timestamp int64  `json:"timestamp"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		return protocol.Ack{}, fmt.Errorf("wsbridge: ack: %w", err)
	}
	ack := protocol.Ack{MessageID: out.MessageID}
	if out.Timestamp > 0 {
		ack.Timestamp = time.Unix(out.Timestamp, 0).UTC()
	}
	return ack, nil
}
