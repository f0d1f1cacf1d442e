// Package dispatch implements the outbound send paths: the rate-limited
// single send and the paced bulk fan-out with per-recipient accounting.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"wagate/internal/metrics"
	"wagate/internal/protocol"
	"wagate/internal/service/ratelimit"
	"wagate/internal/service/session"
)

var (
	// ErrInvalidRequest is returned before any session or state check
	// when the request is structurally unusable.
	ErrInvalidRequest = errors.New("recipients and message are required")
	// ErrRecipientNotFound means the address is not registered on the
	// messaging network. No send was attempted.
	ErrRecipientNotFound = errors.New("recipient is not registered on the network")
)

// RateLimitedError rejects a send without side effects on the network.
type RateLimitedError struct {
	// RetryAfter is the whole-second delay until a slot frees up.
	RetryAfter int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded, try again in %ds", e.RetryAfter)
}

// Payload is one outbound message. Exactly one delivery form applies per
// send: plain text, uploaded image bytes, or an image fetched from a URL.
// ImageData takes precedence over ImageURL when both are set.
type Payload struct {
	Text      string
	ImageData []byte
	ImageURL  string
}

// maxRemoteImageBytes caps remote attachment downloads.
const maxRemoteImageBytes = 20 << 20

// Options tunes the engine's pacing and retry behavior.
type Options struct {
	// NetworkSuffix is appended to bare recipient identifiers to form a
	// protocol-addressable form.
	NetworkSuffix string
	// BulkPacing is the unconditional delay after each bulk recipient.
	BulkPacing time.Duration
	// BulkRetryWait is the backoff before the single bulk retry attempt.
	BulkRetryWait time.Duration
	// FetchTimeout bounds remote attachment downloads.
	FetchTimeout time.Duration
}

// DefaultOptions returns the gateway defaults.
func DefaultOptions() Options {
	return Options{
		NetworkSuffix: "@c.us",
		BulkPacing:    500 * time.Millisecond,
		BulkRetryWait: 2 * time.Second,
		FetchTimeout:  30 * time.Second,
	}
}

// Engine is the dispatch core. It reads session and admission state and
// never mutates either beyond consuming rate slots.
type Engine struct {
	sessions *session.Manager
	limiter  *ratelimit.Limiter
	httpc    *http.Client
	opts     Options
	now      func() time.Time
}

// New creates an Engine. Zero option fields fall back to the defaults.
func New(sessions *session.Manager, limiter *ratelimit.Limiter, opts Options) *Engine {
	def := DefaultOptions()
	if opts.NetworkSuffix == "" {
		opts.NetworkSuffix = def.NetworkSuffix
	}
	if opts.BulkPacing <= 0 {
		opts.BulkPacing = def.BulkPacing
	}
	if opts.BulkRetryWait <= 0 {
		opts.BulkRetryWait = def.BulkRetryWait
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = def.FetchTimeout
	}
	return &Engine{
		sessions: sessions,
		limiter:  limiter,
		httpc:    &http.Client{Timeout: opts.FetchTimeout},
		opts:     opts,
		now:      time.Now,
	}
}

// SendOne dispatches a single message: connected-session gate, admission
// control, recipient normalization and existence check, then exactly one of
// the three delivery forms. A rejected admission sends nothing; an unknown
// recipient has already consumed its rate slot.
func (e *Engine) SendOne(ctx context.Context, id, recipient string, payload Payload) (protocol.Ack, error) {
	client, err := e.sessions.Handle(id)
	if err != nil {
		metrics.SendsTotal.WithLabelValues("not_ready").Inc()
		return protocol.Ack{}, err
	}

	if d := e.limiter.TryAdmit(id, e.now()); !d.Admitted {
		metrics.RateLimitRejections.Inc()
		metrics.SendsTotal.WithLabelValues("rate_limited").Inc()
		return protocol.Ack{}, &RateLimitedError{RetryAfter: d.RetryAfter}
	}

	address := e.normalize(recipient)
	exists, err := client.QueryExists(ctx, address)
	if err != nil {
		metrics.SendsTotal.WithLabelValues("error").Inc()
		return protocol.Ack{}, fmt.Errorf("query %q: %w", address, err)
	}
	if !exists {
		metrics.SendsTotal.WithLabelValues("not_found").Inc()
		return protocol.Ack{}, ErrRecipientNotFound
	}

	ack, err := e.deliver(ctx, client, address, payload)
	if err != nil {
		metrics.SendsTotal.WithLabelValues("error").Inc()
		return protocol.Ack{}, err
	}
	metrics.SendsTotal.WithLabelValues("sent").Inc()
	return ack, nil
}

// deliver picks the delivery form: uploaded image wins over image URL wins
// over plain text.
func (e *Engine) deliver(ctx context.Context, client protocol.Client, address string, payload Payload) (protocol.Ack, error) {
	switch {
	case len(payload.ImageData) > 0:
		return client.SendImage(ctx, address, payload.ImageData, payload.Text)
	case payload.ImageURL != "":
		data, err := e.fetchImage(ctx, payload.ImageURL)
		if err != nil {
			return protocol.Ack{}, err
		}
		return client.SendImage(ctx, address, data, payload.Text)
	default:
		return client.SendText(ctx, address, payload.Text)
	}
}

func (e *Engine) fetchImage(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch image: %w", err)
	}
	resp, err := e.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch image: unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteImageBytes))
	if err != nil {
		return nil, fmt.Errorf("fetch image: %w", err)
	}
	return data, nil
}

// normalize turns a caller-supplied recipient into its protocol-addressable
// form, appending the network suffix when absent.
func (e *Engine) normalize(recipient string) string {
	r := strings.TrimSpace(recipient)
	r = strings.TrimPrefix(r, "+")
	if strings.Contains(r, "@") {
		return r
	}
	return r + e.opts.NetworkSuffix
}
