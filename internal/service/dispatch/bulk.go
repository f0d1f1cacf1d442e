package dispatch

import (
	"context"
	"log"
	"strings"
	"time"

	"wagate/internal/metrics"
	"wagate/internal/protocol"
)

// BulkStatus is the per-recipient outcome of a bulk job.
type BulkStatus string

const (
	StatusSent      BulkStatus = "sent"
	StatusSentRetry BulkStatus = "sent (retry)"
	StatusFailed    BulkStatus = "failed"
	StatusSkipped   BulkStatus = "skipped"
)

// BulkEntry records one recipient's outcome, in input order.
type BulkEntry struct {
	Number string     `json:"number"`
	Status BulkStatus `json:"status"`
	Reason string     `json:"reason,omitempty"`
}

// BulkReport aggregates a finished bulk job. Processed always equals
// Sent+Failed+Skipped, which equals Total once the job ran to completion.
type BulkReport struct {
	Total     int         `json:"total"`
	Processed int         `json:"processed"`
	Sent      int         `json:"sent"`
	Failed    int         `json:"failed"`
	Skipped   int         `json:"skipped"`
	Report    []BulkEntry `json:"report"`
}

// SendBulk processes recipients strictly sequentially in input order. Bulk
// dispatch deliberately bypasses admission control; its fixed per-recipient
// pacing is the throttle. Unknown recipients are skipped, send failures are
// isolated per recipient, and with retryFailed each failure gets exactly one
// retry after a fixed backoff. Once started the job runs to completion; the
// context only bounds the individual protocol calls.
func (e *Engine) SendBulk(ctx context.Context, id string, recipients []string, message string, retryFailed bool) (*BulkReport, error) {
	if len(recipients) == 0 || strings.TrimSpace(message) == "" {
		return nil, ErrInvalidRequest
	}

	client, err := e.sessions.Handle(id)
	if err != nil {
		return nil, err
	}

	report := &BulkReport{
		Total:  len(recipients),
		Report: make([]BulkEntry, 0, len(recipients)),
	}

	log.Printf("[dispatch] bulk job for %s: %d recipients, retryFailed=%t", id, len(recipients), retryFailed)
	for _, recipient := range recipients {
		entry := e.bulkOne(ctx, client, recipient, message, retryFailed)
		report.Report = append(report.Report, entry)
		switch entry.Status {
		case StatusSent, StatusSentRetry:
			report.Sent++
		case StatusFailed:
			report.Failed++
		case StatusSkipped:
			report.Skipped++
		}
		metrics.BulkRecipients.WithLabelValues(string(entry.Status)).Inc()

		// Pacing applies after every recipient, skips included, so the
		// network layer is never flooded.
		time.Sleep(e.opts.BulkPacing)
	}

	report.Processed = report.Sent + report.Failed + report.Skipped
	log.Printf("[dispatch] bulk job for %s done: sent=%d failed=%d skipped=%d", id, report.Sent, report.Failed, report.Skipped)
	return report, nil
}

func (e *Engine) bulkOne(ctx context.Context, client protocol.Client, recipient, message string, retryFailed bool) BulkEntry {
	address := e.normalize(recipient)

	exists, err := client.QueryExists(ctx, address)
	if err != nil {
		return BulkEntry{Number: recipient, Status: StatusFailed, Reason: err.Error()}
	}
	if !exists {
		return BulkEntry{Number: recipient, Status: StatusSkipped, Reason: "number not registered"}
	}

	if _, err := client.SendText(ctx, address, message); err == nil {
		return BulkEntry{Number: recipient, Status: StatusSent}
	} else if !retryFailed {
		return BulkEntry{Number: recipient, Status: StatusFailed, Reason: err.Error()}
	}

	// One retry attempt total, after a fixed backoff.
	time.Sleep(e.opts.BulkRetryWait)
	if _, err := client.SendText(ctx, address, message); err != nil {
		return BulkEntry{Number: recipient, Status: StatusFailed, Reason: err.Error()}
	}
	return BulkEntry{Number: recipient, Status: StatusSentRetry}
}
