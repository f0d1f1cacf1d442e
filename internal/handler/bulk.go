package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"wagate/internal/service/dispatch"
	"wagate/internal/service/session"
	"wagate/pkg/utils"
)

type bulkSummary struct {
	Total     int `json:"total"`
	Processed int `json:"processed"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

type bulkResponse struct {
	Success bool                 `json:"success"`
	Summary bulkSummary          `json:"summary"`
	Report  []dispatch.BulkEntry `json:"report"`
}

func (h *Handler) handleSendBulk(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	var body struct {
		Numbers     []string `json:"numbers"`
		Message     string   `json:"message"`
		RetryFailed bool     `json:"retryFailed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// A bulk job runs to completion once started; the request context is
	// deliberately not used so a dropped caller cannot abort the batch.
	report, err := h.engine.SendBulk(context.Background(), id, body.Numbers, body.Message, body.RetryFailed)
	if err != nil {
		switch {
		case errors.Is(err, dispatch.ErrInvalidRequest):
			utils.RespondError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, session.ErrNotReady):
			utils.RespondError(w, http.StatusBadRequest, "session not connected, scan the QR code first")
		default:
			log.Printf("[handler] send-bulk %s: %v", id, err)
			utils.RespondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	utils.RespondJSON(w, http.StatusOK, bulkResponse{
		Success: true,
		Summary: bulkSummary{
			Total:     report.Total,
			Processed: report.Processed,
			Sent:      report.Sent,
			Failed:    report.Failed,
			Skipped:   report.Skipped,
		},
		Report: report.Report,
	})
}
