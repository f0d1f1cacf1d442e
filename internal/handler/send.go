package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"wagate/internal/service/dispatch"
	"wagate/internal/service/session"
	"wagate/pkg/utils"
)

// maxUploadBytes bounds in-request image uploads.
const maxUploadBytes = 20 << 20

func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	number, payload, err := parseSendRequest(r)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	ack, err := h.engine.SendOne(r.Context(), id, number, payload)
	if err != nil {
		h.respondSendError(w, id, err)
		return
	}
	utils.RespondData(w, http.StatusOK, ack, "message sent")
}

// parseSendRequest accepts multipart (optional file field "image") or JSON
// (optional "image" URL). The uploaded file wins over the URL.
func parseSendRequest(r *http.Request) (string, dispatch.Payload, error) {
	var number string
	var payload dispatch.Payload

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			return "", payload, fmt.Errorf("invalid multipart body: %w", err)
		}
		number = r.FormValue("number")
		payload.Text = r.FormValue("message")

		if file, _, err := r.FormFile("image"); err == nil {
			defer file.Close()
			data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
			if err != nil {
				return "", payload, fmt.Errorf("reading image upload: %w", err)
			}
			payload.ImageData = data
		} else {
			payload.ImageURL = r.FormValue("image")
		}
	} else {
		var body struct {
			Number  string `json:"number"`
			Message string `json:"message"`
			Image   string `json:"image"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return "", payload, errors.New("invalid request body")
		}
		number = body.Number
		payload.Text = body.Message
		payload.ImageURL = body.Image
	}

	if strings.TrimSpace(number) == "" || strings.TrimSpace(payload.Text) == "" {
		return "", payload, errors.New("number and message are required")
	}
	return number, payload, nil
}

func (h *Handler) respondSendError(w http.ResponseWriter, id string, err error) {
	var rl *dispatch.RateLimitedError
	switch {
	case errors.Is(err, session.ErrNotReady):
		utils.RespondError(w, http.StatusBadRequest, "session not connected, scan the QR code first")
	case errors.Is(err, dispatch.ErrRecipientNotFound):
		utils.RespondError(w, http.StatusNotFound, "number is not registered on the network")
	case errors.As(err, &rl):
		utils.RespondError(w, http.StatusTooManyRequests,
			fmt.Sprintf("Rate limit exceeded. Try again in %ds", rl.RetryAfter))
	default:
		log.Printf("[handler] send %s: %v", id, err)
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
	}
}
