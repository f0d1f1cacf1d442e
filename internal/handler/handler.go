package handler

import (
	"errors"
	"log"
	"net/http"
	"regexp"

	"github.com/go-chi/chi/v5"

	"wagate/internal/service/dispatch"
	"wagate/internal/service/pairing"
	"wagate/internal/service/session"
	"wagate/pkg/utils"
)

// sessionIDPattern keeps ids safe as store keys and path elements.
var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Handler serves the gateway endpoints.
type Handler struct {
	sessions *session.Manager
	pairing  *pairing.Provider
	engine   *dispatch.Engine
}

// New creates the handler.
func New(sessions *session.Manager, pairingSvc *pairing.Provider, engine *dispatch.Engine) *Handler {
	return &Handler{sessions: sessions, pairing: pairingSvc, engine: engine}
}

// RegisterRoutes registers the session and dispatch endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/qr/{sessionID}", h.handleQR)
	r.Get("/status/{sessionID}", h.handleStatus)
	r.Delete("/session/{sessionID}", h.handleLogout)
	r.Post("/send/{sessionID}", h.handleSend)
	r.Post("/send-bulk/{sessionID}", h.handleSendBulk)
}

func (h *Handler) handleLiveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("wagate is running"))
}

// sessionID extracts and validates the id, responding 400 itself when the
// id is unusable.
func (h *Handler) sessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "sessionID")
	if !sessionIDPattern.MatchString(id) {
		utils.RespondError(w, http.StatusBadRequest, "invalid session id")
		return "", false
	}
	return id, true
}

func (h *Handler) handleQR(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	data, err := h.pairing.Artifact(r.Context(), id)
	switch {
	case err == nil:
		w.Header().Set("Content-Type", "image/png")
		w.Write(data)
	case errors.Is(err, pairing.ErrAlreadyConnected):
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("already connected"))
	case errors.Is(err, pairing.ErrTimeout):
		utils.RespondError(w, http.StatusGatewayTimeout, "pairing code not ready, try again")
	default:
		log.Printf("[handler] qr %s: %v", id, err)
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	state, found := h.sessions.State(id)
	if !found {
		utils.RespondError(w, http.StatusNotFound, "unknown session")
		return
	}
	utils.RespondData(w, http.StatusOK, map[string]string{"state": state.String()}, "")
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	if err := h.sessions.Logout(r.Context(), id); err != nil {
		if errors.Is(err, session.ErrUnknownSession) {
			utils.RespondError(w, http.StatusNotFound, "unknown session")
			return
		}
		log.Printf("[handler] logout %s: %v", id, err)
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.RespondData(w, http.StatusOK, nil, "session logged out")
}
