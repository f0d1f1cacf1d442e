// Package handler wires the gateway's HTTP surface to the core services.
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"wagate/internal/config"
	"wagate/internal/service/dispatch"
	"wagate/internal/service/pairing"
	"wagate/internal/service/session"
)

// NewRouter builds the chi router for all gateway endpoints.
func NewRouter(sessions *session.Manager, pairingSvc *pairing.Provider, engine *dispatch.Engine, authCfg config.AuthConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	h := New(sessions, pairingSvc, engine)

	r.Get("/", h.handleLiveness)

	r.Group(func(api chi.Router) {
		if authCfg.Enabled {
			api.Use(BearerAuth(authCfg.JWTSecret))
		}
		h.RegisterRoutes(api)
	})

	return r
}
