package routers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/andrei-shtanakov/collab-editor/internal/api"
	"github.com/andrei-shtanakov/collab-editor/internal/config"
)

func New(cfg config.Config, h *api.Handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.Health)

	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", h.CreateSession)
		r.Get("/", h.ListSessions)
		r.Get("/{id}", h.GetSession)
		r.Patch("/{id}", h.UpdateSession)
		r.Delete("/{id}", h.DeleteSession)
	})

	r.Get("/ws/{id}", h.CollabWS)

	return r
}
