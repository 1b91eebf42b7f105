package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(h.RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)

	r.Route("/api", func(r chi.Router) {
		// Public routes
		r.Post("/auth/login", h.Login)
		r.Get("/health", h.Health)

		// Token-gated routes
		r.Group(func(r chi.Router) {
			r.Use(h.JWTAuth)

			r.Route("/chat", func(r chi.Router) {
				r.Post("/send", h.SendChat)
				r.Get("/history", h.ChatHistory)
				r.Get("/image/{filename}", h.ChatImage)
				r.Delete("/{id}", h.DeleteChat)
			})

			r.Route("/vocab", func(r chi.Router) {
				r.Get("/", h.ListVocab)
				r.Patch("/{id}/star", h.StarVocab)
				r.Patch("/{id}/learned", h.LearnedVocab)
				r.Delete("/{id}", h.DeleteVocab)
			})

			r.Route("/grammar", func(r chi.Router) {
				r.Get("/", h.ListGrammar)
				r.Patch("/{id}/star", h.StarGrammar)
				r.Patch("/{id}/learned", h.LearnedGrammar)
				r.Delete("/{id}", h.DeleteGrammar)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Get("/stats/token", h.TokenStats)
				r.Get("/stats/login", h.LoginLogs)
			})
		})
	})

	return r
}
