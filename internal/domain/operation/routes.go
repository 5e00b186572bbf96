package operation

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Routes returns operation routes
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)

	r.Post("/", h.Create)
	r.Get("/mine", h.ListMine)
	r.Get("/accepted", h.ListAccepted)

	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Post("/accept", h.transition(func(r *http.Request, id uuid.UUID, userID int64) (*Operation, error) {
			return h.service.Accept(r.Context(), id, userID)
		}))
		r.Post("/request-completion", h.transition(func(r *http.Request, id uuid.UUID, userID int64) (*Operation, error) {
			return h.service.RequestCompletion(r.Context(), id, userID)
		}))
		r.Post("/complete", h.transition(func(r *http.Request, id uuid.UUID, userID int64) (*Operation, error) {
			return h.service.Complete(r.Context(), id, userID)
		}))
		r.Post("/revert", h.transition(func(r *http.Request, id uuid.UUID, userID int64) (*Operation, error) {
			return h.service.Revert(r.Context(), id, userID)
		}))
		r.Post("/cancel", h.transition(func(r *http.Request, id uuid.UUID, userID int64) (*Operation, error) {
			return h.service.Cancel(r.Context(), id, userID)
		}))
		r.Post("/close", h.transition(func(r *http.Request, id uuid.UUID, userID int64) (*Operation, error) {
			return h.service.Close(r.Context(), id, userID)
		}))
		r.Post("/publish", h.Publish)
	})

	return r
}

// ScopeRoutes is mounted under /scopes
func (h *Handler) ScopeRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{scope}/operations", h.ListScope)
	return r
}
