package orders

import "github.com/go-chi/chi/v5"

func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
	r.Post("/{id}/status", h.SetStatus)
	r.Post("/{id}/movements", h.AddMovement)
	r.Post("/{id}/movements/{movementId}/post", h.PostMovement)
	r.Post("/{id}/movements/{movementId}/cancel", h.CancelMovement)
}
