package quotations

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
)

// MountRoutes attaches quotation endpoints to the router. Mutating endpoints
// are rate limited per remote address.
func (h *Handler) MountRoutes(r chi.Router) {
	limiter := httprate.LimitByIP(60, time.Minute)

	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Get("/{id}/revisions", h.Revisions)
	r.Get("/{id}/revisions/{version}", h.Revision)

	r.Group(func(r chi.Router) {
		r.Use(limiter)
		r.Post("/", h.Create)
		r.Put("/{id}/items", h.UpdateItems)
		r.Post("/{id}/submit", h.Submit)
		r.Post("/{id}/decisions", h.Decide)
		r.Post("/{id}/send", h.Send)
		r.Post("/{id}/view", h.RecordView)
		r.Post("/{id}/accept", h.Accept)
		r.Post("/{id}/reject", h.Reject)
		r.Post("/{id}/archive", h.Archive)
		r.Post("/{id}/reopen", h.Reopen)
	})
}
