package http

import (
	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	// Console liveness, outside the versioned API.
	r.Get("/health", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		// Instances
		r.Get("/instances", h.ListInstances)
		r.Post("/instances", h.CreateInstance)
		r.Get("/instances/{id}", h.GetInstance)
		r.Put("/instances/{id}", h.UpdateInstance)
		r.Delete("/instances/{id}", h.DeleteInstance)

		// Per-instance operations
		r.Post("/instances/{id}/dispatch", h.DispatchTask)
		r.Post("/instances/{id}/health", h.ProbeInstance)
		r.Post("/instances/{id}/session/reset", h.ResetSession)
		r.Get("/instances/{id}/tasks", h.ListInstanceTasks)

		// Tasks
		r.Get("/tasks", h.ListTasks)
		r.Get("/tasks/{id}", h.GetTask)

		// Sandboxes
		r.Post("/sandboxes", h.LaunchSandbox)

		// Stats
		r.Get("/stats", h.Stats)
	})
}
