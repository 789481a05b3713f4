package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers beta and portfolio routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/betas", func(r chi.Router) {
		r.Post("/", h.HandleEstimateBetas)                // Estimate betas for a return table
		r.Delete("/cache", h.HandleClearBetasCache)       // Drop every cached estimate
		r.Delete("/cache/{key}", h.HandleInvalidateBetas) // Drop one cached estimate
	})

	r.Route("/portfolio", func(r chi.Router) {
		r.Post("/optimize", h.HandleOptimize) // Optimize weights toward target exposures
		r.Post("/export", h.HandleExport)     // Optimize and render CSV
		r.Get("/sample", h.HandleGetSample)   // Generated demo return table
		r.Get("/presets", h.HandleGetPresets) // Target exposure presets
	})
}
