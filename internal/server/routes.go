package server

import (
	"github.com/go-chi/chi/v5"
)

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	r := s.router

	r.Route("/review", func(r chi.Router) {
		r.Get("/", s.listReviews)
		r.Post("/", s.openReview)

		r.Route("/{reviewID}", func(r chi.Router) {
			r.Get("/", s.getReview)
			r.Post("/update", s.updateReview)
			r.Post("/edit", s.editReview)
			r.Post("/approve", s.approveReview)
			r.Post("/reject", s.rejectReview)

			// Acting as the human in front of the surface
			r.Get("/surface", s.getSurface)
			r.Put("/surface", s.editSurface)
			r.Delete("/surface", s.closeSurface)
		})
	})

	r.Get("/history", s.listHistory)

	// Event streaming (SSE)
	r.Get("/event", s.allEvents)
}
