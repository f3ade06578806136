package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// setupAPIRoutes sets up /api routes
func (s *RESTServer) setupAPIRoutes(r chi.Router) {
	// the websocket outlives any request timeout
	if s.deps.Live != nil {
		r.Get("/live", s.deps.Live.ServeHTTP)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))

		r.Post("/auth/login", s.HandleLogin)

		r.Route("/operators", func(r chi.Router) {
			r.Get("/", s.HandleListOperators)
			r.With(s.authMiddleware).Post("/", s.HandleCreateOperator)
			r.With(s.authMiddleware).Delete("/{id}", s.HandleDeleteOperator)
		})

		r.Route("/hide-rules", func(r chi.Router) {
			r.Get("/", s.HandleListHideRules)
			r.With(s.authMiddleware).Post("/", s.HandleCreateHideRule)
			r.With(s.authMiddleware).Delete("/{id}", s.HandleDeleteHideRule)
		})

		r.Route("/config", func(r chi.Router) {
			r.Get("/my-devices", s.HandleMyDevices)
			r.Get("/operator-colors", s.HandleOperatorColors)
		})

		r.Get("/gateways", s.HandleListGateways)
		r.Get("/gateways/nearby", s.HandleNearbyGateways)
		r.Get("/devices/{dev_addr}", s.HandleGetDevice)
		r.Get("/stats", s.HandleStats)
	})
}
