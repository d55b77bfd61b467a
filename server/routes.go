package server

import (
	"net/http"
)

func (s *Server) initRoutes() {
	// LOGIN
	s.RegisterRoute(http.MethodGet, RouteLogin, s.LoginRateLimitMiddleware(http.HandlerFunc(s.deps.Flow.Login)))
	s.RegisterRoute(http.MethodGet, RouteCallback, http.HandlerFunc(s.deps.Flow.Callback))
	s.RegisterRoute(http.MethodGet, RouteLogout, http.HandlerFunc(s.deps.Flow.Logout))

	// API routes
	s.RegisterRoute(http.MethodGet, RouteAuthUser, s.CorsMiddleware(s.RequireSession(s.CurrentUserHandler())))
	s.RegisterRoute(http.MethodOptions, RouteAuthUser, s.CorsMiddleware(http.NotFoundHandler()))

	// Operational routes
	s.RegisterRoute(http.MethodGet, RouteHealth, s.HealthHandler())
	if s.deps.Metrics != nil {
		s.RegisterRoute(http.MethodGet, RouteMetrics, s.deps.Metrics)
	}
}
