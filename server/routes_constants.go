package server

import "github.com/jrsteele09/go-solar-auth/auth"

// Route path constants
// All application routes are defined here to ensure consistency and prevent typos
const (
	// Auth Routes - Login & Logout
	RouteLogin    = auth.LoginPath
	RouteCallback = auth.CallbackPath
	RouteLogout   = auth.LogoutPath

	// API Routes
	RouteAuthUser = "/api/auth/user"

	// Operational Routes
	RouteHealth  = "/healthz"
	RouteMetrics = "/metrics"
)
