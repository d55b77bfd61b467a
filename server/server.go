package server

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-solar-auth/auth"
	"github.com/jrsteele09/go-solar-auth/internal/config"
	"github.com/jrsteele09/go-solar-auth/sessions"
	"github.com/jrsteele09/go-solar-auth/users"
)

// Deps are the authentication components the server routes to. They are
// built once at startup for the resolved mode.
type Deps struct {
	Mode    auth.Mode
	Flow    auth.Flow
	Guard   *auth.Guard
	Cookies *sessions.Cookies
	Users   users.Repo
	Store   sessions.Pinger // optional, reported by the health check
	Metrics http.Handler    // optional, served at /metrics
}

type Server struct {
	env     string // Environment (e.g., "DEV", "production")
	router  chi.Router
	routes  []string
	config  config.Config
	deps    Deps
	limiter *loginLimiter
}

func New(cfg config.Config, deps Deps) *Server {
	s := &Server{
		env:     cfg.GetEnv(),
		router:  chi.NewRouter(),
		config:  cfg,
		deps:    deps,
		limiter: newLoginLimiter(cfg.GetLoginRateLimit(), cfg.GetLoginRateWindow()),
	}

	s.router.Use(
		middleware.RealIP,
		s.RequestIDMiddleware,
		s.LoggingMiddleware,
		s.RecoverMiddleware,
		s.WWWRedirectMiddleware,
		s.FrameSecurityMiddleware,
	)

	s.initRoutes()
	s.logRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) RegisterRoute(method, pattern string, handler http.Handler) {
	s.routes = append(s.routes, method+" "+pattern)
	s.router.Method(method, pattern, handler)
}

// Protected mounts application routes behind the session guard. Handlers
// read the caller's identity with auth.RequireSession.
func (s *Server) Protected(fn func(r chi.Router)) {
	s.router.Group(func(r chi.Router) {
		r.Use(s.CorsMiddleware, s.RequireSession)
		fn(r)
	})
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return // Skip logging in non-development environments
	}
	for _, route := range s.routes {
		method, path, _ := strings.Cut(route, " ")
		log.Info().Msgf("[%-19s] %s", colourMethod(method), path)
	}
}
