package server

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-solar-auth/auth"
	apperrors "github.com/jrsteele09/go-solar-auth/internal/errors"
	"github.com/jrsteele09/go-solar-auth/sessions"
)

// RequireSession is middleware for API routes that validates the session
// cookie through the guard. Rejected requests get a 401 and the cookie is
// cleared; the browser must log in again.
func (s *Server) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID, err := s.deps.Cookies.SessionID(r)
		if err != nil {
			s.unauthorized(w, r, err)
			return
		}

		session, err := s.deps.Guard.Authorize(r.Context(), sessionID)
		if apperrors.Is(err, apperrors.ErrUnauthenticated) {
			s.unauthorized(w, r, err)
			return
		}
		if err != nil {
			log.Err(err).Str("request_id", RequestID(r.Context())).Msg("Session check failed")
			writeJSON(w, http.StatusInternalServerError, messageResponse{Message: "Internal server error"})
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithSession(r.Context(), sessionID, session)))
	})
}

func (s *Server) unauthorized(w http.ResponseWriter, r *http.Request, err error) {
	if _, cookieErr := r.Cookie(sessions.CookieName); cookieErr == nil {
		s.deps.Cookies.Clear(w, r)
	}
	log.Debug().Err(err).Str("path", r.URL.Path).Msg("Unauthorized")
	writeJSON(w, http.StatusUnauthorized, messageResponse{Message: "Unauthorized"})
}
