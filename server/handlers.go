package server

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-solar-auth/auth"
	apperrors "github.com/jrsteele09/go-solar-auth/internal/errors"
)

type messageResponse struct {
	Message string `json:"message"`
}

type healthResponse struct {
	Status string `json:"status"`
	Mode   string `json:"mode"`
	Store  string `json:"store"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Err(err).Msg("Failed to encode response")
	}
}

// CurrentUserHandler returns the stored profile of the signed-in user.
func (s *Server) CurrentUserHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, err := auth.RequireSession(r)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, messageResponse{Message: "Unauthorized"})
			return
		}

		user, err := s.deps.Users.Get(r.Context(), claims.Subject)
		if apperrors.Is(err, apperrors.ErrUserNotFound) {
			writeJSON(w, http.StatusNotFound, messageResponse{Message: "User not found"})
			return
		}
		if err != nil {
			log.Err(err).Str("sub", claims.Subject).Msg("Failed to fetch user")
			writeJSON(w, http.StatusInternalServerError, messageResponse{Message: "Failed to fetch user"})
			return
		}
		writeJSON(w, http.StatusOK, user)
	}
}

// HealthHandler reports the auth mode and whether the session store answers.
func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok", Mode: s.deps.Mode.String(), Store: "ok"}
		status := http.StatusOK
		if s.deps.Store != nil {
			if err := s.deps.Store.Ping(r.Context()); err != nil {
				log.Err(err).Msg("Session store health check failed")
				resp.Status = "degraded"
				resp.Store = "unavailable"
				status = http.StatusServiceUnavailable
			}
		}
		writeJSON(w, status, resp)
	}
}
