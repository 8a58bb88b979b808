package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/safar/flower-store/internal/auth"
	"github.com/safar/flower-store/internal/database"
)

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error().Err(err).Msg("encode JSON response")
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

// respondStoreError maps domain sentinel errors onto HTTP status codes.
// Unknown errors become 500 with a generic message; the detail stays in logs.
func (s *Server) respondStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, database.ErrOrderNotFound),
		errors.Is(err, database.ErrProductNotFound),
		errors.Is(err, database.ErrCategoryNotFound),
		errors.Is(err, database.ErrUserNotFound):
		s.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, database.ErrInsufficientStock),
		errors.Is(err, database.ErrEmptyOrder),
		errors.Is(err, database.ErrInvalidQuantity),
		errors.Is(err, database.ErrInvalidAmount),
		errors.Is(err, database.ErrInvalidStatusTransition),
		errors.Is(err, database.ErrInvalidPaymentStatus),
		errors.Is(err, auth.ErrPasswordTooShort):
		s.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, database.ErrDuplicateEmail):
		s.respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, database.ErrInvalidCredentials):
		s.respondError(w, http.StatusUnauthorized, err.Error())
	default:
		s.logger.Error().Err(err).Msg("internal error")
		s.respondError(w, http.StatusInternalServerError, "internal server error")
	}
}
