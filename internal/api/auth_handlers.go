package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/safar/flower-store/internal/auth"
	"github.com/safar/flower-store/internal/database"
	"github.com/safar/flower-store/internal/models"
	"github.com/safar/flower-store/internal/store"
)

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type tokenResponse struct {
	User      *models.User `json:"user"`
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" || req.Name == "" {
		s.respondError(w, http.StatusBadRequest, "email and name are required")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}

	user, err := store.CreateUser(r.Context(), s.db, req.Email, hash, req.Name)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}

	token, expiresAt, err := s.jwt.GenerateAccessToken(user.ID, user.Email, user.Role)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}

	s.respondJSON(w, http.StatusCreated, tokenResponse{User: user, Token: token, ExpiresAt: expiresAt})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := store.GetUserByEmail(r.Context(), s.db, req.Email)
	if err != nil {
		if errors.Is(err, database.ErrUserNotFound) {
			s.respondStoreError(w, database.ErrInvalidCredentials)
			return
		}
		s.respondStoreError(w, err)
		return
	}

	if !auth.CheckPassword(req.Password, user.PasswordHash) {
		s.respondStoreError(w, database.ErrInvalidCredentials)
		return
	}

	token, expiresAt, err := s.jwt.GenerateAccessToken(user.ID, user.Email, user.Role)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, tokenResponse{User: user, Token: token, ExpiresAt: expiresAt})
}
