package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/msslab/testmgr/pkg/api/store"
)

// errorResponse is a standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// --- Public handlers ---

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Auth handlers ---

type loginRequest struct {
	UserID   string `json:"user_id"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	User        userResponse `json:"user"`
}

type userResponse struct {
	UserID     string `json:"user_id"`
	IsAdmin    bool   `json:"is_admin"`
	IsApproved bool   `json:"is_approved"`
}

func toUserResponse(user *store.User) userResponse {
	return userResponse{
		UserID:     user.UserID,
		IsAdmin:    user.IsAdmin,
		IsApproved: user.IsApproved,
	}
}

// handleLogin authenticates a user and issues an access token.
func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	if req.UserID == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"user_id and password are required"})

		return
	}

	user, err := s.store.GetUser(r.Context(), req.UserID)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized,
			errorResponse{"invalid credentials"})

		return
	}

	if !checkPassword(user.PasswordHash, req.Password) {
		writeJSON(w, http.StatusUnauthorized,
			errorResponse{"invalid credentials"})

		return
	}

	if !user.IsApproved {
		writeJSON(w, http.StatusForbidden,
			errorResponse{"account pending approval"})

		return
	}

	token, err := generateToken(
		s.cfg.Auth.JWTSecret,
		user.UserID,
		user.IsAdmin,
		s.cfg.TokenTTLDuration(),
	)
	if err != nil {
		s.log.WithError(err).Error("Failed to issue token")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken: token,
		TokenType:   "bearer",
		User:        toUserResponse(user),
	})
}

type registerRequest struct {
	UserID   string `json:"user_id"`
	Password string `json:"password"`
}

// handleRegister creates a new unapproved account. An admin must approve
// it before login succeeds.
func (s *server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	if req.UserID == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"user_id and password are required"})

		return
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		s.log.WithError(err).Error("Failed to hash password")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	user := &store.User{
		UserID:       req.UserID,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.store.CreateUser(r.Context(), user); err != nil {
		writeJSON(w, http.StatusConflict,
			errorResponse{"user already exists"})

		return
	}

	writeJSON(w, http.StatusCreated, toUserResponse(user))
}

// handleMe returns the authenticated user.
func (s *server) handleMe(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())

	writeJSON(w, http.StatusOK, toUserResponse(user))
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// handleChangePassword updates the authenticated user's password.
func (s *server) handleChangePassword(
	w http.ResponseWriter, r *http.Request,
) {
	user := userFromContext(r.Context())

	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	if req.NewPassword == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"new_password is required"})

		return
	}

	if !checkPassword(user.PasswordHash, req.CurrentPassword) {
		writeJSON(w, http.StatusUnauthorized,
			errorResponse{"invalid credentials"})

		return
	}

	hash, err := hashPassword(req.NewPassword)
	if err != nil {
		s.log.WithError(err).Error("Failed to hash password")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	user.PasswordHash = hash

	if err := s.store.UpdateUser(r.Context(), user); err != nil {
		s.log.WithError(err).Error("Failed to update user")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- File serving ---

// handleFileRequest serves result artifacts from the local results
// directory or redirects to a presigned S3 URL, depending on which
// backend is configured.
func (s *server) handleFileRequest(w http.ResponseWriter, r *http.Request) {
	filePath := chi.URLParam(r, "*")
	if filePath == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"file path is required"})

		return
	}

	if s.localServer != nil {
		if err := s.localServer.ServeFile(w, r, filePath); err != nil {
			writeJSON(w, http.StatusNotFound,
				errorResponse{"file not found"})
		}

		return
	}

	if s.presigner != nil {
		if r.Method == http.MethodHead {
			s.handleS3Head(w, r, filePath)

			return
		}

		url, err := s.presigner.GeneratePresignedURL(r.Context(), filePath)
		if err != nil {
			s.log.WithError(err).
				WithField("path", filePath).
				Warn("Failed to generate presigned URL")

			writeJSON(w, http.StatusForbidden,
				errorResponse{"path not allowed or presign failed"})

			return
		}

		if r.URL.Query().Get("redirect") == "true" {
			http.Redirect(w, r, url, http.StatusFound)

			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"url": url})

		return
	}

	writeJSON(w, http.StatusNotFound,
		errorResponse{"storage not configured"})
}

// handleS3Head writes the object's Content-Length and Content-Type so
// clients can determine file sizes without downloading.
func (s *server) handleS3Head(
	w http.ResponseWriter,
	r *http.Request,
	filePath string,
) {
	result, err := s.presigner.HeadObject(r.Context(), filePath)
	if err != nil {
		s.log.WithError(err).
			WithField("path", filePath).
			Debug("S3 HeadObject failed")

		w.WriteHeader(http.StatusNotFound)

		return
	}

	w.Header().Set("Content-Type", result.ContentType)
	w.Header().Set(
		"Content-Length", strconv.FormatInt(result.ContentLength, 10),
	)
	w.WriteHeader(http.StatusOK)
}
