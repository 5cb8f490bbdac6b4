package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/msslab/testmgr/pkg/api/store"
)

// --- User management ---

// handleListUsers returns all users.
func (s *server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		s.log.WithError(err).Error("Failed to list users")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	resp := make([]userResponse, 0, len(users))
	for i := range users {
		resp = append(resp, toUserResponse(&users[i]))
	}

	writeJSON(w, http.StatusOK, resp)
}

type updateUserStatusRequest struct {
	IsApproved bool `json:"is_approved"`
}

// handleUpdateUserStatus approves or revokes a user account.
func (s *server) handleUpdateUserStatus(
	w http.ResponseWriter, r *http.Request,
) {
	var req updateUserStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	user, err := s.store.GetUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound,
				errorResponse{"user not found"})

			return
		}

		s.log.WithError(err).Error("Failed to get user")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	user.IsApproved = req.IsApproved

	if err := s.store.UpdateUser(r.Context(), user); err != nil {
		s.log.WithError(err).Error("Failed to update user")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(user))
}

type updateUserRoleRequest struct {
	IsAdmin bool `json:"is_admin"`
}

// handleUpdateUserRole grants or revokes admin rights.
func (s *server) handleUpdateUserRole(
	w http.ResponseWriter, r *http.Request,
) {
	var req updateUserRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	user, err := s.store.GetUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound,
				errorResponse{"user not found"})

			return
		}

		s.log.WithError(err).Error("Failed to get user")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	user.IsAdmin = req.IsAdmin

	if err := s.store.UpdateUser(r.Context(), user); err != nil {
		s.log.WithError(err).Error("Failed to update user")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// handleDeleteUser removes a user account. Admins cannot delete their
// own account.
func (s *server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	caller := userFromContext(r.Context())
	userID := chi.URLParam(r, "id")

	if caller.UserID == userID {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"cannot delete your own account"})

		return
	}

	if err := s.store.DeleteUser(r.Context(), userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound,
				errorResponse{"user not found"})

			return
		}

		s.log.WithError(err).Error("Failed to delete user")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// --- Line config management ---

// handleListLineConfigs returns every configured development line.
func (s *server) handleListLineConfigs(
	w http.ResponseWriter, r *http.Request,
) {
	lines, err := s.store.ListLineConfigs(r.Context(), "")
	if err != nil {
		s.log.WithError(err).Error("Failed to list line configs")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	writeJSON(w, http.StatusOK, lines)
}

type createLineConfigRequest struct {
	BusinessUnit string `json:"business_unit"`
	LineName     string `json:"line_name"`
	HomeDirPath  string `json:"home_dir_path"`
	IsTargetLine bool   `json:"is_target_line"`
}

// handleCreateLineConfig registers a development line.
func (s *server) handleCreateLineConfig(
	w http.ResponseWriter, r *http.Request,
) {
	var req createLineConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	if req.BusinessUnit == "" || req.LineName == "" || req.HomeDirPath == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{
				"business_unit, line_name, and home_dir_path are required",
			})

		return
	}

	cfg := &store.LineConfig{
		BusinessUnit: req.BusinessUnit,
		LineName:     req.LineName,
		HomeDirPath:  req.HomeDirPath,
		IsTargetLine: req.IsTargetLine,
	}

	if err := s.store.CreateLineConfig(r.Context(), cfg); err != nil {
		writeJSON(w, http.StatusConflict,
			errorResponse{"line already exists"})

		return
	}

	writeJSON(w, http.StatusCreated, cfg)
}

// handleDeleteLineConfig removes a development line.
func (s *server) handleDeleteLineConfig(
	w http.ResponseWriter, r *http.Request,
) {
	if err := s.store.DeleteLineConfig(
		r.Context(), chi.URLParam(r, "line_name"),
	); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound,
				errorResponse{"line not found"})

			return
		}

		s.log.WithError(err).Error("Failed to delete line config")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// --- Module config management ---

// handleListModuleConfigs returns every configured module server.
func (s *server) handleListModuleConfigs(
	w http.ResponseWriter, r *http.Request,
) {
	modules, err := s.store.ListModuleConfigs(r.Context())
	if err != nil {
		s.log.WithError(err).Error("Failed to list module configs")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	writeJSON(w, http.StatusOK, modules)
}

type createModuleConfigRequest struct {
	ModuleName  string `json:"module_name"`
	HomeDirPath string `json:"home_dir_path"`
}

// handleCreateModuleConfig registers a module server.
func (s *server) handleCreateModuleConfig(
	w http.ResponseWriter, r *http.Request,
) {
	var req createModuleConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	if req.ModuleName == "" || req.HomeDirPath == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"module_name and home_dir_path are required"})

		return
	}

	cfg := &store.ModuleConfig{
		ModuleName:  req.ModuleName,
		HomeDirPath: req.HomeDirPath,
	}

	if err := s.store.CreateModuleConfig(r.Context(), cfg); err != nil {
		writeJSON(w, http.StatusConflict,
			errorResponse{"module already exists"})

		return
	}

	writeJSON(w, http.StatusCreated, cfg)
}

// handleDeleteModuleConfig removes a module server.
func (s *server) handleDeleteModuleConfig(
	w http.ResponseWriter, r *http.Request,
) {
	if err := s.store.DeleteModuleConfig(
		r.Context(), chi.URLParam(r, "module_name"),
	); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound,
				errorResponse{"module not found"})

			return
		}

		s.log.WithError(err).Error("Failed to delete module config")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
