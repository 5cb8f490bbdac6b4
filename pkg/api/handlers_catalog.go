package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/msslab/testmgr/pkg/api/store"
)

// defaultBusinessUnits keeps the wizard usable before any line configs
// have been created.
var defaultBusinessUnits = []string{"Memory", "Foundry", "NRD"}

// ruleBase derives the rule name stem from a configured home directory.
func ruleBase(homeDirPath string) string {
	return path.Base(strings.TrimRight(homeDirPath, "/"))
}

// lineRules lists the test rules discoverable under a line's home dir.
func lineRules(homeDirPath string) []string {
	base := ruleBase(homeDirPath)

	return []string{
		fmt.Sprintf("%s_core", base),
		fmt.Sprintf("%s_sanity", base),
		fmt.Sprintf("%s_regression", base),
	}
}

// moduleRules lists the test rules discoverable on a module server.
func moduleRules(homeDirPath string) []string {
	base := ruleBase(homeDirPath)

	return []string{
		fmt.Sprintf("%s_full", base),
		fmt.Sprintf("%s_smoke", base),
		fmt.Sprintf("%s_nightly", base),
	}
}

// handleListBusinesses returns the distinct business units.
func (s *server) handleListBusinesses(
	w http.ResponseWriter, r *http.Request,
) {
	businesses, err := s.store.ListBusinessUnits(r.Context())
	if err != nil {
		s.log.WithError(err).Error("Failed to list business units")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	if len(businesses) == 0 {
		businesses = defaultBusinessUnits
	}

	writeJSON(w, http.StatusOK, businesses)
}

// handleListLines returns the development lines of a business unit.
func (s *server) handleListLines(w http.ResponseWriter, r *http.Request) {
	businessUnit := r.URL.Query().Get("business_unit")
	if businessUnit == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"business_unit is required"})

		return
	}

	lines, err := s.store.ListLineConfigs(r.Context(), businessUnit)
	if err != nil {
		s.log.WithError(err).Error("Failed to list line configs")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	writeJSON(w, http.StatusOK, lines)
}

type lineRulesResponse struct {
	HomeDirPath string   `json:"home_dir_path"`
	Rules       []string `json:"rules"`
}

// handleListLineRules returns the rules discoverable on a line.
func (s *server) handleListLineRules(
	w http.ResponseWriter, r *http.Request,
) {
	cfg, err := s.store.GetLineConfig(
		r.Context(), chi.URLParam(r, "line_name"),
	)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound,
				errorResponse{"line not found"})

			return
		}

		s.log.WithError(err).Error("Failed to get line config")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	writeJSON(w, http.StatusOK, lineRulesResponse{
		HomeDirPath: cfg.HomeDirPath,
		Rules:       lineRules(cfg.HomeDirPath),
	})
}

type ruleVersionsResponse struct {
	OldVersion string `json:"old_version"`
	NewVersion string `json:"new_version"`
}

// handleListRuleVersions returns the comparable versions of a rule.
// Version discovery against the rule repository is not implemented yet,
// so this mirrors the fixed pair the wizard expects.
func (s *server) handleListRuleVersions(
	w http.ResponseWriter, _ *http.Request,
) {
	writeJSON(w, http.StatusOK, ruleVersionsResponse{
		OldVersion: "v1.0.0",
		NewVersion: "v1.1.0 (Draft)",
	})
}

// handleListTargetLines returns the line names of a business unit that
// a run can target.
func (s *server) handleListTargetLines(
	w http.ResponseWriter, r *http.Request,
) {
	businessUnit := r.URL.Query().Get("business_unit")
	if businessUnit == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"business_unit is required"})

		return
	}

	lines, err := s.store.ListLineConfigs(r.Context(), businessUnit)
	if err != nil {
		s.log.WithError(err).Error("Failed to list line configs")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	names := make([]string, 0, len(lines))
	for _, line := range lines {
		names = append(names, line.LineName)
	}

	writeJSON(w, http.StatusOK, names)
}

// handleListModules returns the configured module servers.
func (s *server) handleListModules(w http.ResponseWriter, r *http.Request) {
	modules, err := s.store.ListModuleConfigs(r.Context())
	if err != nil {
		s.log.WithError(err).Error("Failed to list module configs")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	writeJSON(w, http.StatusOK, modules)
}

// handleListModuleRules returns the rules discoverable on a module server.
func (s *server) handleListModuleRules(
	w http.ResponseWriter, r *http.Request,
) {
	cfg, err := s.store.GetModuleConfig(
		r.Context(), chi.URLParam(r, "module_name"),
	)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound,
				errorResponse{"module not found"})

			return
		}

		s.log.WithError(err).Error("Failed to get module config")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	writeJSON(w, http.StatusOK, moduleRules(cfg.HomeDirPath))
}

// --- Favorites ---

// handleListFavorites returns the caller's bookmarked rules.
func (s *server) handleListFavorites(
	w http.ResponseWriter, r *http.Request,
) {
	user := userFromContext(r.Context())

	favorites, err := s.store.ListFavorites(r.Context(), user.UserID)
	if err != nil {
		s.log.WithError(err).Error("Failed to list favorites")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	writeJSON(w, http.StatusOK, favorites)
}

type addFavoriteRequest struct {
	RuleName   string `json:"rule_name"`
	ModuleName string `json:"module_name"`
}

// handleAddFavorite bookmarks a rule for the caller.
func (s *server) handleAddFavorite(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())

	var req addFavoriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	if req.RuleName == "" || req.ModuleName == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"rule_name and module_name are required"})

		return
	}

	fav := &store.Favorite{
		Owner:      user.UserID,
		RuleName:   req.RuleName,
		ModuleName: req.ModuleName,
	}

	if err := s.store.AddFavorite(r.Context(), fav); err != nil {
		s.log.WithError(err).Error("Failed to add favorite")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	writeJSON(w, http.StatusCreated, fav)
}
