package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// buildRouter constructs the chi router with all routes and middleware.
func (s *server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.Recoverer)
	r.Use(s.requestLogger)
	r.Use(s.corsMiddleware())

	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints.
		r.Get("/health", s.handleHealth)

		// Auth endpoints.
		r.Route("/auth", func(r chi.Router) {
			if s.cfg.Server.RateLimit.Enabled {
				r.Use(s.rateLimitMiddleware(
					s.cfg.Server.RateLimit.Auth,
				))
			}

			r.Post("/login", s.handleLogin)
			r.Post("/register", s.handleRegister)

			r.Group(func(r chi.Router) {
				r.Use(s.requireAuth)
				r.Get("/me", s.handleMe)
				r.Put("/password", s.handleChangePassword)
			})
		})

		// Run endpoints, parameterized by run kind.
		r.Route("/runs/{kind}", func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Use(s.validateKind)

			if s.cfg.Server.RateLimit.Enabled {
				r.Use(s.rateLimitMiddleware(
					s.cfg.Server.RateLimit.Authenticated,
				))
			}

			r.Post("/", s.handleSubmitRun)
			r.Get("/last", s.handleLastRun)

			r.Get("/session", s.handleGetSession)
			r.Put("/session", s.handleSaveSession)
			r.Delete("/session", s.handleClearSession)

			r.Get("/{run_id}", s.handleRunStatus)
			r.Get("/{run_id}/result/raw", s.handleRawResult)
			r.Post("/{run_id}/result/summary", s.handleCreateSummary)
		})

		// Catalog endpoints backing the run wizard.
		r.Route("/catalog", func(r chi.Router) {
			r.Use(s.requireAuth)

			if s.cfg.Server.RateLimit.Enabled {
				r.Use(s.rateLimitMiddleware(
					s.cfg.Server.RateLimit.Authenticated,
				))
			}

			r.Get("/businesses", s.handleListBusinesses)
			r.Get("/lines", s.handleListLines)
			r.Get("/lines/{line_name}/rules", s.handleListLineRules)
			r.Get("/rules/{rule_id}/versions", s.handleListRuleVersions)
			r.Get("/target-lines", s.handleListTargetLines)
			r.Get("/modules", s.handleListModules)
			r.Get("/modules/{module_name}/rules", s.handleListModuleRules)
			r.Get("/favorites", s.handleListFavorites)
			r.Put("/favorites", s.handleAddFavorite)
		})

		// Result file serving (local filesystem or S3 presigned URLs).
		r.Route("/files", func(r chi.Router) {
			r.Use(s.requireAuth)

			if s.cfg.Server.RateLimit.Enabled {
				r.Use(s.rateLimitMiddleware(
					s.cfg.Server.RateLimit.Authenticated,
				))
			}

			r.Get("/*", s.handleFileRequest)
			r.Head("/*", s.handleFileRequest)
		})

		// Admin endpoints.
		r.Route("/admin", func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Use(s.requireAdmin)

			if s.cfg.Server.RateLimit.Enabled {
				r.Use(s.rateLimitMiddleware(
					s.cfg.Server.RateLimit.Authenticated,
				))
			}

			// User management.
			r.Get("/users", s.handleListUsers)
			r.Put("/users/{id}/status", s.handleUpdateUserStatus)
			r.Put("/users/{id}/role", s.handleUpdateUserRole)
			r.Delete("/users/{id}", s.handleDeleteUser)

			// Line config management.
			r.Get("/lines", s.handleListLineConfigs)
			r.Post("/lines", s.handleCreateLineConfig)
			r.Delete("/lines/{line_name}", s.handleDeleteLineConfig)

			// Module config management.
			r.Get("/modules", s.handleListModuleConfigs)
			r.Post("/modules", s.handleCreateModuleConfig)
			r.Delete("/modules/{module_name}", s.handleDeleteModuleConfig)
		})
	})

	return r
}

// corsMiddleware returns a CORS handler configured from the server config.
func (s *server) corsMiddleware() func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedMethods:   []string{"GET", "HEAD", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}

	origins := s.cfg.Server.CORSOrigins

	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		// Reflect the requesting origin so credentials work from any origin.
		opts.AllowOriginFunc = func(_ *http.Request, _ string) bool {
			return true
		}
	} else {
		opts.AllowedOrigins = origins
	}

	return cors.Handler(opts)
}
