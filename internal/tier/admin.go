package tier

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/edgemesh/internal/observability"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// AdminRouter is the read-only HTTP surface of a running tier.
func (s *Service) AdminRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetrics(s.cfg.Role.Name))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":     "ok",
			"role":       s.cfg.Role.Name,
			"uptime":     time.Since(s.startedAt).String(),
			"peers":      s.registry.Count(),
			"registered": s.client == nil || s.client.Registered(),
		})
	})
	r.Method(http.MethodGet, "/metrics", observability.MetricsHandler())

	r.Group(func(r chi.Router) {
		r.Use(s.requireAdminToken)
		r.Get("/identity", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, s.identity.Snapshot())
		})
		r.Get("/peers", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"peers": s.registry.Snapshot()})
		})
		r.Get("/peers/{id}", func(w http.ResponseWriter, r *http.Request) {
			rec, ok := s.registry.Get(chi.URLParam(r, "id"))
			if !ok {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "peer not found"})
				return
			}
			writeJSON(w, http.StatusOK, rec)
		})
		r.Post("/sweep", func(w http.ResponseWriter, r *http.Request) {
			// A client hanging up must not turn in-flight probes into evictions.
			writeJSON(w, http.StatusOK, s.SweepOnce(context.WithoutCancel(r.Context())))
		})
		r.Get("/messages", func(w http.ResponseWriter, r *http.Request) {
			limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
			writeJSON(w, http.StatusOK, map[string]any{"messages": s.inbox.Recent(limit)})
		})
	})
	return r
}

// requireAdminToken checks "Authorization: Bearer <token>" when an admin
// validator is configured.
func (s *Service) requireAdminToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.adminValidator == nil {
			next.ServeHTTP(w, r)
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		if err := s.adminValidator.Validate(token); err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Warn().Err(err).Msg("tier.writeJSON encode")
	}
}
