// Pixivpush - Personalized Pixiv Recommendation Daemon
// Copyright 2026 Pixivpush Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pixivpush/pixivpush

// Package web exposes the optional admin HTTP surface: health, metrics,
// and a small JSON API over the store and the tick runner.
package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/pixivpush/pixivpush/internal/config"
	"github.com/pixivpush/pixivpush/internal/logging"
	"github.com/pixivpush/pixivpush/internal/store"
)

const shutdownGrace = 5 * time.Second

// TickRunner triggers one pipeline pass.
type TickRunner interface {
	RunTick(ctx context.Context) error
}

// Server is the admin HTTP service. It runs under the supervision tree.
type Server struct {
	store  *store.Store
	ticker TickRunner
	cfg    *config.WebConfig
	filter *config.FilterConfig
	log    zerolog.Logger
}

// NewServer builds the admin server.
func NewServer(st *store.Store, ticker TickRunner, cfg *config.WebConfig, filter *config.FilterConfig) *Server {
	return &Server{
		store:  st,
		ticker: ticker,
		cfg:    cfg,
		filter: filter,
		log:    logging.Component("web"),
	}
}

func (s *Server) String() string { return "web" }

// Serve runs the HTTP server until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port)),
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Info().Str("addr", srv.Addr).Msg("admin server started")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	}
}

// Routes assembles the router. Health and metrics stay open; the JSON
// API sits behind the admin token and a per-IP rate limit.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}))

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		window := s.cfg.RateLimitWindow
		if window <= 0 {
			window = time.Minute
		}
		r.Use(httprate.Limit(s.cfg.RateLimitReqs, window,
			httprate.WithKeyFuncs(httprate.KeyByIP)))
		r.Use(s.authenticate)

		r.Get("/profile", s.handleProfile)
		r.Post("/profile", s.handleAdjustWeight)
		r.Get("/stats", s.handleStats)
		r.Post("/tick", s.handleTick)
		r.Get("/blacklist", s.handleBlacklist)
		r.Delete("/blacklist/{tag}", s.handleUnblacklist)
		r.Get("/mutes", s.handleMutes)
		r.Post("/mutes", s.handleMute)
		r.Delete("/mutes/{tag}", s.handleUnmute)
	})
	return r
}

// authenticate requires the configured bearer token on every API call.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AdminToken == "" {
			s.writeError(w, http.StatusServiceUnavailable, errors.New("admin token not configured"))
			return
		}
		if r.Header.Get("Authorization") != "Bearer "+s.cfg.AdminToken {
			s.writeError(w, http.StatusUnauthorized, errors.New("invalid token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := s.store.GetProfile(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	top, err := s.store.TopTags(r.Context(), 20)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"tags":     profile,
		"top_tags": top,
	})
}

// handleAdjustWeight nudges one profile tag by delta. The next rebuild
// may recompute it; this is a manual steering knob, not a durable pin.
func (s *Server) handleAdjustWeight(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tag   string  `json:"tag"`
		Delta float64 `json:"delta"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Tag == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("body must be {tag, delta}"))
		return
	}
	if err := s.store.AdjustWeight(r.Context(), req.Tag, req.Delta); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"tag": req.Tag, "delta": req.Delta})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	days := 7
	if v := r.URL.Query().Get("days"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("bad days %q", v))
			return
		}
		days = parsed
	}
	stats, err := s.store.PushStats(r.Context(), days)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// handleTick starts a pipeline pass in the background and returns
// immediately; overlap policy is the orchestrator's.
func (s *Server) handleTick(w http.ResponseWriter, _ *http.Request) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		if err := s.ticker.RunTick(ctx); err != nil {
			s.log.Error().Err(err).Msg("api-triggered tick failed")
		}
	}()
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) handleBlacklist(w http.ResponseWriter, r *http.Request) {
	tags, err := s.store.Blacklist(r.Context(), s.filter.BlacklistThreshold)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"tags": tags})
}

func (s *Server) handleUnblacklist(w http.ResponseWriter, r *http.Request) {
	tag := chi.URLParam(r, "tag")
	if err := s.store.RemoveFromBlacklist(r.Context(), tag); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"removed": tag})
}

func (s *Server) handleMutes(w http.ResponseWriter, r *http.Request) {
	tags, err := s.store.MutedTags(r.Context(), time.Now())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"tags": tags})
}

func (s *Server) handleMute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tag  string `json:"tag"`
		Days int    `json:"days"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Tag == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("body must be {tag, days}"))
		return
	}
	if req.Days <= 0 {
		req.Days = 30
	}
	until := time.Now().AddDate(0, 0, req.Days)
	if err := s.store.MuteTag(r.Context(), req.Tag, until); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"tag": req.Tag, "until": until})
}

func (s *Server) handleUnmute(w http.ResponseWriter, r *http.Request) {
	tag := chi.URLParam(r, "tag")
	if err := s.store.UnmuteTag(r.Context(), tag); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"unmuted": tag})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn().Err(err).Msg("response encode failed")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
