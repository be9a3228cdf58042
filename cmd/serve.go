package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/techdev-loop/leaderboard-sub002/internal/model"
	"github.com/techdev-loop/leaderboard-sub002/internal/orchestrator"
	"github.com/techdev-loop/leaderboard-sub002/internal/profile"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve profiles, budget status and metrics over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", servePort),
			Handler:           newRouter(a),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", servePort), zap.Bool("metrics", a.Metrics != nil))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

func newRouter(a *app) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "oracle": a.Oracle.Provider()})
	})

	if a.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(a.Metrics.Registry, promhttp.HandlerOpts{}))
	}

	r.Get("/profiles", func(w http.ResponseWriter, r *http.Request) {
		domains, err := a.Profiles.List(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if domains == nil {
			domains = []string{}
		}
		writeJSON(w, http.StatusOK, domains)
	})

	r.Get("/profiles/{domain}", func(w http.ResponseWriter, r *http.Request) {
		p, err := a.Profiles.Lookup(r.Context(), chi.URLParam(r, "domain"))
		if errors.Is(err, profile.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	})

	r.Get("/flagged", func(w http.ResponseWriter, r *http.Request) {
		sites, err := a.Profiles.Flagged(r.Context(), r.URL.Query().Get("all") == "true")
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, sites)
	})

	r.Get("/budget", func(w http.ResponseWriter, r *http.Request) {
		domain := r.URL.Query().Get("domain")
		if domain != "" {
			domain = profile.Key(domain)
		}
		st, err := a.Ledger.Status(r.Context(), domain)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	})

	r.Post("/evaluate", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Domain   string                  `json:"domain"`
			Result   *model.ExtractionResult `json:"result"`
			Previous *model.ExtractionResult `json:"previous"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, eris.Wrap(err, "invalid request body"))
			return
		}
		if req.Result == nil {
			writeError(w, http.StatusBadRequest, eris.New("result is required"))
			return
		}
		if req.Domain == "" {
			req.Domain = req.Result.Domain
		}
		if req.Domain == "" {
			writeError(w, http.StatusBadRequest, eris.New("domain is required"))
			return
		}
		out := a.Orchestrator.Evaluate(r.Context(), orchestrator.Input{Domain: req.Domain, Result: req.Result, Previous: req.Previous})
		writeJSON(w, http.StatusOK, viewOf(out))
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	zap.L().Warn("request failed", zap.Int("status", status), zap.Error(err))
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 8080, "server port")
	rootCmd.AddCommand(serveCmd)
}
