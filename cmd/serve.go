package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mintarchive/provenance-cli/internal/model"
	"github.com/mintarchive/provenance-cli/internal/monitoring"
	"github.com/mintarchive/provenance-cli/internal/orchestrator"
	"github.com/mintarchive/provenance-cli/internal/store"
	"github.com/mintarchive/provenance-cli/internal/strategy"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API for acquisition requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if cfg.Monitoring.WebhookURL != "" {
			collector := monitoring.NewCollector(env.Store, env.snapshotter())
			alerter := monitoring.NewAlerter(cfg.Monitoring)
			checker := monitoring.NewChecker(collector, alerter, cfg.Monitoring)
			go checker.Run(ctx)
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(env),
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

// newRouter wires the API routes onto a chi router.
func newRouter(env *engineEnv) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/acquire", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Target string `json:"target"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if body.Target == "" {
			writeError(w, http.StatusBadRequest, "target is required")
			return
		}

		target, err := model.ResolveTarget(body.Target, cfg.Scan.DefaultChainID, strategy.Hints(cfg.Strategies))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		decision, err := env.Orchestrator.Acquire(req.Context(), target)
		if err != nil && !errors.Is(err, orchestrator.ErrExhausted) {
			zap.L().Error("acquisition failed", zap.String("target", target.Raw), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "acquisition error")
			return
		}
		writeJSON(w, http.StatusOK, decision)
	})

	r.Get("/providers", func(w http.ResponseWriter, _ *http.Request) {
		if env.Pool == nil {
			writeError(w, http.StatusNotFound, "no chains configured")
			return
		}
		writeJSON(w, http.StatusOK, env.Pool.Snapshots())
	})

	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		collector := monitoring.NewCollector(env.Store, env.snapshotter())
		snap, err := collector.Collect(req.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "metrics collection failed")
			return
		}
		writeJSON(w, http.StatusOK, snap)
	})

	r.Get("/decisions", func(w http.ResponseWriter, req *http.Request) {
		filter := store.DecisionFilter{
			Status: model.DecisionStatus(req.URL.Query().Get("status")),
			Limit:  50,
		}
		if raw := req.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				writeError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			filter.Limit = n
		}
		decisions, err := env.Store.ListDecisions(req.Context(), filter)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "list failed")
			return
		}
		writeJSON(w, http.StatusOK, decisions)
	})

	r.Get("/decisions/{id}", func(w http.ResponseWriter, req *http.Request) {
		d, err := env.Store.GetDecision(req.Context(), chi.URLParam(req, "id"))
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "decision not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "lookup failed")
			return
		}
		writeJSON(w, http.StatusOK, d)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
