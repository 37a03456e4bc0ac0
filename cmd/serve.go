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
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/arcflow/budget-engine/internal/analyzer"
	"github.com/arcflow/budget-engine/internal/config"
	"github.com/arcflow/budget-engine/internal/configstore"
	"github.com/arcflow/budget-engine/internal/engine"
	"github.com/arcflow/budget-engine/internal/model"
	"github.com/arcflow/budget-engine/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEngine(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: buildRouter(env, cfg.Server),
		}

		// Graceful shutdown
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

// buildRouter assembles the API routes and middleware.
func buildRouter(env *engineEnv, serverCfg config.ServerConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: serverCfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))
	if serverCfg.RatePerSec > 0 {
		limiter := rate.NewLimiter(rate.Limit(serverCfg.RatePerSec), serverCfg.RateBurst)
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				if !limiter.Allow() {
					writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
					return
				}
				next.ServeHTTP(w, req)
			})
		})
	}

	deadline := time.Duration(serverCfg.DeadlineSecs) * time.Second
	if deadline <= 0 {
		deadline = 30 * time.Second
	}

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/briefings", func(r chi.Router) {
		r.Post("/", func(w http.ResponseWriter, req *http.Request) {
			var b model.Briefing
			if err := json.NewDecoder(req.Body).Decode(&b); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			if b.ID == "" || b.OfficeID == "" {
				writeError(w, http.StatusBadRequest, "id and office_id are required")
				return
			}
			if b.Status == "" {
				b.Status = model.BriefingStatusDraft
			}
			if err := env.Store.SaveBriefing(req.Context(), b); err != nil {
				zap.L().Error("save briefing failed", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "save briefing failed")
				return
			}
			writeJSON(w, http.StatusCreated, b)
		})

		r.Get("/{id}", func(w http.ResponseWriter, req *http.Request) {
			b, err := env.Store.GetBriefing(req.Context(), chi.URLParam(req, "id"))
			if err != nil {
				if eris.Is(err, store.ErrNotFound) {
					writeError(w, http.StatusNotFound, "briefing not found")
					return
				}
				writeError(w, http.StatusInternalServerError, "load briefing failed")
				return
			}
			writeJSON(w, http.StatusOK, b)
		})

		r.Post("/{id}/budget", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				Reason string `json:"reason"`
			}
			if req.Body != nil {
				_ = json.NewDecoder(req.Body).Decode(&body)
			}

			ctx, cancel := context.WithTimeout(req.Context(), deadline)
			defer cancel()

			result, err := env.Engine.Generate(ctx, chi.URLParam(req, "id"), body.Reason)
			if err != nil {
				writeGenerateError(w, err, result)
				return
			}
			writeJSON(w, http.StatusOK, result)
		})

		r.Get("/{id}/budget", func(w http.ResponseWriter, req *http.Request) {
			b, ok, err := env.Engine.Current(req.Context(), chi.URLParam(req, "id"))
			if err != nil {
				writeError(w, http.StatusInternalServerError, "load budget failed")
				return
			}
			if !ok {
				writeError(w, http.StatusNotFound, "no budget generated")
				return
			}
			writeJSON(w, http.StatusOK, b)
		})

		r.Get("/{id}/budget/history", func(w http.ResponseWriter, req *http.Request) {
			hist, err := env.Engine.History(req.Context(), chi.URLParam(req, "id"))
			if err != nil {
				writeError(w, http.StatusInternalServerError, "load history failed")
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"history": hist})
		})

		r.Post("/{id}/budget/async", func(w http.ResponseWriter, req *http.Request) {
			job, err := env.Queue.Enqueue(req.Context(), chi.URLParam(req, "id"), 0)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "enqueue failed")
				return
			}
			writeJSON(w, http.StatusAccepted, job)
		})
	})

	r.Get("/jobs/{id}", func(w http.ResponseWriter, req *http.Request) {
		job, ok, err := env.Queue.Job(req.Context(), chi.URLParam(req, "id"))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "load job failed")
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeJSON(w, http.StatusOK, job)
	})

	r.Route("/offices/{id}/config", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, req *http.Request) {
			officeCfg, degraded, err := env.Configs.Get(req.Context(), chi.URLParam(req, "id"))
			if err != nil {
				writeError(w, http.StatusInternalServerError, "load config failed")
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"config":   officeCfg,
				"degraded": degraded,
			})
		})

		r.Put("/", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				HourlyRates         map[model.DisciplineRole]float64 `json:"hourly_rates"`
				TypologyMultipliers map[model.Typology]float64       `json:"typology_multipliers"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}

			updated, err := env.Configs.Update(req.Context(), chi.URLParam(req, "id"), func(c *model.OfficeConfig) error {
				for role, v := range body.HourlyRates {
					if v <= 0 {
						return eris.Errorf("rate for %s must be > 0", role)
					}
					c.HourlyRates[role] = v
				}
				for typology, v := range body.TypologyMultipliers {
					if v <= 0 {
						return eris.Errorf("multiplier for %s must be > 0", typology)
					}
					c.TypologyMultipliers[typology] = v
				}
				return nil
			})
			if err != nil {
				if eris.Is(err, configstore.ErrLockBusy) {
					writeError(w, http.StatusConflict, "config update in progress")
					return
				}
				writeError(w, http.StatusUnprocessableEntity, err.Error())
				return
			}
			writeJSON(w, http.StatusOK, updated)
		})
	})

	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		depth, err := env.Queue.Length(req.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "queue depth failed")
			return
		}
		snap, err := env.Metrics.Collect(req.Context(), depth)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "collect metrics failed")
			return
		}
		writeJSON(w, http.StatusOK, snap)
	})

	return r
}

// writeGenerateError maps pipeline errors to HTTP statuses.
func writeGenerateError(w http.ResponseWriter, err error, result *engine.Result) {
	switch {
	case eris.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "briefing not found")
	case eris.Is(err, engine.ErrBriefingNotReady):
		writeError(w, http.StatusUnprocessableEntity, "briefing is not completed")
	case eris.Is(err, engine.ErrGenerationInProgress):
		writeError(w, http.StatusConflict, "generation already in progress")
	case eris.Is(err, analyzer.ErrInsufficientData):
		writeError(w, http.StatusUnprocessableEntity, "briefing has insufficient data")
	default:
		var partial *engine.PartialError
		if errors.As(err, &partial) {
			writeJSON(w, http.StatusGatewayTimeout, map[string]any{
				"error":            "deadline expired",
				"completed_stages": partial.CompletedStages,
				"next_stage":       partial.NextStage,
				"stages":           result.Stages,
			})
			return
		}
		zap.L().Error("generate failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "generation failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
