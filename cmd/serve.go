package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/answerlens/answerlens/internal/model"
	"github.com/answerlens/answerlens/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API, run workers, and the monitor scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		env.Dispatcher.Start(ctx)
		defer env.Dispatcher.Stop()
		env.Scheduler.Start(ctx)
		defer env.Scheduler.Stop()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(env),
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", port))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		return g.Wait()
	},
}

func newRouter(env *appEnv) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/runs", createRunHandler(env))
	r.Get("/runs/{runID}", getRunHandler(env))
	r.Get("/runs/{runID}/report", getReportHandler(env))
	r.Get("/runs/{runID}/events", listEventsHandler(env))
	r.Get("/runs/{runID}/stream", streamHandler(env))
	r.Post("/monitors/{monitorID}/run", runMonitorHandler(env))

	return r
}

type createRunRequest struct {
	ProjectID    string           `json:"project_id"`
	Prompt       string           `json:"prompt"`
	Engine       model.EngineSpec `json:"engine"`
	Cycles       int              `json:"cycles"`
	DelaySeconds int              `json:"delay_seconds"`
}

func createRunHandler(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createRunRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.ProjectID == "" || req.Prompt == "" || req.Engine.Name == "" {
			respondError(w, http.StatusBadRequest, "project_id, prompt and engine.name are required")
			return
		}

		ctx := r.Context()
		eng, err := env.Store.ResolveEngine(ctx, req.ProjectID, req.Engine)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		pv, err := env.Store.CreatePromptVersion(ctx, req.ProjectID, req.Prompt)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		run, err := env.Dispatcher.CreateAndEnqueue(ctx, model.Run{
			ProjectID:       req.ProjectID,
			PromptVersionID: pv.ID,
			EngineID:        eng.ID,
			Cycles:          req.Cycles,
			DelaySeconds:    req.DelaySeconds,
		})
		if err != nil {
			respondError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		respondJSON(w, http.StatusAccepted, run)
	}
}

func getRunHandler(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, err := env.Store.GetRun(r.Context(), chi.URLParam(r, "runID"))
		if err != nil {
			respondStoreError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, run)
	}
}

func getReportHandler(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := env.Scorer.ComputeReport(r.Context(), chi.URLParam(r, "runID"))
		if err != nil {
			respondStoreError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, report)
	}
}

func listEventsHandler(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		events, err := env.Store.ListEvents(r.Context(), chi.URLParam(r, "runID"))
		if err != nil {
			respondStoreError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, events)
	}
}

// streamHandler serves the run event log over SSE: full backlog first, then
// the live tail, with comment heartbeats while idle.
func streamHandler(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runID := chi.URLParam(r, "runID")
		if _, err := env.Store.GetRun(r.Context(), runID); err != nil {
			respondStoreError(w, err)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			respondError(w, http.StatusInternalServerError, "streaming unsupported")
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		send := func(ev model.RunEvent) error {
			data, err := json.Marshal(ev)
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return err
			}
			flusher.Flush()
			return nil
		}
		heartbeat := func() error {
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return err
			}
			flusher.Flush()
			return nil
		}

		if err := env.Streamer.Stream(r.Context(), runID, send, heartbeat); err != nil {
			zap.L().Debug("stream ended", zap.String("run_id", runID), zap.Error(err))
		}
	}
}

func runMonitorHandler(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runs, err := env.Scheduler.RunNow(r.Context(), chi.URLParam(r, "monitorID"))
		if err != nil {
			respondStoreError(w, err)
			return
		}
		respondJSON(w, http.StatusAccepted, runs)
	}
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func respondStoreError(w http.ResponseWriter, err error) {
	if eris.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondError(w, http.StatusInternalServerError, err.Error())
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
