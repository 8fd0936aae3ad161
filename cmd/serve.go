package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/flowgate/internal/engine"
	"github.com/sells-group/flowgate/internal/model"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the decision API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, true)
		if err != nil {
			return err
		}
		defer env.Close()

		mux := http.NewServeMux()

		mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		mux.Handle("GET /metrics", promhttp.Handler())

		mux.HandleFunc("POST /invoke", func(w http.ResponseWriter, r *http.Request) {
			var req engine.Request
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
				return
			}

			verdict, err := env.engine.Evaluate(r.Context(), req)
			if err != nil {
				zap.L().Error("evaluation failed",
					zap.String("processor", req.Unit.Processor),
					zap.Error(err),
				)
				http.Error(w, `{"error":"evaluation failed"}`, http.StatusUnprocessableEntity)
				return
			}
			writeJSON(w, http.StatusOK, verdict)
		})

		mux.HandleFunc("POST /runs/{run_id}/outcome", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Processor  string `json:"processor_name"`
				Outcome    string `json:"outcome"`
				DurationMS int64  `json:"duration_ms"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
				return
			}
			switch model.RunOutcome(req.Outcome) {
			case model.OutcomeSuccess, model.OutcomeFailed, model.OutcomeSkipped:
			default:
				http.Error(w, `{"error":"outcome must be success, failed, or skipped"}`, http.StatusBadRequest)
				return
			}

			err := env.engine.ReportOutcome(r.Context(),
				r.PathValue("run_id"), req.Processor,
				model.RunOutcome(req.Outcome),
				time.Duration(req.DurationMS)*time.Millisecond,
			)
			if err != nil {
				http.Error(w, `{"error":"outcome not recorded"}`, http.StatusNotFound)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
		})

		mux.HandleFunc("GET /runs", func(w http.ResponseWriter, r *http.Request) {
			recs, err := env.runlog.Recent(r.Context(), r.URL.Query().Get("processor"), 100)
			if err != nil {
				http.Error(w, `{"error":"query failed"}`, http.StatusInternalServerError)
				return
			}
			writeJSON(w, http.StatusOK, recs)
		})

		mux.HandleFunc("GET /breakers", func(w http.ResponseWriter, r *http.Request) {
			states, err := env.breaker.States(r.Context())
			if err != nil {
				http.Error(w, `{"error":"query failed"}`, http.StatusInternalServerError)
				return
			}
			writeJSON(w, http.StatusOK, states)
		})

		mux.HandleFunc("GET /backfills", func(w http.ResponseWriter, r *http.Request) {
			state := model.BackfillState(r.URL.Query().Get("state"))
			if state == "" {
				state = model.BackfillQueued
			}
			reqs, err := env.queue.List(r.Context(), state, 100)
			if err != nil {
				http.Error(w, `{"error":"query failed"}`, http.StatusInternalServerError)
				return
			}
			writeJSON(w, http.StatusOK, reqs)
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
