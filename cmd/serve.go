package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/forensics-cli/internal/engine"
	"github.com/sells-group/forensics-cli/internal/model"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP server exposing the cross-reference operations",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEngine(ctx)
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
			Handler: newRouter(env.Engine),
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// newRouter wires the five cross-reference operations onto chi.
func newRouter(eng *engine.Engine) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/v1/xref", func(w http.ResponseWriter, r *http.Request) {
		var req engine.XRefRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, eris.Wrap(model.ErrValidation, "invalid request body"))
			return
		}

		res, err := eng.CrossReference(r.Context(), req)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	})

	r.Post("/v1/records", func(w http.ResponseWriter, r *http.Request) {
		var req engine.XRefRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, eris.Wrap(model.ErrValidation, "invalid request body"))
			return
		}

		if err := eng.AddRecord(r.Context(), req); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"status":    "recorded",
			"sample_id": req.SampleID,
		})
	})

	r.Get("/v1/matches", func(w http.ResponseWriter, r *http.Request) {
		fingerprint := r.URL.Query().Get("fingerprint")
		threshold := model.FingerprintMatchThreshold
		if raw := r.URL.Query().Get("threshold"); raw != "" {
			parsed, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				writeError(w, r, eris.Wrapf(model.ErrValidation, "invalid threshold %q", raw))
				return
			}
			threshold = parsed
		}

		matches, err := eng.MatchingRecords(r.Context(), fingerprint, threshold)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"query_fingerprint": fingerprint,
			"threshold":         threshold,
			"matches_found":     len(matches),
			"matches":           matches,
		})
	})

	r.Get("/v1/stats", func(w http.ResponseWriter, r *http.Request) {
		stats, err := eng.Stats(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	})

	r.Delete("/v1/ledger", func(w http.ResponseWriter, r *http.Request) {
		n, backupPath, err := eng.ClearLedger(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}

		msg := fmt.Sprintf("cleared %d records", n)
		if backupPath != "" {
			msg += ", snapshot at " + backupPath
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "cleared",
			"message": msg,
		})
	})

	return r
}

// requestID tags each request with a UUID for log correlation.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps validation errors to 400 and everything else to 500,
// always returning a structured body rather than propagating.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	if eris.Is(err, model.ErrValidation) {
		status = http.StatusBadRequest
	} else {
		zap.L().Error("operation failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
