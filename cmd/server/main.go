// Package main implements the library tasks HTTP API server.
// The server turns HTTP requests into tasks on the queue and schedules the periodic
// scan of every library.
//
// API Endpoints:
//
//	POST /libraries/scan                  - Scan every library
//	POST /libraries/{id}/scan             - Scan one library
//	POST /libraries/{id}/analyze          - Analyze the books of a library with unknown or outdated media
//	POST /books/{id}/analyze              - Analyze one book
//	POST /books/{id}/thumbnail            - Generate the thumbnail of a book
//	POST /books/{id}/metadata/refresh     - Refresh book metadata, optional body {"capabilities": ["TITLE"]}
//	POST /series/{id}/metadata/refresh    - Refresh series metadata
//	POST /series/{id}/metadata/aggregate  - Aggregate series metadata from its books
//	GET  /stats                           - Queue depths
//	GET  /tasks?queue=<name>              - Inspect the first tasks of a queue
//	GET  /metrics                         - Prometheus metrics
//
// Usage:
//
//	go run ./cmd/server -config configs/config.yaml
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/guido-cesarano/librarytasks/pkg/app"
	"github.com/guido-cesarano/librarytasks/pkg/config"
	"github.com/guido-cesarano/librarytasks/pkg/dispatcher"
	"github.com/guido-cesarano/librarytasks/pkg/logger"
	"github.com/guido-cesarano/librarytasks/pkg/queue"
	"github.com/guido-cesarano/librarytasks/pkg/scheduler"
	"github.com/guido-cesarano/librarytasks/pkg/tasks"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// authMiddleware enforces API Key authentication. An empty key disables it.
func authMiddleware(requiredKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if requiredKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			if r.Header.Get("X-API-Key") != requiredKey {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// enableCORS adds CORS headers and answers preflight requests.
// It runs before authentication so OPTIONS requests don't fail auth.
func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization, X-API-Key")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// submitHandler runs a dispatcher operation and reports the outcome.
func submitHandler(op func(r *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := op(r); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, tasks.ErrMissingSubject) || errors.Is(err, tasks.ErrUnknownCapability) {
				status = http.StatusBadRequest
			}
			logger.Log.Error().Err(err).Str("path", r.URL.Path).Msg("Task submission failed")
			http.Error(w, err.Error(), status)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte("Task submitted\n"))
	}
}

// refreshRequest is the optional body of a book metadata refresh.
type refreshRequest struct {
	Capabilities []string `json:"capabilities"`
}

func parseCapabilities(r *http.Request) ([]tasks.Capability, error) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	capabilities := make([]tasks.Capability, 0, len(req.Capabilities))
	for _, name := range req.Capabilities {
		c, err := tasks.ParseCapability(name)
		if err != nil {
			return nil, err
		}
		capabilities = append(capabilities, c)
	}
	return capabilities, nil
}

// setupRouter configures the HTTP handlers. client may be nil when tasks are not
// carried by Redis; the inspection endpoints are then not registered.
func setupRouter(d *dispatcher.Dispatcher, client *queue.Client, apiKey string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(enableCORS)

	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(apiKey))

		r.Post("/libraries/scan", submitHandler(func(r *http.Request) error {
			return d.ScanLibraries(r.Context())
		}))
		r.Post("/libraries/{id}/scan", submitHandler(func(r *http.Request) error {
			return d.ScanLibrary(r.Context(), chi.URLParam(r, "id"))
		}))
		r.Post("/libraries/{id}/analyze", submitHandler(func(r *http.Request) error {
			return d.AnalyzeUnknownAndOutdatedBooks(r.Context(), chi.URLParam(r, "id"))
		}))
		r.Post("/books/{id}/analyze", submitHandler(func(r *http.Request) error {
			return d.AnalyzeBook(r.Context(), chi.URLParam(r, "id"))
		}))
		r.Post("/books/{id}/thumbnail", submitHandler(func(r *http.Request) error {
			return d.GenerateBookThumbnail(r.Context(), chi.URLParam(r, "id"))
		}))
		r.Post("/books/{id}/metadata/refresh", func(w http.ResponseWriter, r *http.Request) {
			capabilities, err := parseCapabilities(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			submitHandler(func(r *http.Request) error {
				return d.RefreshBookMetadata(r.Context(), chi.URLParam(r, "id"), capabilities...)
			})(w, r)
		})
		r.Post("/series/{id}/metadata/refresh", submitHandler(func(r *http.Request) error {
			return d.RefreshSeriesMetadata(r.Context(), chi.URLParam(r, "id"))
		}))
		r.Post("/series/{id}/metadata/aggregate", submitHandler(func(r *http.Request) error {
			return d.AggregateSeriesMetadata(r.Context(), chi.URLParam(r, "id"))
		}))

		if client == nil {
			return
		}

		// statsHandler returns the current queue depths
		r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
			depths := client.GetQueueDepths(r.Context())

			w.Header().Set("Content-Type", "application/json")
			if err := json.NewEncoder(w).Encode(depths); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
			}
		})

		// tasksHandler returns a list of tasks from a specific queue
		r.Get("/tasks", func(w http.ResponseWriter, r *http.Request) {
			queueName := r.URL.Query().Get("queue")
			if queueName == "" {
				http.Error(w, "Missing queue parameter", http.StatusBadRequest)
				return
			}

			// Inspect top 50 tasks
			envelopes, err := client.InspectQueue(r.Context(), queueName, 50)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}

			w.Header().Set("Content-Type", "application/json")
			if err := json.NewEncoder(w).Encode(envelopes); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
			}
		})
	})

	return r
}

func main() {
	configPath := flag.String("config", "", "Path to the config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to start")
	}
	defer a.Close()

	sched := scheduler.New(time.Hour)
	if spec := cfg.Schedule.ScanLibraries; spec != "" {
		if _, err := sched.Add(spec, "scan-libraries", a.Dispatcher.ScanLibraries); err != nil {
			logger.Log.Fatal().Err(err).Str("spec", spec).Msg("Invalid scan schedule")
		}
		logger.Log.Info().Str("spec", spec).Msg("Periodic library scan enabled")
	}
	sched.Start()
	defer sched.Stop()

	if cfg.Server.APIKey == "" {
		logger.Log.Warn().Msg("API key not set. Authentication disabled.")
	} else {
		logger.Log.Info().Msg("API Authentication enabled.")
	}

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           setupRouter(a.Dispatcher, a.Queue, cfg.Server.APIKey),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Log.Info().Msg("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Log.Info().Str("addr", cfg.Server.ListenAddr).Msg("Server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Log.Error().Err(err).Msg("Server failed")
		os.Exit(1)
	}
}
