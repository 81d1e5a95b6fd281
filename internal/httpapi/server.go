// Package httpapi exposes the webhook trigger, manual discovery and read-only
// admin views over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"newsrelay/internal/dedup"
	"newsrelay/internal/model"
	"newsrelay/internal/registry"
	"newsrelay/internal/storage"
)

// Submitter queues items for processing.
type Submitter interface {
	Submit(ctx context.Context, itemID int64) bool
}

// Server routes API requests to the store, the dedup engine and the worker
// pool.
type Server struct {
	router   *mux.Router
	store    storage.Storage
	dedup    *dedup.Engine
	registry *registry.Registry
	queue    Submitter
	log      *slog.Logger
}

// New creates a Server and registers its routes.
func New(store storage.Storage, engine *dedup.Engine, reg *registry.Registry, queue Submitter, log *slog.Logger) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		store:    store,
		dedup:    engine,
		registry: reg,
		queue:    queue,
		log:      log.With("component", "http"),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	s.router.HandleFunc("/items/{id:[0-9]+}", s.handleGetItem).Methods(http.MethodGet)
	s.router.HandleFunc("/items/{id:[0-9]+}/process", s.handleProcess).Methods(http.MethodPost)
	s.router.HandleFunc("/tenants/{slug}/items", s.handleAdmit).Methods(http.MethodPost)
	s.router.HandleFunc("/tenants/{slug}", s.handleRemoveTenant).Methods(http.MethodDelete)
	s.router.Use(s.logRequests)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug("request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id, err == nil && id > 0
}

// storeError maps store errors to HTTP statuses.
func (s *Server) storeError(w http.ResponseWriter, err error) {
	if errors.Is(err, model.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	s.log.Error("store", "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}
