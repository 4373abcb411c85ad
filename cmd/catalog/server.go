package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/product-catalog-client/internal/config"
	"github.com/Sternrassler/product-catalog-client/pkg/catalog"
	"github.com/Sternrassler/product-catalog-client/pkg/client"
	"github.com/Sternrassler/product-catalog-client/pkg/logging"
	"github.com/Sternrassler/product-catalog-client/pkg/metrics"
	"github.com/Sternrassler/product-catalog-client/pkg/ratelimit"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// server exposes a Loader and its Store over HTTP.
type server struct {
	router  *chi.Mux
	loader  *catalog.Loader
	store   *catalog.Store
	fetcher catalog.Fetcher
	rng     catalog.Range
	logger  zerolog.Logger

	// baseCtx outlives individual requests; batches started over HTTP run
	// under it.
	baseCtx context.Context
	ready   atomic.Bool
}

// rateLimitReporter is implemented by fetchers that pace their requests.
type rateLimitReporter interface {
	RateLimitState() (ratelimit.State, bool)
}

type rateLimitResponse struct {
	Enabled bool             `json:"enabled"`
	State   *ratelimit.State `json:"state,omitempty"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func newServer(baseCtx context.Context, loader *catalog.Loader, fetcher catalog.Fetcher, cfg *config.Config) *server {
	s := &server{
		router:  chi.NewRouter(),
		loader:  loader,
		store:   loader.Store(),
		fetcher: fetcher,
		rng:     catalog.Range{Lo: cfg.Loader.RangeLo, Hi: cfg.Loader.RangeHi},
		logger:  logging.NewLogger("catalog-server"),
		baseCtx: baseCtx,
	}

	s.router.Use(chimiddleware.RequestID)
	s.router.Use(s.requestLogger)
	s.router.Use(chimiddleware.Recoverer)

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/ready", s.handleReady)
	s.router.Get("/metrics", metrics.Handler().ServeHTTP)

	s.router.Route("/products", func(r chi.Router) {
		r.Get("/", s.handleListProducts)
		r.Get("/{id}", s.handleGetProduct)
	})
	s.router.Get("/errors", s.handleErrors)
	s.router.Get("/errors/{id}", s.handleProductError)
	s.router.Get("/ratelimit", s.handleRateLimit)
	s.router.Post("/load", s.handleLoad)
	s.router.Post("/retry", s.handleRetry)
	s.router.Get("/batches/{id}", s.handleBatch)

	return s
}

// Handler returns the router wrapped with server-side tracing.
func (s *server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "catalog-server",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

// preload starts a range batch and marks the server ready once it settles.
func (s *server) preload() error {
	batch, err := s.loader.LoadRange(s.baseCtx, s.rng.Lo, s.rng.Hi)
	if err != nil {
		return err
	}
	go func() {
		<-batch.Done()
		s.ready.Store(true)
	}()
	return nil
}

func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Str("request_id", chimiddleware.GetReqID(r.Context())).
			Dur("duration", time.Since(start)).
			Msg("request served")
	})
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !s.ready.Load() {
		http.Error(w, "initial load in progress", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *server) handleListProducts(w http.ResponseWriter, _ *http.Request) {
	snap := s.store.Snapshot()
	respondJSON(w, http.StatusOK, map[string]any{
		"products": snap.Products,
		"count":    len(snap.Products),
		"errors":   len(snap.Errors),
		"version":  snap.Version,
	})
}

// handleGetProduct serves from the store and falls back to a live fetch.
// A successful live fetch is merged into the store.
func (s *server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id < 1 {
		respondError(w, http.StatusBadRequest, fmt.Errorf("invalid product id %q", chi.URLParam(r, "id")))
		return
	}

	if p, ok := s.store.Product(id); ok {
		respondJSON(w, http.StatusOK, p)
		return
	}

	p, err := s.fetcher.FetchProduct(r.Context(), id)
	if err != nil {
		var fe *client.FetchError
		switch {
		case errors.As(err, &fe) && fe.IsNotFound():
			respondError(w, http.StatusNotFound, err)
		default:
			respondError(w, http.StatusBadGateway, err)
		}
		return
	}

	s.store.MergeProduct(p)
	respondJSON(w, http.StatusOK, p)
}

func (s *server) handleErrors(w http.ResponseWriter, _ *http.Request) {
	errs := s.store.Errors()
	respondJSON(w, http.StatusOK, map[string]any{
		"errors": errs,
		"count":  len(errs),
	})
}

func (s *server) handleProductError(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id < 1 {
		respondError(w, http.StatusBadRequest, fmt.Errorf("invalid product id %q", chi.URLParam(r, "id")))
		return
	}

	reason, ok := s.store.Error(id)
	if !ok {
		respondError(w, http.StatusNotFound, fmt.Errorf("no error recorded for product %d", id))
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"id":     id,
		"reason": reason,
	})
}

func (s *server) handleRateLimit(w http.ResponseWriter, _ *http.Request) {
	reporter, ok := s.fetcher.(rateLimitReporter)
	if !ok {
		respondJSON(w, http.StatusOK, rateLimitResponse{})
		return
	}

	state, enabled := reporter.RateLimitState()
	resp := rateLimitResponse{Enabled: enabled}
	if enabled {
		resp.State = &state
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *server) handleLoad(w http.ResponseWriter, r *http.Request) {
	lo, hi := s.rng.Lo, s.rng.Hi
	var err error
	if v := r.URL.Query().Get("lo"); v != "" {
		if lo, err = strconv.Atoi(v); err != nil {
			respondError(w, http.StatusBadRequest, fmt.Errorf("invalid lo %q", v))
			return
		}
	}
	if v := r.URL.Query().Get("hi"); v != "" {
		if hi, err = strconv.Atoi(v); err != nil {
			respondError(w, http.StatusBadRequest, fmt.Errorf("invalid hi %q", v))
			return
		}
	}

	batch, err := s.loader.LoadRange(s.baseCtx, lo, hi)
	switch {
	case errors.Is(err, catalog.ErrInvalidRange):
		respondError(w, http.StatusBadRequest, err)
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("Location", "/batches/"+batch.ID)
	respondJSON(w, http.StatusAccepted, batch.Summary())
}

func (s *server) handleRetry(w http.ResponseWriter, _ *http.Request) {
	failed := s.store.FailedIDs()
	if len(failed) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	batch, err := s.loader.Retry(s.baseCtx, failed...)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("Location", "/batches/"+batch.ID)
	respondJSON(w, http.StatusAccepted, batch.Summary())
}

func (s *server) handleBatch(w http.ResponseWriter, r *http.Request) {
	batch, ok := s.loader.Batch(chi.URLParam(r, "id"))
	if !ok {
		respondError(w, http.StatusNotFound, errors.New("batch not found"))
		return
	}
	respondJSON(w, http.StatusOK, batch.Summary())
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = writeJSON(w, data)
}

func respondError(w http.ResponseWriter, status int, err error) {
	errorType := "error"
	switch status {
	case http.StatusNotFound:
		errorType = "not_found"
	case http.StatusBadRequest:
		errorType = "bad_request"
	case http.StatusBadGateway:
		errorType = "upstream_error"
	case http.StatusInternalServerError:
		errorType = "internal_server_error"
	}

	respondJSON(w, status, errorResponse{
		Error:   errorType,
		Message: err.Error(),
	})
}
