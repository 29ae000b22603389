// Package api exposes the chunk import engine over HTTP. Every endpoint is a
// thin adapter over one core operation; none touch ledger internals directly.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/openjurist/chunkloader/internal/chunker"
	"github.com/openjurist/chunkloader/internal/config"
	"github.com/openjurist/chunkloader/internal/importer"
	"github.com/openjurist/chunkloader/internal/ledger"
	"github.com/openjurist/chunkloader/internal/logging"
	"github.com/openjurist/chunkloader/internal/source"
)

// Server wires the core operations to HTTP handlers.
type Server struct {
	store    ledger.Store
	coord    *importer.Coordinator
	splitter *chunker.Splitter
	opener   source.Opener
	cfg      config.Config
	log      *slog.Logger
}

// NewServer creates the HTTP adapter around the core components.
func NewServer(store ledger.Store, coord *importer.Coordinator, splitter *chunker.Splitter, opener source.Opener, cfg config.Config) *Server {
	return &Server{
		store:    store,
		coord:    coord,
		splitter: splitter,
		opener:   opener,
		cfg:      cfg,
		log:      logging.Component("api"),
	}
}

// Router builds the chi router with all endpoints mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Route("/api/chunks", func(r chi.Router) {
		r.Post("/", s.handleCreateChunks)
		r.Get("/", s.handleListChunks)
		r.Get("/progress", s.handleProgress)
		r.Post("/import", s.handleImport)
		r.Post("/reset", s.handleReset)
		r.Delete("/", s.handleDelete)
	})

	return r
}

// ListenAndServe runs the HTTP server until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute, // import runs answer on the request path
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	s.log.Info("http server listening", "addr", addr)
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// requestLogger logs one line per request with status and timing.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		// The request ID doubles as the correlation ID so core operations
		// invoked by this request log under the same identifier.
		r = r.WithContext(logging.WithCorrelationID(r.Context(), middleware.GetReqID(r.Context())))
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).Round(time.Microsecond),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
