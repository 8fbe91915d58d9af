package web

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mfxhutch/pumpprobe/internal/debug"
)

// Server wraps the HTTP server and handlers.
type Server struct {
	addr     string
	handlers *Handlers
	metrics  http.Handler
}

// NewServer creates a server for addr. metrics serves /metrics and may be nil.
func NewServer(addr string, handlers *Handlers, metrics http.Handler) *Server {
	return &Server{
		addr:     addr,
		handlers: handlers,
		metrics:  metrics,
	}
}

// Router returns an http.Handler with all routes registered.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Post("/scan", s.handlers.HandleScan)
		r.Post("/scan/stop", s.handlers.HandleStop)
		r.Get("/state", s.handlers.HandleState)
		r.Get("/config", s.handlers.HandleConfig)
		r.Get("/delay", s.handlers.HandleDelay)
		r.Get("/status/stream", s.handlers.HandleStatusStream)
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		debug.Verbose("http %s %s -> %d (%s) [%s]", r.Method, r.URL.Path, ww.Status(),
			time.Since(start).Round(time.Millisecond), middleware.GetReqID(r.Context()))
	})
}

// Run starts the server and blocks until ctx is cancelled, then stops any
// running scan and shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.Router(), ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		debug.Info("web server listening on %s", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.handlers.Shutdown(shutdownCtx); err != nil {
			debug.Errorf(err, "scan did not stop before shutdown")
		}
		return srv.Shutdown(shutdownCtx)
	}
}
