package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/energyhub/pkg/billing"
	"github.com/raterudder/energyhub/pkg/loads"
	"github.com/raterudder/energyhub/pkg/log"
	"github.com/raterudder/energyhub/pkg/metrics"
	"github.com/raterudder/energyhub/pkg/reconcile"
	"github.com/raterudder/energyhub/pkg/types"
)

// Server exposes day bills, path comparisons and load breakdowns over HTTP.
type Server struct {
	est     *billing.Estimator
	checker *reconcile.Checker
	// loads is nil when the telemetry system reports no power
	loads *loads.Breaker

	listenAddr string
	httpServer *http.Server
	serverName string
	defaultTax types.TaxMode
	now        func() time.Time
}

// New returns a Server. breaker may be nil.
func New(est *billing.Estimator, checker *reconcile.Checker, breaker *loads.Breaker) *Server {
	s := &Server{
		listenAddr: ":8080",
		serverName: "energyhub",
		defaultTax: types.TaxInclusive,
		now:        time.Now,
	}
	s.SetSite(est, checker, breaker)
	return s
}

// SetSite sets what the server reports on. It must be called before Run.
func (s *Server) SetSite(est *billing.Estimator, checker *reconcile.Checker, breaker *loads.Breaker) {
	s.est = est
	s.checker = checker
	s.loads = breaker
}

// Configured registers the server flags. The site is set with SetSite once
// flags are parsed.
func Configured() *Server {
	srv := New(nil, nil, nil)
	if revision := os.Getenv("K_REVISION"); revision != "" {
		srv.serverName = revision
	}

	// get the port from PORT when running in cloud run
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")
	defaultTax := lflag.String("default-tax", string(types.TaxInclusive), "Tax mode used when a request does not pass tax (inc_vat or exc_vat)")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
		tax, err := types.ParseTaxMode(*defaultTax)
		if err != nil {
			log.Ctx(context.Background()).Error("invalid default-tax", slog.Any("error", err))
			os.Exit(1)
		}
		srv.defaultTax = tax
	})
	return srv
}

func (s *Server) setupHandler() http.Handler {
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("GET /api/day/bill", s.handleDayBill)
	apiMux.HandleFunc("GET /api/day/comparison", s.handleDayComparison)
	apiMux.HandleFunc("GET /api/day/series", s.handleDaySeries)
	apiMux.HandleFunc("GET /api/day/loads", s.handleDayLoads)

	mux := http.NewServeMux()
	mux.Handle("/api/", apiMux)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)
	return s.revisionMiddleware(gziphandler.GzipHandler(s.securityHeadersMiddleware(mux)))
}

// Run starts the HTTP server and blocks until the context is canceled or an error occurs.
// It also handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context) error {
	if s.est == nil || s.checker == nil {
		return errors.New("server has no site")
	}
	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  15 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg}); err != nil {
		slog.Warn("failed to write error response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) revisionMiddleware(next http.Handler) http.Handler {
	if s.serverName == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", s.serverName)
		next.ServeHTTP(w, r)
	})
}
