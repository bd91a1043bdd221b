// Package server implements the long-running serve mode: an HTTP endpoint
// that requests syncs, health and metrics endpoints, and a store watcher.
// Runs are single-flight with at most one pending re-run.
package server

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/schaermu/bootsyncd/internal/config"
	bootsync "github.com/schaermu/bootsyncd/internal/sync"
)

// SignatureHeader carries the HMAC-SHA256 of the request body as sha256=<hex>
const SignatureHeader = "X-Bootsyncd-Signature"

// Health states reported by /healthz
const (
	StatusStarting = "starting"
	StatusOK       = "ok"
	StatusFailing  = "failing"
)

// SyncRunner runs one sync
type SyncRunner interface {
	Run(ctx context.Context) (*bootsync.Report, error)
}

// Status is the body of /healthz
type Status struct {
	Status      string           `json:"status"`
	Running     bool             `json:"running"`
	Pending     bool             `json:"pending"`
	LastRun     *bootsync.Report `json:"last_run,omitempty"`
	LastError   string           `json:"last_error,omitempty"`
	LastSuccess *time.Time       `json:"last_success,omitempty"`
}

// Server implements the serve mode HTTP server
type Server struct {
	cfg       *config.Config
	runner    SyncRunner
	metrics   http.Handler
	watchDirs []string
	logger    *slog.Logger
	secret    []byte
	debounce  *debouncer

	syncMu      sync.Mutex // guards the fields below
	syncRunning bool       // whether a sync is currently in progress
	syncPending bool       // whether another sync is needed after the current one
	lastReport  *bootsync.Report
	lastErr     error
	lastSuccess time.Time
}

// NewServer creates a server. metrics may be nil; watchDirs are only used
// when serve.watch is enabled.
func NewServer(cfg *config.Config, runner SyncRunner, metrics http.Handler, watchDirs []string, logger *slog.Logger) (*Server, error) {
	var secret []byte
	if cfg.Serve.SecretFile != "" {
		data, err := os.ReadFile(cfg.Serve.SecretFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read sync secret: %w", err)
		}
		secret = []byte(strings.TrimSpace(string(data)))
		if len(secret) == 0 {
			return nil, fmt.Errorf("sync secret file %s is empty", cfg.Serve.SecretFile)
		}
	}

	return &Server{
		cfg:       cfg,
		runner:    runner,
		metrics:   metrics,
		watchDirs: watchDirs,
		logger:    logger,
		secret:    secret,
		debounce:  newDebouncer(cfg.Serve.Debounce),
	}, nil
}

// Handler returns the HTTP routes of the server
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/sync", s.handleSync)
	mux.HandleFunc("/healthz", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
	return mux
}

// Start performs an initial sync, then serves on ln until ctx is done
func (s *Server) Start(ctx context.Context, ln net.Listener) error {
	s.logger.Info("performing initial sync before starting server")
	s.performSync(ctx)

	if s.cfg.Serve.Watch {
		if err := watchStore(ctx, s.watchDirs, s.logger, func(path string) {
			s.requestSync("store change")
		}); err != nil {
			_ = ln.Close()
			return err
		}
	}

	server := &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", ln.Addr().String())
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down server")
		s.debounce.stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		s.debounce.stop()
		return err
	}
}

// handleSync accepts a sync request
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.logger.Warn("rejecting non-POST request", "method", r.Method)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1 MB limit
	if err != nil {
		s.logger.Error("failed to read request body", "error", err)
		http.Error(w, "Failed to read body", http.StatusInternalServerError)
		return
	}
	defer func() {
		_ = r.Body.Close()
	}()

	if s.secret != nil && !s.verifySignature(body, r.Header.Get(SignatureHeader)) {
		s.logger.Warn("rejecting request with invalid signature", "remote", r.RemoteAddr)
		http.Error(w, "Invalid signature", http.StatusForbidden)
		return
	}

	s.requestSync("http request")

	w.WriteHeader(http.StatusAccepted)
	_, _ = fmt.Fprintf(w, "Sync triggered\n")
}

// handleHealth reports the outcome of the last run
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := s.Status()
	code := http.StatusOK
	if status.Status == StatusFailing {
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.Error("failed to encode health status", "error", err)
	}
}

// Status returns a snapshot of the server state
func (s *Server) Status() Status {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	st := Status{
		Status:  StatusStarting,
		Running: s.syncRunning,
		Pending: s.syncPending,
		LastRun: s.lastReport,
	}
	switch {
	case s.lastErr != nil:
		st.Status = StatusFailing
		st.LastError = s.lastErr.Error()
	case s.lastReport != nil:
		st.Status = StatusOK
	}
	if !s.lastSuccess.IsZero() {
		t := s.lastSuccess
		st.LastSuccess = &t
	}
	return st
}

// verifySignature checks a sha256=<hex> HMAC of body
func (s *Server) verifySignature(body []byte, signature string) bool {
	hexSig, ok := strings.CutPrefix(signature, "sha256=")
	if !ok || hexSig == "" {
		return false
	}

	mac := hmac.New(sha256.New, s.secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	// Constant-time comparison
	return hmac.Equal([]byte(hexSig), []byte(expected))
}

// requestSync schedules a debounced sync
func (s *Server) requestSync(reason string) {
	s.logger.Info("sync requested", "reason", reason)
	s.debounce.trigger(func() {
		s.performSync(context.Background())
	})
}

// performSync executes the sync operation with single-flight semantics.
// If a sync is already in progress, at most one additional run is queued;
// further concurrent requests are dropped to avoid unbounded goroutine pile-up.
func (s *Server) performSync(ctx context.Context) {
	s.syncMu.Lock()
	if s.syncRunning {
		s.syncPending = true
		s.syncMu.Unlock()
		s.logger.Info("sync already in progress, queuing pending re-run")
		return
	}
	s.syncRunning = true
	s.syncMu.Unlock()

	for {
		report, err := s.runner.Run(ctx)
		if err != nil {
			s.logger.Error("sync failed", "error", err)
		}

		// Atomically record the result and check whether another sync was
		// requested while we were running.
		s.syncMu.Lock()
		if report != nil {
			s.lastReport = report
		}
		s.lastErr = err
		if err == nil {
			s.lastSuccess = time.Now()
		}
		if !s.syncPending {
			s.syncRunning = false
			s.syncMu.Unlock()
			break
		}
		s.syncPending = false
		s.syncMu.Unlock()

		s.logger.Info("re-running sync due to pending request")
	}
}
