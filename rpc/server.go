package rpc

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/tolelom/tolmart/internal/logging"
	"github.com/tolelom/tolmart/internal/metrics"
)

// Server is a JSON-RPC 2.0 HTTP server. It also serves Prometheus metrics
// at /metrics.
type Server struct {
	handler   *Handler
	addr      string
	authToken string // empty → writes are open
	srv       *http.Server
	ln        net.Listener
	logger    *slog.Logger
}

// NewServer creates a Server on addr. If authToken is non-empty, write
// methods must carry a matching "Authorization: Bearer <token>" header.
// Reads are always open.
func NewServer(addr string, handler *Handler, authToken string, logger *slog.Logger) *Server {
	s := &Server{handler: handler, addr: addr, authToken: authToken, logger: logger}
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.serveHTTP)
	mux.Handle("/metrics", metrics.Handler())
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Start binds the port synchronously (so callers know immediately if binding
// fails) then serves requests in a background goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.ln = ln
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("rpc server stopped", "err", err)
		}
	}()
	s.logger.Info("rpc listening", "addr", ln.Addr().String())
	return nil
}

// Addr is the bound listen address, valid after Start.
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.addr
	}
	return s.ln.Addr().String()
}

// Stop gracefully shuts down the HTTP server, waiting up to 5 seconds for
// in-flight requests to complete.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

func (s *Server) authorized(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}
	got := r.Header.Get("Authorization")
	return subtle.ConstantTimeCompare([]byte(got), []byte("Bearer "+s.authToken)) == 1
}

func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "only POST allowed", http.StatusMethodNotAllowed)
		return
	}

	reqID := r.Header.Get("X-Request-ID")
	if reqID == "" {
		reqID = uuid.NewString()
	}
	w.Header().Set("X-Request-ID", reqID)
	ctx := logging.WithRequestID(r.Context(), reqID)

	// Limit request body to 1 MB to prevent memory exhaustion.
	r.Body = http.MaxBytesReader(w, r.Body, 1*1024*1024)

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.observe("", "parse_error")
		writeJSON(w, errResponse(nil, CodeParseError, err.Error()))
		return
	}
	if req.JSONRPC != "2.0" {
		s.observe(req.Method, "invalid_request")
		writeJSON(w, errResponse(req.ID, CodeInvalidRequest, "jsonrpc must be '2.0'"))
		return
	}
	if IsWrite(req.Method) && !s.authorized(r) {
		s.observe(req.Method, "unauthorized")
		logging.L(ctx, s.logger).Warn("unauthorized rpc write", "method", req.Method, "remote", r.RemoteAddr)
		writeJSON(w, errResponse(req.ID, CodeUnauthorized, "unauthorized"))
		return
	}

	resp := s.handler.Dispatch(ctx, req)
	if resp.Error != nil {
		s.observe(req.Method, "error")
	} else {
		s.observe(req.Method, "ok")
	}
	writeJSON(w, resp)
}

func (s *Server) observe(method, outcome string) {
	if _, ok := methods[method]; !ok {
		method = "unknown"
	}
	metrics.RPCRequestsTotal.WithLabelValues(method, outcome).Inc()
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
