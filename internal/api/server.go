package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/davidsonq/modelforge/internal/log"
)

// Server wraps the Handler with an http.Server for lifecycle management.
type Server struct {
	server   *http.Server
	listener net.Listener
	port     int
}

// ServerConfig configures the API server.
type ServerConfig struct {
	// Addr is the address to listen on, e.g. "localhost:8000". Port 0 asks
	// the OS for a free port; read it back with Port().
	Addr string
	// Handler holds the wired API handler.
	Handler *Handler
	// Middleware, when set, wraps the routed handler. Used to put the
	// tracing span around every request.
	Middleware func(http.Handler) http.Handler
	// ReadTimeout bounds reading the entire request. Defaults to 30s.
	ReadTimeout time.Duration
	// WriteTimeout bounds response writes. Optimizations can run for
	// minutes, so the default is generous.
	WriteTimeout time.Duration
}

// NewServer creates the server and binds its listener immediately so the
// port is known before Start.
func NewServer(cfg ServerConfig) (*Server, error) {
	readTimeout := cfg.ReadTimeout
	if readTimeout == 0 {
		readTimeout = 30 * time.Second
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout == 0 {
		writeTimeout = 30 * time.Minute
	}

	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", cfg.Addr, err)
	}

	port := 0
	if tcpAddr, ok := listener.Addr().(*net.TCPAddr); ok {
		port = tcpAddr.Port
	}

	var handler http.Handler = cfg.Handler.Routes()
	if cfg.Middleware != nil {
		handler = cfg.Middleware(handler)
	}

	return &Server{
		listener: listener,
		port:     port,
		server: &http.Server{
			Handler:           handler,
			ReadTimeout:       readTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      writeTimeout,
		},
	}, nil
}

// Start serves requests. It blocks until Stop is called or the server fails.
func (s *Server) Start() error {
	log.Info(log.CatAPI, "api server listening", "addr", s.listener.Addr().String())
	return s.server.Serve(s.listener)
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	log.Info(log.CatAPI, "api server stopping")
	return s.server.Shutdown(ctx)
}

// Port returns the bound port, useful when configured with port 0.
func (s *Server) Port() int {
	return s.port
}
