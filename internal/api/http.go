package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// HTTPServer wraps the HTTP listener lifecycle.
type HTTPServer struct {
	srv      *http.Server
	listener net.Listener
}

// NewHTTPServer binds address and serves handler.
func NewHTTPServer(address string, handler http.Handler) (*HTTPServer, error) {
	lis, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", address, err)
	}
	return &HTTPServer{
		srv: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
		},
		listener: lis,
	}, nil
}

// Start serves until Shutdown. A clean shutdown returns nil.
func (s *HTTPServer) Start() error {
	if err := s.srv.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Address exposes the bound listener address.
func (s *HTTPServer) Address() string {
	return s.listener.Addr().String()
}
