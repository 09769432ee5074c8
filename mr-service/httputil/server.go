package httputil

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"
)

// HTTPServer wraps a http.Server, while providing conveniences
// like exposing the running state and address.
//
// The addr contains both host and port. A 0 port may be used to make the
// system bind to an available one; the resulting address can be retrieved
// with HTTPServer.Addr.
type HTTPServer struct {
	// mu is the lock used for bringing the server online/offline, and accessing the address of the server.
	mu sync.RWMutex

	// listener that the server is bound to. Nil if offline.
	listener net.Listener

	srv *http.Server

	listenAddr string
}

// NewHTTPServer creates an HTTPServer that serves the given HTTP handler.
// The server is inactive and has to be started explicitly.
func NewHTTPServer(addr string, handler http.Handler) *HTTPServer {
	return &HTTPServer{
		listenAddr: addr,
		srv: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: time.Minute,
		},
	}
}

func StartHTTPServer(addr string, handler http.Handler) (*HTTPServer, error) {
	out := NewHTTPServer(addr, handler)
	return out, out.Start()
}

// Start starts the server, and checks if it comes online fully.
func (s *HTTPServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return errors.New("server already running")
	}
	listener, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return err
	}
	s.listener = listener
	go func() {
		// Serve returns http.ErrServerClosed after Shutdown; other errors
		// surface to clients as connection failures.
		_ = s.srv.Serve(listener)
	}()
	return nil
}

// Addr returns the address the server is bound to, or nil if offline.
func (s *HTTPServer) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown gracefully stops the server, waiting for in-flight requests.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	err := s.srv.Shutdown(ctx)
	s.listener = nil
	return err
}
