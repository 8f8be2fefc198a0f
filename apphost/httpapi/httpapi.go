// Package httpapi is a reference HTTP/WS adapter for the wire contract
// described in spec.md §6. It is a consumer of the core, not a replacement
// for it: every handler is a thin translation from an HTTP request to a
// Manager call and back to JSON, with no process-supervision logic of its
// own.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/benoitc/gaffer/gerrors"
	"github.com/benoitc/gaffer/manager"
	"github.com/gorilla/handlers"
	"github.com/hashicorp/go-hclog"
)

// Server is the ApplicationHost capability wrapping an *http.Server.
type Server struct {
	Addr string

	log hclog.Logger

	mu     sync.Mutex
	mgr    *manager.Manager
	srv    *http.Server
	errCh  chan error
}

// New constructs a Server that will listen on addr once Start is called.
func New(addr string, log hclog.Logger) *Server {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Server{Addr: addr, log: log.Named("httpapi")}
}

func (s *Server) Name() string { return "httpapi:" + s.Addr }

// Start builds the router against m and begins serving in the background.
// A bind failure is returned from Start, which the ApplicationHost records in
// its failed registry; an error from the serving goroutine after a
// successful bind is logged.
func (s *Server) Start(m *manager.Manager) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mgr = m
	router := newRouter(m, s.log)
	logged := handlers.CombinedLoggingHandler(hclogWriter{s.log}, router)

	s.srv = &http.Server{
		Addr:              s.Addr,
		Handler:           logged,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.errCh = make(chan error, 1)

	ln, err := listen(s.Addr)
	if err != nil {
		return fmt.Errorf("httpapi: listen %s: %w", s.Addr, err)
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server stopped", "error", err)
			s.errCh <- err
		}
	}()
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

// Restart stops the server, then rebuilds and starts it against m.
func (s *Server) Restart(m *manager.Manager) error {
	_ = s.Stop()
	return s.Start(m)
}

// statusFor maps a gerrors.Kind to the HTTP status spec.md §6 implies for
// each failure mode.
func statusFor(err error) int {
	var ge *gerrors.Error
	if !errors.As(err, &ge) {
		return http.StatusInternalServerError
	}
	switch ge.Kind {
	case gerrors.KindNotFound:
		return http.StatusNotFound
	case gerrors.KindAlreadyExists, gerrors.KindFlapping:
		return http.StatusConflict
	case gerrors.KindInvalidSpec, gerrors.KindInvalidState:
		return http.StatusBadRequest
	case gerrors.KindBackpressureDropped:
		return http.StatusTooManyRequests
	case gerrors.KindTerminateTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

type hclogWriter struct{ log hclog.Logger }

func (w hclogWriter) Write(p []byte) (int, error) {
	w.log.Trace(string(p))
	return len(p), nil
}
