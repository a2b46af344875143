/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package profserver provides the pprof HTTP server that is started next to the main one
// when profiling is enabled.
package profserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/carelog/ratekit/httpserver/middleware"
	"github.com/carelog/ratekit/log"
	"github.com/carelog/ratekit/service"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// ProfServer represents HTTP server for profiling. pprof is used under the hood.
// It implements service.Unit interface.
type ProfServer struct {
	HTTPServer *http.Server
	Logger     log.FieldLogger

	address  string
	listener net.Listener
	done     chan struct{}
}

var _ service.Unit = (*ProfServer)(nil)

// New creates a new HTTP server (pprof) for profiling.
func New(cfg *Config, logger log.FieldLogger) *ProfServer {
	router := chi.NewRouter()
	router.Use(
		middleware.RequestID(),
		middleware.LoggingWithOpts(logger, middleware.LoggingOpts{RequestStart: true}),
	)
	router.Mount("/debug", chimiddleware.Profiler())

	return &ProfServer{
		HTTPServer: &http.Server{Handler: router, ReadHeaderTimeout: readHeaderTimeout},
		Logger:     logger.With(log.String("address", cfg.Address)),
		address:    cfg.Address,
		done:       make(chan struct{}),
	}
}

// Listen binds the listening socket. Start calls it implicitly when it has not been called yet.
func (s *ProfServer) Listen() error {
	if s.listener != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	s.listener = ln
	return nil
}

// Addr returns the address the server listens on, or nil before Listen.
func (s *ProfServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start starts profiling HTTP server in a blocking way. Supposed this methods will be called in a separate goroutine.
// If a fatal error occurs, it's sent into passed fatalError channel and should be processed outside.
func (s *ProfServer) Start(fatalError chan<- error) {
	defer close(s.done)

	if err := s.Listen(); err != nil {
		s.Logger.Error("profiling HTTP server listen error", log.Error(err))
		fatalError <- err
		return
	}

	s.Logger.Info("starting profiling HTTP server...")
	if err := s.HTTPServer.Serve(s.listener); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			s.Logger.Info("profiling HTTP server closed")
			return
		}
		s.Logger.Error("profiling HTTP server error", log.Error(err))
		fatalError <- err
	}
}

// Stop stops profiling HTTP server.
// Profiles in progress (e.g. /debug/pprof/profile?seconds=30) are waited for shutdownTimeout when gracefully is true.
func (s *ProfServer) Stop(gracefully bool) error {
	s.Logger.Info("closing profiling HTTP server...")
	var err error
	if gracefully {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err = s.HTTPServer.Shutdown(ctx)
	} else {
		err = s.HTTPServer.Close()
	}
	if err != nil {
		s.Logger.Error("profiling HTTP server closing error", log.Error(err))
		return err
	}
	<-s.done
	return nil
}
