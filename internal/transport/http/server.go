package livehttp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"tradesync/internal/logger"
)

// Server runs the HTTP listener with graceful shutdown.
type Server struct {
	srv *http.Server
}

// NewServer binds the router to addr.
func NewServer(addr string, router *Router) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           router.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Start serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("http: listening addr=%s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http: shutdown failed: %v", err)
		return err
	}
	logger.Infof("http: stopped")
	return <-errCh
}
