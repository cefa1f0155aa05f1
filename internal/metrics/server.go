package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/veesix-networks/linkd/pkg/component"
	"github.com/veesix-networks/linkd/pkg/logger"
)

// Server serves /metrics as a daemon component.
type Server struct {
	*component.Base
	logger *slog.Logger
	addr   string
	server *http.Server
	ln     net.Listener
}

func NewServer(addr string) *Server {
	return &Server{
		Base:   component.NewBase("metrics"),
		logger: logger.Get(logger.Metrics),
		addr:   addr,
	}
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

func (s *Server) Start(ctx context.Context) error {
	s.StartContext(ctx)

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	s.ln = ln

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(Registry, promhttp.HandlerOpts{}))
	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("Prometheus HTTP server listening", "addr", s.Addr())
	s.Go(func(ctx context.Context) {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Prometheus HTTP server error", "error", err)
		}
	})

	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping Prometheus HTTP server")

	var err error
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		err = s.server.Shutdown(shutdownCtx)
	}

	s.StopContext()
	return err
}
