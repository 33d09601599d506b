package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Server runs the gateway behind an HTTP/1.1 listener with keep-alive
type Server struct {
	gateway *Gateway
	httpSrv *http.Server
	logger  *logrus.Logger
}

// NewServer wraps g in a configured HTTP server
func NewServer(g *Gateway, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics/prometheus", promhttp.Handler())
	mux.Handle("/", g)

	cfg := g.config.Server
	srv := &http.Server{
		Addr:           fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:        mux,
		MaxHeaderBytes: cfg.MaxHeaderSize,
		IdleTimeout:    time.Duration(cfg.KeepAliveTimeout) * time.Millisecond,
		ReadTimeout:    time.Duration(cfg.RequestTimeout) * time.Millisecond,
	}
	srv.SetKeepAlivesEnabled(cfg.KeepAlive)

	return &Server{gateway: g, httpSrv: srv, logger: logger}
}

// Start launches the gateway and blocks serving until Shutdown
func (s *Server) Start() error {
	s.gateway.Start()
	s.logger.WithField("addr", s.httpSrv.Addr).Info("Gateway listening")
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains the listener, then tears the pipeline down
func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := s.httpSrv.Shutdown(ctx)
	s.gateway.Shutdown()
	return err
}
