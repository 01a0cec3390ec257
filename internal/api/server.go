// Package api exposes the paper-trading engine over HTTP (gin), streams
// order events over websockets, and reports health over gRPC.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"

	"papertrade/internal/config"
	"papertrade/internal/engine"
	"papertrade/internal/metrics"
)

// Server hosts the HTTP API, the event stream and the gRPC health service.
type Server struct {
	engine  *engine.Engine
	hub     *Hub
	metrics *metrics.Metrics
	log     *slog.Logger

	router   *gin.Engine
	httpSrv  *http.Server
	grpcSrv  *grpc.Server
	health   *health.Server
	httpAddr string
	grpcAddr string
}

// NewServer wires the router and the gRPC server. hub and m may be nil.
func NewServer(cfg config.Server, eng *engine.Engine, hub *Hub, m *metrics.Metrics, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		engine:   eng,
		hub:      hub,
		metrics:  m,
		log:      log.With("component", "api"),
		httpAddr: net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port)),
	}
	if cfg.GRPCPort > 0 {
		s.grpcAddr = net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.GRPCPort))
	}
	s.grpcSrv, s.health = newGRPCServer()
	s.router = s.routes()
	s.httpSrv = &http.Server{
		Addr:              s.httpAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// SetServing flips the gRPC health status.
func (s *Server) SetServing(serving bool) { setServing(s.health, serving) }

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/healthz", s.healthz)
	r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	if s.hub != nil {
		r.GET("/stream", gin.WrapF(s.hub.ServeWS))
	}

	v1 := r.Group("/api/v1")
	v1.POST("/accounts", s.openAccount)
	acct := v1.Group("/accounts/:id")
	acct.GET("", s.getAccount)
	acct.GET("/portfolio", s.getPortfolio)
	acct.POST("/orders", s.createOrder)
	acct.GET("/orders", s.listOrders)
	acct.GET("/orders/:orderID", s.getOrder)
	acct.DELETE("/orders/:orderID", s.cancelOrder)
	acct.GET("/trades", s.listTrades)
	acct.GET("/trades/export", s.exportTrades)
	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
		)
	}
}

// ListenAndServe starts the HTTP and gRPC listeners and blocks until ctx is
// cancelled or a listener fails. Both servers are shut down on return.
func (s *Server) ListenAndServe(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.log.Info("http listening", "addr", s.httpAddr)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if s.grpcAddr != "" {
		g.Go(func() error {
			lis, err := net.Listen("tcp", s.grpcAddr)
			if err != nil {
				return fmt.Errorf("grpc listen %s: %w", s.grpcAddr, err)
			}
			s.log.Info("grpc listening", "addr", s.grpcAddr)
			if err := s.grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.SetServing(false)
	s.health.Shutdown()
	if s.hub != nil {
		s.hub.Close()
	}

	stopped := make(chan struct{})
	go func() {
		s.grpcSrv.GracefulStop()
		close(stopped)
	}()

	err := s.httpSrv.Shutdown(ctx)
	select {
	case <-stopped:
	case <-ctx.Done():
		s.grpcSrv.Stop()
	}
	return err
}
