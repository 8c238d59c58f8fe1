// Package server exposes the query pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"medrag/internal/domain"
)

// Querier is the part of the pipeline the server needs.
type Querier interface {
	Invoke(ctx context.Context, query string) domain.Response
	Meta() (domain.IndexMeta, error)
	Ready() bool
}

// Options configures the HTTP server.
type Options struct {
	Addr            string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	MaxQueryRunes   int
}

type Server struct {
	querier Querier
	opts    Options
	logger  *zap.Logger
	engine  *gin.Engine
}

type queryRequest struct {
	Query string `json:"query" binding:"required"`
}

func New(querier Querier, opts Options, logger *zap.Logger) *Server {
	if opts.Addr == "" {
		opts.Addr = ":8080"
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	if opts.MaxQueryRunes <= 0 {
		opts.MaxQueryRunes = 4000
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{querier: querier, opts: opts, logger: logger}

	r := gin.New()
	r.Use(RequestLogger(logger), Recovery(logger))
	r.GET("/healthz", s.health)

	apiV1 := r.Group("/api/v1")
	apiV1.Use(Timeout(opts.RequestTimeout))
	{
		apiV1.POST("/query", s.query)
		apiV1.GET("/index", s.index)
	}

	s.engine = r
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is done, then drains in-flight requests for up to
// the shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func (s *Server) health(c *gin.Context) {
	if !s.querier.Ready() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "ready": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "ready": true})
}

func (s *Server) index(c *gin.Context) {
	meta, err := s.querier.Meta()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "index not loaded"})
		return
	}
	c.JSON(http.StatusOK, meta)
}

func (s *Server) query(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "request body must be JSON with a non-empty \"query\""})
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query must not be blank"})
		return
	}
	if len([]rune(req.Query)) > s.opts.MaxQueryRunes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "query is too long"})
		return
	}

	resp := s.querier.Invoke(c.Request.Context(), req.Query)
	c.JSON(statusFor(resp.Error), resp)
}

// statusFor maps a response error code to an HTTP status. The body is the
// full Response either way.
func statusFor(code string) int {
	switch code {
	case "":
		return http.StatusOK
	case "not_initialized", "index_empty":
		return http.StatusServiceUnavailable
	case "timeout":
		return http.StatusGatewayTimeout
	case "retrieval_error", "generation_error":
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
