// Package controlplane serves the local HTTP API used to inspect folders and
// trigger syncs.
package controlplane

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/openmined/treesync/internal/utils"
)

const defaultRateLimit = 20

type Config struct {
	Addr  string
	Token string
	// RateLimit is requests per second per client, 0 for the default.
	RateLimit int64
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}

// NewRouter builds the API handler.
func NewRouter(folders Folders, cfg Config) http.Handler {
	limit := cfg.RateLimit
	if limit <= 0 {
		limit = defaultRateLimit
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger())
	r.Use(secureHeaders())
	r.Use(corsMiddleware())
	r.Use(gzipMiddleware())
	r.Use(rateLimit(limit))

	h := &handler{folders: folders}
	r.GET("/", h.index)

	v1 := r.Group("/v1")
	v1.Use(tokenAuth(cfg.Token))
	{
		v1.GET("/status", h.status)

		v1Folders := v1.Group("/folders")
		{
			v1Folders.GET("", h.list)
			v1Folders.GET("/:alias", h.get)
			v1Folders.GET("/:alias/file", h.fileStatus)
			v1Folders.POST("/:alias/sync", h.sync)
			v1Folders.POST("/:alias/terminate", h.terminate)
		}
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, ErrorResponse{Code: ErrCodeNotFound, Error: "not found"})
	})

	return r.Handler()
}

type Server struct {
	cfg    Config
	server *http.Server
}

func NewServer(folders Folders, cfg Config) *Server {
	return &Server{
		cfg: cfg,
		server: &http.Server{
			Addr:              cfg.Addr,
			Handler:           NewRouter(folders, cfg),
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       120 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
			MaxHeaderBytes:    1 << 20,
		},
	}
}

// Start listens on the configured address and blocks until Stop.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("control plane listen: %w", err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Stop.
func (s *Server) Serve(ln net.Listener) error {
	slog.Info("control plane start", "addr", "http://"+ln.Addr().String(), "token", utils.MaskSecret(s.cfg.Token))
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("control plane serve: %w", err)
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	slog.Info("control plane stop")
	return s.server.Shutdown(ctx)
}
