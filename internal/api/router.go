// Package api serves the agent's local status endpoints.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/orrn/printagent/internal/api/handlers"
	"github.com/orrn/printagent/internal/api/middleware"
	"github.com/orrn/printagent/internal/config"
	applog "github.com/orrn/printagent/internal/log"
)

type RouterOptions struct {
	Serial  string
	Printer string
	Auth    *middleware.AuthMiddleware
	Runs    handlers.RunStore
	Options handlers.OptionsLister
}

// NewRouter builds the gin engine. Journal routes are only mounted when a
// run store is supplied.
func NewRouter(opts RouterOptions) *gin.Engine {
	logger := applog.WithComponent("api")

	engine := gin.New()
	engine.Use(middleware.Recovery(logger))
	engine.Use(middleware.RequestLogger(logger))

	health := handlers.NewHealthHandler(opts.Serial, opts.Printer, opts.Runs != nil)
	engine.GET("/healthz", health.Health)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	auth := opts.Auth
	if auth == nil {
		auth = middleware.NewAuthMiddleware(&config.ServerConfig{})
	}

	apiGroup := engine.Group("/api")
	apiGroup.POST("/login", auth.LoginHandler)

	protected := apiGroup.Group("")
	protected.Use(auth.RequireAuth())

	if opts.Runs != nil {
		runs := handlers.NewRunHandler(opts.Runs)
		protected.GET("/runs", runs.ListRuns)
		protected.GET("/runs/:id", runs.GetRun)
		protected.GET("/counters", runs.GetCounters)
	}

	if opts.Options != nil {
		printers := handlers.NewPrinterHandler(opts.Options, opts.Printer)
		protected.GET("/printer/options", printers.GetOptions)
	}

	return engine
}

// Server wraps the status API's http.Server.
type Server struct {
	srv *http.Server
}

func NewServer(cfg *config.ServerConfig, handler http.Handler) *Server {
	return &Server{srv: &http.Server{
		Addr:         cfg.Address,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}}
}

// ListenAndServe blocks until the server stops. A clean shutdown returns nil.
func (s *Server) ListenAndServe() error {
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
