package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/bluesky-social/banter/engage/cachestore"
	"github.com/bluesky-social/banter/engage/scheduler"

	"github.com/carlmjohnson/versioninfo"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	slogecho "github.com/samber/slog-echo"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
)

// Admin HTTP surface: health, metrics and persisted loop state.
type Server struct {
	echo   *echo.Echo
	httpd  *http.Server
	cache  cachestore.CacheStore
	logger *slog.Logger
}

type ServerConfig struct {
	Bind string

	// where HTTP metrics are registered; defaults to the prometheus default registry
	Registerer prometheus.Registerer
}

func NewServer(logger *slog.Logger, cache cachestore.CacheStore, config ServerConfig) (*Server, error) {
	e := echo.New()
	srv := &Server{
		echo:   e,
		cache:  cache,
		logger: logger,
	}
	srv.httpd = &http.Server{
		Handler:        srv,
		Addr:           config.Bind,
		WriteTimeout:   time.Minute,
		ReadTimeout:    time.Minute,
		MaxHeaderBytes: 1 << 20,
	}

	reg := config.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	metrics, err := echoprometheus.MiddlewareConfig{
		Subsystem:  "banter_admin",
		Registerer: reg,
	}.ToMiddleware()
	if err != nil {
		return nil, err
	}

	e.HideBanner = true
	e.Use(slogecho.New(logger))
	e.Use(middleware.Recover())
	e.Use(metrics)
	e.Use(otelecho.Middleware("banter"))
	e.HTTPErrorHandler = srv.errorHandler

	e.GET("/_health", srv.HandleHealthCheck)
	e.GET("/metrics", echoprometheus.NewHandler())
	e.GET("/status", srv.HandleStatus)
	return srv, nil
}

// Serves until ctx is done, then shuts down gracefully.
func (srv *Server) Run(ctx context.Context) error {
	srv.logger.Info("starting admin server", "bind", srv.httpd.Addr)
	errc := make(chan error, 1)
	go func() {
		if err := srv.httpd.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.logger.Info("shutting down admin server")
	return srv.httpd.Shutdown(shutdownCtx)
}

func (srv *Server) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	srv.echo.ServeHTTP(rw, req)
}

type GenericError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (srv *Server) errorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	var errorMessage string
	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code
		if m, ok := he.Message.(string); ok {
			errorMessage = m
		}
	}
	if code >= 500 {
		srv.logger.Warn("banter-http-internal-error", "err", err)
	}
	if !c.Response().Committed {
		c.JSON(code, GenericError{Error: http.StatusText(code), Message: errorMessage})
	}
}

type GenericStatus struct {
	Daemon  string `json:"daemon"`
	Status  string `json:"status"`
	Message string `json:"msg,omitempty"`
}

func (srv *Server) HandleHealthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, GenericStatus{Status: "ok", Daemon: "banter"})
}

type StatusResponse struct {
	Version       string     `json:"version"`
	LastCheckedID string     `json:"lastCheckedId,omitempty"`
	LastPostTime  *time.Time `json:"lastPostTime,omitempty"`
	ShutdownAt    *time.Time `json:"shutdownAt,omitempty"`
}

func (srv *Server) HandleStatus(c echo.Context) error {
	ctx := c.Request().Context()
	resp := StatusResponse{Version: versioninfo.Short()}

	mark, err := srv.cache.Get(ctx, scheduler.EngagementCacheName, scheduler.LastCheckedKey)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "reading engagement state")
	}
	resp.LastCheckedID = mark

	if t, ok, err := cachestore.GetTime(ctx, srv.cache, scheduler.PostingCacheName, scheduler.LastPostKey); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "reading posting state")
	} else if ok {
		resp.LastPostTime = &t
	}
	if t, ok, err := cachestore.GetTime(ctx, srv.cache, scheduler.EngagementCacheName, scheduler.ShutdownKey); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "reading engagement state")
	} else if ok {
		resp.ShutdownAt = &t
	}
	return c.JSON(http.StatusOK, resp)
}
