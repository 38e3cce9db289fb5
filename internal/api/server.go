// Package api exposes the seating service over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"tableside/internal/config"
	"tableside/internal/inventory"
	"tableside/internal/lifecycle"
	"tableside/internal/models"
	"tableside/internal/settlement"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Subscribers registers subscribers.
type Subscribers interface {
	UpsertSubscriber(ctx context.Context, s *models.Subscriber) error
}

type Server struct {
	echo        *echo.Echo
	lifecycle   *lifecycle.Service
	settlement  *settlement.Service
	inventory   *inventory.Inventory
	subscribers Subscribers
	address     string
	logger      *zerolog.Logger
}

type Deps struct {
	Lifecycle   *lifecycle.Service
	Settlement  *settlement.Service
	Inventory   *inventory.Inventory
	Subscribers Subscribers
	// Redis backs the shared rate limiter. It may be nil.
	Redis *redis.Client
}

func NewServer(deps Deps, cfg *config.Config, logger *zerolog.Logger) *Server {
	l := logger.With().Str("component", "api").Logger()
	s := &Server{
		echo:        echo.New(),
		lifecycle:   deps.Lifecycle,
		settlement:  deps.Settlement,
		inventory:   deps.Inventory,
		subscribers: deps.Subscribers,
		address:     cfg.HTTP.Address,
		logger:      &l,
	}

	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.Validator = newRequestValidator()
	e.HTTPErrorHandler = s.errorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			ev := s.logger.Debug()
			if v.Error != nil || v.Status >= http.StatusInternalServerError {
				ev = s.logger.Warn().Err(v.Error)
			}
			ev.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("request")
			return nil
		},
	}))
	if cfg.HTTP.RateLimit.Enabled {
		e.Use(newRateLimiter(cfg.HTTP.RateLimit, deps.Redis, s.logger).middleware)
	}
	e.Use(concurrencyLimit(cfg.HTTP.Workers))

	s.routes()
	return s
}

func (s *Server) routes() {
	g := s.echo.Group("/api/v1")
	g.POST("/reservations", s.createReservation)
	g.GET("/reservations/:code", s.getReservation)
	g.POST("/reservations/:code/checkin", s.checkIn)
	g.POST("/reservations/:code/cancel", s.cancel)
	g.GET("/reservations/:code/bill", s.bill)
	g.POST("/reservations/:code/pay", s.pay)
	g.POST("/waiting", s.joinWaitingList)
	g.GET("/tables", s.tables)
	g.POST("/subscribers", s.registerSubscriber)
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.address).Msg("HTTP API listening")
	if err := s.echo.Start(s.address); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.echo.Shutdown(ctx)
}
