package server

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	goredis "github.com/redis/go-redis/v9"

	"github.com/promora/beacon/internal/config"
	"github.com/promora/beacon/internal/domain"
	"github.com/promora/beacon/internal/realtime"
)

// appService is the application-layer surface the HTTP handlers rely on.
type appService interface {
	IssueTicket(ctx context.Context, userID, ownerClientID string, ttl time.Duration) (*domain.Ticket, error)
	PublishJobProgress(ctx context.Context, event domain.JobProgressEvent)
}

type Server struct {
	echo      *echo.Echo
	config    *config.Config
	hub       *realtime.Hub
	app       appService
	pool      *pgxpool.Pool
	redis     *goredis.Client
	global    *GlobalConnectionLimiter
	perIP     *IPConnectionLimiter
	startTime time.Time
}

func NewServer(cfg *config.Config, hub *realtime.Hub, app appService, pool *pgxpool.Pool, redis *goredis.Client) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:      e,
		config:    cfg,
		hub:       hub,
		app:       app,
		pool:      pool,
		redis:     redis,
		global:    NewGlobalConnectionLimiter(int64(cfg.MaxWebSocketConnections)),
		perIP:     NewIPConnectionLimiter(cfg.MaxConnectionsPerIP, cfg.ConnectionRatePerIP),
		startTime: time.Now(),
	}

	srv.registerRoutes()

	return srv
}

func (s *Server) Start() error {
	return s.echo.Start(fmt.Sprintf(":%s", s.config.Port))
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
