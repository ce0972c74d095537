package server

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sifan077/TempLink/config"
	"github.com/sifan077/TempLink/internal/app/repository"
	"github.com/sifan077/TempLink/internal/app/service"
	inthttp "github.com/sifan077/TempLink/internal/http/handler"
	"github.com/sifan077/TempLink/internal/http/middleware"
	"github.com/sifan077/TempLink/internal/http/util"
	"go.uber.org/zap"
)

const (
	readTimeout  = 60 * time.Second
	idleTimeout  = 120 * time.Second
	bodyLimitMin = 4 << 20
)

// Dependencies bundles infrastructure dependencies required by the HTTP server.
type Dependencies struct {
	Config      *config.Config
	Logger      *zap.Logger
	Postgres    *pgxpool.Pool
	Redis       *redis.Client
	Links       repository.LinkRepository
	LinkService service.LinkService
	Forwarder   *service.Forwarder
	Signer      *util.RouteSigner
}

// Server wraps the Fiber application and its dependencies.
type Server struct {
	app  *fiber.App
	deps Dependencies
}

// New creates a new HTTP server instance with all routes registered.
func New(deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	bodyLimit := deps.Config.Forward.MaxBodyBytes
	if bodyLimit < bodyLimitMin {
		bodyLimit = bodyLimitMin
	}

	app := fiber.New(fiber.Config{
		AppName:               "TempLink",
		DisableStartupMessage: true,
		BodyLimit:             bodyLimit,
		ReadTimeout:           readTimeout,
		WriteTimeout:          deps.Config.Forward.Timeout + 5*time.Second,
		IdleTimeout:           idleTimeout,
	})

	s := &Server{
		app:  app,
		deps: deps,
	}

	s.registerRoutes()
	return s
}

// App exposes the Fiber application, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen starts the Fiber server on the given address.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the Fiber server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) registerRoutes() {
	cfg := s.deps.Config
	log := s.deps.Logger

	s.app.Use(
		middleware.Recovery(log),
		middleware.RequestID(),
		middleware.Logger(log.Named("http"), cfg.Server.ClientIPHeader),
	)

	forwardHandler := inthttp.NewForwardHandler(inthttp.ForwardDeps{
		Logger:         log.Named("forward"),
		Links:          s.deps.Links,
		Forwarder:      s.deps.Forwarder,
		Signer:         s.deps.Signer,
		DisguiseDomain: cfg.Disguise.Domain,
		ClientIPHeader: cfg.Server.ClientIPHeader,
	})
	forwardHandler.Register(s.app)

	var limiter fiber.Handler
	if cfg.RateLimit.Enabled && s.deps.Redis != nil {
		limitCfg := middleware.DefaultRateLimitConfig()
		if cfg.RateLimit.MaxRequests > 0 {
			limitCfg.MaxRequests = cfg.RateLimit.MaxRequests
		}
		if cfg.RateLimit.Window > 0 {
			limitCfg.Window = cfg.RateLimit.Window
		}
		limitCfg.ClientIPHeader = cfg.Server.ClientIPHeader
		limiter = middleware.RateLimit(s.deps.Redis, limitCfg, log.Named("ratelimit"))
	}

	linkHandler := inthttp.NewLinkHandler(inthttp.LinkDeps{
		Logger:         log.Named("links"),
		LinkService:    s.deps.LinkService,
		DisguiseDomain: cfg.Disguise.Domain,
		ClientIPHeader: cfg.Server.ClientIPHeader,
		RateLimit:      limiter,
	})
	linkHandler.Register(s.app)

	healthHandler := inthttp.NewHealthHandler(inthttp.HealthDeps{
		Logger:   log.Named("health"),
		Postgres: s.deps.Postgres,
		Redis:    s.deps.Redis,
	})
	healthHandler.Register(s.app)
}
