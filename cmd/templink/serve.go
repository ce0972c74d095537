package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	apprepository "github.com/sifan077/TempLink/internal/app/repository"
	appserver "github.com/sifan077/TempLink/internal/app/server"
	"github.com/sifan077/TempLink/internal/app/service"
	"github.com/sifan077/TempLink/internal/http/util"
	infraPostgres "github.com/sifan077/TempLink/internal/infra/postgres"
	infraPrometheus "github.com/sifan077/TempLink/internal/infra/prometheus"
	infraRedis "github.com/sifan077/TempLink/internal/infra/redis"
	"github.com/sifan077/TempLink/internal/infra/turnstile"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the link creation API, the forwarding proxy and the expiration sweeper",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log := appConfig, appLogger

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := openCore(cfg, log)
	if err != nil {
		log.Error("Failed to initialise link registry", zap.Error(err))
		return err
	}
	defer c.Close()

	var pool *pgxpool.Pool
	var consumer *service.LinkEventConsumer
	if cfg.Audit.Enabled {
		pool, err = infraPostgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			log.Error("Failed to connect to Postgres", zap.Error(err))
			return err
		}
		defer pool.Close()

		db, err := c.openAuditDB(ctx)
		if err != nil {
			log.Error("Failed to prepare audit database", zap.Error(err))
			return err
		}

		consumer = service.NewLinkEventConsumer(c.js, log.Named("audit"), apprepository.NewLinkEventRepository(db))
		if err := consumer.Start(); err != nil {
			log.Error("Failed to start link event consumer", zap.Error(err))
			return err
		}
		defer consumer.Stop()
	}

	var rdb *redis.Client
	if cfg.RateLimit.Enabled {
		rdb, err = infraRedis.NewClient(ctx, cfg.Redis)
		if err != nil {
			log.Error("Failed to connect to Redis", zap.Error(err))
			return err
		}
		defer rdb.Close()
	}

	forwarder := service.NewForwarder(service.ForwarderConfig{
		Timeout:            cfg.Forward.Timeout,
		InsecureSkipVerify: cfg.Forward.InsecureSkipVerify,
		MaxBodyBytes:       cfg.Forward.MaxBodyBytes,
		DisguiseDomain:     cfg.Disguise.Domain,
		AbuseContact:       cfg.Disguise.AbuseContact,
	}, log.Named("forwarder"))

	var canonical service.CanonicalResolver
	if cfg.Disguise.ProbeWWW {
		canonical = forwarder
	}

	if cfg.Captcha.Secret == "" {
		log.Warn("captcha.secret is empty, every creation request will fail verification")
	}

	linkService := service.NewLinkService(service.LinkServiceDeps{
		Logger:         log.Named("links"),
		Links:          c.links,
		Gate:           service.NewAdmissionGate(turnstile.NewVerifier(cfg.Captcha), cfg.Captcha.Timeout),
		Allocator:      service.NewIdentifierAllocator(c.links, cfg.Disguise.IdentifierLength),
		Notifier:       c.notifier,
		Events:         c.events,
		Canonical:      canonical,
		DisguiseDomain: cfg.Disguise.Domain,
	})

	var signer *util.RouteSigner
	if cfg.Forward.RouteSecret != "" {
		signer = util.NewRouteSigner([]byte(cfg.Forward.RouteSecret))
	}

	sweeper := service.NewExpirationSweeper(service.SweeperDeps{
		Logger:         log.Named("sweeper"),
		Links:          c.links,
		Notifier:       c.notifier,
		Events:         c.events,
		DisguiseDomain: cfg.Disguise.Domain,
		Interval:       cfg.Sweeper.Interval,
	})
	sweeper.Start(ctx)
	defer sweeper.Stop()

	if cfg.Prometheus.Enabled {
		metricsServer := infraPrometheus.NewServer(cfg.Prometheus)
		go func() {
			log.Info("Metrics endpoint listening", zap.String("addr", metricsServer.Addr))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Metrics server stopped", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}

	srv := appserver.New(appserver.Dependencies{
		Config:      cfg,
		Logger:      log,
		Postgres:    pool,
		Redis:       rdb,
		Links:       c.links,
		LinkService: linkService,
		Forwarder:   forwarder,
		Signer:      signer,
	})

	errCh := make(chan error, 1)
	go func() {
		log.Info("Starting TempLink",
			zap.String("addr", cfg.Server.Addr),
			zap.String("domain", cfg.Disguise.Domain),
			zap.Bool("audit", cfg.Audit.Enabled),
			zap.Bool("rate_limit", rdb != nil),
		)
		errCh <- srv.Listen(cfg.Server.Addr)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.Error("Server stopped unexpectedly", zap.Error(err))
		}
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("Graceful shutdown failed", zap.Error(err))
	}
	return nil
}
