package main

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/sifan077/TempLink/config"
	appmodel "github.com/sifan077/TempLink/internal/app/model"
	apprepository "github.com/sifan077/TempLink/internal/app/repository"
	"github.com/sifan077/TempLink/internal/app/service"
	infraNATS "github.com/sifan077/TempLink/internal/infra/nats"
	infraPostgres "github.com/sifan077/TempLink/internal/infra/postgres"
	"github.com/sifan077/TempLink/internal/infra/webhook"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// core holds what every command needs: the registry, notifications and,
// when the audit trail is enabled, the lifecycle event publisher.
type core struct {
	cfg      *config.Config
	log      *zap.Logger
	links    apprepository.LinkRepository
	notifier *webhook.Notifier
	events   service.EventPublisher

	natsConn *nats.Conn
	js       nats.JetStreamContext
	closers  []func()
}

func openCore(cfg *config.Config, log *zap.Logger) (*core, error) {
	links, err := apprepository.NewFileLinkRepository(cfg.Storage.Dir,
		apprepository.WithLogger(log.Named("registry")))
	if err != nil {
		return nil, err
	}

	c := &core{
		cfg:      cfg,
		log:      log,
		links:    links,
		notifier: webhook.New(cfg.Notify, log.Named("webhook")),
	}
	c.closers = append(c.closers, c.notifier.Close)

	if cfg.Audit.Enabled {
		conn, js, err := infraNATS.Connect(cfg.NATS, log.Named("nats"))
		if err != nil {
			c.Close()
			return nil, err
		}
		c.natsConn, c.js = conn, js
		c.closers = append(c.closers, func() { _ = conn.Drain() })

		publisher, err := service.NewLinkEventPublisher(js)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.events = publisher
		log.Info("Connected to NATS successfully", zap.Bool("jetstream_ready", js != nil))
	}

	return c, nil
}

// openAuditDB opens and migrates the audit database.
func (c *core) openAuditDB(ctx context.Context) (*gorm.DB, error) {
	if !c.cfg.Audit.Enabled {
		return nil, fmt.Errorf("audit trail is disabled (audit.enabled=false)")
	}

	db, err := infraPostgres.NewGorm(c.cfg.Postgres, c.log)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres: retrieve sql db: %w", err)
	}
	c.closers = append(c.closers, func() { _ = sqlDB.Close() })

	if err := infraPostgres.AutoMigrate(ctx, db, &appmodel.LinkEvent{}); err != nil {
		return nil, err
	}
	return db, nil
}

// Close releases resources in reverse order of acquisition.
func (c *core) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}
