package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sifan077/TempLink/internal/app/model"
	apprepository "github.com/sifan077/TempLink/internal/app/repository"
	metrics "github.com/sifan077/TempLink/internal/infra/prometheus"
	"go.uber.org/zap"
)

const DefaultSweepInterval = 600 * time.Second

// SweepReport summarises one sweep pass.
type SweepReport struct {
	Scanned int
	Retired []model.Link
	Failed  map[string]error
}

// SweeperDeps bundles the collaborators of the sweeper.
type SweeperDeps struct {
	Logger         *zap.Logger
	Links          apprepository.LinkRepository
	Notifier       Notifier
	Events         EventPublisher
	DisguiseDomain string
	Interval       time.Duration
	Now            func() time.Time
}

// ExpirationSweeper periodically retires links whose lifetime has elapsed.
type ExpirationSweeper struct {
	logger         *zap.Logger
	links          apprepository.LinkRepository
	notifier       Notifier
	events         EventPublisher
	disguiseDomain string
	interval       time.Duration
	now            func() time.Time

	stopChan chan struct{}
	done     chan struct{}
	once     sync.Once
	mu       sync.Mutex
	started  bool
}

// NewExpirationSweeper creates a new sweeper.
func NewExpirationSweeper(deps SweeperDeps) *ExpirationSweeper {
	s := &ExpirationSweeper{
		logger:         deps.Logger,
		links:          deps.Links,
		notifier:       deps.Notifier,
		events:         deps.Events,
		disguiseDomain: deps.DisguiseDomain,
		interval:       deps.Interval,
		now:            deps.Now,
		stopChan:       make(chan struct{}),
		done:           make(chan struct{}),
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.notifier == nil {
		s.notifier = nopNotifier{}
	}
	if s.events == nil {
		s.events = nopPublisher{}
	}
	if s.interval <= 0 {
		s.interval = DefaultSweepInterval
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Start runs one sweep immediately and then one per interval until Stop or ctx is done.
func (s *ExpirationSweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	go s.run(ctx)
}

// Stop stops the periodic sweeping and waits for a running pass to finish.
func (s *ExpirationSweeper) Stop() {
	s.once.Do(func() { close(s.stopChan) })

	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if started {
		<-s.done
	}
}

func (s *ExpirationSweeper) run(ctx context.Context) {
	defer close(s.done)

	s.SweepOnce(ctx, s.now())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.SweepOnce(ctx, s.now())
		case <-ctx.Done():
			s.logger.Info("expiration sweeper stopped", zap.Error(ctx.Err()))
			return
		case <-s.stopChan:
			s.logger.Info("expiration sweeper stopped")
			return
		}
	}
}

// SweepOnce deletes every link expired at now. A link that fails to delete
// is logged and left for the next pass.
func (s *ExpirationSweeper) SweepOnce(ctx context.Context, now time.Time) SweepReport {
	report := SweepReport{Failed: map[string]error{}}

	links, err := s.links.ListActive(ctx)
	if err != nil {
		s.logger.Error("failed to list active links", zap.Error(err))
		return report
	}
	report.Scanned = len(links)

	for _, link := range links {
		if !link.Expired(now) {
			continue
		}
		if err := s.links.Delete(ctx, link.Identifier); err != nil {
			if errors.Is(err, apprepository.ErrLinkNotFound) {
				continue
			}
			report.Failed[link.Identifier] = err
			metrics.SweepFailures.Inc()
			s.logger.Error("failed to retire expired link",
				zap.String("identifier", link.Identifier),
				zap.Error(err),
			)
			continue
		}
		report.Retired = append(report.Retired, link)
	}

	if len(report.Retired) == 0 {
		return report
	}

	metrics.LinksRetired.WithLabelValues("expired").Add(float64(len(report.Retired)))
	s.logger.Info("retired expired links",
		zap.Int("count", len(report.Retired)),
		zap.Int("failed", len(report.Failed)),
		zap.Time("now", now),
	)

	s.notifier.Notify(CategoryExpiration, expirationMessage(report.Retired, s.disguiseDomain))
	for _, link := range report.Retired {
		if err := s.events.Publish(newLinkEvent(model.LinkEventRetired, link, "", now)); err != nil {
			s.logger.Warn("failed to publish link event",
				zap.String("identifier", link.Identifier),
				zap.Error(err),
			)
		}
	}
	return report
}
