package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sifan077/TempLink/internal/app/model"
	"github.com/sifan077/TempLink/internal/app/repository"
	metrics "github.com/sifan077/TempLink/internal/infra/prometheus"
	"go.uber.org/zap"
)

// maxCreateAttempts bounds re-allocation when a concurrent writer takes the
// identifier between allocation and persistence.
const maxCreateAttempts = 3

// LinkService defines behaviour-level operations on disguise links.
type LinkService interface {
	CreateLink(ctx context.Context, body []byte, clientIP string) (*model.Link, error)
	CreateBatch(ctx context.Context, body []byte, clientIP string) ([]model.Link, error)
	GetLink(ctx context.Context, identifier string) (*model.Link, error)
	ListLinks(ctx context.Context) ([]model.Link, error)
	RevokeLink(ctx context.Context, identifier string) error
}

// CanonicalResolver picks the domain form to store for a new link.
type CanonicalResolver interface {
	CanonicalDomain(ctx context.Context, draft model.Link) string
}

// LinkServiceDeps bundles the collaborators of the link service.
type LinkServiceDeps struct {
	Logger         *zap.Logger
	Links          repository.LinkRepository
	Gate           *AdmissionGate
	Allocator      *IdentifierAllocator
	Notifier       Notifier
	Events         EventPublisher
	Canonical      CanonicalResolver
	DisguiseDomain string
	Now            func() time.Time
}

type linkService struct {
	logger         *zap.Logger
	links          repository.LinkRepository
	gate           *AdmissionGate
	allocator      *IdentifierAllocator
	notifier       Notifier
	events         EventPublisher
	canonical      CanonicalResolver
	disguiseDomain string
	now            func() time.Time
}

// NewLinkService returns a service implementation backed by the given repository.
func NewLinkService(deps LinkServiceDeps) LinkService {
	s := &linkService{
		logger:         deps.Logger,
		links:          deps.Links,
		gate:           deps.Gate,
		allocator:      deps.Allocator,
		notifier:       deps.Notifier,
		events:         deps.Events,
		canonical:      deps.Canonical,
		disguiseDomain: deps.DisguiseDomain,
		now:            deps.Now,
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
	if s.now == nil {
		s.now = time.Now
	}
	if s.allocator == nil {
		s.allocator = NewIdentifierAllocator(deps.Links, DefaultIdentifierLength)
	}
	return s
}

func (s *linkService) CreateLink(ctx context.Context, body []byte, clientIP string) (*model.Link, error) {
	draft, err := s.gate.AdmitSingle(ctx, body, clientIP)
	if err != nil {
		return nil, err
	}

	link, err := s.issue(ctx, draft)
	if err != nil {
		return nil, err
	}

	s.logger.Info("link created",
		zap.String("identifier", link.Identifier),
		zap.String("domain", link.Domain),
		zap.String("client_ip", clientIP),
	)
	s.notifier.Notify(CategoryCreation, creationMessage(*link, s.disguiseDomain, clientIP))
	s.publish(model.LinkEventCreated, *link, clientIP)
	return link, nil
}

// CreateBatch creates every entry or none: links already written are
// deleted again when a later entry fails.
func (s *linkService) CreateBatch(ctx context.Context, body []byte, clientIP string) ([]model.Link, error) {
	drafts, err := s.gate.AdmitBatch(ctx, body, clientIP)
	if err != nil {
		return nil, err
	}

	created := make([]model.Link, 0, len(drafts))
	for _, draft := range drafts {
		link, err := s.issue(ctx, draft)
		if err != nil {
			s.rollback(created)
			return nil, err
		}
		created = append(created, *link)
	}

	s.logger.Info("batch created",
		zap.Int("count", len(created)),
		zap.String("client_ip", clientIP),
	)
	s.notifier.Notify(CategoryCreation, batchCreationMessage(created, s.disguiseDomain, clientIP))
	for _, link := range created {
		s.publish(model.LinkEventCreated, link, clientIP)
	}
	return created, nil
}

func (s *linkService) GetLink(ctx context.Context, identifier string) (*model.Link, error) {
	link, err := s.links.Get(ctx, identifier)
	if err != nil {
		return nil, fmt.Errorf("get link: %w", err)
	}
	return link, nil
}

func (s *linkService) ListLinks(ctx context.Context) ([]model.Link, error) {
	links, err := s.links.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	return links, nil
}

func (s *linkService) RevokeLink(ctx context.Context, identifier string) error {
	link, err := s.links.Get(ctx, identifier)
	if err != nil {
		return fmt.Errorf("load link: %w", err)
	}
	if err := s.links.Delete(ctx, link.Identifier); err != nil {
		return fmt.Errorf("revoke link: %w", err)
	}

	metrics.LinksRetired.WithLabelValues("revoked").Inc()
	s.logger.Info("link revoked", zap.String("identifier", link.Identifier))
	s.publish(model.LinkEventRevoked, *link, "")
	return nil
}

func (s *linkService) issue(ctx context.Context, draft model.Link) (*model.Link, error) {
	if s.canonical != nil {
		draft.Domain = s.canonical.CanonicalDomain(ctx, draft)
	}

	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		id, err := s.allocator.Allocate(ctx)
		if err != nil {
			return nil, fmt.Errorf("allocate identifier: %w", err)
		}

		link := model.NewLink(id, draft, s.now())
		if err := s.links.Create(ctx, &link); err != nil {
			if errors.Is(err, repository.ErrIdentifierCollision) {
				continue
			}
			return nil, fmt.Errorf("create link: %w", err)
		}

		s.allocator.MarkIssued(link.Identifier)
		metrics.LinksCreated.Inc()
		if link.Credentials != nil {
			link.Credentials = &model.Credentials{Username: link.Credentials.Username}
		}
		return &link, nil
	}
	return nil, fmt.Errorf("create link: %w", ErrAllocationExhausted)
}

func (s *linkService) rollback(created []model.Link) {
	// The request context may already be canceled.
	ctx := context.Background()
	for _, link := range created {
		if err := s.links.Delete(ctx, link.Identifier); err != nil && !errors.Is(err, repository.ErrLinkNotFound) {
			s.logger.Error("failed to roll back batch link",
				zap.String("identifier", link.Identifier),
				zap.Error(err),
			)
		}
	}
}

func (s *linkService) publish(kind string, link model.Link, clientIP string) {
	if err := s.events.Publish(newLinkEvent(kind, link, clientIP, s.now())); err != nil {
		s.logger.Warn("failed to publish link event",
			zap.String("kind", kind),
			zap.String("identifier", link.Identifier),
			zap.Error(err),
		)
	}
}
