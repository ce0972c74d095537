package service

import (
	"context"
	"sync"

	"github.com/sifan077/TempLink/internal/app/model"
	"github.com/sifan077/TempLink/internal/app/repository"
)

type mockLinkRepository struct {
	createFn       func(ctx context.Context, link *model.Link) error
	getFn          func(ctx context.Context, id string) (*model.Link, error)
	existsFn       func(ctx context.Context, id string) (bool, error)
	listActiveFn   func(ctx context.Context) ([]model.Link, error)
	deleteFn       func(ctx context.Context, id string) error
	authenticateFn func(ctx context.Context, id, user, password string) (bool, error)
}

func (m *mockLinkRepository) Create(ctx context.Context, link *model.Link) error {
	if m.createFn != nil {
		return m.createFn(ctx, link)
	}
	return nil
}

func (m *mockLinkRepository) Get(ctx context.Context, id string) (*model.Link, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return nil, repository.ErrLinkNotFound
}

func (m *mockLinkRepository) Exists(ctx context.Context, id string) (bool, error) {
	if m.existsFn != nil {
		return m.existsFn(ctx, id)
	}
	return false, nil
}

func (m *mockLinkRepository) ListActive(ctx context.Context) ([]model.Link, error) {
	if m.listActiveFn != nil {
		return m.listActiveFn(ctx)
	}
	return nil, nil
}

func (m *mockLinkRepository) Delete(ctx context.Context, id string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return nil
}

func (m *mockLinkRepository) Authenticate(ctx context.Context, id, user, password string) (bool, error) {
	if m.authenticateFn != nil {
		return m.authenticateFn(ctx, id, user, password)
	}
	return false, nil
}

type notification struct {
	category NotifyCategory
	message  string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (n *recordingNotifier) Notify(category NotifyCategory, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{category: category, message: message})
}

func (n *recordingNotifier) messages() []notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notification(nil), n.sent...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.LinkEvent
	err    error
}

func (p *recordingPublisher) Publish(event model.LinkEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) published() []model.LinkEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.LinkEvent(nil), p.events...)
}

type stubVerifier struct {
	verifyFn func(ctx context.Context, token, clientIP string) (bool, error)
}

func (v *stubVerifier) Verify(ctx context.Context, token, clientIP string) (bool, error) {
	if v.verifyFn != nil {
		return v.verifyFn(ctx, token, clientIP)
	}
	return true, nil
}

// zeroReader makes crypto/rand.Int always return 0.
type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}
