package repository

import (
	"context"
	"errors"

	"github.com/sifan077/TempLink/internal/app/model"
)

var (
	// ErrLinkNotFound signals that no active link carries the identifier.
	ErrLinkNotFound = errors.New("link not found")
	// ErrIdentifierCollision signals that the identifier is already held by an active link.
	ErrIdentifierCollision = errors.New("identifier already in use")
	// ErrInvalidIdentifier rejects identifiers that cannot name a record on disk.
	ErrInvalidIdentifier = errors.New("invalid link identifier")
)

// LinkRepository defines the data access contract for disguise links.
type LinkRepository interface {
	Create(ctx context.Context, link *model.Link) error
	Get(ctx context.Context, identifier string) (*model.Link, error)
	Exists(ctx context.Context, identifier string) (bool, error)
	ListActive(ctx context.Context) ([]model.Link, error)
	Delete(ctx context.Context, identifier string) error
	Authenticate(ctx context.Context, identifier, username, password string) (bool, error)
}
