package repository

import (
	"context"

	"github.com/sifan077/TempLink/internal/app/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LinkEventRepository defines the data access contract for the lifecycle audit trail.
type LinkEventRepository interface {
	Create(ctx context.Context, event *model.LinkEvent) error
	ListByIdentifier(ctx context.Context, identifier string) ([]model.LinkEvent, error)
}

type linkEventRepository struct {
	db *gorm.DB
}

// NewLinkEventRepository returns a GORM-backed LinkEventRepository.
func NewLinkEventRepository(db *gorm.DB) LinkEventRepository {
	return &linkEventRepository{db: db}
}

// Create is idempotent on the event ID so redelivered messages do not fail.
func (r *linkEventRepository) Create(ctx context.Context, event *model.LinkEvent) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(event).Error
}

func (r *linkEventRepository) ListByIdentifier(ctx context.Context, identifier string) ([]model.LinkEvent, error) {
	var events []model.LinkEvent
	if err := r.db.WithContext(ctx).
		Where("identifier = ?", identifier).
		Order("timestamp ASC").
		Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}
