package engagement

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/postpilot-hq/postpilot-backend/pkg/db/models"
	apperrors "github.com/postpilot-hq/postpilot-backend/pkg/errors"
)

// Repository stores engagement snapshots. Rows are append-only.
type Repository struct {
	conn *gorm.DB
}

func NewRepository(conn *gorm.DB) *Repository {
	return &Repository{conn: conn}
}

func (r *Repository) Create(ctx context.Context, snapshot *models.EngagementSnapshot) error {
	if snapshot.ID == uuid.Nil {
		snapshot.ID = uuid.New()
	}
	if snapshot.ObservedAt.IsZero() {
		snapshot.ObservedAt = time.Now().UTC()
	}
	if err := r.conn.WithContext(ctx).Create(snapshot).Error; err != nil {
		return apperrors.Wrap(apperrors.CodeDependency, err, "storing engagement snapshot")
	}
	return nil
}

// Latest returns the most recent snapshot for a post, or CodeNotFound.
func (r *Repository) Latest(ctx context.Context, externalPostID string) (*models.EngagementSnapshot, error) {
	var snapshot models.EngagementSnapshot
	err := r.conn.WithContext(ctx).
		Where("external_post_id = ?", externalPostID).
		Order("observed_at DESC").
		First(&snapshot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.New(apperrors.CodeNotFound, "no snapshot for post")
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDependency, err, "loading engagement snapshot")
	}
	return &snapshot, nil
}

// ListForPost returns the snapshot history for a post, oldest first.
func (r *Repository) ListForPost(ctx context.Context, externalPostID string, limit int) ([]models.EngagementSnapshot, error) {
	var snapshots []models.EngagementSnapshot
	err := r.conn.WithContext(ctx).
		Where("external_post_id = ?", externalPostID).
		Order("observed_at ASC").
		Limit(limit).
		Find(&snapshots).Error
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDependency, err, "listing engagement snapshots")
	}
	return snapshots, nil
}
