package content

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/postpilot-hq/postpilot-backend/pkg/db/models"
	"github.com/postpilot-hq/postpilot-backend/pkg/enums"
	apperrors "github.com/postpilot-hq/postpilot-backend/pkg/errors"
)

// Repository persists content items. Every lifecycle transition is written
// through CompareAndSwapState so concurrent workers cannot double-claim an
// item.
type Repository struct {
	conn *gorm.DB
}

func NewRepository(conn *gorm.DB) *Repository {
	return &Repository{conn: conn}
}

func (r *Repository) Create(ctx context.Context, item *models.ContentItem) error {
	if err := r.conn.WithContext(ctx).Create(item).Error; err != nil {
		return apperrors.Wrap(apperrors.CodeDependency, err, "creating content item")
	}
	return nil
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.ContentItem, error) {
	var item models.ContentItem
	err := r.conn.WithContext(ctx).First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.New(apperrors.CodeNotFound, "content item not found")
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDependency, err, "loading content item")
	}
	return &item, nil
}

func (r *Repository) GetForUser(ctx context.Context, userID, id uuid.UUID) (*models.ContentItem, error) {
	var item models.ContentItem
	err := r.conn.WithContext(ctx).First(&item, "id = ? AND user_id = ?", id, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.New(apperrors.CodeNotFound, "content item not found")
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDependency, err, "loading content item")
	}
	return &item, nil
}

func (r *Repository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.ContentItem, error) {
	var items []models.ContentItem
	err := r.conn.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&items).Error
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDependency, err, "listing content items")
	}
	return items, nil
}

// ListDue returns items the publisher should pick up: scheduled items whose
// publish time has passed, and queued items whose retry due time has passed.
// The latter covers retries left behind by a previous process.
func (r *Repository) ListDue(ctx context.Context, now time.Time, limit int) ([]models.ContentItem, error) {
	var items []models.ContentItem
	err := r.conn.WithContext(ctx).
		Where("(state = ? AND scheduled_at <= ?) OR (state = ? AND next_attempt_at <= ?)",
			enums.ContentScheduled, now, enums.ContentQueued, now).
		Order("scheduled_at ASC").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDependency, err, "listing due content items")
	}
	return items, nil
}

// ListStalePublishing returns items stuck in the publishing state since
// before the cutoff. A live worker finishes or requeues its claim within
// seconds, so a row this old belongs to a process that died mid-attempt.
func (r *Repository) ListStalePublishing(ctx context.Context, cutoff time.Time, limit int) ([]models.ContentItem, error) {
	var items []models.ContentItem
	err := r.conn.WithContext(ctx).
		Where("state = ? AND updated_at <= ?", enums.ContentPublishing, cutoff).
		Order("updated_at ASC").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDependency, err, "listing stale publishing items")
	}
	return items, nil
}

// ListPublishedActive returns published items still eligible for engagement
// polling.
func (r *Repository) ListPublishedActive(ctx context.Context, limit, offset int) ([]models.ContentItem, error) {
	var items []models.ContentItem
	err := r.conn.WithContext(ctx).
		Where("state = ? AND metrics_state = ? AND external_post_id IS NOT NULL",
			enums.ContentPublished, enums.MetricsActive).
		Order("published_at ASC").
		Limit(limit).
		Offset(offset).
		Find(&items).Error
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDependency, err, "listing published content items")
	}
	return items, nil
}

// CompareAndSwapState moves one item from -> to, applying extra column
// updates in the same statement. Returns false without error when another
// writer got there first (the row is no longer in the from state).
func (r *Repository) CompareAndSwapState(ctx context.Context, id uuid.UUID, from, to enums.ContentState, updates map[string]any) (bool, error) {
	if !from.CanTransitionTo(to) {
		return false, apperrors.New(
			apperrors.CodeStateConflict,
			fmt.Sprintf("transition %s -> %s is not allowed", from, to),
		)
	}

	values := map[string]any{
		"state":      to,
		"updated_at": time.Now().UTC(),
	}
	for column, value := range updates {
		values[column] = value
	}

	res := r.conn.WithContext(ctx).
		Model(&models.ContentItem{}).
		Where("id = ? AND state = ?", id, from).
		Updates(values)
	if res.Error != nil {
		return false, apperrors.Wrap(apperrors.CodeDependency, res.Error, "swapping content state")
	}
	return res.RowsAffected == 1, nil
}

// UpdateEditable rewrites the mutable draft fields, bumping the revision so
// any previously derived idempotency key is invalidated. The write is
// guarded on the revision the caller read and on the item still being
// editable.
func (r *Repository) UpdateEditable(ctx context.Context, item *models.ContentItem, readRevision int) (bool, error) {
	nextRevision := readRevision + 1
	res := r.conn.WithContext(ctx).
		Model(&models.ContentItem{}).
		Where("id = ? AND revision = ? AND state IN ?",
			item.ID, readRevision, []enums.ContentState{enums.ContentDraft, enums.ContentScheduled}).
		Updates(map[string]any{
			"body":            item.Body,
			"format":          item.Format,
			"hashtags":        item.Hashtags,
			"media_urls":      item.MediaURLs,
			"revision":        nextRevision,
			"idempotency_key": models.PublishIntentKey(item.ID, nextRevision),
			"updated_at":      time.Now().UTC(),
		})
	if res.Error != nil {
		return false, apperrors.Wrap(apperrors.CodeDependency, res.Error, "updating content item")
	}
	if res.RowsAffected == 1 {
		item.Revision = nextRevision
		item.IdempotencyKey = models.PublishIntentKey(item.ID, nextRevision)
	}
	return res.RowsAffected == 1, nil
}

// ResetFailed returns a failed item to draft with a fresh revision so the
// next publish runs under a new idempotency key.
func (r *Repository) ResetFailed(ctx context.Context, id uuid.UUID, readRevision int) (bool, error) {
	nextRevision := readRevision + 1
	res := r.conn.WithContext(ctx).
		Model(&models.ContentItem{}).
		Where("id = ? AND revision = ? AND state = ?", id, readRevision, enums.ContentFailed).
		Updates(map[string]any{
			"state":           enums.ContentDraft,
			"revision":        nextRevision,
			"idempotency_key": models.PublishIntentKey(id, nextRevision),
			"scheduled_at":    nil,
			"next_attempt_at": nil,
			"attempt_count":   0,
			"last_error_kind": nil,
			"last_error":      nil,
			"updated_at":      time.Now().UTC(),
		})
	if res.Error != nil {
		return false, apperrors.Wrap(apperrors.CodeDependency, res.Error, "resetting failed content item")
	}
	return res.RowsAffected == 1, nil
}

// SetMetricsState flips metrics polling eligibility for a published item.
func (r *Repository) SetMetricsState(ctx context.Context, id uuid.UUID, state enums.MetricsState) error {
	res := r.conn.WithContext(ctx).
		Model(&models.ContentItem{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"metrics_state": state,
			"updated_at":    time.Now().UTC(),
		})
	if res.Error != nil {
		return apperrors.Wrap(apperrors.CodeDependency, res.Error, "updating metrics state")
	}
	return nil
}

// DeleteDraft removes an item that never left draft.
func (r *Repository) DeleteDraft(ctx context.Context, userID, id uuid.UUID) (bool, error) {
	res := r.conn.WithContext(ctx).
		Where("id = ? AND user_id = ? AND state = ?", id, userID, enums.ContentDraft).
		Delete(&models.ContentItem{})
	if res.Error != nil {
		return false, apperrors.Wrap(apperrors.CodeDependency, res.Error, "deleting draft")
	}
	return res.RowsAffected == 1, nil
}
