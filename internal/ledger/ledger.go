// Package ledger records the durable outcome of every publish intent. One
// idempotency key gets at most one row, enforced by the primary key rather
// than by application locks, so concurrent workers agree on a single winner.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/postpilot-hq/postpilot-backend/pkg/db/models"
	"github.com/postpilot-hq/postpilot-backend/pkg/enums"
	apperrors "github.com/postpilot-hq/postpilot-backend/pkg/errors"
)

type Repository struct {
	conn *gorm.DB
}

func NewRepository(conn *gorm.DB) *Repository {
	return &Repository{conn: conn}
}

// RecordIfAbsent inserts the outcome for an idempotency key unless one is
// already recorded. It returns the row that ended up in the ledger and
// whether this call inserted it. Losers of a race get the winner's row.
func (r *Repository) RecordIfAbsent(ctx context.Context, record *models.PublishAttemptRecord) (*models.PublishAttemptRecord, bool, error) {
	if record.IdempotencyKey == "" {
		return nil, false, apperrors.New(apperrors.CodeValidation, "idempotency key is required")
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	res := r.conn.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(record)
	if res.Error != nil {
		return nil, false, apperrors.Wrap(apperrors.CodeDependency, res.Error, "recording publish outcome")
	}
	if res.RowsAffected == 1 {
		return record, true, nil
	}

	existing, err := r.Get(ctx, record.IdempotencyKey)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// Get returns the recorded outcome for an idempotency key, or CodeNotFound.
func (r *Repository) Get(ctx context.Context, idempotencyKey string) (*models.PublishAttemptRecord, error) {
	var record models.PublishAttemptRecord
	err := r.conn.WithContext(ctx).
		First(&record, "idempotency_key = ?", idempotencyKey).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.New(apperrors.CodeNotFound, "no outcome recorded for key")
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDependency, err, "loading publish outcome")
	}
	return &record, nil
}

// ListForContent returns every recorded outcome for a content item, oldest
// first. Used by the API detail view.
func (r *Repository) ListForContent(ctx context.Context, contentID uuid.UUID) ([]models.PublishAttemptRecord, error) {
	var records []models.PublishAttemptRecord
	err := r.conn.WithContext(ctx).
		Where("content_id = ?", contentID).
		Order("created_at ASC").
		Find(&records).Error
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDependency, err, "listing publish outcomes")
	}
	return records, nil
}

// DeleteOlderThan prunes ledger rows past the retention cutoff. Successful
// rows for published items stay useful only as long as a replay of the same
// revision is plausible.
func (r *Repository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.conn.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&models.PublishAttemptRecord{})
	if res.Error != nil {
		return 0, apperrors.Wrap(apperrors.CodeDependency, res.Error, "pruning publish outcomes")
	}
	return res.RowsAffected, nil
}

// SucceededRecord builds a success row for an intent.
func SucceededRecord(key string, contentID uuid.UUID, externalPostID string) *models.PublishAttemptRecord {
	return &models.PublishAttemptRecord{
		IdempotencyKey: key,
		ContentID:      contentID,
		Outcome:        enums.AttemptSucceeded,
		ExternalPostID: &externalPostID,
		CreatedAt:      time.Now().UTC(),
	}
}

// FailedRecord builds a terminal failure row for an intent.
func FailedRecord(key string, contentID uuid.UUID) *models.PublishAttemptRecord {
	return &models.PublishAttemptRecord{
		IdempotencyKey: key,
		ContentID:      contentID,
		Outcome:        enums.AttemptFailed,
		CreatedAt:      time.Now().UTC(),
	}
}
