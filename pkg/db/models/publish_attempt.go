package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/postpilot-hq/postpilot-backend/pkg/enums"
)

// PublishAttemptRecord is a ledger entry recording the outcome of one
// publish intent. The primary key on the idempotency key makes the
// check-then-insert atomic: at most one record can ever hold the slot.
type PublishAttemptRecord struct {
	IdempotencyKey string               `gorm:"column:idempotency_key;primaryKey"`
	ContentID      uuid.UUID            `gorm:"column:content_id;type:uuid;not null;index"`
	Outcome        enums.AttemptOutcome `gorm:"column:outcome;type:attempt_outcome_enum;not null"`
	ExternalPostID *string              `gorm:"column:external_post_id"`
	CreatedAt      time.Time            `gorm:"column:created_at;autoCreateTime"`
}
