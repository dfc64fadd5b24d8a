package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/postpilot-hq/postpilot-backend/pkg/enums"
)

// ContentItem is a planned piece of social content moving through the
// publish lifecycle. State transitions are only ever written through a
// compare-and-swap on the current state.
type ContentItem struct {
	ID             uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID         uuid.UUID           `gorm:"column:user_id;type:uuid;not null;index"`
	Body           string              `gorm:"column:body;not null"`
	Format         enums.ContentFormat `gorm:"column:format;type:content_format_enum;not null;default:text"`
	Hashtags       pq.StringArray      `gorm:"column:hashtags;type:text[]"`
	MediaURLs      pq.StringArray      `gorm:"column:media_urls;type:text[]"`
	State          enums.ContentState  `gorm:"column:state;type:content_state_enum;not null;default:draft"`
	Revision       int                 `gorm:"column:revision;not null;default:1"`
	IdempotencyKey string              `gorm:"column:idempotency_key;not null"`
	ScheduledAt    *time.Time          `gorm:"column:scheduled_at;index"`
	NextAttemptAt  *time.Time          `gorm:"column:next_attempt_at"`
	AttemptCount   int                 `gorm:"column:attempt_count;not null;default:0"`
	LastErrorKind  *string             `gorm:"column:last_error_kind"`
	LastError      *string             `gorm:"column:last_error"`
	ExternalPostID *string             `gorm:"column:external_post_id"`
	MetricsState   enums.MetricsState  `gorm:"column:metrics_state;not null;default:active"`
	PublishedAt    *time.Time          `gorm:"column:published_at"`
	CreatedAt      time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

// PublishIntentKey derives the idempotency key for one publish intent.
// The key is stable across retries of the same revision; editing the body
// bumps the revision and therefore invalidates the key.
func PublishIntentKey(id uuid.UUID, revision int) string {
	return fmt.Sprintf("%s:%d", id, revision)
}
