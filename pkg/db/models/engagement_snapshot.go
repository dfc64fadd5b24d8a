package models

import (
	"time"

	"github.com/google/uuid"
)

// EngagementSnapshot is an append-only observation of engagement counts for
// one published post. Rows are never mutated, only superseded by newer
// snapshots for the same post.
type EngagementSnapshot struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ExternalPostID string    `gorm:"column:external_post_id;not null;index"`
	Likes          int       `gorm:"column:likes;not null;default:0"`
	Comments       int       `gorm:"column:comments;not null;default:0"`
	Shares         int       `gorm:"column:shares;not null;default:0"`
	Impressions    int       `gorm:"column:impressions;not null;default:0"`
	ObservedAt     time.Time `gorm:"column:observed_at;not null"`
}
