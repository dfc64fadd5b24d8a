package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// OAuthCredential holds the live LinkedIn credential for one user. There is
// at most one row per user; refreshes replace the tokens in place guarded by
// a compare-and-swap on the previous refresh token.
type OAuthCredential struct {
	UserID       uuid.UUID      `gorm:"column:user_id;type:uuid;primaryKey"`
	MemberURN    string         `gorm:"column:member_urn;not null"`
	AccessToken  string         `gorm:"column:access_token;not null"`
	RefreshToken string         `gorm:"column:refresh_token;not null"`
	ExpiresAt    time.Time      `gorm:"column:expires_at;not null"`
	Scopes       pq.StringArray `gorm:"column:scopes;type:text[]"`
	CreatedAt    time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

func (OAuthCredential) TableName() string { return "oauth_credentials" }
