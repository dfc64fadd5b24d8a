// Package token manages stored LinkedIn credentials and keeps access tokens
// fresh. Refreshes are guarded by a compare-and-swap on the previous refresh
// token so concurrent callers produce exactly one upstream refresh; losers
// adopt the winner's credential.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/postpilot-hq/postpilot-backend/pkg/db/models"
	apperrors "github.com/postpilot-hq/postpilot-backend/pkg/errors"
	"github.com/postpilot-hq/postpilot-backend/pkg/logger"
	"github.com/postpilot-hq/postpilot-backend/pkg/metrics"
)

// RefreshedCredential is the result of one refresh-grant exchange.
type RefreshedCredential struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Scopes       []string
}

// Refresher exchanges a refresh token for a new credential.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*RefreshedCredential, error)
}

// StoreParams carries the dependencies for the credential store.
type StoreParams struct {
	Conn          *gorm.DB
	Refresher     Refresher
	Logger        *logger.Logger
	Metrics       *metrics.PipelineMetrics
	RefreshMargin time.Duration
}

type Store struct {
	conn      *gorm.DB
	refresher Refresher
	logg      *logger.Logger
	pipeline  *metrics.PipelineMetrics
	margin    time.Duration
	now       func() time.Time
}

func NewStore(params StoreParams) (*Store, error) {
	if params.Conn == nil {
		return nil, fmt.Errorf("db connection is required")
	}
	if params.Refresher == nil {
		return nil, fmt.Errorf("refresher is required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if params.RefreshMargin <= 0 {
		params.RefreshMargin = 5 * time.Minute
	}
	return &Store{
		conn:      params.Conn,
		refresher: params.Refresher,
		logg:      params.Logger,
		pipeline:  params.Metrics,
		margin:    params.RefreshMargin,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// Save upserts the credential handed off after the external OAuth flow.
func (s *Store) Save(ctx context.Context, cred *models.OAuthCredential) error {
	if cred.UserID == uuid.Nil {
		return apperrors.New(apperrors.CodeValidation, "user id is required")
	}
	if cred.AccessToken == "" || cred.RefreshToken == "" {
		return apperrors.New(apperrors.CodeValidation, "access and refresh tokens are required")
	}

	err := s.conn.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			UpdateAll: true,
		}).
		Create(cred).Error
	if err != nil {
		return apperrors.Wrap(apperrors.CodeDependency, err, "storing credential")
	}

	s.logg.Info(s.logg.WithUserID(ctx, cred.UserID.String()), "credential stored")
	return nil
}

// Get loads the stored credential without touching its freshness.
func (s *Store) Get(ctx context.Context, userID uuid.UUID) (*models.OAuthCredential, error) {
	var cred models.OAuthCredential
	err := s.conn.WithContext(ctx).First(&cred, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.New(apperrors.CodeAuthRequired, "no credential on file")
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDependency, err, "loading credential")
	}
	return &cred, nil
}

// Delete removes the credential, forcing a fresh authorization.
func (s *Store) Delete(ctx context.Context, userID uuid.UUID) error {
	err := s.conn.WithContext(ctx).
		Delete(&models.OAuthCredential{}, "user_id = ?", userID).Error
	if err != nil {
		return apperrors.Wrap(apperrors.CodeDependency, err, "deleting credential")
	}
	return nil
}

// GetValid returns a credential whose access token is good for at least the
// refresh margin, refreshing it first when necessary.
func (s *Store) GetValid(ctx context.Context, userID uuid.UUID) (*models.OAuthCredential, error) {
	cred, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	if cred.ExpiresAt.After(s.now().Add(s.margin)) {
		return cred, nil
	}

	return s.refresh(ctx, cred)
}

func (s *Store) refresh(ctx context.Context, cred *models.OAuthCredential) (*models.OAuthCredential, error) {
	ctx = s.logg.WithUserID(ctx, cred.UserID.String())

	refreshed, err := s.refresher.Refresh(ctx, cred.RefreshToken)
	if err != nil {
		code := apperrors.CodeOf(err)
		if code == apperrors.CodeAuthRequired || code == apperrors.CodeUnrecoverable {
			// The grant is dead upstream. Another worker may have rotated
			// the token under us, so check before discarding the row.
			if fresh, adoptErr := s.adoptConcurrentRefresh(ctx, cred); adoptErr == nil {
				return fresh, nil
			}
			s.pipeline.IncTokenRefresh("unrecoverable")
			if delErr := s.Delete(ctx, cred.UserID); delErr != nil {
				s.logg.Error(ctx, "failed to delete dead credential", delErr)
			}
			s.logg.Warn(ctx, "credential unrecoverable, authorization required")
			return nil, apperrors.Wrap(apperrors.CodeAuthRequired, err, "credential can no longer be refreshed")
		}
		s.pipeline.IncTokenRefresh("failure")
		return nil, err
	}

	res := s.conn.WithContext(ctx).
		Model(&models.OAuthCredential{}).
		Where("user_id = ? AND refresh_token = ?", cred.UserID, cred.RefreshToken).
		Updates(map[string]any{
			"access_token":  refreshed.AccessToken,
			"refresh_token": refreshed.RefreshToken,
			"expires_at":    refreshed.ExpiresAt.UTC(),
			"updated_at":    s.now(),
		})
	if res.Error != nil {
		return nil, apperrors.Wrap(apperrors.CodeDependency, res.Error, "persisting refreshed credential")
	}

	if res.RowsAffected == 0 {
		// Lost the swap: a concurrent caller already rotated the token.
		s.pipeline.IncTokenRefresh("lost_race")
		return s.Get(ctx, cred.UserID)
	}

	s.pipeline.IncTokenRefresh("success")
	s.logg.Info(ctx, "credential refreshed")

	cred.AccessToken = refreshed.AccessToken
	cred.RefreshToken = refreshed.RefreshToken
	cred.ExpiresAt = refreshed.ExpiresAt.UTC()
	return cred, nil
}

// adoptConcurrentRefresh re-reads the row and returns it when a different
// worker already rotated the token to something still valid.
func (s *Store) adoptConcurrentRefresh(ctx context.Context, stale *models.OAuthCredential) (*models.OAuthCredential, error) {
	current, err := s.Get(ctx, stale.UserID)
	if err != nil {
		return nil, err
	}
	if current.RefreshToken == stale.RefreshToken {
		return nil, fmt.Errorf("credential unchanged")
	}
	if !current.ExpiresAt.After(s.now().Add(s.margin)) {
		return nil, fmt.Errorf("concurrent refresh still stale")
	}
	return current, nil
}
