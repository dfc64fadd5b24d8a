package token

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/postpilot-hq/postpilot-backend/pkg/db/models"
	apperrors "github.com/postpilot-hq/postpilot-backend/pkg/errors"
	"github.com/postpilot-hq/postpilot-backend/pkg/logger"
)

func setupTokenTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	credentials := `
CREATE TABLE IF NOT EXISTS oauth_credentials (
  user_id TEXT PRIMARY KEY,
  member_urn TEXT NOT NULL,
  access_token TEXT NOT NULL,
  refresh_token TEXT NOT NULL,
  expires_at DATETIME NOT NULL,
  scopes TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`
	require.NoError(t, db.Exec(credentials).Error)
	return db
}

// fakeRefresher scripts the refresh-grant outcome and optionally runs a
// hook before returning, which tests use to simulate concurrent rotation.
type fakeRefresher struct {
	result     *RefreshedCredential
	err        error
	calls      int
	beforeDone func()
}

func (f *fakeRefresher) Refresh(ctx context.Context, refreshToken string) (*RefreshedCredential, error) {
	f.calls++
	if f.beforeDone != nil {
		f.beforeDone()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func newTestStore(t *testing.T, db *gorm.DB, refresher Refresher) *Store {
	t.Helper()

	store, err := NewStore(StoreParams{
		Conn:          db,
		Refresher:     refresher,
		Logger:        logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		RefreshMargin: 5 * time.Minute,
	})
	require.NoError(t, err)
	return store
}

func seedCredential(t *testing.T, db *gorm.DB, expiresAt time.Time) *models.OAuthCredential {
	t.Helper()

	cred := &models.OAuthCredential{
		UserID:       uuid.New(),
		MemberURN:    "urn:li:person:abc",
		AccessToken:  "at-old",
		RefreshToken: "rt-old",
		ExpiresAt:    expiresAt,
	}
	require.NoError(t, db.Create(cred).Error)
	return cred
}

func TestGetValid_freshTokenSkipsRefresh(t *testing.T) {
	db := setupTokenTestDB(t)
	refresher := &fakeRefresher{}
	store := newTestStore(t, db, refresher)

	cred := seedCredential(t, db, time.Now().UTC().Add(time.Hour))

	got, err := store.GetValid(context.Background(), cred.UserID)
	require.NoError(t, err)
	assert.Equal(t, "at-old", got.AccessToken)
	assert.Zero(t, refresher.calls)
}

func TestGetValid_refreshesWithinMargin(t *testing.T) {
	db := setupTokenTestDB(t)
	refresher := &fakeRefresher{
		result: &RefreshedCredential{
			AccessToken:  "at-new",
			RefreshToken: "rt-new",
			ExpiresAt:    time.Now().UTC().Add(time.Hour),
		},
	}
	store := newTestStore(t, db, refresher)

	cred := seedCredential(t, db, time.Now().UTC().Add(time.Minute))

	got, err := store.GetValid(context.Background(), cred.UserID)
	require.NoError(t, err)
	assert.Equal(t, "at-new", got.AccessToken)
	assert.Equal(t, "rt-new", got.RefreshToken)
	assert.Equal(t, 1, refresher.calls)

	persisted, err := store.Get(context.Background(), cred.UserID)
	require.NoError(t, err)
	assert.Equal(t, "at-new", persisted.AccessToken)
	assert.Equal(t, "rt-new", persisted.RefreshToken)
}

func TestGetValid_lostRaceAdoptsWinner(t *testing.T) {
	db := setupTokenTestDB(t)

	cred := seedCredential(t, db, time.Now().UTC().Add(time.Minute))

	// While our refresh is in flight, a concurrent worker rotates the row.
	refresher := &fakeRefresher{
		result: &RefreshedCredential{
			AccessToken:  "at-loser",
			RefreshToken: "rt-loser",
			ExpiresAt:    time.Now().UTC().Add(time.Hour),
		},
		beforeDone: func() {
			require.NoError(t, db.Model(&models.OAuthCredential{}).
				Where("user_id = ?", cred.UserID).
				Updates(map[string]any{
					"access_token":  "at-winner",
					"refresh_token": "rt-winner",
					"expires_at":    time.Now().UTC().Add(2 * time.Hour),
				}).Error)
		},
	}
	store := newTestStore(t, db, refresher)

	got, err := store.GetValid(context.Background(), cred.UserID)
	require.NoError(t, err)
	assert.Equal(t, "at-winner", got.AccessToken)
	assert.Equal(t, "rt-winner", got.RefreshToken)
}

func TestGetValid_unrecoverableDeletesCredential(t *testing.T) {
	db := setupTokenTestDB(t)
	refresher := &fakeRefresher{
		err: apperrors.New(apperrors.CodeUnrecoverable, "token endpoint rejected refresh with 400"),
	}
	store := newTestStore(t, db, refresher)

	cred := seedCredential(t, db, time.Now().UTC().Add(-time.Minute))

	_, err := store.GetValid(context.Background(), cred.UserID)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeAuthRequired, apperrors.CodeOf(err))

	_, err = store.Get(context.Background(), cred.UserID)
	assert.Equal(t, apperrors.CodeAuthRequired, apperrors.CodeOf(err))
}

func TestGetValid_unrecoverableAdoptsConcurrentRotation(t *testing.T) {
	db := setupTokenTestDB(t)

	cred := seedCredential(t, db, time.Now().UTC().Add(-time.Minute))

	refresher := &fakeRefresher{
		err: apperrors.New(apperrors.CodeUnrecoverable, "token endpoint rejected refresh with 400"),
		beforeDone: func() {
			require.NoError(t, db.Model(&models.OAuthCredential{}).
				Where("user_id = ?", cred.UserID).
				Updates(map[string]any{
					"access_token":  "at-rotated",
					"refresh_token": "rt-rotated",
					"expires_at":    time.Now().UTC().Add(2 * time.Hour),
				}).Error)
		},
	}
	store := newTestStore(t, db, refresher)

	got, err := store.GetValid(context.Background(), cred.UserID)
	require.NoError(t, err)
	assert.Equal(t, "at-rotated", got.AccessToken)

	// The rotated credential survives.
	persisted, err := store.Get(context.Background(), cred.UserID)
	require.NoError(t, err)
	assert.Equal(t, "rt-rotated", persisted.RefreshToken)
}

func TestGetValid_transientRefreshErrorKeepsCredential(t *testing.T) {
	db := setupTokenTestDB(t)
	refresher := &fakeRefresher{
		err: apperrors.New(apperrors.CodeTransientNetwork, "token endpoint returned 503"),
	}
	store := newTestStore(t, db, refresher)

	cred := seedCredential(t, db, time.Now().UTC().Add(-time.Minute))

	_, err := store.GetValid(context.Background(), cred.UserID)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeTransientNetwork, apperrors.CodeOf(err))

	_, err = store.Get(context.Background(), cred.UserID)
	assert.NoError(t, err)
}

func TestGetValid_missingCredential(t *testing.T) {
	db := setupTokenTestDB(t)
	store := newTestStore(t, db, &fakeRefresher{})

	_, err := store.GetValid(context.Background(), uuid.New())
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeAuthRequired, apperrors.CodeOf(err))
}

func TestSave_upsertsByUser(t *testing.T) {
	db := setupTokenTestDB(t)
	store := newTestStore(t, db, &fakeRefresher{})
	ctx := context.Background()

	userID := uuid.New()
	require.NoError(t, store.Save(ctx, &models.OAuthCredential{
		UserID:       userID,
		MemberURN:    "urn:li:person:abc",
		AccessToken:  "at-1",
		RefreshToken: "rt-1",
		ExpiresAt:    time.Now().UTC().Add(time.Hour),
	}))

	require.NoError(t, store.Save(ctx, &models.OAuthCredential{
		UserID:       userID,
		MemberURN:    "urn:li:person:abc",
		AccessToken:  "at-2",
		RefreshToken: "rt-2",
		ExpiresAt:    time.Now().UTC().Add(2 * time.Hour),
	}))

	got, err := store.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "at-2", got.AccessToken)

	var count int64
	require.NoError(t, db.Model(&models.OAuthCredential{}).Where("user_id = ?", userID).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestSave_validation(t *testing.T) {
	db := setupTokenTestDB(t)
	store := newTestStore(t, db, &fakeRefresher{})

	err := store.Save(context.Background(), &models.OAuthCredential{
		MemberURN:    "urn:li:person:abc",
		AccessToken:  "at",
		RefreshToken: "rt",
	})
	assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))

	err = store.Save(context.Background(), &models.OAuthCredential{
		UserID:    uuid.New(),
		MemberURN: "urn:li:person:abc",
	})
	assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))
}
