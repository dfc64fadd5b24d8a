package content

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/postpilot-hq/postpilot-backend/pkg/db/models"
	"github.com/postpilot-hq/postpilot-backend/pkg/enums"
	apperrors "github.com/postpilot-hq/postpilot-backend/pkg/errors"
)

func setupContentTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	contentItems := `
CREATE TABLE IF NOT EXISTS content_items (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  body TEXT NOT NULL,
  format TEXT NOT NULL DEFAULT 'text',
  hashtags TEXT,
  media_urls TEXT,
  state TEXT NOT NULL DEFAULT 'draft',
  revision INTEGER NOT NULL DEFAULT 1,
  idempotency_key TEXT NOT NULL,
  scheduled_at DATETIME,
  next_attempt_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error_kind TEXT,
  last_error TEXT,
  external_post_id TEXT,
  metrics_state TEXT NOT NULL DEFAULT 'active',
  published_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`
	require.NoError(t, db.Exec(contentItems).Error)
	return db
}

func newItem(t *testing.T, db *gorm.DB, state enums.ContentState) *models.ContentItem {
	t.Helper()

	id := uuid.New()
	item := &models.ContentItem{
		ID:             id,
		UserID:         uuid.New(),
		Body:           "hello world",
		Format:         enums.FormatText,
		State:          state,
		Revision:       1,
		IdempotencyKey: models.PublishIntentKey(id, 1),
		MetricsState:   enums.MetricsActive,
	}
	require.NoError(t, db.Create(item).Error)
	return item
}

func TestCompareAndSwapState_claimsOnce(t *testing.T) {
	db := setupContentTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	item := newItem(t, db, enums.ContentQueued)

	claimed, err := repo.CompareAndSwapState(ctx, item.ID, enums.ContentQueued, enums.ContentPublishing, nil)
	require.NoError(t, err)
	assert.True(t, claimed)

	again, err := repo.CompareAndSwapState(ctx, item.ID, enums.ContentQueued, enums.ContentPublishing, nil)
	require.NoError(t, err)
	assert.False(t, again, "second claim must lose")

	got, err := repo.GetByID(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.ContentPublishing, got.State)
}

func TestCompareAndSwapState_rejectsIllegalTransition(t *testing.T) {
	db := setupContentTestDB(t)
	repo := NewRepository(db)

	item := newItem(t, db, enums.ContentDraft)

	_, err := repo.CompareAndSwapState(context.Background(), item.ID, enums.ContentDraft, enums.ContentPublished, nil)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeStateConflict, apperrors.CodeOf(err))
}

func TestCompareAndSwapState_appliesExtraUpdates(t *testing.T) {
	db := setupContentTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	item := newItem(t, db, enums.ContentPublishing)

	due := time.Now().UTC().Add(30 * time.Second).Truncate(time.Second)
	swapped, err := repo.CompareAndSwapState(ctx, item.ID, enums.ContentPublishing, enums.ContentQueued, map[string]any{
		"attempt_count":   1,
		"next_attempt_at": due,
		"last_error_kind": "RATE_LIMITED",
	})
	require.NoError(t, err)
	require.True(t, swapped)

	got, err := repo.GetByID(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.ContentQueued, got.State)
	assert.Equal(t, 1, got.AttemptCount)
	require.NotNil(t, got.NextAttemptAt)
	assert.True(t, got.NextAttemptAt.Equal(due))
	require.NotNil(t, got.LastErrorKind)
	assert.Equal(t, "RATE_LIMITED", *got.LastErrorKind)
}

func TestUpdateEditable_bumpsRevisionAndKey(t *testing.T) {
	db := setupContentTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	item := newItem(t, db, enums.ContentDraft)
	originalKey := item.IdempotencyKey

	item.Body = "rewritten"
	updated, err := repo.UpdateEditable(ctx, item, 1)
	require.NoError(t, err)
	require.True(t, updated)

	got, err := repo.GetByID(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, "rewritten", got.Body)
	assert.Equal(t, 2, got.Revision)
	assert.Equal(t, models.PublishIntentKey(item.ID, 2), got.IdempotencyKey)
	assert.NotEqual(t, originalKey, got.IdempotencyKey)
}

func TestUpdateEditable_staleRevisionLoses(t *testing.T) {
	db := setupContentTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	item := newItem(t, db, enums.ContentDraft)

	updated, err := repo.UpdateEditable(ctx, item, 1)
	require.NoError(t, err)
	require.True(t, updated)

	item.Body = "second writer"
	updated, err = repo.UpdateEditable(ctx, item, 1)
	require.NoError(t, err)
	assert.False(t, updated)
}

func TestUpdateEditable_refusesNonEditableStates(t *testing.T) {
	db := setupContentTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	item := newItem(t, db, enums.ContentPublished)
	item.Body = "too late"

	updated, err := repo.UpdateEditable(ctx, item, 1)
	require.NoError(t, err)
	assert.False(t, updated)
}

func TestResetFailed(t *testing.T) {
	db := setupContentTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	item := newItem(t, db, enums.ContentFailed)
	errKind := "RETRIES_EXHAUSTED"
	require.NoError(t, db.Model(item).Updates(map[string]any{
		"attempt_count":   5,
		"last_error_kind": errKind,
		"last_error":      "gave up",
	}).Error)

	reset, err := repo.ResetFailed(ctx, item.ID, 1)
	require.NoError(t, err)
	require.True(t, reset)

	got, err := repo.GetByID(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.ContentDraft, got.State)
	assert.Equal(t, 2, got.Revision)
	assert.Equal(t, models.PublishIntentKey(item.ID, 2), got.IdempotencyKey)
	assert.Zero(t, got.AttemptCount)
	assert.Nil(t, got.LastErrorKind)
	assert.Nil(t, got.LastError)

	again, err := repo.ResetFailed(ctx, item.ID, 1)
	require.NoError(t, err)
	assert.False(t, again)
}

func TestListDue(t *testing.T) {
	db := setupContentTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	dueScheduled := newItem(t, db, enums.ContentScheduled)
	past := now.Add(-time.Minute)
	require.NoError(t, db.Model(dueScheduled).Update("scheduled_at", past).Error)

	futureScheduled := newItem(t, db, enums.ContentScheduled)
	require.NoError(t, db.Model(futureScheduled).Update("scheduled_at", now.Add(time.Hour)).Error)

	dueRetry := newItem(t, db, enums.ContentQueued)
	require.NoError(t, db.Model(dueRetry).Update("next_attempt_at", past).Error)

	pendingRetry := newItem(t, db, enums.ContentQueued)
	require.NoError(t, db.Model(pendingRetry).Update("next_attempt_at", now.Add(time.Hour)).Error)

	items, err := repo.ListDue(ctx, now, 100)
	require.NoError(t, err)

	ids := make(map[uuid.UUID]bool, len(items))
	for _, item := range items {
		ids[item.ID] = true
	}
	assert.True(t, ids[dueScheduled.ID])
	assert.True(t, ids[dueRetry.ID])
	assert.False(t, ids[futureScheduled.ID])
	assert.False(t, ids[pendingRetry.ID])
}

func TestListStalePublishing(t *testing.T) {
	db := setupContentTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	abandoned := newItem(t, db, enums.ContentPublishing)
	held := newItem(t, db, enums.ContentPublishing)
	queued := newItem(t, db, enums.ContentQueued)

	old := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, db.Exec("UPDATE content_items SET updated_at = ? WHERE id IN (?, ?)", old, abandoned.ID, queued.ID).Error)

	items, err := repo.ListStalePublishing(ctx, time.Now().UTC().Add(-10*time.Minute), 100)
	require.NoError(t, err)

	found := map[uuid.UUID]bool{}
	for _, item := range items {
		found[item.ID] = true
	}
	assert.True(t, found[abandoned.ID])
	assert.False(t, found[held.ID], "a freshly touched claim is not stale")
	assert.False(t, found[queued.ID], "only publishing rows qualify")
}

func TestListPublishedActive(t *testing.T) {
	db := setupContentTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	published := newItem(t, db, enums.ContentPublished)
	require.NoError(t, db.Model(published).Updates(map[string]any{
		"external_post_id": "urn:li:share:1",
		"published_at":     time.Now().UTC(),
	}).Error)

	deletedUpstream := newItem(t, db, enums.ContentPublished)
	require.NoError(t, db.Model(deletedUpstream).Updates(map[string]any{
		"external_post_id": "urn:li:share:2",
		"metrics_state":    enums.MetricsSourceDeleted,
	}).Error)

	newItem(t, db, enums.ContentDraft)

	items, err := repo.ListPublishedActive(ctx, 100, 0)
	require.NoError(t, err)

	ids := make(map[uuid.UUID]bool, len(items))
	for _, item := range items {
		ids[item.ID] = true
	}
	assert.True(t, ids[published.ID])
	assert.False(t, ids[deletedUpstream.ID])
}

func TestDeleteDraft_onlyDrafts(t *testing.T) {
	db := setupContentTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	draft := newItem(t, db, enums.ContentDraft)
	deleted, err := repo.DeleteDraft(ctx, draft.UserID, draft.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	scheduled := newItem(t, db, enums.ContentScheduled)
	deleted, err = repo.DeleteDraft(ctx, scheduled.UserID, scheduled.ID)
	require.NoError(t, err)
	assert.False(t, deleted)

	otherUser := newItem(t, db, enums.ContentDraft)
	deleted, err = repo.DeleteDraft(ctx, uuid.New(), otherUser.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
}
