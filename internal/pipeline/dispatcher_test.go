package pipeline

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/postpilot-hq/postpilot-backend/internal/content"
	"github.com/postpilot-hq/postpilot-backend/internal/events"
	"github.com/postpilot-hq/postpilot-backend/internal/ledger"
	"github.com/postpilot-hq/postpilot-backend/internal/linkedin"
	"github.com/postpilot-hq/postpilot-backend/pkg/config"
	"github.com/postpilot-hq/postpilot-backend/pkg/db/models"
	"github.com/postpilot-hq/postpilot-backend/pkg/enums"
	apperrors "github.com/postpilot-hq/postpilot-backend/pkg/errors"
	"github.com/postpilot-hq/postpilot-backend/pkg/logger"
)

func setupPipelineTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

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
	records := `
CREATE TABLE IF NOT EXISTS publish_attempt_records (
  idempotency_key TEXT PRIMARY KEY,
  content_id TEXT NOT NULL,
  outcome TEXT NOT NULL,
  external_post_id TEXT,
  created_at DATETIME
);`
	require.NoError(t, db.Exec(contentItems).Error)
	require.NoError(t, db.Exec(records).Error)
	return db
}

type fakeTokenSource struct{}

func (fakeTokenSource) GetValid(ctx context.Context, userID uuid.UUID) (*models.OAuthCredential, error) {
	return &models.OAuthCredential{
		UserID:      userID,
		MemberURN:   "urn:li:person:abc",
		AccessToken: "at-test",
		ExpiresAt:   time.Now().UTC().Add(time.Hour),
	}, nil
}

// fakeGateway consumes one scripted error per call; a nil entry, or an
// exhausted script, means success.
type fakeGateway struct {
	mu     sync.Mutex
	script []error
	postID string
	calls  int
}

func (g *fakeGateway) Publish(ctx context.Context, req linkedin.PublishRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if len(g.script) > 0 {
		err := g.script[0]
		g.script = g.script[1:]
		if err != nil {
			return "", err
		}
	}
	return g.postID, nil
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type fakeAnnouncer struct {
	mu     sync.Mutex
	events []events.Event
}

func (a *fakeAnnouncer) Announce(ctx context.Context, event events.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
}

func (a *fakeAnnouncer) recorded() []events.Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]events.Event, len(a.events))
	copy(out, a.events)
	return out
}

func newTestDispatcher(t *testing.T, db *gorm.DB, gateway *fakeGateway, announcer *fakeAnnouncer, cfg config.PublisherConfig) *Dispatcher {
	t.Helper()

	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BackoffBase == 0 {
		cfg.BackoffBase = time.Millisecond
	}
	if cfg.BackoffCap == 0 {
		cfg.BackoffCap = 5 * time.Millisecond
	}

	var announce Announcer
	if announcer != nil {
		announce = announcer
	}

	d, err := NewDispatcher(DispatcherParams{
		Repo:    content.NewRepository(db),
		Ledger:  ledger.NewRepository(db),
		Tokens:  fakeTokenSource{},
		Gateway: gateway,
		Events:  announce,
		Logger:  logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		Config:  cfg,
	})
	require.NoError(t, err)
	return d
}

func queuedItem(t *testing.T, db *gorm.DB) *models.ContentItem {
	t.Helper()

	id := uuid.New()
	item := &models.ContentItem{
		ID:             id,
		UserID:         uuid.New(),
		Body:           "ship it",
		Format:         enums.FormatText,
		State:          enums.ContentQueued,
		Revision:       1,
		IdempotencyKey: models.PublishIntentKey(id, 1),
		MetricsState:   enums.MetricsActive,
	}
	require.NoError(t, db.Create(item).Error)
	return item
}

func TestProcess_publishesAndRecordsOutcome(t *testing.T) {
	db := setupPipelineTestDB(t)
	gateway := &fakeGateway{postID: "urn:li:share:100"}
	announcer := &fakeAnnouncer{}
	d := newTestDispatcher(t, db, gateway, announcer, config.PublisherConfig{})
	d.Start(context.Background())

	item := queuedItem(t, db)
	d.process(*item)

	got, err := content.NewRepository(db).GetByID(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.ContentPublished, got.State)
	require.NotNil(t, got.ExternalPostID)
	assert.Equal(t, "urn:li:share:100", *got.ExternalPostID)
	assert.Equal(t, 1, got.AttemptCount)
	require.NotNil(t, got.PublishedAt)
	assert.Nil(t, got.NextAttemptAt)

	record, err := ledger.NewRepository(db).Get(context.Background(), item.IdempotencyKey)
	require.NoError(t, err)
	assert.Equal(t, enums.AttemptSucceeded, record.Outcome)

	recorded := announcer.recorded()
	require.Len(t, recorded, 1)
	assert.Equal(t, enums.EventContentPublished, recorded[0].Type)
	assert.Equal(t, item.ID, recorded[0].ContentID)
	assert.Equal(t, "urn:li:share:100", recorded[0].ExternalPostID)

	assert.Equal(t, 1, gateway.callCount())
}

func TestProcess_recordedOutcomeSkipsGateway(t *testing.T) {
	db := setupPipelineTestDB(t)
	gateway := &fakeGateway{postID: "urn:li:share:should-not-happen"}
	d := newTestDispatcher(t, db, gateway, nil, config.PublisherConfig{})
	d.Start(context.Background())

	item := queuedItem(t, db)

	// A previous attempt already published this intent durably.
	_, _, err := ledger.NewRepository(db).RecordIfAbsent(context.Background(),
		ledger.SucceededRecord(item.IdempotencyKey, item.ID, "urn:li:share:200"))
	require.NoError(t, err)

	d.process(*item)

	got, err := content.NewRepository(db).GetByID(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.ContentPublished, got.State)
	require.NotNil(t, got.ExternalPostID)
	assert.Equal(t, "urn:li:share:200", *got.ExternalPostID)

	assert.Zero(t, gateway.callCount(), "recorded outcome must not hit the gateway again")
}

func TestProcess_recordedFailureIsTerminal(t *testing.T) {
	db := setupPipelineTestDB(t)
	gateway := &fakeGateway{postID: "urn:li:share:300"}
	d := newTestDispatcher(t, db, gateway, nil, config.PublisherConfig{})
	d.Start(context.Background())

	item := queuedItem(t, db)

	_, _, err := ledger.NewRepository(db).RecordIfAbsent(context.Background(),
		ledger.FailedRecord(item.IdempotencyKey, item.ID))
	require.NoError(t, err)

	d.process(*item)

	got, err := content.NewRepository(db).GetByID(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.ContentFailed, got.State)
	assert.Zero(t, gateway.callCount())
}

func TestProcess_rejectedFailsAfterOneAttempt(t *testing.T) {
	db := setupPipelineTestDB(t)
	gateway := &fakeGateway{script: []error{
		apperrors.New(apperrors.CodeRejected, "publishing post: upstream returned 400"),
	}}
	announcer := &fakeAnnouncer{}
	d := newTestDispatcher(t, db, gateway, announcer, config.PublisherConfig{})
	d.Start(context.Background())

	item := queuedItem(t, db)
	d.process(*item)

	got, err := content.NewRepository(db).GetByID(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.ContentFailed, got.State)
	assert.Equal(t, 1, got.AttemptCount)
	require.NotNil(t, got.LastErrorKind)
	assert.Equal(t, string(apperrors.CodeRejected), *got.LastErrorKind)

	record, err := ledger.NewRepository(db).Get(context.Background(), item.IdempotencyKey)
	require.NoError(t, err)
	assert.Equal(t, enums.AttemptFailed, record.Outcome)

	recorded := announcer.recorded()
	require.Len(t, recorded, 1)
	assert.Equal(t, enums.EventContentFailed, recorded[0].Type)
	assert.Equal(t, string(apperrors.CodeRejected), recorded[0].ErrorKind)

	assert.Equal(t, 1, gateway.callCount())
}

func TestProcess_retriesRateLimitedThenSucceeds(t *testing.T) {
	db := setupPipelineTestDB(t)
	gateway := &fakeGateway{
		script: []error{
			apperrors.New(apperrors.CodeRateLimited, "upstream returned 429"),
			apperrors.New(apperrors.CodeRateLimited, "upstream returned 429"),
			apperrors.New(apperrors.CodeRateLimited, "upstream returned 429"),
		},
		postID: "urn:li:share:400",
	}
	d := newTestDispatcher(t, db, gateway, nil, config.PublisherConfig{MaxAttempts: 5})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	item := queuedItem(t, db)
	require.True(t, d.Enqueue(*item))

	repo := content.NewRepository(db)
	require.Eventually(t, func() bool {
		got, err := repo.GetByID(context.Background(), item.ID)
		return err == nil && got.State == enums.ContentPublished
	}, 5*time.Second, 10*time.Millisecond)

	got, err := repo.GetByID(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.AttemptCount, "three rate-limited attempts plus the success")
	require.NotNil(t, got.ExternalPostID)
	assert.Equal(t, "urn:li:share:400", *got.ExternalPostID)
	assert.Equal(t, 4, gateway.callCount())

	record, err := ledger.NewRepository(db).Get(context.Background(), item.IdempotencyKey)
	require.NoError(t, err)
	assert.Equal(t, enums.AttemptSucceeded, record.Outcome)

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
	defer shutdownCancel()
	require.NoError(t, d.Shutdown(shutdownCtx))
}

func TestProcess_exhaustedRetriesFail(t *testing.T) {
	db := setupPipelineTestDB(t)
	gateway := &fakeGateway{script: []error{
		apperrors.New(apperrors.CodeTransientNetwork, "upstream returned 503"),
	}}
	d := newTestDispatcher(t, db, gateway, nil, config.PublisherConfig{MaxAttempts: 1})
	d.Start(context.Background())

	item := queuedItem(t, db)
	d.process(*item)

	got, err := content.NewRepository(db).GetByID(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.ContentFailed, got.State)
	require.NotNil(t, got.LastErrorKind)
	assert.Equal(t, string(apperrors.CodeRetriesExhausted), *got.LastErrorKind)

	record, err := ledger.NewRepository(db).Get(context.Background(), item.IdempotencyKey)
	require.NoError(t, err)
	assert.Equal(t, enums.AttemptFailed, record.Outcome)
}

func TestProcess_skipsAlreadyClaimedItem(t *testing.T) {
	db := setupPipelineTestDB(t)
	gateway := &fakeGateway{postID: "urn:li:share:500"}
	d := newTestDispatcher(t, db, gateway, nil, config.PublisherConfig{})
	d.Start(context.Background())

	item := queuedItem(t, db)
	require.NoError(t, db.Model(item).Update("state", enums.ContentPublishing).Error)

	d.process(*item)

	assert.Zero(t, gateway.callCount())
}

func TestEnqueue_requiresStart(t *testing.T) {
	db := setupPipelineTestDB(t)
	d := newTestDispatcher(t, db, &fakeGateway{}, nil, config.PublisherConfig{})

	assert.False(t, d.Enqueue(*queuedItem(t, db)))
}

func TestInflightSet_dedupes(t *testing.T) {
	set := newInflightSet()
	id := uuid.New()

	assert.True(t, set.add(id))
	assert.False(t, set.add(id))
	assert.Equal(t, 1, set.size())

	set.remove(id)
	assert.True(t, set.add(id))
}
