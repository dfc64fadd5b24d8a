// Package engagement keeps local engagement numbers in sync with the
// platform. The reconciler polls published posts, appends snapshots and
// streams them to BigQuery for analytics.
package engagement

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/postpilot-hq/postpilot-backend/internal/content"
	"github.com/postpilot-hq/postpilot-backend/internal/linkedin"
	"github.com/postpilot-hq/postpilot-backend/pkg/db/models"
	"github.com/postpilot-hq/postpilot-backend/pkg/enums"
	apperrors "github.com/postpilot-hq/postpilot-backend/pkg/errors"
	"github.com/postpilot-hq/postpilot-backend/pkg/logger"
)

const fingerprintTTL = 24 * time.Hour

// MetricsFetcher reads current engagement counts for one post.
type MetricsFetcher interface {
	FetchMetrics(ctx context.Context, accessToken, postURN string) (*linkedin.EngagementCounts, error)
}

// TokenSource yields a valid credential for a user.
type TokenSource interface {
	GetValid(ctx context.Context, userID uuid.UUID) (*models.OAuthCredential, error)
}

// FingerprintCache remembers the last observed counts per post so unchanged
// polls do not append duplicate snapshots.
type FingerprintCache interface {
	GetOrEmpty(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	EngagementKey(externalPostID string) string
}

// Exporter streams snapshot rows to the analytics warehouse.
type Exporter interface {
	InsertRows(ctx context.Context, table string, rows []any) error
	EngagementTable() string
}

// snapshotRow is the BigQuery representation of one snapshot.
type snapshotRow struct {
	ExternalPostID string    `bigquery:"external_post_id"`
	Likes          int       `bigquery:"likes"`
	Comments       int       `bigquery:"comments"`
	Shares         int       `bigquery:"shares"`
	Impressions    int       `bigquery:"impressions"`
	ObservedAt     time.Time `bigquery:"observed_at"`
}

// ReconcilerParams carries the dependencies for the metrics reconciler.
type ReconcilerParams struct {
	Content   *content.Repository
	Snapshots *Repository
	Tokens    TokenSource
	Fetcher   MetricsFetcher
	Cache     FingerprintCache
	Exporter  Exporter
	Logger    *logger.Logger
	BatchSize int
}

// Reconciler walks published posts still flagged for polling and appends a
// snapshot whenever the numbers moved. Posts deleted upstream are flagged
// source_deleted and never polled again. Cache and exporter are optional.
type Reconciler struct {
	contentRepo *content.Repository
	snapshots   *Repository
	tokens      TokenSource
	fetcher     MetricsFetcher
	cache       FingerprintCache
	exporter    Exporter
	logg        *logger.Logger
	batchSize   int
	now         func() time.Time
}

func NewReconciler(params ReconcilerParams) (*Reconciler, error) {
	if params.Content == nil {
		return nil, fmt.Errorf("content repository is required")
	}
	if params.Snapshots == nil {
		return nil, fmt.Errorf("snapshot repository is required")
	}
	if params.Tokens == nil {
		return nil, fmt.Errorf("token source is required")
	}
	if params.Fetcher == nil {
		return nil, fmt.Errorf("metrics fetcher is required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if params.BatchSize <= 0 {
		params.BatchSize = 200
	}
	return &Reconciler{
		contentRepo: params.Content,
		snapshots:   params.Snapshots,
		tokens:      params.Tokens,
		fetcher:     params.Fetcher,
		cache:       params.Cache,
		exporter:    params.Exporter,
		logg:        params.Logger,
		batchSize:   params.BatchSize,
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

// Reconcile runs one polling pass. Per-item failures are logged and skipped
// so one bad credential never starves the rest of the batch.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	items, err := r.contentRepo.ListPublishedActive(ctx, r.batchSize, 0)
	if err != nil {
		return err
	}

	var exportRows []any
	for _, item := range items {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if item.ExternalPostID == nil || *item.ExternalPostID == "" {
			continue
		}

		row, err := r.reconcileItem(ctx, item)
		if err != nil {
			itemCtx := r.logg.WithContentID(ctx, item.ID.String())
			r.logg.Warn(r.logg.WithField(itemCtx, "error", err.Error()), "skipping item during reconcile")
			continue
		}
		if row != nil {
			exportRows = append(exportRows, row)
		}
	}

	if r.exporter != nil && len(exportRows) > 0 {
		if err := r.exporter.InsertRows(ctx, r.exporter.EngagementTable(), exportRows); err != nil {
			// Snapshots are already durable in Postgres; the warehouse copy
			// catches up on the next pass.
			r.logg.Error(ctx, "failed to export snapshots to bigquery", err)
		}
	}

	return nil
}

func (r *Reconciler) reconcileItem(ctx context.Context, item models.ContentItem) (*snapshotRow, error) {
	postID := *item.ExternalPostID

	cred, err := r.tokens.GetValid(ctx, item.UserID)
	if err != nil {
		return nil, err
	}

	counts, err := r.fetcher.FetchMetrics(ctx, cred.AccessToken, postID)
	if err != nil {
		if apperrors.CodeOf(err) == apperrors.CodeNotFound {
			itemCtx := r.logg.WithContentID(ctx, item.ID.String())
			r.logg.Info(itemCtx, "post deleted upstream, stopping metrics polling")
			return nil, r.contentRepo.SetMetricsState(ctx, item.ID, enums.MetricsSourceDeleted)
		}
		return nil, err
	}

	fingerprint := fmt.Sprintf("%d:%d:%d:%d", counts.Likes, counts.Comments, counts.Shares, counts.Impressions)
	if r.cache != nil {
		key := r.cache.EngagementKey(postID)
		previous, cacheErr := r.cache.GetOrEmpty(ctx, key)
		if cacheErr == nil && previous == fingerprint {
			return nil, nil
		}
	}

	observedAt := r.now()
	snapshot := &models.EngagementSnapshot{
		ExternalPostID: postID,
		Likes:          counts.Likes,
		Comments:       counts.Comments,
		Shares:         counts.Shares,
		Impressions:    counts.Impressions,
		ObservedAt:     observedAt,
	}
	if err := r.snapshots.Create(ctx, snapshot); err != nil {
		return nil, err
	}

	if r.cache != nil {
		key := r.cache.EngagementKey(postID)
		if cacheErr := r.cache.Set(ctx, key, fingerprint, fingerprintTTL); cacheErr != nil {
			r.logg.Warn(ctx, "failed to cache engagement fingerprint")
		}
	}

	return &snapshotRow{
		ExternalPostID: postID,
		Likes:          counts.Likes,
		Comments:       counts.Comments,
		Shares:         counts.Shares,
		Impressions:    counts.Impressions,
		ObservedAt:     observedAt,
	}, nil
}
