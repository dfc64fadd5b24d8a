package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/postpilot-hq/postpilot-backend/internal/content"
	"github.com/postpilot-hq/postpilot-backend/internal/events"
	"github.com/postpilot-hq/postpilot-backend/internal/ledger"
	"github.com/postpilot-hq/postpilot-backend/internal/linkedin"
	"github.com/postpilot-hq/postpilot-backend/pkg/config"
	"github.com/postpilot-hq/postpilot-backend/pkg/db/models"
	"github.com/postpilot-hq/postpilot-backend/pkg/enums"
	apperrors "github.com/postpilot-hq/postpilot-backend/pkg/errors"
	"github.com/postpilot-hq/postpilot-backend/pkg/logger"
	"github.com/postpilot-hq/postpilot-backend/pkg/metrics"
)

// jobTimeout bounds one publish job end to end. It detaches from the signal
// context so an in-flight attempt finishes during shutdown instead of being
// cancelled mid-call.
const jobTimeout = 2 * time.Minute

const maxStoredErrorLen = 512

// TokenSource yields a credential whose access token is currently valid.
type TokenSource interface {
	GetValid(ctx context.Context, userID uuid.UUID) (*models.OAuthCredential, error)
}

// Gateway publishes posts upstream.
type Gateway interface {
	Publish(ctx context.Context, req linkedin.PublishRequest) (string, error)
}

// Announcer broadcasts terminal lifecycle outcomes.
type Announcer interface {
	Announce(ctx context.Context, event events.Event)
}

// DispatcherParams carries the dependencies for the dispatcher.
type DispatcherParams struct {
	Repo    *content.Repository
	Ledger  *ledger.Repository
	Tokens  TokenSource
	Gateway Gateway
	Events  Announcer
	Logger  *logger.Logger
	Metrics *metrics.PipelineMetrics
	Config  config.PublisherConfig
}

// Dispatcher runs publish jobs. Each user gets a dedicated queue and worker
// goroutine, so one user's posts publish strictly in order while different
// users proceed in parallel.
type Dispatcher struct {
	repo     *content.Repository
	ledger   *ledger.Repository
	tokens   TokenSource
	gateway  Gateway
	announce Announcer
	logg     *logger.Logger
	pipeline *metrics.PipelineMetrics
	cfg      config.PublisherConfig
	backoff  BackoffPolicy
	now      func() time.Time

	rootCtx  context.Context
	mu       sync.Mutex
	queues   map[uuid.UUID]chan models.ContentItem
	inflight *inflightSet
	wg       sync.WaitGroup
}

func NewDispatcher(params DispatcherParams) (*Dispatcher, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("content repository is required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger repository is required")
	}
	if params.Tokens == nil {
		return nil, fmt.Errorf("token source is required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("gateway is required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if params.Config.MaxAttempts <= 0 {
		params.Config.MaxAttempts = 5
	}
	if params.Config.QueueCapacity <= 0 {
		params.Config.QueueCapacity = 128
	}

	return &Dispatcher{
		repo:     params.Repo,
		ledger:   params.Ledger,
		tokens:   params.Tokens,
		gateway:  params.Gateway,
		announce: params.Events,
		logg:     params.Logger,
		pipeline: params.Metrics,
		cfg:      params.Config,
		backoff: BackoffPolicy{
			Base:      params.Config.BackoffBase,
			Cap:       params.Config.BackoffCap,
			JitterPct: params.Config.BackoffJitterPct,
		},
		now:      func() time.Time { return time.Now().UTC() },
		queues:   make(map[uuid.UUID]chan models.ContentItem),
		inflight: newInflightSet(),
	}, nil
}

// Start binds the dispatcher to its lifetime context. Workers stop pulling
// new jobs once the context is cancelled; the job in hand runs to
// completion on a detached context.
func (d *Dispatcher) Start(ctx context.Context) {
	d.rootCtx = ctx
}

// Shutdown waits for every worker to finish its current job.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatcher shutdown: %w", ctx.Err())
	}
}

// Enqueue hands one queued item to its user's worker. Returns false when
// the item is already in flight, the queue is full, or the dispatcher is
// shutting down; in all three cases a later scheduler tick picks the item
// up again.
func (d *Dispatcher) Enqueue(item models.ContentItem) bool {
	if d.rootCtx == nil || d.rootCtx.Err() != nil {
		return false
	}
	if !d.inflight.add(item.ID) {
		return false
	}

	queue := d.queueFor(item.UserID)
	select {
	case queue <- item:
		d.pipeline.AddQueueDepth(1)
		return true
	default:
		d.inflight.remove(item.ID)
		return false
	}
}

func (d *Dispatcher) queueFor(userID uuid.UUID) chan models.ContentItem {
	d.mu.Lock()
	defer d.mu.Unlock()
	if queue, ok := d.queues[userID]; ok {
		return queue
	}
	queue := make(chan models.ContentItem, d.cfg.QueueCapacity)
	d.queues[userID] = queue
	d.wg.Add(1)
	go d.worker(queue)
	return queue
}

func (d *Dispatcher) worker(queue chan models.ContentItem) {
	defer d.wg.Done()
	for {
		select {
		case <-d.rootCtx.Done():
			return
		case item := <-queue:
			d.pipeline.AddQueueDepth(-1)
			d.process(item)
		}
	}
}

func (d *Dispatcher) process(item models.ContentItem) {
	defer d.inflight.remove(item.ID)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(d.rootCtx), jobTimeout)
	defer cancel()
	ctx = d.logg.WithContentID(ctx, item.ID.String())
	ctx = d.logg.WithUserID(ctx, item.UserID.String())

	claimed, err := d.repo.CompareAndSwapState(ctx, item.ID, enums.ContentQueued, enums.ContentPublishing, map[string]any{
		"next_attempt_at": nil,
	})
	if err != nil {
		d.logg.Error(ctx, "failed to claim queued item", err)
		return
	}
	if !claimed {
		d.logg.Debug(ctx, "item claimed by another worker")
		return
	}

	// Reload after claiming: an edit may have bumped the revision between
	// the scheduler scan and now, which changes the idempotency key.
	fresh, err := d.repo.GetByID(ctx, item.ID)
	if err != nil {
		d.logg.Error(ctx, "failed to reload claimed item", err)
		d.handleFailure(ctx, item, err)
		return
	}
	item = *fresh

	// A previously recorded outcome for this intent wins over a new attempt.
	record, err := d.ledger.Get(ctx, item.IdempotencyKey)
	if err == nil {
		d.adoptRecorded(ctx, item, record)
		return
	}
	if apperrors.CodeOf(err) != apperrors.CodeNotFound {
		d.handleFailure(ctx, item, err)
		return
	}

	cred, err := d.tokens.GetValid(ctx, item.UserID)
	if err != nil {
		d.handleFailure(ctx, item, err)
		return
	}

	started := time.Now()
	postID, err := d.gateway.Publish(ctx, linkedin.PublishRequest{
		AccessToken: cred.AccessToken,
		MemberURN:   cred.MemberURN,
		Body:        item.Body,
		Format:      item.Format,
		Hashtags:    item.Hashtags,
		MediaURLs:   item.MediaURLs,
	})
	duration := time.Since(started)

	if err != nil {
		d.pipeline.ObserveAttempt(string(apperrors.CodeOf(err)), duration)
		d.handleFailure(ctx, item, err)
		return
	}
	d.pipeline.ObserveAttempt("success", duration)

	recorded, _, lerr := d.ledger.RecordIfAbsent(ctx, ledger.SucceededRecord(item.IdempotencyKey, item.ID, postID))
	if lerr != nil {
		// The post exists upstream; finishing the transition matters more
		// than the ledger write, which the key lookup will miss next time
		// only if this job never reruns.
		d.logg.Error(ctx, "failed to record publish outcome", lerr)
	} else if recorded.Outcome == enums.AttemptFailed {
		// A concurrent worker already recorded this intent as failed.
		d.markFailed(ctx, item, item.AttemptCount+1, apperrors.CodeConflict,
			"publish outcome already recorded as failed")
		return
	} else if recorded.ExternalPostID != nil {
		postID = *recorded.ExternalPostID
	}

	d.markPublished(ctx, item, postID, item.AttemptCount+1)
}

// adoptRecorded finishes the transition using the outcome a previous
// attempt durably recorded, without calling the gateway.
func (d *Dispatcher) adoptRecorded(ctx context.Context, item models.ContentItem, record *models.PublishAttemptRecord) {
	d.logg.Info(ctx, "adopting recorded publish outcome")

	if record.Outcome == enums.AttemptSucceeded {
		postID := ""
		if record.ExternalPostID != nil {
			postID = *record.ExternalPostID
		}
		d.markPublished(ctx, item, postID, item.AttemptCount)
		return
	}
	d.markFailed(ctx, item, item.AttemptCount, apperrors.CodeRetriesExhausted,
		"publish outcome previously recorded as failed")
}

// handleFailure routes one failed attempt: retryable errors with budget
// left re-enter the queue after a backoff delay, everything else is
// terminal.
func (d *Dispatcher) handleFailure(ctx context.Context, item models.ContentItem, attemptErr error) {
	attempts := item.AttemptCount + 1
	code := apperrors.CodeOf(attemptErr)

	if apperrors.IsRetryable(attemptErr) && attempts < d.cfg.MaxAttempts {
		delay := d.backoff.Delay(attempts)
		due := d.now().Add(delay)

		swapped, err := d.repo.CompareAndSwapState(ctx, item.ID, enums.ContentPublishing, enums.ContentQueued, map[string]any{
			"attempt_count":   attempts,
			"next_attempt_at": due,
			"last_error_kind": string(code),
			"last_error":      truncateError(attemptErr),
		})
		if err != nil {
			d.logg.Error(ctx, "failed to requeue item", err)
			return
		}
		if !swapped {
			d.logg.Warn(ctx, "item left publishing state concurrently")
			return
		}

		d.logg.Warn(d.logg.WithFields(ctx, map[string]any{
			"attempt":     attempts,
			"error_kind":  string(code),
			"retry_delay": delay.String(),
		}), "publish attempt failed, retry scheduled")

		d.scheduleRetry(item, delay)
		return
	}

	finalCode := code
	if apperrors.IsRetryable(attemptErr) {
		finalCode = apperrors.CodeRetriesExhausted
	}

	if _, _, err := d.ledger.RecordIfAbsent(ctx, ledger.FailedRecord(item.IdempotencyKey, item.ID)); err != nil {
		d.logg.Error(ctx, "failed to record terminal failure", err)
	}
	d.markFailed(ctx, item, attempts, finalCode, truncateError(attemptErr))
}

// scheduleRetry re-enqueues the item once its backoff delay elapses. If the
// process dies first, the scheduler's due scan rescues the row.
func (d *Dispatcher) scheduleRetry(item models.ContentItem, delay time.Duration) {
	time.AfterFunc(delay, func() {
		if d.rootCtx.Err() != nil {
			return
		}
		item.State = enums.ContentQueued
		item.AttemptCount++
		d.Enqueue(item)
	})
}

func (d *Dispatcher) markPublished(ctx context.Context, item models.ContentItem, postID string, attempts int) {
	publishedAt := d.now()
	swapped, err := d.repo.CompareAndSwapState(ctx, item.ID, enums.ContentPublishing, enums.ContentPublished, map[string]any{
		"external_post_id": postID,
		"published_at":     publishedAt,
		"attempt_count":    attempts,
		"last_error_kind":  nil,
		"last_error":       nil,
	})
	if err != nil || !swapped {
		d.logg.Error(ctx, "failed to finalize published item", err)
		return
	}

	d.logg.Info(d.logg.WithField(ctx, "external_post_id", postID), "content published")

	if d.announce != nil {
		d.announce.Announce(ctx, events.Event{
			Type:           enums.EventContentPublished,
			ContentID:      item.ID,
			UserID:         item.UserID,
			ExternalPostID: postID,
			OccurredAt:     publishedAt,
		})
	}
}

func (d *Dispatcher) markFailed(ctx context.Context, item models.ContentItem, attempts int, code apperrors.Code, message string) {
	swapped, err := d.repo.CompareAndSwapState(ctx, item.ID, enums.ContentPublishing, enums.ContentFailed, map[string]any{
		"attempt_count":   attempts,
		"last_error_kind": string(code),
		"last_error":      message,
	})
	if err != nil || !swapped {
		d.logg.Error(ctx, "failed to finalize failed item", err)
		return
	}

	d.logg.Warn(d.logg.WithField(ctx, "error_kind", string(code)), "content failed")

	if d.announce != nil {
		d.announce.Announce(ctx, events.Event{
			Type:       enums.EventContentFailed,
			ContentID:  item.ID,
			UserID:     item.UserID,
			ErrorKind:  string(code),
			OccurredAt: d.now(),
		})
	}
}

func truncateError(err error) string {
	msg := err.Error()
	if len(msg) > maxStoredErrorLen {
		return msg[:maxStoredErrorLen]
	}
	return msg
}
