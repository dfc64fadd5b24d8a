package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/postpilot-hq/postpilot-backend/internal/content"
	"github.com/postpilot-hq/postpilot-backend/pkg/config"
	"github.com/postpilot-hq/postpilot-backend/pkg/db/models"
	"github.com/postpilot-hq/postpilot-backend/pkg/enums"
	"github.com/postpilot-hq/postpilot-backend/pkg/logger"
	"github.com/postpilot-hq/postpilot-backend/pkg/metrics"
)

// Enqueuer accepts claimed items for dispatch.
type Enqueuer interface {
	Enqueue(item models.ContentItem) bool
}

// SchedulerParams carries the dependencies for the scheduler loop.
type SchedulerParams struct {
	Repo       *content.Repository
	Dispatcher Enqueuer
	Logger     *logger.Logger
	Metrics    *metrics.PipelineMetrics
	Config     config.PublisherConfig
}

// Scheduler scans for due content on a fixed tick. Scheduled items are
// claimed via CAS before they reach a queue, so overlapping scheduler
// processes never dispatch the same item twice. Queued rows whose due time
// passed are handed to the dispatcher again; those survive process
// restarts that lost their in-memory retry timers. Publishing rows whose
// claim went stale are swept back to queued so a worker crash mid-attempt
// never strands an item.
type Scheduler struct {
	repo       *content.Repository
	dispatcher Enqueuer
	logg       *logger.Logger
	pipeline   *metrics.PipelineMetrics
	cfg        config.PublisherConfig
	now        func() time.Time
}

func NewScheduler(params SchedulerParams) (*Scheduler, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("content repository is required")
	}
	if params.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if params.Config.TickInterval <= 0 {
		params.Config.TickInterval = time.Minute
	}
	if params.Config.BatchSize <= 0 {
		params.Config.BatchSize = 100
	}
	if params.Config.StaleClaimAfter <= 0 {
		params.Config.StaleClaimAfter = 10 * time.Minute
	}

	return &Scheduler{
		repo:       params.Repo,
		dispatcher: params.Dispatcher,
		logg:       params.Logger,
		pipeline:   params.Metrics,
		cfg:        params.Config,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// Run ticks until the context is cancelled. The first scan happens
// immediately so a restart picks up overdue work without waiting a full
// interval.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	s.logg.Info(s.logg.WithField(ctx, "tick_interval", s.cfg.TickInterval.String()), "scheduler started")

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one scan over due content.
func (s *Scheduler) Tick(ctx context.Context) {
	items, err := s.repo.ListDue(ctx, s.now(), s.cfg.BatchSize)
	if err != nil {
		s.logg.Error(ctx, "scheduler scan failed", err)
		return
	}

	for _, item := range items {
		if ctx.Err() != nil {
			return
		}

		itemCtx := s.logg.WithContentID(ctx, item.ID.String())

		switch item.State {
		case enums.ContentScheduled:
			claimed, err := s.repo.CompareAndSwapState(ctx, item.ID, enums.ContentScheduled, enums.ContentQueued, map[string]any{
				"next_attempt_at": item.ScheduledAt,
			})
			if err != nil {
				s.logg.Error(itemCtx, "failed to claim scheduled item", err)
				continue
			}
			if !claimed {
				// Another scheduler got it, or the user unscheduled in time.
				continue
			}

			item.State = enums.ContentQueued
			item.NextAttemptAt = item.ScheduledAt
			s.pipeline.IncEnqueued()
			if !s.dispatcher.Enqueue(item) {
				s.logg.Debug(itemCtx, "queued item not enqueued, will retry next tick")
			}

		case enums.ContentQueued:
			// Rescue path. The in-flight set inside the dispatcher drops
			// duplicates for items that already have a pending retry timer.
			if s.dispatcher.Enqueue(item) {
				s.logg.Debug(itemCtx, "rescued queued item")
			}
		}
	}

	s.rescueStaleClaims(ctx)
}

// rescueStaleClaims requeues items a dead worker left in publishing. A live
// claim finishes or requeues within the attempt timeout, so anything older
// than the stale window has no owner. Redelivery is safe: the dispatcher
// consults the attempt ledger before touching the network again.
func (s *Scheduler) rescueStaleClaims(ctx context.Context) {
	cutoff := s.now().Add(-s.cfg.StaleClaimAfter)
	items, err := s.repo.ListStalePublishing(ctx, cutoff, s.cfg.BatchSize)
	if err != nil {
		s.logg.Error(ctx, "stale claim scan failed", err)
		return
	}

	for _, item := range items {
		if ctx.Err() != nil {
			return
		}

		itemCtx := s.logg.WithContentID(ctx, item.ID.String())

		now := s.now()
		claimed, err := s.repo.CompareAndSwapState(ctx, item.ID, enums.ContentPublishing, enums.ContentQueued, map[string]any{
			"next_attempt_at": now,
		})
		if err != nil {
			s.logg.Error(itemCtx, "failed to requeue stale claim", err)
			continue
		}
		if !claimed {
			// The owning worker finished after all.
			continue
		}

		s.logg.Warn(itemCtx, "requeued item abandoned mid-publish")

		item.State = enums.ContentQueued
		item.NextAttemptAt = &now
		if !s.dispatcher.Enqueue(item) {
			s.logg.Debug(itemCtx, "requeued item not enqueued, will retry next tick")
		}
	}
}
