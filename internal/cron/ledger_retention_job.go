package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/postpilot-hq/postpilot-backend/pkg/logger"
)

const defaultLedgerRetention = 90 * 24 * time.Hour

type LedgerRetentionJobParams struct {
	Logger     *logger.Logger
	Repository ledgerRetentionRepo
	Retention  time.Duration
}

type ledgerRetentionRepo interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

func NewLedgerRetentionJob(params LedgerRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	retention := params.Retention
	if retention <= 0 {
		retention = defaultLedgerRetention
	}
	return &ledgerRetentionJob{
		logg:      params.Logger,
		repo:      params.Repository,
		retention: retention,
		now:       time.Now,
	}, nil
}

type ledgerRetentionJob struct {
	logg      *logger.Logger
	repo      ledgerRetentionRepo
	retention time.Duration
	now       func() time.Time
}

func (j *ledgerRetentionJob) Name() string { return "ledger-retention" }

func (j *ledgerRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	deleted, err := j.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("ledger retention: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"retention":    j.retention.String(),
		"rows_deleted": deleted,
	})
	j.logg.Info(logCtx, "ledger retention cleanup complete")
	return nil
}
