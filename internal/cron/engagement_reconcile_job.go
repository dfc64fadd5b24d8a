package cron

import (
	"context"
	"fmt"

	"github.com/postpilot-hq/postpilot-backend/pkg/logger"
)

type EngagementReconcileJobParams struct {
	Logger     *logger.Logger
	Reconciler engagementReconciler
}

type engagementReconciler interface {
	Reconcile(ctx context.Context) error
}

func NewEngagementReconcileJob(params EngagementReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Reconciler == nil {
		return nil, fmt.Errorf("reconciler required")
	}
	return &engagementReconcileJob{
		logg:       params.Logger,
		reconciler: params.Reconciler,
	}, nil
}

type engagementReconcileJob struct {
	logg       *logger.Logger
	reconciler engagementReconciler
}

func (j *engagementReconcileJob) Name() string { return "engagement-reconcile" }

func (j *engagementReconcileJob) Run(ctx context.Context) error {
	if err := j.reconciler.Reconcile(ctx); err != nil {
		return fmt.Errorf("engagement reconcile: %w", err)
	}
	return nil
}
