package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRetentionRepo struct {
	cutoff  time.Time
	deleted int64
	err     error
}

func (f *fakeRetentionRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return f.deleted, f.err
}

type fakeReconciler struct {
	runs int
	err  error
}

func (f *fakeReconciler) Reconcile(ctx context.Context) error {
	f.runs++
	return f.err
}

func TestLedgerRetentionJob(t *testing.T) {
	repo := &fakeRetentionRepo{deleted: 42}
	job, err := NewLedgerRetentionJob(LedgerRetentionJobParams{
		Logger:     testCronLogger(),
		Repository: repo,
		Retention:  90 * 24 * time.Hour,
	})
	require.NoError(t, err)
	assert.Equal(t, "ledger-retention", job.Name())

	require.NoError(t, job.Run(context.Background()))

	wantCutoff := time.Now().UTC().Add(-90 * 24 * time.Hour)
	assert.WithinDuration(t, wantCutoff, repo.cutoff, time.Minute)
}

func TestLedgerRetentionJob_propagatesError(t *testing.T) {
	repo := &fakeRetentionRepo{err: errors.New("db gone")}
	job, err := NewLedgerRetentionJob(LedgerRetentionJobParams{
		Logger:     testCronLogger(),
		Repository: repo,
	})
	require.NoError(t, err)

	assert.Error(t, job.Run(context.Background()))
}

func TestEngagementReconcileJob(t *testing.T) {
	reconciler := &fakeReconciler{}
	job, err := NewEngagementReconcileJob(EngagementReconcileJobParams{
		Logger:     testCronLogger(),
		Reconciler: reconciler,
	})
	require.NoError(t, err)
	assert.Equal(t, "engagement-reconcile", job.Name())

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 1, reconciler.runs)

	reconciler.err = errors.New("poll failed")
	assert.Error(t, job.Run(context.Background()))
}
