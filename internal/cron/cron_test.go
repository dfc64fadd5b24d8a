package cron

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/postpilot-hq/postpilot-backend/pkg/logger"
)

// fakeRedisStore is an in-memory stand-in for the Redis lock operations.
type fakeRedisStore struct {
	values map[string]string
	setErr error
}

func newFakeRedisStore() *fakeRedisStore {
	return &fakeRedisStore{values: map[string]string{}}
}

func (s *fakeRedisStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if s.setErr != nil {
		return false, s.setErr
	}
	if _, exists := s.values[key]; exists {
		return false, nil
	}
	s.values[key] = value.(string)
	return true, nil
}

func (s *fakeRedisStore) Get(ctx context.Context, key string) (string, error) {
	return s.values[key], nil
}

func (s *fakeRedisStore) Del(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		delete(s.values, key)
	}
	return nil
}

type countingJob struct {
	name string
	runs int
	err  error
}

func (j *countingJob) Name() string { return j.name }

func (j *countingJob) Run(ctx context.Context) error {
	j.runs++
	return j.err
}

func testCronLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func TestRedisLock_acquireAndRelease(t *testing.T) {
	store := newFakeRedisStore()
	ctx := context.Background()

	lock, err := NewRedisLock(store, "pp:lock:cron-test", time.Minute)
	require.NoError(t, err)

	ok, err := lock.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	// A second replica cannot take the slot while held.
	other, err := NewRedisLock(store, "pp:lock:cron-test", time.Minute)
	require.NoError(t, err)
	ok, err = other.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, lock.Release(ctx))

	ok, err = other.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLock_releaseOnlyOwnValue(t *testing.T) {
	store := newFakeRedisStore()
	ctx := context.Background()

	lock, err := NewRedisLock(store, "pp:lock:cron-owner", time.Minute)
	require.NoError(t, err)

	ok, err := lock.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// Simulate TTL expiry and takeover by another replica.
	store.values["pp:lock:cron-owner"] = "someone-else"

	require.NoError(t, lock.Release(ctx))
	assert.Equal(t, "someone-else", store.values["pp:lock:cron-owner"])
}

func TestRegistry_preservesOrder(t *testing.T) {
	first := &countingJob{name: "first"}
	second := &countingJob{name: "second"}

	registry := NewRegistry(first, second)
	registry.Register(nil)

	jobs := registry.Jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, "first", jobs[0].Name())
	assert.Equal(t, "second", jobs[1].Name())
}

func TestServiceRunCycle_runsEveryJob(t *testing.T) {
	store := newFakeRedisStore()
	lock, err := NewRedisLock(store, "pp:lock:cron-cycle", time.Minute)
	require.NoError(t, err)

	healthy := &countingJob{name: "healthy"}
	failing := &countingJob{name: "failing", err: errors.New("boom")}

	service, err := NewService(ServiceParams{
		Logger:   testCronLogger(),
		Registry: NewRegistry(healthy, failing),
		Lock:     lock,
		Interval: time.Minute,
	})
	require.NoError(t, err)

	require.NoError(t, service.runCycle(context.Background()))

	// One job failing never blocks the others.
	assert.Equal(t, 1, healthy.runs)
	assert.Equal(t, 1, failing.runs)

	// The lock is released at the end of the cycle.
	assert.Empty(t, store.values)
}

func TestServiceRunCycle_skipsWhenLockHeld(t *testing.T) {
	store := newFakeRedisStore()
	store.values["pp:lock:cron-held"] = "another-replica"

	lock, err := NewRedisLock(store, "pp:lock:cron-held", time.Minute)
	require.NoError(t, err)

	job := &countingJob{name: "solo"}
	service, err := NewService(ServiceParams{
		Logger:   testCronLogger(),
		Registry: NewRegistry(job),
		Lock:     lock,
		Interval: time.Minute,
	})
	require.NoError(t, err)

	require.NoError(t, service.runCycle(context.Background()))
	assert.Zero(t, job.runs)
}
