package idempotency

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/backoffice/internal/domain"
	"github.com/vladislavdragonenkov/backoffice/internal/storage/memory"
)

func TestCleanupWorker_SweepRemovesExpiredInBatches(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewIdempotencyRepository()
	now := time.Now().UTC()

	for i := 0; i < 5; i++ {
		_, err := repo.Acquire(ctx, fmt.Sprintf("expired-%d", i), "hash", now.Add(time.Minute))
		require.NoError(t, err)
	}
	_, err := repo.Acquire(ctx, "alive", "hash", now.Add(time.Hour))
	require.NoError(t, err)

	worker := NewCleanupWorker(repo,
		WithBatchSize(2),
		WithClock(func() time.Time { return now.Add(10 * time.Minute) }),
	)

	deleted, err := worker.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 5, deleted)

	_, err = repo.Get(ctx, "alive")
	require.NoError(t, err)
	_, err = repo.Get(ctx, "expired-0")
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)
}

type failingRepo struct {
	domain.IdempotencyRepository
	calls int
}

func (f *failingRepo) DeleteExpired(context.Context, time.Time, int) (int, error) {
	f.calls++
	return 0, errors.New("database unavailable")
}

func TestCleanupWorker_SweepReturnsRepositoryError(t *testing.T) {
	repo := &failingRepo{}
	deleted, err := NewCleanupWorker(repo).Sweep(context.Background())
	require.Error(t, err)
	require.Zero(t, deleted)
	require.Equal(t, 1, repo.calls)
}

func TestCleanupWorker_RunStopsOnContextCancel(t *testing.T) {
	repo := &failingRepo{}
	worker := NewCleanupWorker(repo, WithInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup worker did not stop on context cancel")
	}
	require.NotZero(t, repo.calls)
}
