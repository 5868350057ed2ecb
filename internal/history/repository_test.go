package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func stubRepository(query func(ctx context.Context, customerID int, phone, callIDHint string) (string, error)) *Repository {
	return &Repository{query: query, retryDelay: time.Millisecond}
}

func TestLastDispositionReturnsFirstHit(t *testing.T) {
	calls := 0
	repo := stubRepository(func(ctx context.Context, customerID int, phone, callIDHint string) (string, error) {
		calls++
		return "NO_ANSWER", nil
	})

	got := repo.LastDisposition(context.Background(), 42, "0311111111", "call-1")
	assert.Equal(t, "NO_ANSWER", got)
	assert.Equal(t, 1, calls)
}

func TestLastDispositionRetriesUntilRowAppears(t *testing.T) {
	calls := 0
	repo := stubRepository(func(ctx context.Context, customerID int, phone, callIDHint string) (string, error) {
		calls++
		if calls < 3 {
			return "", nil
		}
		return "BUSY", nil
	})

	got := repo.LastDisposition(context.Background(), 42, "0311111111", "")
	assert.Equal(t, "BUSY", got)
	assert.Equal(t, 3, calls)
}

func TestLastDispositionGivesUpAfterBoundedRetries(t *testing.T) {
	calls := 0
	repo := stubRepository(func(ctx context.Context, customerID int, phone, callIDHint string) (string, error) {
		calls++
		return "", nil
	})

	got := repo.LastDisposition(context.Background(), 42, "0311111111", "")
	assert.Equal(t, "", got)
	assert.Equal(t, 1+lookupRetries, calls)
}

func TestLastDispositionNeverRaisesOnQueryError(t *testing.T) {
	calls := 0
	repo := stubRepository(func(ctx context.Context, customerID int, phone, callIDHint string) (string, error) {
		calls++
		return "", errors.New("connection refused")
	})

	got := repo.LastDisposition(context.Background(), 42, "0311111111", "")
	assert.Equal(t, "", got)
	assert.Equal(t, 1, calls)
}

func TestLastDispositionStopsOnContextCancel(t *testing.T) {
	repo := stubRepository(func(ctx context.Context, customerID int, phone, callIDHint string) (string, error) {
		return "", nil
	})
	repo.retryDelay = time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	got := repo.LastDisposition(ctx, 42, "0311111111", "")
	assert.Equal(t, "", got)
	assert.Less(t, time.Since(start), time.Second)
}
