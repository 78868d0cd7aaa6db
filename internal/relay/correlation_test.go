package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaybot/internal/storage"
)

func TestCorrelationPutGetRemove(t *testing.T) {
	ctx := context.Background()
	c := NewCorrelations(storage.NewMemory(), false)

	require.NoError(t, c.Put(ctx, storage.Correlation{RelayID: "999:1", SenderID: 7, DestinationID: 999}))
	e, err := c.Get(ctx, "999:1")
	require.NoError(t, err)
	assert.EqualValues(t, 7, e.SenderID)
	assert.False(t, e.CreatedAt.IsZero())

	_, err = c.Get(ctx, "999:2")
	assert.ErrorIs(t, err, ErrNotFound)

	ok, err := c.Remove(ctx, "999:1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = c.Remove(ctx, "999:1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCorrelationPutNeverOverwrites(t *testing.T) {
	ctx := context.Background()
	c := NewCorrelations(storage.NewMemory(), false)

	require.NoError(t, c.Put(ctx, storage.Correlation{RelayID: "1:1", SenderID: 7}))
	err := c.Put(ctx, storage.Correlation{RelayID: "1:1", SenderID: 8})
	assert.ErrorIs(t, err, storage.ErrConflict)

	e, err := c.Get(ctx, "1:1")
	require.NoError(t, err)
	assert.EqualValues(t, 7, e.SenderID)
}

func TestCorrelationPutValidates(t *testing.T) {
	c := NewCorrelations(storage.NewMemory(), false)
	assert.ErrorIs(t, c.Put(context.Background(), storage.Correlation{SenderID: 1}), ErrInvalidArgument)
	assert.ErrorIs(t, c.Put(context.Background(), storage.Correlation{RelayID: "1:1"}), ErrInvalidArgument)
}

func TestClaimIsExclusive(t *testing.T) {
	ctx := context.Background()
	c := NewCorrelations(storage.NewMemory(), false)
	require.NoError(t, c.Put(ctx, storage.Correlation{RelayID: "1:1", SenderID: 7}))

	_, finish, err := c.Claim(ctx, "1:1")
	require.NoError(t, err)

	_, _, err = c.Claim(ctx, "1:1")
	assert.ErrorIs(t, err, ErrInFlight)

	require.NoError(t, finish(false))
	_, finish, err = c.Claim(ctx, "1:1")
	require.NoError(t, err)
	require.NoError(t, finish(true))
	// finish is idempotent.
	require.NoError(t, finish(true))

	_, _, err = c.Claim(ctx, "1:1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClaimRetainKeepsEntry(t *testing.T) {
	ctx := context.Background()
	c := NewCorrelations(storage.NewMemory(), true)
	require.NoError(t, c.Put(ctx, storage.Correlation{RelayID: "1:1", SenderID: 7}))

	_, finish, err := c.Claim(ctx, "1:1")
	require.NoError(t, err)
	require.NoError(t, finish(true))

	_, err = c.Get(ctx, "1:1")
	assert.NoError(t, err)
}

func TestPruneEvictsOnlyExpired(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewCorrelations(storage.NewMemory(), false)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Put(ctx, storage.Correlation{RelayID: "old", SenderID: 1, CreatedAt: now.Add(-48 * time.Hour)}))
	require.NoError(t, c.Put(ctx, storage.Correlation{RelayID: "new", SenderID: 2, CreatedAt: now.Add(-time.Hour)}))

	n, err := c.Prune(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = c.Prune(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = c.Get(ctx, "old")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = c.Get(ctx, "new")
	assert.NoError(t, err)
}

type failingStore struct{ storage.Store }

func (failingStore) GetCorrelation(context.Context, string) (storage.Correlation, error) {
	return storage.Correlation{}, errors.New("disk gone")
}

func (failingStore) GetUser(context.Context, int64) (storage.User, error) {
	return storage.User{}, errors.New("disk gone")
}

func TestStoreFailuresSurfaceAsUnavailable(t *testing.T) {
	ctx := context.Background()
	fs := failingStore{Store: storage.NewMemory()}

	_, err := NewCorrelations(fs, false).Get(ctx, "1:1")
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	_, err = NewRegistry(fs).IsBanned(ctx, 1)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}
