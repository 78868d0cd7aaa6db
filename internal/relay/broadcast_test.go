package relay

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaybot/internal/storage"
	"relaybot/internal/transport"
	"relaybot/pkg/logx"
)

func newBroadcaster(t *testing.T, users []int64, banned []int64, opts BroadcastOptions) (*Broadcaster, *fakeSender) {
	t.Helper()
	ctx := context.Background()
	reg := NewRegistry(storage.NewMemory())
	for _, id := range users {
		_, err := reg.RegisterIfAbsent(ctx, Profile{ID: id})
		require.NoError(t, err)
	}
	for _, id := range banned {
		_, err := reg.SetBanned(ctx, id, true)
		require.NoError(t, err)
	}
	fs := newFakeSender()
	b := NewBroadcaster(reg, fs, opts, logx.Nop(), nil, nil)
	b.sleep = func(context.Context, time.Duration) error { return nil }
	return b, fs
}

func TestBroadcastNoUsers(t *testing.T) {
	b, _ := newBroadcaster(t, nil, nil, BroadcastOptions{})
	res, err := b.Broadcast(context.Background(), Content{Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Attempted)
	assert.Equal(t, res.Attempted, res.Delivered+res.Failed)
}

func TestBroadcastSkipsBanned(t *testing.T) {
	b, fs := newBroadcaster(t, []int64{1, 2, 3, 4}, []int64{2, 5}, BroadcastOptions{})
	res, err := b.Broadcast(context.Background(), Content{Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Attempted)
	assert.Equal(t, 3, res.Delivered)
	assert.Empty(t, fs.sentTo(2))
	assert.Empty(t, fs.sentTo(5))
}

func TestBroadcastRetriesOnceAfterThrottle(t *testing.T) {
	b, fs := newBroadcaster(t, []int64{1, 2}, nil, BroadcastOptions{})
	var waited []time.Duration
	var mu sync.Mutex
	b.sleep = func(_ context.Context, d time.Duration) error {
		mu.Lock()
		waited = append(waited, d)
		mu.Unlock()
		return nil
	}
	fs.failNext(1, transport.Throttled(3*time.Second, errors.New("Too Many Requests")))

	res, err := b.Broadcast(context.Background(), Content{Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempted)
	assert.Equal(t, 2, res.Delivered)
	assert.Equal(t, []time.Duration{3 * time.Second}, waited)
	assert.Len(t, fs.sentTo(1), 1)
}

func TestBroadcastSecondThrottleCountsAsFailed(t *testing.T) {
	b, _ := newBroadcaster(t, []int64{1}, nil, BroadcastOptions{})
	throttle := transport.Throttled(time.Second, errors.New("flood"))
	b.sender.(*fakeSender).failNext(1, throttle, throttle)

	res, err := b.Broadcast(context.Background(), Content{Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, Result{Attempted: 1, Failed: 1, Throttled: 1, Duration: res.Duration}, res)
}

func TestBroadcastThrottleAboveCapIsNotRetried(t *testing.T) {
	b, fs := newBroadcaster(t, []int64{1}, nil, BroadcastOptions{MaxThrottleWait: time.Second})
	called := false
	b.sleep = func(context.Context, time.Duration) error { called = true; return nil }
	fs.failNext(1, transport.Throttled(time.Hour, errors.New("flood")))

	res, err := b.Broadcast(context.Background(), Content{Text: "hi"})
	require.NoError(t, err)
	assert.False(t, called)
	assert.Equal(t, 1, res.Throttled)
	assert.Equal(t, 1, res.Failed)
}

func TestBroadcastForwardsSource(t *testing.T) {
	b, fs := newBroadcaster(t, []int64{1, 2}, nil, BroadcastOptions{})
	src := transport.MessageRef{ChatID: 999, MessageID: 5}
	res, err := b.Broadcast(context.Background(), Content{Source: &src})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Delivered)
	assert.Equal(t, 2, fs.count("forward"))
}

func TestBroadcastRejectsEmpty(t *testing.T) {
	b, _ := newBroadcaster(t, []int64{1}, nil, BroadcastOptions{})
	_, err := b.Broadcast(context.Background(), Content{Text: "  "})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestBroadcastBoundsConcurrency(t *testing.T) {
	users := make([]int64, 20)
	for i := range users {
		users[i] = int64(i + 1)
	}
	b, fs := newBroadcaster(t, users, nil, BroadcastOptions{Workers: 3, RatePerSec: 1000})

	var active, peak atomic.Int32
	fs.hook = func(sent) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		active.Add(-1)
	}

	res, err := b.Broadcast(context.Background(), Content{Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, 20, res.Delivered)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestBroadcastMixedOutcomes(t *testing.T) {
	b, fs := newBroadcaster(t, []int64{1, 2, 3, 4}, nil, BroadcastOptions{})
	fs.failNext(2, transport.Unreachable(errors.New("blocked")))
	fs.failNext(3, errors.New("bad request"))

	res, err := b.Broadcast(context.Background(), Content{Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Attempted)
	assert.Equal(t, 2, res.Delivered)
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, 1, res.Unreachable)
	assert.Equal(t, res.Attempted, res.Delivered+res.Failed)
}
