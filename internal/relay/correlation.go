package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"relaybot/internal/storage"
)

// Correlations wraps the store's correlation table with the consumption
// policy. Consumption is claim based: a reply claims the relay id, delivers
// with no lock held, then commits or releases the claim. A second reply to
// the same copy while the first is in flight gets ErrInFlight, so at most
// one delivery happens under the remove policy.
type Correlations struct {
	store  storage.Store
	retain atomic.Bool
	now    func() time.Time

	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewCorrelations(store storage.Store, retain bool) *Correlations {
	c := &Correlations{store: store, now: time.Now, inflight: map[string]struct{}{}}
	c.retain.Store(retain)
	return c
}

// SetRetain switches between remove-on-consumption (false) and retention
// for multi-turn threads (true).
func (c *Correlations) SetRetain(retain bool) { c.retain.Store(retain) }

func (c *Correlations) Retain() bool { return c.retain.Load() }

// Put records a new correlation. A live entry with the same relay id is
// never overwritten; Put returns storage.ErrConflict instead.
func (c *Correlations) Put(ctx context.Context, e storage.Correlation) error {
	if e.RelayID == "" || e.SenderID <= 0 {
		return fmt.Errorf("%w: correlation %q -> %d", ErrInvalidArgument, e.RelayID, e.SenderID)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = c.now()
	}
	err := c.store.PutCorrelation(ctx, e)
	switch {
	case errors.Is(err, storage.ErrConflict):
		return err
	case err != nil:
		return storeErr("put correlation", err)
	}
	return nil
}

func (c *Correlations) Get(ctx context.Context, relayID string) (storage.Correlation, error) {
	e, err := c.store.GetCorrelation(ctx, relayID)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Correlation{}, ErrNotFound
	}
	if err != nil {
		return storage.Correlation{}, storeErr("get correlation", err)
	}
	return e, nil
}

func (c *Correlations) Remove(ctx context.Context, relayID string) (bool, error) {
	ok, err := c.store.DeleteCorrelation(ctx, relayID)
	if err != nil {
		return false, storeErr("remove correlation", err)
	}
	return ok, nil
}

// Claim reserves relayID for one delivery attempt. The returned finish must
// be called exactly once with the delivery outcome.
func (c *Correlations) Claim(ctx context.Context, relayID string) (storage.Correlation, func(delivered bool) error, error) {
	c.mu.Lock()
	if _, busy := c.inflight[relayID]; busy {
		c.mu.Unlock()
		return storage.Correlation{}, nil, ErrInFlight
	}
	c.inflight[relayID] = struct{}{}
	c.mu.Unlock()

	e, err := c.Get(ctx, relayID)
	if err != nil {
		c.release(relayID)
		return storage.Correlation{}, nil, err
	}

	var once sync.Once
	finish := func(delivered bool) (ferr error) {
		once.Do(func() {
			defer c.release(relayID)
			if delivered && !c.retain.Load() {
				_, ferr = c.Remove(context.WithoutCancel(ctx), relayID)
			}
		})
		return ferr
	}
	return e, finish, nil
}

func (c *Correlations) release(relayID string) {
	c.mu.Lock()
	delete(c.inflight, relayID)
	c.mu.Unlock()
}

// Prune evicts correlations older than ttl. ttl <= 0 disables eviction.
func (c *Correlations) Prune(ctx context.Context, ttl time.Duration) (int, error) {
	if ttl <= 0 {
		return 0, nil
	}
	n, err := c.store.PruneCorrelations(ctx, c.now().Add(-ttl))
	if err != nil {
		return 0, storeErr("prune correlations", err)
	}
	return n, nil
}

func (c *Correlations) Count(ctx context.Context) (int, error) {
	n, err := c.store.CountCorrelations(ctx)
	if err != nil {
		return 0, storeErr("count correlations", err)
	}
	return n, nil
}
