package relay

import (
	"context"
	"errors"
	"fmt"

	"relaybot/internal/storage"
)

// Profile is what the transport knows about a sender on first contact.
type Profile struct {
	ID        int64
	Username  string
	FirstName string
}

// Registry is the user registry behind the ban gate. Each operation is a
// single store call, so the store's own locking scopes the critical section.
type Registry struct {
	store storage.Store
}

func NewRegistry(store storage.Store) *Registry {
	return &Registry{store: store}
}

// IsBanned reports the ban flag. Unknown users are not banned.
func (r *Registry) IsBanned(ctx context.Context, userID int64) (bool, error) {
	u, err := r.store.GetUser(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, storeErr("is banned", err)
	}
	return u.Banned, nil
}

// SetBanned is idempotent and records unknown users so a ban can precede
// first contact. changed is false when the flag already had that value.
func (r *Registry) SetBanned(ctx context.Context, userID int64, banned bool) (changed bool, err error) {
	if userID <= 0 {
		return false, fmt.Errorf("%w: user id %d", ErrInvalidArgument, userID)
	}
	changed, err = r.store.SetBanned(ctx, userID, banned)
	if err != nil {
		return false, storeErr("set banned", err)
	}
	return changed, nil
}

// RegisterIfAbsent inserts the user unbanned when absent. Profile fields of
// known users are refreshed; their ban flag is never touched.
func (r *Registry) RegisterIfAbsent(ctx context.Context, p Profile) (created bool, err error) {
	if p.ID <= 0 {
		return false, fmt.Errorf("%w: user id %d", ErrInvalidArgument, p.ID)
	}
	created, err = r.store.UpsertUser(ctx, storage.User{ID: p.ID, Username: p.Username, FirstName: p.FirstName})
	if err != nil {
		return false, storeErr("register", err)
	}
	return created, nil
}

// Eligible lists every non-banned user id for a broadcast run.
func (r *Registry) Eligible(ctx context.Context) ([]int64, error) {
	users, err := r.store.ListUsers(ctx, storage.UserFilter{ExcludeBanned: true})
	if err != nil {
		return nil, storeErr("list users", err)
	}
	ids := make([]int64, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	return ids, nil
}

func (r *Registry) Counts(ctx context.Context) (storage.UserCounts, error) {
	c, err := r.store.CountUsers(ctx)
	if err != nil {
		return storage.UserCounts{}, storeErr("count users", err)
	}
	return c, nil
}
