package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory keeps everything in process maps. It is also the in-memory state
// behind the file driver.
type Memory struct {
	mu       sync.RWMutex
	closed   bool
	users    map[int64]User
	corrs    map[string]Correlation
	settings map[string]string
	audit    []AuditEntry

	now func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		users:    map[int64]User{},
		corrs:    map[string]Correlation{},
		settings: map[string]string{},
		now:      time.Now,
	}
}

func (m *Memory) UpsertUser(_ context.Context, u User) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	_, created := m.upsertUserLocked(u)
	return created, nil
}

func (m *Memory) upsertUserLocked(u User) (User, bool) {
	now := m.now()
	cur, ok := m.users[u.ID]
	if !ok {
		if u.RegisteredAt.IsZero() {
			u.RegisteredAt = now
		}
		u.UpdatedAt = now
		m.users[u.ID] = u
		return u, true
	}
	cur.Username = u.Username
	cur.FirstName = u.FirstName
	cur.UpdatedAt = now
	m.users[u.ID] = cur
	return cur, false
}

func (m *Memory) GetUser(_ context.Context, id int64) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return User{}, ErrClosed
	}
	u, ok := m.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (m *Memory) SetBanned(_ context.Context, id int64, banned bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	_, changed := m.setBannedLocked(id, banned)
	return changed, nil
}

func (m *Memory) setBannedLocked(id int64, banned bool) (User, bool) {
	now := m.now()
	u, ok := m.users[id]
	if !ok {
		u = User{ID: id, RegisteredAt: now}
	} else if u.Banned == banned {
		return u, false
	}
	u.Banned = banned
	u.UpdatedAt = now
	m.users[id] = u
	return u, true
}

func (m *Memory) ListUsers(_ context.Context, f UserFilter) ([]User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]User, 0, len(m.users))
	for _, u := range m.users {
		if f.ExcludeBanned && u.Banned {
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) CountUsers(_ context.Context) (UserCounts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return UserCounts{}, ErrClosed
	}
	c := UserCounts{Total: len(m.users)}
	for _, u := range m.users {
		if u.Banned {
			c.Banned++
		}
	}
	return c, nil
}

func (m *Memory) PutCorrelation(_ context.Context, c Correlation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	_, err := m.putCorrelationLocked(c)
	return err
}

func (m *Memory) putCorrelationLocked(c Correlation) (Correlation, error) {
	if _, ok := m.corrs[c.RelayID]; ok {
		return Correlation{}, ErrConflict
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = m.now()
	}
	m.corrs[c.RelayID] = c
	return c, nil
}

func (m *Memory) GetCorrelation(_ context.Context, relayID string) (Correlation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return Correlation{}, ErrClosed
	}
	c, ok := m.corrs[relayID]
	if !ok {
		return Correlation{}, ErrNotFound
	}
	return c, nil
}

func (m *Memory) DeleteCorrelation(_ context.Context, relayID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	_, ok := m.corrs[relayID]
	delete(m.corrs, relayID)
	return ok, nil
}

func (m *Memory) PruneCorrelations(_ context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	return m.pruneLocked(before), nil
}

func (m *Memory) pruneLocked(before time.Time) int {
	n := 0
	for k, c := range m.corrs {
		if c.CreatedAt.Before(before) {
			delete(m.corrs, k)
			n++
		}
	}
	return n
}

func (m *Memory) CountCorrelations(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrClosed
	}
	return len(m.corrs), nil
}

func (m *Memory) GetSetting(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return "", ErrClosed
	}
	v, ok := m.settings[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *Memory) PutSetting(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.settings[key] = value
	return nil
}

func (m *Memory) AppendAudit(_ context.Context, e AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if e.At.IsZero() {
		e.At = m.now()
	}
	m.audit = append(m.audit, e)
	return nil
}

// Audit returns a copy of the recorded audit entries.
func (m *Memory) Audit() []AuditEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]AuditEntry(nil), m.audit...)
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
