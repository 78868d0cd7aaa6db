package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"relaybot/internal/storage"
)

type Mode int32

const (
	ModePrivate Mode = iota
	ModeGroup
)

func (m Mode) String() string {
	if m == ModeGroup {
		return "group"
	}
	return "private"
}

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "private", "off", "group_off":
		return ModePrivate, nil
	case "group", "on", "group_on":
		return ModeGroup, nil
	default:
		return ModePrivate, fmt.Errorf("%w: mode %q (want group or private)", ErrInvalidArgument, s)
	}
}

const modeSettingKey = "relay.mode"

// ModeState selects where relays go. Switching never touches existing
// correlations; it only affects relays that start afterwards.
type ModeState struct {
	v     atomic.Int32
	store storage.Store

	// mu orders persist+swap so the stored mode always matches Current.
	mu sync.Mutex
}

func NewModeState(initial Mode, store storage.Store) *ModeState {
	s := &ModeState{store: store}
	s.v.Store(int32(initial))
	return s
}

func (s *ModeState) Current() Mode { return Mode(s.v.Load()) }

func (s *ModeState) SetGroup(ctx context.Context) error   { return s.Set(ctx, ModeGroup) }
func (s *ModeState) SetPrivate(ctx context.Context) error { return s.Set(ctx, ModePrivate) }

// Set switches the mode and persists it when a store is attached. The
// in-memory switch happens only after the write succeeds.
func (s *ModeState) Set(ctx context.Context, m Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store != nil {
		if err := s.store.PutSetting(ctx, modeSettingKey, m.String()); err != nil {
			return storeErr("save mode", err)
		}
	}
	s.v.Store(int32(m))
	return nil
}

// Load restores a persisted mode. A missing or unreadable value keeps the
// configured initial mode.
func (s *ModeState) Load(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := s.store.GetSetting(ctx, modeSettingKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return storeErr("load mode", err)
	}
	m, err := ParseMode(raw)
	if err != nil {
		return nil
	}
	s.v.Store(int32(m))
	return nil
}
