package relay

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrNotFound         = errors.New("no matching conversation")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrUnauthorized     = errors.New("unauthorized")
	// ErrBanned is returned by the ban gate after the sender was notified.
	ErrBanned = errors.New("sender is banned")
	// ErrInFlight means another reply to the same relayed copy is being delivered.
	ErrInFlight = errors.New("reply already in progress")
	// ErrUndelivered means a relay reached no destination at all.
	ErrUndelivered = errors.New("message was not delivered to any destination")
)

func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
