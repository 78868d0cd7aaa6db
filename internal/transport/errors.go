package transport

import (
	"errors"
	"fmt"
	"time"
)

type ErrorKind int

const (
	KindOther ErrorKind = iota
	// KindUnreachable: the destination blocked the bot, was deactivated or
	// does not exist. Retrying will not help.
	KindUnreachable
	// KindThrottled: the platform asked us to back off for RetryAfter.
	KindThrottled
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnreachable:
		return "unreachable"
	case KindThrottled:
		return "throttled"
	default:
		return "other"
	}
}

var (
	ErrUnreachable = errors.New("destination unreachable")
	ErrThrottled   = errors.New("throttled")
)

// Error is a classified send failure.
type Error struct {
	Kind       ErrorKind
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Kind == KindThrottled {
		return fmt.Sprintf("throttled (retry after %s): %v", e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	switch target {
	case ErrUnreachable:
		return e.Kind == KindUnreachable
	case ErrThrottled:
		return e.Kind == KindThrottled
	}
	return false
}

func Unreachable(err error) error { return &Error{Kind: KindUnreachable, Err: err} }

func Throttled(retryAfter time.Duration, err error) error {
	return &Error{Kind: KindThrottled, RetryAfter: retryAfter, Err: err}
}

// KindOf classifies err; unclassified errors are KindOther.
func KindOf(err error) ErrorKind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindOther
}

// RetryAfter returns the throttle delay carried by err.
func RetryAfter(err error) (time.Duration, bool) {
	var te *Error
	if errors.As(err, &te) && te.Kind == KindThrottled {
		return te.RetryAfter, true
	}
	return 0, false
}
