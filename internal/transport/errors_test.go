package transport

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestErrorClassification(t *testing.T) {
	base := errors.New("Forbidden: bot was blocked by the user")
	err := fmt.Errorf("send: %w", Unreachable(base))

	assert.ErrorIs(t, err, ErrUnreachable)
	assert.NotErrorIs(t, err, ErrThrottled)
	assert.ErrorIs(t, err, base)
	assert.Equal(t, KindUnreachable, KindOf(err))

	th := Throttled(3*time.Second, errors.New("too many requests"))
	d, ok := RetryAfter(th)
	assert.True(t, ok)
	assert.Equal(t, 3*time.Second, d)
	assert.Equal(t, KindThrottled, KindOf(th))

	_, ok = RetryAfter(base)
	assert.False(t, ok)
	assert.Equal(t, KindOther, KindOf(base))
}

func TestMessageRefKey(t *testing.T) {
	r := MessageRef{ChatID: -1001, MessageID: 55}
	assert.Equal(t, "-1001:55", r.Key())
	assert.True(t, MessageRef{}.IsZero())
}
