package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeFiltersTopics(t *testing.T) {
	b := New()
	bans, unsub := b.Subscribe(4, TopicUserBanned)
	defer unsub()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()

	b.Publish(Event{Topic: TopicRelayed, SubjectID: 1})
	b.Publish(Event{Topic: TopicUserBanned, SubjectID: 2})

	got := <-bans
	assert.Equal(t, TopicUserBanned, got.Topic)
	assert.EqualValues(t, 2, got.SubjectID)
	assert.False(t, got.Time.IsZero())
	assert.Len(t, all, 2)
}

func TestPublishDropsWhenFull(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	b.Publish(Event{Topic: TopicRelayed})
	b.Publish(Event{Topic: TopicRelayed})
	assert.Len(t, ch, 1)

	unsub()
	unsub()
	b.Publish(Event{Topic: TopicRelayed})
	_, ok := <-ch
	require.True(t, ok)
	_, ok = <-ch
	assert.False(t, ok)
}
