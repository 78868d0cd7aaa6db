// Package eventbus is a non-blocking in-process fan-out for relay events.
package eventbus

import (
	"sync"
	"time"
)

type Topic string

const (
	TopicRelayed           Topic = "relay.forwarded"
	TopicRejected          Topic = "relay.rejected"
	TopicReplyDelivered    Topic = "reply.delivered"
	TopicReplyFailed       Topic = "reply.failed"
	TopicUserBanned        Topic = "user.banned"
	TopicUserUnbanned      Topic = "user.unbanned"
	TopicModeChanged       Topic = "mode.changed"
	TopicBroadcastFinished Topic = "broadcast.finished"
	TopicPruned            Topic = "correlations.pruned"
)

// Event is a small signal. ActorID is the operator (0 for system events),
// SubjectID the end user it concerns (0 if none).
type Event struct {
	Topic     Topic
	Time      time.Time
	ActorID   int64
	SubjectID int64
	Detail    string
	OK        int
	Fail      int
}

// Bus never blocks publishers. Subscribers use buffered channels and miss
// events when they fall behind.
type Bus interface {
	Publish(e Event)
	Subscribe(buffer int, topics ...Topic) (ch <-chan Event, unsubscribe func())
}

type subscriber struct {
	ch     chan Event
	topics map[Topic]struct{} // empty = all
}

func (s *subscriber) wants(t Topic) bool {
	if len(s.topics) == 0 {
		return true
	}
	_, ok := s.topics[t]
	return ok
}

func New() Bus {
	return &memBus{subs: map[uint64]*subscriber{}}
}

type memBus struct {
	mu   sync.RWMutex
	seq  uint64
	subs map[uint64]*subscriber
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Sends happen under the read lock so unsubscribe cannot close a channel
	// mid-send; every send is non-blocking.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if !s.wants(e.Topic) {
			continue
		}
		select {
		case s.ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int, topics ...Topic) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &subscriber{ch: make(chan Event, buffer), topics: map[Topic]struct{}{}}
	for _, t := range topics {
		s.topics[t] = struct{}{}
	}

	b.mu.Lock()
	b.seq++
	id := b.seq
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(s.ch)
			b.mu.Unlock()
		})
	}
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(Event) {}

func (Nop) Subscribe(int, ...Topic) (<-chan Event, func()) {
	ch := make(chan Event)
	close(ch)
	return ch, func() {}
}
