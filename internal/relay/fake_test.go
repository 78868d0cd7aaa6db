package relay

import (
	"context"
	"sync"

	"relaybot/internal/transport"
)

type sent struct {
	Kind string // "text", "forward", "copy"
	To   int64
	Text string
	Src  transport.MessageRef
	Ref  transport.MessageRef
}

// fakeSender records outbound calls. Errors queued per destination are
// returned one per call before calls start succeeding.
type fakeSender struct {
	mu     sync.Mutex
	nextID map[int64]int
	calls  []sent
	errs   map[int64][]error
	hook   func(s sent)
}

func newFakeSender() *fakeSender {
	return &fakeSender{nextID: map[int64]int{}, errs: map[int64][]error{}}
}

func (f *fakeSender) failNext(chatID int64, errs ...error) {
	f.mu.Lock()
	f.errs[chatID] = append(f.errs[chatID], errs...)
	f.mu.Unlock()
}

func (f *fakeSender) record(kind string, to transport.ChatTarget, text string, src transport.MessageRef) (transport.MessageRef, error) {
	f.mu.Lock()
	if q := f.errs[to.ChatID]; len(q) > 0 {
		err := q[0]
		f.errs[to.ChatID] = q[1:]
		f.mu.Unlock()
		return transport.MessageRef{}, err
	}
	f.nextID[to.ChatID]++
	ref := transport.MessageRef{ChatID: to.ChatID, MessageID: 1000 + f.nextID[to.ChatID]}
	s := sent{Kind: kind, To: to.ChatID, Text: text, Src: src, Ref: ref}
	f.calls = append(f.calls, s)
	hook := f.hook
	f.mu.Unlock()
	if hook != nil {
		hook(s)
	}
	return ref, nil
}

func (f *fakeSender) SendText(_ context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	return f.record("text", to, text, transport.MessageRef{})
}

func (f *fakeSender) ForwardMessage(_ context.Context, to transport.ChatTarget, src transport.MessageRef) (transport.MessageRef, error) {
	return f.record("forward", to, "", src)
}

func (f *fakeSender) CopyMessage(_ context.Context, to transport.ChatTarget, src transport.MessageRef) (transport.MessageRef, error) {
	return f.record("copy", to, "", src)
}

func (f *fakeSender) sentTo(chatID int64) []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sent
	for _, s := range f.calls {
		if s.To == chatID {
			out = append(out, s)
		}
	}
	return out
}

func (f *fakeSender) count(kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.calls {
		if s.Kind == kind {
			n++
		}
	}
	return n
}
