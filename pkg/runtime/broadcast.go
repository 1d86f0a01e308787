package runtime

import (
	"context"
	"sync"

	"github.com/splax/peep-runtime/pkg/runtime/proto"
)

// StopStatus is the terminal status of a deployment.
type StopStatus = proto.SubscribeStopResponse

// StopBroadcast publishes a single terminal status to any number of
// subscribers. The first Send wins; the value is retained and replayed to
// subscribers that join later.
type StopBroadcast struct {
	mu     sync.Mutex
	sent   bool
	status StopStatus
	done   chan struct{}
	subs   map[uint64]chan StopStatus
	nextID uint64
}

// NewStopBroadcast returns an unsent broadcast.
func NewStopBroadcast() *StopBroadcast {
	return &StopBroadcast{
		done: make(chan struct{}),
		subs: make(map[uint64]chan StopStatus),
	}
}

// Send publishes the terminal status. It reports false when a status was
// already sent, in which case nothing changes.
func (b *StopBroadcast) Send(reason proto.StopReason, message string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sent {
		return false
	}
	b.sent = true
	b.status = StopStatus{Reason: reason, Message: message}
	for id, ch := range b.subs {
		ch <- b.status
		close(ch)
		delete(b.subs, id)
	}
	close(b.done)
	return true
}

// Subscribe returns a channel that yields the terminal status once and is then
// closed. The cancel func detaches a subscriber that no longer wants the value.
func (b *StopBroadcast) Subscribe() (<-chan StopStatus, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan StopStatus, 1)
	if b.sent {
		ch <- b.status
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
}

// Done is closed once a status was sent.
func (b *StopBroadcast) Done() <-chan struct{} {
	return b.done
}

// Status returns the sent status, if any.
func (b *StopBroadcast) Status() (StopStatus, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status, b.sent
}

// Wait blocks until a status is sent or ctx is done.
func (b *StopBroadcast) Wait(ctx context.Context) (StopStatus, error) {
	select {
	case <-b.done:
		status, _ := b.Status()
		return status, nil
	case <-ctx.Done():
		return StopStatus{}, ctx.Err()
	}
}
