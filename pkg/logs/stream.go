package logs

import (
	"context"
	"errors"
	"io"
	"sync"
)

// ErrAlreadySubscribed is returned when a second subscriber tries to attach
// while another subscription is active.
var ErrAlreadySubscribed = errors.New("logs: already subscribed")

// Stream buffers lines for a single live subscriber. Lines recorded while no
// subscriber is attached are kept until one attaches.
type Stream struct {
	mu     sync.Mutex
	queue  *Queue[LogLine]
	active bool
}

// NewStream returns an open Stream.
func NewStream() *Stream {
	return &Stream{queue: NewQueue[LogLine]()}
}

// Send records line for the subscriber.
func (s *Stream) Send(line LogLine) {
	s.queue.Push(line)
}

// Subscribe attaches the only subscriber. The subscription must be closed to
// let another subscriber attach.
func (s *Stream) Subscribe() (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return nil, ErrAlreadySubscribed
	}
	s.active = true
	return &Subscription{stream: s}, nil
}

// Close ends the stream; the subscriber receives io.EOF once buffered lines are drained.
func (s *Stream) Close() {
	s.queue.Close()
}

func (s *Stream) release() {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()
}

// Subscription reads lines from a Stream.
type Subscription struct {
	stream *Stream
	once   sync.Once
}

// Next blocks until a line is available, the stream is closed (io.EOF) or ctx is done.
func (sub *Subscription) Next(ctx context.Context) (LogLine, error) {
	q := sub.stream.queue
	for {
		if line, ok := q.TryPop(); ok {
			return line, nil
		}
		if q.Closed() {
			if line, ok := q.TryPop(); ok {
				return line, nil
			}
			return LogLine{}, io.EOF
		}
		select {
		case <-q.Ready():
		case <-ctx.Done():
			return LogLine{}, ctx.Err()
		}
	}
}

// Close detaches the subscriber. Lines not yet read stay buffered.
func (sub *Subscription) Close() {
	sub.once.Do(sub.stream.release)
}
