package log

import (
	"bytes"
	"sync"
	"sync/atomic"
)

const defaultBufferSize = 64

// Publisher is an [io.Writer] that fans out written lines to subscribers.
//
// Writes are split on newlines and each complete line, without its line
// ending, is delivered to every active [Subscription] via a buffered channel
// with ring-buffer semantics: when a subscriber's channel is full the oldest
// entry is dropped so Write never blocks. A trailing partial line is held
// until its newline arrives or the Publisher is closed, so subprocess output
// arriving in arbitrary chunks is delivered one line at a time. Safe for
// concurrent use.
//
// Create instances with [NewPublisher].
type Publisher struct {
	subscribers []*Subscription
	partial     []byte
	bufSize     int
	mu          sync.Mutex
	closed      bool
}

// NewPublisher creates a [Publisher] with the given options.
// The default buffer size is 64.
func NewPublisher(opts ...PublisherOption) *Publisher {
	p := &Publisher{
		bufSize: defaultBufferSize,
	}
	for _, opt := range opts {
		opt(p)
	}

	return p
}

// PublisherOption configures a [Publisher].
type PublisherOption func(*Publisher)

// WithBufferSize sets the channel buffer size for new subscriptions.
// Values less than 1 are clamped to 1.
func WithBufferSize(n int) PublisherOption {
	return func(p *Publisher) {
		if n < 1 {
			n = 1
		}

		p.bufSize = n
	}
}

// Write splits b into lines and sends a copy of each complete line to all
// active subscribers. Closed subscriptions are compacted out of the
// subscriber list. Write always returns len(b), nil.
func (p *Publisher) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return len(b), nil
	}

	rest := b
	for {
		i := bytes.IndexByte(rest, '\n')
		if i < 0 {
			break
		}

		line := append(p.partial, rest[:i]...)
		p.partial = nil
		p.publish(bytes.TrimSuffix(line, []byte("\r")))

		rest = rest[i+1:]
	}

	if len(rest) > 0 {
		p.partial = append(p.partial, rest...)
	}

	return len(b), nil
}

// publish delivers a copy of entry. Callers must hold p.mu.
func (p *Publisher) publish(entry []byte) {
	entry = bytes.Clone(entry)
	if entry == nil {
		entry = []byte{}
	}

	// Compact closed subscriptions and deliver in one pass.
	alive := p.subscribers[:0]
	for _, sub := range p.subscribers {
		if sub.closed.Load() {
			close(sub.ch)
			continue
		}
		// Ring-buffer: drop oldest if full.
		select {
		case sub.ch <- entry:
		default:
			<-sub.ch

			sub.ch <- entry
		}

		alive = append(alive, sub)
	}
	// Clear trailing references for GC.
	for i := len(alive); i < len(p.subscribers); i++ {
		p.subscribers[i] = nil
	}

	p.subscribers = alive
}

// Subscribe creates and registers a new [Subscription]. If the Publisher is
// already closed the returned subscription's channel is immediately closed.
func (p *Publisher) Subscribe() *Subscription {
	p.mu.Lock()
	defer p.mu.Unlock()

	sub := &Subscription{
		ch: make(chan []byte, p.bufSize),
	}

	if p.closed {
		close(sub.ch)
		return sub
	}

	p.subscribers = append(p.subscribers, sub)

	return sub
}

// Close delivers any held partial line, marks the Publisher as closed,
// closes all subscription channels, and releases the subscriber list.
// Idempotent.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	if len(p.partial) > 0 {
		p.publish(p.partial)
		p.partial = nil
	}

	p.closed = true
	for _, sub := range p.subscribers {
		close(sub.ch)
	}

	p.subscribers = nil

	return nil
}

// Subscription receives log entries from a [Publisher].
type Subscription struct {
	ch     chan []byte
	closed atomic.Bool
}

// C returns the read-only channel that delivers log entries.
// Callers must not modify the returned byte slices.
func (s *Subscription) C() <-chan []byte {
	return s.ch
}

// Close marks the subscription as closed. The Publisher will close the
// underlying channel on its next Write or Close call. Idempotent.
func (s *Subscription) Close() {
	s.closed.Store(true)
}
