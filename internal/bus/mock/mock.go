// Package mock provides an in-memory mock implementation of [bus.Bus] for
// use in unit tests.
//
// The mock dispatches requests to registered repliers synchronously, records
// every publish, and delivers published messages to matching subscribers on
// the caller's goroutine. It is safe for concurrent use.
//
// Example:
//
//	b := mock.New()
//	b.Reply("ai.llm.request", func(data []byte) (any, error) {
//	    return map[string]any{"content": "hello"}, nil
//	})
//	reply, err := b.Request(ctx, "ai.llm.request", payload, time.Second)
package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nlxhq/nlx/internal/bus"
)

// Compile-time interface assertion.
var _ bus.Bus = (*Bus)(nil)

// Publication records the arguments of a single [Bus.Publish] call.
type Publication struct {
	Subject string
	Data    []byte
}

// Bus is an in-memory mock implementation of [bus.Bus].
type Bus struct {
	mu          sync.Mutex
	repliers    map[string]func(data []byte) (any, error)
	subscribers map[string][]*subscription
	published   []Publication
	closed      bool
}

// New creates an empty mock bus.
func New() *Bus {
	return &Bus{
		repliers:    map[string]func(data []byte) (any, error){},
		subscribers: map[string][]*subscription{},
	}
}

// Reply registers a synchronous replier for subject. A nil-error return is
// JSON-encoded as the reply; an error return becomes an {"error": ...}
// payload, matching production replier semantics.
func (b *Bus) Reply(subject string, fn func(data []byte) (any, error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.repliers[subject] = fn
}

// Published returns a snapshot of all recorded publications.
func (b *Bus) Published() []Publication {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Publication, len(b.published))
	copy(out, b.published)
	return out
}

// PublishedOn returns the publications for one subject.
func (b *Bus) PublishedOn(subject string) []Publication {
	var out []Publication
	for _, p := range b.Published() {
		if p.Subject == subject {
			out = append(out, p)
		}
	}
	return out
}

// Publish records the message and delivers it to subscribers synchronously.
func (b *Bus) Publish(_ context.Context, subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("mock bus: encode publish %s: %w", subject, err)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return bus.ErrClosed
	}
	b.published = append(b.published, Publication{Subject: subject, Data: data})
	subs := append([]*subscription(nil), b.subscribers[subject]...)
	b.mu.Unlock()

	for _, s := range subs {
		s.deliver(data)
	}
	return nil
}

// Request dispatches to the registered replier for subject. A missing
// replier yields [bus.ErrTimeout], mimicking an absent service.
func (b *Bus) Request(_ context.Context, subject string, payload any, _ time.Duration) (json.RawMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("mock bus: encode request %s: %w", subject, err)
	}

	b.mu.Lock()
	fn, ok := b.repliers[subject]
	closed := b.closed
	b.mu.Unlock()

	if closed {
		return nil, bus.ErrClosed
	}
	if !ok {
		return nil, fmt.Errorf("mock bus: no replier on %s: %w", subject, bus.ErrTimeout)
	}

	result, err := fn(data)
	if err != nil {
		result = bus.ErrorPayload{Error: err.Error()}
	}
	reply, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("mock bus: encode reply %s: %w", subject, err)
	}
	return reply, nil
}

// Subscribe registers cb for subject.
func (b *Bus) Subscribe(subject string, cb func(data []byte)) (bus.Subscription, error) {
	return b.subscribe(subject, cb)
}

// QueueSubscribe behaves like Subscribe; the mock does not load-balance.
func (b *Bus) QueueSubscribe(subject, _ string, cb func(data []byte)) (bus.Subscription, error) {
	return b.subscribe(subject, cb)
}

// ReplyHandler registers fn as the replier for subject.
func (b *Bus) ReplyHandler(subject string, fn func(ctx context.Context, data []byte) (any, error)) (bus.Subscription, error) {
	b.Reply(subject, func(data []byte) (any, error) {
		return fn(context.Background(), data)
	})
	return &subscription{bus: b, subject: subject}, nil
}

// Close marks the bus closed; subsequent calls fail with [bus.ErrClosed].
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}

type subscription struct {
	bus     *Bus
	subject string
	cb      func(data []byte)

	mu     sync.Mutex
	closed bool
}

func (b *Bus) subscribe(subject string, cb func(data []byte)) (*subscription, error) {
	s := &subscription{bus: b, subject: subject, cb: cb}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, bus.ErrClosed
	}
	b.subscribers[subject] = append(b.subscribers[subject], s)
	return s, nil
}

func (s *subscription) deliver(data []byte) {
	s.mu.Lock()
	closed := s.closed
	cb := s.cb
	s.mu.Unlock()
	if !closed && cb != nil {
		cb(data)
	}
}

func (s *subscription) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
